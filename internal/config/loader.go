package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/mhollis/crmport/internal/committer"
	"github.com/mhollis/crmport/internal/db"
)

// Config carries everything the server needs to start.
type Config struct {
	ServerAddr    string
	CORSOrigins   []string
	MaxUploadSize int64

	Database db.Config

	StagingDir string
	SessionTTL time.Duration

	PreviewSampleSize int

	CommitTimeout   time.Duration
	CommitAmbiguous committer.AmbiguousPolicy
	ReportDir       string

	MatchPublicDomains bool
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		ServerAddr:         ":8080",
		CORSOrigins:        []string{"http://localhost:3000"},
		MaxUploadSize:      25 << 20,
		Database:           db.DefaultConfig(),
		StagingDir:         "./data/staging",
		SessionTTL:         24 * time.Hour,
		PreviewSampleSize:  25,
		CommitTimeout:      30 * time.Minute,
		CommitAmbiguous:    committer.AmbiguousSkip,
		ReportDir:          "./data/reports",
		MatchPublicDomains: false,
	}
}

// Load reads config.yaml from configPath and applies environment overrides
// with the CRMPORT_ prefix (e.g. CRMPORT_SERVER_ADDR, CRMPORT_DATABASE_HOST).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CRMPORT")

	v.BindEnv("server.addr")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("staging.dir")
	v.BindEnv("staging.ttl")
	v.BindEnv("commit.timeout")
	v.BindEnv("commit.ambiguous")
	v.BindEnv("commit.report_dir")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("server.addr") {
		cfg.ServerAddr = v.GetString("server.addr")
	}
	if v.IsSet("server.cors_origins") {
		cfg.CORSOrigins = v.GetStringSlice("server.cors_origins")
	}
	if v.IsSet("server.max_upload_size") {
		cfg.MaxUploadSize = v.GetInt64("server.max_upload_size")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("staging.dir") {
		cfg.StagingDir = v.GetString("staging.dir")
	}
	if v.IsSet("staging.ttl") {
		cfg.SessionTTL = v.GetDuration("staging.ttl")
	}

	if v.IsSet("preview.sample_size") {
		cfg.PreviewSampleSize = v.GetInt("preview.sample_size")
	}

	if v.IsSet("commit.timeout") {
		cfg.CommitTimeout = v.GetDuration("commit.timeout")
	}
	if v.IsSet("commit.ambiguous") {
		policy, err := committer.ParseAmbiguousPolicy(v.GetString("commit.ambiguous"))
		if err != nil {
			return Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.CommitAmbiguous = policy
	}
	if v.IsSet("commit.report_dir") {
		cfg.ReportDir = v.GetString("commit.report_dir")
	}

	if v.IsSet("matching.public_domains") {
		cfg.MatchPublicDomains = v.GetBool("matching.public_domains")
	}

	return cfg, nil
}
