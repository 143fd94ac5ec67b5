package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mhollis/crmport/internal/committer"
	"github.com/mhollis/crmport/internal/config"
	"github.com/mhollis/crmport/internal/db"
	"github.com/mhollis/crmport/internal/repository"
	"github.com/mhollis/crmport/internal/server"
	"github.com/mhollis/crmport/internal/session"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	entities := repository.NewEntityRepository(conn)

	commits := committer.NewService(entities, log,
		committer.WithReportDirectory(cfg.ReportDir),
		committer.WithJobTimeout(cfg.CommitTimeout),
		committer.WithAmbiguousPolicy(cfg.CommitAmbiguous),
	)

	sessionOpts := []session.Option{
		session.WithTTL(cfg.SessionTTL),
		session.WithPreviewSampleSize(cfg.PreviewSampleSize),
	}
	if cfg.MatchPublicDomains {
		sessionOpts = append(sessionOpts, session.WithPublicDomainMatching(true))
	}
	sessions := session.NewService(cfg.StagingDir, entities, commits, log, sessionOpts...)
	sessions.StartJanitor(ctx, time.Hour)

	api := server.New(sessions, log,
		server.WithMaxUploadSize(cfg.MaxUploadSize),
		server.WithCORSOrigins(cfg.CORSOrigins),
	)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Starting import server on %s", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
