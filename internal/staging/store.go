// Package staging implements the per-session embedded staging store: one
// SQLite database file per import session, holding raw rows, the correction
// overlay, validation results, and match actions. Stores are isolated per
// session so concurrent imports never contend or leak data.
package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // database/sql driver registration
	_ "github.com/ncruces/go-sqlite3/embed"  // embedded SQLite binary

	"github.com/mhollis/crmport/internal/domain"
)

// schemaVersion is stamped into PRAGMA user_version; a mismatch on open means
// the on-disk store was written by an incompatible build.
const schemaVersion = 1

const dbFileName = "staging.db"

// ErrEmptyRow rejects a staged row whose raw data is empty. Enforced at the
// storage boundary, not just in application code.
var ErrEmptyRow = errors.New("staged row has empty raw data")

const storeSchema = `
CREATE TABLE IF NOT EXISTS session_meta (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	file_name TEXT NOT NULL,
	headers TEXT NOT NULL,
	mapping TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	row_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS staged_rows (
	row_number INTEGER PRIMARY KEY,
	raw TEXT NOT NULL,
	corrections TEXT NOT NULL DEFAULT '{}',
	validation TEXT NOT NULL DEFAULT '{}',
	match_action TEXT,
	match_entity_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_staged_rows_match_action
	ON staged_rows (match_action);
CREATE INDEX IF NOT EXISTS idx_staged_rows_has_validation
	ON staged_rows (validation) WHERE validation <> '{}';
`

// Store is the handle to one session's staging database. It is an owned
// resource with an explicit open/close lifecycle; every component that needs
// staged data receives the handle, never a global registry entry.
type Store struct {
	db   *sql.DB
	id   domain.SessionID
	dir  string
	path string
}

func storeDir(baseDir string, id domain.SessionID) string {
	return filepath.Join(baseDir, id.String())
}

func openDatabase(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A session store is only ever touched by one request at a time; a second
	// connection would just fight over the file lock.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Create allocates an empty store for a new session and persists its
// metadata. It fails with StorageInitError when the session directory cannot
// be created or a store with the same id already exists on disk.
func Create(ctx context.Context, baseDir string, session domain.Session) (*Store, error) {
	dir := storeDir(baseDir, session.ID)
	path := filepath.Join(dir, dbFileName)

	if _, err := os.Stat(path); err == nil {
		return nil, &domain.StorageInitError{
			SessionID: session.ID.String(),
			Err:       errors.New("store already exists"),
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &domain.StorageInitError{SessionID: session.ID.String(), Err: err}
	}

	db, err := openDatabase(path)
	if err != nil {
		return nil, &domain.StorageInitError{SessionID: session.ID.String(), Err: err}
	}

	store := &Store{db: db, id: session.ID, dir: dir, path: path}
	if err := store.initSchema(ctx, session); err != nil {
		_ = db.Close()
		_ = os.RemoveAll(dir)
		return nil, &domain.StorageInitError{SessionID: session.ID.String(), Err: err}
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context, session domain.Session) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, storeSchema); err != nil {
		return fmt.Errorf("failed to create staging schema: %w", err)
	}

	headers, err := json.Marshal(session.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	mapping, err := json.Marshal(session.Mapping)
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_meta (id, tenant_id, user_id, entity_type, file_name, headers, mapping, status, row_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID.String(),
		session.TenantID.String(),
		session.UserID.String(),
		session.EntityType,
		session.FileName,
		string(headers),
		string(mapping),
		string(session.Status),
		session.RowCount,
		session.CreatedAt.UTC().Format(time.RFC3339Nano),
		session.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to persist session metadata: %w", err)
	}
	return nil
}

// Load reopens an existing session store. An id that fails the strict format
// check or a store that does not exist both surface as ErrSessionNotFound; a
// schema-version mismatch is a StorageError.
func Load(ctx context.Context, baseDir string, rawID string) (*Store, error) {
	id, err := domain.ParseSessionID(rawID)
	if err != nil {
		return nil, err
	}

	dir := storeDir(baseDir, id)
	path := filepath.Join(dir, dbFileName)
	if _, err := os.Stat(path); err != nil {
		return nil, domain.ErrSessionNotFound
	}

	db, err := openDatabase(path)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	if version != schemaVersion {
		_ = db.Close()
		return nil, &domain.StorageError{
			Op:  "open",
			Err: fmt.Errorf("incompatible staging schema version %d (want %d)", version, schemaVersion),
		}
	}

	return &Store{db: db, id: id, dir: dir, path: path}, nil
}

// SessionID returns the id this store belongs to.
func (s *Store) SessionID() domain.SessionID { return s.id }

// Sessions lists the session ids with staging storage under baseDir. Entries
// that do not parse as session ids are ignored rather than reported.
func Sessions(baseDir string) ([]domain.SessionID, error) {
	entries, err := os.ReadDir(baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "list sessions", Err: err}
	}
	var ids []domain.SessionID
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := domain.ParseSessionID(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Destroy idempotently deletes all storage for the session. Safe to call more
// than once; in-flight operations on other handles fail with session-not-found
// rather than corruption errors.
func (s *Store) Destroy() error {
	_ = s.Close()
	if err := os.RemoveAll(s.dir); err != nil {
		return &domain.StorageError{Op: "destroy", Err: err}
	}
	return nil
}

// wrap converts a storage failure into the pipeline error taxonomy. When the
// backing file has disappeared underneath us (destroyed session), callers get
// a not-found class error and are expected to retry or give up, not to treat
// it as corruption.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, statErr := os.Stat(s.path); os.IsNotExist(statErr) {
		return domain.ErrSessionNotFound
	}
	return &domain.StorageError{Op: op, Err: err}
}

// Exec runs an ad-hoc statement against this session's rows. The handle is
// scoped to exactly one session's database; no cross-session path exists.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("exec", err)
	}
	return res, nil
}

// Query runs an ad-hoc query scoped to this session's rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query", err)
	}
	return rows, nil
}

// QueryRow runs a single-row query scoped to this session's rows.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Session reads the persisted session metadata.
func (s *Store) Session(ctx context.Context) (domain.Session, error) {
	var (
		session   domain.Session
		id        string
		tenantID  string
		userID    string
		headers   string
		mapping   string
		status    string
		createdAt string
		updatedAt string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, entity_type, file_name, headers, mapping, status, row_count, created_at, updated_at
		 FROM session_meta LIMIT 1`,
	).Scan(&id, &tenantID, &userID, &session.EntityType, &session.FileName,
		&headers, &mapping, &status, &session.RowCount, &createdAt, &updatedAt)
	if err != nil {
		return domain.Session{}, s.wrap("read session", err)
	}

	session.ID = domain.SessionID(id)
	session.Status = domain.SessionStatus(status)
	if session.TenantID, err = parseUUID(tenantID); err != nil {
		return domain.Session{}, &domain.StorageError{Op: "read session", Err: err}
	}
	if session.UserID, err = parseUUID(userID); err != nil {
		return domain.Session{}, &domain.StorageError{Op: "read session", Err: err}
	}
	if err := json.Unmarshal([]byte(headers), &session.Headers); err != nil {
		return domain.Session{}, &domain.StorageError{Op: "read session", Err: err}
	}
	if err := json.Unmarshal([]byte(mapping), &session.Mapping); err != nil {
		return domain.Session{}, &domain.StorageError{Op: "read session", Err: err}
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return domain.Session{}, &domain.StorageError{Op: "read session", Err: err}
	}
	if session.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return domain.Session{}, &domain.StorageError{Op: "read session", Err: err}
	}
	return session, nil
}

// SaveMapping persists the column mapping and bumps the session status.
func (s *Store) SaveMapping(ctx context.Context, mapping domain.Mapping, status domain.SessionStatus) error {
	encoded, err := json.Marshal(mapping)
	if err != nil {
		return &domain.StorageError{Op: "save mapping", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE session_meta SET mapping = ?, status = ?, updated_at = ?`,
		string(encoded), string(status), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return s.wrap("save mapping", err)
}

// SetStatus persists a session status transition.
func (s *Store) SetStatus(ctx context.Context, status domain.SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE session_meta SET status = ?, updated_at = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return s.wrap("set status", err)
}
