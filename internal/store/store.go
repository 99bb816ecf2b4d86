package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] moves a journal from user_version i to i+1. schema.sql is
// always safe to re-run, so version 0 only needs the later additions.
var migrations = []string{
	`CREATE INDEX IF NOT EXISTS idx_attempts_end ON dispatch_attempts(end_region, run_id)`,
}

// journalPragmas favour a single writer with concurrent readers.
var journalPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is the dispatch journal.
// Uses SQLite with WAL mode so `yardcam history` can read while a run writes.
type Store struct {
	db    *sql.DB
	runID string
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRunID overrides the generated run id.
// Used by tests and the scenario harness for reproducible output.
func WithRunID(id string) Option {
	return func(s *Store) { s.runID = id }
}

// WithNow overrides the wall clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the journal at path and registers a new run in it.
// Pass ":memory:" for a throwaway journal.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := connect(path)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite has a single writer, and ":memory:" databases
	// live only as long as their connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		s.runID = id.String()
	}

	if err := s.registerRun(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// OpenReadOnly opens an existing journal for reading without registering a
// run. Used by `yardcam history`.
func OpenReadOnly(path string) (*Store, error) {
	db, err := connect("file:" + path + "?mode=ro")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunID returns the id of the run this Store writes under.
// Empty for read-only stores.
func (s *Store) RunID() string {
	return s.runID
}

func (s *Store) registerRun(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		s.runID, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("register run: %w", err)
	}
	return nil
}

func connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return db, nil
}

// prepare applies pragmas, the base schema and any pending migrations.
// Safe to run on every open.
func prepare(db *sql.DB) error {
	for _, p := range journalPragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read journal version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migrate journal to v%d: %w", v+1, err)
		}
	}
	if version < len(migrations) {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
			return fmt.Errorf("write journal version: %w", err)
		}
	}
	return nil
}

// verifyPragma reports a mismatch between a pragma and want. Tests only.
func (s *Store) verifyPragma(name, want string) error {
	var got string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("pragma %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("pragma %s = %q, want %q", name, got, want)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
