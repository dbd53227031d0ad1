// Package store persists the catalog (titles, episodes) and per-user watch
// state in SQLite. Schema changes are applied with goose migrations embedded
// in the binary.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sentinel errors for entity lookups. Handlers map these onto HTTP statuses.
var (
	ErrTitleNotFound   = errors.New("title not found")
	ErrEpisodeNotFound = errors.New("episode not found")
	ErrRecordNotFound  = errors.New("watch record not found")
	ErrNotWatched      = errors.New("no watch history for title")
)

// Store wraps the SQLite database holding titles, episodes, watch records,
// ratings and watch sessions.
//
// All timestamps are written in UTC. SQLite compares TIMESTAMP columns as
// text, so a single zone for every writer keeps range queries correct.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating the file and parent directory if
// needed, and applies any pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Counts reports row counts for the status endpoint.
func (s *Store) Counts(ctx context.Context) (titles, episodes, watchRecords int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM titles`).Scan(&titles); err != nil {
		return 0, 0, 0, fmt.Errorf("counting titles: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&episodes); err != nil {
		return 0, 0, 0, fmt.Errorf("counting episodes: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM watch_records`).Scan(&watchRecords); err != nil {
		return 0, 0, 0, fmt.Errorf("counting watch records: %w", err)
	}
	return titles, episodes, watchRecords, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw string, dest interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// utc normalizes a timestamp before it is bound to a query parameter.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
