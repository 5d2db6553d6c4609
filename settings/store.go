package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settings_version ON settings(version);
`

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("settings: store closed")

// Options tunes Open.
type Options struct {
	// BusyTimeout is PRAGMA busy_timeout. Default: 10s.
	BusyTimeout time.Duration
	// Interval is the OnChange polling period. Default: 500ms.
	Interval time.Duration
	// Debounce is the quiet period OnChange waits after a change. Default: 0.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 10 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store is the SQLite-backed settings collaborator. It is safe for
// concurrent use.
type Store struct {
	db   *sql.DB
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// Open opens (creating if needed) the settings database at path with WAL
// journaling. ":memory:" is accepted and pinned to one connection.
func Open(path string, opts Options) (*Store, error) {
	opts.defaults()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("settings: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("settings: %s: %w", p, err)
		}
	}
	s, err := New(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database and creates the schema.
func New(db *sql.DB, opts Options) (*Store, error) {
	opts.defaults()
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	return &Store{db: db, opts: opts, log: opts.Logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read returns the stored settings layered over Defaults.
func (s *Store) Read(ctx context.Context) (Settings, error) {
	out := Defaults()
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return out, fmt.Errorf("settings: read: %w", wrapClosed(err))
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return out, fmt.Errorf("settings: scan: %w", err)
		}
		if err := decode(&out, key, []byte(value)); err != nil {
			// A corrupt value keeps its default.
			s.log.Warn("settings: ignoring stored value", "key", key, "error", err)
		}
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("settings: read: %w", err)
	}
	return out.Normalize(), nil
}

// Update merges p into the stored settings and returns the result. All
// keys written by one call share one version.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	vals := p.values()
	if len(vals) == 0 {
		return s.Read(ctx)
	}
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		var version int64
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) + 1 FROM settings").Scan(&version); err != nil {
			return fmt.Errorf("settings: next version: %w", err)
		}
		now := s.now().UnixMilli()
		for key, v := range vals {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("settings: encode %s: %w", key, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO settings (key, value, version, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value,
					version = excluded.version, updated_at = excluded.updated_at`,
				key, string(raw), version, now)
			if err != nil {
				return fmt.Errorf("settings: upsert %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	s.log.Info("settings: updated", "keys", len(vals))
	return s.Read(ctx)
}

// Reset writes Defaults over every key.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.Update(ctx, PatchFrom(Defaults()))
	return err
}

// Version returns the highest stored version, 0 when nothing was written.
func (s *Store) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM settings").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("settings: version: %w", wrapClosed(err))
	}
	return v, nil
}

const maxRetries = 3

// runTx runs fn in a transaction, retrying on SQLITE_BUSY with a linear
// backoff.
func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for i := range maxRetries {
		if err = s.txOnce(ctx, fn); err == nil || !isBusy(err) {
			return err
		}
		s.log.Debug("settings: database busy, retrying", "attempt", i+1)
		select {
		case <-ctx.Done():
			return fmt.Errorf("settings: retry: %w", ctx.Err())
		case <-time.After(time.Duration(100*(i+1)) * time.Millisecond):
		}
	}
	return err
}

func (s *Store) txOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settings: begin: %w", wrapClosed(err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("settings: commit: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func wrapClosed(err error) error {
	if strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}
