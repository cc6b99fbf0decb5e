// Package store persists token rows, snapshots and scan history in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/enricher/internal/token"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound is returned when a token does not exist.
	ErrNotFound = errors.New("store: token not found")
	// ErrDatabaseMissing is returned by Open when the file is absent and
	// creation was not requested.
	ErrDatabaseMissing = errors.New("store: database file does not exist")
)

// Options configures Open.
type Options struct {
	// Create allows Open to create a missing database file.
	Create bool

	// BusyTimeout is how long SQLite waits on a locked database. Default 5s.
	BusyTimeout time.Duration

	// MaxOpenConns bounds the pool. Default 4.
	MaxOpenConns int

	// Weights drive the invest score recomputed after every write.
	Weights token.ScoreWeights

	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Store is the SQLite-backed token store. Connections are acquired per
// operation and never held across network calls.
type Store struct {
	db      *sql.DB
	path    string
	weights token.ScoreWeights
	now     func() time.Time

	mu        sync.Mutex
	lastStamp time.Time
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty database path")
	}
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: stat %s: %w", path, err)
		}
		if !opts.Create {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseMissing, path)
		}
	}

	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}
	if opts.Weights == (token.ScoreWeights{}) {
		opts.Weights = token.DefaultScoreWeights()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate&_synchronous=NORMAL",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		path:    path,
		weights: opts.Weights,
		now:     opts.Now,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("store: database opened")
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies all embedded SQL files in lexical order. Every file is
// idempotent.
func (s *Store) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	return s.withConn(ctx, func(conn *sql.Conn) error {
		for _, file := range files {
			data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
			if err != nil {
				return fmt.Errorf("store: read migration %s: %w", file, err)
			}
			if strings.TrimSpace(string(data)) == "" {
				continue
			}
			if _, err := conn.ExecContext(ctx, string(data)); err != nil {
				return fmt.Errorf("store: apply migration %s: %w", file, err)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Scoped connection helpers
// ---------------------------------------------------------------------------

// execer is satisfied by *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withConn acquires one connection for fn and always releases it.
func (s *Store) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("store: acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// withTx runs fn in a transaction on a scoped connection. Any error from fn
// rolls the transaction back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Warn().Err(rbErr).Msg("store: rollback failed")
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit: %w", err)
		}
		return nil
	})
}

// stamp returns the current time, strictly after every stamp previously
// handed out by this store, at the persisted microsecond precision.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
