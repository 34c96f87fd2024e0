package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the embedded ACID relational store of spec.md §4.1. It wraps a
// single modernc.org/sqlite database file under $STATE_DIR (or ":memory:"
// in tests).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config tunes the underlying connection pool. sqlite allows only one
// writer at a time, so MaxOpenConns is capped low to avoid SQLITE_BUSY
// storms under concurrent Workers/Supervisor/API handlers.
type Config struct {
	Path         string
	MaxOpenConns int
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Open opens (creating if absent) the sqlite database at cfg.Path and runs
// any pending migrations. cfg.Path may be ":memory:" for tests.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", cfg.Path)
	} else {
		dsn = "file::memory:?cache=shared&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("store opened", "path", cfg.Path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for read-only, single-statement calls
// that don't need transactional isolation (e.g. List queries for the API).
func (s *Store) DB() *sql.DB {
	return s.db
}

// busyRetryLimit bounds Store.Transaction's internal retry on lock
// contention between goroutines sharing one *sql.DB handle (distinct from
// the Scheduler's own caller-level backoff on logical claim conflicts —
// see pkg/scheduler).
const busyRetryLimit = 5

// Transaction runs fn inside a transaction (a plain deferred BEGIN opened
// through BeginTx), committing on
// success and rolling back on error or panic. It retries up to
// busyRetryLimit times on SQLITE_BUSY (lock contention), per spec.md
// §4.1's "retries on serialization conflict up to N times before returning
// error".
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, q Queryer) error) error {
	var lastErr error
	for attempt := 0; attempt < busyRetryLimit; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("transaction: exhausted %d retries on lock contention: %w", busyRetryLimit, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, q Queryer) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback() //nolint:errcheck
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// HealthStatus reports basic pool/connectivity stats, mirroring the shape
// of the teacher's pkg/database/health.go.
type HealthStatus struct {
	Status          string `json:"status"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
}

// Health pings the database and reports pool stats.
func (s *Store) Health(ctx context.Context) HealthStatus {
	stats := s.db.Stats()
	status := "ok"
	if err := s.db.PingContext(ctx); err != nil {
		status = "unreachable"
	}
	return HealthStatus{
		Status:          status,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}
}
