package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	schemaLockTimeout       = 10 * time.Second
)

// DB wraps the SQLite handle with busy retries.
type DB struct {
	conn *sql.DB
	path string
}

// Open initializes or connects to the database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	ctx = ensureContext(ctx)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchemaLocked(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// dsn applies pragmas to every pooled connection and makes transactions take
// the write lock at BEGIN.
func dsn(path string) string {
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
	}
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

// initSchemaLocked holds an exclusive lock file next to the database while
// the schema is checked or created.
func (d *DB) initSchemaLocked(ctx context.Context) error {
	lock := flock.New(d.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, schemaLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if !locked {
		return errors.New("acquire schema lock: timed out")
	}
	defer func() { _ = lock.Unlock() }()
	return d.initSchema(ctx)
}

// Conn exposes the underlying handle for read queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// Health verifies the database answers queries.
func (d *DB) Health(ctx context.Context) error {
	ctx = ensureContext(ctx)
	var one int
	if err := d.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health: %w", err)
	}
	return nil
}

// Exec runs a statement, retrying while SQLite reports the database busy.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = d.conn.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// WithTx runs fn inside a transaction. The whole transaction is retried when
// SQLite reports the database busy, so fn must not have side effects outside
// the transaction.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := d.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// IsBusy reports whether err is SQLite's busy/locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
