package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Defaults for Retry.
const (
	DefaultAttempts = 4
	DefaultBackoff  = 50 * time.Millisecond
	maxBackoff      = 2 * time.Second
)

// IsBusy reports whether err carries SQLITE_BUSY or SQLITE_LOCKED, including
// their extended codes.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Retry re-runs writes that lost the database lock. The zero value uses the
// defaults.
type Retry struct {
	// Attempts is the total number of tries, first one included.
	Attempts int
	// Backoff is the first wait; it doubles per retry up to 2s.
	Backoff time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger gets one WARN line per retry. Nil uses slog.Default().
	Logger *slog.Logger
}

// Tx runs fn inside a transaction, starting over when the lock is lost.
func (r Retry) Tx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return r.do(ctx, "tx", func() error { return runOnce(ctx, db, fn) })
}

// Exec runs a single statement, retrying while the database is busy.
func (r Retry) Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := r.do(ctx, "exec", func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (r Retry) do(ctx context.Context, op string, call func() error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	wait := r.Backoff
	if wait <= 0 {
		wait = DefaultBackoff
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("dbopen: %s: busy after %d attempts: %w", op, attempts, err)
		}
		logger.WarnContext(ctx, "dbopen: database busy, retrying",
			"op", op,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds())
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("dbopen: %s: %w", op, err)
		}
		wait = min(wait*2, maxBackoff)
	}
}

// RunTx is Retry{}.Tx.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return Retry{}.Tx(ctx, db, fn)
}

// Exec is Retry{}.Exec.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return Retry{}.Exec(ctx, db, query, args...)
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
