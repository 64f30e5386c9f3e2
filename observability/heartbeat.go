package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/igaboo/mark/dbopen"
)

// Counters is the router's view of delivery progress.
type Counters interface {
	InFlight() int64
	Handled() int64
}

// Heartbeat periodically records that the bot is alive and how busy it is.
type Heartbeat struct {
	db       *sql.DB
	worker   string
	host     string
	pid      int
	every    time.Duration
	counters Counters
	logger   *slog.Logger
}

// HeartbeatOption configures a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithBeatInterval sets the time between beats. Default: 15s.
func WithBeatInterval(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) { h.every = d }
}

// WithCounters attaches the delivery counters reported in each beat.
func WithCounters(c Counters) HeartbeatOption {
	return func(h *Heartbeat) { h.counters = c }
}

// WithHeartbeatLogger sets the logger for failed writes.
func WithHeartbeatLogger(lg *slog.Logger) HeartbeatOption {
	return func(h *Heartbeat) { h.logger = lg }
}

// NewHeartbeat creates a heartbeat for worker. Nothing is written until Beat
// or Run.
func NewHeartbeat(db *sql.DB, worker string, opts ...HeartbeatOption) *Heartbeat {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	h := &Heartbeat{
		db:     db,
		worker: worker,
		host:   host,
		pid:    os.Getpid(),
		every:  15 * time.Second,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Beat writes one row.
func (h *Heartbeat) Beat(ctx context.Context) error {
	var inFlight, handled int64
	if h.counters != nil {
		inFlight, handled = h.counters.InFlight(), h.counters.Handled()
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_, err := dbopen.Retry{Logger: h.logger}.Exec(ctx, h.db, `
		INSERT INTO heartbeats (worker, host, pid, beat_at, in_flight, handled, goroutines, heap_mb)
		VALUES (?,?,?,?,?,?,?,?)`,
		h.worker, h.host, h.pid, time.Now().UnixMilli(),
		inFlight, handled, runtime.NumGoroutine(), float64(mem.HeapAlloc)/(1<<20))
	if err != nil {
		return fmt.Errorf("observability: heartbeat: %w", err)
	}
	return nil
}

// Run beats once immediately and then every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	t := time.NewTicker(h.every)
	defer t.Stop()
	for {
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("observability: heartbeat write failed", "worker", h.worker, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Liveness is the latest beat of a worker.
type Liveness struct {
	Worker     string    `json:"worker"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	At         time.Time `json:"at"`
	InFlight   int64     `json:"in_flight"`
	Handled    int64     `json:"handled"`
	Goroutines int       `json:"goroutines"`
	HeapMB     float64   `json:"heap_mb"`
	// Alive is false once the beat is older than the staleness threshold.
	Alive bool `json:"alive"`
}

// LatestBeat returns the newest beat of worker, or nil if it never beat.
// A beat older than stale marks the worker as not alive.
func LatestBeat(ctx context.Context, db *sql.DB, worker string, stale time.Duration) (*Liveness, error) {
	var lv Liveness
	var at int64
	err := db.QueryRowContext(ctx, `
		SELECT worker, host, pid, beat_at, in_flight, handled, goroutines, heap_mb
		FROM heartbeats WHERE worker = ?
		ORDER BY beat_at DESC LIMIT 1`, worker).
		Scan(&lv.Worker, &lv.Host, &lv.PID, &at, &lv.InFlight, &lv.Handled, &lv.Goroutines, &lv.HeapMB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest beat: %w", err)
	}
	lv.At = time.UnixMilli(at)
	lv.Alive = time.Since(lv.At) <= stale
	return &lv, nil
}

// CleanupHeartbeats deletes beats older than retentionDays.
func CleanupHeartbeats(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := dbopen.Exec(ctx, db, `DELETE FROM heartbeats WHERE beat_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup heartbeats: %w", err)
	}
	return res.RowsAffected()
}
