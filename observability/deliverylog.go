package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/igaboo/mark/dbopen"
	"github.com/igaboo/mark/delivery"
)

// DeliveryEntry is one row of the delivery log.
type DeliveryEntry struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	ChannelID     string    `json:"channel_id"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name,omitempty"`
	Outcome       string    `json:"outcome"`
	FinalState    string    `json:"final_state"`
	Attempts      int       `json:"attempts"`
	Reason        string    `json:"reason,omitempty"`
	Notified      bool      `json:"notified"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
}

func entryFromResult(r delivery.Result) *DeliveryEntry {
	return &DeliveryEntry{
		ID:            r.ID,
		URL:           r.URL,
		ChannelID:     r.ChannelID,
		RequesterID:   r.Requester.ID,
		RequesterName: r.Requester.Name,
		Outcome:       string(r.Outcome),
		FinalState:    r.State.String(),
		Attempts:      r.Attempts,
		Reason:        r.Reason,
		Notified:      r.Notified,
		StartedAt:     r.Started,
		DurationMs:    r.Duration.Milliseconds(),
	}
}

// DeliveryLog persists delivery results asynchronously. A failing store
// never blocks or fails a delivery.
type DeliveryLog struct {
	db     *sql.DB
	logger *slog.Logger
	every  time.Duration
	ch     chan *DeliveryEntry
	stop   chan struct{}
	done   chan struct{}
}

// DeliveryLogOption configures a DeliveryLog.
type DeliveryLogOption func(*DeliveryLog)

// WithFlushInterval sets how often queued rows are written. Default: 5s.
func WithFlushInterval(d time.Duration) DeliveryLogOption {
	return func(l *DeliveryLog) { l.every = d }
}

// WithDeliveryLogger sets the logger for store failures.
func WithDeliveryLogger(lg *slog.Logger) DeliveryLogOption {
	return func(l *DeliveryLog) { l.logger = lg }
}

// NewDeliveryLog creates an async delivery log. Recommended bufferSize: 256.
func NewDeliveryLog(db *sql.DB, bufferSize int, opts ...DeliveryLogOption) *DeliveryLog {
	l := &DeliveryLog{
		db:     db,
		logger: slog.Default(),
		every:  5 * time.Second,
		ch:     make(chan *DeliveryEntry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Record queues a result. Falls back to a synchronous insert if the buffer
// is full.
func (l *DeliveryLog) Record(ctx context.Context, r delivery.Result) {
	e := entryFromResult(r)
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("observability: delivery log buffer full, sync fallback", "delivery_id", e.ID)
		if _, err := (dbopen.Retry{Logger: l.logger}).Exec(context.WithoutCancel(ctx), l.db, insertDelivery, e.args()...); err != nil {
			l.logger.Error("observability: delivery log sync fallback failed", "delivery_id", e.ID, "error", err)
		}
	}
}

// Recent returns the latest deliveries, newest first. limit <= 0 means 50.
func (l *DeliveryLog) Recent(ctx context.Context, limit int) ([]DeliveryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT delivery_id, url, channel_id, requester_id, requester_name,
		       outcome, final_state, attempts, reason, notified, started_at, duration_ms
		FROM delivery_log
		ORDER BY started_at DESC, delivery_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query delivery log: %w", err)
	}
	defer rows.Close()

	var out []DeliveryEntry
	for rows.Next() {
		var e DeliveryEntry
		var name, reason sql.NullString
		var started int64
		if err := rows.Scan(&e.ID, &e.URL, &e.ChannelID, &e.RequesterID, &name,
			&e.Outcome, &e.FinalState, &e.Attempts, &reason, &e.Notified, &started, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan delivery entry: %w", err)
		}
		e.RequesterName = name.String
		e.Reason = reason.String
		e.StartedAt = time.UnixMilli(started)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of logged deliveries per outcome.
func (l *DeliveryLog) Counts(ctx context.Context) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM delivery_log GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retentionDays.
func (l *DeliveryLog) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := l.db.ExecContext(ctx, "DELETE FROM delivery_log WHERE started_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup delivery log: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (l *DeliveryLog) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

const insertDelivery = `INSERT OR REPLACE INTO delivery_log
	(delivery_id, url, channel_id, requester_id, requester_name,
	 outcome, final_state, attempts, reason, notified, started_at, duration_ms)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`

func (e *DeliveryEntry) args() []any {
	return []any{
		e.ID, e.URL, e.ChannelID, e.RequesterID, e.RequesterName,
		e.Outcome, e.FinalState, e.Attempts, e.Reason, e.Notified,
		e.StartedAt.UnixMilli(), e.DurationMs,
	}
}

func (l *DeliveryLog) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.every)
	defer ticker.Stop()
	batch := make([]*DeliveryEntry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := dbopen.Retry{Logger: l.logger}.Tx(ctx, l.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if _, err := tx.ExecContext(ctx, insertDelivery, e.args()...); err != nil {
					return fmt.Errorf("insert %s: %w", e.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			l.logger.Error("observability: delivery log flush", "rows", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

var _ delivery.Recorder = (*DeliveryLog)(nil)
