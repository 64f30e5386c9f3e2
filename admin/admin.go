// Package admin serves the operator HTTP surface of the daemon: liveness,
// connection status, in-flight deliveries and the recent delivery log.
//
//	GET /healthz
//	GET /status
//	GET /deliveries?limit=N
//	GET /extract?url=...
package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/idgen"
	"github.com/igaboo/mark/listing"
	"github.com/igaboo/mark/observability"
)

// StatusSource reports the chat connection state. channels.Platform
// satisfies it.
type StatusSource interface {
	Status() channels.Status
}

// Counter exposes delivery counters. *router.Router satisfies it.
type Counter interface {
	InFlight() int64
	Handled() int64
}

// DeliveryLog is the read side of the delivery log.
type DeliveryLog interface {
	Recent(ctx context.Context, limit int) ([]observability.DeliveryEntry, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// Extractor runs one listing extraction on demand.
type Extractor interface {
	Build(ctx context.Context, url string) (listing.Record, error)
}

// URLFinder accepts listing links. *listing.Matcher satisfies it.
type URLFinder interface {
	FindURLs(text string) []string
}

// Server holds the dependencies of the admin handlers. Any of them may be
// nil; the matching endpoint then reports it as unavailable.
type Server struct {
	platform  StatusSource
	counter   Counter
	log       DeliveryLog
	extractor Extractor
	urls      URLFinder
	db        *sql.DB
	worker    string
	logger    *slog.Logger
	started   time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithPlatform reports the chat connection in /status. A disconnected
// platform turns /status into a 503.
func WithPlatform(p StatusSource) Option { return func(s *Server) { s.platform = p } }

// WithCounter reports in-flight and handled deliveries in /status.
func WithCounter(c Counter) Option { return func(s *Server) { s.counter = c } }

// WithDeliveryLog enables /deliveries.
func WithDeliveryLog(l DeliveryLog) Option {
	return func(s *Server) { s.log = l }
}

// WithExtractor enables /extract. When urls is non-nil only links it
// accepts are browsed.
func WithExtractor(x Extractor, urls URLFinder) Option {
	return func(s *Server) { s.extractor, s.urls = x, urls }
}

// WithHeartbeats reports the latest heartbeat of worker from db.
func WithHeartbeats(db *sql.DB, worker string) Option {
	return func(s *Server) { s.db, s.worker = db, worker }
}

// WithLogger sets the base logger for request logs. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a Server.
func New(opts ...Option) *Server {
	s := &Server{logger: slog.Default(), started: time.Now()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the chi router serving the admin endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Use(NoSniff)
	r.Use(RequestID(s.logger, idgen.Prefixed("req_", idgen.Default)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/deliveries", s.handleDeliveries)
	r.Get("/extract", s.handleExtract)
	return r
}

type statusResponse struct {
	Uptime    string                  `json:"uptime"`
	Platform  *channels.Status        `json:"platform,omitempty"`
	InFlight  int64                   `json:"in_flight"`
	Handled   int64                   `json:"handled"`
	Heartbeat *observability.Liveness `json:"heartbeat,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.platform != nil {
		st := s.platform.Status()
		resp.Platform = &st
	}
	if s.counter != nil {
		resp.InFlight = s.counter.InFlight()
		resp.Handled = s.counter.Handled()
	}
	if s.db != nil {
		hs, err := observability.LatestBeat(r.Context(), s.db, s.worker, time.Minute)
		if err != nil {
			GetLogger(r.Context()).Error("admin: latest heartbeat", "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Heartbeat = hs
	}
	code := http.StatusOK
	if resp.Platform != nil && !resp.Platform.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		writeError(w, http.StatusNotFound, errors.New("delivery log disabled"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be in 1..500"))
			return
		}
		limit = n
	}
	recent, err := s.log.Recent(r.Context(), limit)
	if err != nil {
		GetLogger(r.Context()).Error("admin: recent deliveries", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counts, err := s.log.Counts(r.Context())
	if err != nil {
		GetLogger(r.Context()).Error("admin: delivery counts", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recent == nil {
		recent = []observability.DeliveryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "recent": recent})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		writeError(w, http.StatusNotFound, errors.New("extraction disabled"))
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	if s.urls != nil {
		found := s.urls.FindURLs(url)
		if len(found) == 0 {
			writeError(w, http.StatusBadRequest, errors.New("url is not a listing link"))
			return
		}
		url = found[0]
	}
	rec, err := s.extractor.Build(r.Context(), url)
	if err != nil {
		var f *listing.Failure
		if errors.As(err, &f) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"reason": f.Reason.String(),
				"error":  f.Error(),
			})
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec, "has_key_fields": rec.HasKeyFields()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
