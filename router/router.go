// Package router reacts to chat messages that carry a listing link: it
// removes the original message and starts a delivery for the first link.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/connectivity"
	"github.com/igaboo/mark/delivery"
)

// Deliverer runs one delivery. *delivery.Pipeline satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, requester channels.User, channelID, url string) delivery.Result
}

// URLFinder extracts listing links from text. *listing.Matcher satisfies it.
type URLFinder interface {
	FindURLs(text string) []string
}

// Router dispatches inbound messages. Intake is serial; deliveries run
// concurrently, one goroutine each.
type Router struct {
	platform  channels.Platform
	deliverer Deliverer
	urls      URLFinder
	policy    connectivity.Policy
	logger    *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
	handled  atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithPolicy sets the retry policy of the original-message delete.
func WithPolicy(p connectivity.Policy) Option { return func(r *Router) { r.policy = p } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

// New creates a Router.
func New(platform channels.Platform, deliverer Deliverer, urls URLFinder, opts ...Option) *Router {
	r := &Router{
		platform:  platform,
		deliverer: deliverer,
		urls:      urls,
		policy:    connectivity.DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.policy.Logger == nil {
		r.policy.Logger = r.logger
	}
	return r
}

// Run handles messages until ctx is done or msgs is closed, then waits for
// in-flight deliveries to finish.
func (r *Router) Run(ctx context.Context, msgs <-chan channels.Message) error {
	defer r.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			r.Handle(ctx, m)
		}
	}
}

// Handle processes one message. It returns whether a delivery started.
// Deleting the original and the delivery itself run in the background and
// are not cancelled by ctx.
func (r *Router) Handle(ctx context.Context, m channels.Message) bool {
	if m.Author.ID == "" || m.Author.ID == r.platform.Self() {
		return false
	}
	found := r.urls.FindURLs(m.Content)
	if len(found) == 0 {
		return false
	}
	url := found[0]
	log := r.logger.With("message_id", m.ID, "channel_id", m.ChannelID, "author", m.Author.ID)
	if len(found) > 1 {
		log.Debug("router: extra links ignored", "count", len(found)-1)
	}

	r.handled.Add(1)
	r.inFlight.Add(1)
	r.wg.Add(1)
	dctx := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		defer r.inFlight.Add(-1)
		defer func() {
			if p := recover(); p != nil {
				log.Error("router: delivery panicked", "url", url, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			}
		}()

		// Throttled deletes sleep here, off the intake loop.
		err := connectivity.Retry(dctx, "delete", r.policy, func(ctx context.Context) error {
			return r.platform.Delete(ctx, m.Ref())
		})
		if err != nil {
			log.Error("router: delete original message", "error", err)
		}

		res := r.deliverer.Deliver(dctx, m.Author, m.ChannelID, url)
		log.Info("router: delivery finished",
			"delivery_id", res.ID, "outcome", string(res.Outcome), "attempts", res.Attempts)
	}()
	return true
}

// InFlight returns the number of running deliveries.
func (r *Router) InFlight() int64 { return r.inFlight.Load() }

// Handled returns the number of deliveries started since New.
func (r *Router) Handled() int64 { return r.handled.Load() }

// Wait blocks until every started delivery has returned.
func (r *Router) Wait() { r.wg.Wait() }
