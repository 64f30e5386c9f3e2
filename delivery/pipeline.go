// Package delivery turns one listing link into one card in the channel.
//
// A delivery posts a placeholder card, extracts the listing, and edits the
// placeholder exactly once into either the rendered listing or a failure
// notice. When neither edit can happen the placeholder is deleted and the
// requester gets the link back in a direct message. The placeholder is
// never re-sent.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/connectivity"
	"github.com/igaboo/mark/idgen"
	"github.com/igaboo/mark/listing"
)

// DefaultRetries is the soft-failure budget: extra builds allowed when a
// page yields no key field.
const DefaultRetries = 5

// reasonExhausted is reported when every build came back without key fields.
const reasonExhausted = "Max retries reached."

// Builder extracts a listing. *listing.Builder satisfies it.
type Builder interface {
	Build(ctx context.Context, url string) (listing.Record, error)
}

// Recorder receives the outcome of every delivery.
type Recorder interface {
	Record(ctx context.Context, r Result)
}

// Pipeline runs deliveries against one platform connection.
type Pipeline struct {
	platform channels.Platform
	builder  Builder
	retries  int
	captions []string
	policy   connectivity.Policy
	recorder Recorder
	newID    idgen.Generator
	pick     func(n int) int
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetries sets the soft-failure budget. Default: 5.
func WithRetries(n int) Option { return func(p *Pipeline) { p.retries = n } }

// WithCaptions replaces DefaultCaptions.
func WithCaptions(c []string) Option { return func(p *Pipeline) { p.captions = c } }

// WithPolicy sets the rate-limit retry policy of platform calls.
func WithPolicy(pol connectivity.Policy) Option { return func(p *Pipeline) { p.policy = pol } }

// WithRecorder sets where results are recorded.
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithIDGenerator sets the delivery ID generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(p *Pipeline) { p.newID = gen } }

// WithCaptionPicker sets the caption chooser; it returns an index in [0,n).
func WithCaptionPicker(pick func(n int) int) Option { return func(p *Pipeline) { p.pick = pick } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New creates a Pipeline.
func New(platform channels.Platform, builder Builder, opts ...Option) *Pipeline {
	p := &Pipeline{
		platform: platform,
		builder:  builder,
		retries:  DefaultRetries,
		captions: DefaultCaptions,
		policy:   connectivity.DefaultPolicy(),
		newID:    idgen.Prefixed("dlv_", idgen.Default),
		pick:     rand.IntN,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.retries < 0 {
		p.retries = 0
	}
	if len(p.captions) == 0 {
		p.captions = DefaultCaptions
	}
	if p.policy.Logger == nil {
		p.policy.Logger = p.logger
	}
	return p
}

// Deliver runs one delivery to completion. It blocks for the whole
// extraction; callers that must stay responsive run it on its own
// goroutine. The returned Result is also passed to the Recorder.
func (p *Pipeline) Deliver(ctx context.Context, requester channels.User, channelID, url string) (res Result) {
	res = Result{
		ID:        p.newID(),
		URL:       url,
		ChannelID: channelID,
		Requester: requester,
		State:     StateInit,
		Started:   time.Now(),
	}
	log := p.logger.With("delivery_id", res.ID, "url", url, "channel_id", channelID, "requester", requester.ID)
	defer func() {
		res.Duration = time.Since(res.Started)
		if p.recorder != nil {
			p.recorder.Record(ctx, res)
		}
	}()

	caption := p.captions[p.pick(len(p.captions))]
	var ref channels.MessageRef
	err := p.retry(ctx, "send_card", func(ctx context.Context) error {
		r, err := p.platform.SendCard(ctx, channelID, Placeholder(requester, caption))
		ref = r
		return err
	})
	if err != nil {
		p.abort(ctx, &res, log, nil, err, err.Error())
		return res
	}
	res.State = StatePlaceholderSent
	log.Debug("delivery: placeholder sent", "message_id", ref.MessageID)

	budget := p.retries
	for {
		res.State = StateExtracting
		res.Attempts++
		rec, err := p.builder.Build(ctx, url)

		var f *listing.Failure
		switch {
		case err == nil && rec.HasKeyFields():
			res.State = StateRendered
			if err := p.edit(ctx, ref, Render(requester, rec)); err != nil {
				p.abort(ctx, &res, log, &ref, err, err.Error())
				return res
			}
			res.State = StateCommitted
			res.Outcome = OutcomeCommitted
			log.Info("delivery: committed", "attempts", res.Attempts)
			return res

		case errors.As(err, &f) && f.Terminal():
			res.Reason = f.Error()
			log.Error("delivery: listing unavailable",
				"state", res.State.String(), "attempts", res.Attempts,
				"reason", f.Reason.String(), "error", err)
			if err := p.edit(ctx, ref, FailureNotice(requester, url, res.Reason)); err != nil {
				p.abort(ctx, &res, log, &ref, err, err.Error())
				return res
			}
			res.State = StateAborted
			res.Outcome = OutcomeNotice
			return res
		}

		// Soft failure: no key fields, or a retryable page fault.
		if budget == 0 {
			p.abort(ctx, &res, log, &ref, err, reasonExhausted)
			return res
		}
		budget--
		res.State = StateRetryPending
		log.Warn("delivery: no key fields, retrying",
			"attempt", res.Attempts, "remaining", budget, "error", err)
	}
}

// edit commits the one and only edit of the placeholder.
func (p *Pipeline) edit(ctx context.Context, ref channels.MessageRef, c channels.Card) error {
	return p.retry(ctx, "edit_card", func(ctx context.Context) error {
		return p.platform.EditCard(ctx, ref, c)
	})
}

// abort cleans up the placeholder, if one was posted, and sends the link
// back to the requester. Cleanup failures are logged, never returned.
func (p *Pipeline) abort(ctx context.Context, res *Result, log *slog.Logger, ref *channels.MessageRef, cause error, reason string) {
	log.Error("delivery: aborted",
		"state", res.State.String(),
		"attempts", res.Attempts,
		"reason", reason,
		"error", cause)
	res.State = StateAborted
	res.Outcome = OutcomeFallback
	res.Reason = reason

	if ref != nil {
		err := p.retry(ctx, "delete", func(ctx context.Context) error {
			return p.platform.Delete(ctx, *ref)
		})
		if err != nil {
			log.Error("delivery: delete placeholder", "message_id", ref.MessageID, "error", err)
		}
	}

	text := FallbackText(res.URL, reason)
	err := p.retry(ctx, "send_direct", func(ctx context.Context) error {
		return p.platform.SendDirect(ctx, res.Requester.ID, text)
	})
	if err != nil {
		log.Error("delivery: direct notice", "error", err)
		return
	}
	res.Notified = true
}

func (p *Pipeline) retry(ctx context.Context, op string, call func(context.Context) error) error {
	return connectivity.Retry(ctx, op, p.policy, call)
}
