package listing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/igaboo/mark/browser"
)

// Builder extracts Records by driving one fresh browser session per build.
type Builder struct {
	launcher     browser.Launcher
	locators     Locators
	fieldTimeout time.Duration
	logger       *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLocators replaces DefaultLocators.
func WithLocators(l Locators) BuilderOption { return func(b *Builder) { b.locators = l } }

// WithFieldTimeout sets the bound of awaited field probes.
func WithFieldTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) { b.fieldTimeout = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) BuilderOption { return func(b *Builder) { b.logger = l } }

// NewBuilder creates a Builder that acquires sessions from launcher.
func NewBuilder(launcher browser.Launcher, opts ...BuilderOption) *Builder {
	b := &Builder{
		launcher:     launcher,
		locators:     DefaultLocators(),
		fieldTimeout: DefaultFieldTimeout,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build navigates to the normalized url and extracts a Record. The error is
// nil or a *Failure. A nil error with !HasKeyFields() is a soft failure the
// caller may retry.
func (b *Builder) Build(ctx context.Context, rawURL string) (Record, error) {
	url := NormalizeURL(rawURL)
	rec := NewRecord(url)
	start := time.Now()
	log := b.logger.With("url", url)

	sess, err := b.launcher.Acquire(ctx)
	if err != nil {
		return rec, pageFailure(err)
	}
	defer func() {
		if err := sess.Release(); err != nil {
			log.Warn("listing: release session", "error", err)
		}
	}()

	if err := sess.Navigate(ctx, url); err != nil {
		return rec, pageFailure(err)
	}

	if b.present(ctx, sess, b.locators.ListingRemoved) {
		log.Info("listing: listing removed marker present")
		return rec, &Failure{Reason: ReasonListingRemoved}
	}
	if b.present(ctx, sess, b.locators.LoginWall) {
		log.Info("listing: login wall marker present")
		return rec, &Failure{Reason: ReasonLoginWall}
	}

	x := NewExtractor(sess, b.fieldTimeout, log)
	for _, st := range b.locators.strategies() {
		candidates := make([]*string, 0, len(st.probes))
		for _, p := range st.probes {
			var v *string
			if p.many != nil {
				v = x.FieldList(ctx, st.field, p.loc, p.many, p.wait)
			} else {
				v = x.Field(ctx, st.field, p.loc, p.one, p.wait)
			}
			candidates = append(candidates, v)
		}
		// Values are the page's own text, kept verbatim.
		st.set(&rec, Any(st.validate, candidates...))
	}

	log.Info("listing: extracted",
		"has_key_fields", rec.HasKeyFields(),
		"probes", x.Probes(),
		"duration_ms", time.Since(start).Milliseconds())
	return rec, nil
}

// present probes a terminal marker. Lookup faults count as absent.
func (b *Builder) present(ctx context.Context, sess browser.Session, loc browser.Locator) bool {
	_, err := sess.Find(ctx, loc)
	if err != nil && !errors.Is(err, browser.ErrNotFound) {
		b.logger.Debug("listing: marker probe failed", "locator", loc.String(), "error", err)
	}
	return err == nil
}

func pageFailure(err error) *Failure {
	if errors.Is(err, browser.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Reason: ReasonTimeout, Detail: err.Error(), Cause: err}
	}
	return &Failure{Reason: ReasonUnknown, Detail: err.Error(), Cause: err}
}
