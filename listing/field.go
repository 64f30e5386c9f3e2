package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/igaboo/mark/browser"
)

// DefaultFieldTimeout bounds every awaited field probe.
const DefaultFieldTimeout = 10 * time.Second

// Fault classes attached to field diagnostics.
const (
	faultNotFound = "not_found"
	faultTimeout  = "timeout"
	faultExtract  = "extract"
)

// Extractor runs single-field probes against one session. A probe never
// returns an error: every fault degrades to a nil value plus a WARN line.
type Extractor struct {
	sess    browser.Session
	timeout time.Duration
	logger  *slog.Logger
	probes  atomic.Int64
}

// NewExtractor wraps sess. timeout <= 0 selects DefaultFieldTimeout.
func NewExtractor(sess browser.Session, timeout time.Duration, logger *slog.Logger) *Extractor {
	if timeout <= 0 {
		timeout = DefaultFieldTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{sess: sess, timeout: timeout, logger: logger}
}

// Probes returns how many field probes have run.
func (x *Extractor) Probes() int64 { return x.probes.Load() }

// Field finds one element and applies extract to it.
func (x *Extractor) Field(ctx context.Context, name string, loc browser.Locator,
	extract func(context.Context, browser.Element) (string, error), wait bool) *string {
	x.probes.Add(1)

	var (
		el  browser.Element
		err error
	)
	if wait {
		el, err = x.sess.Await(ctx, loc, x.timeout)
	} else {
		el, err = x.sess.Find(ctx, loc)
	}
	if err != nil {
		x.miss(ctx, name, loc, err)
		return nil
	}

	v, err := extract(ctx, el)
	if err != nil {
		x.miss(ctx, name, loc, err)
		return nil
	}
	return present(v)
}

// FieldList finds all matching elements and applies extract to the list.
func (x *Extractor) FieldList(ctx context.Context, name string, loc browser.Locator,
	extract func(context.Context, []browser.Element) (string, error), wait bool) *string {
	x.probes.Add(1)

	var (
		els []browser.Element
		err error
	)
	if wait {
		els, err = x.sess.AwaitAll(ctx, loc, x.timeout)
	} else {
		els, err = x.sess.FindAll(ctx, loc)
	}
	if err == nil && len(els) == 0 {
		err = browser.ErrNotFound
	}
	if err != nil {
		x.miss(ctx, name, loc, err)
		return nil
	}

	v, err := extract(ctx, els)
	if err != nil {
		x.miss(ctx, name, loc, err)
		return nil
	}
	return present(v)
}

func (x *Extractor) miss(ctx context.Context, name string, loc browser.Locator, err error) {
	x.logger.WarnContext(ctx, "listing: field unavailable",
		"field", name,
		"fault", faultClass(err),
		"locator", loc.Strategy.String(),
		"error", err)
}

func faultClass(err error) string {
	switch {
	case errors.Is(err, browser.ErrNotFound):
		return faultNotFound
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return faultTimeout
	default:
		return faultExtract
	}
}

// present turns extracted text into an optional value; blank means absent.
func present(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Any returns the first present candidate that passes validate. A nil
// validate accepts everything.
func Any(validate func(string) bool, candidates ...*string) *string {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if validate == nil || validate(*c) {
			return c
		}
		slog.Debug("listing: candidate rejected by validation", "value", *c)
	}
	return nil
}

// OneOf builds a validator accepting exactly the given values.
func OneOf(values ...string) func(string) bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return func(s string) bool { return set[s] }
}

// nth returns els[i] or an error when the page has fewer elements.
func nth(els []browser.Element, i int) (browser.Element, error) {
	if i < 0 || i >= len(els) {
		return nil, fmt.Errorf("element %d requested, %d present", i, len(els))
	}
	return els[i], nil
}
