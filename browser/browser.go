// Package browser is the narrow automation boundary the listing extractor
// drives: navigate, query elements (optionally waiting for them), release.
//
// Three drivers implement it. Rod (default) and chromedp drive a real Chrome,
// one dedicated process or incognito context per session. The static driver
// serves a saved HTML document and backs page fixtures in tests and the
// listingprobe -html mode.
//
//	l, err := browser.New(cfg, logger)
//	s, err := l.Acquire(ctx)
//	defer s.Release()
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Strategy selects the query language of a Locator.
type Strategy int

const (
	CSS   Strategy = iota // document.querySelectorAll syntax
	XPath                 // XPath 1.0 expression
)

// String returns "css" or "xpath".
func (s Strategy) String() string {
	if s == XPath {
		return "xpath"
	}
	return "css"
}

// Locator identifies a DOM query.
type Locator struct {
	Strategy Strategy
	Query    string
}

// ByCSS builds a CSS locator.
func ByCSS(q string) Locator { return Locator{Strategy: CSS, Query: q} }

// ByXPath builds an XPath locator.
func ByXPath(q string) Locator { return Locator{Strategy: XPath, Query: q} }

func (l Locator) String() string { return l.Strategy.String() + ":" + l.Query }

var (
	// ErrNotFound is returned by Find and Await when nothing matches.
	ErrNotFound = errors.New("browser: element not found")
	// ErrTimeout is returned by Await and AwaitAll when the wait elapses.
	ErrTimeout = errors.New("browser: wait timed out")
)

// Element is a handle on one matched DOM node.
type Element interface {
	// Text returns the rendered text content of the node.
	Text(ctx context.Context) (string, error)
	// Attribute returns the named attribute and whether it is set.
	Attribute(ctx context.Context, name string) (string, bool, error)
}

// Session is one browser page owned by a single extraction.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Find queries immediately. ErrNotFound when nothing matches.
	Find(ctx context.Context, loc Locator) (Element, error)
	// FindAll queries immediately. An empty slice is not an error.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	// Await polls until the element appears or timeout elapses.
	Await(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)
	// AwaitAll polls until at least one element appears, then returns all matches.
	AwaitAll(ctx context.Context, loc Locator, timeout time.Duration) ([]Element, error)
	// Release tears the session down. Safe to call more than once.
	Release() error
}

// Launcher hands out fresh, unshared sessions.
type Launcher interface {
	Acquire(ctx context.Context) (Session, error)
}

// Config configures the live drivers.
type Config struct {
	// Driver is "rod" (default) or "chromedp".
	Driver string

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome per session.
	RemoteURL string

	// Bin overrides the Chrome binary path.
	Bin string

	Headless  bool
	UserAgent string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// NavigateTimeout bounds navigation plus page load. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Driver == "" {
		c.Driver = "rod"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New returns the Launcher for cfg.Driver.
func New(cfg Config) (Launcher, error) {
	cfg.defaults()
	switch cfg.Driver {
	case "rod":
		return NewRodLauncher(cfg), nil
	case "chromedp":
		return NewChromedpLauncher(cfg), nil
	default:
		return nil, fmt.Errorf("browser: unknown driver %q", cfg.Driver)
	}
}

// waitErr maps a context error from a bounded wait onto ErrTimeout or
// ErrNotFound, keeping cancellation of the parent visible.
func waitErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
