package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodLauncher starts one stealth page per session. Without a RemoteURL each
// session gets its own Chrome process. With one, all sessions share a single
// DevTools connection and each gets its own incognito context.
type RodLauncher struct {
	cfg     Config
	connect func(wsURL string) (*rod.Browser, error)

	mu     sync.Mutex
	remote *rod.Browser
}

// NewRodLauncher creates a RodLauncher.
func NewRodLauncher(cfg Config) *RodLauncher {
	cfg.defaults()
	return &RodLauncher{cfg: cfg, connect: connectRod}
}

func connectRod(wsURL string) (*rod.Browser, error) {
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// remoteBrowser returns the shared connection to the remote Chrome, dialing
// it on first use. A failed dial is not cached.
func (l *RodLauncher) remoteBrowser() (*rod.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote != nil {
		return l.remote, nil
	}
	b, err := l.connect(l.cfg.RemoteURL)
	if err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	l.remote = b
	l.cfg.Logger.Info("browser: connected to remote chrome", "url", l.cfg.RemoteURL)
	return b, nil
}

// dropRemote forgets b so the next Acquire dials again. Used when the
// connection stops answering.
func (l *RodLauncher) dropRemote(b *rod.Browser) {
	l.mu.Lock()
	if l.remote == b {
		l.remote = nil
	}
	l.mu.Unlock()
}

// Acquire launches (or reuses the connection to) Chrome and opens a stealth
// page.
func (l *RodLauncher) Acquire(ctx context.Context) (Session, error) {
	log := l.cfg.Logger
	s := &rodSession{cfg: l.cfg}

	var b *rod.Browser
	if l.cfg.RemoteURL != "" {
		root, err := l.remoteBrowser()
		if err != nil {
			return nil, err
		}
		// The remote Chrome is shared; isolate cookies and storage.
		inc, err := root.Incognito()
		if err != nil {
			l.dropRemote(root)
			return nil, fmt.Errorf("browser: incognito: %w", err)
		}
		s.ctxBrowser = inc
		b = inc
	} else {
		lnch := launcher.New().Context(ctx).Headless(l.cfg.Headless)
		if l.cfg.Bin != "" {
			lnch = lnch.Bin(l.cfg.Bin)
		}
		lnch = lnch.Set("disable-blink-features", "AutomationControlled")

		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		s.lnch = lnch

		root, err := l.connect(u)
		if err != nil {
			s.Release()
			return nil, fmt.Errorf("browser: connect: %w", err)
		}
		s.root = root
		b = root
	}

	page, err := stealth.Page(b)
	if err != nil {
		s.Release()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	s.page = page

	if l.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: l.cfg.UserAgent}); err != nil {
			log.Warn("browser: set user agent failed", "error", err)
		}
	}
	if len(l.cfg.ResourceBlocking) > 0 {
		s.hijack = applyResourceBlocking(page, l.cfg.ResourceBlocking)
	}

	log.Debug("browser: session acquired", "driver", "rod", "remote", l.cfg.RemoteURL != "")
	return s, nil
}

type rodSession struct {
	cfg        Config
	lnch       *launcher.Launcher
	root       *rod.Browser // own Chrome only; nil in remote mode
	ctxBrowser *rod.Browser // incognito context in remote mode
	page       *rod.Page
	hijack     *rod.HijackRouter

	once sync.Once
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	if err := s.page.Context(navCtx).Navigate(url); err != nil {
		return waitErr(ctx, fmt.Errorf("browser: navigate %s: %w", url, err))
	}
	if err := s.page.Context(navCtx).WaitLoad(); err != nil {
		s.cfg.Logger.Warn("browser: wait load", "url", url, "error", err)
	}
	return nil
}

func (s *rodSession) Find(ctx context.Context, loc Locator) (Element, error) {
	p := s.page.Context(ctx)
	var (
		has bool
		el  *rod.Element
		err error
	)
	if loc.Strategy == XPath {
		has, el, err = p.HasX(loc.Query)
	} else {
		has, el, err = p.Has(loc.Query)
	}
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrNotFound
	}
	return rodElement{el}, nil
}

func (s *rodSession) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	p := s.page.Context(ctx)
	var (
		els rod.Elements
		err error
	)
	if loc.Strategy == XPath {
		els, err = p.ElementsX(loc.Query)
	} else {
		els, err = p.Elements(loc.Query)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = rodElement{el}
	}
	return out, nil
}

func (s *rodSession) Await(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Element and ElementX retry until the node exists or the context ends.
	p := s.page.Context(waitCtx)
	var (
		el  *rod.Element
		err error
	)
	if loc.Strategy == XPath {
		el, err = p.ElementX(loc.Query)
	} else {
		el, err = p.Element(loc.Query)
	}
	if err != nil {
		return nil, waitErr(ctx, err)
	}
	return rodElement{el}, nil
}

func (s *rodSession) AwaitAll(ctx context.Context, loc Locator, timeout time.Duration) ([]Element, error) {
	if _, err := s.Await(ctx, loc, timeout); err != nil {
		return nil, err
	}
	return s.FindAll(ctx, loc)
}

func (s *rodSession) Release() error {
	var firstErr error
	s.once.Do(func() {
		if s.hijack != nil {
			_ = s.hijack.Stop()
		}
		if s.page != nil {
			if err := s.page.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.ctxBrowser != nil {
			if err := s.ctxBrowser.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		// Only a Chrome this session launched is closed; the shared remote
		// connection outlives every session.
		if s.root != nil {
			if err := s.root.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.lnch != nil {
			s.lnch.Cleanup()
		}
		s.cfg.Logger.Debug("browser: session released", "driver", "rod")
	})
	return firstErr
}

type rodElement struct {
	el *rod.Element
}

func (e rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}
