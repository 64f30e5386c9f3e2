package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// ChromedpLauncher opens one exec (or remote) allocator plus tab per session.
type ChromedpLauncher struct {
	cfg Config
}

// NewChromedpLauncher creates a ChromedpLauncher.
func NewChromedpLauncher(cfg Config) *ChromedpLauncher {
	cfg.defaults()
	return &ChromedpLauncher{cfg: cfg}
}

// Acquire starts the allocator and the tab. Chrome itself starts lazily on
// the first action, so a no-op Run forces the launch here.
func (l *ChromedpLauncher) Acquire(ctx context.Context) (Session, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	// Sessions outlive the acquiring request context; Release ends them.
	base := context.WithoutCancel(ctx)
	if l.cfg.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(base, l.cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", l.cfg.Headless),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(1440, 900),
		)
		if l.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
		}
		if l.cfg.Bin != "" {
			opts = append(opts, chromedp.ExecPath(l.cfg.Bin))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(base, opts...)
	}

	log := l.cfg.Logger
	tab, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug("browser: chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)
	s := &chromedpSession{cfg: l.cfg, tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	if err := s.run(ctx, chromedp.ActionFunc(func(context.Context) error { return nil })); err != nil {
		s.Release()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}
	log.Debug("browser: session acquired", "driver", "chromedp", "remote", l.cfg.RemoteURL != "")
	return s, nil
}

type chromedpSession struct {
	cfg         Config
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	once sync.Once
}

// run executes actions on the tab while honouring ctx's cancellation and
// deadline. Cancelling a child of the tab context leaves the tab open.
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func by(loc Locator) chromedp.QueryOption {
	if loc.Strategy == XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return waitErr(ctx, fmt.Errorf("browser: navigate %s: %w", url, err))
	}
	return nil
}

func (s *chromedpSession) nodes(ctx context.Context, loc Locator, wait bool) ([]Element, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{by(loc)}
	if !wait {
		opts = append(opts, chromedp.AtLeast(0))
	}
	if err := s.run(ctx, chromedp.Nodes(loc.Query, &nodes, opts...)); err != nil {
		return nil, err
	}
	out := make([]Element, len(nodes))
	for i, n := range nodes {
		out[i] = chromedpElement{s: s, node: n}
	}
	return out, nil
}

func (s *chromedpSession) Find(ctx context.Context, loc Locator) (Element, error) {
	els, err := s.nodes(ctx, loc, false)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, ErrNotFound
	}
	return els[0], nil
}

func (s *chromedpSession) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	return s.nodes(ctx, loc, false)
}

func (s *chromedpSession) Await(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	els, err := s.AwaitAll(ctx, loc, timeout)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

func (s *chromedpSession) AwaitAll(ctx context.Context, loc Locator, timeout time.Duration) ([]Element, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	els, err := s.nodes(waitCtx, loc, true)
	if err != nil {
		return nil, waitErr(ctx, err)
	}
	if len(els) == 0 {
		return nil, ErrNotFound
	}
	return els, nil
}

func (s *chromedpSession) Release() error {
	s.once.Do(func() {
		s.cancelTab()
		s.cancelAlloc()
		s.cfg.Logger.Debug("browser: session released", "driver", "chromedp")
	})
	return nil
}

type chromedpElement struct {
	s    *chromedpSession
	node *cdp.Node
}

func (e chromedpElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.s.run(ctx, chromedp.Text([]cdp.NodeID{e.node.NodeID}, &text, chromedp.ByNodeID))
	return text, err
}

func (e chromedpElement) Attribute(_ context.Context, name string) (string, bool, error) {
	attrs := e.node.Attributes
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == name {
			return attrs[i+1], true, nil
		}
	}
	return "", false, nil
}
