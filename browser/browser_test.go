package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
)

const page = `<!DOCTYPE html>
<html>
<head><meta property="og:title" content="2012 Honda Civic"></head>
<body>
<div id="panel">
  <div class="row">first</div>
  <div class="row">second</div>
</div>
<img class="hero" src="https://cdn.example/1.jpg">
</body>
</html>`

func acquire(t *testing.T) Session {
	t.Helper()
	s, err := NewStaticLauncher([]byte(page)).Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	t.Cleanup(func() { s.Release() })
	return s
}

func TestStatic_FindCSS(t *testing.T) {
	s := acquire(t)
	ctx := context.Background()

	el, err := s.Find(ctx, ByCSS(`meta[property="og:title"]`))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	v, ok, err := el.Attribute(ctx, "content")
	if err != nil || !ok {
		t.Fatalf("attribute: ok=%v err=%v", ok, err)
	}
	if v != "2012 Honda Civic" {
		t.Errorf("content = %q", v)
	}

	if _, ok, _ := el.Attribute(ctx, "missing"); ok {
		t.Error("missing attribute reported present")
	}
}

func TestStatic_FindAllXPath(t *testing.T) {
	s := acquire(t)
	ctx := context.Background()

	els, err := s.FindAll(ctx, ByXPath(`//div[@id="panel"]/div`))
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(els) != 2 {
		t.Fatalf("len = %d, want 2", len(els))
	}
	text, _ := els[1].Text(ctx)
	if text != "second" {
		t.Errorf("text = %q, want second", text)
	}
}

func TestStatic_NotFound(t *testing.T) {
	s := acquire(t)
	ctx := context.Background()

	if _, err := s.Find(ctx, ByCSS("div.nope")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find err = %v, want ErrNotFound", err)
	}
	if _, err := s.Await(ctx, ByCSS("div.nope"), time.Second); !errors.Is(err, ErrNotFound) {
		t.Errorf("Await err = %v, want ErrNotFound", err)
	}
	if _, err := s.AwaitAll(ctx, ByCSS("div.nope"), time.Second); !errors.Is(err, ErrNotFound) {
		t.Errorf("AwaitAll err = %v, want ErrNotFound", err)
	}
	els, err := s.FindAll(ctx, ByCSS("div.nope"))
	if err != nil || len(els) != 0 {
		t.Errorf("FindAll = %d, %v; want empty, nil", len(els), err)
	}
}

func TestStatic_BadXPath(t *testing.T) {
	s := acquire(t)
	if _, err := s.FindAll(context.Background(), ByXPath(`//div[`)); err == nil {
		t.Error("expected error for malformed xpath")
	}
}

func TestStatic_NavigateAndRelease(t *testing.T) {
	l := NewStaticLauncher([]byte(page))
	s, _ := l.Acquire(context.Background())
	ss := s.(*StaticSession)

	if err := s.Navigate(context.Background(), "https://example.com/x"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if ss.URL != "https://example.com/x" {
		t.Errorf("URL = %q", ss.URL)
	}
	s.Release()
	s.Release()
	if !ss.Released() {
		t.Error("session not released")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Navigate(ctx, "https://example.com/y"); err == nil {
		t.Error("navigate on cancelled context should fail")
	}
}

func TestLoadStaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := LoadStaticFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, _ := l.Acquire(context.Background())
	if _, err := s.Find(context.Background(), ByCSS("img.hero")); err != nil {
		t.Errorf("find in loaded file: %v", err)
	}

	if _, err := LoadStaticFile(filepath.Join(t.TempDir(), "absent.html")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBlockedTypes(t *testing.T) {
	set := blockedTypes([]string{"Images", " fonts", "XHR"})
	for _, want := range []string{"image", "font", "xhr"} {
		if !set[want] {
			t.Errorf("expected %q blocked", want)
		}
	}
	if set["media"] || set["stylesheet"] {
		t.Error("unexpected types blocked")
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	if _, err := New(Config{Driver: "netscape"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	l, err := New(Config{})
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, ok := l.(*RodLauncher); !ok {
		t.Errorf("default launcher = %T, want *RodLauncher", l)
	}
}

func TestWaitErr(t *testing.T) {
	ctx := context.Background()
	if err := waitErr(ctx, context.DeadlineExceeded); !errors.Is(err, ErrTimeout) {
		t.Errorf("waitErr = %v, want ErrTimeout", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := waitErr(cancelled, context.DeadlineExceeded); !errors.Is(err, context.Canceled) {
		t.Errorf("waitErr on cancelled parent = %v, want Canceled", err)
	}
}

func TestRodLauncher_SharesRemoteConnection(t *testing.T) {
	l := NewRodLauncher(Config{RemoteURL: "ws://chrome.invalid/devtools/browser/x"})
	var mu sync.Mutex
	dials := 0
	l.connect = func(string) (*rod.Browser, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return rod.New(), nil
	}

	first, err := l.remoteBrowser()
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := l.remoteBrowser()
			if err != nil {
				t.Error(err)
				return
			}
			if b != first {
				t.Error("got a second connection")
			}
		}()
	}
	wg.Wait()
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}

	l.dropRemote(first)
	if _, err := l.remoteBrowser(); err != nil {
		t.Fatal(err)
	}
	if dials != 2 {
		t.Errorf("dials after drop = %d, want 2", dials)
	}
}

func TestRodLauncher_FailedDialNotCached(t *testing.T) {
	l := NewRodLauncher(Config{RemoteURL: "ws://chrome.invalid/devtools/browser/x"})
	dials := 0
	l.connect = func(string) (*rod.Browser, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return rod.New(), nil
	}

	if _, err := l.Acquire(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if _, err := l.remoteBrowser(); err != nil {
		t.Fatalf("second dial: %v", err)
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
}
