package browser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// StaticLauncher serves sessions over a fixed HTML document. Navigation is
// recorded but does not change the document, and waits never block.
type StaticLauncher struct {
	doc []byte
}

// NewStaticLauncher creates a StaticLauncher over the given markup.
func NewStaticLauncher(doc []byte) *StaticLauncher {
	return &StaticLauncher{doc: doc}
}

// LoadStaticFile reads a saved page from disk.
func LoadStaticFile(path string) (*StaticLauncher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browser: read %s: %w", path, err)
	}
	return NewStaticLauncher(data), nil
}

// Acquire parses a private copy of the document.
func (l *StaticLauncher) Acquire(ctx context.Context) (Session, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(l.doc))
	if err != nil {
		return nil, fmt.Errorf("browser: parse document: %w", err)
	}
	return &StaticSession{doc: doc}, nil
}

// StaticSession is a Session over a parsed document.
type StaticSession struct {
	doc      *goquery.Document
	URL      string
	released bool
}

// Released reports whether Release was called.
func (s *StaticSession) Released() bool { return s.released }

func (s *StaticSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.URL = url
	return nil
}

func (s *StaticSession) query(loc Locator) ([]Element, error) {
	var nodes []*html.Node
	switch loc.Strategy {
	case XPath:
		if len(s.doc.Nodes) == 0 {
			return nil, nil
		}
		found, err := htmlquery.QueryAll(s.doc.Nodes[0], loc.Query)
		if err != nil {
			return nil, fmt.Errorf("browser: xpath %q: %w", loc.Query, err)
		}
		nodes = found
	default:
		nodes = s.doc.Find(loc.Query).Nodes
	}
	out := make([]Element, len(nodes))
	for i, n := range nodes {
		out[i] = staticElement{n}
	}
	return out, nil
}

func (s *StaticSession) Find(ctx context.Context, loc Locator) (Element, error) {
	els, err := s.query(loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, ErrNotFound
	}
	return els[0], nil
}

func (s *StaticSession) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	return s.query(loc)
}

// Await behaves like Find: a static document never gains nodes.
func (s *StaticSession) Await(ctx context.Context, loc Locator, _ time.Duration) (Element, error) {
	return s.Find(ctx, loc)
}

// AwaitAll reports ErrNotFound for an empty match, as a live wait would.
func (s *StaticSession) AwaitAll(ctx context.Context, loc Locator, _ time.Duration) ([]Element, error) {
	els, err := s.query(loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, ErrNotFound
	}
	return els, nil
}

func (s *StaticSession) Release() error {
	s.released = true
	return nil
}

type staticElement struct {
	n *html.Node
}

func (e staticElement) Text(context.Context) (string, error) {
	return strings.TrimSpace(htmlquery.InnerText(e.n)), nil
}

func (e staticElement) Attribute(_ context.Context, name string) (string, bool, error) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}
