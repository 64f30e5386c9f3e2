package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/channels/channelstest"
	"github.com/igaboo/mark/connectivity"
	"github.com/igaboo/mark/delivery"
	"github.com/igaboo/mark/listing"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const link = "https://www.facebook.com/marketplace/item/123/?ref=share"

type call struct {
	requester channels.User
	channelID string
	url       string
}

// fakeDeliverer records calls and optionally blocks until gate is closed.
type fakeDeliverer struct {
	mu    sync.Mutex
	calls []call
	gate  chan struct{}
}

func (d *fakeDeliverer) Deliver(_ context.Context, requester channels.User, channelID, url string) delivery.Result {
	d.mu.Lock()
	d.calls = append(d.calls, call{requester, channelID, url})
	d.mu.Unlock()
	if d.gate != nil {
		<-d.gate
	}
	return delivery.Result{ID: "d", Outcome: delivery.OutcomeCommitted}
}

func (d *fakeDeliverer) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

func testPolicy() connectivity.Policy {
	return connectivity.Policy{
		MaxRetries: 5,
		Sleep:      func(context.Context, time.Duration) error { return nil },
		Logger:     quiet,
	}
}

func newRouter(t *testing.T, d Deliverer) (*Router, *channelstest.Fake) {
	t.Helper()
	m, err := listing.NewMatcher("")
	if err != nil {
		t.Fatal(err)
	}
	p := channelstest.New("bot")
	return New(p, d, m, WithPolicy(testPolicy()), WithLogger(quiet)), p
}

func msg(author, content string) channels.Message {
	return channels.Message{
		ID:        "m1",
		ChannelID: "c1",
		Author:    channels.User{ID: author, Name: author},
		Content:   content,
	}
}

func TestHandle_IgnoresSelf(t *testing.T) {
	d := &fakeDeliverer{}
	r, p := newRouter(t, d)
	if r.Handle(context.Background(), msg("bot", "look "+link)) {
		t.Fatal("own message handled")
	}
	r.Wait()
	if len(d.Calls()) != 0 || p.Calls(channelstest.OpDelete) != 0 {
		t.Fatal("own message must be ignored")
	}
}

func TestHandle_IgnoresMessagesWithoutLinks(t *testing.T) {
	d := &fakeDeliverer{}
	r, p := newRouter(t, d)
	for _, text := range []string{"", "hello", "https://example.com/marketplace/item/1"} {
		if r.Handle(context.Background(), msg("alice", text)) {
			t.Fatalf("handled %q", text)
		}
	}
	r.Wait()
	if len(d.Calls()) != 0 || p.Calls(channelstest.OpDelete) != 0 {
		t.Fatal("nothing should happen")
	}
}

func TestHandle_DeletesAndDelivers(t *testing.T) {
	d := &fakeDeliverer{}
	r, p := newRouter(t, d)
	if !r.Handle(context.Background(), msg("alice", "check this out "+link+" cheap!")) {
		t.Fatal("not handled")
	}
	r.Wait()

	dels := p.Deletes()
	if len(dels) != 1 || dels[0] != (channels.MessageRef{ChannelID: "c1", MessageID: "m1"}) {
		t.Fatalf("deletes = %+v", dels)
	}
	calls := d.Calls()
	if len(calls) != 1 {
		t.Fatalf("deliveries = %d", len(calls))
	}
	if calls[0].url != link || calls[0].channelID != "c1" || calls[0].requester.ID != "alice" {
		t.Fatalf("call = %+v", calls[0])
	}
	if r.Handled() != 1 {
		t.Fatalf("Handled = %d", r.Handled())
	}
}

func TestHandle_OnlyFirstLink(t *testing.T) {
	d := &fakeDeliverer{}
	r, _ := newRouter(t, d)
	r.Handle(context.Background(), msg("alice",
		"https://www.facebook.com/marketplace/item/1 and https://www.facebook.com/marketplace/item/2"))
	r.Wait()
	calls := d.Calls()
	if len(calls) != 1 || calls[0].url != "https://www.facebook.com/marketplace/item/1" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestHandle_DeleteFailureStillDelivers(t *testing.T) {
	d := &fakeDeliverer{}
	r, p := newRouter(t, d)
	p.FailNext(channelstest.OpDelete, &channels.ErrSendFailed{Op: "delete", Platform: "fake", Cause: errors.New("missing permissions")})
	r.Handle(context.Background(), msg("alice", link))
	r.Wait()
	if p.Calls(channelstest.OpDelete) != 1 {
		t.Fatalf("delete attempts = %d", p.Calls(channelstest.OpDelete))
	}
	if len(d.Calls()) != 1 {
		t.Fatal("delivery should proceed")
	}
}

func TestHandle_DeleteRateLimited(t *testing.T) {
	d := &fakeDeliverer{}
	r, p := newRouter(t, d)
	p.FailNext(channelstest.OpDelete, &channels.ErrRateLimited{Op: "delete", RetryAfter: time.Second})
	r.Handle(context.Background(), msg("alice", link))
	r.Wait()
	if p.Calls(channelstest.OpDelete) != 2 || len(p.Deletes()) != 1 {
		t.Fatalf("delete attempts = %d, deletes = %d", p.Calls(channelstest.OpDelete), len(p.Deletes()))
	}
}

func TestHandle_ThrottledDeleteDoesNotStallIntake(t *testing.T) {
	d := &fakeDeliverer{}
	m, err := listing.NewMatcher("")
	if err != nil {
		t.Fatal(err)
	}
	p := channelstest.New("bot")
	p.FailNext(channelstest.OpDelete, &channels.ErrRateLimited{Op: "delete", RetryAfter: time.Minute})

	wake := make(chan struct{})
	pol := testPolicy()
	pol.Sleep = func(ctx context.Context, _ time.Duration) error {
		<-wake
		return nil
	}
	r := New(p, d, m, WithPolicy(pol), WithLogger(quiet))

	handled := make(chan struct{})
	go func() {
		r.Handle(context.Background(), msg("alice", link))
		r.Handle(context.Background(), msg("bob", link))
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("intake blocked behind a throttled delete")
	}

	// One delete is parked in its backoff; the other message is delivered.
	deadline := time.Now().Add(2 * time.Second)
	for len(d.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(d.Calls()); n != 1 {
		t.Fatalf("deliveries while delete throttled = %d, want 1", n)
	}

	close(wake)
	r.Wait()
	if len(d.Calls()) != 2 || len(p.Deletes()) != 2 {
		t.Fatalf("deliveries = %d, deletes = %d", len(d.Calls()), len(p.Deletes()))
	}
}

type panickingDeliverer struct{ fakeDeliverer }

func (d *panickingDeliverer) Deliver(ctx context.Context, requester channels.User, channelID, url string) delivery.Result {
	if requester.ID == "alice" {
		panic("driver exploded")
	}
	return d.fakeDeliverer.Deliver(ctx, requester, channelID, url)
}

func TestHandle_DeliveryPanicIsContained(t *testing.T) {
	d := &panickingDeliverer{}
	r, _ := newRouter(t, d)

	r.Handle(context.Background(), msg("alice", link))
	r.Wait()
	if r.InFlight() != 0 {
		t.Fatalf("InFlight = %d after panic", r.InFlight())
	}

	r.Handle(context.Background(), msg("bob", link))
	r.Wait()
	if calls := d.Calls(); len(calls) != 1 || calls[0].requester.ID != "bob" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestHandle_DoesNotBlockOnDelivery(t *testing.T) {
	d := &fakeDeliverer{gate: make(chan struct{})}
	r, _ := newRouter(t, d)

	done := make(chan struct{})
	go func() {
		r.Handle(context.Background(), msg("alice", link))
		r.Handle(context.Background(), msg("bob", link))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on a running delivery")
	}
	if r.InFlight() != 2 {
		t.Fatalf("InFlight = %d, want 2", r.InFlight())
	}
	close(d.gate)
	r.Wait()
	if r.InFlight() != 0 {
		t.Fatalf("InFlight = %d after Wait", r.InFlight())
	}
}

func TestRun_ClosedChannel(t *testing.T) {
	d := &fakeDeliverer{}
	r, _ := newRouter(t, d)
	msgs := make(chan channels.Message, 3)
	msgs <- msg("alice", link)
	msgs <- msg("bot", link)
	msgs <- msg("carol", "no link")
	close(msgs)

	if err := r.Run(context.Background(), msgs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(d.Calls()) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(d.Calls()))
	}
}

func TestRun_ContextCancelledWaitsForDeliveries(t *testing.T) {
	d := &fakeDeliverer{gate: make(chan struct{})}
	r, _ := newRouter(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan channels.Message, 1)
	msgs <- msg("alice", link)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, msgs) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.InFlight() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned before the in-flight delivery finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(d.gate)
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

// scriptedBuilder returns no key fields until the last step.
type scriptedBuilder struct {
	mu    sync.Mutex
	calls int
	good  int
}

func (b *scriptedBuilder) Build(_ context.Context, url string) (listing.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	rec := listing.NewRecord(listing.NormalizeURL(url))
	if b.calls >= b.good {
		price := "$500"
		rec.Price = &price
	}
	return rec, nil
}

func TestEndToEnd(t *testing.T) {
	m, _ := listing.NewMatcher("")
	p := channelstest.New("bot")
	b := &scriptedBuilder{good: 2}
	pipe := delivery.New(p, b,
		delivery.WithPolicy(testPolicy()),
		delivery.WithLogger(quiet))
	r := New(p, pipe, m, WithPolicy(testPolicy()), WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := p.Listen(ctx)
	p.Push(msg("alice", "selling my car "+link))

	deadline := time.Now().Add(2 * time.Second)
	for r.Handled() == 0 && time.Now().Before(deadline) {
		select {
		case m := <-msgs:
			r.Handle(ctx, m)
		case <-time.After(10 * time.Millisecond):
		}
	}
	r.Wait()

	if len(p.Deletes()) != 1 {
		t.Fatalf("original deletes = %d", len(p.Deletes()))
	}
	if len(p.Sent()) != 1 {
		t.Fatalf("placeholders = %d, want 1", len(p.Sent()))
	}
	edits := p.Edits()
	if len(edits) != 1 {
		t.Fatalf("edits = %d, want exactly 1", len(edits))
	}
	if edits[0].Card.URL != "https://www.facebook.com/marketplace/item/123" {
		t.Fatalf("card url = %q", edits[0].Card.URL)
	}
	if b.calls != 2 {
		t.Fatalf("builds = %d", b.calls)
	}
}
