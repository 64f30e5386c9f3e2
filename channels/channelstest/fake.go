// Package channelstest provides an in-memory channels.Platform for tests.
package channelstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/igaboo/mark/channels"
)

// Op names used by Fake.FailNext.
const (
	OpSend   = "send_card"
	OpEdit   = "edit_card"
	OpDelete = "delete"
	OpDirect = "send_direct"
)

// Edit is one recorded EditCard call.
type Edit struct {
	Ref  channels.MessageRef
	Card channels.Card
}

// Direct is one recorded SendDirect call.
type Direct struct {
	UserID string
	Text   string
}

// Fake records every successful outbound call. Failures are scripted per
// operation with FailNext and consumed in order.
type Fake struct {
	SelfID string

	mu       sync.Mutex
	inbound  chan channels.Message
	closed   bool
	closeCh  chan struct{}
	failures map[string][]error
	calls    map[string]int
	nextID   int

	sent    []channels.Card
	edits   []Edit
	deletes []channels.MessageRef
	directs []Direct
}

// New returns a Fake whose own user ID is selfID.
func New(selfID string) *Fake {
	return &Fake{
		SelfID:   selfID,
		inbound:  make(chan channels.Message, 64),
		closeCh:  make(chan struct{}),
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

// FailNext queues errs to be returned by the next calls of op.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Push queues an inbound message for Listen.
func (f *Fake) Push(m channels.Message) { f.inbound <- m }

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if f.closed {
		return &channels.ErrSendFailed{Op: op, Platform: "fake", Cause: &channels.ErrClosed{Platform: "fake"}}
	}
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) Self() string { return f.SelfID }

func (f *Fake) Listen(ctx context.Context) <-chan channels.Message {
	out := make(chan channels.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.closeCh:
				return
			case m := <-f.inbound:
				select {
				case out <- m:
				case <-ctx.Done():
					return
				case <-f.closeCh:
					return
				}
			}
		}
	}()
	return out
}

func (f *Fake) SendCard(_ context.Context, channelID string, c channels.Card) (channels.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpSend); err != nil {
		return channels.MessageRef{}, err
	}
	f.nextID++
	f.sent = append(f.sent, c)
	return channels.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("card-%d", f.nextID)}, nil
}

func (f *Fake) EditCard(_ context.Context, ref channels.MessageRef, c channels.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpEdit); err != nil {
		return err
	}
	f.edits = append(f.edits, Edit{Ref: ref, Card: c})
	return nil
}

func (f *Fake) Delete(_ context.Context, ref channels.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDelete); err != nil {
		return err
	}
	f.deletes = append(f.deletes, ref)
	return nil
}

func (f *Fake) SendDirect(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDirect); err != nil {
		return err
	}
	f.directs = append(f.directs, Direct{UserID: userID, Text: text})
	return nil
}

func (f *Fake) Status() channels.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return channels.Status{Connected: !f.closed, Platform: "fake", Self: f.SelfID}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

// Calls returns how many times op was attempted, failures included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Sent returns the cards posted so far.
func (f *Fake) Sent() []channels.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channels.Card(nil), f.sent...)
}

// Edits returns the successful edits so far.
func (f *Fake) Edits() []Edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edit(nil), f.edits...)
}

// Deletes returns the deleted message refs so far.
func (f *Fake) Deletes() []channels.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channels.MessageRef(nil), f.deletes...)
}

// Directs returns the direct messages sent so far.
func (f *Fake) Directs() []Direct {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Direct(nil), f.directs...)
}

var _ channels.Platform = (*Fake)(nil)
