package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FlakySubmitter fails a configured number of submissions before
// delegating to the simulated submitter. Used to exercise settlement
// failure handling.
type FlakySubmitter struct {
	mu           sync.Mutex
	failuresLeft int
	calls        int
	inner        *SimulatedSubmitter
}

// NewFlakySubmitter creates a submitter that fails the first n calls.
func NewFlakySubmitter(n int) *FlakySubmitter {
	return &FlakySubmitter{failuresLeft: n, inner: NewSimulatedSubmitter()}
}

// SubmitBatch implements Submitter.
func (f *FlakySubmitter) SubmitBatch(ctx context.Context, session Session, txs []PendingTransaction) (string, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failuresLeft > 0
	if fail {
		f.failuresLeft--
	}
	f.mu.Unlock()

	if fail {
		return "", errors.New("simulated chain rejection")
	}
	return f.inner.SubmitBatch(ctx, session, txs)
}

// Calls returns how many submissions were attempted.
func (f *FlakySubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// RecordingSink collects published events for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements EventSink.
func (r *RecordingSink) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// Types returns the recorded event types in order.
func (r *RecordingSink) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// FakeClock is a settable time source for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock pinned at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
