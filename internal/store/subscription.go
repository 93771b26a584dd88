package store

import (
	"context"
	"errors"
	"sync"
)

// Subscription is a stream of snapshots for one path.
//
// The first snapshot on C is the current value. C is closed when the
// subscription ends, either because Close was called, the context passed to
// Subscribe was cancelled, or the producer failed; Err reports the failure.
type Subscription struct {
	C <-chan Snapshot

	path   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Producer feeds a subscription. It must return once ctx is done. emit blocks
// until the snapshot is received or ctx is done, and reports whether the
// snapshot was delivered.
type Producer func(ctx context.Context, emit func(Snapshot) bool) error

// NewSubscription starts producer on its own goroutine and returns the stream
// it feeds.
func NewSubscription(parent context.Context, path string, producer Producer) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan Snapshot)

	sub := &Subscription{
		C:      ch,
		path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	emit := func(s Snapshot) bool {
		select {
		case ch <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(sub.done)
		defer close(ch)
		err := producer(ctx, emit)
		if err != nil && !errors.Is(err, context.Canceled) {
			sub.mu.Lock()
			sub.err = err
			sub.mu.Unlock()
		}
	}()

	return sub
}

// Path returns the subscribed path.
func (s *Subscription) Path() string {
	return s.path
}

// Close ends the subscription and waits for its producer to stop.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any. Cancellation is
// not an error.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
