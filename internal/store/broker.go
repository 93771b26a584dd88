package store

import (
	"context"
	"sync"
	"time"
)

// Broker fans applied mutations out to path watchers and change listeners.
type Broker struct {
	mu        sync.Mutex
	next      uint64
	watchers  map[uint64]*watcher
	listeners map[uint64]func(Change)
}

type watcher struct {
	path string
	ch   chan struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		watchers:  make(map[uint64]*watcher),
		listeners: make(map[uint64]func(Change)),
	}
}

// Watch registers interest in path. The returned channel receives a signal
// after any change related to path; signals are coalesced, so a slow reader
// sees one pending signal no matter how many changes happened.
func (b *Broker) Watch(path string) (<-chan struct{}, func()) {
	w := &watcher{path: Clean(path), ch: make(chan struct{}, 1)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.watchers[id] = w
	b.mu.Unlock()

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.watchers, id)
			b.mu.Unlock()
		})
	}
}

// Notify registers fn to be called synchronously for every published change.
func (b *Broker) Notify(fn func(Change)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish signals every watcher whose path is related to the change and calls
// every listener.
func (b *Broker) Publish(c Change) {
	c.Path = Clean(c.Path)
	if c.Time.IsZero() {
		c.Time = time.Now()
	}

	b.mu.Lock()
	listeners := make([]func(Change), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	for _, w := range b.watchers {
		if !Related(w.path, c.Path) {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// Len returns the number of registered watchers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// Subscribe builds a Subscription that emits load(path) once immediately and
// again after each related change.
func (b *Broker) Subscribe(ctx context.Context, path string, load func(context.Context, string) (Snapshot, error)) *Subscription {
	signal, cancel := b.Watch(path)
	return NewSubscription(ctx, path, func(ctx context.Context, emit func(Snapshot) bool) error {
		defer cancel()
		for {
			snap, err := load(ctx, path)
			if err != nil {
				return err
			}
			if !emit(snap) {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-signal:
			}
		}
	})
}
