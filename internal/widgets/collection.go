package widgets

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// collection is the state shared by list widgets: the records the store last
// reported under path, overlaid with local edits the controller has not
// written yet.
type collection struct {
	st     store.Store
	path   string
	ctl    *autosave.Controller
	logger *log.Logger

	mu        sync.Mutex
	confirmed map[string]store.Record
	sub       *store.Subscription
	watchDone chan struct{}
	changed   chan struct{}
}

func newCollection(st store.Store, path string, cfg *Config, hooks autosave.Hooks) (*collection, error) {
	acfg := *cfg.Autosave
	acfg.Logger = cfg.Logger
	acfg.Hooks = hooks

	ctl, err := autosave.New(st, path, &acfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create autosave controller: %w", err)
	}
	return &collection{
		st:        st,
		path:      path,
		ctl:       ctl,
		logger:    cfg.Logger,
		confirmed: make(map[string]store.Record),
		changed:   make(chan struct{}, 1),
	}, nil
}

// Load reads the collection once.
func (c *collection) Load(ctx context.Context) error {
	snap, err := c.st.Get(ctx, c.path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", c.path, err)
	}
	c.apply(snap)
	return nil
}

// Watch keeps the collection current until ctx is done or Close is called.
// The first snapshot has been applied when Watch returns.
func (c *collection) Watch(ctx context.Context) error {
	sub, err := c.st.Subscribe(ctx, c.path)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.path, err)
	}

	select {
	case snap, ok := <-sub.C:
		if !ok {
			sub.Close()
			return fmt.Errorf("subscription to %s ended: %w", c.path, sub.Err())
		}
		c.apply(snap)
	case <-ctx.Done():
		sub.Close()
		return ctx.Err()
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.sub = sub
	c.watchDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		for snap := range sub.C {
			c.apply(snap)
		}
		if err := sub.Err(); err != nil {
			c.logger.Printf("Subscription to %s ended: %v", c.path, err)
		}
	}()
	return nil
}

// apply records a snapshot as the confirmed state.
func (c *collection) apply(snap store.Snapshot) {
	c.mu.Lock()
	previous := c.confirmed
	c.confirmed = make(map[string]store.Record, len(snap.Children))
	for key, rec := range snap.Children {
		c.confirmed[key] = rec
	}
	c.mu.Unlock()

	for key, rec := range snap.Children {
		c.ctl.Confirm(key, rec)
	}
	for key := range previous {
		if _, ok := snap.Children[key]; !ok {
			c.ctl.Forget(key)
		}
	}
	c.notify()
}

func (c *collection) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Changed signals after snapshots and local edits. Signals coalesce.
func (c *collection) Changed() <-chan struct{} {
	return c.changed
}

// Items returns every record, confirmed or local-only, keyed by store key or
// draft key.
func (c *collection) Items() map[string]store.Record {
	c.mu.Lock()
	items := make(map[string]store.Record, len(c.confirmed))
	for key, rec := range c.confirmed {
		items[key] = rec.Clone()
	}
	c.mu.Unlock()

	for _, key := range c.ctl.Keys() {
		if v, ok := c.ctl.Value(key); ok {
			items[key] = v
		}
	}
	return items
}

// Get returns one record, preferring a local edit.
func (c *collection) Get(key string) (store.Record, bool) {
	if v, ok := c.ctl.Value(key); ok {
		return v, true
	}
	if k, ok := c.ctl.Resolve(key); ok {
		key = k
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.confirmed[key]
	return rec.Clone(), ok
}

// Edit buffers a local edit; the controller writes it after the quiet period.
func (c *collection) Edit(key string, rec store.Record) error {
	if err := c.ctl.Change(key, rec); err != nil {
		return err
	}
	c.notify()
	return nil
}

// Create writes a new record immediately and returns its key.
func (c *collection) Create(ctx context.Context, rec store.Record) (string, error) {
	key, err := c.st.GenerateKey(ctx, c.path)
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	if err := c.st.Set(ctx, store.Join(c.path, key), rec); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", key, err)
	}

	c.mu.Lock()
	c.confirmed[key] = rec.Clone()
	c.mu.Unlock()
	c.ctl.Confirm(key, rec)
	c.notify()
	return key, nil
}

// Update writes fields of key immediately. A buffered or in-flight edit of the
// same record takes the fields too, so its later write keeps them.
func (c *collection) Update(ctx context.Context, key string, partial store.Record) error {
	if err := c.st.Update(ctx, store.Join(c.path, key), partial); err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}

	c.mu.Lock()
	merged := c.confirmed[key].Merge(partial)
	c.confirmed[key] = merged
	c.mu.Unlock()
	c.ctl.Confirm(key, merged)
	if _, err := c.ctl.Patch(key, partial); err != nil {
		return fmt.Errorf("failed to merge %s into pending edit: %w", key, err)
	}
	c.notify()
	return nil
}

// Delete cancels pending edits for key and removes it from the store.
func (c *collection) Delete(ctx context.Context, key string) error {
	resolved, _ := c.ctl.Resolve(key)
	if err := c.ctl.Delete(ctx, key); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.confirmed, resolved)
	c.mu.Unlock()
	c.notify()
	return nil
}

// Match resolves ref to a key: an exact key, or the unique key ending in ref
// (the short form the CLI prints).
func (c *collection) Match(ref string) (string, error) {
	items := c.Items()
	if _, ok := items[ref]; ok {
		return ref, nil
	}
	var found []string
	for key := range items {
		if ref != "" && strings.HasSuffix(key, ref) {
			found = append(found, key)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknownItem, ref)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d items", ErrAmbiguous, ref, len(found))
	}
}

// SetQuietPeriod retunes the debounce for subsequent edits.
func (c *collection) SetQuietPeriod(d time.Duration) error {
	return c.ctl.SetQuietPeriod(d)
}

// Flush writes pending edits now.
func (c *collection) Flush(ctx context.Context) error {
	return c.ctl.Flush(ctx)
}

// Close stops watching and tears the controller down.
func (c *collection) Close(ctx context.Context) error {
	c.mu.Lock()
	sub, done := c.sub, c.watchDone
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
		<-done
	}
	err := c.ctl.Close(ctx)
	c.ctl.Wait()
	return err
}

// sortedKeys orders items by less, falling back to key order.
func sortedKeys(items map[string]store.Record, less func(a, b store.Record) bool) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := items[keys[i]], items[keys[j]]
		if less != nil {
			if less(a, b) {
				return true
			}
			if less(b, a) {
				return false
			}
		}
		return keys[i] < keys[j]
	})
	return keys
}
