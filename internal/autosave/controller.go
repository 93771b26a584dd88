package autosave

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// ErrClosed is returned by Change and Delete after Close.
var ErrClosed = errors.New("autosave controller closed")

// DraftPrefix marks keys the store has not assigned yet.
const DraftPrefix = "draft-"

// Writer is the part of store.Store the controller writes through.
type Writer interface {
	Set(ctx context.Context, path string, rec store.Record) error
	Update(ctx context.Context, path string, partial store.Record) error
	Delete(ctx context.Context, path string) error
	GenerateKey(ctx context.Context, path string) (string, error)
}

// State is the per-entity position in the save cycle.
type State int

const (
	// StateIdle means nothing is buffered or being written.
	StateIdle State = iota
	// StatePending means an edit is buffered and its quiet-period timer is armed.
	StatePending
	// StateFlushing means a write is in flight and nothing newer is buffered.
	StateFlushing
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Hooks are called outside the controller's lock, from whichever goroutine
// caused the transition. Nil hooks are skipped.
type Hooks struct {
	// OnSaving reports the saving indicator turning on or off for key.
	OnSaving func(key string, saving bool)
	// OnSaved reports a write that reached the store.
	OnSaved func(key string, rec store.Record)
	// OnError reports a rejected write. The edit is not retried.
	OnError func(key string, err error)
	// OnRollback reports the displayed value reverting to the last confirmed
	// value after a failed write (RollbackOnFailure only).
	OnRollback func(key string, confirmed store.Record)
	// OnAssigned reports the store key assigned to a draft.
	OnAssigned func(draft, key string)
}

// Config holds configuration for a Controller.
type Config struct {
	// QuietPeriod is how long an entity must go without edits before its
	// buffered value is written.
	QuietPeriod time.Duration

	// FlushOnTeardown writes buffered edits on Close instead of dropping them.
	FlushOnTeardown bool

	// RollbackOnFailure reverts the displayed value to the last confirmed
	// value when a write fails and no newer edit is buffered.
	RollbackOnFailure bool

	// WriteTimeout bounds each store call (0 = no timeout).
	WriteTimeout time.Duration

	// Logger for controller activity
	Logger *log.Logger

	// Clock schedules timers (default: WallClock)
	Clock Clock

	Hooks Hooks
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		QuietPeriod: time.Second,
		Logger:      log.New(os.Stderr, "[autosave] ", log.LstdFlags),
		Clock:       WallClock{},
	}
}

// Controller coalesces rapid local edits into one store write per entity
// after a quiet period.
//
// Each entity (identified by its key within the controller's collection)
// debounces independently: an edit cancels the entity's armed timer and arms a
// new one, so the write happens QuietPeriod after the last edit and carries
// only the latest value. Writes are dispatched on their own goroutine and are
// never cancelled once dispatched.
type Controller struct {
	w          Writer
	collection string
	cfg        Config

	mu      sync.Mutex
	entries map[string]*entry
	aliases map[string]string // draft -> assigned key
	closed  bool

	wg sync.WaitGroup
}

type entry struct {
	key   string
	draft bool

	displayed store.Record
	confirmed store.Record
	pending   store.Record
	buffered  bool

	timer Timer
	gen   uint64

	seq      uint64 // bumped on every edit
	written  uint64 // highest seq a write has been attempted for
	inflight int
	saving   bool
	deleted  bool

	writeMu sync.Mutex // orders writes for this entity
}

// New creates a controller writing entities to collection/key.
func New(w Writer, collection string, cfg *Config) (*Controller, error) {
	if w == nil {
		return nil, fmt.Errorf("writer cannot be nil")
	}
	if err := store.ValidatePath(collection); err != nil {
		return nil, fmt.Errorf("invalid collection: %w", err)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.QuietPeriod <= 0 {
		return nil, fmt.Errorf("quiet period must be positive (got %v)", c.QuietPeriod)
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[autosave] ", log.LstdFlags)
	}
	if c.Clock == nil {
		c.Clock = WallClock{}
	}

	return &Controller{
		w:          w,
		collection: store.Clean(collection),
		cfg:        c,
		entries:    make(map[string]*entry),
		aliases:    make(map[string]string),
	}, nil
}

// Collection returns the path entities are written beneath.
func (c *Controller) Collection() string {
	return c.collection
}

// Path returns the store path for key, or "" for an unassigned draft.
func (c *Controller) Path(key string) string {
	key, ok := c.Resolve(key)
	if !ok {
		return ""
	}
	return store.Join(c.collection, key)
}

// QuietPeriod returns the current quiet period.
func (c *Controller) QuietPeriod() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.QuietPeriod
}

// SetQuietPeriod changes the quiet period for timers armed from now on.
func (c *Controller) SetQuietPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("quiet period must be positive (got %v)", d)
	}
	c.mu.Lock()
	c.cfg.QuietPeriod = d
	c.mu.Unlock()
	return nil
}

// NewDraft returns a key for an entity that has no store key yet. Its first
// write generates one and reports it through OnAssigned.
func (c *Controller) NewDraft() string {
	return DraftPrefix + uuid.NewString()
}

// IsDraft reports whether key was produced by NewDraft.
func IsDraft(key string) bool {
	return strings.HasPrefix(key, DraftPrefix)
}

// Resolve maps a draft key to its assigned store key. It reports false for a
// draft that has not been written yet.
func (c *Controller) Resolve(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(key)
}

func (c *Controller) resolveLocked(key string) (string, bool) {
	if k, ok := c.aliases[key]; ok {
		return k, true
	}
	if IsDraft(key) {
		return key, false
	}
	return key, true
}

// Change records rec as the latest local value for key and restarts the
// entity's quiet-period timer. The value is visible through Value immediately.
func (c *Controller) Change(key string, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !IsDraft(key) {
		if err := store.ValidateKey(key); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("invalid key: %w", err)
		}
	}

	e := c.entryLocked(key)
	e.seq++
	e.pending = rec.Clone()
	e.buffered = true
	e.displayed = rec.Clone()
	c.armLocked(e)
	notify := c.savingLocked(e)
	c.mu.Unlock()

	notify()
	return nil
}

func (c *Controller) entryLocked(key string) *entry {
	key, _ = c.resolveLocked(key)
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, draft: IsDraft(key)}
		c.entries[key] = e
	}
	return e
}

func (c *Controller) armLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = c.cfg.Clock.AfterFunc(c.cfg.QuietPeriod, func() {
		c.expire(e, gen)
	})
}

func (c *Controller) expire(e *entry, gen uint64) {
	c.mu.Lock()
	if c.closed || e.deleted || e.gen != gen || e.timer == nil {
		c.mu.Unlock()
		return
	}
	e.timer = nil
	c.dispatchLocked(e)
	c.mu.Unlock()
}

// dispatchLocked hands the buffered value to a write goroutine. The returned
// channel receives the write's result.
func (c *Controller) dispatchLocked(e *entry) <-chan error {
	result := make(chan error, 1)
	rec, seq := e.pending, e.seq
	e.pending = nil
	e.buffered = false
	e.inflight++

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result <- c.write(e, rec, seq)
	}()
	return result
}

func (c *Controller) writeContext() (context.Context, context.CancelFunc) {
	if c.cfg.WriteTimeout > 0 {
		return context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	}
	return context.WithCancel(context.Background())
}

func (c *Controller) write(e *entry, rec store.Record, seq uint64) error {
	skipped, err := c.apply(e, rec, seq)
	c.settle(e, rec, seq, err, skipped)
	return err
}

// apply performs the store call under the entity's write lock. It skips
// writes that a newer one has overtaken or whose entity was deleted.
func (c *Controller) apply(e *entry, rec store.Record, seq uint64) (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	c.mu.Lock()
	skip := e.deleted || seq < e.written
	if !skip {
		e.written = seq
	}
	key, draft := e.key, e.draft
	c.mu.Unlock()
	if skip {
		return true, nil
	}

	ctx, cancel := c.writeContext()
	defer cancel()

	if draft {
		assigned, err := c.w.GenerateKey(ctx, c.collection)
		if err != nil {
			return false, fmt.Errorf("failed to generate key: %w", err)
		}
		c.assign(e, key, assigned)
		path := store.Join(c.collection, assigned)
		if err := c.w.Set(ctx, path, rec); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", path, err)
		}
		return false, nil
	}

	path := store.Join(c.collection, key)
	if err := c.w.Update(ctx, path, rec); err != nil {
		return false, fmt.Errorf("failed to update %s: %w", path, err)
	}
	return false, nil
}

func (c *Controller) assign(e *entry, draft, key string) {
	c.mu.Lock()
	e.key = key
	e.draft = false
	c.aliases[draft] = key
	if c.entries[draft] == e {
		delete(c.entries, draft)
		c.entries[key] = e
	}
	hook := c.cfg.Hooks.OnAssigned
	closed := c.closed
	c.mu.Unlock()

	c.cfg.Logger.Printf("Assigned key %s to %s", key, draft)
	if hook != nil && !closed {
		hook(draft, key)
	}
}

func (c *Controller) settle(e *entry, rec store.Record, seq uint64, err error, superseded bool) {
	c.mu.Lock()
	e.inflight--
	stale := c.closed || e.deleted
	key := e.key
	hooks := c.cfg.Hooks

	var calls []func()
	switch {
	case superseded:
	case err == nil:
		e.confirmed = rec.Clone()
		if hooks.OnSaved != nil && !stale {
			saved := rec.Clone()
			calls = append(calls, func() { hooks.OnSaved(key, saved) })
		}
	default:
		c.cfg.Logger.Printf("Error saving %s: %v", key, err)
		if hooks.OnError != nil && !stale {
			calls = append(calls, func() { hooks.OnError(key, err) })
		}
		if c.cfg.RollbackOnFailure && !stale && seq == e.seq {
			e.displayed = e.confirmed.Clone()
			if hooks.OnRollback != nil {
				confirmed := e.confirmed.Clone()
				calls = append(calls, func() { hooks.OnRollback(key, confirmed) })
			}
		}
	}
	if !stale {
		calls = append(calls, c.savingLocked(e))
	}
	c.mu.Unlock()

	for _, call := range calls {
		call()
	}
}

// savingLocked recomputes the saving indicator and returns the hook call for a
// transition, or a no-op.
func (c *Controller) savingLocked(e *entry) func() {
	saving := e.timer != nil || e.inflight > 0
	if saving == e.saving {
		return func() {}
	}
	e.saving = saving
	hook, key := c.cfg.Hooks.OnSaving, e.key
	if hook == nil {
		return func() {}
	}
	return func() { hook(key, saving) }
}

// Value returns the displayed value for key: the latest local edit if one
// exists, otherwise the last confirmed value.
func (c *Controller) Value(key string) (store.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _ = c.resolveLocked(key)
	e, ok := c.entries[key]
	if !ok || e.displayed == nil {
		return nil, false
	}
	return e.displayed.Clone(), true
}

// Confirm records rec as the value the store holds for key, typically from a
// subscription snapshot. The displayed value follows it unless a local edit is
// buffered or being written.
func (c *Controller) Confirm(key string, rec store.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e := c.entryLocked(key)
	e.confirmed = rec.Clone()
	if !e.buffered && e.inflight == 0 {
		e.displayed = rec.Clone()
	}
}

// Patch merges partial into key's local state after those fields were written
// to the store by some other path. A buffered edit absorbs the fields so its
// flush does not revert them. When a write is in flight and nothing newer is
// buffered, the merged value is buffered again so a later write restores it.
// Idle entities are left alone; Confirm covers them. It reports whether the
// entity had local state to merge into.
func (c *Controller) Patch(key string, partial store.Record) (bool, error) {
	if err := partial.Validate(); err != nil {
		return false, fmt.Errorf("invalid record: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	key, _ = c.resolveLocked(key)
	e, ok := c.entries[key]
	if !ok || e.deleted || (!e.buffered && e.inflight == 0) {
		c.mu.Unlock()
		return false, nil
	}

	e.displayed = e.displayed.Merge(partial)
	if e.buffered {
		e.pending = e.pending.Merge(partial)
	} else {
		e.seq++
		e.pending = e.displayed.Clone()
		e.buffered = true
		c.armLocked(e)
	}
	notify := c.savingLocked(e)
	c.mu.Unlock()

	notify()
	return true, nil
}

// Forget drops an idle entity's cached values, e.g. after it disappeared from
// the store. It reports false if the entity has buffered or in-flight edits.
func (c *Controller) Forget(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _ = c.resolveLocked(key)
	e, ok := c.entries[key]
	if !ok {
		return true
	}
	if e.buffered || e.inflight > 0 {
		return false
	}
	delete(c.entries, key)
	return true
}

// Keys returns the keys of every entity the controller knows about, including
// unwritten drafts.
func (c *Controller) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Pending reports whether key has a buffered edit waiting for its timer.
func (c *Controller) Pending(key string) bool {
	return c.State(key) == StatePending
}

// State returns key's position in the save cycle.
func (c *Controller) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _ = c.resolveLocked(key)
	e, ok := c.entries[key]
	switch {
	case !ok:
		return StateIdle
	case e.timer != nil:
		return StatePending
	case e.inflight > 0:
		return StateFlushing
	default:
		return StateIdle
	}
}

// Saving reports the saving indicator for key: true from the moment a timer is
// armed until the resulting write settles.
func (c *Controller) Saving(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, _ = c.resolveLocked(key)
	e, ok := c.entries[key]
	return ok && e.saving
}

// AnySaving reports whether any entity is saving.
func (c *Controller) AnySaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.saving {
			return true
		}
	}
	return false
}

// Delete cancels any pending edit for key and removes the entity from the
// store. An unwritten draft is only discarded locally.
func (c *Controller) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	key, assigned := c.resolveLocked(key)
	notify := func() {}
	e, ok := c.entries[key]
	if ok {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.pending = nil
		e.buffered = false
		e.deleted = true
		notify = c.savingLocked(e)
		delete(c.entries, key)
	}
	c.mu.Unlock()
	notify()

	if ok {
		// Wait out an in-flight write so it cannot land after the delete.
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
		c.mu.Lock()
		key, assigned = e.key, !e.draft
		c.mu.Unlock()
	}
	if !assigned {
		return nil
	}
	path := store.Join(c.collection, key)
	if err := c.w.Delete(ctx, path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Flush writes every buffered edit now instead of waiting for its timer, and
// waits for those writes to settle.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	results := c.flushLocked()
	c.mu.Unlock()

	return collect(ctx, results)
}

func (c *Controller) flushLocked() []<-chan error {
	var results []<-chan error
	for _, e := range c.entries {
		if e.timer == nil {
			continue
		}
		e.timer.Stop()
		e.timer = nil
		results = append(results, c.dispatchLocked(e))
	}
	return results
}

func collect(ctx context.Context, results []<-chan error) error {
	var errs []error
	for _, ch := range results {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every dispatched write has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close tears the controller down. Armed timers are cancelled; their buffered
// edits are written and awaited when FlushOnTeardown is set and dropped
// otherwise. Writes already in flight are left to finish on their own, and
// their results no longer reach the hooks.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	var results []<-chan error
	dropped := 0
	if c.cfg.FlushOnTeardown {
		results = c.flushLocked()
	} else {
		for _, e := range c.entries {
			if e.timer == nil {
				continue
			}
			e.timer.Stop()
			e.timer = nil
			e.pending = nil
			e.buffered = false
			dropped++
		}
	}
	c.closed = true
	c.mu.Unlock()

	if dropped > 0 {
		c.cfg.Logger.Printf("Dropped %d pending edit(s) in %s", dropped, c.collection)
	}
	return collect(ctx, results)
}
