package autosave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// manualClock fires timers only when Advance moves time past them.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, running due callbacks in order outside the
// clock's lock.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = due.at
		due.fired = true
		c.mu.Unlock()
		due.f()
	}
}

// Armed returns the fire times of timers that are still pending.
func (c *manualClock) Armed() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var at []time.Time
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			at = append(at, t.at)
		}
	}
	return at
}

type call struct {
	Op   string
	Path string
	Rec  store.Record
}

// recordingWriter records store calls. A non-nil gate blocks writes until it
// is closed.
type recordingWriter struct {
	mu    sync.Mutex
	calls []call
	fail  error
	gate  chan struct{}
	keys  int
}

func (w *recordingWriter) record(op, path string, rec store.Record) error {
	w.mu.Lock()
	gate, fail := w.gate, w.fail
	w.mu.Unlock()
	if gate != nil && op != "delete" {
		<-gate
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call{Op: op, Path: path, Rec: rec.Clone()})
	return fail
}

func (w *recordingWriter) Set(ctx context.Context, path string, rec store.Record) error {
	return w.record("set", path, rec)
}

func (w *recordingWriter) Update(ctx context.Context, path string, rec store.Record) error {
	return w.record("update", path, rec)
}

func (w *recordingWriter) Delete(ctx context.Context, path string) error {
	return w.record("delete", path, nil)
}

func (w *recordingWriter) GenerateKey(ctx context.Context, path string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys++
	return fmt.Sprintf("k%d", w.keys), nil
}

func (w *recordingWriter) Calls() []call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]call(nil), w.calls...)
}

func (w *recordingWriter) SetFail(err error) {
	w.mu.Lock()
	w.fail = err
	w.mu.Unlock()
}

func (w *recordingWriter) Hold() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gate = make(chan struct{})
	return w.gate
}

// setupController returns a controller on a manual clock with a silent logger.
func setupController(t *testing.T, quiet time.Duration, mutate func(*Config)) (*Controller, *recordingWriter, *manualClock) {
	t.Helper()

	w := &recordingWriter{}
	clock := newManualClock()
	cfg := &Config{
		QuietPeriod: quiet,
		Logger:      log.New(io.Discard, "", 0),
		Clock:       clock,
	}
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(w, "users/u1/notes", cfg)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close(context.Background())
		c.Wait()
	})
	return c, w, clock
}

func TestNew(t *testing.T) {
	w := &recordingWriter{}
	tests := []struct {
		name       string
		w          Writer
		collection string
		cfg        *Config
		wantErr    bool
	}{
		{name: "defaults", w: w, collection: "notes"},
		{name: "nil writer", collection: "notes", wantErr: true},
		{name: "bad collection", w: w, collection: "a//b", wantErr: true},
		{name: "zero quiet period", w: w, collection: "notes", cfg: &Config{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.w, tt.collection, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if c != nil {
				_ = c.Close(context.Background())
			}
		})
	}
}

func TestController_WritesLatestValueAfterQuietPeriod(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	for i, text := range []string{"h", "he", "hel", "hello"} {
		if i > 0 {
			clock.Advance(200 * time.Millisecond)
		}
		if err := c.Change("n1", store.Record{"content": text}); err != nil {
			t.Fatalf("Change() error = %v", err)
		}
	}

	clock.Advance(999 * time.Millisecond)
	c.Wait()
	if got := w.Calls(); len(got) != 0 {
		t.Fatalf("no write expected before the quiet period ends, got %v", got)
	}

	clock.Advance(time.Millisecond)
	c.Wait()
	want := []call{{Op: "update", Path: "users/u1/notes/n1", Rec: store.Record{"content": "hello"}}}
	if diff := cmp.Diff(want, w.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	// Waiting longer writes nothing more.
	clock.Advance(10 * time.Second)
	c.Wait()
	if len(w.Calls()) != 1 {
		t.Errorf("expected exactly one write, got %d", len(w.Calls()))
	}
}

func TestController_TwoEditsOneWrite(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	_ = c.Change("n1", store.Record{"content": "first"})
	clock.Advance(500 * time.Millisecond)
	_ = c.Change("n1", store.Record{"content": "second"})
	clock.Advance(5 * time.Second)
	c.Wait()

	calls := w.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write, got %d: %v", len(calls), calls)
	}
	if calls[0].Rec.String("content") != "second" {
		t.Errorf("write carried %v, want the second edit", calls[0].Rec)
	}
}

func TestController_EditRestartsTimer(t *testing.T) {
	c, w, clock := setupController(t, 2000*time.Millisecond, nil)
	start := clock.Now()

	_ = c.Change("n1", store.Record{"content": "a"})
	clock.Advance(1000 * time.Millisecond)
	_ = c.Change("n1", store.Record{"content": "ab"})

	armed := clock.Armed()
	if len(armed) != 1 {
		t.Fatalf("expected one armed timer, got %d", len(armed))
	}
	if got := armed[0].Sub(start); got != 3000*time.Millisecond {
		t.Errorf("flush scheduled at t=%v, want t=3s", got)
	}

	clock.Advance(1000 * time.Millisecond) // t=2000
	c.Wait()
	if len(w.Calls()) != 0 {
		t.Fatal("flush must not happen at t=2000")
	}
	clock.Advance(1000 * time.Millisecond) // t=3000
	c.Wait()
	if len(w.Calls()) != 1 {
		t.Errorf("expected flush at t=3000, got %d writes", len(w.Calls()))
	}
}

func TestController_EntitiesDebounceIndependently(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	_ = c.Change("n1", store.Record{"content": "one"})
	clock.Advance(600 * time.Millisecond)
	_ = c.Change("n2", store.Record{"content": "two"})
	clock.Advance(400 * time.Millisecond)
	c.Wait()

	calls := w.Calls()
	if len(calls) != 1 || calls[0].Path != "users/u1/notes/n1" {
		t.Fatalf("expected only n1 written, got %v", calls)
	}
	clock.Advance(600 * time.Millisecond)
	c.Wait()
	if len(w.Calls()) != 2 {
		t.Errorf("expected n2 written after its own quiet period, got %v", w.Calls())
	}
}

func TestController_SavingIndicator(t *testing.T) {
	var mu sync.Mutex
	var transitions []bool
	c, w, clock := setupController(t, time.Second, func(cfg *Config) {
		cfg.Hooks.OnSaving = func(key string, saving bool) {
			mu.Lock()
			transitions = append(transitions, saving)
			mu.Unlock()
		}
	})

	if c.Saving("n1") {
		t.Fatal("Saving() should be false before any edit")
	}
	_ = c.Change("n1", store.Record{"content": "x"})
	if !c.Saving("n1") || c.State("n1") != StatePending {
		t.Fatalf("after Change: Saving=%v State=%v", c.Saving("n1"), c.State("n1"))
	}

	gate := w.Hold()
	clock.Advance(time.Second)
	if !c.Saving("n1") || !c.AnySaving() {
		t.Error("Saving() should stay true while the write is in flight")
	}
	if c.State("n1") != StateFlushing {
		t.Errorf("State() = %v, want flushing", c.State("n1"))
	}

	close(gate)
	c.Wait()
	if c.Saving("n1") || c.AnySaving() {
		t.Error("Saving() should be false once the write settles")
	}
	if c.State("n1") != StateIdle {
		t.Errorf("State() = %v, want idle", c.State("n1"))
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]bool{true, false}, transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestController_TeardownDropsPendingEdit(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	_ = c.Change("n1", store.Record{"content": "unsaved"})
	clock.Advance(500 * time.Millisecond)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	clock.Advance(time.Minute)
	c.Wait()

	if got := w.Calls(); len(got) != 0 {
		t.Errorf("expected zero writes after teardown, got %v", got)
	}
	if err := c.Change("n1", store.Record{"content": "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Change() after Close error = %v, want ErrClosed", err)
	}
}

func TestController_TeardownFlushes(t *testing.T) {
	c, w, _ := setupController(t, time.Second, func(cfg *Config) {
		cfg.FlushOnTeardown = true
	})

	_ = c.Change("n1", store.Record{"content": "keep me"})
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	calls := w.Calls()
	if len(calls) != 1 || calls[0].Rec.String("content") != "keep me" {
		t.Errorf("expected the pending edit flushed on Close, got %v", calls)
	}
}

func TestController_DeleteCancelsPendingTimer(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	_ = c.Change("n1", store.Record{"content": "x"})
	_ = c.Change("n2", store.Record{"content": "y"})
	if err := c.Delete(context.Background(), "n1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c.Pending("n1") {
		t.Error("Pending() should be false after Delete")
	}

	clock.Advance(2 * time.Second)
	c.Wait()

	want := []call{
		{Op: "delete", Path: "users/u1/notes/n1"},
		{Op: "update", Path: "users/u1/notes/n2", Rec: store.Record{"content": "y"}},
	}
	if diff := cmp.Diff(want, w.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestController_FailedWriteIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	c, w, clock := setupController(t, time.Second, func(cfg *Config) {
		cfg.Hooks.OnError = func(key string, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	})
	boom := errors.New("permission denied")
	w.SetFail(boom)

	_ = c.Change("n1", store.Record{"content": "x"})
	clock.Advance(time.Second)
	c.Wait()
	clock.Advance(time.Minute)
	c.Wait()

	if len(w.Calls()) != 1 {
		t.Errorf("expected a single attempt, got %d", len(w.Calls()))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("OnError got %v, want one %v", errs, boom)
	}
	if v, _ := c.Value("n1"); v.String("content") != "x" {
		t.Errorf("displayed value should keep the local edit, got %v", v)
	}
	if c.Saving("n1") {
		t.Error("Saving() should clear after a failed write")
	}
}

func TestController_RollbackOnFailure(t *testing.T) {
	var rolledBack store.Record
	c, w, clock := setupController(t, time.Second, func(cfg *Config) {
		cfg.RollbackOnFailure = true
		cfg.Hooks.OnRollback = func(key string, rec store.Record) { rolledBack = rec }
	})

	c.Confirm("n1", store.Record{"content": "server"})
	_ = c.Change("n1", store.Record{"content": "local"})
	if v, _ := c.Value("n1"); v.String("content") != "local" {
		t.Fatalf("Value() = %v, want the optimistic edit", v)
	}

	w.SetFail(errors.New("offline"))
	clock.Advance(time.Second)
	c.Wait()

	v, _ := c.Value("n1")
	if v.String("content") != "server" {
		t.Errorf("Value() = %v, want rollback to the confirmed value", v)
	}
	if rolledBack.String("content") != "server" {
		t.Errorf("OnRollback got %v", rolledBack)
	}
}

func TestController_ConfirmDoesNotClobberLocalEdit(t *testing.T) {
	c, _, clock := setupController(t, time.Second, nil)

	_ = c.Change("n1", store.Record{"content": "typing"})
	c.Confirm("n1", store.Record{"content": "stale"})
	if v, _ := c.Value("n1"); v.String("content") != "typing" {
		t.Errorf("Value() = %v, buffered edit should win over a snapshot", v)
	}

	clock.Advance(time.Second)
	c.Wait()
	c.Confirm("n1", store.Record{"content": "typing"})
	c.Confirm("n1", store.Record{"content": "remote edit"})
	if v, _ := c.Value("n1"); v.String("content") != "remote edit" {
		t.Errorf("Value() = %v, idle entity should follow snapshots", v)
	}
}

func TestController_DraftAssignedOnFirstWrite(t *testing.T) {
	var assigned [2]string
	c, w, clock := setupController(t, time.Second, func(cfg *Config) {
		cfg.Hooks.OnAssigned = func(draft, key string) { assigned = [2]string{draft, key} }
	})

	draft := c.NewDraft()
	if !IsDraft(draft) {
		t.Fatalf("NewDraft() = %q, want draft prefix", draft)
	}
	if _, ok := c.Resolve(draft); ok {
		t.Error("unwritten draft should not resolve")
	}
	if c.Path(draft) != "" {
		t.Error("Path() of an unwritten draft should be empty")
	}

	_ = c.Change(draft, store.Record{"title": "New note"})
	clock.Advance(time.Second)
	c.Wait()

	key, ok := c.Resolve(draft)
	if !ok || key != "k1" {
		t.Fatalf("Resolve() = %q, %v", key, ok)
	}
	if assigned != [2]string{draft, "k1"} {
		t.Errorf("OnAssigned got %v", assigned)
	}

	_ = c.Change(draft, store.Record{"title": "Renamed"})
	clock.Advance(time.Second)
	c.Wait()

	want := []call{
		{Op: "set", Path: "users/u1/notes/k1", Rec: store.Record{"title": "New note"}},
		{Op: "update", Path: "users/u1/notes/k1", Rec: store.Record{"title": "Renamed"}},
	}
	if diff := cmp.Diff(want, w.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if v, ok := c.Value("k1"); !ok || v.String("title") != "Renamed" {
		t.Errorf("Value(k1) = %v, %v", v, ok)
	}
}

func TestController_DeleteUnwrittenDraft(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	draft := c.NewDraft()
	_ = c.Change(draft, store.Record{"title": "x"})
	if err := c.Delete(context.Background(), draft); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	clock.Advance(time.Second)
	c.Wait()
	if got := w.Calls(); len(got) != 0 {
		t.Errorf("unwritten draft should never reach the store, got %v", got)
	}
}

func TestController_OverlappingWritesKeepOrder(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	gate := w.Hold()
	_ = c.Change("n1", store.Record{"content": "v1"})
	clock.Advance(time.Second) // v1 dispatched and blocked
	_ = c.Change("n1", store.Record{"content": "v2"})
	clock.Advance(time.Second) // v2 dispatched behind v1
	close(gate)
	c.Wait()

	calls := w.Calls()
	if len(calls) == 0 {
		t.Fatal("expected writes")
	}
	if last := calls[len(calls)-1]; last.Rec.String("content") != "v2" {
		t.Errorf("last write = %v, want v2", last.Rec)
	}
}

func TestController_PatchBufferedEdit(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	_ = c.Change("t1", store.Record{"text": "buy oat milk", "completed": false})
	merged, err := c.Patch("t1", store.Record{"completed": true})
	if err != nil || !merged {
		t.Fatalf("Patch() = %v, %v, want merged", merged, err)
	}

	want := store.Record{"text": "buy oat milk", "completed": true}
	got, _ := c.Value("t1")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Value() mismatch (-want +got):\n%s", diff)
	}
	if armed := clock.Armed(); len(armed) != 1 {
		t.Errorf("Patch should keep the one armed timer, got %v", armed)
	}

	clock.Advance(time.Second)
	c.Wait()
	calls := w.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one write, got %v", calls)
	}
	if diff := cmp.Diff(want, calls[0].Rec); diff != "" {
		t.Errorf("written record mismatch (-want +got):\n%s", diff)
	}
}

func TestController_PatchInFlightWrite(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	gate := w.Hold()
	_ = c.Change("t1", store.Record{"text": "a", "completed": false})
	clock.Advance(time.Second) // stale write dispatched and blocked

	if merged, err := c.Patch("t1", store.Record{"completed": true}); err != nil || !merged {
		t.Fatalf("Patch() = %v, %v, want merged", merged, err)
	}
	if !c.Pending("t1") {
		t.Error("Patch during a write should buffer the merged value")
	}
	close(gate)
	c.Wait()
	clock.Advance(time.Second)
	c.Wait()

	calls := w.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected the stale write and a correcting write, got %v", calls)
	}
	if !calls[1].Rec.Bool("completed") || calls[1].Rec.String("text") != "a" {
		t.Errorf("last write = %v, want the patched record", calls[1].Rec)
	}
}

func TestController_PatchIdleEntity(t *testing.T) {
	c, w, clock := setupController(t, time.Second, nil)

	if merged, err := c.Patch("unknown", store.Record{"completed": true}); err != nil || merged {
		t.Errorf("Patch(unknown) = %v, %v, want no merge", merged, err)
	}

	c.Confirm("t1", store.Record{"text": "a"})
	if merged, _ := c.Patch("t1", store.Record{"completed": true}); merged {
		t.Error("Patch on an idle entity should leave it to Confirm")
	}
	clock.Advance(time.Second)
	c.Wait()
	if calls := w.Calls(); len(calls) != 0 {
		t.Errorf("idle Patch should not write, got %v", calls)
	}

	if _, err := c.Patch("t1", store.Record{"tags": []string{"x"}}); err == nil {
		t.Error("expected error for non-scalar value")
	}

	_ = c.Close(context.Background())
	if _, err := c.Patch("t1", store.Record{"completed": true}); !errors.Is(err, ErrClosed) {
		t.Errorf("Patch() after Close error = %v, want ErrClosed", err)
	}
}

func TestController_Flush(t *testing.T) {
	c, w, _ := setupController(t, time.Hour, nil)

	_ = c.Change("n1", store.Record{"content": "a"})
	_ = c.Change("n2", store.Record{"content": "b"})
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(w.Calls()) != 2 {
		t.Errorf("expected both entities flushed, got %v", w.Calls())
	}
	if c.AnySaving() {
		t.Error("nothing should be saving after Flush")
	}

	w.SetFail(errors.New("offline"))
	_ = c.Change("n1", store.Record{"content": "c"})
	if err := c.Flush(context.Background()); err == nil {
		t.Error("Flush() should report write errors")
	}
}

func TestController_InvalidInput(t *testing.T) {
	c, _, _ := setupController(t, time.Second, nil)

	if err := c.Change("a/b", store.Record{}); err == nil {
		t.Error("expected error for key with separator")
	}
	if err := c.Change("n1", store.Record{"x": []int{1}}); err == nil {
		t.Error("expected error for non-scalar value")
	}
	if err := c.SetQuietPeriod(0); err == nil {
		t.Error("expected error for zero quiet period")
	}
}

func TestController_WallClock(t *testing.T) {
	saved := make(chan store.Record, 1)
	cfg := &Config{
		QuietPeriod: 20 * time.Millisecond,
		Logger:      log.New(io.Discard, "", 0),
		Hooks: Hooks{
			OnSaved: func(key string, rec store.Record) { saved <- rec },
		},
	}
	c, err := New(&recordingWriter{}, "notes", cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		_ = c.Close(context.Background())
		c.Wait()
	}()

	_ = c.Change("n1", store.Record{"content": "a"})
	_ = c.Change("n1", store.Record{"content": "ab"})

	select {
	case rec := <-saved:
		if rec.String("content") != "ab" {
			t.Errorf("saved %v, want latest edit", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for save")
	}
}
