package widgets

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Phase change alerts.
const (
	AlertBreak = "Time for a break!"
	AlertWork  = "Time to get back to work!"
)

// FocusTimer is a pomodoro countdown shared through the store. The countdown
// itself runs locally; the store holds the phase and remaining time written
// at phase changes, stops and resets, so other clients pick them up.
type FocusTimer struct {
	st     store.Store
	path   string
	logger *log.Logger

	mu      sync.Mutex
	state   schema.Timer
	running bool
	sub     *store.Subscription
	done    chan struct{}

	alerts chan string
}

// NewFocusTimer opens the signed-in user's timer at the start of a work phase.
// Call Load or Watch to pick up the stored state.
func NewFocusTimer(st store.Store, session Session, cfg *Config) (*FocusTimer, error) {
	uid, err := userID(session)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &FocusTimer{
		st:     st,
		path:   schema.TimerPath(uid),
		logger: cfg.Logger,
		state:  schema.NewTimer(),
		alerts: make(chan string, 4),
	}, nil
}

// Alerts delivers AlertBreak and AlertWork when a phase runs out. Alerts are
// dropped if the channel is full.
func (t *FocusTimer) Alerts() <-chan string {
	return t.alerts
}

// Load reads the stored timer once.
func (t *FocusTimer) Load(ctx context.Context) error {
	snap, err := t.st.Get(ctx, t.path)
	if err != nil {
		return fmt.Errorf("failed to load timer: %w", err)
	}
	t.apply(snap)
	return nil
}

// Watch follows the stored timer until ctx is done or Close is called.
// The stored state has been applied when Watch returns.
func (t *FocusTimer) Watch(ctx context.Context) error {
	sub, err := t.st.Subscribe(ctx, t.path)
	if err != nil {
		return fmt.Errorf("failed to subscribe to timer: %w", err)
	}

	select {
	case snap, ok := <-sub.C:
		if !ok {
			sub.Close()
			return fmt.Errorf("subscription to timer ended: %w", sub.Err())
		}
		t.apply(snap)
	case <-ctx.Done():
		sub.Close()
		return ctx.Err()
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.sub, t.done = sub, done
	t.mu.Unlock()

	go func() {
		defer close(done)
		for snap := range sub.C {
			t.apply(snap)
		}
		if err := sub.Err(); err != nil {
			t.logger.Printf("Subscription to timer ended: %v", err)
		}
	}()
	return nil
}

func (t *FocusTimer) apply(snap store.Snapshot) {
	if !snap.Exists {
		return
	}
	state := schema.TimerFromRecord(snap.Value)
	if err := state.Validate(); err != nil {
		t.logger.Printf("Ignoring invalid timer: %v", err)
		return
	}
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// State returns the current phase and remaining time, and whether the
// countdown is running.
func (t *FocusTimer) State() (schema.Timer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.running
}

// Format renders the remaining time as mm:ss.
func (t *FocusTimer) Format() string {
	state, _ := t.State()
	return schema.FormatClock(state.Time)
}

// Start resumes the countdown.
func (t *FocusTimer) Start() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
}

// Stop pauses the countdown and stores the remaining time.
func (t *FocusTimer) Stop(ctx context.Context) error {
	t.mu.Lock()
	wasRunning := t.running
	t.running = false
	state := t.state
	t.mu.Unlock()

	if !wasRunning {
		return nil
	}
	return t.persist(ctx, state)
}

// Reset stops the countdown and returns to the start of a work phase.
func (t *FocusTimer) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.running = false
	t.state = schema.NewTimer()
	state := t.state
	t.mu.Unlock()

	return t.persist(ctx, state)
}

// Tick advances a running countdown by one second. When the time has run out
// it stops, switches phase, stores the new phase and returns the alert.
func (t *FocusTimer) Tick(ctx context.Context) (string, error) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return "", nil
	}
	if t.state.Time > 0 {
		t.state.Time--
		t.mu.Unlock()
		return "", nil
	}

	alert := AlertWork
	if t.state.IsWorkTime {
		alert = AlertBreak
	}
	t.running = false
	next := !t.state.IsWorkTime
	t.state = schema.Timer{Time: int(schema.PhaseLength(next) / time.Second), IsWorkTime: next}
	state := t.state
	t.mu.Unlock()

	select {
	case t.alerts <- alert:
	default:
	}
	return alert, t.persist(ctx, state)
}

// Run ticks once per interval until ctx is done.
func (t *FocusTimer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.Tick(ctx); err != nil {
				t.logger.Printf("Error saving timer: %v", err)
			}
		}
	}
}

func (t *FocusTimer) persist(ctx context.Context, state schema.Timer) error {
	if err := t.st.Set(ctx, t.path, state.Record()); err != nil {
		return fmt.Errorf("failed to save timer: %w", err)
	}
	return nil
}

// Close stops watching.
func (t *FocusTimer) Close() {
	t.mu.Lock()
	sub, done := t.sub, t.done
	t.sub = nil
	t.mu.Unlock()
	if sub != nil {
		sub.Close()
		<-done
	}
}
