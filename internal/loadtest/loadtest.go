// Package loadtest simulates many editors typing into autosaved records at
// once and measures what reaches the store.
//
// Each editor owns a set of entities and sends a burst of keystrokes to each
// one through its own autosave controller. A run reports how many store writes
// the keystrokes collapsed into, the latency from an entity's last keystroke
// to its confirmed save, and whether every entity's final value was stored.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Config describes one run.
type Config struct {
	// Editors is the number of concurrent editors.
	Editors int
	// Entities is the number of records each editor types into.
	Entities int
	// Keystrokes is the number of edits sent to each entity.
	Keystrokes int
	// Interval is the pause between keystrokes (0 = as fast as possible).
	Interval time.Duration
	// QuietPeriod is passed to each editor's autosave controller.
	QuietPeriod time.Duration
	// Root is the path under which editors write (default "loadtest").
	Root string

	Logger *log.Logger
}

// DefaultConfig returns a small run that finishes in a few seconds.
func DefaultConfig() *Config {
	return &Config{
		Editors:     10,
		Entities:    5,
		Keystrokes:  20,
		Interval:    5 * time.Millisecond,
		QuietPeriod: 100 * time.Millisecond,
		Root:        "loadtest",
	}
}

func (c *Config) validate() error {
	switch {
	case c.Editors <= 0:
		return fmt.Errorf("editors must be positive")
	case c.Entities <= 0:
		return fmt.Errorf("entities must be positive")
	case c.Keystrokes <= 0:
		return fmt.Errorf("keystrokes must be positive")
	case c.Interval < 0:
		return fmt.Errorf("interval cannot be negative")
	case c.QuietPeriod <= 0:
		return fmt.Errorf("quiet period must be positive")
	}
	return nil
}

// LatencyStats summarizes a set of durations.
type LatencyStats struct {
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Mean    time.Duration `json:"mean"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Samples int           `json:"samples"`
}

// Result is the outcome of a run.
type Result struct {
	Keystrokes int           `json:"keystrokes"`
	Writes     int64         `json:"writes"`
	Errors     int64         `json:"errors"`
	Lost       int           `json:"lost"`
	Duration   time.Duration `json:"duration"`
	Latency    LatencyStats  `json:"latency"`
}

// Coalescing is the number of keystrokes per store write.
func (r *Result) Coalescing() float64 {
	if r.Writes == 0 {
		return 0
	}
	return float64(r.Keystrokes) / float64(r.Writes)
}

// countingWriter counts the writes reaching the store.
type countingWriter struct {
	autosave.Writer
	writes atomic.Int64
}

func (w *countingWriter) Set(ctx context.Context, path string, rec store.Record) error {
	w.writes.Add(1)
	return w.Writer.Set(ctx, path, rec)
}

func (w *countingWriter) Update(ctx context.Context, path string, partial store.Record) error {
	w.writes.Add(1)
	return w.Writer.Update(ctx, path, partial)
}

// editor is one simulated user typing into its entities.
type editor struct {
	id   int
	path string
	ctl  *autosave.Controller

	mu       sync.Mutex
	final    map[string]string
	lastEdit map[string]time.Time
	samples  []time.Duration
	errors   atomic.Int64
}

// Run drives cfg.Editors concurrent editors against st and waits for every
// write to settle.
func Run(ctx context.Context, st store.Store, cfg *Config) (*Result, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	root := cfg.Root
	if root == "" {
		root = "loadtest"
	}

	w := &countingWriter{Writer: st}
	editors := make([]*editor, cfg.Editors)
	for i := range editors {
		e := &editor{
			id:       i,
			path:     store.Join(root, fmt.Sprintf("editor-%03d", i)),
			final:    make(map[string]string),
			lastEdit: make(map[string]time.Time),
		}
		ctl, err := autosave.New(w, e.path, &autosave.Config{
			QuietPeriod:     cfg.QuietPeriod,
			FlushOnTeardown: true,
			Logger:          logger,
			Hooks: autosave.Hooks{
				OnSaved: e.saved,
				OnError: func(string, error) { e.errors.Add(1) },
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create editor %d: %w", i, err)
		}
		e.ctl = ctl
		editors[i] = e
	}

	logger.Printf("Starting %d editors x %d entities x %d keystrokes", cfg.Editors, cfg.Entities, cfg.Keystrokes)
	start := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, len(editors))
	for _, e := range editors {
		wg.Add(1)
		go func(e *editor) {
			defer wg.Done()
			if err := e.typeAll(ctx, cfg); err != nil {
				errs <- fmt.Errorf("editor %d: %w", e.id, err)
			}
		}(e)
	}
	wg.Wait()
	close(errs)

	// Timers armed by the last keystrokes expire on their own; Close flushes
	// whatever is still buffered after that.
	time.Sleep(cfg.QuietPeriod)
	var runErr error
	for _, e := range editors {
		if err := e.ctl.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
			runErr = err
		}
		e.ctl.Wait()
	}
	for err := range errs {
		if runErr == nil {
			runErr = err
		}
	}

	result := &Result{
		Keystrokes: cfg.Editors * cfg.Entities * cfg.Keystrokes,
		Writes:     w.writes.Load(),
		Duration:   time.Since(start),
	}
	var samples []time.Duration
	for _, e := range editors {
		lost, err := e.verify(context.WithoutCancel(ctx), st)
		if err != nil {
			return nil, err
		}
		result.Lost += lost
		result.Errors += e.errors.Load()
		samples = append(samples, e.samples...)
	}
	result.Latency = computeLatencyStats(samples)

	logger.Printf("Finished: %d keystrokes, %d writes, %d lost in %v",
		result.Keystrokes, result.Writes, result.Lost, result.Duration)
	return result, runErr
}

// typeAll sends every keystroke for every entity, interleaving entities the way
// a user switching between fields would.
func (e *editor) typeAll(ctx context.Context, cfg *Config) error {
	for k := 1; k <= cfg.Keystrokes; k++ {
		for n := 0; n < cfg.Entities; n++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := fmt.Sprintf("entity-%03d", n)
			text := strings.Repeat("x", k)

			e.mu.Lock()
			e.final[key] = text
			e.lastEdit[key] = time.Now()
			e.mu.Unlock()

			if err := e.ctl.Change(key, store.Record{"content": text}); err != nil {
				return err
			}
		}
		if cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Interval):
			}
		}
	}
	return nil
}

// saved records the latency of a save that carried the entity's final value.
func (e *editor) saved(key string, rec store.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.String("content") != e.final[key] {
		return
	}
	if t, ok := e.lastEdit[key]; ok {
		e.samples = append(e.samples, time.Since(t))
		delete(e.lastEdit, key)
	}
}

// verify reads back the editor's entities and counts those whose stored value
// is not the last keystroke.
func (e *editor) verify(ctx context.Context, st store.Store) (int, error) {
	snap, err := st.Get(ctx, e.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", e.path, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	lost := 0
	for key, want := range e.final {
		if snap.Children[key].String("content") != want {
			lost++
		}
	}
	return lost, nil
}

func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    sum / time.Duration(len(sorted)),
		P50:     sorted[len(sorted)*50/100],
		P95:     sorted[len(sorted)*95/100],
		P99:     sorted[len(sorted)*99/100],
		Samples: len(sorted),
	}
}

// Print writes a human-readable summary of r.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Keystrokes:  %d\n", r.Keystrokes)
	fmt.Fprintf(w, "Writes:      %d (%.1f keystrokes per write)\n", r.Writes, r.Coalescing())
	fmt.Fprintf(w, "Errors:      %d\n", r.Errors)
	fmt.Fprintf(w, "Lost:        %d\n", r.Lost)
	fmt.Fprintf(w, "Duration:    %v\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Save latency (last keystroke to stored):\n")
	fmt.Fprintf(w, "  Min:  %v\n", r.Latency.Min.Round(time.Microsecond))
	fmt.Fprintf(w, "  P50:  %v\n", r.Latency.P50.Round(time.Microsecond))
	fmt.Fprintf(w, "  Mean: %v\n", r.Latency.Mean.Round(time.Microsecond))
	fmt.Fprintf(w, "  P95:  %v\n", r.Latency.P95.Round(time.Microsecond))
	fmt.Fprintf(w, "  P99:  %v\n", r.Latency.P99.Round(time.Microsecond))
	fmt.Fprintf(w, "  Max:  %v\n", r.Latency.Max.Round(time.Microsecond))
}
