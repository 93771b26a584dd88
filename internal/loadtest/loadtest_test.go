package loadtest

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ElijahFeldman7/workflow/internal/store/db"
)

func openStore(t *testing.T, dsn string) *db.Store {
	t.Helper()
	st, err := db.Open(db.Options{DSN: dsn, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRun_Small(t *testing.T) {
	st := openStore(t, db.MemoryDSN)

	result, err := Run(context.Background(), st, &Config{
		Editors:     4,
		Entities:    3,
		Keystrokes:  10,
		QuietPeriod: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Keystrokes != 120 {
		t.Errorf("Keystrokes = %d, want 120", result.Keystrokes)
	}
	if result.Lost != 0 {
		t.Errorf("Lost = %d, want 0", result.Lost)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d, want 0", result.Errors)
	}
	// Every entity is written at least once.
	if result.Writes < 12 {
		t.Errorf("Writes = %d, want at least 12", result.Writes)
	}
	if result.Coalescing() <= 1 {
		t.Errorf("Coalescing() = %.2f, want more than one keystroke per write", result.Coalescing())
	}

	snap, err := st.Get(context.Background(), "loadtest/editor-002")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := []string{"entity-000", "entity-001", "entity-002"}
	if diff := cmp.Diff(want, snap.Keys()); diff != "" {
		t.Errorf("stored keys mismatch (-want +got):\n%s", diff)
	}
	if got := snap.Children["entity-001"].String("content"); got != "xxxxxxxxxx" {
		t.Errorf("entity-001 content = %q, want the last keystroke", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	st := openStore(t, db.MemoryDSN)

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no editors", cfg: Config{Entities: 1, Keystrokes: 1, QuietPeriod: time.Millisecond}},
		{name: "no entities", cfg: Config{Editors: 1, Keystrokes: 1, QuietPeriod: time.Millisecond}},
		{name: "no keystrokes", cfg: Config{Editors: 1, Entities: 1, QuietPeriod: time.Millisecond}},
		{name: "negative interval", cfg: Config{Editors: 1, Entities: 1, Keystrokes: 1, Interval: -1, QuietPeriod: time.Millisecond}},
		{name: "no quiet period", cfg: Config{Editors: 1, Entities: 1, Keystrokes: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Run(context.Background(), st, &tt.cfg); err == nil {
				t.Error("Run() succeeded, want a config error")
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	st := openStore(t, db.MemoryDSN)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, st, &Config{
		Editors:     2,
		Entities:    2,
		Keystrokes:  5,
		QuietPeriod: 10 * time.Millisecond,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if result.Writes != 0 || result.Lost != 0 {
		t.Errorf("Writes = %d, Lost = %d, want nothing typed", result.Writes, result.Lost)
	}
}

func TestRun_ManyEditors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	st := openStore(t, filepath.Join(t.TempDir(), "load.db"))

	cfg := DefaultConfig()
	cfg.Editors = 50
	result, err := Run(context.Background(), st, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	result.Print(os.Stdout)

	if result.Lost != 0 {
		t.Errorf("Lost = %d, want 0", result.Lost)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d, want 0", result.Errors)
	}
	if result.Writes >= int64(result.Keystrokes) {
		t.Errorf("Writes = %d for %d keystrokes, want fewer writes than keystrokes", result.Writes, result.Keystrokes)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	if got := computeLatencyStats(nil); got != (LatencyStats{}) {
		t.Errorf("computeLatencyStats(nil) = %+v, want zero", got)
	}

	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}
	got := computeLatencyStats(durations)
	want := LatencyStats{
		Min:     time.Millisecond,
		Max:     100 * time.Millisecond,
		Mean:    50500 * time.Microsecond,
		P50:     51 * time.Millisecond,
		P95:     96 * time.Millisecond,
		P99:     100 * time.Millisecond,
		Samples: 100,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("computeLatencyStats() mismatch (-want +got):\n%s", diff)
	}
}

func BenchmarkRun(b *testing.B) {
	st, err := db.Open(db.Options{DSN: filepath.Join(b.TempDir(), "bench.db"), Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		b.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	cfg := DefaultConfig()
	cfg.Interval = 0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Run(context.Background(), st, cfg); err != nil {
			b.Fatalf("Run() error = %v", err)
		}
	}
}
