package schema

import (
	"fmt"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Focus timer phase lengths.
const (
	WorkDuration  = 25 * time.Minute
	BreakDuration = 5 * time.Minute
)

// Timer is the persisted focus timer: seconds remaining and the phase.
type Timer struct {
	Time       int // seconds
	IsWorkTime bool
}

// NewTimer returns a timer at the start of a work phase.
func NewTimer() Timer {
	return Timer{Time: int(WorkDuration / time.Second), IsWorkTime: true}
}

// PhaseLength returns the full length of the given phase.
func PhaseLength(work bool) time.Duration {
	if work {
		return WorkDuration
	}
	return BreakDuration
}

// TimerPath returns the path of a user's timer.
func TimerPath(uid string) string {
	return UserPath(uid, TimerName)
}

// Validate checks if the Timer has valid field values.
func (t Timer) Validate() error {
	if t.Time < 0 {
		return fmt.Errorf("time must be non-negative (got %d)", t.Time)
	}
	if limit := int(PhaseLength(t.IsWorkTime) / time.Second); t.Time > limit {
		return fmt.Errorf("time must be at most %d seconds (got %d)", limit, t.Time)
	}
	return nil
}

// Record returns the stored form of the timer.
func (t Timer) Record() store.Record {
	return store.Record{"time": t.Time, "isWorkTime": t.IsWorkTime}
}

// TimerFromRecord decodes a stored timer.
func TimerFromRecord(rec store.Record) Timer {
	return Timer{Time: rec.Int("time"), IsWorkTime: rec.Bool("isWorkTime")}
}

// FormatClock renders seconds as mm:ss.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
