package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// MaxHabitName bounds a habit's name.
const MaxHabitName = 100

// Weekdays are the habit record's day fields, Monday first.
var Weekdays = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// DefaultHabits are seeded for a user with no habits.
var DefaultHabits = []string{"Workout", "Read", "Relax", "Commit"}

// Habit is a row in the weekly habit grid.
type Habit struct {
	Key   string
	Name  string
	Order int
	Days  [7]bool // indexed like Weekdays
}

// HabitPath returns the path of a user's habit.
func HabitPath(uid, key string) string {
	return UserPath(uid, HabitsCollection, key)
}

// DayIndex maps a day name ("mon", "Monday", ...) to its index in Weekdays.
func DayIndex(day string) (int, error) {
	d := strings.ToLower(strings.TrimSpace(day))
	if len(d) >= 3 {
		for i, w := range Weekdays {
			if strings.HasPrefix(d, w) {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("unknown day %q", day)
}

// WeekdayIndex maps a time.Weekday onto Weekdays.
func WeekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Validate checks if the Habit has valid field values.
func (h *Habit) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if n := utf8.RuneCountInString(h.Name); n > MaxHabitName {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxHabitName, n)
	}
	if h.Order < 0 {
		return fmt.Errorf("order must be non-negative (got %d)", h.Order)
	}
	return nil
}

// Record returns the stored form of the habit.
func (h *Habit) Record() store.Record {
	rec := store.Record{"name": h.Name, "order": h.Order}
	for i, day := range Weekdays {
		rec[day] = h.Days[i]
	}
	return rec
}

// DayRecord returns the partial record that sets a single day.
func DayRecord(day int, done bool) store.Record {
	return store.Record{Weekdays[day]: done}
}

// HabitFromRecord decodes a stored habit.
func HabitFromRecord(key string, rec store.Record) *Habit {
	h := &Habit{Key: key, Name: rec.String("name"), Order: rec.Int("order")}
	for i, day := range Weekdays {
		h.Days[i] = rec.Bool(day)
	}
	return h
}

// Streak counts the consecutive completed days ending at day (inclusive).
func (h *Habit) Streak(day int) int {
	n := 0
	for i := day; i >= 0 && h.Days[i]; i-- {
		n++
	}
	return n
}
