package widgets

import (
	"context"
	"fmt"
	"strings"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Habits is the weekly habit grid.
type Habits struct {
	*collection
	uid string
}

// NewHabits opens the signed-in user's habits.
func NewHabits(st store.Store, session Session, cfg *Config) (*Habits, error) {
	uid, err := userID(session)
	if err != nil {
		return nil, err
	}
	c, err := newCollection(st, schema.UserPath(uid, schema.HabitsCollection), cfg.withDefaults(), autosave.Hooks{})
	if err != nil {
		return nil, err
	}
	return &Habits{collection: c, uid: uid}, nil
}

// EnsureDefaults seeds the default habits when the user has none. It reports
// whether anything was written.
func (h *Habits) EnsureDefaults(ctx context.Context) (bool, error) {
	if len(h.Items()) > 0 {
		return false, nil
	}
	for i, name := range schema.DefaultHabits {
		habit := &schema.Habit{Name: name, Order: i}
		if _, err := h.Create(ctx, habit.Record()); err != nil {
			return true, fmt.Errorf("failed to seed habit %q: %w", name, err)
		}
	}
	h.logger.Printf("Seeded %d default habits for %s", len(schema.DefaultHabits), h.uid)
	return true, nil
}

// Add appends a habit. Names are trimmed and must be unique, ignoring case.
func (h *Habits) Add(ctx context.Context, name string) (*schema.Habit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyText
	}

	order := 0
	for _, existing := range h.List() {
		if strings.EqualFold(existing.Name, name) {
			return nil, fmt.Errorf("habit %q: %w", name, ErrDuplicate)
		}
		if existing.Order >= order {
			order = existing.Order + 1
		}
	}

	habit := &schema.Habit{Name: name, Order: order}
	if err := habit.Validate(); err != nil {
		return nil, fmt.Errorf("invalid habit: %w", err)
	}
	key, err := h.Create(ctx, habit.Record())
	if err != nil {
		return nil, err
	}
	habit.Key = key
	return habit, nil
}

// Toggle flips one day of a habit. The write is debounced, so a burst of
// clicks on the grid becomes one write per habit.
func (h *Habits) Toggle(key string, day int) (*schema.Habit, error) {
	if day < 0 || day >= len(schema.Weekdays) {
		return nil, fmt.Errorf("day index must be 0-%d (got %d)", len(schema.Weekdays)-1, day)
	}
	habit, err := h.Habit(key)
	if err != nil {
		return nil, err
	}
	habit.Days[day] = !habit.Days[day]
	if err := h.collection.Edit(key, habit.Record()); err != nil {
		return nil, err
	}
	return habit, nil
}

// Rename changes a habit's name. The write is debounced.
func (h *Habits) Rename(key, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyText
	}
	habit, err := h.Habit(key)
	if err != nil {
		return err
	}
	for _, other := range h.List() {
		if other.Key != key && strings.EqualFold(other.Name, name) {
			return fmt.Errorf("habit %q: %w", name, ErrDuplicate)
		}
	}
	habit.Name = name
	if err := habit.Validate(); err != nil {
		return fmt.Errorf("invalid habit: %w", err)
	}
	return h.collection.Edit(key, habit.Record())
}

// Habit returns one habit.
func (h *Habits) Habit(key string) (*schema.Habit, error) {
	rec, ok := h.Get(key)
	if !ok {
		return nil, fmt.Errorf("habit %s: %w", key, ErrUnknownItem)
	}
	return schema.HabitFromRecord(key, rec), nil
}

// List returns habits in grid order.
func (h *Habits) List() []*schema.Habit {
	items := h.Items()
	keys := sortedKeys(items, func(a, b store.Record) bool {
		return a.Int("order") < b.Int("order")
	})
	habits := make([]*schema.Habit, 0, len(keys))
	for _, key := range keys {
		habits = append(habits, schema.HabitFromRecord(key, items[key]))
	}
	return habits
}
