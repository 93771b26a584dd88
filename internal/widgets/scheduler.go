package widgets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Scheduler is the hourly day planner. Each date is its own collection of
// slots, opened on first use.
type Scheduler struct {
	st  store.Store
	uid string
	cfg *Config

	mu     sync.Mutex
	days   map[string]*collection
	closed bool
}

// NewScheduler opens the signed-in user's schedule.
func NewScheduler(st store.Store, session Session, cfg *Config) (*Scheduler, error) {
	uid, err := userID(session)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		st:   st,
		uid:  uid,
		cfg:  cfg.withDefaults(),
		days: make(map[string]*collection),
	}, nil
}

// day returns the collection for date, loading it the first time.
func (s *Scheduler) day(ctx context.Context, date string) (*collection, error) {
	if err := schema.ValidateDate(date); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, autosave.ErrClosed
	}
	if c, ok := s.days[date]; ok {
		return c, nil
	}

	c, err := newCollection(s.st, schema.ScheduleDayPath(s.uid, date), s.cfg, autosave.Hooks{})
	if err != nil {
		return nil, err
	}
	if err := c.Load(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	s.days[date] = c
	return c, nil
}

// Set writes the text of one slot. The write is debounced per slot.
func (s *Scheduler) Set(ctx context.Context, date, hour, text string) error {
	ev := &schema.Event{Date: date, Hour: hour, Text: strings.TrimRight(text, " \t")}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	c, err := s.day(ctx, date)
	if err != nil {
		return err
	}
	return c.Edit(schema.SlotKey(hour), ev.Record())
}

// Clear empties one slot immediately.
func (s *Scheduler) Clear(ctx context.Context, date, hour string) error {
	if !schema.ValidHour(hour) {
		return fmt.Errorf("invalid event: unknown hour %q", hour)
	}
	c, err := s.day(ctx, date)
	if err != nil {
		return err
	}
	return c.Delete(ctx, schema.SlotKey(hour))
}

// Day returns every slot of date in hour order, empty slots included.
func (s *Scheduler) Day(ctx context.Context, date string) ([]schema.Event, error) {
	c, err := s.day(ctx, date)
	if err != nil {
		return nil, err
	}

	events := make([]schema.Event, 0, len(schema.Hours))
	for _, hour := range schema.Hours {
		ev := schema.Event{Date: date, Hour: hour}
		if rec, ok := c.Get(schema.SlotKey(hour)); ok {
			ev.Text = rec.String("text")
		}
		events = append(events, ev)
	}
	return events, nil
}

// Saving reports whether any slot of date has an unsettled edit.
func (s *Scheduler) Saving(date string) bool {
	s.mu.Lock()
	c, ok := s.days[date]
	s.mu.Unlock()
	return ok && c.ctl.AnySaving()
}

// Flush writes every pending slot now.
func (s *Scheduler) Flush(ctx context.Context) error {
	var errs []error
	for _, c := range s.open() {
		if err := c.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close tears down every open day.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, c := range s.open() {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) open() []*collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	days := make([]*collection, 0, len(s.days))
	for _, c := range s.days {
		days = append(days, c)
	}
	return days
}
