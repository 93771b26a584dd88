// Package migrate moves dashboard data in and out of a store: it imports the
// browser localStorage dump left by the old single-page dashboard, and exports
// or restores a user's records as JSON, YAML or TOML.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Keys the old dashboard kept in localStorage.
const (
	KeyNotes      = "notes"
	KeyHabits     = "habits"
	KeyQuickLinks = "quickLinks"
	eventPrefix   = "event_"
)

// Dump is a localStorage export: each key with its stored string value.
type Dump map[string]string

// ReadDump decodes a JSON object of localStorage entries. Values that are not
// strings (some exporters inline JSON) are kept as their JSON text.
func ReadDump(r io.Reader) (Dump, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid localStorage dump: %w", err)
	}
	dump := make(Dump, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			dump[k] = s
			continue
		}
		dump[k] = string(v)
	}
	return dump, nil
}

// ImportOptions configures ImportLocalStorage.
type ImportOptions struct {
	DryRun bool // Count what would be written without writing

	// Date receives the schedule slots, which the old dashboard kept for a
	// single unnamed day (default: today)
	Date string

	// Now stamps imported notes and tasks (default: time.Now)
	Now func() time.Time
}

// Result contains statistics about an import.
type Result struct {
	Records int
	Skipped int
	Errors  []string
}

// legacyLink is a quickLinks entry.
type legacyLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type importer struct {
	ctx    context.Context
	st     store.Store
	uid    string
	opts   ImportOptions
	result *Result
}

// ImportLocalStorage writes the records found in dump under uid. Unknown keys
// are skipped; malformed values are reported in Result.Errors and do not stop
// the import.
func ImportLocalStorage(ctx context.Context, st store.Store, uid string, dump Dump, opts ImportOptions) (*Result, error) {
	if err := store.ValidateKey(uid); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Date == "" {
		opts.Date = schema.DateKey(opts.Now())
	}
	if err := schema.ValidateDate(opts.Date); err != nil {
		return nil, err
	}

	im := &importer{ctx: ctx, st: st, uid: uid, opts: opts, result: &Result{}}

	keys := make([]string, 0, len(dump))
	for k := range dump {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return im.result, err
		}
		value := dump[k]
		var err error
		switch {
		case k == KeyNotes:
			err = im.notes(value)
		case k == KeyHabits:
			err = im.habits(value)
		case k == KeyQuickLinks:
			err = im.links(value)
		case strings.HasPrefix(k, eventPrefix):
			err = im.event(k, value)
		default:
			im.result.Skipped++
			continue
		}
		if err != nil {
			im.result.Errors = append(im.result.Errors, fmt.Sprintf("%s: %v", k, err))
		}
	}
	return im.result, nil
}

// create writes rec as a new child of collection.
func (im *importer) create(collection string, rec store.Record) error {
	if im.opts.DryRun {
		im.result.Records++
		return nil
	}
	path := schema.UserPath(im.uid, collection)
	key, err := im.st.GenerateKey(im.ctx, path)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	if err := im.st.Set(im.ctx, store.Join(path, key), rec); err != nil {
		return err
	}
	im.result.Records++
	return nil
}

func (im *importer) set(path string, rec store.Record) error {
	if !im.opts.DryRun {
		if err := im.st.Set(im.ctx, path, rec); err != nil {
			return err
		}
	}
	im.result.Records++
	return nil
}

// notes imports the single free-text notes area as one note.
func (im *importer) notes(value string) error {
	if strings.TrimSpace(value) == "" {
		im.result.Skipped++
		return nil
	}
	note := &schema.Note{Content: value, UpdatedAt: im.opts.Now()}
	return im.create(schema.NotesCollection, note.Record())
}

// habits accepts both shapes the old dashboard stored: a list of habit names,
// or a grid of checked days keyed by habit index and day index over the
// default habits.
func (im *importer) habits(value string) error {
	var names []string
	if err := json.Unmarshal([]byte(value), &names); err == nil {
		for i, name := range names {
			h := &schema.Habit{Name: strings.TrimSpace(name), Order: i}
			if err := h.Validate(); err != nil {
				return fmt.Errorf("habit %d: %w", i, err)
			}
			if err := im.create(schema.HabitsCollection, h.Record()); err != nil {
				return err
			}
		}
		return nil
	}

	var grid map[string]map[string]bool
	if err := json.Unmarshal([]byte(value), &grid); err != nil {
		return fmt.Errorf("unrecognized habits value: %w", err)
	}
	for i, name := range schema.DefaultHabits {
		h := &schema.Habit{Name: name, Order: i}
		for day, done := range grid[strconv.Itoa(i)] {
			d, err := strconv.Atoi(day)
			if err != nil || d < 0 || d >= len(h.Days) {
				return fmt.Errorf("habit %d: invalid day %q", i, day)
			}
			h.Days[d] = done
		}
		if err := im.create(schema.HabitsCollection, h.Record()); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) links(value string) error {
	var links []legacyLink
	if err := json.Unmarshal([]byte(value), &links); err != nil {
		return fmt.Errorf("unrecognized quickLinks value: %w", err)
	}
	for i, l := range links {
		link := &schema.Link{Title: strings.TrimSpace(l.Title), URL: strings.TrimSpace(l.URL), Order: i}
		if err := link.Validate(); err != nil {
			im.result.Errors = append(im.result.Errors, fmt.Sprintf("%s[%d]: %v", KeyQuickLinks, i, err))
			continue
		}
		if err := im.create(schema.LinksCollection, link.Record()); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) event(key, value string) error {
	hour, ok := schema.HourFromSlot(key)
	if !ok {
		im.result.Skipped++
		return nil
	}
	if value == "" {
		im.result.Skipped++
		return nil
	}
	ev := &schema.Event{Date: im.opts.Date, Hour: hour, Text: value}
	return im.set(store.Join(schema.ScheduleDayPath(im.uid, im.opts.Date), key), ev.Record())
}
