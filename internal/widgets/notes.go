package widgets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Note status strings, as shown next to the editor.
const (
	StatusSaving = "Saving..."
	StatusSaved  = "Saved!"
	StatusError  = "Error: could not save"
)

// SavedDisplay is how long StatusSaved is shown after a save.
const SavedDisplay = 2 * time.Second

type noteResult struct {
	err     error
	savedAt time.Time
}

// Notes is the knowledge base widget. New notes are drafts until their first
// debounced write assigns them a key.
type Notes struct {
	*collection
	uid string
	now func() time.Time

	mu      sync.Mutex
	results map[string]noteResult
}

// NewNotes opens the signed-in user's notes.
func NewNotes(st store.Store, session Session, cfg *Config) (*Notes, error) {
	uid, err := userID(session)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	n := &Notes{uid: uid, now: cfg.Now, results: make(map[string]noteResult)}
	hooks := autosave.Hooks{
		OnSaving: func(string, bool) { n.notify() },
		OnSaved: func(key string, _ store.Record) {
			n.setResult(key, noteResult{savedAt: n.now()})
		},
		OnError: func(key string, err error) {
			n.setResult(key, noteResult{err: err})
		},
		OnAssigned: func(draft, key string) {
			n.mu.Lock()
			if r, ok := n.results[draft]; ok {
				n.results[key] = r
				delete(n.results, draft)
			}
			n.mu.Unlock()
		},
	}

	c, err := newCollection(st, schema.UserPath(uid, schema.NotesCollection), cfg, hooks)
	if err != nil {
		return nil, err
	}
	n.collection = c
	return n, nil
}

func (n *Notes) setResult(key string, r noteResult) {
	n.mu.Lock()
	n.results[key] = r
	n.mu.Unlock()
	n.notify()
}

// New starts an empty note and returns its draft key. Nothing is written
// until the note is edited and the quiet period passes.
func (n *Notes) New() (string, error) {
	key := n.ctl.NewDraft()
	note := &schema.Note{UpdatedAt: n.now()}
	if err := n.collection.Edit(key, note.Record()); err != nil {
		return "", err
	}
	return key, nil
}

// Edit replaces a note's title and content. The write is debounced.
func (n *Notes) Edit(key, title, content string) error {
	if _, ok := n.Get(key); !ok {
		return fmt.Errorf("note %s: %w", key, ErrUnknownItem)
	}
	note := &schema.Note{Title: title, Content: content, UpdatedAt: n.now()}
	if err := note.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}
	return n.collection.Edit(key, note.Record())
}

// Resolve returns the store key of a note, following draft assignment.
func (n *Notes) Resolve(key string) string {
	k, _ := n.ctl.Resolve(key)
	return k
}

// Status returns the save status of a note for display.
func (n *Notes) Status(key string) string {
	if n.ctl.Saving(key) {
		return StatusSaving
	}
	key = n.Resolve(key)

	n.mu.Lock()
	r, ok := n.results[key]
	n.mu.Unlock()
	switch {
	case !ok:
		return ""
	case r.err != nil:
		return StatusError
	case n.now().Sub(r.savedAt) < SavedDisplay:
		return StatusSaved
	default:
		return ""
	}
}

// Delete removes a note, cancelling any pending edit.
func (n *Notes) Delete(ctx context.Context, key string) error {
	resolved := n.Resolve(key)
	if err := n.collection.Delete(ctx, key); err != nil {
		return err
	}
	n.mu.Lock()
	delete(n.results, resolved)
	delete(n.results, key)
	n.mu.Unlock()
	return nil
}

// Note returns one note.
func (n *Notes) Note(key string) (*schema.Note, error) {
	rec, ok := n.Get(key)
	if !ok {
		return nil, fmt.Errorf("note %s: %w", key, ErrUnknownItem)
	}
	return schema.NoteFromRecord(n.Resolve(key), rec)
}

// List returns notes, most recently updated first.
func (n *Notes) List() []*schema.Note {
	items := n.Items()
	keys := sortedKeys(items, func(a, b store.Record) bool {
		return a.String("updatedAt") > b.String("updatedAt")
	})

	notes := make([]*schema.Note, 0, len(keys))
	for _, key := range keys {
		note, err := schema.NoteFromRecord(key, items[key])
		if err != nil {
			n.logger.Printf("Skipping invalid note %s: %v", key, err)
			continue
		}
		notes = append(notes, note)
	}
	return notes
}
