package schema

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// MaxNoteTitle bounds a note's title.
const MaxNoteTitle = 200

// Note is a free-form knowledge base entry.
type Note struct {
	Key       string
	Title     string
	Content   string
	UpdatedAt time.Time
}

// NotePath returns the path of a user's note.
func NotePath(uid, key string) string {
	return UserPath(uid, NotesCollection, key)
}

// Validate checks if the Note has valid field values. An empty note is valid.
func (n *Note) Validate() error {
	if c := utf8.RuneCountInString(n.Title); c > MaxNoteTitle {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxNoteTitle, c)
	}
	return nil
}

// Record returns the stored form of the note.
func (n *Note) Record() store.Record {
	return store.Record{
		"title":     n.Title,
		"content":   n.Content,
		"updatedAt": FormatTime(n.UpdatedAt),
	}
}

// NoteFromRecord decodes a stored note.
func NoteFromRecord(key string, rec store.Record) (*Note, error) {
	updated, err := ParseTime(rec.String("updatedAt"))
	if err != nil {
		return nil, fmt.Errorf("note %s: %w", key, err)
	}
	return &Note{
		Key:       key,
		Title:     rec.String("title"),
		Content:   rec.String("content"),
		UpdatedAt: updated,
	}, nil
}

// Heading is the title, or the first line of content for untitled notes.
func (n *Note) Heading() string {
	if n.Title != "" {
		return n.Title
	}
	for i, r := range n.Content {
		if r == '\n' {
			return n.Content[:i]
		}
	}
	if n.Content == "" {
		return "Untitled"
	}
	return n.Content
}
