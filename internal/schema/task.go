package schema

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// MaxTaskText bounds a task's text.
const MaxTaskText = 500

// Task is an entry in the task list.
type Task struct {
	Key       string
	Text      string
	Completed bool
	CreatedAt time.Time
	Due       *time.Time // optional
}

// TaskPath returns the path of a user's task.
func TaskPath(uid, key string) string {
	return UserPath(uid, TasksCollection, key)
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.Text == "" {
		return fmt.Errorf("text is required")
	}
	if n := utf8.RuneCountInString(t.Text); n > MaxTaskText {
		return fmt.Errorf("text must be %d characters or less (got %d)", MaxTaskText, n)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	return nil
}

// Record returns the stored form of the task.
func (t *Task) Record() store.Record {
	rec := store.Record{
		"text":      t.Text,
		"completed": t.Completed,
		"createdAt": FormatTime(t.CreatedAt),
	}
	if t.Due != nil {
		rec["due"] = FormatTime(*t.Due)
	}
	return rec
}

// TaskFromRecord decodes a stored task.
func TaskFromRecord(key string, rec store.Record) (*Task, error) {
	created, err := ParseTime(rec.String("createdAt"))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", key, err)
	}
	t := &Task{
		Key:       key,
		Text:      rec.String("text"),
		Completed: rec.Bool("completed"),
		CreatedAt: created,
	}
	if s := rec.String("due"); s != "" {
		due, err := ParseTime(s)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", key, err)
		}
		t.Due = &due
	}
	return t, nil
}

// Overdue reports whether an open task's due time has passed.
func (t *Task) Overdue(now time.Time) bool {
	return !t.Completed && t.Due != nil && t.Due.Before(now)
}
