package schema

import (
	"fmt"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Collection names beneath a user's subtree.
const (
	UsersRoot          = "users"
	ProfileName        = "profile"
	TasksCollection    = "tasks"
	NotesCollection    = "notes"
	ScheduleCollection = "schedule"
	HabitsCollection   = "habits"
	LinksCollection    = "links"
	TimerName          = "timer"
)

// UserRoot returns the subtree holding all of a user's data.
func UserRoot(uid string) string {
	return store.Join(UsersRoot, uid)
}

// UserPath returns a path beneath the user's subtree.
func UserPath(uid string, parts ...string) string {
	return store.Join(append([]string{UsersRoot, uid}, parts...)...)
}

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ParseTime reads a stored timestamp. The empty string is the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
