// Package widgets implements the dashboard's widgets on top of a store.
//
// Each widget keeps its records under the signed-in user's subtree (see
// package schema). Typing-style edits go through an autosave.Controller, so
// they appear locally at once and reach the store after a quiet period;
// structural changes (adding or deleting an item) are written immediately.
package widgets

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/auth"
	"github.com/ElijahFeldman7/workflow/internal/autosave"
)

var (
	// ErrSignedOut is returned when a widget is opened with no signed-in user.
	ErrSignedOut = auth.ErrSignedOut

	// ErrEmptyText is returned when a required text field is blank.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrDuplicate is returned when adding an item that already exists.
	ErrDuplicate = errors.New("already exists")

	// ErrUnknownItem is returned for keys the widget does not hold.
	ErrUnknownItem = errors.New("unknown item")

	// ErrAmbiguous is returned when a short key matches several items.
	ErrAmbiguous = errors.New("ambiguous key")
)

// Session reports the signed-in user. *auth.Manager implements it.
type Session interface {
	RequireUser() (*auth.User, error)
}

// Config holds configuration shared by all widgets.
type Config struct {
	// Autosave configures each widget's controller. Hooks are set per widget.
	Autosave *autosave.Config

	// Logger for widget activity (default: stderr logger)
	Logger *log.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Autosave: autosave.DefaultConfig(),
		Logger:   log.New(os.Stderr, "[widgets] ", log.LstdFlags),
		Now:      time.Now,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}
	if c.Autosave != nil {
		out.Autosave = c.Autosave
	}
	if c.Logger != nil {
		out.Logger = c.Logger
	}
	if c.Now != nil {
		out.Now = c.Now
	}
	return out
}

// userID returns the signed-in user's ID or ErrSignedOut.
func userID(session Session) (string, error) {
	if session == nil {
		return "", ErrSignedOut
	}
	user, err := session.RequireUser()
	if err != nil {
		return "", err
	}
	return user.ID, nil
}
