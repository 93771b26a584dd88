// Package auth tracks the signed-in user.
//
// The session is a small YAML file in the data directory, so every command
// run from the same directory acts as the same user. User IDs are derived
// from the email address, which lets a user sign in on another machine and
// find their data under the same users/{id} subtree.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// SessionFile is the session's file name inside the data directory.
const SessionFile = "session.yaml"

var (
	// ErrEmailRequired is returned by SignIn for a blank email.
	ErrEmailRequired = errors.New("email is required")

	// ErrSignedOut is returned when an operation needs a user and none is
	// signed in.
	ErrSignedOut = errors.New("not signed in")
)

// User is the signed-in account.
type User struct {
	ID          string    `yaml:"id"`
	Email       string    `yaml:"email"`
	DisplayName string    `yaml:"display_name,omitempty"`
	SignedInAt  time.Time `yaml:"signed_in_at"`
}

// Name returns the display name, falling back to the email's local part.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// UserID derives the stable user ID for an email address (UUIDv5).
func UserID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+normalizeEmail(email))).String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Config holds configuration for a Manager.
type Config struct {
	// Logger for auth activity (default: stderr logger)
	Logger *log.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// Manager owns the session file and notifies subscribers of sign-in changes.
type Manager struct {
	path   string
	store  store.Store
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	user     *User
	next     uint64
	watchers map[uint64]chan *User
}

// NewManager loads the session stored in dir, if any. Profiles are written to
// st on sign-in.
func NewManager(dir string, st store.Store, cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	m := &Manager{
		path:     filepath.Join(dir, SessionFile),
		store:    st,
		logger:   cfg.Logger,
		now:      cfg.Now,
		watchers: make(map[uint64]chan *User),
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	if m.now == nil {
		m.now = time.Now
	}

	user, err := readSession(m.path)
	if err != nil {
		return nil, err
	}
	m.user = user
	return m, nil
}

func readSession(path string) (*User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session %s: %w", path, err)
	}

	var user User
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	if user.ID == "" || user.Email == "" {
		return nil, nil
	}
	return &user, nil
}

func writeSession(path string, user *User) error {
	data, err := yaml.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SignIn records email as the current user and writes their profile.
func (m *Manager) SignIn(ctx context.Context, email, displayName string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	user := &User{
		ID:          UserID(email),
		Email:       email,
		DisplayName: strings.TrimSpace(displayName),
		SignedInAt:  m.now().UTC().Truncate(time.Second),
	}
	profile := &schema.Profile{Email: user.Email, DisplayName: user.DisplayName, LastSignIn: user.SignedInAt}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	if m.store != nil {
		if err := m.store.Set(ctx, schema.ProfilePath(user.ID), profile.Record()); err != nil {
			return nil, fmt.Errorf("failed to write profile: %w", err)
		}
	}
	if err := writeSession(m.path, user); err != nil {
		return nil, err
	}

	m.logger.Printf("Signed in as %s (%s)", user.Email, user.ID)
	m.publish(user)
	return user, nil
}

// SignOut clears the session. Signing out while signed out is a no-op.
func (m *Manager) SignOut() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	m.mu.Lock()
	was := m.user
	m.mu.Unlock()
	if was == nil {
		return nil
	}

	m.logger.Printf("Signed out %s", was.Email)
	m.publish(nil)
	return nil
}

// CurrentUser returns the signed-in user, or nil.
func (m *Manager) CurrentUser() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// RequireUser returns the signed-in user or ErrSignedOut.
func (m *Manager) RequireUser() (*User, error) {
	if u := m.CurrentUser(); u != nil {
		return u, nil
	}
	return nil, ErrSignedOut
}

// SubscribeAuthState streams the current user (nil when signed out): once
// immediately, then after every sign-in or sign-out. Slow readers only see the
// latest state. The channel is closed when ctx is done.
func (m *Manager) SubscribeAuthState(ctx context.Context) <-chan *User {
	ch := make(chan *User, 1)

	m.mu.Lock()
	id := m.next
	m.next++
	m.watchers[id] = ch
	ch <- copyUser(m.user)
	m.mu.Unlock()

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
		close(ch)
	})
	return ch
}

func (m *Manager) publish(user *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = copyUser(user)
	for _, ch := range m.watchers {
		// Replace an unread state with the newer one.
		select {
		case <-ch:
		default:
		}
		ch <- copyUser(user)
	}
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
