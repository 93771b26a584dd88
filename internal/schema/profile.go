package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Profile is the user record written on sign-in.
type Profile struct {
	Email       string
	DisplayName string
	LastSignIn  time.Time
}

// ProfilePath returns the path of a user's profile.
func ProfilePath(uid string) string {
	return UserPath(uid, ProfileName)
}

// Validate checks if the Profile has valid field values.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("email must contain @ (got %q)", p.Email)
	}
	return nil
}

// Record returns the stored form of the profile.
func (p *Profile) Record() store.Record {
	return store.Record{
		"email":       p.Email,
		"displayName": p.DisplayName,
		"lastSignIn":  FormatTime(p.LastSignIn),
	}
}

// ProfileFromRecord decodes a stored profile.
func ProfileFromRecord(rec store.Record) (*Profile, error) {
	last, err := ParseTime(rec.String("lastSignIn"))
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return &Profile{
		Email:       rec.String("email"),
		DisplayName: rec.String("displayName"),
		LastSignIn:  last,
	}, nil
}
