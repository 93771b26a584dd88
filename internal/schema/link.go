package schema

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Link is a quick-access bookmark.
type Link struct {
	Key   string
	Title string
	URL   string
	Order int
}

// DefaultLinks are seeded for a user with no links.
var DefaultLinks = []Link{
	{Title: "Discord", URL: "https://discord.com/app"},
	{Title: "GitHub", URL: "https://github.com"},
}

// LinkPath returns the path of a user's link.
func LinkPath(uid, key string) string {
	return UserPath(uid, LinksCollection, key)
}

// ValidateURL checks that raw is an absolute URL with a scheme and host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must include a scheme and host (got %q)", raw)
	}
	return nil
}

// Validate checks if the Link has valid field values.
func (l *Link) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(l.URL) == "" {
		return fmt.Errorf("url is required")
	}
	return ValidateURL(l.URL)
}

// Record returns the stored form of the link.
func (l *Link) Record() store.Record {
	return store.Record{"title": l.Title, "url": l.URL, "order": l.Order}
}

// LinkFromRecord decodes a stored link.
func LinkFromRecord(key string, rec store.Record) *Link {
	return &Link{
		Key:   key,
		Title: rec.String("title"),
		URL:   rec.String("url"),
		Order: rec.Int("order"),
	}
}
