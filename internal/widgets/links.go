package widgets

import (
	"context"
	"fmt"
	"strings"

	"github.com/ElijahFeldman7/workflow/internal/autosave"
	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Links is the quick links widget.
type Links struct {
	*collection
	uid string
}

// NewLinks opens the signed-in user's links.
func NewLinks(st store.Store, session Session, cfg *Config) (*Links, error) {
	uid, err := userID(session)
	if err != nil {
		return nil, err
	}
	c, err := newCollection(st, schema.UserPath(uid, schema.LinksCollection), cfg.withDefaults(), autosave.Hooks{})
	if err != nil {
		return nil, err
	}
	return &Links{collection: c, uid: uid}, nil
}

// EnsureDefaults seeds the default links when the user has none.
func (l *Links) EnsureDefaults(ctx context.Context) (bool, error) {
	if len(l.Items()) > 0 {
		return false, nil
	}
	for i, def := range schema.DefaultLinks {
		link := def
		link.Order = i
		if _, err := l.Create(ctx, link.Record()); err != nil {
			return true, fmt.Errorf("failed to seed link %q: %w", link.Title, err)
		}
	}
	l.logger.Printf("Seeded %d default links for %s", len(schema.DefaultLinks), l.uid)
	return true, nil
}

// Add appends a link. Title and URL are both required.
func (l *Links) Add(ctx context.Context, title, url string) (*schema.Link, error) {
	link := &schema.Link{Title: strings.TrimSpace(title), URL: strings.TrimSpace(url)}
	if err := link.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link: %w", err)
	}
	for _, existing := range l.List() {
		if existing.Order >= link.Order {
			link.Order = existing.Order + 1
		}
	}

	key, err := l.Create(ctx, link.Record())
	if err != nil {
		return nil, err
	}
	link.Key = key
	return link, nil
}

// Edit changes a link's title and URL. The write is debounced.
func (l *Links) Edit(key, title, url string) error {
	link, err := l.Link(key)
	if err != nil {
		return err
	}
	link.Title, link.URL = strings.TrimSpace(title), strings.TrimSpace(url)
	if err := link.Validate(); err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}
	return l.collection.Edit(key, link.Record())
}

// Link returns one link.
func (l *Links) Link(key string) (*schema.Link, error) {
	rec, ok := l.Get(key)
	if !ok {
		return nil, fmt.Errorf("link %s: %w", key, ErrUnknownItem)
	}
	return schema.LinkFromRecord(key, rec), nil
}

// List returns links in display order.
func (l *Links) List() []*schema.Link {
	items := l.Items()
	keys := sortedKeys(items, func(a, b store.Record) bool {
		return a.Int("order") < b.Int("order")
	})
	links := make([]*schema.Link, 0, len(keys))
	for _, key := range keys {
		links = append(links, schema.LinkFromRecord(key, items[key]))
	}
	return links
}
