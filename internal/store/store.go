// Package store defines the document store the dashboard widgets read and
// write through.
//
// A store holds Records at slash-separated paths ("users/u1/tasks/k1"). A
// Snapshot of a path carries the record stored exactly at that path, if any,
// plus the records stored directly beneath it, so subscribing to a collection
// path ("users/u1/tasks") yields every child record on each change.
//
// Implementations:
//   - store/db: SQL-backed store (embedded SQLite or a hosted libSQL/Turso database)
//   - store/remote: client for a store served by the dashboard backend
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when a path holds no record.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Store is the remote document store.
//
// Set replaces the record at path (upsert). Update merges fields into the
// record at path, creating it if absent. Delete removes the record at path and
// everything beneath it; deleting a missing path is not an error.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Subscribe(ctx context.Context, path string) (*Subscription, error)
	Set(ctx context.Context, path string, rec Record) error
	Update(ctx context.Context, path string, partial Record) error
	Delete(ctx context.Context, path string) error
	GenerateKey(ctx context.Context, path string) (string, error)
	Close() error
}

// Notifier is implemented by stores that can report every mutation they apply.
type Notifier interface {
	Notify(fn func(Change)) (cancel func())
}

// Walker is implemented by stores that can enumerate a subtree. Records are
// visited in path order.
type Walker interface {
	Walk(ctx context.Context, root string, fn func(path string, rec Record) error) error
}

// Op identifies the kind of mutation in a Change.
type Op string

const (
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one applied mutation.
type Change struct {
	Path string    `json:"path"`
	Op   Op        `json:"op"`
	Time time.Time `json:"time"`
}

// Snapshot is the state of a path at one point in time.
type Snapshot struct {
	Path     string            `json:"path"`
	Exists   bool              `json:"exists"`
	Value    Record            `json:"value,omitempty"`
	Children map[string]Record `json:"children,omitempty"`
}

// Keys returns the child keys in ascending order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Children))
	for k := range s.Children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Empty reports whether the snapshot has neither a value nor children.
func (s Snapshot) Empty() bool {
	return !s.Exists && len(s.Children) == 0
}

// Record is a single editable document: field name to scalar value.
type Record map[string]any

// Clone returns a shallow copy of r. Values are scalars so this is a full copy
// in practice.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with the fields of partial applied on top.
// A nil field value in partial removes the field.
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(partial))
	}
	for k, v := range partial {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the field as a string, or "" if absent or not a string.
func (r Record) String(field string) string {
	if s, ok := r[field].(string); ok {
		return s
	}
	return ""
}

// Bool returns the field as a bool, or false if absent or not a bool.
func (r Record) Bool(field string) bool {
	if b, ok := r[field].(bool); ok {
		return b
	}
	return false
}

// Int returns the field as an int. JSON decoding yields float64, so both
// integer and floating representations are accepted.
func (r Record) Int(field string) int {
	switch v := r[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}

// Validate checks that every value is a scalar a store can persist.
func (r Record) Validate() error {
	for k, v := range r {
		if k == "" {
			return fmt.Errorf("field name cannot be empty")
		}
		switch v.(type) {
		case nil, string, bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("field %q: unsupported value type %T", k, v)
		}
	}
	return nil
}
