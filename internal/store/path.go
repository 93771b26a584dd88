package store

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxPathLength bounds the length of a full path.
const MaxPathLength = 768

// Join builds a path from segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the segments of a path.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Parent returns the path one level up, or "" for a top-level path.
func Parent(path string) string {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of a path.
func Base(path string) string {
	path = strings.Trim(path, "/")
	return path[strings.LastIndex(path, "/")+1:]
}

// Clean trims surrounding slashes.
func Clean(path string) string {
	return strings.Trim(path, "/")
}

// Within reports whether path equals root or lies beneath it.
// Every path is within the empty root.
func Within(path, root string) bool {
	path, root = Clean(path), Clean(root)
	if root == "" || path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}

// Related reports whether a change at one path affects a view of the other:
// the paths are equal or one contains the other.
func Related(a, b string) bool {
	return Within(a, b) || Within(b, a)
}

// ValidatePath checks that path is non-empty and made of usable segments.
func ValidatePath(path string) error {
	path = Clean(path)
	if path == "" {
		return fmt.Errorf("%w: path is empty", ErrInvalidPath)
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("%w: path exceeds %d characters", ErrInvalidPath, MaxPathLength)
	}
	for _, seg := range strings.Split(path, "/") {
		if err := ValidateKey(seg); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
		}
	}
	return nil
}

// ValidateKey checks a single path segment.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty segment")
	}
	if key == "." || key == ".." {
		return fmt.Errorf("segment %q not allowed", key)
	}
	for _, r := range key {
		if unicode.IsControl(r) || r == '/' {
			return fmt.Errorf("segment %q contains an invalid character", key)
		}
	}
	return nil
}
