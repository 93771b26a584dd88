// Package autosave buffers local edits to store records and writes each
// entity once it has gone a quiet period without further edits.
//
// Edits are applied optimistically: Value returns the latest local edit right
// away while the write is still pending. A Controller owns one collection path
// and debounces every entity key beneath it independently.
package autosave
