// Package logging builds the process's component loggers. Each component gets
// a *log.Logger with a bracketed prefix ("[autosave] "); all of them share one
// output, which is either stderr or a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared output.
type Options struct {
	// File is the log file path; empty logs to Stderr
	File string

	MaxSizeMB  int // rotate after this size (default 10)
	MaxBackups int // rotated files to keep (default 3)
	MaxAgeDays int // days to keep rotated files (default 28)

	// Quiet discards output when no File is set
	Quiet bool

	// Stderr is the fallback output (default: os.Stderr)
	Stderr io.Writer
}

// Logs hands out component loggers over one output.
type Logs struct {
	out    io.Writer
	closer io.Closer
	once   sync.Once
}

// Open prepares the shared output.
func Open(opts Options) (*Logs, error) {
	if opts.File == "" {
		out := opts.Stderr
		if out == nil {
			out = os.Stderr
		}
		if opts.Quiet {
			out = io.Discard
		}
		return &Logs{out: out}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSizeMB, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAgeDays, 28),
		Compress:   true,
	}
	return &Logs{out: lj, closer: lj}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New returns a logger for component.
func (l *Logs) New(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (l *Logs) Writer() io.Writer {
	return l.out
}

// Close closes the log file, if any.
func (l *Logs) Close() error {
	var err error
	l.once.Do(func() {
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}
