package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_Stderr(t *testing.T) {
	var buf bytes.Buffer
	logs, err := Open(Options{Stderr: &buf})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer logs.Close()

	logs.New("autosave").Printf("Saved %s", "k1")
	if got := buf.String(); !strings.Contains(got, "[autosave] ") || !strings.Contains(got, "Saved k1") {
		t.Errorf("output = %q", got)
	}
}

func TestOpen_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logs, err := Open(Options{Stderr: &buf, Quiet: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	logs.New("store").Print("hidden")
	if buf.Len() != 0 {
		t.Errorf("quiet logs wrote %q", buf.String())
	}
}

func TestOpen_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "workflow.log")
	logs, err := Open(Options{File: file, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	logs.New("dashboard").Print("Client connected")
	if err := logs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := logs.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), "[dashboard] ") {
		t.Errorf("log file = %q", data)
	}
}
