package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ElijahFeldman7/workflow/internal/dashboard"
	"github.com/ElijahFeldman7/workflow/internal/store"
	"github.com/ElijahFeldman7/workflow/internal/store/db"
)

// setupTestClient serves an in-memory store and dials it.
func setupTestClient(t *testing.T) (*Client, *db.Store) {
	t.Helper()

	quiet := log.New(io.Discard, "", 0)
	st, err := db.Open(db.Options{DSN: db.MemoryDSN, Logger: quiet})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	server := dashboard.NewServer(st, &dashboard.Config{Logger: quiet})
	ts := httptest.NewServer(server.Handler())

	c, err := Dial(context.Background(), ts.URL, Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		_ = server.Stop()
		ts.Close()
		_ = st.Close()
	})
	return c, st
}

func TestDial(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"bad scheme", "ftp://example.com"},
		{"unreachable", "http://127.0.0.1:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := Dial(ctx, tt.url, Options{Logger: log.New(io.Discard, "", 0)}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClient_ReadWrite(t *testing.T) {
	c, st := setupTestClient(t)
	ctx := context.Background()

	path := "users/u1/schedule/2026-10-19/event_9:00_AM"
	if err := c.Set(ctx, path, store.Record{"hour": "9:00 AM", "text": "standup"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Update(ctx, path, store.Record{"text": "standup + demo"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// The write landed in the backing store under the unescaped path.
	local, err := st.Get(ctx, path)
	if err != nil || !local.Exists {
		t.Fatalf("backing store Get() = %+v, %v", local, err)
	}

	snap, err := c.Get(ctx, "users/u1/schedule/2026-10-19")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := map[string]store.Record{
		"event_9:00_AM": {"hour": "9:00 AM", "text": "standup + demo"},
	}
	if diff := cmp.Diff(want, snap.Children); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}

	key, err := c.GenerateKey(ctx, "users/u1/tasks")
	if err != nil || key == "" {
		t.Fatalf("GenerateKey() = %q, %v", key, err)
	}

	var paths []string
	if err := c.Walk(ctx, "users/u1", func(p string, _ store.Record) error {
		paths = append(paths, p)
		return nil
	}); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if diff := cmp.Diff([]string{path}, paths); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}

	if err := c.Delete(ctx, "users/u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Errorf("expected empty store after delete, got %d records", n)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	c, _ := setupTestClient(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "a//b"); !errors.Is(err, store.ErrInvalidPath) {
		t.Errorf("Get(a//b) error = %v, want ErrInvalidPath", err)
	}

	serr := &StatusError{Status: 404, Code: dashboard.CodeNotFound, Message: "record not found"}
	if !errors.Is(serr, store.ErrNotFound) {
		t.Error("not_found should unwrap to ErrNotFound")
	}
	if errors.Is(&StatusError{Status: 500, Code: dashboard.CodeInternal}, store.ErrNotFound) {
		t.Error("internal errors should not match sentinels")
	}

	if err := c.Set(ctx, "x", store.Record{"bad": []int{1}}); err == nil {
		t.Error("expected server to reject non-scalar value")
	}

	_ = c.Close()
	if err := c.Set(ctx, "x", store.Record{}); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}
}

func TestClient_Subscribe(t *testing.T) {
	c, st := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := st.Set(ctx, "users/u1/timer", store.Record{"time": 1500, "isWorkTime": true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	sub, err := c.Subscribe(ctx, "users/u1/timer")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	next := func() store.Snapshot {
		t.Helper()
		select {
		case snap, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed: %v", sub.Err())
			}
			return snap
		case <-ctx.Done():
			t.Fatal("timed out waiting for snapshot")
		}
		return store.Snapshot{}
	}

	if first := next(); first.Value.Int("time") != 1500 {
		t.Fatalf("initial snapshot = %+v", first)
	}

	// A write through the client reaches its own subscription.
	if err := c.Update(ctx, "users/u1/timer", store.Record{"time": 1499}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if snap := next(); snap.Value.Int("time") != 1499 || !snap.Value.Bool("isWorkTime") {
		t.Errorf("update snapshot = %+v", snap)
	}

	// Closing the client ends the subscription.
	_ = c.Close()
	select {
	case <-sub.Done():
	case <-ctx.Done():
		t.Fatal("subscription still running after Close")
	}
}

func TestClient_SubscribeBadPath(t *testing.T) {
	c, _ := setupTestClient(t)
	if _, err := c.Subscribe(context.Background(), "/"); !errors.Is(err, store.ErrInvalidPath) {
		t.Errorf("Subscribe(/) error = %v, want ErrInvalidPath", err)
	}
}
