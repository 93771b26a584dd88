package db

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// setupTestStore opens an in-memory store with a silent logger.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(Options{DSN: MemoryDSN, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "memory", opts: Options{DSN: MemoryDSN}},
		{name: "file", opts: Options{DSN: filepath.Join(t.TempDir(), "nested", "workflow.db")}},
		{name: "empty dsn", opts: Options{}, wantErr: true},
		{name: "unknown driver", opts: Options{Driver: "postgres", DSN: "x"}, wantErr: true},
		{name: "libsql without target", opts: Options{Driver: DriverLibSQL}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = log.New(io.Discard, "", 0)
			st, err := Open(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if st != nil {
				if err := st.Close(); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}
		})
	}
}

func TestStore_SetGet(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	rec := store.Record{"title": "Groceries", "content": "milk"}
	if err := st.Set(ctx, "users/u1/notes/n1", rec); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	snap, err := st.Get(ctx, "users/u1/notes/n1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !snap.Exists {
		t.Fatal("expected record to exist")
	}
	if diff := cmp.Diff(rec, snap.Value); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}

	coll, err := st.Get(ctx, "users/u1/notes")
	if err != nil {
		t.Fatalf("Get(collection) error = %v", err)
	}
	if coll.Exists {
		t.Error("collection path should hold no record of its own")
	}
	if diff := cmp.Diff(map[string]store.Record{"n1": rec}, coll.Children); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_SetReplacesSubtree(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	mustSet(t, st, "a/b", store.Record{"x": "1"})
	mustSet(t, st, "a/b/c", store.Record{"y": "2"})
	mustSet(t, st, "a/b", store.Record{"z": "3"})

	snap, err := st.Get(ctx, "a/b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(snap.Children) != 0 {
		t.Errorf("expected children to be removed, got %v", snap.Children)
	}
	if diff := cmp.Diff(store.Record{"z": "3"}, snap.Value); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_UpdateMerges(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Update(ctx, "tasks/t1", store.Record{"text": "draft"}); err != nil {
		t.Fatalf("Update() on missing record error = %v", err)
	}
	if err := st.Update(ctx, "tasks/t1", store.Record{"completed": true}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap, err := st.Get(ctx, "tasks/t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := store.Record{"text": "draft", "completed": true}
	if diff := cmp.Diff(want, snap.Value); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_DeleteSubtree(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	mustSet(t, st, "users/u1/tasks/t1", store.Record{"text": "a"})
	mustSet(t, st, "users/u1/tasks/t2", store.Record{"text": "b"})
	mustSet(t, st, "users/u10/tasks/t1", store.Record{"text": "other user"})

	if err := st.Delete(ctx, "users/u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	// Deleting again is a no-op.
	if err := st.Delete(ctx, "users/u1"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}

	count, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record left, got %d", count)
	}

	snap, err := st.Get(ctx, "users/u10/tasks")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(snap.Children) != 1 {
		t.Errorf("sibling prefix user should be untouched, got %v", snap.Children)
	}
}

func TestStore_InvalidInput(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Set(ctx, "", store.Record{}); !errors.Is(err, store.ErrInvalidPath) {
		t.Errorf("Set(\"\") error = %v, want ErrInvalidPath", err)
	}
	if err := st.Set(ctx, "a//b", store.Record{}); !errors.Is(err, store.ErrInvalidPath) {
		t.Errorf("Set(a//b) error = %v, want ErrInvalidPath", err)
	}
	if err := st.Set(ctx, "a", store.Record{"bad": []string{"x"}}); err == nil {
		t.Error("expected error for non-scalar value")
	}
}

func TestStore_GenerateKeyOrdered(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	first, err := st.GenerateKey(ctx, "tasks")
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := st.GenerateKey(ctx, "tasks")
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if first == second {
		t.Fatal("keys should be unique")
	}
	if first > second {
		t.Errorf("keys should sort in creation order: %s > %s", first, second)
	}
}

func TestStore_Subscribe(t *testing.T) {
	st := setupTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mustSet(t, st, "users/u1/links/l1", store.Record{"title": "GitHub"})

	sub, err := st.Subscribe(ctx, "users/u1/links")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	first := next(t, ctx, sub)
	if len(first.Children) != 1 {
		t.Fatalf("initial snapshot should carry the current value, got %v", first.Children)
	}

	mustSet(t, st, "users/u1/links/l2", store.Record{"title": "Discord"})
	second := next(t, ctx, sub)
	if len(second.Children) != 2 {
		t.Fatalf("expected 2 children after write, got %v", second.Children)
	}

	// Unrelated writes don't wake the subscriber.
	mustSet(t, st, "users/u2/links/l1", store.Record{"title": "Other"})
	if err := st.Delete(ctx, "users/u1/links/l1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	third := next(t, ctx, sub)
	if _, ok := third.Children["l1"]; ok {
		t.Errorf("deleted child still present: %v", third.Children)
	}

	sub.Close()
	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after Close")
	}
	if sub.Err() != nil {
		t.Errorf("Err() = %v after Close, want nil", sub.Err())
	}
}

func TestStore_NotifyAndWalk(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	var changes []store.Change
	cancel := st.Notify(func(c store.Change) { changes = append(changes, c) })
	defer cancel()

	mustSet(t, st, "users/u1/habits/h1", store.Record{"name": "Read"})
	if err := st.Update(ctx, "users/u1/habits/h1", store.Record{"mon": true}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	mustSet(t, st, "users/u1/timer", store.Record{"time": 1500})

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if changes[1].Op != store.OpUpdate || changes[1].Path != "users/u1/habits/h1" {
		t.Errorf("unexpected change: %+v", changes[1])
	}

	var paths []string
	err := st.Walk(ctx, "users/u1", func(path string, rec store.Record) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := []string{"users/u1/habits/h1", "users/u1/timer"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Closed(t *testing.T) {
	st := setupTestStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := st.Get(context.Background(), "a"); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
}

func mustSet(t *testing.T, st *Store, path string, rec store.Record) {
	t.Helper()
	if err := st.Set(context.Background(), path, rec); err != nil {
		t.Fatalf("Set(%s) error = %v", path, err)
	}
}

func next(t *testing.T, ctx context.Context, sub *store.Subscription) store.Snapshot {
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
