package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ElijahFeldman7/workflow/internal/store"
	"github.com/ElijahFeldman7/workflow/internal/store/db"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// setupTestServer mounts a server over an in-memory store on httptest.
func setupTestServer(t *testing.T) (*Server, *httptest.Server, *db.Store) {
	t.Helper()

	st, err := db.Open(db.Options{DSN: db.MemoryDSN, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	server := NewServer(st, &Config{Logger: quietLogger()})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		_ = server.Stop()
		ts.Close()
		_ = st.Close()
	})
	return server, ts, st
}

func TestServerStartStop(t *testing.T) {
	st, err := db.Open(db.Options{DSN: db.MemoryDSN, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	server := NewServer(st, &Config{Host: "127.0.0.1", Port: 0, Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	addr := server.GetAddr()
	if addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Server address not resolved: %q", addr)
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var health map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
	if _, ok := health["records"]; !ok {
		t.Errorf("health should report the record count: %v", health)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	// Stopping twice is harmless.
	if err := server.Stop(); err != nil {
		t.Fatalf("Second Stop() error = %v", err)
	}
}

func TestDocumentAPI(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	do := func(method, path, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest() error = %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", method, path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"put", http.MethodPut, "/v1/db/users/u1/links/l1", `{"title":"GitHub","url":"https://github.com"}`, http.StatusNoContent},
		{"patch", http.MethodPatch, "/v1/db/users/u1/links/l1", `{"order":2}`, http.StatusNoContent},
		{"bad json", http.MethodPut, "/v1/db/users/u1/links/l2", `{`, http.StatusBadRequest},
		{"nested value", http.MethodPut, "/v1/db/users/u1/links/l2", `{"tags":["a"]}`, http.StatusBadRequest},
		{"empty path", http.MethodGet, "/v1/db/", "", http.StatusBadRequest},
		{"get", http.MethodGet, "/v1/db/users/u1/links", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				body, _ := io.ReadAll(resp.Body)
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
		})
	}

	resp := do(http.MethodGet, "/v1/db/users/u1/links", "")
	var snap store.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	l1 := snap.Children["l1"]
	if l1.String("title") != "GitHub" || l1.Int("order") != 2 {
		t.Errorf("children = %v", snap.Children)
	}

	resp = do(http.MethodPost, "/v1/keys/users/u1/links", "")
	var key KeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil || key.Key == "" {
		t.Errorf("key response = %+v, %v", key, err)
	}

	resp = do(http.MethodGet, "/v1/tree/users/u1", "")
	var entries []TreeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "users/u1/links/l1" {
		t.Errorf("tree = %+v", entries)
	}

	if resp := do(http.MethodDelete, "/v1/db/users/u1", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d", resp.StatusCode)
	}
	resp = do(http.MethodGet, "/v1/db/users/u1/links", "")
	snap = store.Snapshot{}
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	if !snap.Empty() {
		t.Errorf("expected empty subtree after delete, got %+v", snap)
	}
}

func TestChangeFeedBroadcast(t *testing.T) {
	server, ts, st := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var welcome Message
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	if welcome.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, welcome.Type)
	}
	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	if err := st.Set(ctx, "users/u1/timer", store.Record{"time": 1500, "isWorkTime": true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Failed to read update: %v", err)
	}
	if msg.Type != MessageTypeRecordUpdate {
		t.Fatalf("Expected %s, got %s", MessageTypeRecordUpdate, msg.Type)
	}
	var data RecordUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	want := RecordUpdateData{Path: "users/u1/timer", Op: store.OpSet, User: "u1"}
	if data != want {
		t.Errorf("data = %+v, want %+v", data, want)
	}

	if stats := server.Stats(); stats.Sets != 1 || stats.Clients != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPathSubscription(t *testing.T) {
	server, ts, st := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := st.Set(ctx, "users/u1/notes/n1", store.Record{"content": "hello"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?path=users/u1/notes"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() store.Snapshot {
		t.Helper()
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("Failed to read snapshot: %v", err)
		}
		if msg.Type != MessageTypeSnapshot {
			t.Fatalf("Expected %s, got %s", MessageTypeSnapshot, msg.Type)
		}
		var snap store.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			t.Fatalf("Failed to unmarshal snapshot: %v", err)
		}
		return snap
	}

	if first := read(); first.Children["n1"].String("content") != "hello" {
		t.Fatalf("initial snapshot = %+v", first)
	}
	if server.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", server.SubscriberCount())
	}

	if err := st.Update(ctx, "users/u1/notes/n1", store.Record{"content": "hello world"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if next := read(); next.Children["n1"].String("content") != "hello world" {
		t.Errorf("update snapshot = %+v", next)
	}
}

func TestPathSubscriptionRejectsBadPath(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/ws?path=")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	var apiErr APIError
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Code != CodeInvalidPath {
		t.Errorf("code = %q, want %q", apiErr.Code, CodeInvalidPath)
	}
}

func TestRoot(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("/v1/ws?path=")) {
		t.Errorf("root page missing endpoint list: %s", body)
	}
}

func TestFeedDropsSlowClient(t *testing.T) {
	f := newFeed(quietLogger())
	c := f.join(nil, Message{Type: MessageTypeStats})
	if f.len() != 1 {
		t.Fatalf("len() = %d, want 1", f.len())
	}

	// The opening message already occupies one slot.
	for i := 0; i < outboxSize-1; i++ {
		f.publish(Message{Type: MessageTypeRecordUpdate})
	}
	select {
	case <-c.dropped:
		t.Fatal("client dropped before its outbox was full")
	default:
	}

	f.publish(Message{Type: MessageTypeRecordUpdate})
	select {
	case <-c.dropped:
	default:
		t.Fatal("client with a full outbox was not dropped")
	}

	f.leave(c)
	f.leave(c)
	if f.len() != 0 {
		t.Errorf("len() = %d after leave, want 0", f.len())
	}
}
