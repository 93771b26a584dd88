package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Error codes carried in API error bodies.
const (
	CodeNotFound    = "not_found"
	CodeInvalidPath = "invalid_path"
	CodeBadRequest  = "bad_request"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// maxBodySize bounds a record upload.
const maxBodySize = 1 << 20

// APIError is the JSON body of a failed API request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// KeyResponse is the body of a key generation request.
type KeyResponse struct {
	Key string `json:"key"`
}

// TreeEntry is one record in a subtree listing.
type TreeEntry struct {
	Path  string       `json:"path"`
	Value store.Record `json:"value"`
}

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/db/{path...}", s.handleGet)
	mux.HandleFunc("PUT /v1/db/{path...}", s.handleSet)
	mux.HandleFunc("PATCH /v1/db/{path...}", s.handleUpdate)
	mux.HandleFunc("DELETE /v1/db/{path...}", s.handleDelete)
	mux.HandleFunc("POST /v1/keys/{path...}", s.handleGenerateKey)
	mux.HandleFunc("GET /v1/tree/{path...}", s.handleTree)
	mux.HandleFunc("GET /v1/ws", s.handleSubscribe)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.Context(), r.PathValue("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.readRecord(w, r)
	if !ok {
		return
	}
	if err := s.store.Set(r.Context(), r.PathValue("path"), rec); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.readRecord(w, r)
	if !ok {
		return
	}
	if err := s.store.Update(r.Context(), r.PathValue("path"), rec); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("path")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.store.GenerateKey(r.Context(), r.PathValue("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, KeyResponse{Key: key})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	walker, ok := s.store.(store.Walker)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, APIError{Code: CodeUnavailable, Message: "store cannot list subtrees"})
		return
	}

	entries := []TreeEntry{}
	err := walker.Walk(r.Context(), r.PathValue("path"), func(path string, rec store.Record) error {
		entries = append(entries, TreeEntry{Path: path, Value: rec})
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleSubscribe streams snapshots of ?path= until either side goes away.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := store.ValidatePath(path); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	defer s.trackSubscriber(conn, path)()

	// Client messages are ignored; the context ends when the client leaves.
	ctx := conn.CloseRead(s.ctx)

	sub, err := s.store.Subscribe(ctx, path)
	if err != nil {
		s.closeWithError(conn, err)
		return
	}
	defer sub.Close()

	for snap := range sub.C {
		msg, err := NewMessage(MessageTypeSnapshot, snap)
		if err != nil {
			s.logger.Printf("Failed to marshal snapshot: %v", err)
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = wsjson.Write(wctx, conn, msg)
		cancel()
		if err != nil {
			return
		}
	}

	if err := sub.Err(); err != nil {
		s.logger.Printf("Subscription to %s failed: %v", path, err)
		s.closeWithError(conn, err)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) closeWithError(conn *websocket.Conn, err error) {
	code, _ := classify(err)
	msg, _ := NewMessage(MessageTypeError, ErrorData{Code: code, Message: err.Error()})

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, msg)
	_ = conn.Close(websocket.StatusInternalError, code)
}

func (s *Server) readRecord(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: CodeBadRequest, Message: err.Error()})
		return nil, false
	}
	if len(body) > maxBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, APIError{Code: CodeBadRequest, Message: "record too large"})
		return nil, false
	}

	var rec store.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: CodeBadRequest, Message: fmt.Sprintf("invalid record: %v", err)})
		return nil, false
	}
	if rec == nil {
		rec = store.Record{}
	}
	if err := rec.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: CodeBadRequest, Message: err.Error()})
		return nil, false
	}
	return rec, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("Request failed: %v", err)
	}
	writeJSON(w, status, APIError{Code: code, Message: err.Error()})
}

// classify maps store errors onto API codes and HTTP statuses.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, store.ErrInvalidPath):
		return CodeInvalidPath, http.StatusBadRequest
	case errors.Is(err, store.ErrClosed):
		return CodeUnavailable, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
