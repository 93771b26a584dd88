package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeRecordUpdate indicates a record was set, updated, or deleted
	MessageTypeRecordUpdate MessageType = "record_update"

	// MessageTypeStats carries mutation counters
	MessageTypeStats MessageType = "stats"

	// MessageTypeSnapshot carries the current state of a subscribed path
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeError reports a failed subscription before the socket closes
	MessageTypeError MessageType = "error"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RecordUpdateData contains record change information
type RecordUpdateData struct {
	Path string   `json:"path"`
	Op   store.Op `json:"op"`
	User string   `json:"user,omitempty"` // uid for paths under users/
}

// StatsData contains mutation counters since the server started
type StatsData struct {
	Sets    int `json:"sets"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
	Clients int `json:"clients"`
}

// ErrorData describes a failure sent over a socket
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage marshals data into a message of the given type.
func NewMessage(typ MessageType, data any) (Message, error) {
	msg := Message{Type: typ, Timestamp: time.Now()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}

// Handler turns store changes into dashboard messages.
// It bridges between the store's change feed and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new change handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnChange handles one applied mutation
func (h *Handler) OnChange(c store.Change) {
	h.mu.Lock()
	switch c.Op {
	case store.OpSet:
		h.stats.Sets++
	case store.OpUpdate:
		h.stats.Updates++
	case store.OpDelete:
		h.stats.Deletes++
	}
	h.mu.Unlock()

	data := RecordUpdateData{Path: c.Path, Op: c.Op}
	if parts := store.Split(c.Path); len(parts) >= 2 && parts[0] == "users" {
		data.User = parts[1]
	}

	msg, err := NewMessage(MessageTypeRecordUpdate, data)
	if err != nil {
		h.logger.Printf("Failed to marshal record data: %v", err)
		return
	}
	if !c.Time.IsZero() {
		msg.Timestamp = c.Time
	}
	h.server.Broadcast(msg)
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := h.stats
	stats.Clients = h.server.ClientCount()
	return stats
}

// StatsMessage returns the current statistics as a message
func (h *Handler) StatsMessage() Message {
	msg, err := NewMessage(MessageTypeStats, h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return msg
}
