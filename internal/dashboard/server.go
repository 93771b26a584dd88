// Package dashboard provides the backend server the dashboard widgets sync
// through.
//
// The server exposes a store over a small REST document API, streams
// snapshots of subscribed paths over per-connection WebSockets, and broadcasts
// every applied mutation to connected /ws clients for live monitoring.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

// shutdownTimeout bounds how long Stop waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// Backend is the store a Server exposes. It must report its mutations so the
// server can broadcast them.
type Backend interface {
	store.Store
	store.Notifier
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Host to bind (default: all interfaces)
	Host string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// Server serves the document API, path subscriptions and the change feed
// for one store.
type Server struct {
	addr   string
	store  Backend
	logger *log.Logger

	handler *Handler
	feed    *feed
	mux     *http.ServeMux

	listener net.Listener
	http     *http.Server

	subMu       sync.Mutex
	subscribers map[*websocket.Conn]string

	// ctx ends every WebSocket handler on Stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	attach   sync.Once
	detach   sync.Once
	unnotify func()
}

// NewServer creates a new dashboard server for st
func NewServer(st Backend, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:        net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		store:       st,
		logger:      logger,
		feed:        newFeed(logger),
		subscribers: make(map[*websocket.Conn]string),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.handler = NewHandler(s, logger)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.registerAPI(s.mux)
	return s
}

// Handler returns the server's routes and starts broadcasting store changes.
// Start calls it; tests may mount it on an httptest server instead.
func (s *Server) Handler() http.Handler {
	s.attach.Do(func() {
		s.unnotify = s.store.Notify(s.handler.OnChange)
	})
	return s.mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every WebSocket, shuts the HTTP server down and waits for its
// handlers. The store is left open. Later calls do nothing.
func (s *Server) Stop() error {
	var err error
	s.detach.Do(func() {
		s.logger.Println("Stopping dashboard server")
		if s.unnotify != nil {
			s.unnotify()
		}
		s.cancel()

		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
				err = fmt.Errorf("server shutdown error: %w", shutdownErr)
			}
		}
		// Hijacked WebSocket connections are not tracked by Shutdown.
		s.wg.Wait()
		s.logger.Println("Dashboard server stopped")
	})
	return err
}

// Broadcast queues msg for every change feed client.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	s.feed.publish(msg)
}

// handleWebSocket joins a client to the change feed. The first message is the
// current stats.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
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

	c := s.feed.join(conn, s.handler.StatsMessage())
	s.feed.serve(s.ctx, c)
}

func (s *Server) trackSubscriber(conn *websocket.Conn, path string) func() {
	s.subMu.Lock()
	s.subscribers[conn] = path
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subscribers, conn)
		s.subMu.Unlock()
	}
}

// handleHealth reports the server status and, when the store can count, the
// number of stored records.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":      "ok",
		"clients":     s.ClientCount(),
		"subscribers": s.SubscriberCount(),
	}
	if c, ok := s.store.(interface {
		Count(context.Context) (int, error)
	}); ok {
		if n, err := c.Count(r.Context()); err != nil {
			health["status"] = "degraded"
			health["error"] = err.Error()
		} else {
			health["records"] = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// handleRoot lists the endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Workflow Dashboard</title>
</head>
<body>
    <h1>Workflow Dashboard Server</h1>
    <p>Document API: <code>http://%[1]s/v1/db/{path}</code></p>
    <p>Path subscriptions: <code>ws://%[1]s/v1/ws?path={path}</code></p>
    <p>Change feed: <code>ws://%[1]s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of change feed clients
func (s *Server) ClientCount() int {
	return s.feed.len()
}

// SubscriberCount returns the current number of path subscriptions
func (s *Server) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

// Stats returns mutation counters since the server started
func (s *Server) Stats() StatsData {
	return s.handler.GetStats()
}
