package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// outboxSize is how many messages a change feed client may fall behind
// before it is disconnected.
const outboxSize = 64

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// feed fans messages out to the /ws clients. Every client drains its own
// outbox, so one slow connection never holds up the others.
type feed struct {
	logger *log.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn   *websocket.Conn
	outbox chan []byte

	dropOnce sync.Once
	dropped  chan struct{}
}

func newFeed(logger *log.Logger) *feed {
	return &feed{logger: logger, clients: make(map[*feedClient]struct{})}
}

// join registers conn and queues first as its opening message.
func (f *feed) join(conn *websocket.Conn, first Message) *feedClient {
	c := &feedClient{
		conn:    conn,
		outbox:  make(chan []byte, outboxSize),
		dropped: make(chan struct{}),
	}
	if data, err := json.Marshal(first); err == nil {
		c.outbox <- data
	}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()

	f.logger.Printf("Client connected (total: %d)", n)
	return c
}

// leave unregisters c. It is safe to call more than once.
func (f *feed) leave(c *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[c]
	delete(f.clients, c)
	n := len(f.clients)
	f.mu.Unlock()

	if ok {
		f.logger.Printf("Client disconnected (total: %d)", n)
	}
}

// publish queues msg for every client, dropping those whose outbox is full.
func (f *feed) publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Printf("Failed to marshal message: %v", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		select {
		case c.outbox <- data:
		default:
			f.logger.Printf("Warning: client fell %d messages behind, disconnecting", outboxSize)
			c.drop()
		}
	}
}

// serve writes c's outbox until ctx ends, the client goes away or it is
// dropped. Client messages are read and discarded.
func (f *feed) serve(ctx context.Context, c *feedClient) {
	defer f.leave(c)
	ctx = c.conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.Close(websocket.StatusGoingAway, "Server shutting down")
			return
		case <-c.dropped:
			_ = c.conn.Close(websocket.StatusPolicyViolation, "too slow")
			return
		case data := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				f.logger.Printf("Failed to send to client: %v", err)
				return
			}
		}
	}
}

func (f *feed) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (c *feedClient) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}
