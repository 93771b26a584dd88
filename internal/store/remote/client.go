// Package remote implements store.Store against a dashboard server.
//
// Reads and writes go through the server's REST document API; Subscribe opens
// a WebSocket per subscription and streams the server's snapshots. HTTP
// errors are mapped back onto the store package's sentinel errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ElijahFeldman7/workflow/internal/dashboard"
	"github.com/ElijahFeldman7/workflow/internal/store"
)

// Options configures a Client.
type Options struct {
	// HTTPClient for REST calls and WebSocket handshakes (default: a client
	// with its own transport).
	HTTPClient *http.Client

	// Logger for client activity (default: stderr logger)
	Logger *log.Logger
}

// Client is a store.Store backed by a dashboard server.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

var (
	_ store.Store  = (*Client)(nil)
	_ store.Walker = (*Client)(nil)
)

// StatusError is a failed API response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the error code onto the store's sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case dashboard.CodeNotFound:
		return store.ErrNotFound
	case dashboard.CodeInvalidPath:
		return store.ErrInvalidPath
	case dashboard.CodeUnavailable:
		return store.ErrClosed
	default:
		return nil
	}
}

// Dial connects to the dashboard server at baseURL and checks its health.
func Dial(ctx context.Context, baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https (got %q)", baseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		base:   u,
		http:   httpClient,
		logger: logger,
		ctx:    cctx,
		cancel: cancel,
	}

	if _, err := c.Health(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", u, err)
	}
	return c, nil
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var health map[string]any
	if err := c.do(ctx, http.MethodGet, c.endpoint("health", ""), nil, &health); err != nil {
		return nil, err
	}
	return health, nil
}

// endpoint builds the URL of prefix/path with each path segment escaped.
func (c *Client) endpoint(prefix, path string) string {
	segments := store.Split(path)
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := strings.TrimSuffix(c.base.String(), "/") + "/" + prefix
	if len(segments) > 0 {
		u += "/" + strings.Join(segments, "/")
	}
	return u
}

func (c *Client) check(path string) error {
	if c.closed.Load() {
		return store.ErrClosed
	}
	return store.ValidatePath(path)
}

// Get returns the snapshot of path.
func (c *Client) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := c.check(path); err != nil {
		return store.Snapshot{}, err
	}
	var snap store.Snapshot
	if err := c.do(ctx, http.MethodGet, c.endpoint("v1/db", path), nil, &snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return snap, nil
}

// Set replaces the record at path.
func (c *Client) Set(ctx context.Context, path string, rec store.Record) error {
	if err := c.check(path); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPut, c.endpoint("v1/db", path), rec, nil); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Update merges partial into the record at path.
func (c *Client) Update(ctx context.Context, path string, partial store.Record) error {
	if err := c.check(path); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPatch, c.endpoint("v1/db", path), partial, nil); err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	return nil
}

// Delete removes path and its subtree.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.check(path); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, c.endpoint("v1/db", path), nil, nil); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// GenerateKey asks the server for a new child key of path.
func (c *Client) GenerateKey(ctx context.Context, path string) (string, error) {
	if err := c.check(path); err != nil {
		return "", err
	}
	var resp dashboard.KeyResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint("v1/keys", path), nil, &resp); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return resp.Key, nil
}

// Walk calls fn for every record at or beneath root, in path order.
func (c *Client) Walk(ctx context.Context, root string, fn func(path string, rec store.Record) error) error {
	if err := c.check(root); err != nil {
		return err
	}
	var entries []dashboard.TreeEntry
	if err := c.do(ctx, http.MethodGet, c.endpoint("v1/tree", root), nil, &entries); err != nil {
		return fmt.Errorf("failed to list %s: %w", root, err)
	}
	for _, e := range entries {
		if err := fn(e.Path, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe opens a WebSocket subscription to path. The first snapshot is the
// current value.
func (c *Client) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	if err := c.check(path); err != nil {
		return nil, err
	}

	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/ws"
	u.RawQuery = url.Values{"path": {path}}.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		if resp != nil && resp.Body != nil {
			if serr := decodeError(resp); serr != nil {
				return nil, fmt.Errorf("failed to subscribe to %s: %w", path, serr)
			}
		}
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}
	conn.SetReadLimit(16 << 20)

	// Closing the client ends every subscription.
	parent, stop := mergeContext(ctx, c.ctx)

	return store.NewSubscription(parent, path, func(ctx context.Context, emit func(store.Snapshot) bool) error {
		defer stop()
		defer conn.Close(websocket.StatusNormalClosure, "")
		return readSnapshots(ctx, conn, emit)
	}), nil
}

func readSnapshots(ctx context.Context, conn *websocket.Conn, emit func(store.Snapshot) bool) error {
	for {
		var msg dashboard.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return store.ErrClosed
			}
			return fmt.Errorf("subscription read failed: %w", err)
		}

		switch msg.Type {
		case dashboard.MessageTypeSnapshot:
			var snap store.Snapshot
			if err := json.Unmarshal(msg.Data, &snap); err != nil {
				return fmt.Errorf("failed to decode snapshot: %w", err)
			}
			if !emit(snap) {
				return nil
			}
		case dashboard.MessageTypeError:
			var data dashboard.ErrorData
			_ = json.Unmarshal(msg.Data, &data)
			return &StatusError{Status: http.StatusInternalServerError, Code: data.Code, Message: data.Message}
		}
	}
}

// Close ends all subscriptions and releases idle connections.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if serr := decodeError(resp); serr != nil {
			return serr
		}
		return &StatusError{Status: resp.StatusCode}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		c.logger.Printf("Slow request: %s %s took %v", method, endpoint, elapsed)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var apiErr dashboard.APIError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		if resp.StatusCode < 400 {
			return nil
		}
		return &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &StatusError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
}

// mergeContext returns a context cancelled when either a or b is done.
func mergeContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
