// Package db provides the SQL-backed document store.
//
// Records live in a single table keyed by their full path, with the parent
// path indexed so a collection snapshot is one query. The same schema runs on
// two drivers:
//
//   - sqlite3: embedded SQLite (ncruces/go-sqlite3, WASM build) for a local
//     file or an in-memory database
//   - libsql: a hosted Turso/libSQL database, reached directly over its
//     libsql:// URL or through an embedded replica kept next to the process
//
// Every mutation is published on the store's broker after it commits, which is
// what drives Subscribe and the dashboard's realtime feed.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tursodatabase/go-libsql"

	"github.com/ElijahFeldman7/workflow/internal/store"
)

const (
	// DriverSQLite selects the embedded SQLite driver.
	DriverSQLite = "sqlite3"
	// DriverLibSQL selects the libSQL driver for hosted Turso databases.
	DriverLibSQL = "libsql"

	// MemoryDSN opens a private in-memory database.
	MemoryDSN = ":memory:"
)

// Options configures Open.
type Options struct {
	// Driver is DriverSQLite (default) or DriverLibSQL.
	Driver string

	// DSN is the database file path, or MemoryDSN.
	DSN string

	// URL is the libsql:// URL of a hosted database (libsql driver only).
	URL string

	// AuthToken authenticates against URL.
	AuthToken string

	// ReplicaPath, when set together with URL, keeps an embedded replica of
	// the hosted database at this path; reads are served locally.
	ReplicaPath string

	// Logger for store activity (default: stderr logger)
	Logger *log.Logger
}

// Store is a store.Store backed by database/sql.
type Store struct {
	conn      *sql.DB
	connector *libsql.Connector
	broker    *store.Broker
	logger    *log.Logger
	closed    atomic.Bool
	desc      string
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Notifier = (*Store)(nil)
	_ store.Walker   = (*Store)(nil)
)

// Open connects to the database described by opts and creates the schema if
// it doesn't exist.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := db.Open(db.Options{DSN: "workflow.db"})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}

	s := &Store{
		broker: store.NewBroker(),
		logger: opts.Logger,
	}

	var err error
	switch opts.Driver {
	case DriverSQLite:
		err = s.openSQLite(opts)
	case DriverLibSQL:
		err = s.openLibSQL(opts)
	default:
		return nil, fmt.Errorf("unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.logger.Printf("Opened %s", s.desc)
	return s, nil
}

func (s *Store) openSQLite(opts Options) error {
	if opts.DSN == "" {
		return fmt.Errorf("dsn cannot be empty")
	}

	memory := opts.DSN == MemoryDSN
	connStr := opts.DSN
	if !memory {
		dir := filepath.Dir(opts.DSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s", opts.DSN)
	}

	conn, err := sql.Open(DriverSQLite, connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if memory {
		// Each connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	s.conn = conn
	s.desc = fmt.Sprintf("sqlite database %s", opts.DSN)

	if memory {
		return nil
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return nil
}

func (s *Store) openLibSQL(opts Options) error {
	switch {
	case opts.URL != "" && opts.ReplicaPath != "":
		if err := os.MkdirAll(filepath.Dir(opts.ReplicaPath), 0755); err != nil {
			return fmt.Errorf("failed to create replica directory: %w", err)
		}
		connector, err := libsql.NewEmbeddedReplicaConnector(opts.ReplicaPath, opts.URL,
			libsql.WithAuthToken(opts.AuthToken))
		if err != nil {
			return fmt.Errorf("failed to create embedded replica: %w", err)
		}
		s.connector = connector
		s.conn = sql.OpenDB(connector)
		s.desc = fmt.Sprintf("libsql replica %s of %s", opts.ReplicaPath, opts.URL)

	case opts.URL != "":
		dsn := opts.URL
		if opts.AuthToken != "" {
			dsn = fmt.Sprintf("%s?authToken=%s", opts.URL, opts.AuthToken)
		}
		conn, err := sql.Open(DriverLibSQL, dsn)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		s.conn = conn
		s.desc = fmt.Sprintf("libsql database %s", opts.URL)

	case opts.DSN != "":
		conn, err := sql.Open(DriverLibSQL, fmt.Sprintf("file:%s", opts.DSN))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		s.conn = conn
		s.desc = fmt.Sprintf("libsql database %s", opts.DSN)

	default:
		return fmt.Errorf("libsql driver needs a url or dsn")
	}

	if err := s.conn.Ping(); err != nil {
		_ = s.closeConn()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// InitSchema creates the records table if it doesn't exist. This is
// idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		path TEXT PRIMARY KEY,
		parent TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON object
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Broker returns the broker mutations are published on.
func (s *Store) Broker() *store.Broker {
	return s.broker
}

// Notify implements store.Notifier.
func (s *Store) Notify(fn func(store.Change)) func() {
	return s.broker.Notify(fn)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.closeConn()
}

func (s *Store) closeConn() error {
	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if s.connector != nil {
		if err := s.connector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close replica: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) check(path string) (string, error) {
	if s.closed.Load() {
		return "", store.ErrClosed
	}
	if err := store.ValidatePath(path); err != nil {
		return "", err
	}
	return store.Clean(path), nil
}

// Get returns the snapshot of path.
func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	path, err := s.check(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, data FROM records WHERE path = ? OR parent = ?`, path, path)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to query %s: %w", path, err)
	}
	defer rows.Close()

	snap := store.Snapshot{Path: path}
	for rows.Next() {
		var p, data string
		if err := rows.Scan(&p, &data); err != nil {
			return store.Snapshot{}, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decode(data)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("failed to decode %s: %w", p, err)
		}
		if p == path {
			snap.Exists = true
			snap.Value = rec
			continue
		}
		if snap.Children == nil {
			snap.Children = make(map[string]store.Record)
		}
		snap.Children[store.Base(p)] = rec
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to read records: %w", err)
	}

	return snap, nil
}

// Subscribe streams snapshots of path: the current value first, then one
// after each related change.
func (s *Store) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	path, err := s.check(path)
	if err != nil {
		return nil, err
	}
	return s.broker.Subscribe(ctx, path, s.Get), nil
}

// Set replaces the record at path and removes anything stored beneath it.
func (s *Store) Set(ctx context.Context, path string, rec store.Record) error {
	path, err := s.check(path)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record for %s: %w", path, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteDescendants(ctx, tx, path); err != nil {
		return err
	}
	if err := upsert(ctx, tx, path, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.broker.Publish(store.Change{Path: path, Op: store.OpSet})
	return nil
}

// Update merges partial into the record at path, creating it if absent.
func (s *Store) Update(ctx context.Context, path string, partial store.Record) error {
	path, err := s.check(path)
	if err != nil {
		return err
	}
	if err := partial.Validate(); err != nil {
		return fmt.Errorf("invalid record for %s: %w", path, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current store.Record
	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM records WHERE path = ?`, path).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if current, err = decode(data); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	if err := upsert(ctx, tx, path, current.Merge(partial)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.broker.Publish(store.Change{Path: path, Op: store.OpUpdate})
	return nil
}

// Delete removes the record at path and everything beneath it.
// Returns nil if nothing is stored there (idempotent).
func (s *Store) Delete(ctx context.Context, path string) error {
	path, err := s.check(path)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	if err := deleteDescendants(ctx, tx, path); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.broker.Publish(store.Change{Path: path, Op: store.OpDelete})
	return nil
}

// GenerateKey returns a new key for a child of path. Keys are UUIDv7 strings,
// so they sort in creation order.
func (s *Store) GenerateKey(ctx context.Context, path string) (string, error) {
	if _, err := s.check(path); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return id.String(), nil
}

// Walk calls fn for every record at or beneath root, in path order.
func (s *Store) Walk(ctx context.Context, root string, fn func(path string, rec store.Record) error) error {
	root, err := s.check(root)
	if err != nil {
		return err
	}

	prefix := root + "/"
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, data FROM records WHERE path = ? OR substr(path, 1, ?) = ? ORDER BY path`,
		root, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", root, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p, data string
		if err := rows.Scan(&p, &data); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decode(data)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", p, err)
		}
		if err := fn(p, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// String describes the backing database.
func (s *Store) String() string {
	return s.desc
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, store.ErrClosed
	}
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get record count: %w", err)
	}
	return count, nil
}

func upsert(ctx context.Context, tx *sql.Tx, path string, rec store.Record) error {
	if rec == nil {
		rec = store.Record{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `
	INSERT INTO records (path, parent, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, path, store.Parent(path), string(data), now, now); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", path, err)
	}
	return nil
}

func deleteDescendants(ctx context.Context, tx *sql.Tx, path string) error {
	prefix := path + "/"
	_, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE substr(path, 1, ?) = ?`,
		utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return fmt.Errorf("failed to delete beneath %s: %w", path, err)
	}
	return nil
}

func decode(data string) (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
