// Package store persists sessions to SQLite as JSON records keyed by session
// id. Saves are debounced per session so the bridge can request one on every
// mutation without hammering the disk.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/joestump/claude-relay/internal/wire"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// defaultDebounce is how long a session's save request coalesces before the
// record is written.
const defaultDebounce = 500 * time.Millisecond

// Store is a debounced SQLite-backed session persister.
type Store struct {
	conn  *sql.DB
	delay time.Duration

	mu      sync.Mutex
	pending map[string]wire.PersistedSession
	timers  map[string]*time.Timer
	closed  bool
}

// Open creates the store at path and runs pending migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{
		conn:    conn,
		delay:   defaultDebounce,
		pending: make(map[string]wire.PersistedSession),
		timers:  make(map[string]*time.Timer),
	}, nil
}

// SetDebounce overrides the save coalescing window. Zero flushes immediately.
func (s *Store) SetDebounce(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// LoadAll returns every persisted session. Records that no longer decode are
// skipped with a log line rather than failing the whole restore.
func (s *Store) LoadAll() ([]wire.PersistedSession, error) {
	rows, err := s.conn.Query(`SELECT id, data FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []wire.PersistedSession
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var ps wire.PersistedSession
		if err := json.Unmarshal(data, &ps); err != nil {
			log.Printf("store: skipping undecodable session %s: %v", id, err)
			continue
		}
		if ps.ID == "" {
			ps.ID = id
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// Save schedules a debounced write of the session record. The latest
// snapshot wins when several arrive within the window. Never blocks.
func (s *Store) Save(ps wire.PersistedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ps.ID == "" {
		return
	}
	s.pending[ps.ID] = ps
	if s.delay <= 0 {
		id := ps.ID
		go s.flush(id)
		return
	}
	if _, scheduled := s.timers[ps.ID]; !scheduled {
		id := ps.ID
		s.timers[id] = time.AfterFunc(s.delay, func() { s.flush(id) })
	}
}

func (s *Store) flush(id string) {
	s.mu.Lock()
	ps, ok := s.pending[id]
	delete(s.pending, id)
	delete(s.timers, id)
	closed := s.closed
	s.mu.Unlock()
	if !ok || closed {
		return
	}
	if err := s.write(ps); err != nil {
		log.Printf("store: save session %s: %v", id, err)
	}
}

func (s *Store) write(ps wire.PersistedSession) error {
	data, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.conn.Exec(
		`INSERT INTO sessions (id, data, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		ps.ID, data,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Remove deletes a session record, cancelling any pending save for it.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if _, err := s.conn.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		log.Printf("store: remove session %s: %v", id, err)
	}
}

// Flush writes every pending record immediately. Used at shutdown.
func (s *Store) Flush() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.flush(id)
	}
}

// Close flushes pending saves and closes the database.
func (s *Store) Close() error {
	s.Flush()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}
