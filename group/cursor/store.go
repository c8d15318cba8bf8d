// Package cursor implements the cursor store (C13): per-group
// (msg_cursor, event_cursor) bookkeeping used by sync_group to resume
// where a previous pull left off.
package cursor

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/acp-sdk/acp-core/acperr"
)

// Cursors is the per-group sync position: the highest msg_id/event_id
// the client has acknowledged.
type Cursors struct {
	MsgCursor   int64 `json:"msg_cursor"`
	EventCursor int64 `json:"event_cursor"`
}

// Store is the polymorphic cursor persistence contract.
type Store interface {
	SaveMsgCursor(groupID string, cursor int64) error
	SaveEventCursor(groupID string, cursor int64) error
	LoadCursor(groupID string) (Cursors, error)
	RemoveCursor(groupID string) error
	Flush() error
	Close() error
}

// LocalStore is the built-in Store implementation: an in-memory map,
// optionally mirrored to a JSON file on Flush and read back on
// construction. An empty path means memory-only.
type LocalStore struct {
	mu   sync.Mutex
	path string
	data map[string]Cursors
}

// NewLocalStore constructs a LocalStore. If path is non-empty and the
// file exists, its contents seed the in-memory map.
func NewLocalStore(path string) (*LocalStore, error) {
	s := &LocalStore{path: path, data: make(map[string]Cursors)}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, acperr.Wrap(acperr.DBOpenFailed, "cursor: read cursor file", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, acperr.Wrap(acperr.DBOpenFailed, "cursor: decode cursor file", err)
	}
	return s, nil
}

// SaveMsgCursor records the msg_cursor for groupID.
func (s *LocalStore) SaveMsgCursor(groupID string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.data[groupID]
	c.MsgCursor = cursor
	s.data[groupID] = c
	return nil
}

// SaveEventCursor records the event_cursor for groupID.
func (s *LocalStore) SaveEventCursor(groupID string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.data[groupID]
	c.EventCursor = cursor
	s.data[groupID] = c
	return nil
}

// LoadCursor returns the current cursors for groupID, zero-valued if
// unknown.
func (s *LocalStore) LoadCursor(groupID string) (Cursors, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[groupID], nil
}

// RemoveCursor deletes groupID's entry entirely.
func (s *LocalStore) RemoveCursor(groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, groupID)
	return nil
}

// Flush writes the in-memory map to the backing JSON file. A no-op
// when path is empty (memory-only mode).
func (s *LocalStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.data)
	if err != nil {
		return acperr.Wrap(acperr.DBQueryFailed, "cursor: marshal cursor data", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return acperr.Wrap(acperr.DBQueryFailed, "cursor: write cursor file", err)
	}
	return nil
}

// Close flushes and releases the store. LocalStore holds no other
// resources.
func (s *LocalStore) Close() error {
	return s.Flush()
}
