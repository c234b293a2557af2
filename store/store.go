// Package store provides session transcript persistence backends.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/queryflow/types"
)

// SessionRecord is the persisted form of a finished (or cancelled) session.
type SessionRecord struct {
	SessionID  string                  `json:"session_id"`
	Transcript []types.TranscriptEntry `json:"transcript"`
	Meta       map[string]string       `json:"meta,omitempty"`
	SavedAt    time.Time               `json:"saved_at"`
}

// SessionStore persists session transcripts. Implementations must be safe
// for concurrent use.
type SessionStore interface {
	// PersistSession saves the transcript for a session, replacing any
	// previously saved record for the same session ID.
	PersistSession(ctx context.Context, sessionID string, transcript []types.TranscriptEntry, meta map[string]string) error

	// LoadSession returns the saved record, or ErrSessionNotFound.
	LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error)

	// Close releases backend resources.
	Close() error
}

// ErrSessionNotFound is returned when no record exists for a session ID.
var ErrSessionNotFound = types.NewError(types.ErrPersistenceFailed, "session record not found")

// MemoryStore is an in-memory SessionStore for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*SessionRecord)}
}

// PersistSession saves the transcript, overwriting any prior record.
func (s *MemoryStore) PersistSession(ctx context.Context, sessionID string, transcript []types.TranscriptEntry, meta map[string]string) error {
	record := &SessionRecord{
		SessionID:  sessionID,
		Transcript: append([]types.TranscriptEntry(nil), transcript...),
		Meta:       meta,
		SavedAt:    time.Now(),
	}
	s.mu.Lock()
	s.records[sessionID] = record
	s.mu.Unlock()
	return nil
}

// LoadSession returns the saved record for a session.
func (s *MemoryStore) LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return record, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
