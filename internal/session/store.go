// Package session coordinates avatar sessions: creation, heartbeats,
// speech and teardown.
package session

import (
	"sync"
	"time"

	"github.com/lexiqai/avatar-gateway/internal/liveavatar"
)

// Record is the local state kept for one provider session.
type Record struct {
	SessionID  string
	Mode       liveavatar.Mode
	Token      string // provider session token, a bearer credential
	ControlURL string // control-channel WebSocket, CUSTOM mode only
	Media      *liveavatar.Endpoint
	CreatedAt  time.Time
}

// Store keeps session records by id.
type Store interface {
	Get(sessionID string) (*Record, bool)
	Put(rec *Record)
	Delete(sessionID string) (*Record, bool)
	Len() int
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(sessionID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

func (s *MemoryStore) Put(rec *Record) {
	cp := *rec
	s.mu.Lock()
	s.records[rec.SessionID] = &cp
	s.mu.Unlock()
}

// Delete removes and returns the record, if any.
func (s *MemoryStore) Delete(sessionID string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	delete(s.records, sessionID)
	return rec, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
