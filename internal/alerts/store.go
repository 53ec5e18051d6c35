package alerts

import (
	"sync"
	"time"

	"vitalwatch/internal/model"
)

// Entry is an alert together with the moment the monitor first saw it.
type Entry struct {
	Alert      model.Alert `json:"alert"`
	ObservedAt time.Time   `json:"observed_at"`
}

// Store is a bounded, arrival-ordered buffer of observed alerts.
type Store struct {
	mu    sync.RWMutex
	buf   []Entry
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, e)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = e
}

// List returns the newest limit entries, oldest first.
func (s *Store) List(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]Entry, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.buf {
		if !e.ObservedAt.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
