package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Suitable for tests and single-instance setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{records: make(map[string]Record), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func memoryKey(scope, key string) string { return scope + "\x00" + key }

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, scope, key string, lease time.Duration) (Record, error) {
	if scope == "" || key == "" {
		return Record{}, ErrInvalidKey
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	id := memoryKey(scope, key)
	if existing, ok := s.records[id]; ok && now.Before(existing.ExpiresAt) {
		if existing.State == StateCompleted {
			existing.Result = append([]byte(nil), existing.Result...)
			return existing, nil
		}
		return Record{}, ErrInProgress
	}
	record := Record{
		Scope:     scope,
		Key:       key,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(lease),
		Token:     NewToken(),
	}
	s.records[id] = record
	return record, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, reservation Record, result []byte, ttl time.Duration) error {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	id := memoryKey(reservation.Scope, reservation.Key)
	current, ok := s.records[id]
	if !ok || current.State != StatePending || current.Token != reservation.Token {
		return ErrReservationLost
	}
	current.State = StateCompleted
	current.Result = append([]byte(nil), result...)
	current.ExpiresAt = now.Add(ttl)
	current.Token = ""
	s.records[id] = current
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, reservation Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := memoryKey(reservation.Scope, reservation.Key)
	current, ok := s.records[id]
	if !ok || current.State != StatePending || current.Token != reservation.Token {
		return ErrReservationLost
	}
	delete(s.records, id)
	return nil
}

// Purge drops expired records and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.records {
		if !now.Before(record.ExpiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}
