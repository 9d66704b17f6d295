package eventing

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRecord struct {
	id       string
	env      Envelope
	status   string
	attempts int
	created  time.Time
}

// MemoryStore keeps outbox, processed and dead-letter records in process.
// It backs the memory store backend and tests.
type MemoryStore struct {
	mu        sync.Mutex
	outbox    []*memoryRecord
	byEventID map[string]*memoryRecord
	processed map[string]struct{}
	dlq       map[string]error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEventID: make(map[string]*memoryRecord),
		processed: make(map[string]struct{}),
		dlq:       make(map[string]error),
	}
}

// Insert implements OutboxWriter. Re-inserting an event id is a no-op.
func (s *MemoryStore) Insert(_ context.Context, env Envelope) (string, error) {
	if env.EventID == "" {
		return "", errors.New("memory outbox: empty event id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byEventID[env.EventID]; ok {
		return existing.id, nil
	}
	record := &memoryRecord{id: NewEventID(), env: env, status: "pending", created: time.Now()}
	s.outbox = append(s.outbox, record)
	s.byEventID[env.EventID] = record
	return record.id, nil
}

// ListPending implements OutboxStore.
func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboxRecord
	for _, record := range s.outbox {
		if record.status != "pending" {
			continue
		}
		out = append(out, OutboxRecord{ID: record.id, Envelope: record.env})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSent implements OutboxStore.
func (s *MemoryStore) MarkSent(_ context.Context, id string) error {
	return s.setStatus(id, "sent")
}

// MarkFailed implements OutboxStore.
func (s *MemoryStore) MarkFailed(_ context.Context, id string) error {
	return s.setStatus(id, "failed")
}

func (s *MemoryStore) setStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.outbox {
		if record.id == id {
			record.status = status
			if status == "failed" {
				record.attempts++
			}
			return nil
		}
	}
	return errors.New("memory outbox: record not found")
}

// RecordFailure implements DLQStore.
func (s *MemoryStore) RecordFailure(_ context.Context, env Envelope, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlq[env.EventID] = err
	return nil
}

// DeadLetters returns how many events are in the dead letter set.
func (s *MemoryStore) DeadLetters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dlq)
}

// HasProcessed implements ProcessedStore.
func (s *MemoryStore) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[consumerName+"\x00"+eventID]
	return ok, nil
}

// MarkProcessed implements ProcessedStore.
func (s *MemoryStore) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[consumerName+"\x00"+eventID] = struct{}{}
	return nil
}
