package webhooks

import (
	"context"
	"sync"
	"time"
)

// Deduplicator remembers processed (provider, event id) pairs for a TTL.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, provider, eventID string) (bool, error)
	// RecordProcessed atomically records the pair. It returns false when another caller recorded it first.
	RecordProcessed(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error)
}

// Forgetter drops a recorded pair so the event can be delivered again.
type Forgetter interface {
	Forget(ctx context.Context, provider, eventID string) error
}

// MemoryDeduplicator is an in-process Deduplicator.
type MemoryDeduplicator struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDeduplicator constructs an empty deduplicator. A nil clock uses time.Now.
func NewMemoryDeduplicator(now func() time.Time) *MemoryDeduplicator {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduplicator{entries: make(map[string]time.Time), now: now}
}

func dedupKey(provider, eventID string) string { return provider + "\x00" + eventID }

// IsDuplicate implements Deduplicator.
func (d *MemoryDeduplicator) IsDuplicate(_ context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	expires, ok := d.entries[dedupKey(provider, eventID)]
	return ok && d.now().Before(expires), nil
}

// RecordProcessed implements Deduplicator.
func (d *MemoryDeduplicator) RecordProcessed(_ context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	key := dedupKey(provider, eventID)
	if expires, ok := d.entries[key]; ok && now.Before(expires) {
		return false, nil
	}
	d.entries[key] = now.Add(ttl)
	return true, nil
}

// Forget implements Forgetter.
func (d *MemoryDeduplicator) Forget(_ context.Context, provider, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, dedupKey(provider, eventID))
	return nil
}
