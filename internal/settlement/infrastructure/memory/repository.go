package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	settlement "finsuite/internal/settlement/domain"
)

// Repository keeps batches in process memory with the same version checks as the SQL store.
type Repository struct {
	mu      sync.Mutex
	batches map[string]settlement.BatchState
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{batches: make(map[string]settlement.BatchState)}
}

// Get returns the batch or nil when unknown.
func (r *Repository) Get(_ context.Context, id string) (*settlement.Batch, error) {
	r.mu.Lock()
	state, ok := r.batches[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return settlement.RestoreBatch(state)
}

// FindOpen returns the open batch for the key or nil.
func (r *Repository) FindOpen(_ context.Context, tenantID, provider, currency string) (*settlement.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.batches {
		if state.Status == settlement.BatchOpen && state.TenantID == tenantID &&
			state.Provider == provider && state.Currency == currency {
			return settlement.RestoreBatch(state)
		}
	}
	return nil, nil
}

// Save stores the batch when its version matches the stored one.
func (r *Repository) Save(_ context.Context, batch *settlement.Batch) error {
	if batch == nil {
		return settlement.ErrNilBatch
	}
	state := batch.State()
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.batches[state.ID]
	switch {
	case !exists && state.Version != 0:
		return fmt.Errorf("%w: %s", settlement.ErrBatchNotFound, state.ID)
	case exists && current.Version != state.Version:
		return fmt.Errorf("%w: %s at version %d, stored %d", settlement.ErrConcurrentUpdate, state.ID, state.Version, current.Version)
	}
	if state.Status == settlement.BatchOpen {
		for id, other := range r.batches {
			if id != state.ID && other.Status == settlement.BatchOpen && other.TenantID == state.TenantID &&
				other.Provider == state.Provider && other.Currency == state.Currency {
				return fmt.Errorf("%w: open batch %s already exists", settlement.ErrConcurrentUpdate, id)
			}
		}
	}
	state.Version++
	r.batches[state.ID] = state
	batch.MarkPersisted(state.Version)
	return nil
}

// List returns every batch of a tenant ordered by creation time.
func (r *Repository) List(_ context.Context, tenantID string) ([]settlement.BatchState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []settlement.BatchState
	for _, state := range r.batches {
		if state.TenantID == tenantID {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
