package memory

import (
	"context"
	"fmt"
	"sync"

	payments "finsuite/internal/payments/domain"
)

// TransactionRepository keeps transactions in process memory.
type TransactionRepository struct {
	mu    sync.Mutex
	items map[string]payments.TransactionState
}

// NewTransactionRepository constructs an empty repository.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{items: make(map[string]payments.TransactionState)}
}

// Get implements payments.TransactionRepository.
func (r *TransactionRepository) Get(_ context.Context, id string) (*payments.Transaction, error) {
	r.mu.Lock()
	state, ok := r.items[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", payments.ErrTransactionNotFound, id)
	}
	return payments.RestoreTransaction(state)
}

// FindByProviderReference implements payments.TransactionRepository.
func (r *TransactionRepository) FindByProviderReference(_ context.Context, provider, reference string) (*payments.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.items {
		if state.Provider == provider && state.ProviderTransactionID == reference && reference != "" {
			return payments.RestoreTransaction(state)
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", payments.ErrTransactionNotFound, provider, reference)
}

// Save implements payments.TransactionRepository.
func (r *TransactionRepository) Save(_ context.Context, tx *payments.Transaction) error {
	state := tx.State()
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.items[state.ID]
	if exists && current.Version != state.Version {
		return fmt.Errorf("%w: %s at version %d, stored %d", payments.ErrConcurrentUpdate, state.ID, state.Version, current.Version)
	}
	if !exists && state.Version != 0 {
		return fmt.Errorf("%w: %s", payments.ErrTransactionNotFound, state.ID)
	}
	state.Version++
	r.items[state.ID] = state
	tx.MarkPersisted(state.Version)
	return nil
}
