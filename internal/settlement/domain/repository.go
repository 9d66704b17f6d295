package settlement

import "context"

// Repository persists settlement batches. Save fails with ErrConcurrentUpdate
// when the stored version moved since the batch was loaded.
type Repository interface {
	Get(ctx context.Context, id string) (*Batch, error)
	FindOpen(ctx context.Context, tenantID, provider, currency string) (*Batch, error)
	List(ctx context.Context, tenantID string) ([]BatchState, error)
	Save(ctx context.Context, batch *Batch) error
}
