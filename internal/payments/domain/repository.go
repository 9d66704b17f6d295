package payments

import "context"

// TransactionRepository persists transactions. Get and FindByProviderReference
// return ErrTransactionNotFound for unknown rows; Save returns ErrConcurrentUpdate
// when the stored version moved since load.
type TransactionRepository interface {
	Get(ctx context.Context, id string) (*Transaction, error)
	FindByProviderReference(ctx context.Context, provider, reference string) (*Transaction, error)
	Save(ctx context.Context, tx *Transaction) error
}
