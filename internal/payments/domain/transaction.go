package payments

import (
	"fmt"
	"strings"
	"time"
)

// TransactionStatus is the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionCompleted  TransactionStatus = "completed"
	TransactionFailed     TransactionStatus = "failed"
	TransactionCancelled  TransactionStatus = "cancelled"
	TransactionReversed   TransactionStatus = "reversed"
)

// Direction tells whether money flows in or out of the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

var transactionTransitions = map[TransactionStatus]map[TransactionStatus]struct{}{
	TransactionPending: {
		TransactionProcessing: {},
		TransactionCancelled:  {},
	},
	TransactionProcessing: {
		TransactionCompleted: {},
		TransactionFailed:    {},
	},
	TransactionCompleted: {
		TransactionReversed: {},
	},
	TransactionFailed:    {},
	TransactionCancelled: {},
	TransactionReversed:  {},
}

// CanTransition reports whether the transaction table allows from -> to.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	_, ok := transactionTransitions[s][to]
	return ok
}

// IsTerminal reports whether no transition leaves the status.
func (s TransactionStatus) IsTerminal() bool {
	return len(transactionTransitions[s]) == 0
}

// TransactionState is the full persisted view of a transaction.
type TransactionState struct {
	ID                    string                `json:"id"`
	TenantID              string                `json:"tenant_id"`
	Direction             Direction             `json:"direction"`
	Provider              string                `json:"provider"`
	OriginalAmount        Money                 `json:"original_amount"`
	SettlementCurrency    string                `json:"settlement_currency"`
	SettlementAmount      *Money                `json:"settlement_amount,omitempty"`
	ExchangeRate          *ExchangeRateSnapshot `json:"exchange_rate,omitempty"`
	Status                TransactionStatus     `json:"status"`
	Attempts              int                   `json:"attempts"`
	ProviderTransactionID string                `json:"provider_transaction_id,omitempty"`
	FailureCode           string                `json:"failure_code,omitempty"`
	FailureMessage        string                `json:"failure_message,omitempty"`
	ReversalReason        string                `json:"reversal_reason,omitempty"`
	Metadata              map[string]string     `json:"metadata,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	ProcessedAt           time.Time             `json:"processed_at,omitempty"`
	CompletedAt           time.Time             `json:"completed_at,omitempty"`
	FailedAt              time.Time             `json:"failed_at,omitempty"`
	CancelledAt           time.Time             `json:"cancelled_at,omitempty"`
	ReversedAt            time.Time             `json:"reversed_at,omitempty"`
	Version               int                   `json:"version"`
}

func (s TransactionState) clone() TransactionState {
	out := s
	if s.SettlementAmount != nil {
		amount := *s.SettlementAmount
		out.SettlementAmount = &amount
	}
	if s.ExchangeRate != nil {
		rate := *s.ExchangeRate
		out.ExchangeRate = &rate
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func (s TransactionState) validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if s.TenantID == "" {
		return ErrEmptyTenantID
	}
	if s.Direction != DirectionInbound && s.Direction != DirectionOutbound {
		return ErrInvalidDirection
	}
	if !s.OriginalAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if s.SettlementAmount != nil && s.SettlementAmount.Currency != s.SettlementCurrency {
		return fmt.Errorf("%w: settlement amount in %s, settlement currency %s", ErrCurrencyMismatch, s.SettlementAmount.Currency, s.SettlementCurrency)
	}
	if s.ExchangeRate != nil {
		if err := s.ExchangeRate.validate(); err != nil {
			return err
		}
		if s.ExchangeRate.Source != s.OriginalAmount.Currency {
			return fmt.Errorf("%w: rate source %s, original %s", ErrExchangeRateMismatch, s.ExchangeRate.Source, s.OriginalAmount.Currency)
		}
		if s.ExchangeRate.Target != s.SettlementCurrency {
			return fmt.Errorf("%w: rate target %s, settlement %s", ErrExchangeRateMismatch, s.ExchangeRate.Target, s.SettlementCurrency)
		}
	}
	if s.SettlementCurrency != s.OriginalAmount.Currency && s.SettlementAmount != nil && s.ExchangeRate == nil {
		return fmt.Errorf("%w: cross-currency settlement without rate snapshot", ErrExchangeRateMismatch)
	}
	return nil
}

// Transaction is a tenant-scoped payment guarded by its state machine.
// It is not safe for concurrent use.
type Transaction struct {
	state TransactionState
}

// NewTransactionParams carries the inputs for a new transaction.
type NewTransactionParams struct {
	ID                 string
	TenantID           string
	Direction          Direction
	Provider           string
	Amount             Money
	SettlementCurrency string
	Metadata           map[string]string
	CreatedAt          time.Time
}

// NewTransaction creates a pending transaction.
func NewTransaction(params NewTransactionParams) (*Transaction, error) {
	currency, err := NormalizeCurrency(params.Amount.Currency)
	if err != nil {
		return nil, err
	}
	settlementCurrency := currency
	if strings.TrimSpace(params.SettlementCurrency) != "" {
		settlementCurrency, err = NormalizeCurrency(params.SettlementCurrency)
		if err != nil {
			return nil, err
		}
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	state := TransactionState{
		ID:                 params.ID,
		TenantID:           params.TenantID,
		Direction:          params.Direction,
		Provider:           params.Provider,
		OriginalAmount:     Money{Amount: params.Amount.Amount, Currency: currency},
		SettlementCurrency: settlementCurrency,
		Status:             TransactionPending,
		Metadata:           params.Metadata,
		CreatedAt:          createdAt,
	}
	state = state.clone()
	if err := state.validate(); err != nil {
		return nil, err
	}
	return &Transaction{state: state}, nil
}

// RestoreTransaction rehydrates a persisted transaction.
func RestoreTransaction(state TransactionState) (*Transaction, error) {
	state = state.clone()
	if err := state.validate(); err != nil {
		return nil, err
	}
	return &Transaction{state: state}, nil
}

// State returns a detached copy of the transaction fields.
func (t *Transaction) State() TransactionState { return t.state.clone() }

// ID returns the transaction id.
func (t *Transaction) ID() string { return t.state.ID }

// TenantID returns the owning tenant.
func (t *Transaction) TenantID() string { return t.state.TenantID }

// Status returns the current status.
func (t *Transaction) Status() TransactionStatus { return t.state.Status }

// Attempts returns how many times processing started.
func (t *Transaction) Attempts() int { return t.state.Attempts }

// OriginalAmount returns the immutable requested amount.
func (t *Transaction) OriginalAmount() Money { return t.state.OriginalAmount }

// Provider returns the processor the transaction is routed to.
func (t *Transaction) Provider() string { return t.state.Provider }

// ProviderTransactionID returns the processor reference, if known.
func (t *Transaction) ProviderTransactionID() string { return t.state.ProviderTransactionID }

// MarkProcessing moves pending -> processing and counts the attempt.
func (t *Transaction) MarkProcessing(at time.Time) error {
	return t.transition(TransactionProcessing, func(s *TransactionState) error {
		s.Attempts++
		s.ProcessedAt = at.UTC()
		return nil
	})
}

// MarkCompleted records the settled amount and moves processing -> completed.
func (t *Transaction) MarkCompleted(settled Money, at time.Time) error {
	return t.transition(TransactionCompleted, func(s *TransactionState) error {
		if !settled.IsPositive() {
			return ErrSettledAmountRequired
		}
		amount := settled
		s.SettlementAmount = &amount
		s.CompletedAt = at.UTC()
		return nil
	})
}

// MarkFailed records the processor failure and moves processing -> failed.
func (t *Transaction) MarkFailed(code, message string, at time.Time) error {
	return t.transition(TransactionFailed, func(s *TransactionState) error {
		if strings.TrimSpace(code) == "" || strings.TrimSpace(message) == "" {
			return ErrFailureDetailsRequired
		}
		s.FailureCode = code
		s.FailureMessage = message
		s.FailedAt = at.UTC()
		return nil
	})
}

// Cancel moves pending -> cancelled.
func (t *Transaction) Cancel(at time.Time) error {
	return t.transition(TransactionCancelled, func(s *TransactionState) error {
		s.CancelledAt = at.UTC()
		return nil
	})
}

// Reverse moves completed -> reversed.
func (t *Transaction) Reverse(reason string, at time.Time) error {
	return t.transition(TransactionReversed, func(s *TransactionState) error {
		if strings.TrimSpace(reason) == "" {
			return ErrReasonRequired
		}
		s.ReversalReason = reason
		s.ReversedAt = at.UTC()
		return nil
	})
}

// SetExchangeRate attaches the rate snapshot used for cross-currency settlement.
func (t *Transaction) SetExchangeRate(snapshot ExchangeRateSnapshot) error {
	return t.mutate(func(s *TransactionState) error {
		snapshot.Source = strings.ToUpper(snapshot.Source)
		snapshot.Target = strings.ToUpper(snapshot.Target)
		s.ExchangeRate = &snapshot
		return nil
	})
}

// SetProviderTransactionID stores the processor reference.
func (t *Transaction) SetProviderTransactionID(id string) error {
	return t.mutate(func(s *TransactionState) error {
		if strings.TrimSpace(id) == "" {
			return ErrEmptyID
		}
		s.ProviderTransactionID = id
		return nil
	})
}

// SetMetadata sets one metadata entry.
func (t *Transaction) SetMetadata(key, value string) error {
	return t.mutate(func(s *TransactionState) error {
		if s.Metadata == nil {
			s.Metadata = make(map[string]string)
		}
		s.Metadata[key] = value
		return nil
	})
}

// MarkPersisted records the version the repository stored.
func (t *Transaction) MarkPersisted(version int) {
	if t != nil {
		t.state.Version = version
	}
}

func (t *Transaction) transition(to TransactionStatus, apply func(*TransactionState) error) error {
	from := t.state.Status
	if !from.CanTransition(to) {
		return &InvalidStatusTransitionError{Entity: "transaction", From: string(from), To: string(to)}
	}
	return t.commit(func(s *TransactionState) error {
		if err := apply(s); err != nil {
			return err
		}
		s.Status = to
		return nil
	})
}

func (t *Transaction) mutate(apply func(*TransactionState) error) error {
	if t.state.Status.IsTerminal() {
		return fmt.Errorf("%w: transaction %s is %s", ErrTerminalState, t.state.ID, t.state.Status)
	}
	return t.commit(apply)
}

// commit applies changes to a copy and keeps them only when the result is valid.
func (t *Transaction) commit(apply func(*TransactionState) error) error {
	candidate := t.state.clone()
	if err := apply(&candidate); err != nil {
		return err
	}
	if err := candidate.validate(); err != nil {
		return err
	}
	t.state = candidate
	return nil
}
