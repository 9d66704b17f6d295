package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	payments "finsuite/internal/payments/domain"
)

// BatchStatus is the reconciliation state of a settlement batch.
type BatchStatus string

const (
	BatchOpen       BatchStatus = "open"
	BatchClosed     BatchStatus = "closed"
	BatchDisputed   BatchStatus = "disputed"
	BatchReconciled BatchStatus = "reconciled"
)

// BatchState is the persisted view of a batch.
type BatchState struct {
	ID                 string
	TenantID           string
	Provider           string
	Currency           string
	Status             BatchStatus
	PaymentIDs         []string
	Gross              decimal.Decimal
	Fee                decimal.Decimal
	Net                decimal.Decimal
	ExpectedSettlement *decimal.Decimal
	ActualSettlement   *decimal.Decimal
	ExternalReference  string
	DisputeReason      string
	CreatedAt          time.Time
	ClosedAt           time.Time
	DisputedAt         time.Time
	ReconciledAt       time.Time
	Version            int
}

// Batch groups captured payments of one tenant, processor and currency
// until the processor's payout is reconciled against them.
// It is not safe for concurrent use.
type Batch struct {
	state    BatchState
	payments map[string]struct{}
}

// NewBatch creates an open batch.
func NewBatch(id, tenantID, provider, currency string, createdAt time.Time) (*Batch, error) {
	state := BatchState{
		ID:        strings.TrimSpace(id),
		TenantID:  strings.TrimSpace(tenantID),
		Provider:  strings.ToLower(strings.TrimSpace(provider)),
		Status:    BatchOpen,
		Gross:     decimal.Zero,
		Fee:       decimal.Zero,
		Net:       decimal.Zero,
		CreatedAt: createdAt.UTC(),
	}
	normalized, err := payments.NormalizeCurrency(currency)
	if err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}
	state.Currency = normalized
	return RestoreBatch(state)
}

// RestoreBatch rehydrates a persisted batch.
func RestoreBatch(state BatchState) (*Batch, error) {
	if state.ID == "" {
		return nil, ErrEmptyBatchID
	}
	if state.TenantID == "" {
		return nil, ErrEmptyTenantID
	}
	if state.Provider == "" {
		return nil, ErrEmptyProvider
	}
	b := &Batch{state: cloneState(state), payments: make(map[string]struct{}, len(state.PaymentIDs))}
	for _, id := range state.PaymentIDs {
		b.payments[id] = struct{}{}
	}
	return b, nil
}

func cloneState(s BatchState) BatchState {
	out := s
	out.PaymentIDs = append([]string(nil), s.PaymentIDs...)
	if s.ExpectedSettlement != nil {
		v := *s.ExpectedSettlement
		out.ExpectedSettlement = &v
	}
	if s.ActualSettlement != nil {
		v := *s.ActualSettlement
		out.ActualSettlement = &v
	}
	return out
}

// State returns a detached copy of the batch.
func (b *Batch) State() BatchState { return cloneState(b.state) }

// ID returns the batch id.
func (b *Batch) ID() string { return b.state.ID }

// TenantID returns the owning tenant.
func (b *Batch) TenantID() string { return b.state.TenantID }

// Provider returns the processor tag.
func (b *Batch) Provider() string { return b.state.Provider }

// Currency returns the batch currency.
func (b *Batch) Currency() string { return b.state.Currency }

// Status returns the current status.
func (b *Batch) Status() BatchStatus { return b.state.Status }

// Version returns the persisted version the batch was loaded at.
func (b *Batch) Version() int { return b.state.Version }

// PaymentCount returns the number of distinct payments.
func (b *Batch) PaymentCount() int { return len(b.state.PaymentIDs) }

// HasPayment reports whether the payment id is in the batch.
func (b *Batch) HasPayment(id string) bool {
	_, ok := b.payments[id]
	return ok
}

// Gross returns the sum of payment amounts.
func (b *Batch) Gross() payments.Money { return b.money(b.state.Gross) }

// Fee returns the sum of processor fees.
func (b *Batch) Fee() payments.Money { return b.money(b.state.Fee) }

// Net returns gross minus fee.
func (b *Batch) Net() payments.Money { return b.money(b.state.Net) }

// ExpectedSettlement returns the amount the processor should pay out, once fixed.
func (b *Batch) ExpectedSettlement() (payments.Money, bool) {
	if b.state.ExpectedSettlement == nil {
		return payments.Money{}, false
	}
	return b.money(*b.state.ExpectedSettlement), true
}

// ActualSettlement returns the reported payout, once reconciled.
func (b *Batch) ActualSettlement() (payments.Money, bool) {
	if b.state.ActualSettlement == nil {
		return payments.Money{}, false
	}
	return b.money(*b.state.ActualSettlement), true
}

// AddPayment adds a payment to an open batch. A payment id already present is ignored.
func (b *Batch) AddPayment(id string, amount, fee payments.Money) error {
	if err := b.checkPayment(id, amount, fee); err != nil {
		return err
	}
	if b.HasPayment(id) {
		return nil
	}
	b.payments[id] = struct{}{}
	b.state.PaymentIDs = append(b.state.PaymentIDs, id)
	b.state.Gross = b.state.Gross.Add(amount.Amount)
	b.state.Fee = b.state.Fee.Add(fee.Amount)
	b.state.Net = b.state.Gross.Sub(b.state.Fee)
	return nil
}

// RemovePayment takes a payment out of an open batch. An unknown id is ignored.
func (b *Batch) RemovePayment(id string, amount, fee payments.Money) error {
	if err := b.checkPayment(id, amount, fee); err != nil {
		return err
	}
	if !b.HasPayment(id) {
		return nil
	}
	delete(b.payments, id)
	for i, existing := range b.state.PaymentIDs {
		if existing == id {
			b.state.PaymentIDs = append(b.state.PaymentIDs[:i:i], b.state.PaymentIDs[i+1:]...)
			break
		}
	}
	b.state.Gross = b.state.Gross.Sub(amount.Amount)
	b.state.Fee = b.state.Fee.Sub(fee.Amount)
	b.state.Net = b.state.Gross.Sub(b.state.Fee)
	return nil
}

func (b *Batch) checkPayment(id string, amount, fee payments.Money) error {
	if b.state.Status != BatchOpen {
		return fmt.Errorf("%w: batch %s is %s", ErrBatchNotOpen, b.state.ID, b.state.Status)
	}
	if strings.TrimSpace(id) == "" {
		return ErrEmptyPaymentID
	}
	if err := b.sameCurrency(amount); err != nil {
		return err
	}
	if err := b.sameCurrency(fee); err != nil {
		return err
	}
	if amount.Amount.IsNegative() || fee.Amount.IsNegative() {
		return ErrNegativeValue
	}
	return nil
}

// Close moves open -> closed and fixes the expected settlement to the current net.
func (b *Batch) Close(at time.Time) error {
	if err := b.transition(BatchClosed, BatchOpen); err != nil {
		return err
	}
	net := b.state.Net
	b.state.ExpectedSettlement = &net
	b.state.ClosedAt = at.UTC()
	return nil
}

// SetExpectedSettlement overrides the expected payout. Any status but reconciled.
func (b *Batch) SetExpectedSettlement(amount payments.Money) error {
	if b.state.Status == BatchReconciled {
		return fmt.Errorf("%w: %s", ErrBatchReconciled, b.state.ID)
	}
	if err := b.sameCurrency(amount); err != nil {
		return err
	}
	value := amount.Amount
	b.state.ExpectedSettlement = &value
	return nil
}

// MarkDisputed moves closed -> disputed.
func (b *Batch) MarkDisputed(reason string, at time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	if err := b.transition(BatchDisputed, BatchClosed); err != nil {
		return err
	}
	b.state.DisputeReason = reason
	b.state.DisputedAt = at.UTC()
	return nil
}

// Reconcile records the reported payout and moves closed or disputed -> reconciled.
func (b *Batch) Reconcile(actual payments.Money, reference string, at time.Time) error {
	if err := b.sameCurrency(actual); err != nil {
		return err
	}
	if err := b.transition(BatchReconciled, BatchClosed, BatchDisputed); err != nil {
		return err
	}
	value := actual.Amount
	b.state.ActualSettlement = &value
	b.state.ExternalReference = strings.TrimSpace(reference)
	b.state.ReconciledAt = at.UTC()
	return nil
}

// Discrepancy returns actual minus expected once both are known.
func (b *Batch) Discrepancy() (payments.Money, bool) {
	if b.state.ExpectedSettlement == nil || b.state.ActualSettlement == nil {
		return payments.Money{}, false
	}
	return b.money(b.state.ActualSettlement.Sub(*b.state.ExpectedSettlement)), true
}

// HasDiscrepancy reports a known, non-zero discrepancy.
func (b *Batch) HasDiscrepancy() bool {
	d, ok := b.Discrepancy()
	return ok && !d.IsZero()
}

// MarkPersisted records the version the repository stored.
func (b *Batch) MarkPersisted(version int) {
	if b != nil {
		b.state.Version = version
	}
}

func (b *Batch) transition(to BatchStatus, allowed ...BatchStatus) error {
	for _, from := range allowed {
		if b.state.Status == from {
			b.state.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidBatchTransition, b.state.ID, b.state.Status, to)
}

func (b *Batch) sameCurrency(m payments.Money) error {
	if !strings.EqualFold(m.Currency, b.state.Currency) {
		return fmt.Errorf("%w: batch %s is %s, got %s", ErrCurrencyMismatch, b.state.ID, b.state.Currency, m.Currency)
	}
	return nil
}

func (b *Batch) money(amount decimal.Decimal) payments.Money {
	return payments.Money{Amount: amount, Currency: b.state.Currency}
}
