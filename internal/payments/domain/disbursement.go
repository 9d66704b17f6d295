package payments

import (
	"fmt"
	"strings"
	"time"
)

// DisbursementStatus is the approval and execution state of an outbound payment.
type DisbursementStatus string

const (
	DisbursementDraft           DisbursementStatus = "draft"
	DisbursementPendingApproval DisbursementStatus = "pending_approval"
	DisbursementApproved        DisbursementStatus = "approved"
	DisbursementRejected        DisbursementStatus = "rejected"
	DisbursementCancelled       DisbursementStatus = "cancelled"
	DisbursementProcessing      DisbursementStatus = "processing"
	DisbursementCompleted       DisbursementStatus = "completed"
	DisbursementFailed          DisbursementStatus = "failed"
)

var disbursementTransitions = map[DisbursementStatus]map[DisbursementStatus]struct{}{
	DisbursementDraft: {
		DisbursementPendingApproval: {},
	},
	DisbursementPendingApproval: {
		DisbursementApproved:  {},
		DisbursementRejected:  {},
		DisbursementCancelled: {},
	},
	DisbursementApproved: {
		DisbursementProcessing: {},
		DisbursementCancelled:  {},
	},
	DisbursementProcessing: {
		DisbursementCompleted: {},
		DisbursementFailed:    {},
	},
	DisbursementRejected:  {},
	DisbursementCancelled: {},
	DisbursementCompleted: {},
	DisbursementFailed:    {},
}

// CanTransition reports whether the disbursement table allows from -> to.
func (s DisbursementStatus) CanTransition(to DisbursementStatus) bool {
	_, ok := disbursementTransitions[s][to]
	return ok
}

// IsTerminal reports whether no transition leaves the status.
func (s DisbursementStatus) IsTerminal() bool {
	return len(disbursementTransitions[s]) == 0
}

// Recipient identifies the payee of a disbursement.
type Recipient struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AccountRef string `json:"account_ref"`
}

// DisbursementState is the full persisted view of a disbursement.
type DisbursementState struct {
	ID                string             `json:"id"`
	TenantID          string             `json:"tenant_id"`
	Recipient         Recipient          `json:"recipient"`
	Amount            Money              `json:"amount"`
	Status            DisbursementStatus `json:"status"`
	ScheduledFor      *time.Time         `json:"scheduled_for,omitempty"`
	SourceDocuments   []string           `json:"source_documents,omitempty"`
	ApprovedBy        string             `json:"approved_by,omitempty"`
	RejectionReason   string             `json:"rejection_reason,omitempty"`
	FailureCode       string             `json:"failure_code,omitempty"`
	FailureMessage    string             `json:"failure_message,omitempty"`
	ProviderReference string             `json:"provider_reference,omitempty"`
	Attempts          int                `json:"attempts"`
	CreatedAt         time.Time          `json:"created_at"`
	SubmittedAt       time.Time          `json:"submitted_at,omitempty"`
	ApprovedAt        time.Time          `json:"approved_at,omitempty"`
	RejectedAt        time.Time          `json:"rejected_at,omitempty"`
	CancelledAt       time.Time          `json:"cancelled_at,omitempty"`
	ProcessedAt       time.Time          `json:"processed_at,omitempty"`
	CompletedAt       time.Time          `json:"completed_at,omitempty"`
	FailedAt          time.Time          `json:"failed_at,omitempty"`
	Version           int                `json:"version"`
}

func (s DisbursementState) clone() DisbursementState {
	out := s
	if s.ScheduledFor != nil {
		at := *s.ScheduledFor
		out.ScheduledFor = &at
	}
	if s.SourceDocuments != nil {
		out.SourceDocuments = append([]string(nil), s.SourceDocuments...)
	}
	return out
}

func (s DisbursementState) validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if s.TenantID == "" {
		return ErrEmptyTenantID
	}
	if strings.TrimSpace(s.Recipient.ID) == "" {
		return ErrEmptyRecipient
	}
	if !s.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := NormalizeCurrency(s.Amount.Currency); err != nil {
		return err
	}
	return nil
}

// Disbursement is an outbound payment to a recipient behind an approval workflow.
// It is not safe for concurrent use.
type Disbursement struct {
	state DisbursementState
}

// NewDisbursementParams carries the inputs for a new disbursement.
type NewDisbursementParams struct {
	ID               string
	TenantID         string
	Recipient        Recipient
	Amount           Money
	ScheduledFor     *time.Time
	RequiresApproval bool
	CreatedAt        time.Time
}

// NewDisbursement creates a draft disbursement when approval is required, else an approved one.
func NewDisbursement(params NewDisbursementParams) (*Disbursement, error) {
	currency, err := NormalizeCurrency(params.Amount.Currency)
	if err != nil {
		return nil, err
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := DisbursementApproved
	if params.RequiresApproval {
		status = DisbursementDraft
	}
	state := DisbursementState{
		ID:           params.ID,
		TenantID:     params.TenantID,
		Recipient:    params.Recipient,
		Amount:       Money{Amount: params.Amount.Amount, Currency: currency},
		Status:       status,
		ScheduledFor: params.ScheduledFor,
		CreatedAt:    createdAt,
	}
	state = state.clone()
	if err := state.validate(); err != nil {
		return nil, err
	}
	return &Disbursement{state: state}, nil
}

// RestoreDisbursement rehydrates a persisted disbursement.
func RestoreDisbursement(state DisbursementState) (*Disbursement, error) {
	state = state.clone()
	if err := state.validate(); err != nil {
		return nil, err
	}
	return &Disbursement{state: state}, nil
}

// State returns a detached copy of the disbursement fields.
func (d *Disbursement) State() DisbursementState { return d.state.clone() }

// ID returns the disbursement id.
func (d *Disbursement) ID() string { return d.state.ID }

// Status returns the current status.
func (d *Disbursement) Status() DisbursementStatus { return d.state.Status }

// Attempts returns how many times processing started.
func (d *Disbursement) Attempts() int { return d.state.Attempts }

// SourceDocuments returns the linked document ids in attach order.
func (d *Disbursement) SourceDocuments() []string {
	return append([]string(nil), d.state.SourceDocuments...)
}

// Submit moves draft -> pending_approval.
func (d *Disbursement) Submit(at time.Time) error {
	return d.transition(DisbursementPendingApproval, func(s *DisbursementState) error {
		s.SubmittedAt = at.UTC()
		return nil
	})
}

// Approve moves pending_approval -> approved.
func (d *Disbursement) Approve(by string, at time.Time) error {
	return d.transition(DisbursementApproved, func(s *DisbursementState) error {
		if strings.TrimSpace(by) == "" {
			return ErrApproverRequired
		}
		s.ApprovedBy = by
		s.ApprovedAt = at.UTC()
		return nil
	})
}

// Reject moves pending_approval -> rejected.
func (d *Disbursement) Reject(reason string, at time.Time) error {
	return d.transition(DisbursementRejected, func(s *DisbursementState) error {
		if strings.TrimSpace(reason) == "" {
			return ErrReasonRequired
		}
		s.RejectionReason = reason
		s.RejectedAt = at.UTC()
		return nil
	})
}

// Cancel moves pending_approval or approved -> cancelled.
func (d *Disbursement) Cancel(at time.Time) error {
	return d.transition(DisbursementCancelled, func(s *DisbursementState) error {
		s.CancelledAt = at.UTC()
		return nil
	})
}

// MarkProcessing moves approved -> processing and counts the attempt.
func (d *Disbursement) MarkProcessing(at time.Time) error {
	return d.transition(DisbursementProcessing, func(s *DisbursementState) error {
		s.Attempts++
		s.ProcessedAt = at.UTC()
		return nil
	})
}

// MarkCompleted stores the processor reference and moves processing -> completed.
func (d *Disbursement) MarkCompleted(reference string, at time.Time) error {
	return d.transition(DisbursementCompleted, func(s *DisbursementState) error {
		s.ProviderReference = reference
		s.CompletedAt = at.UTC()
		return nil
	})
}

// MarkFailed records the failure and moves processing -> failed.
func (d *Disbursement) MarkFailed(code, message string, at time.Time) error {
	return d.transition(DisbursementFailed, func(s *DisbursementState) error {
		if strings.TrimSpace(code) == "" || strings.TrimSpace(message) == "" {
			return ErrFailureDetailsRequired
		}
		s.FailureCode = code
		s.FailureMessage = message
		s.FailedAt = at.UTC()
		return nil
	})
}

// AttachSourceDocument links a document id; attaching the same id twice is a no-op.
func (d *Disbursement) AttachSourceDocument(documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return ErrEmptyID
	}
	for _, existing := range d.state.SourceDocuments {
		if existing == documentID {
			return nil
		}
	}
	return d.mutate(func(s *DisbursementState) error {
		s.SourceDocuments = append(s.SourceDocuments, documentID)
		return nil
	})
}

// Reschedule changes the planned execution date. Nil clears it.
func (d *Disbursement) Reschedule(at *time.Time) error {
	switch d.state.Status {
	case DisbursementDraft, DisbursementPendingApproval, DisbursementApproved:
	default:
		return fmt.Errorf("%w: disbursement %s is %s", ErrScheduleLocked, d.state.ID, d.state.Status)
	}
	return d.commit(func(s *DisbursementState) error {
		if at == nil {
			s.ScheduledFor = nil
			return nil
		}
		value := at.UTC()
		s.ScheduledFor = &value
		return nil
	})
}

func (d *Disbursement) transition(to DisbursementStatus, apply func(*DisbursementState) error) error {
	from := d.state.Status
	if !from.CanTransition(to) {
		return &InvalidStatusTransitionError{Entity: "disbursement", From: string(from), To: string(to)}
	}
	return d.commit(func(s *DisbursementState) error {
		if err := apply(s); err != nil {
			return err
		}
		s.Status = to
		return nil
	})
}

func (d *Disbursement) mutate(apply func(*DisbursementState) error) error {
	if d.state.Status.IsTerminal() {
		return fmt.Errorf("%w: disbursement %s is %s", ErrTerminalState, d.state.ID, d.state.Status)
	}
	return d.commit(apply)
}

func (d *Disbursement) commit(apply func(*DisbursementState) error) error {
	candidate := d.state.clone()
	if err := apply(&candidate); err != nil {
		return err
	}
	if err := candidate.validate(); err != nil {
		return err
	}
	d.state = candidate
	return nil
}
