package webhooks

import (
	"encoding/json"
	"time"
)

// EventType is the canonical kind of a provider notification.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventRefundSucceeded  EventType = "refund.succeeded"
	EventRefundFailed     EventType = "refund.failed"
	EventDisputeOpened    EventType = "dispute.opened"
	EventDisputeClosed    EventType = "dispute.closed"
	EventPayoutPaid       EventType = "payout.paid"
	EventPayoutFailed     EventType = "payout.failed"
	EventUnknown          EventType = "unknown"
)

var knownEventTypes = map[EventType]struct{}{
	EventPaymentSucceeded: {},
	EventPaymentFailed:    {},
	EventRefundSucceeded:  {},
	EventRefundFailed:     {},
	EventDisputeOpened:    {},
	EventDisputeClosed:    {},
	EventPayoutPaid:       {},
	EventPayoutFailed:     {},
}

// ParseEventType maps a canonical name to its EventType, or EventUnknown.
func ParseEventType(value string) EventType {
	if _, ok := knownEventTypes[EventType(value)]; ok {
		return EventType(value)
	}
	return EventUnknown
}

// Payload is the canonical parsed notification.
type Payload struct {
	Provider   string          `json:"provider"`
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	RawType    string          `json:"raw_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Decode unmarshals the provider-specific data into target.
func (p Payload) Decode(target any) error {
	if len(p.Data) == 0 {
		return ErrInvalidPayload
	}
	return json.Unmarshal(p.Data, target)
}
