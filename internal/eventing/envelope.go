package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps event payload with metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	TenantID      string          `json:"tenant_id"`
	SubjectID     string          `json:"subject_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	TenantID      string
	SubjectID     string
	SchemaVersion int
}

// subjectFields name the event fields that identify the entity an event is about, in lookup order.
var subjectFields = []string{"BatchID", "TransactionID", "Reference", "EventID"}

// NewEventID generates a random event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// BuildEnvelope constructs an envelope from event payload and metadata.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}

	eventType := reflect.TypeOf(event)
	for eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	tenantID := meta.TenantID
	if tenantID == "" {
		tenantID = extractStringField(event, "TenantID")
	}
	subjectID := meta.SubjectID
	if subjectID == "" {
		subjectID = extractStringField(event, subjectFields...)
	}
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(event, "OccurredAt")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	eventID := meta.EventID
	if eventID == "" {
		eventID = NewEventID()
	}
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}
	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:       eventID,
		EventType:     eventType.String(),
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		TenantID:      tenantID,
		SubjectID:     subjectID,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}

func structValue(event any) (reflect.Value, bool) {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return reflect.Value{}, false
		}
		value = value.Elem()
	}
	return value, value.Kind() == reflect.Struct
}

func extractStringField(event any, names ...string) string {
	value, ok := structValue(event)
	if !ok {
		return ""
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if field.IsValid() && field.Kind() == reflect.String && field.String() != "" {
			return field.String()
		}
	}
	return ""
}

func extractTimeField(event any, name string) time.Time {
	value, ok := structValue(event)
	if !ok {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() || !field.CanInterface() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}
