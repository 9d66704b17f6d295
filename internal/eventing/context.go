package eventing

import "context"

type contextKey int

const (
	envelopeKey contextKey = iota
	tenantKey
	correlationKey
	eventIDKey
)

// WithEnvelope attaches the envelope being delivered to ctx.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey, env)
}

// EnvelopeFromContext returns the envelope being delivered, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey).(Envelope)
	return env, ok
}

// WithTenantID sets tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// WithCorrelationID sets correlation id in context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey, correlationID)
}

// WithEventID pins the id of the next event published with ctx.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

// MetaFromContext builds envelope metadata from ctx. Events published while
// handling another event inherit its tenant and correlation id.
func MetaFromContext(ctx context.Context, defaultTenantID string) Meta {
	meta := Meta{}
	meta.TenantID, _ = ctx.Value(tenantKey).(string)
	meta.CorrelationID, _ = ctx.Value(correlationKey).(string)
	meta.EventID, _ = ctx.Value(eventIDKey).(string)
	if parent, ok := EnvelopeFromContext(ctx); ok {
		if meta.TenantID == "" {
			meta.TenantID = parent.TenantID
		}
		if meta.CorrelationID == "" {
			meta.CorrelationID = parent.CorrelationID
		}
	}
	if meta.TenantID == "" {
		meta.TenantID = defaultTenantID
	}
	return meta
}
