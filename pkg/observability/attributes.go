package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attribute keys.
var (
	AttrOperation     = attribute.Key("credledger.operation")
	AttrTokenID       = attribute.Key("credledger.token.id")
	AttrUserID        = attribute.Key("credledger.user.id")
	AttrMissionID     = attribute.Key("credledger.mission.id")
	AttrOrgID         = attribute.Key("credledger.organization.id")
	AttrAction        = attribute.Key("credledger.ledger.action")
	AttrSequence      = attribute.Key("credledger.ledger.sequence")
	AttrAlertKind     = attribute.Key("credledger.fraud.kind")
	AttrAlertSeverity = attribute.Key("credledger.fraud.severity")
)

// TokenAttrs identifies a token on a span.
func TokenAttrs(tokenID, userID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTokenID.String(tokenID),
		AttrUserID.String(userID),
	}
}

// SpanFromContext returns the current span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the current span failed when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
