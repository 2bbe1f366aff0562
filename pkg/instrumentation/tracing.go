package instrumentation

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attribute keys. Never put a bearer secret, a stored hash
// or a ticket in an attribute; use AttrHashID for the short log fingerprint.
const (
	AttrTokenKind        = "sentinel.token.kind"
	AttrResult           = "sentinel.result"
	AttrHashID           = "sentinel.token.hash_id"
	AttrClientID         = "oauth.client_id"
	AttrRedirectURI      = "oauth.redirect_uri"
	AttrScope            = "oauth.scope"
	AttrStorageOperation = "storage.operation"
	AttrRotated          = "sentinel.token.rotated"
)

// SpanName returns the span name for a manager operation.
func SpanName(op string) string {
	return "sentinel.manager." + op
}

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}
