package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Authentication results recorded on sentinel.tokens.authenticated.
const (
	ResultSuccess   = "success"
	ResultAnonymous = "anonymous"
	ResultThrottled = "throttled"
)

// Metrics holds the token engine's metric instruments.
type Metrics struct {
	TokensCreated       metric.Int64Counter
	TokensAuthenticated metric.Int64Counter
	ExpiredDeleted      metric.Int64Counter
	RepositoryDuration  metric.Float64Histogram
}

func newMetrics(m metric.Meter) (*Metrics, error) {
	var (
		out Metrics
		err error
	)

	if out.TokensCreated, err = m.Int64Counter(
		"sentinel.tokens.created",
		metric.WithDescription("Credentials issued"),
	); err != nil {
		return nil, err
	}

	if out.TokensAuthenticated, err = m.Int64Counter(
		"sentinel.tokens.authenticated",
		metric.WithDescription("Credential authentication attempts by result"),
	); err != nil {
		return nil, err
	}

	if out.ExpiredDeleted, err = m.Int64Counter(
		"sentinel.tokens.expired_deleted",
		metric.WithDescription("Expired credentials removed by garbage collection"),
	); err != nil {
		return nil, err
	}

	if out.RepositoryDuration, err = m.Float64Histogram(
		"sentinel.repository.duration",
		metric.WithDescription("Repository call latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return &out, nil
}

func (m *Metrics) RecordCreated(ctx context.Context, kind string) {
	m.TokensCreated.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTokenKind, kind)))
}

func (m *Metrics) RecordAuthenticated(ctx context.Context, kind, result string) {
	m.TokensAuthenticated.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTokenKind, kind),
		attribute.String(AttrResult, result),
	))
}

func (m *Metrics) RecordExpiredDeleted(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.ExpiredDeleted.Add(ctx, int64(n), metric.WithAttributes(attribute.String(AttrTokenKind, kind)))
}

// RecordRepository records the latency of one repository call started at
// start.
func (m *Metrics) RecordRepository(ctx context.Context, operation, kind string, start time.Time) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	m.RepositoryDuration.Record(ctx, ms, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrTokenKind, kind),
	))
}
