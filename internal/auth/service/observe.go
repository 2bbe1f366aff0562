package service

import (
	"context"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/instrumentation"
)

// observedRepository records the latency of every repository call.
type observedRepository[T domain.Token] struct {
	next    store.Repository[T]
	kind    string
	metrics *instrumentation.Metrics
}

func observe[T domain.Token](next store.Repository[T], kind domain.Kind, metrics *instrumentation.Metrics) store.Repository[T] {
	return &observedRepository[T]{next: next, kind: kind.String(), metrics: metrics}
}

func (r *observedRepository[T]) Get(ctx context.Context, hash string) (T, error) {
	defer r.metrics.RecordRepository(ctx, "get", r.kind, time.Now())
	return r.next.Get(ctx, hash)
}

func (r *observedRepository[T]) GetCandidates(ctx context.Context, f store.Filter, notExpiredAfter time.Time) ([]T, error) {
	defer r.metrics.RecordRepository(ctx, "get_candidates", r.kind, time.Now())
	return r.next.GetCandidates(ctx, f, notExpiredAfter)
}

func (r *observedRepository[T]) Insert(ctx context.Context, entity T) (T, error) {
	defer r.metrics.RecordRepository(ctx, "insert", r.kind, time.Now())
	return r.next.Insert(ctx, entity)
}

func (r *observedRepository[T]) DeleteByOwner(ctx context.Context, owner domain.Owner) (int, error) {
	defer r.metrics.RecordRepository(ctx, "delete_by_owner", r.kind, time.Now())
	return r.next.DeleteByOwner(ctx, owner)
}

func (r *observedRepository[T]) Delete(ctx context.Context, hash string) (bool, error) {
	defer r.metrics.RecordRepository(ctx, "delete", r.kind, time.Now())
	return r.next.Delete(ctx, hash)
}

func (r *observedRepository[T]) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	defer r.metrics.RecordRepository(ctx, "delete_expired", r.kind, time.Now())
	return r.next.DeleteExpired(ctx, before)
}
