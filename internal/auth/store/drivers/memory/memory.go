// Package memory is the in-process TokenRepository. It is suitable for
// tests and single instance deployments; nothing survives a restart.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/idx"
)

// Store holds one independent repository per credential kind.
type Store struct {
	codes   *Repository[domain.AuthorizationCode]
	access  *Repository[domain.AccessToken]
	refresh *Repository[domain.RefreshToken]
}

var _ store.TokenRepository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		codes:   NewRepository[domain.AuthorizationCode](),
		access:  NewRepository[domain.AccessToken](),
		refresh: NewRepository[domain.RefreshToken](),
	}
}

func (s *Store) AuthorizationCodes() store.Repository[domain.AuthorizationCode] { return s.codes }
func (s *Store) AccessTokens() store.Repository[domain.AccessToken]             { return s.access }
func (s *Store) RefreshTokens() store.Repository[domain.RefreshToken]           { return s.refresh }

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// Repository is a mutex guarded map from entity hash to record.
type Repository[T domain.Token] struct {
	mu      sync.RWMutex
	records map[string]store.StoredRecord[T]
}

var (
	_ store.Repository[domain.AuthorizationCode] = (*Repository[domain.AuthorizationCode])(nil)
	_ store.Repository[domain.AccessToken]       = (*Repository[domain.AccessToken])(nil)
	_ store.Repository[domain.RefreshToken]      = (*Repository[domain.RefreshToken])(nil)
)

// NewRepository returns an empty repository.
func NewRepository[T domain.Token]() *Repository[T] {
	return &Repository[T]{records: make(map[string]store.StoredRecord[T])}
}

func (r *Repository[T]) Get(_ context.Context, hash string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[hash]
	if !ok {
		var zero T
		return zero, store.ErrNotFound
	}
	return rec.Entity, nil
}

// GetCandidates returns matches oldest first by surrogate key, so the scan
// order is stable across calls.
func (r *Repository[T]) GetCandidates(_ context.Context, f store.Filter, notExpiredAfter time.Time) ([]T, error) {
	r.mu.RLock()
	recs := make([]store.StoredRecord[T], 0)
	for _, rec := range r.records {
		if rec.Entity.IsExpired(notExpiredAfter) || !f.Matches(rec.Entity) {
			continue
		}
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	slices.SortFunc(recs, func(a, b store.StoredRecord[T]) int {
		return idx.Compare(idx.ID(a.Key), idx.ID(b.Key))
	})

	out := make([]T, len(recs))
	for i, rec := range recs {
		out[i] = rec.Entity
	}
	return out, nil
}

func (r *Repository[T]) Insert(_ context.Context, entity T) (T, error) {
	hash := entity.Hash()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[hash]; exists {
		var zero T
		return zero, store.ErrAlreadyExists
	}

	owner := entity.Owner()
	for k, rec := range r.records {
		if rec.Entity.Owner() == owner {
			delete(r.records, k)
		}
	}

	r.records[hash] = store.StoredRecord[T]{Key: idx.New().String(), Entity: entity}
	return entity, nil
}

func (r *Repository[T]) DeleteByOwner(_ context.Context, owner domain.Owner) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, rec := range r.records {
		if rec.Entity.Owner() == owner {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

func (r *Repository[T]) Delete(_ context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[hash]; !ok {
		return false, nil
	}
	delete(r.records, hash)
	return true, nil
}

func (r *Repository[T]) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, rec := range r.records {
		if rec.Entity.IsExpired(before) {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entities, expired ones included.
func (r *Repository[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
