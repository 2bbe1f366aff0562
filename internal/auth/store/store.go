// Package store defines the persistence contract for issued credentials.
// Drivers live under drivers/.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrClosed        = errors.New("store: closed")
)

// TokenRepository is the root data access interface. It exposes one
// repository per credential kind; each is independent of the others.
type TokenRepository interface {
	AuthorizationCodes() Repository[domain.AuthorizationCode]
	AccessTokens() Repository[domain.AccessToken]
	RefreshTokens() Repository[domain.RefreshToken]

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Repository persists one credential kind, keyed by the entity hash.
//
// Insert is last-write-wins per owner: in the same critical section or
// transaction as the insert, every other entity of the same owner tuple is
// removed. After any successful Insert exactly one entity exists for that
// owner, the one just written.
type Repository[T domain.Token] interface {
	// Get returns the entity stored under hash, expired or not, or
	// ErrNotFound.
	Get(ctx context.Context, hash string) (T, error)

	// GetCandidates returns the entities matching f with ValidTo strictly
	// after notExpiredAfter. It never returns expired entities.
	GetCandidates(ctx context.Context, f Filter, notExpiredAfter time.Time) ([]T, error)

	// Insert stores entity. A second insert of the same hash returns
	// ErrAlreadyExists and leaves the store unchanged.
	Insert(ctx context.Context, entity T) (T, error)

	// DeleteByOwner removes every entity of owner and returns how many were
	// removed.
	DeleteByOwner(ctx context.Context, owner domain.Owner) (int, error)

	// Delete removes the entity stored under hash. It reports true only to
	// the caller whose delete actually removed it.
	Delete(ctx context.Context, hash string) (bool, error)

	// DeleteExpired removes every entity with ValidTo at or before before
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Filter narrows a candidate query. Empty fields match anything.
type Filter struct {
	ClientID    string
	RedirectURI string
}

// Matches reports whether t satisfies the filter.
func (f Filter) Matches(t domain.Token) bool {
	o := t.Owner()
	if f.ClientID != "" && f.ClientID != o.ClientID {
		return false
	}
	if f.RedirectURI != "" && f.RedirectURI != o.RedirectURI {
		return false
	}
	return true
}

// StoredRecord attaches a driver's surrogate key to a domain entity without
// the entity knowing about it.
type StoredRecord[T domain.Token] struct {
	Key    string
	Entity T
}
