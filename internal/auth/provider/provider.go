// Package provider turns principals into bearer credentials and back. A
// provider never writes to storage: creation returns the entity for the
// caller to persist, validation reads through a Lookup.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/principal"
)

var (
	// ErrNoMatch is the Reason of a Result when no stored credential
	// matched the presented secret.
	ErrNoMatch = errors.New("provider: no matching credential")

	// ErrUnauthenticated is returned when asked to issue a credential for
	// an unauthenticated principal.
	ErrUnauthenticated = errors.New("provider: principal is not authenticated")
)

// TokenProvider issues and validates the three credential kinds.
type TokenProvider interface {
	CreateAuthorizationCode(ctx context.Context, req Request) (string, domain.AuthorizationCode, error)
	CreateAccessToken(ctx context.Context, req Request) (string, domain.AccessToken, error)
	CreateRefreshToken(ctx context.Context, req Request) (string, domain.RefreshToken, error)

	ValidateAuthorizationCode(ctx context.Context, lookup Lookup[domain.AuthorizationCode], f store.Filter, code string) (Result[domain.AuthorizationCode], error)
	ValidateAccessToken(ctx context.Context, lookup Lookup[domain.AccessToken], f store.Filter, token string) (Result[domain.AccessToken], error)
	ValidateRefreshToken(ctx context.Context, lookup Lookup[domain.RefreshToken], f store.Filter, token string) (Result[domain.RefreshToken], error)
}

// IdentityProvider is implemented by providers that can issue OpenID
// Connect ID tokens.
type IdentityProvider interface {
	CreateIdentityToken(ctx context.Context, req IdentityRequest) (string, error)
}

// Lookup is the read-only view of a repository a provider validates
// against. Every store.Repository satisfies it.
type Lookup[T domain.Token] interface {
	Get(ctx context.Context, hash string) (T, error)
	GetCandidates(ctx context.Context, f store.Filter, notExpiredAfter time.Time) ([]T, error)
}

// Request describes a credential to issue.
type Request struct {
	ClientID    string
	RedirectURI string
	Principal   principal.Principal
	Scope       []string
	ExpireTime  time.Time
}

// Owner returns the duplicate-prevention tuple for the request.
func (r Request) Owner() domain.Owner {
	return domain.Owner{
		ClientID:    r.ClientID,
		RedirectURI: r.RedirectURI,
		Subject:     r.Principal.Subject(),
	}
}

// IdentityRequest describes an OpenID Connect ID token. AccessToken and
// Code are optional and produce at_hash and c_hash when set.
type IdentityRequest struct {
	ClientID    string
	Principal   principal.Principal
	Nonce       string
	AccessToken string
	Code        string
	ExpireTime  time.Time
}

// Result is the outcome of a validation. When Matched is false Principal
// is anonymous, Entity is the zero value and Reason says why.
type Result[T domain.Token] struct {
	Principal principal.Principal
	Entity    T
	Matched   bool
	Reason    error

	// Rehashed is Entity stored under a hash made with the current recipe.
	// It is set when the stored hash uses outdated parameters.
	Rehashed *T
}

func matched[T domain.Token](p principal.Principal, entity T) Result[T] {
	return Result[T]{Principal: p, Entity: entity, Matched: true}
}

func unmatched[T domain.Token](reason error) Result[T] {
	return Result[T]{Principal: principal.Anonymous(), Reason: reason}
}
