package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/principal"
)

// OpaqueProvider issues random bearer secrets. Only a hash of the secret is
// stored, next to a ticket holding the principal encrypted with the secret
// itself, so a stolen store yields neither.
type OpaqueProvider struct {
	crypto     cryptox.Provider
	principals *principal.Provider
	now        func() time.Time
	bits       int
}

var _ TokenProvider = (*OpaqueProvider)(nil)

// NewOpaqueProvider returns an OpaqueProvider. A nil now uses time.Now.
func NewOpaqueProvider(crypto cryptox.Provider, principals *principal.Provider, now func() time.Time) *OpaqueProvider {
	if now == nil {
		now = time.Now
	}
	return &OpaqueProvider{
		crypto:     crypto,
		principals: principals,
		now:        now,
		bits:       cryptox.MinSecretBits,
	}
}

// sealed is a freshly generated secret with everything needed to build the
// stored entity.
type sealed struct {
	plaintext string
	hash      string
	ticket    string
	created   time.Time
}

func (o *OpaqueProvider) seal(req Request) (sealed, error) {
	if !req.Principal.IsAuthenticated() {
		return sealed{}, ErrUnauthenticated
	}

	plaintext, hash, err := o.crypto.CreateRandomHash(o.bits)
	if err != nil {
		return sealed{}, fmt.Errorf("provider: create secret: %w", err)
	}

	ticket, err := o.principals.Encrypt(req.Principal, plaintext)
	if err != nil {
		return sealed{}, fmt.Errorf("provider: seal ticket: %w", err)
	}

	return sealed{plaintext: plaintext, hash: hash, ticket: ticket, created: o.now()}, nil
}

func (o *OpaqueProvider) CreateAuthorizationCode(_ context.Context, req Request) (string, domain.AuthorizationCode, error) {
	s, err := o.seal(req)
	if err != nil {
		return "", domain.AuthorizationCode{}, err
	}
	code, err := domain.NewAuthorizationCode(req.Owner(), req.Scope, s.hash, s.ticket, req.ExpireTime, s.created)
	if err != nil {
		return "", domain.AuthorizationCode{}, err
	}
	return s.plaintext, code, nil
}

func (o *OpaqueProvider) CreateAccessToken(_ context.Context, req Request) (string, domain.AccessToken, error) {
	s, err := o.seal(req)
	if err != nil {
		return "", domain.AccessToken{}, err
	}
	token, err := domain.NewAccessToken(req.Owner(), req.Scope, s.hash, s.ticket, req.ExpireTime, s.created)
	if err != nil {
		return "", domain.AccessToken{}, err
	}
	return s.plaintext, token, nil
}

func (o *OpaqueProvider) CreateRefreshToken(_ context.Context, req Request) (string, domain.RefreshToken, error) {
	s, err := o.seal(req)
	if err != nil {
		return "", domain.RefreshToken{}, err
	}
	token, err := domain.NewRefreshToken(req.Owner(), s.hash, s.ticket, req.ExpireTime, s.created)
	if err != nil {
		return "", domain.RefreshToken{}, err
	}
	return s.plaintext, token, nil
}

func (o *OpaqueProvider) ValidateAuthorizationCode(ctx context.Context, lookup Lookup[domain.AuthorizationCode], f store.Filter, code string) (Result[domain.AuthorizationCode], error) {
	return validateOpaque(ctx, o, lookup, f, code, func(c domain.AuthorizationCode, hash string) domain.AuthorizationCode {
		c.Code = hash
		return c
	})
}

func (o *OpaqueProvider) ValidateAccessToken(ctx context.Context, lookup Lookup[domain.AccessToken], f store.Filter, token string) (Result[domain.AccessToken], error) {
	return validateOpaque(ctx, o, lookup, f, token, func(a domain.AccessToken, hash string) domain.AccessToken {
		a.Token = hash
		return a
	})
}

func (o *OpaqueProvider) ValidateRefreshToken(ctx context.Context, lookup Lookup[domain.RefreshToken], f store.Filter, token string) (Result[domain.RefreshToken], error) {
	return validateOpaque(ctx, o, lookup, f, token, func(r domain.RefreshToken, hash string) domain.RefreshToken {
		r.Token = hash
		return r
	})
}

// validateOpaque scans the live candidates for the one whose hash accepts
// secret and opens its ticket with the same secret. Only repository errors
// are returned; every other failure is an unmatched result. A match whose
// hash is outdated carries a copy rehashed with the current recipe.
func validateOpaque[T domain.Token](ctx context.Context, o *OpaqueProvider, lookup Lookup[T], f store.Filter, secret string, withHash func(T, string) T) (Result[T], error) {
	if secret == "" {
		return unmatched[T](ErrNoMatch), nil
	}

	now := o.now()
	candidates, err := lookup.GetCandidates(ctx, f, now)
	if err != nil {
		return unmatched[T](err), fmt.Errorf("provider: load candidates: %w", err)
	}

	for _, c := range candidates {
		if c.IsExpired(now) {
			continue
		}

		// A malformed stored hash belongs to some other credential.
		ok, err := o.crypto.ValidateHash(secret, c.Hash())
		if err != nil || !ok {
			continue
		}

		p, err := o.principals.Decrypt(c.SealedTicket(), secret)
		if err != nil {
			return unmatched[T](err), nil
		}
		if !p.IsAuthenticated() {
			return unmatched[T](ErrUnauthenticated), nil
		}

		res := matched(p, c)
		if o.crypto.NeedsRehash(c.Hash()) {
			if hash, err := o.crypto.CreateHash(secret); err == nil {
				upgraded := withHash(c, hash)
				res.Rehashed = &upgraded
			}
		}
		return res, nil
	}

	return unmatched[T](ErrNoMatch), nil
}
