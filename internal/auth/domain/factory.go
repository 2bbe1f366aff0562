package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEntity is returned by the constructors when an entity would
// violate its invariants.
var ErrInvalidEntity = errors.New("domain: invalid entity")

// NewAuthorizationCode builds an authorization code entity. code is the
// stored hash.
func NewAuthorizationCode(owner Owner, scope []string, code, ticket string, validTo, created time.Time) (AuthorizationCode, error) {
	g, err := newGrant(owner, code, ticket, validTo, created)
	if err != nil {
		return AuthorizationCode{}, err
	}
	return AuthorizationCode{Grant: g, Code: code, Scope: NormalizeScope(scope)}, nil
}

// NewAccessToken builds an access token entity. token is the stored hash.
func NewAccessToken(owner Owner, scope []string, token, ticket string, validTo, created time.Time) (AccessToken, error) {
	g, err := newGrant(owner, token, ticket, validTo, created)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Grant: g, Token: token, Scope: NormalizeScope(scope)}, nil
}

// NewRefreshToken builds a refresh token entity. token is the stored hash.
func NewRefreshToken(owner Owner, token, ticket string, validTo, created time.Time) (RefreshToken, error) {
	g, err := newGrant(owner, token, ticket, validTo, created)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Grant: g, Token: token}, nil
}

func newGrant(owner Owner, hash, ticket string, validTo, created time.Time) (Grant, error) {
	switch {
	case hash == "":
		return Grant{}, fmt.Errorf("%w: empty hash", ErrInvalidEntity)
	case owner.ClientID == "":
		return Grant{}, fmt.Errorf("%w: empty client id", ErrInvalidEntity)
	case owner.RedirectURI == "":
		return Grant{}, fmt.Errorf("%w: empty redirect uri", ErrInvalidEntity)
	case owner.Subject == "":
		return Grant{}, fmt.Errorf("%w: empty subject", ErrInvalidEntity)
	case !validTo.After(created):
		return Grant{}, fmt.Errorf("%w: valid to %s is not after created %s",
			ErrInvalidEntity, validTo.Format(time.RFC3339), created.Format(time.RFC3339))
	}

	return Grant{
		ClientID:    owner.ClientID,
		RedirectURI: owner.RedirectURI,
		Subject:     owner.Subject,
		Ticket:      ticket,
		ValidTo:     validTo.UTC(),
		Created:     created.UTC(),
	}, nil
}
