package domain

import "time"

// Kind identifies one of the three credential kinds.
type Kind string

const (
	KindAuthorizationCode Kind = "authorization_code"
	KindAccessToken       Kind = "access_token"
	KindRefreshToken      Kind = "refresh_token"
)

func (k Kind) String() string { return string(k) }

// Owner is the (client, redirect URI, subject) tuple a credential is issued
// to. At most one live credential of each kind exists per owner.
type Owner struct {
	ClientID    string
	RedirectURI string
	Subject     string
}

// Grant holds the fields shared by every stored credential.
type Grant struct {
	ClientID    string
	RedirectURI string
	Subject     string
	Ticket      string // encrypted principal, empty for signed tokens
	ValidTo     time.Time
	Created     time.Time
}

// Owner returns the duplicate-prevention tuple of the grant.
func (g Grant) Owner() Owner {
	return Owner{ClientID: g.ClientID, RedirectURI: g.RedirectURI, Subject: g.Subject}
}

// Expiry returns the absolute expiry instant.
func (g Grant) Expiry() time.Time { return g.ValidTo }

// IsExpired reports whether the grant is no longer valid at now. A grant
// expiring exactly at now is expired.
func (g Grant) IsExpired(now time.Time) bool {
	return !g.ValidTo.After(now)
}

// IssuedAt returns the issuance instant.
func (g Grant) IssuedAt() time.Time { return g.Created }

// SealedTicket returns the encrypted principal.
func (g Grant) SealedTicket() string { return g.Ticket }

// Token is implemented by every stored credential entity.
type Token interface {
	Kind() Kind
	// Hash is the stored hash of the bearer secret and the repository key.
	Hash() string
	Owner() Owner
	Expiry() time.Time
	IssuedAt() time.Time
	IsExpired(now time.Time) bool
	SealedTicket() string
}

// AuthorizationCode is a single-use code issued at the authorization step.
type AuthorizationCode struct {
	Grant
	Code  string // hash of the code, never the plaintext
	Scope []string
}

func (AuthorizationCode) Kind() Kind     { return KindAuthorizationCode }
func (c AuthorizationCode) Hash() string { return c.Code }

// AccessToken is a time-bounded bearer token.
type AccessToken struct {
	Grant
	Token string // hash of the token, never the plaintext
	Scope []string
}

func (AccessToken) Kind() Kind     { return KindAccessToken }
func (a AccessToken) Hash() string { return a.Token }

// RefreshToken is a long-lived token used to obtain new access tokens.
type RefreshToken struct {
	Grant
	Token string // hash of the token, never the plaintext
}

func (RefreshToken) Kind() Kind     { return KindRefreshToken }
func (r RefreshToken) Hash() string { return r.Token }

var (
	_ Token = AuthorizationCode{}
	_ Token = AccessToken{}
	_ Token = RefreshToken{}
)
