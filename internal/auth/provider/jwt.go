package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/oidcx"
)

var (
	ErrNoSigner    = errors.New("provider: no active signing key")
	ErrRedirectURI = errors.New("provider: redirect uri mismatch")
	ErrRevoked     = errors.New("provider: credential revoked or consumed")
)

// JWTProvider issues self-contained signed tokens. The stored entity only
// carries metadata: its hash is the fingerprint of the jti and its ticket is
// empty. Codes always require the stored row so they stay single use.
type JWTProvider struct {
	keys          *jwtx.KeyManager
	issuer        string
	now           func() time.Time
	requireStored bool
}

var (
	_ TokenProvider    = (*JWTProvider)(nil)
	_ IdentityProvider = (*JWTProvider)(nil)
)

// JWTOption configures a JWTProvider.
type JWTOption func(*JWTProvider)

// WithJWTClock overrides the issuing clock. The verification clock is set
// on the KeyManager.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(p *JWTProvider) { p.now = now }
}

// RequireStoredJWT makes access and refresh tokens valid only while their
// metadata row exists, so deleting the row revokes them.
func RequireStoredJWT() JWTOption {
	return func(p *JWTProvider) { p.requireStored = true }
}

// NewJWTProvider returns a provider signing with keys on behalf of issuer.
func NewJWTProvider(keys *jwtx.KeyManager, issuer string, opts ...JWTOption) (*JWTProvider, error) {
	if keys == nil || !keys.IsReady() {
		return nil, ErrNoSigner
	}
	if issuer == "" {
		return nil, errors.New("provider: issuer is required")
	}

	p := &JWTProvider{keys: keys, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// issued is a signed token with the fields its metadata row needs.
type issued struct {
	token   string
	hash    string
	created time.Time
}

func (j *JWTProvider) issue(req Request, use string) (issued, error) {
	if !req.Principal.IsAuthenticated() {
		return issued{}, ErrUnauthenticated
	}

	signer := j.keys.GetSigner()
	if signer == nil {
		return issued{}, ErrNoSigner
	}

	now := j.now()
	claims := jwtx.NewClaims(j.issuer, req.Principal.Subject(), []string{req.ClientID}, now, req.ExpireTime)
	claims.TokenUse = use
	claims.Scope = domain.FormatScope(req.Scope)
	claims.RedirectURI = req.RedirectURI
	claims.AuthType = req.Principal.AuthenticationType()
	claims.Custom = jwtx.ClaimsFromPrincipal(req.Principal)

	token, err := signer.Sign(claims)
	if err != nil {
		return issued{}, fmt.Errorf("provider: sign %s token: %w", use, err)
	}

	return issued{token: token, hash: cryptox.FingerprintToken(claims.ID), created: now}, nil
}

func (j *JWTProvider) CreateAuthorizationCode(_ context.Context, req Request) (string, domain.AuthorizationCode, error) {
	t, err := j.issue(req, jwtx.UseCode)
	if err != nil {
		return "", domain.AuthorizationCode{}, err
	}
	code, err := domain.NewAuthorizationCode(req.Owner(), req.Scope, t.hash, "", req.ExpireTime, t.created)
	if err != nil {
		return "", domain.AuthorizationCode{}, err
	}
	return t.token, code, nil
}

func (j *JWTProvider) CreateAccessToken(_ context.Context, req Request) (string, domain.AccessToken, error) {
	t, err := j.issue(req, jwtx.UseAccess)
	if err != nil {
		return "", domain.AccessToken{}, err
	}
	token, err := domain.NewAccessToken(req.Owner(), req.Scope, t.hash, "", req.ExpireTime, t.created)
	if err != nil {
		return "", domain.AccessToken{}, err
	}
	return t.token, token, nil
}

func (j *JWTProvider) CreateRefreshToken(_ context.Context, req Request) (string, domain.RefreshToken, error) {
	t, err := j.issue(req, jwtx.UseRefresh)
	if err != nil {
		return "", domain.RefreshToken{}, err
	}
	token, err := domain.NewRefreshToken(req.Owner(), t.hash, "", req.ExpireTime, t.created)
	if err != nil {
		return "", domain.RefreshToken{}, err
	}
	return t.token, token, nil
}

// CreateIdentityToken issues an OpenID Connect ID token bound to the given
// access token and code through at_hash and c_hash.
func (j *JWTProvider) CreateIdentityToken(_ context.Context, req IdentityRequest) (string, error) {
	if !req.Principal.IsAuthenticated() {
		return "", ErrUnauthenticated
	}

	signer := j.keys.GetSigner()
	if signer == nil {
		return "", ErrNoSigner
	}

	now := j.now()
	claims := jwtx.NewClaims(j.issuer, req.Principal.Subject(), []string{req.ClientID}, now, req.ExpireTime)
	claims.TokenUse = jwtx.UseID
	claims.AuthType = req.Principal.AuthenticationType()
	claims.Custom = jwtx.ClaimsFromPrincipal(req.Principal)

	var err error
	if req.AccessToken != "" {
		if claims.AtHash, err = oidcx.LeftHash(req.AccessToken, signer.Alg()); err != nil {
			return "", err
		}
	}
	if req.Code != "" {
		if claims.CHash, err = oidcx.LeftHash(req.Code, signer.Alg()); err != nil {
			return "", err
		}
	}
	if req.Nonce != "" {
		if claims.Custom == nil {
			claims.Custom = make(map[string]any, 1)
		}
		claims.Custom["nonce"] = req.Nonce
	}

	return signer.Sign(claims)
}

func (j *JWTProvider) ValidateAuthorizationCode(ctx context.Context, lookup Lookup[domain.AuthorizationCode], f store.Filter, code string) (Result[domain.AuthorizationCode], error) {
	return validateJWT(ctx, j, lookup, f, code, jwtx.UseCode, true,
		func(o domain.Owner, c *jwtx.Claims, hash string) (domain.AuthorizationCode, error) {
			return domain.NewAuthorizationCode(o, domain.ParseScope(c.Scope), hash, "", c.ExpiresAt.Time, c.IssuedAt.Time)
		})
}

func (j *JWTProvider) ValidateAccessToken(ctx context.Context, lookup Lookup[domain.AccessToken], f store.Filter, token string) (Result[domain.AccessToken], error) {
	return validateJWT(ctx, j, lookup, f, token, jwtx.UseAccess, j.requireStored,
		func(o domain.Owner, c *jwtx.Claims, hash string) (domain.AccessToken, error) {
			return domain.NewAccessToken(o, domain.ParseScope(c.Scope), hash, "", c.ExpiresAt.Time, c.IssuedAt.Time)
		})
}

func (j *JWTProvider) ValidateRefreshToken(ctx context.Context, lookup Lookup[domain.RefreshToken], f store.Filter, token string) (Result[domain.RefreshToken], error) {
	return validateJWT(ctx, j, lookup, f, token, jwtx.UseRefresh, j.requireStored,
		func(o domain.Owner, c *jwtx.Claims, hash string) (domain.RefreshToken, error) {
			return domain.NewRefreshToken(o, hash, "", c.ExpiresAt.Time, c.IssuedAt.Time)
		})
}

// validateJWT verifies a signed token of the given use. When stored is set
// the metadata row must still exist and be live. Without a row the entity
// is rebuilt from the claims.
func validateJWT[T domain.Token](
	ctx context.Context,
	j *JWTProvider,
	lookup Lookup[T],
	f store.Filter,
	token, use string,
	stored bool,
	build func(domain.Owner, *jwtx.Claims, string) (T, error),
) (Result[T], error) {
	if token == "" {
		return unmatched[T](ErrNoMatch), nil
	}

	var aud []string
	if f.ClientID != "" {
		aud = []string{f.ClientID}
	}

	claims, err := j.keys.Verifier.Verify(token, aud...)
	if err != nil {
		return unmatched[T](err), nil
	}
	if err := claims.ValidateUse(use); err != nil {
		return unmatched[T](err), nil
	}
	if f.RedirectURI != "" && claims.RedirectURI != f.RedirectURI {
		return unmatched[T](ErrRedirectURI), nil
	}
	if claims.IssuedAt == nil || claims.ID == "" {
		return unmatched[T](jwtx.ErrInvalidClaim), nil
	}

	p := jwtx.PrincipalFromClaims(claims)
	if !p.IsAuthenticated() {
		return unmatched[T](ErrUnauthenticated), nil
	}

	hash := cryptox.FingerprintToken(claims.ID)

	if stored {
		entity, err := lookup.Get(ctx, hash)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return unmatched[T](ErrRevoked), nil
		case err != nil:
			return unmatched[T](err), fmt.Errorf("provider: load %s token: %w", use, err)
		case entity.IsExpired(j.now()):
			return unmatched[T](jwtx.ErrExpired), nil
		}
		return matched(p, entity), nil
	}

	owner := domain.Owner{
		ClientID:    firstAudience(claims),
		RedirectURI: claims.RedirectURI,
		Subject:     p.Subject(),
	}
	entity, err := build(owner, claims, hash)
	if err != nil {
		return unmatched[T](err), nil
	}
	return matched(p, entity), nil
}

func firstAudience(c *jwtx.Claims) string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}
