// Package service implements the token manager: the only component that
// writes credentials to the repository. It enforces duplicate prevention,
// single-use codes and garbage collection on top of a TokenProvider.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/provider"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/instrumentation"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/principal"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/slogx"
)

// RefreshTokenRotation decides what happens to a refresh token when it is
// exchanged.
type RefreshTokenRotation int

const (
	// RotateNever keeps a refresh token usable until it expires.
	RotateNever RefreshTokenRotation = iota
	// RotateOnUse consumes a refresh token on exchange and issues a new one.
	RotateOnUse
)

func (r RefreshTokenRotation) String() string {
	if r == RotateOnUse {
		return "rotate"
	}
	return "never"
}

// ParseRefreshTokenRotation maps "never" and "rotate" to a policy.
func ParseRefreshTokenRotation(s string) (RefreshTokenRotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never":
		return RotateNever, nil
	case "rotate", "on_use":
		return RotateOnUse, nil
	default:
		return RotateNever, fmt.Errorf("%w: unknown refresh rotation %q", ErrInvalidArgument, s)
	}
}

// Option configures a TokenManager.
type Option func(*TokenManager)

// WithLogger sets the logger. Without it the logger carried by the context
// (slogx.FromContext) is used.
func WithLogger(l *slog.Logger) Option {
	return func(m *TokenManager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) { m.now = now }
}

// WithInstrumentation records spans and metrics through inst.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(m *TokenManager) { m.inst = inst }
}

// WithRefreshTokenRotation sets the refresh token exchange policy.
func WithRefreshTokenRotation(r RefreshTokenRotation) Option {
	return func(m *TokenManager) { m.rotation = r }
}

// WithAuthenticationLimit throttles authentication attempts per kind and
// caller, where the caller is the key set with WithThrottleKey. A throttled
// attempt resolves to the anonymous principal.
func WithAuthenticationLimit(cfg RateLimitConfig) Option {
	return func(m *TokenManager) { m.limit = cfg }
}

// TokenManager issues, authenticates and revokes credentials.
type TokenManager struct {
	provider provider.TokenProvider
	repo     store.TokenRepository

	codes   store.Repository[domain.AuthorizationCode]
	access  store.Repository[domain.AccessToken]
	refresh store.Repository[domain.RefreshToken]

	logger   *slog.Logger
	now      func() time.Time
	inst     *instrumentation.Instrumentation
	tracer   trace.Tracer
	metrics  *instrumentation.Metrics
	rotation RefreshTokenRotation
	limit    RateLimitConfig
	limiter  *rateLimiter
}

// NewTokenManager returns a manager issuing credentials with p and storing
// them in repo.
func NewTokenManager(p provider.TokenProvider, repo store.TokenRepository, opts ...Option) (*TokenManager, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: token provider is required", ErrInvalidArgument)
	}
	if repo == nil {
		return nil, fmt.Errorf("%w: token repository is required", ErrInvalidArgument)
	}

	m := &TokenManager{provider: p, repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}

	if m.inst == nil {
		m.inst = instrumentation.Noop()
	}
	m.tracer = m.inst.Tracer("manager")
	m.metrics = m.inst.Metrics()

	if m.limit.Enabled() {
		m.limiter = newRateLimiter(m.limit, m.now())
	}

	m.codes = observe(repo.AuthorizationCodes(), domain.KindAuthorizationCode, m.metrics)
	m.access = observe(repo.AccessTokens(), domain.KindAccessToken, m.metrics)
	m.refresh = observe(repo.RefreshTokens(), domain.KindRefreshToken, m.metrics)

	return m, nil
}

func (m *TokenManager) log(ctx context.Context) *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slogx.FromContext(ctx)
}

func (m *TokenManager) startSpan(ctx context.Context, op string, kind domain.Kind, clientID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String(instrumentation.AttrTokenKind, kind.String())}
	if clientID != "" {
		attrs = append(attrs, attribute.String(instrumentation.AttrClientID, clientID))
	}
	return m.tracer.Start(ctx, instrumentation.SpanName(op), trace.WithAttributes(attrs...))
}

func (m *TokenManager) CreateAuthorizationCode(ctx context.Context, clientID, redirectURI string, p principal.Principal, scope []string, expireTime time.Time) (string, error) {
	return create(ctx, m, "create_authorization_code", m.codes, m.provider.CreateAuthorizationCode,
		provider.Request{ClientID: clientID, RedirectURI: redirectURI, Principal: p, Scope: scope, ExpireTime: expireTime})
}

func (m *TokenManager) CreateAccessToken(ctx context.Context, clientID, redirectURI string, p principal.Principal, scope []string, expireTime time.Time) (string, error) {
	return create(ctx, m, "create_access_token", m.access, m.provider.CreateAccessToken,
		provider.Request{ClientID: clientID, RedirectURI: redirectURI, Principal: p, Scope: scope, ExpireTime: expireTime})
}

// CreateRefreshToken issues a refresh token. Refresh tokens carry no scope
// of their own; scope is accepted for symmetry and ignored.
func (m *TokenManager) CreateRefreshToken(ctx context.Context, clientID, redirectURI string, p principal.Principal, scope []string, expireTime time.Time) (string, error) {
	return create(ctx, m, "create_refresh_token", m.refresh, m.provider.CreateRefreshToken,
		provider.Request{ClientID: clientID, RedirectURI: redirectURI, Principal: p, Scope: scope, ExpireTime: expireTime})
}

// create validates the request, collects expired entities of the kind,
// issues the credential and stores it. Insert replaces any live credential
// of the same owner.
func create[T domain.Token](
	ctx context.Context,
	m *TokenManager,
	op string,
	repo store.Repository[T],
	issue func(context.Context, provider.Request) (string, T, error),
	req provider.Request,
) (string, error) {
	var zero T
	kind := zero.Kind()

	ctx, span := m.startSpan(ctx, op, kind, req.ClientID)
	defer span.End()
	l := m.log(ctx).With(slog.String("kind", kind.String()), slog.String("client_id", req.ClientID))

	switch {
	case req.ClientID == "":
		return "", fmt.Errorf("%w: client id is required", ErrInvalidArgument)
	case req.RedirectURI == "":
		return "", fmt.Errorf("%w: redirect uri is required", ErrInvalidArgument)
	case req.ExpireTime.IsZero():
		return "", fmt.Errorf("%w: expire time is required", ErrInvalidArgument)
	case !req.Principal.IsAuthenticated():
		return "", ErrUnauthenticated
	}

	collect(ctx, m, repo)

	plaintext, entity, err := issue(ctx, req)
	switch {
	case errors.Is(err, provider.ErrUnauthenticated):
		return "", ErrUnauthenticated
	case errors.Is(err, domain.ErrInvalidEntity):
		return "", fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case err != nil:
		instrumentation.RecordError(span, err)
		l.Error("failed to issue credential", slog.Any("error", err))
		return "", err
	}

	if _, err := repo.Insert(ctx, entity); err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, store.ErrAlreadyExists) {
			l.Warn("credential hash collision", slog.String("hash_id", cryptox.LogID(entity.Hash())))
			return "", fmt.Errorf("%w: %w", ErrConflict, err)
		}
		l.Error("failed to store credential", slog.Any("error", err))
		return "", err
	}

	m.metrics.RecordCreated(ctx, kind.String())
	span.SetAttributes(attribute.String(instrumentation.AttrHashID, cryptox.LogID(entity.Hash())))
	instrumentation.SetSpanSuccess(span)
	l.Debug("credential issued",
		slog.String("hash_id", cryptox.LogID(entity.Hash())),
		slog.Time("valid_to", entity.Expiry()),
	)

	return plaintext, nil
}

// collect removes expired entities of one kind. Failures are logged and
// never fail the caller.
func collect[T domain.Token](ctx context.Context, m *TokenManager, repo store.Repository[T]) int {
	var zero T
	kind := zero.Kind()

	n, err := repo.DeleteExpired(ctx, m.now())
	if err != nil {
		m.log(ctx).Error("failed to delete expired credentials", slog.String("kind", kind.String()), slog.Any("error", err))
		return 0
	}
	if n > 0 {
		m.metrics.RecordExpiredDeleted(ctx, kind.String(), n)
		m.log(ctx).Debug("deleted expired credentials", slog.String("kind", kind.String()), slog.Int("count", n))
	}
	return n
}

// AuthenticateAuthorizationCode redeems a code. The code is consumed: the
// principal is returned only to the caller whose delete removed it.
func (m *TokenManager) AuthenticateAuthorizationCode(ctx context.Context, redirectURI, code string) (principal.Principal, error) {
	if redirectURI == "" || code == "" {
		return principal.Anonymous(), fmt.Errorf("%w: redirect uri and code are required", ErrInvalidArgument)
	}

	res, err := authenticate(ctx, m, "authenticate_authorization_code", m.codes,
		store.Filter{RedirectURI: redirectURI}, code, m.provider.ValidateAuthorizationCode, consume(m.codes))
	return res.Principal, err
}

// AuthenticateAccessToken resolves a bearer access token. Access tokens are
// matched across all clients.
func (m *TokenManager) AuthenticateAccessToken(ctx context.Context, token string) (principal.Principal, error) {
	if token == "" {
		return principal.Anonymous(), fmt.Errorf("%w: token is required", ErrInvalidArgument)
	}

	res, err := authenticate(ctx, m, "authenticate_access_token", m.access,
		store.Filter{}, token, m.provider.ValidateAccessToken, nil)
	return res.Principal, err
}

// AuthenticateRefreshToken resolves a refresh token issued to clientID for
// redirectURI without consuming it.
func (m *TokenManager) AuthenticateRefreshToken(ctx context.Context, clientID, redirectURI, token string) (principal.Principal, error) {
	if clientID == "" || redirectURI == "" || token == "" {
		return principal.Anonymous(), fmt.Errorf("%w: client id, redirect uri and token are required", ErrInvalidArgument)
	}

	res, err := authenticate(ctx, m, "authenticate_refresh_token", m.refresh,
		store.Filter{ClientID: clientID, RedirectURI: redirectURI}, token, m.provider.ValidateRefreshToken, nil)
	return res.Principal, err
}

// ExchangeRefreshToken authenticates a refresh token and, under RotateOnUse,
// consumes it and issues its replacement valid until expireTime. Under
// RotateNever the presented token is returned unchanged. An anonymous
// principal comes with an empty token.
func (m *TokenManager) ExchangeRefreshToken(ctx context.Context, clientID, redirectURI, token string, expireTime time.Time) (principal.Principal, string, error) {
	if clientID == "" || redirectURI == "" || token == "" {
		return principal.Anonymous(), "", fmt.Errorf("%w: client id, redirect uri and token are required", ErrInvalidArgument)
	}

	var rotate func(context.Context, domain.RefreshToken) (bool, error)
	if m.rotation == RotateOnUse {
		if expireTime.IsZero() {
			return principal.Anonymous(), "", fmt.Errorf("%w: expire time is required", ErrInvalidArgument)
		}
		rotate = consume(m.refresh)
	}

	res, err := authenticate(ctx, m, "exchange_refresh_token", m.refresh,
		store.Filter{ClientID: clientID, RedirectURI: redirectURI}, token, m.provider.ValidateRefreshToken, rotate)
	if err != nil || !res.Matched {
		return res.Principal, "", err
	}

	if m.rotation == RotateNever {
		return res.Principal, token, nil
	}

	next, err := m.CreateRefreshToken(ctx, clientID, redirectURI, res.Principal, nil, expireTime)
	if err != nil {
		return principal.Anonymous(), "", err
	}
	return res.Principal, next, nil
}

// consume returns a hook deleting the matched entity. It reports false when
// another caller removed it first.
func consume[T domain.Token](repo store.Repository[T]) func(context.Context, T) (bool, error) {
	return func(ctx context.Context, t T) (bool, error) {
		return repo.Delete(ctx, t.Hash())
	}
}

// authenticate runs one validation through the throttle, the provider and
// the optional consume hook and records the outcome.
func authenticate[T domain.Token](
	ctx context.Context,
	m *TokenManager,
	op string,
	repo store.Repository[T],
	f store.Filter,
	secret string,
	validate func(context.Context, provider.Lookup[T], store.Filter, string) (provider.Result[T], error),
	consume func(context.Context, T) (bool, error),
) (provider.Result[T], error) {
	var zero T
	kind := zero.Kind()
	anonymous := provider.Result[T]{Principal: principal.Anonymous()}

	ctx, span := m.startSpan(ctx, op, kind, f.ClientID)
	defer span.End()
	l := m.log(ctx).With(slog.String("kind", kind.String()), slog.String("client_id", f.ClientID))

	if caller, ok := ThrottleKeyFromContext(ctx); ok && m.limiter != nil {
		if !m.limiter.allow(kind.String()+"|"+caller, m.now()) {
			l.Warn("authentication throttled", slog.String("throttle_key", caller))
			m.record(ctx, span, kind, instrumentation.ResultThrottled)
			return anonymous, nil
		}
	}

	res, err := validate(ctx, repo, f, secret)
	if err != nil {
		instrumentation.RecordError(span, err)
		l.Error("failed to validate credential", slog.Any("error", err))
		return anonymous, err
	}
	if !res.Matched {
		l.Debug("credential rejected", slog.Any("reason", res.Reason))
		m.record(ctx, span, kind, instrumentation.ResultAnonymous)
		return anonymous, nil
	}

	hashID := cryptox.LogID(res.Entity.Hash())
	if consume != nil {
		ok, err := consume(ctx, res.Entity)
		if err != nil {
			instrumentation.RecordError(span, err)
			l.Error("failed to consume credential", slog.String("hash_id", hashID), slog.Any("error", err))
			return anonymous, err
		}
		if !ok {
			l.Debug("credential already consumed", slog.String("hash_id", hashID))
			m.record(ctx, span, kind, instrumentation.ResultAnonymous)
			return anonymous, nil
		}
	}

	// Consumed credentials are gone, so only live ones are upgraded. Insert
	// replaces the old entity of the same owner.
	if consume == nil && res.Rehashed != nil {
		if _, err := repo.Insert(ctx, *res.Rehashed); err != nil {
			l.Warn("failed to upgrade credential hash", slog.String("hash_id", hashID), slog.Any("error", err))
		} else {
			l.Info("credential hash upgraded", slog.String("hash_id", hashID))
		}
	}

	span.SetAttributes(attribute.String(instrumentation.AttrHashID, hashID))
	m.record(ctx, span, kind, instrumentation.ResultSuccess)
	l.Debug("credential authenticated", slog.String("hash_id", hashID))
	return res, nil
}

func (m *TokenManager) record(ctx context.Context, span trace.Span, kind domain.Kind, result string) {
	m.metrics.RecordAuthenticated(ctx, kind.String(), result)
	span.SetAttributes(attribute.String(instrumentation.AttrResult, result))
	instrumentation.SetSpanSuccess(span)
}

// CreateIdentityToken issues an OpenID Connect ID token when the provider
// supports it.
func (m *TokenManager) CreateIdentityToken(ctx context.Context, req provider.IdentityRequest) (string, error) {
	ctx, span := m.tracer.Start(ctx, instrumentation.SpanName("create_identity_token"),
		trace.WithAttributes(attribute.String(instrumentation.AttrClientID, req.ClientID)))
	defer span.End()

	ip, ok := m.provider.(provider.IdentityProvider)
	if !ok {
		return "", ErrUnsupported
	}
	switch {
	case req.ClientID == "":
		return "", fmt.Errorf("%w: client id is required", ErrInvalidArgument)
	case req.ExpireTime.IsZero():
		return "", fmt.Errorf("%w: expire time is required", ErrInvalidArgument)
	case !req.Principal.IsAuthenticated():
		return "", ErrUnauthenticated
	}

	token, err := ip.CreateIdentityToken(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}
	instrumentation.SetSpanSuccess(span)
	return token, nil
}

// RevokeAccessToken deletes every access token of owner and returns how
// many were removed.
func (m *TokenManager) RevokeAccessToken(ctx context.Context, owner domain.Owner) (int, error) {
	return revoke(ctx, m, "revoke_access_token", m.access, owner)
}

// RevokeRefreshToken deletes every refresh token of owner.
func (m *TokenManager) RevokeRefreshToken(ctx context.Context, owner domain.Owner) (int, error) {
	return revoke(ctx, m, "revoke_refresh_token", m.refresh, owner)
}

func revoke[T domain.Token](ctx context.Context, m *TokenManager, op string, repo store.Repository[T], owner domain.Owner) (int, error) {
	var zero T
	ctx, span := m.startSpan(ctx, op, zero.Kind(), owner.ClientID)
	defer span.End()

	if owner.ClientID == "" || owner.RedirectURI == "" || owner.Subject == "" {
		return 0, fmt.Errorf("%w: owner is incomplete", ErrInvalidArgument)
	}

	n, err := repo.DeleteByOwner(ctx, owner)
	if err != nil {
		instrumentation.RecordError(span, err)
		return 0, err
	}
	instrumentation.SetSpanSuccess(span)
	m.log(ctx).Info("credentials revoked",
		slog.String("kind", zero.Kind().String()),
		slog.String("client_id", owner.ClientID),
		slog.Int("count", n),
	)
	return n, nil
}

// DeleteExpired removes expired credentials of every kind. Each kind is
// collected independently.
func (m *TokenManager) DeleteExpired(ctx context.Context) int {
	ctx, span := m.tracer.Start(ctx, instrumentation.SpanName("delete_expired"))
	defer span.End()

	n := collect(ctx, m, m.codes) + collect(ctx, m, m.access) + collect(ctx, m, m.refresh)
	instrumentation.SetSpanSuccess(span)
	return n
}

// Ping checks the repository.
func (m *TokenManager) Ping(ctx context.Context) error {
	return m.repo.Ping(ctx)
}
