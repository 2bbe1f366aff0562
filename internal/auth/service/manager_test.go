package service_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/provider"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/service"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store/drivers/memory"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/instrumentation"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/principal"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/slogx"
)

const (
	clientID    = "client1"
	redirectURI = "http://cb"
)

var (
	now   = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	owner = domain.Owner{ClientID: clientID, RedirectURI: redirectURI, Subject: "alice"}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func alice() principal.Principal {
	return principal.New("password",
		principal.NewClaim(principal.ClaimSubject, "alice"),
		principal.NewClaim(principal.ClaimEmail, "alice@example.com"),
	)
}

type fixture struct {
	manager *service.TokenManager
	store   *memory.Store
	clock   *clock
}

func newFixture(t *testing.T, opts ...service.Option) fixture {
	t.Helper()
	crypto, err := cryptox.NewArgon2Provider(64, 1, 1, "")
	require.NoError(t, err)

	c := &clock{t: now}
	st := memory.New()
	p := provider.NewOpaqueProvider(crypto, principal.NewProvider(crypto), c.Now)

	m, err := service.NewTokenManager(p, st, append([]service.Option{service.WithClock(c.Now)}, opts...)...)
	require.NoError(t, err)
	return fixture{manager: m, store: st, clock: c}
}

func TestTokenManager_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager

	code, err := m.CreateAuthorizationCode(ctx, clientID, redirectURI, alice(), []string{"openid"}, now.Add(time.Minute))
	require.NoError(t, err)

	p, err := m.AuthenticateAuthorizationCode(ctx, redirectURI, code)
	require.NoError(t, err)
	require.True(t, p.IsAuthenticated())
	require.Equal(t, "alice", p.Name())
	require.True(t, p.Equal(alice()))

	again, err := m.AuthenticateAuthorizationCode(ctx, redirectURI, code)
	require.NoError(t, err)
	require.True(t, again.IsAnonymous(), "codes are single use")

	access, err := m.CreateAccessToken(ctx, clientID, redirectURI, p, []string{"openid"}, now.Add(time.Hour))
	require.NoError(t, err)
	refresh, err := m.CreateRefreshToken(ctx, clientID, redirectURI, p, nil, now.Add(24*time.Hour))
	require.NoError(t, err)

	p, err = m.AuthenticateAccessToken(ctx, access)
	require.NoError(t, err)
	require.Equal(t, "alice", p.Subject())

	p, err = m.AuthenticateRefreshToken(ctx, clientID, redirectURI, refresh)
	require.NoError(t, err)
	require.Equal(t, "alice", p.Subject())

	p, err = m.AuthenticateRefreshToken(ctx, "client2", redirectURI, refresh)
	require.NoError(t, err)
	require.True(t, p.IsAnonymous(), "refresh tokens are bound to their client")
}

func TestTokenManager_CreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	expire := now.Add(time.Hour)

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		p           principal.Principal
		expire      time.Time
		want        error
	}{
		{"missing client", "", redirectURI, alice(), expire, service.ErrInvalidArgument},
		{"missing redirect uri", clientID, "", alice(), expire, service.ErrInvalidArgument},
		{"missing expiry", clientID, redirectURI, alice(), time.Time{}, service.ErrInvalidArgument},
		{"expiry in the past", clientID, redirectURI, alice(), now.Add(-time.Minute), service.ErrInvalidArgument},
		{"anonymous", clientID, redirectURI, principal.Anonymous(), expire, service.ErrUnauthenticated},
		{"no name claim", clientID, redirectURI, principal.New("password", principal.NewClaim("email", "x@y")), expire, service.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := f.manager.CreateAccessToken(ctx, tt.clientID, tt.redirectURI, tt.p, nil, tt.expire)
			require.ErrorIs(t, err, tt.want)
			require.Empty(t, token)
		})
	}
}

func TestTokenManager_AuthenticateValidation(t *testing.T) {
	ctx := context.Background()
	m := newFixture(t).manager

	p, err := m.AuthenticateAuthorizationCode(ctx, "", "code")
	require.ErrorIs(t, err, service.ErrInvalidArgument)
	require.True(t, p.IsAnonymous())

	_, err = m.AuthenticateAuthorizationCode(ctx, redirectURI, "")
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	_, err = m.AuthenticateAccessToken(ctx, "")
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	_, err = m.AuthenticateRefreshToken(ctx, clientID, redirectURI, "")
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	_, _, err = m.ExchangeRefreshToken(ctx, "", redirectURI, "token", now.Add(time.Hour))
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	p, err = m.AuthenticateAccessToken(ctx, "never-issued")
	require.NoError(t, err)
	require.True(t, p.IsAnonymous())
}

func TestTokenManager_DuplicatePrevention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)
	second, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)

	live, err := f.store.AccessTokens().GetCandidates(ctx, store.Filter{}, now)
	require.NoError(t, err)
	require.Len(t, live, 1)

	p, err := f.manager.AuthenticateAccessToken(ctx, first)
	require.NoError(t, err)
	require.True(t, p.IsAnonymous(), "replaced token no longer authenticates")

	p, err = f.manager.AuthenticateAccessToken(ctx, second)
	require.NoError(t, err)
	require.True(t, p.IsAuthenticated())
}

func TestTokenManager_Expiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Minute))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	p, err := f.manager.AuthenticateAccessToken(ctx, token)
	require.NoError(t, err)
	require.True(t, p.IsAnonymous())

	require.Equal(t, 1, f.manager.DeleteExpired(ctx))
	require.Equal(t, 0, f.manager.DeleteExpired(ctx))
}

func TestTokenManager_CreateCollectsExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stale, err := domain.NewRefreshToken(
		domain.Owner{ClientID: clientID, RedirectURI: redirectURI, Subject: "bob"},
		"stale-hash", "ticket", now.Add(-time.Minute), now.Add(-time.Hour),
	)
	require.NoError(t, err)
	_, err = f.store.RefreshTokens().Insert(ctx, stale)
	require.NoError(t, err)

	_, err = f.manager.CreateRefreshToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.store.RefreshTokens().Get(ctx, "stale-hash")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTokenManager_FlippedCharacter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)

	b := []byte(token)
	b[len(b)/2] ^= 0x01
	p, err := f.manager.AuthenticateAccessToken(ctx, string(b))
	require.NoError(t, err)
	require.True(t, p.IsAnonymous())
}

func TestTokenManager_ConcurrentCodeRedemption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	code, err := f.manager.CreateAuthorizationCode(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Minute))
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p, err := f.manager.AuthenticateAuthorizationCode(ctx, redirectURI, code)
			if err == nil && p.IsAuthenticated() {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), successes.Load())
}

func TestTokenManager_RefreshRotation(t *testing.T) {
	ctx := context.Background()

	t.Run("rotate on use", func(t *testing.T) {
		f := newFixture(t, service.WithRefreshTokenRotation(service.RotateOnUse))

		old, err := f.manager.CreateRefreshToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
		require.NoError(t, err)

		p, next, err := f.manager.ExchangeRefreshToken(ctx, clientID, redirectURI, old, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Equal(t, "alice", p.Subject())
		require.NotEmpty(t, next)
		require.NotEqual(t, old, next)

		p, next2, err := f.manager.ExchangeRefreshToken(ctx, clientID, redirectURI, old, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.True(t, p.IsAnonymous(), "rotated token cannot be replayed")
		require.Empty(t, next2)

		p, err = f.manager.AuthenticateRefreshToken(ctx, clientID, redirectURI, next)
		require.NoError(t, err)
		require.True(t, p.IsAuthenticated())
	})

	t.Run("never", func(t *testing.T) {
		f := newFixture(t)

		token, err := f.manager.CreateRefreshToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
		require.NoError(t, err)

		for range 2 {
			p, same, err := f.manager.ExchangeRefreshToken(ctx, clientID, redirectURI, token, time.Time{})
			require.NoError(t, err)
			require.True(t, p.IsAuthenticated())
			require.Equal(t, token, same)
		}
	})
}

func TestTokenManager_Throttle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, service.WithAuthenticationLimit(service.RateLimitConfig{
		RequestsPerWindow: 2,
		Window:            time.Minute,
		Burst:             2,
	}))

	token, err := f.manager.CreateRefreshToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)

	attacker := service.WithThrottleKey(ctx, "203.0.113.9")
	for range 2 {
		p, err := f.manager.AuthenticateRefreshToken(attacker, clientID, redirectURI, "guess")
		require.NoError(t, err)
		require.True(t, p.IsAnonymous())
	}

	p, err := f.manager.AuthenticateRefreshToken(attacker, clientID, redirectURI, token)
	require.NoError(t, err)
	require.True(t, p.IsAnonymous(), "throttled attempt resolves to anonymous")

	p, err = f.manager.AuthenticateRefreshToken(service.WithThrottleKey(ctx, "198.51.100.7"), clientID, redirectURI, token)
	require.NoError(t, err)
	require.True(t, p.IsAuthenticated(), "other callers have their own bucket")

	for range 5 {
		p, err = f.manager.AuthenticateRefreshToken(ctx, clientID, redirectURI, token)
		require.NoError(t, err)
		require.True(t, p.IsAuthenticated(), "attempts without a throttle key are not limited")
	}

	f.clock.Advance(time.Minute)
	p, err = f.manager.AuthenticateRefreshToken(attacker, clientID, redirectURI, token)
	require.NoError(t, err)
	require.True(t, p.IsAuthenticated())
}

func TestTokenManager_ThrottleIsPerCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, service.WithAuthenticationLimit(service.StrictLimit))

	users := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace"}
	tokens := make([]string, len(users))
	for i, u := range users {
		p := principal.New("password", principal.NewClaim(principal.ClaimSubject, u))
		token, err := f.manager.CreateAccessToken(ctx, "client-"+u, redirectURI, p, nil, now.Add(time.Hour))
		require.NoError(t, err)
		tokens[i] = token
	}

	for i, u := range users {
		caller := service.WithThrottleKey(ctx, "client-"+u)
		p, err := f.manager.AuthenticateAccessToken(caller, tokens[i])
		require.NoError(t, err)
		require.Equal(t, u, p.Subject(), "valid token of caller %d authenticates", i)
	}
}

func TestTokenManager_Revoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	access, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)
	refresh, err := f.manager.CreateRefreshToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)

	n, err := f.manager.RevokeAccessToken(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = f.manager.RevokeRefreshToken(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	p, err := f.manager.AuthenticateAccessToken(ctx, access)
	require.NoError(t, err)
	require.True(t, p.IsAnonymous())
	p, err = f.manager.AuthenticateRefreshToken(ctx, clientID, redirectURI, refresh)
	require.NoError(t, err)
	require.True(t, p.IsAnonymous())

	_, err = f.manager.RevokeAccessToken(ctx, domain.Owner{ClientID: clientID})
	require.ErrorIs(t, err, service.ErrInvalidArgument)
}

func TestTokenManager_IdentityTokenUnsupported(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.CreateIdentityToken(context.Background(), provider.IdentityRequest{
		ClientID: clientID, Principal: alice(), ExpireTime: now.Add(time.Hour),
	})
	require.ErrorIs(t, err, service.ErrUnsupported)
}

func TestTokenManager_JWT(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: now}

	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "https://sentinel.test",
		Now:       c.Now,
	})
	require.NoError(t, err)
	p, err := provider.NewJWTProvider(keys, "https://sentinel.test", provider.WithJWTClock(c.Now))
	require.NoError(t, err)

	m, err := service.NewTokenManager(p, memory.New(), service.WithClock(c.Now))
	require.NoError(t, err)

	code, err := m.CreateAuthorizationCode(ctx, clientID, redirectURI, alice(), []string{"openid"}, now.Add(time.Minute))
	require.NoError(t, err)

	got, err := m.AuthenticateAuthorizationCode(ctx, redirectURI, code)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Subject())

	got, err = m.AuthenticateAuthorizationCode(ctx, redirectURI, code)
	require.NoError(t, err)
	require.True(t, got.IsAnonymous(), "signed codes are single use too")

	access, err := m.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)
	got, err = m.AuthenticateAccessToken(ctx, access)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Subject())

	got, err = m.AuthenticateAccessToken(ctx, "a.b")
	require.NoError(t, err)
	require.True(t, got.IsAnonymous(), "malformed tokens resolve to anonymous")

	id, err := m.CreateIdentityToken(ctx, provider.IdentityRequest{
		ClientID: clientID, Principal: alice(), AccessToken: access, ExpireTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestTokenManager_JWTExpiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: now}

	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm:  jwtx.AlgorithmHS256,
		Issuer:     "https://sentinel.test",
		HMACSecret: []byte("0123456789abcdef0123456789abcdef"),
		Now:        c.Now,
	})
	require.NoError(t, err)
	p, err := provider.NewJWTProvider(keys, "https://sentinel.test", provider.WithJWTClock(c.Now))
	require.NoError(t, err)

	m, err := service.NewTokenManager(p, memory.New(), service.WithClock(c.Now))
	require.NoError(t, err)

	access, err := m.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Minute))
	require.NoError(t, err)

	c.Advance(59 * time.Second)
	got, err := m.AuthenticateAccessToken(ctx, access)
	require.NoError(t, err)
	require.True(t, got.IsAuthenticated())

	for _, step := range []time.Duration{time.Second, 10 * time.Second} {
		c.Advance(step)
		got, err = m.AuthenticateAccessToken(ctx, access)
		require.NoError(t, err)
		require.True(t, got.IsAnonymous(), "signed token past its expiry at %s", c.Now())
	}
}

func TestTokenManager_UpgradesOutdatedHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)
	stored, err := f.store.AccessTokens().GetCandidates(ctx, store.Filter{}, now)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	old := stored[0].Hash()

	stronger, err := cryptox.NewArgon2Provider(128, 2, 1, "")
	require.NoError(t, err)
	require.True(t, stronger.NeedsRehash(old))

	p := provider.NewOpaqueProvider(stronger, principal.NewProvider(stronger), f.clock.Now)
	m, err := service.NewTokenManager(p, f.store, service.WithClock(f.clock.Now))
	require.NoError(t, err)

	got, err := m.AuthenticateAccessToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Subject())

	stored, err = f.store.AccessTokens().GetCandidates(ctx, store.Filter{}, now)
	require.NoError(t, err)
	require.Len(t, stored, 1, "the outdated entity is replaced")
	require.NotEqual(t, old, stored[0].Hash())
	require.False(t, stronger.NeedsRehash(stored[0].Hash()))

	got, err = m.AuthenticateAccessToken(ctx, token)
	require.NoError(t, err)
	require.True(t, got.IsAuthenticated(), "the secret still matches the new hash")
}

// failingRepository fails every candidate lookup.
type failingRepository struct {
	*memory.Store
}

var errBackend = errors.New("backend down")

type failingAccess struct {
	store.Repository[domain.AccessToken]
}

func (failingAccess) GetCandidates(context.Context, store.Filter, time.Time) ([]domain.AccessToken, error) {
	return nil, errBackend
}

func (r failingRepository) AccessTokens() store.Repository[domain.AccessToken] {
	return failingAccess{r.Store.AccessTokens()}
}

func TestTokenManager_RepositoryErrors(t *testing.T) {
	crypto, err := cryptox.NewArgon2Provider(64, 1, 1, "")
	require.NoError(t, err)
	p := provider.NewOpaqueProvider(crypto, principal.NewProvider(crypto), nil)

	m, err := service.NewTokenManager(p, failingRepository{memory.New()})
	require.NoError(t, err)

	got, err := m.AuthenticateAccessToken(context.Background(), "some-token")
	require.ErrorIs(t, err, errBackend)
	require.True(t, got.IsAnonymous())
}

func TestTokenManager_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:        true,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
	})
	require.NoError(t, err)

	ctx := context.Background()
	f := newFixture(t, service.WithInstrumentation(inst))

	token, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.manager.AuthenticateAccessToken(ctx, token)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "sentinel.manager.create_access_token", spans[0].Name())
	require.Equal(t, "sentinel.manager.authenticate_access_token", spans[1].Name())

	for _, s := range spans {
		for _, a := range s.Attributes() {
			require.NotEqual(t, token, a.Value.AsString(), "span attributes never carry the secret")
		}
	}

	var result string
	for _, a := range spans[1].Attributes() {
		if string(a.Key) == instrumentation.AttrResult {
			result = a.Value.AsString()
		}
	}
	require.Equal(t, instrumentation.ResultSuccess, result)
}

func TestParseRefreshTokenRotation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    service.RefreshTokenRotation
		wantErr bool
	}{
		{"", service.RotateNever, false},
		{"never", service.RotateNever, false},
		{"ROTATE", service.RotateOnUse, false},
		{"sometimes", service.RotateNever, true},
	}
	for _, tt := range tests {
		got, err := service.ParseRefreshTokenRotation(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, service.ErrInvalidArgument)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestTokenManager_LogsNeverCarrySecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := slogx.With(slogx.WithContext(context.Background(), logger), "req_id", "r-1")

	f := newFixture(t)
	token, err := f.manager.CreateAccessToken(ctx, clientID, redirectURI, alice(), nil, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.manager.AuthenticateAccessToken(ctx, token)
	require.NoError(t, err)
	_, err = f.manager.AuthenticateAccessToken(ctx, token+"x")
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, `"req_id":"r-1"`, "context logger is used without WithLogger")
	require.Contains(t, out, "credential authenticated")
	require.Contains(t, out, "credential rejected")
	require.NotContains(t, out, token)
}
