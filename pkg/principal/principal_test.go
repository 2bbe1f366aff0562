package principal_test

import (
	"context"
	"testing"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/principal"
	"github.com/stretchr/testify/require"
)

func TestNew_DropsDuplicates(t *testing.T) {
	t.Parallel()

	p := principal.New("pwd",
		principal.NewClaim("sub", "alice"),
		principal.NewClaim("role", "admin"),
		principal.NewAliasedClaim("sub", "alice", "http://schemas/nameidentifier"),
		principal.NewClaim("role", "user"),
	)

	claims := p.Claims()
	require.Len(t, claims, 3)
	require.Equal(t, principal.NewClaim("sub", "alice"), claims[0], "first occurrence wins")
	require.Equal(t, "admin", claims[1].Value)
	require.Equal(t, "user", claims[2].Value)
}

func TestIsAuthenticated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    principal.Principal
		want bool
	}{
		{"anonymous", principal.Anonymous(), false},
		{"auth type without name", principal.New("pwd", principal.NewClaim("role", "admin")), false},
		{"name without auth type", principal.New("", principal.NewClaim("name", "alice")), false},
		{"name claim", principal.New("pwd", principal.NewClaim("name", "alice")), true},
		{"sub fallback", principal.New("pwd", principal.NewClaim("sub", "alice")), true},
		{"aliased name", principal.New("pwd", principal.NewAliasedClaim("urn:name", "alice", "name")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.p.IsAuthenticated())
			require.Equal(t, !tt.want, tt.p.IsAnonymous())
		})
	}
}

func TestNameAndSubjectFallbacks(t *testing.T) {
	t.Parallel()

	onlySub := principal.New("pwd", principal.NewClaim("sub", "u-1"))
	require.Equal(t, "u-1", onlySub.Name())
	require.Equal(t, "u-1", onlySub.Subject())

	both := principal.New("pwd", principal.NewClaim("name", "Alice"), principal.NewClaim("sub", "u-1"))
	require.Equal(t, "Alice", both.Name())
	require.Equal(t, "u-1", both.Subject())

	require.Empty(t, principal.Anonymous().Name())
	require.Empty(t, principal.Anonymous().Subject())
}

func TestClaimQueries(t *testing.T) {
	t.Parallel()

	p := principal.New("pwd",
		principal.NewClaim("sub", "alice"),
		principal.NewClaim("role", "admin"),
		principal.NewClaim("role", "user"),
	)

	c, ok := p.FindFirst("role")
	require.True(t, ok)
	require.Equal(t, "admin", c.Value)

	_, ok = p.FindFirst("email")
	require.False(t, ok)

	require.Len(t, p.FindAll("role"), 2)
	require.Empty(t, p.FindAll("email"))

	require.True(t, p.HasClaim("role", "user"))
	require.False(t, p.HasClaim("role", "owner"))
}

func TestClaimsIsACopy(t *testing.T) {
	t.Parallel()

	p := principal.New("pwd", principal.NewClaim("sub", "alice"))
	claims := p.Claims()
	claims[0].Value = "mallory"

	require.Equal(t, "alice", p.Subject())
}

func TestWithClaims(t *testing.T) {
	t.Parallel()

	p := principal.New("pwd", principal.NewClaim("sub", "alice"))
	q := p.WithClaims(principal.NewClaim("role", "admin"), principal.NewClaim("sub", "alice"))

	require.Len(t, p.Claims(), 1, "original is unchanged")
	require.Len(t, q.Claims(), 2)
	require.Equal(t, "pwd", q.AuthenticationType())
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := principal.New("pwd", principal.NewClaim("sub", "alice"), principal.NewClaim("role", "admin"))
	b := principal.New("pwd", principal.NewClaim("sub", "alice"), principal.NewClaim("role", "admin"))
	reordered := principal.New("pwd", principal.NewClaim("role", "admin"), principal.NewClaim("sub", "alice"))
	otherType := principal.New("otp", principal.NewClaim("sub", "alice"), principal.NewClaim("role", "admin"))

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(reordered))
	require.False(t, a.Equal(otherType))
	require.True(t, principal.Anonymous().Equal(principal.New("")))
}

func TestContext(t *testing.T) {
	t.Parallel()

	require.True(t, principal.FromContext(context.Background()).Equal(principal.Anonymous()))

	p := principal.New("pwd", principal.NewClaim("sub", "alice"))
	ctx := principal.NewContext(context.Background(), p)
	require.True(t, principal.FromContext(ctx).Equal(p))
}
