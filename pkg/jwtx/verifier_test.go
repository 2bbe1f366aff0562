package jwtx_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newSigner(t *testing.T, alg string) jwtx.Signer {
	t.Helper()

	var key []byte
	var err error
	switch alg {
	case jwtx.AlgorithmHS256, jwtx.AlgorithmHS384, jwtx.AlgorithmHS512:
		key, err = cryptox.GenerateHMACKey(32)
	case jwtx.AlgorithmRS256:
		key, err = cryptox.GenerateRSAKey(2048)
	case jwtx.AlgorithmES256:
		key, err = cryptox.GenerateES256Key()
	case jwtx.AlgorithmEdDSA:
		key, err = cryptox.GenerateEd25519Key()
	}
	require.NoError(t, err)

	s, err := jwtx.NewSigner(alg, "kid-"+alg, key)
	require.NoError(t, err)
	return s
}

func newVerifier(t *testing.T, signers ...jwtx.Signer) *jwtx.Verifier {
	t.Helper()
	ks := jwtx.NewKeySet()
	for _, s := range signers {
		require.NoError(t, ks.AddSigner(s))
	}
	return jwtx.NewVerifier(ks, jwtx.VerifyOptions{
		Issuer: "sentinel",
		Leeway: time.Second,
		Now:    func() time.Time { return testNow },
	})
}

func testClaims() jwtx.Claims {
	c := jwtx.NewClaims("sentinel", "alice", []string{"client1"}, testNow, testNow.Add(time.Hour))
	c.TokenUse = jwtx.UseAccess
	return c
}

func TestVerifier_RoundTripAllAlgorithms(t *testing.T) {
	for _, alg := range jwtx.SupportedAlgorithms {
		t.Run(alg, func(t *testing.T) {
			s := newSigner(t, alg)
			v := newVerifier(t, s)

			token, err := s.Sign(testClaims())
			require.NoError(t, err)
			require.Equal(t, 2, strings.Count(token, "."))

			claims, err := v.Verify(token)
			require.NoError(t, err)
			require.Equal(t, "alice", claims.Subject)
			require.Equal(t, jwtx.UseAccess, claims.TokenUse)

			_, err = v.Verify(token, "client1")
			require.NoError(t, err)

			_, err = v.Verify(token, "client2")
			require.ErrorIs(t, err, jwtx.ErrAudience)
		})
	}
}

func TestVerifier_Rejections(t *testing.T) {
	hs := newSigner(t, jwtx.AlgorithmHS256)
	rs := newSigner(t, jwtx.AlgorithmRS256)
	v := newVerifier(t, hs, rs)

	valid, err := hs.Sign(testClaims())
	require.NoError(t, err)
	parts := strings.Split(valid, ".")

	t.Run("wrong segment count", func(t *testing.T) {
		_, err := v.Verify(parts[0] + "." + parts[1])
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("garbage segments", func(t *testing.T) {
		_, err := v.Verify("a.b.c")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("tampered payload", func(t *testing.T) {
		c := testClaims()
		c.Subject = "mallory"
		other, err := hs.Sign(c)
		require.NoError(t, err)
		forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

		_, err = v.Verify(forged)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("alg none", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims())
		tok.Header["kid"] = hs.KID()
		unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.Verify(unsigned)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("alg confusion with kid of another algorithm", func(t *testing.T) {
		// HS256 token pointing at the RSA kid must not be accepted even if
		// someone signs it with the RSA public key bytes.
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims())
		tok.Header["kid"] = rs.KID()
		forged, err := tok.SignedString([]byte("public-key-bytes-used-as-hmac-secret"))
		require.NoError(t, err)

		_, err = v.Verify(forged)
		require.ErrorIs(t, err, jwtx.ErrAlgMismatch)
	})

	t.Run("unknown kid", func(t *testing.T) {
		other := newSigner(t, jwtx.AlgorithmHS512)
		token, err := other.Sign(testClaims())
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("missing kid", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
		_, err := v.Verify(header + "." + parts[1] + "." + parts[2])
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("expired", func(t *testing.T) {
		c := jwtx.NewClaims("sentinel", "alice", nil, testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))
		token, err := hs.Sign(c)
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		c := jwtx.NewClaims("sentinel", "alice", nil, testNow.Add(time.Hour), testNow.Add(2*time.Hour))
		token, err := hs.Sign(c)
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrNotYetValid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := testClaims()
		c.Issuer = "someone-else"
		token, err := hs.Sign(c)
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})
}

func TestNewSignerHMAC_Validation(t *testing.T) {
	_, err := jwtx.NewSignerHMAC(jwtx.AlgorithmHS256, "k", []byte("short"))
	require.Error(t, err)

	_, err = jwtx.NewSignerHMAC(jwtx.AlgorithmRS256, "k", make([]byte, 32))
	require.ErrorIs(t, err, jwtx.ErrUnsupportedAlg)

	_, err = jwtx.NewSigner("PS256", "k", nil)
	require.ErrorIs(t, err, jwtx.ErrUnsupportedAlg)
}

func TestKeySet(t *testing.T) {
	hs := newSigner(t, jwtx.AlgorithmHS256)
	ed := newSigner(t, jwtx.AlgorithmEdDSA)

	ks := jwtx.NewKeySet()
	require.False(t, ks.IsReady())
	require.NoError(t, ks.AddSigner(hs))
	require.NoError(t, ks.AddSigner(ed))
	require.True(t, ks.IsReady())

	jwks := ks.PublicJWKS()
	require.Len(t, jwks.Keys, 1, "HMAC secrets are never published")
	require.Equal(t, "OKP", jwks.Keys[0].Kty)

	alg, _, err := ks.Lookup(hs.KID())
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmHS256, alg)

	// A published JWK can be loaded into another set and verify tokens.
	other := jwtx.NewKeySet()
	require.NoError(t, other.AddJWK(jwks.Keys[0]))
	token, err := ed.Sign(testClaims())
	require.NoError(t, err)
	_, err = jwtx.NewVerifier(other, jwtx.VerifyOptions{Now: func() time.Time { return testNow }}).Verify(token)
	require.NoError(t, err)

	ks.Remove(ed.KID())
	_, _, err = ks.Lookup(ed.KID())
	require.ErrorIs(t, err, jwtx.ErrNoKey)
	require.Empty(t, ks.PublicJWKS().Keys)

	require.Error(t, ks.Add("kid", jwtx.AlgorithmRS256, []byte("not an rsa key")))
}

func TestPublicJWK_AllAsymmetric(t *testing.T) {
	for _, tt := range []struct{ alg, kty string }{
		{jwtx.AlgorithmRS256, "RSA"},
		{jwtx.AlgorithmES256, "EC"},
		{jwtx.AlgorithmEdDSA, "OKP"},
	} {
		t.Run(tt.alg, func(t *testing.T) {
			s := newSigner(t, tt.alg)
			jwk, ok := s.PublicJWK()
			require.True(t, ok)
			require.Equal(t, tt.kty, jwk.Kty)
			require.Equal(t, tt.alg, jwk.Alg)
			require.Equal(t, s.KID(), jwk.Kid)
		})
	}
}
