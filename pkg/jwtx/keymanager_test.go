package jwtx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
)

func TestNewKeyManager_AllAlgorithms(t *testing.T) {
	for _, alg := range jwtx.SupportedAlgorithms {
		t.Run(alg, func(t *testing.T) {
			km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
				Algorithm: alg,
				Issuer:    "sentinel",
				NumKeys:   2,
				Now:       func() time.Time { return testNow },
			})
			require.NoError(t, err)
			require.True(t, km.IsReady())
			require.Equal(t, alg, km.Algorithm())

			if jwtx.IsSymmetric(alg) {
				require.Equal(t, 1, km.NumSigners(), "HMAC uses a single key")
			} else {
				require.Equal(t, 2, km.NumSigners())
			}

			token, err := km.GetSigner().Sign(testClaims())
			require.NoError(t, err)

			claims, err := km.Verifier.Verify(token)
			require.NoError(t, err)
			require.Equal(t, "alice", claims.Subject)
		})
	}
}

func TestNewKeyManager_ConfiguredHMACSecret(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	opts := jwtx.KeyManagerOptions{
		Algorithm:  jwtx.AlgorithmHS384,
		Issuer:     "sentinel",
		HMACSecret: secret,
		Now:        func() time.Time { return testNow },
	}

	a, err := jwtx.NewKeyManager(opts)
	require.NoError(t, err)
	b, err := jwtx.NewKeyManager(opts)
	require.NoError(t, err)

	// Same secret, different kid: b only verifies a's tokens once it knows
	// a's kid.
	token, err := a.GetSigner().Sign(testClaims())
	require.NoError(t, err)
	_, err = b.Verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)

	require.NoError(t, b.KeySet.Add(a.GetSigner().KID(), jwtx.AlgorithmHS384, secret))
	_, err = b.Verifier.Verify(token)
	require.NoError(t, err)
}

func TestNewKeyManager_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts jwtx.KeyManagerOptions
	}{
		{"missing issuer", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmRS256}},
		{"unsupported algorithm", jwtx.KeyManagerOptions{Algorithm: "PS256", Issuer: "sentinel"}},
		{"small RSA key", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmRS256, Issuer: "sentinel", RSABits: 1024}},
		{"short HMAC secret", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmHS256, Issuer: "sentinel", HMACSecret: []byte("short")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := jwtx.NewKeyManager(tt.opts)
			require.Error(t, err)
			require.Nil(t, km)
		})
	}
}

func TestKeyManager_RetireKeepsVerification(t *testing.T) {
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "sentinel",
		NumKeys:   2,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)

	signer := km.GetSigner()
	token, err := signer.Sign(testClaims())
	require.NoError(t, err)

	require.NoError(t, km.RetireSignerByKid(signer.KID()))
	require.Equal(t, 1, km.NumSigners())
	require.NotEqual(t, signer.KID(), km.GetSigner().KID())

	_, err = km.Verifier.Verify(token)
	require.NoError(t, err, "retired keys still verify")

	require.Error(t, km.RetireSignerByKid(km.GetSigner().KID()), "last key cannot be retired")
	require.Error(t, km.RetireSignerByKid("missing"))
}

func TestKeyManager_AddSignerAlgorithmMismatch(t *testing.T) {
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256, Issuer: "sentinel"})
	require.NoError(t, err)

	err = km.AddSigner(newSigner(t, jwtx.AlgorithmEdDSA))
	require.ErrorIs(t, err, jwtx.ErrAlgMismatch)
}

func TestNewKeyManager_ConfiguredPrivateKey(t *testing.T) {
	_, pemKey, err := jwtx.GenerateSigner(jwtx.AlgorithmES256, 0)
	require.NoError(t, err)

	opts := jwtx.KeyManagerOptions{
		Algorithm:     jwtx.AlgorithmES256,
		Issuer:        "sentinel",
		PrivateKeyPEM: pemKey,
		KeyID:         "sentinel-es-1",
		NumKeys:       3,
		Now:           func() time.Time { return testNow },
	}

	before, err := jwtx.NewKeyManager(opts)
	require.NoError(t, err)
	require.Equal(t, 1, before.NumSigners(), "a configured key is the only signer")

	token, err := before.GetSigner().Sign(testClaims())
	require.NoError(t, err)

	// A restarted process with the same key keeps accepting the token.
	after, err := jwtx.NewKeyManager(opts)
	require.NoError(t, err)
	claims, err := after.Verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)

	opts.PrivateKeyPEM = []byte("not a key")
	_, err = jwtx.NewKeyManager(opts)
	require.Error(t, err)
}

func TestKeyManager_PruneRetired(t *testing.T) {
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "sentinel",
		NumKeys:   2,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)

	old := km.Signers()[0]
	token, err := old.Sign(testClaims())
	require.NoError(t, err)
	require.NoError(t, km.RetireSignerByKidAt(old.KID(), testNow))

	require.Empty(t, km.PruneRetired(testNow), "retired at the cutoff is kept")
	_, err = km.Verifier.Verify(token)
	require.NoError(t, err)

	require.Equal(t, []string{old.KID()}, km.PruneRetired(testNow.Add(time.Second)))
	_, err = km.Verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	require.Len(t, km.KeySet.PublicJWKS().Keys, 1)
}

func TestVerifier_ZeroLeeway(t *testing.T) {
	at := testNow
	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "sentinel",
		Now:       func() time.Time { return at },
	})
	require.NoError(t, err)

	token, err := km.GetSigner().Sign(testClaims())
	require.NoError(t, err)

	at = testNow.Add(time.Hour - time.Second)
	_, err = km.Verifier.Verify(token)
	require.NoError(t, err)

	at = testNow.Add(time.Hour)
	_, err = km.Verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrExpired, "no skew is allowed unless configured")
}
