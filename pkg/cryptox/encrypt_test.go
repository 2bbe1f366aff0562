package cryptox_test

import (
	"strings"
	"testing"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"ascii", "hello world"},
		{"json", `{"authenticationType":"pwd","claims":[]}`},
		{"unicode", "пароль🔒密码"},
		{"long", strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := cryptox.Encrypt(tt.text, "the-key")
			require.NoError(t, err)
			require.NotContains(t, ct, "=", "output should be unpadded base64url")

			pt, err := cryptox.Decrypt(ct, "the-key")
			require.NoError(t, err)
			require.Equal(t, tt.text, pt)
		})
	}
}

func TestEncrypt_RandomisedOutput(t *testing.T) {
	a, err := cryptox.Encrypt("same", "key")
	require.NoError(t, err)
	b, err := cryptox.Encrypt("same", "key")
	require.NoError(t, err)

	require.NotEqual(t, a, b, "salt and nonce must make each ciphertext unique")
}

func TestDecrypt_Failures(t *testing.T) {
	ct, err := cryptox.Encrypt("secret payload", "right-key")
	require.NoError(t, err)

	flipped := []byte(ct)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}

	tests := []struct {
		name       string
		ciphertext string
		key        string
	}{
		{"wrong key", ct, "wrong-key"},
		{"tampered", string(flipped), "right-key"},
		{"truncated", ct[:20], "right-key"},
		{"not base64", "***", "right-key"},
		{"empty ciphertext", "", "right-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cryptox.Decrypt(tt.ciphertext, tt.key)
			require.ErrorIs(t, err, cryptox.ErrDecrypt)
		})
	}
}

func TestEncrypt_EmptyKey(t *testing.T) {
	_, err := cryptox.Encrypt("text", "")
	require.ErrorIs(t, err, cryptox.ErrInvalidKey)

	_, err = cryptox.Decrypt("text", "")
	require.ErrorIs(t, err, cryptox.ErrInvalidKey)
}
