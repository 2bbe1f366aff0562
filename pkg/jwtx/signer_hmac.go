package jwtx

import (
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
)

// NewSignerHMAC creates an HS256, HS384 or HS512 signer from a shared
// secret of at least cryptox.MinHMACKeySize bytes.
func NewSignerHMAC(alg, kid string, secret []byte) (Signer, error) {
	var method jwt.SigningMethod
	switch alg {
	case AlgorithmHS256:
		method = jwt.SigningMethodHS256
	case AlgorithmHS384:
		method = jwt.SigningMethodHS384
	case AlgorithmHS512:
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("%w: %q is not an HMAC algorithm", ErrUnsupportedAlg, alg)
	}

	if len(secret) < cryptox.MinHMACKeySize {
		return nil, fmt.Errorf("jwtx: HMAC secret must be at least %d bytes, got %d", cryptox.MinHMACKeySize, len(secret))
	}

	// Copy so the caller can't mutate the key under us.
	key := slices.Clone(secret)
	return &keySigner{kid: kid, method: method, key: key, verify: key}, nil
}
