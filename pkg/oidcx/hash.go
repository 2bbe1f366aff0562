// Package oidcx validates the OpenID Connect at_hash and c_hash claims that
// bind an ID token to the access token or code issued alongside it.
package oidcx

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
)

// ErrUnsupportedAlgorithm is returned for an algorithm name whose digest
// cannot be determined.
var ErrUnsupportedAlgorithm = errors.New("oidcx: unsupported algorithm")

// ValidateAuthorizationCodeHash reports whether hash is the c_hash of code
// under alg.
func ValidateAuthorizationCodeHash(code, hash, alg string) (bool, error) {
	return validate(code, hash, alg)
}

// ValidateAccessTokenHash reports whether hash is the at_hash of token under
// alg.
func ValidateAccessTokenHash(token, hash, alg string) (bool, error) {
	return validate(token, hash, alg)
}

// LeftHash returns the base64url encoded left half (first 16 bytes) of the
// digest of value, as placed in at_hash and c_hash.
func LeftHash(value, alg string) (string, error) {
	left, err := leftBytes(value, alg)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(left), nil
}

// validate accepts both the base64url rendering from OIDC Core and the padded
// standard base64 rendering.
func validate(value, claim, alg string) (bool, error) {
	left, err := leftBytes(value, alg)
	if err != nil {
		return false, err
	}
	if claim == "" {
		return false, nil
	}

	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.StdEncoding} {
		if subtle.ConstantTimeCompare([]byte(enc.EncodeToString(left)), []byte(claim)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func leftBytes(value, alg string) ([]byte, error) {
	newHash, err := digestFor(alg)
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write([]byte(value))
	return h.Sum(nil)[:16], nil
}

// digests maps every JOSE signing algorithm, plus the bare digest names, to
// the hash its at_hash and c_hash use. EdDSA uses SHA-512 as Ed25519 does.
var digests = map[string]func() hash.Hash{
	"HS256": sha256.New, "RS256": sha256.New, "ES256": sha256.New, "PS256": sha256.New,
	"HS384": sha512.New384, "RS384": sha512.New384, "ES384": sha512.New384, "PS384": sha512.New384,
	"HS512": sha512.New, "RS512": sha512.New, "ES512": sha512.New, "PS512": sha512.New,
	"EdDSA":  sha512.New,
	"SHA256": sha256.New,
	"SHA384": sha512.New384,
	"SHA512": sha512.New,
}

// digestFor returns the digest for alg. Names are matched exactly, as JOSE
// algorithm names are case sensitive.
func digestFor(alg string) (func() hash.Hash, error) {
	newHash, ok := digests[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return newHash, nil
}
