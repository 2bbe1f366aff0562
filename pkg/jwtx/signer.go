package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmHS256 = "HS256"
	AlgorithmHS384 = "HS384"
	AlgorithmHS512 = "HS512"
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// SupportedAlgorithms lists every algorithm a Verifier accepts. "none" is
// never among them.
var SupportedAlgorithms = []string{
	AlgorithmHS256, AlgorithmHS384, AlgorithmHS512,
	AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA,
}

// IsSymmetric reports whether alg is an HMAC algorithm.
func IsSymmetric(alg string) bool {
	switch alg {
	case AlgorithmHS256, AlgorithmHS384, AlgorithmHS512:
		return true
	}
	return false
}

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)

	// VerificationKey is the key a verifier needs: the public key for
	// asymmetric algorithms, the shared secret for HMAC.
	VerificationKey() any

	// PublicJWK returns the publishable key. ok is false for HMAC signers,
	// whose secret must never be published.
	PublicJWK() (jwk JWK, ok bool)
}

// keySigner signs with a jwt.SigningMethod and a private key.
type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    any
	verify any
}

var _ Signer = (*keySigner)(nil)

// NewSigner creates a signer for alg. key is the shared secret for HS*
// algorithms and a PEM encoded private key otherwise.
func NewSigner(alg, kid string, key []byte) (Signer, error) {
	switch alg {
	case AlgorithmHS256, AlgorithmHS384, AlgorithmHS512:
		return NewSignerHMAC(alg, kid, key)
	case AlgorithmRS256:
		return NewSignerRS256(kid, key)
	case AlgorithmES256:
		return NewSignerES256(kid, key)
	case AlgorithmEdDSA:
		return NewSignerEdDSA(kid, key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}
}

func (s *keySigner) Alg() string          { return s.method.Alg() }
func (s *keySigner) KID() string          { return s.kid }
func (s *keySigner) VerificationKey() any { return s.verify }

// Sign takes your claims and turns them into a signed JWT string.
func (s *keySigner) Sign(claims Claims) (string, error) {
	if s.key == nil {
		return "", errors.New("jwtx: signer has no key")
	}
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func (s *keySigner) PublicJWK() (JWK, bool) {
	alg := s.method.Alg()
	switch pub := s.verify.(type) {
	case *rsa.PublicKey:
		return NewRSAJWK(s.kid, "sig", alg, pub), true
	case *ecdsa.PublicKey:
		return NewES256JWK(s.kid, "sig", alg, pub), true
	case ed25519.PublicKey:
		return NewEd25519JWK(s.kid, "sig", alg, pub), true
	default:
		return JWK{}, false
	}
}
