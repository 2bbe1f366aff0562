package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

type keyEntry struct {
	alg string
	key any
}

// KeySet holds verification keys in memory, each bound to the one algorithm
// it may verify. Binding the algorithm to the kid is what stops a token from
// choosing its own verification method.
type KeySet struct {
	mu   sync.RWMutex
	keys map[string]keyEntry
	jwks []JWK
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[string]keyEntry)}
}

// Add registers key under kid for algorithm alg.
func (k *KeySet) Add(kid, alg string, key any) error {
	if kid == "" {
		return errors.New("jwtx: empty kid")
	}
	if err := checkKeyType(alg, key); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[kid] = keyEntry{alg: alg, key: key}
	return nil
}

// AddSigner registers a Signer's verification key, publishing its JWK when
// it has one.
func (k *KeySet) AddSigner(s Signer) error {
	if err := k.Add(s.KID(), s.Alg(), s.VerificationKey()); err != nil {
		return err
	}
	if jwk, ok := s.PublicJWK(); ok {
		k.mu.Lock()
		k.jwks = append(k.jwks, jwk)
		k.mu.Unlock()
	}
	return nil
}

// AddJWK parses a public JWK and registers it. The JWK must name its alg.
func (k *KeySet) AddJWK(j JWK) error {
	if j.Alg == "" {
		return fmt.Errorf("jwtx: JWK %q has no alg", j.Kid)
	}
	key, err := parseJWKToKey(j)
	if err != nil {
		return err
	}
	if err := k.Add(j.Kid, j.Alg, key); err != nil {
		return err
	}

	k.mu.Lock()
	k.jwks = append(k.jwks, j)
	k.mu.Unlock()
	return nil
}

// Lookup returns the algorithm and key registered for kid.
func (k *KeySet) Lookup(kid string) (string, any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	e, ok := k.keys[kid]
	if !ok {
		return "", nil, ErrNoKey
	}
	return e.alg, e.key, nil
}

// Remove drops kid from the set. Tokens signed with it stop verifying.
func (k *KeySet) Remove(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.keys, kid)
	out := k.jwks[:0]
	for _, j := range k.jwks {
		if j.Kid != kid {
			out = append(out, j)
		}
	}
	k.jwks = out
}

// PublicJWKS returns a snapshot of the publishable keys.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return JWKS{Keys: append([]JWK(nil), k.jwks...)}
}

// IsReady returns true if the KeySet has at least one key loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) > 0
}

func checkKeyType(alg string, key any) error {
	ok := false
	switch alg {
	case AlgorithmHS256, AlgorithmHS384, AlgorithmHS512:
		b, isBytes := key.([]byte)
		ok = isBytes && len(b) > 0
	case AlgorithmRS256:
		_, ok = key.(*rsa.PublicKey)
	case AlgorithmES256:
		_, ok = key.(*ecdsa.PublicKey)
	case AlgorithmEdDSA:
		_, ok = key.(ed25519.PublicKey)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}
	if !ok {
		return fmt.Errorf("jwtx: key type %T does not fit %s", key, alg)
	}
	return nil
}

// parseJWKToKey converts a JWK into a crypto.PublicKey.
// Supports RSA, Ed25519 (OKP), and ECDSA (EC) key types.
func parseJWKToKey(j JWK) (any, error) {
	b64 := base64.RawURLEncoding
	switch j.Kty {
	case "RSA":
		nb, err := b64.DecodeString(j.N)
		if err != nil {
			return nil, err
		}
		eb, err := b64.DecodeString(j.E)
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(new(big.Int).SetBytes(eb).Int64())}, nil

	case "OKP":
		if j.Crv != "Ed25519" {
			return nil, errors.New("jwtx: unsupported OKP curve " + j.Crv)
		}
		xb, err := b64.DecodeString(j.X)
		if err != nil {
			return nil, err
		}
		if len(xb) != ed25519.PublicKeySize {
			return nil, errors.New("jwtx: invalid Ed25519 public key size")
		}
		return ed25519.PublicKey(xb), nil

	case "EC":
		if j.Crv != "P-256" {
			return nil, errors.New("jwtx: unsupported EC curve " + j.Crv)
		}
		xb, err := b64.DecodeString(j.X)
		if err != nil {
			return nil, err
		}
		yb, err := b64.DecodeString(j.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xb),
			Y:     new(big.Int).SetBytes(yb),
		}, nil

	default:
		return nil, errors.New("jwtx: unsupported kty " + j.Kty)
	}
}
