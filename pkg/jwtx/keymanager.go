package jwtx

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
)

// KeyManager owns the active signing keys and the KeySet used to verify
// them. Signing picks one of the active keys at random; retired keys stay in
// the KeySet so outstanding tokens keep verifying until they are pruned.
type KeyManager struct {
	Verifier  *Verifier
	KeySet    *KeySet
	algorithm string

	mu      sync.RWMutex
	signers []Signer
	retired map[string]time.Time // kid -> retirement time
}

// KeyManagerOptions configures the KeyManager for a specific use case.
type KeyManagerOptions struct {
	// Algorithm is one of SupportedAlgorithms.
	Algorithm string

	// Issuer is the issuer claim (iss) that will be validated in tokens.
	Issuer string

	// Audience is the list of audience values (aud) that will be validated.
	// Empty slice means no audience validation.
	Audience []string

	// Leeway for exp/nbf checks. Zero allows no clock skew.
	Leeway time.Duration

	// Now overrides the verifier clock.
	Now func() time.Time

	// HMACSecret is the shared secret for HS* algorithms. When empty a
	// random one is generated, which means tokens do not survive a restart.
	HMACSecret []byte

	// PrivateKeyPEM is the signing key for RS256, ES256 and EdDSA. When
	// empty keys are generated, which means tokens do not survive a restart.
	PrivateKeyPEM []byte

	// KeyID names the configured HMACSecret or PrivateKeyPEM. A stable id
	// lets several processes verify each other's tokens. Random when empty.
	KeyID string

	// RSABits specifies the RSA key size for RS256 algorithm.
	// Defaults to 2048 if not specified. Must be at least 2048.
	RSABits int

	// NumKeys specifies how many asymmetric signing keys to generate.
	// Defaults to 1, capped at 10. Configured keys always count as one.
	NumKeys int
}

// NewKeyManager creates a KeyManager with the configured key, or with keys
// generated in memory.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}

	km := newKeyManager(opts)

	if material := configuredKey(opts); len(material) > 0 {
		kid := opts.KeyID
		if kid == "" {
			var err error
			if kid, err = generateRandomKeyID(); err != nil {
				return nil, err
			}
		}
		signer, err := NewSigner(opts.Algorithm, kid, material)
		if err != nil {
			return nil, fmt.Errorf("jwtx: configured %s key: %w", opts.Algorithm, err)
		}
		return km, km.AddSigner(signer)
	}

	numKeys := min(max(opts.NumKeys, 1), 10)
	if IsSymmetric(opts.Algorithm) {
		numKeys = 1
	}

	for i := range numKeys {
		signer, _, err := GenerateSigner(opts.Algorithm, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate signer %d: %w", i+1, err)
		}
		if err := km.AddSigner(signer); err != nil {
			return nil, err
		}
	}

	return km, nil
}

func newKeyManager(opts KeyManagerOptions) *KeyManager {
	keyset := NewKeySet()
	return &KeyManager{
		Verifier: NewVerifier(keyset, VerifyOptions{
			Issuer:   opts.Issuer,
			Audience: opts.Audience,
			Leeway:   opts.Leeway,
			Now:      opts.Now,
		}),
		KeySet:    keyset,
		algorithm: opts.Algorithm,
		retired:   make(map[string]time.Time),
	}
}

func configuredKey(opts KeyManagerOptions) []byte {
	if IsSymmetric(opts.Algorithm) {
		return opts.HMACSecret
	}
	return opts.PrivateKeyPEM
}

// GenerateSigner creates a fresh key for alg under a random kid. It returns
// the key material NewSigner accepts: the HMAC secret, or a PKCS#8 PEM.
func GenerateSigner(alg string, rsaBits int) (Signer, []byte, error) {
	kid, err := generateRandomKeyID()
	if err != nil {
		return nil, nil, err
	}

	var material []byte
	switch alg {
	case AlgorithmHS256, AlgorithmHS384, AlgorithmHS512:
		material, err = cryptox.GenerateHMACKey(64)
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = 2048
		}
		material, err = cryptox.GenerateRSAKey(rsaBits)
	case AlgorithmES256:
		material, err = cryptox.GenerateES256Key()
	case AlgorithmEdDSA:
		material, err = cryptox.GenerateEd25519Key()
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}
	if err != nil {
		return nil, nil, err
	}

	signer, err := NewSigner(alg, kid, material)
	if err != nil {
		return nil, nil, err
	}
	return signer, material, nil
}

// Algorithm returns the signing algorithm being used.
func (km *KeyManager) Algorithm() string {
	return km.algorithm
}

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool {
	return km.KeySet.IsReady() && km.NumSigners() > 0
}

// GetSigner returns a randomly selected active signer.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	default:
		return km.signers[rand.IntN(len(km.signers))]
	}
}

// Signers returns a snapshot of the active signers.
func (km *KeyManager) Signers() []Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return append([]Signer(nil), km.signers...)
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// AddSigner adds a signing key to both the active set and the KeySet.
func (km *KeyManager) AddSigner(signer Signer) error {
	if signer == nil {
		return errors.New("jwtx: signer cannot be nil")
	}
	if signer.Alg() != km.algorithm {
		return fmt.Errorf("%w: signer is %s, manager is %s", ErrAlgMismatch, signer.Alg(), km.algorithm)
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	if err := km.KeySet.AddSigner(signer); err != nil {
		return fmt.Errorf("jwtx: failed to add signer to keyset: %w", err)
	}
	km.signers = append(km.signers, signer)
	return nil
}

// AddRetired registers a key that only verifies, retired at the given time.
// Its algorithm may differ from the manager's.
func (km *KeyManager) AddRetired(signer Signer, retiredAt time.Time) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if err := km.KeySet.AddSigner(signer); err != nil {
		return fmt.Errorf("jwtx: failed to add retired key to keyset: %w", err)
	}
	km.retired[signer.KID()] = retiredAt
	return nil
}

// RetireSignerByKid removes a signing key from active signing operations.
// The key remains in the KeySet for token verification.
// Returns an error if the key is not found or if it's the last active key.
func (km *KeyManager) RetireSignerByKid(kid string) error {
	return km.RetireSignerByKidAt(kid, time.Now())
}

// RetireSignerByKidAt is RetireSignerByKid with an explicit retirement time.
func (km *KeyManager) RetireSignerByKidAt(kid string, at time.Time) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if len(km.signers) <= 1 {
		return errors.New("jwtx: cannot retire the last signing key")
	}

	for i, s := range km.signers {
		if s.KID() == kid {
			km.signers = append(km.signers[:i:i], km.signers[i+1:]...)
			km.retired[kid] = at
			return nil
		}
	}
	return fmt.Errorf("jwtx: signer with kid %q not found", kid)
}

// PruneRetired removes keys retired before cutoff from the KeySet, so tokens
// they signed stop verifying. It returns the removed kids.
func (km *KeyManager) PruneRetired(cutoff time.Time) []string {
	km.mu.Lock()
	defer km.mu.Unlock()

	var pruned []string
	for kid, at := range km.retired {
		if at.Before(cutoff) {
			km.KeySet.Remove(kid)
			delete(km.retired, kid)
			pruned = append(pruned, kid)
		}
	}
	return pruned
}

// generateRandomKeyID creates a random key identifier using cryptographic entropy.
func generateRandomKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: failed to generate key ID: %w", err)
	}
	return "sentinel-" + token, nil
}
