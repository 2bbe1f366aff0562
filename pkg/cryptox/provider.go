package cryptox

import "fmt"

// Provider is the hashing and symmetric encryption contract used by the
// token engine. Implementations must be safe for concurrent use.
type Provider interface {
	// CreateHash returns a self-describing hash of text.
	CreateHash(text string) (string, error)

	// CreateRandomHash generates a random secret of at least bits bits
	// (never fewer than MinSecretBits) and returns it with its hash.
	CreateRandomHash(bits int) (plaintext, hash string, err error)

	// ValidateHash reports whether text matches hash. A malformed hash is an
	// error, never a plain false.
	ValidateHash(text, hash string) (bool, error)

	// NeedsRehash reports whether hash was made with a weaker or different
	// recipe than the one used for new hashes.
	NeedsRehash(hash string) bool

	Encrypt(text, key string) (string, error)
	Decrypt(ciphertext, key string) (string, error)
}

// HashProvider implements Provider with a fixed recipe for new hashes.
type HashProvider struct {
	params Params
}

var _ Provider = (*HashProvider)(nil)

// NewProvider validates p and returns a provider that hashes with it.
func NewProvider(p Params) (*HashProvider, error) {
	if p.Algorithm == "" {
		p.Algorithm = AlgorithmArgon2id
	}
	// Hash once so bad parameters fail at construction, not on first use.
	if _, err := HashText("", p); err != nil {
		return nil, err
	}
	return &HashProvider{params: p}, nil
}

// NewArgon2Provider returns an argon2id provider with the given cost.
func NewArgon2Provider(memory, iterations uint32, parallelism uint8, pepper string) (*HashProvider, error) {
	return NewProvider(Params{
		Algorithm:   AlgorithmArgon2id,
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: parallelism,
		Pepper:      pepper,
	})
}

// NewPBKDF2Provider returns a pbkdf2 provider. algorithm is one of
// AlgorithmPBKDF2SHA256 or AlgorithmPBKDF2SHA512.
func NewPBKDF2Provider(algorithm string, iterations int, pepper string) (*HashProvider, error) {
	if _, ok := pbkdf2Digest(algorithm); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipe, algorithm)
	}
	return NewProvider(Params{
		Algorithm:        algorithm,
		PBKDF2Iterations: iterations,
		Pepper:           pepper,
	})
}

// Params returns the recipe used for new hashes.
func (p *HashProvider) Params() Params { return p.params }

func (p *HashProvider) CreateHash(text string) (string, error) {
	return HashText(text, p.params)
}

func (p *HashProvider) CreateRandomHash(bits int) (string, string, error) {
	if bits < MinSecretBits {
		bits = MinSecretBits
	}

	plaintext, err := GenerateToken((bits + 7) / 8)
	if err != nil {
		return "", "", err
	}

	hash, err := HashText(plaintext, p.params)
	if err != nil {
		return "", "", err
	}

	return plaintext, hash, nil
}

func (p *HashProvider) ValidateHash(text, hash string) (bool, error) {
	return VerifyHash(text, hash, p.params.Pepper)
}

func (p *HashProvider) NeedsRehash(hash string) bool {
	return NeedsRehash(hash, p.params)
}

func (p *HashProvider) Encrypt(text, key string) (string, error) {
	return Encrypt(text, key)
}

func (p *HashProvider) Decrypt(ciphertext, key string) (string, error) {
	return Decrypt(ciphertext, key)
}
