package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Hash recipe identifiers, as they appear in the PHC-style encoded string.
const (
	AlgorithmArgon2id     = "argon2id"
	AlgorithmPBKDF2SHA256 = "pbkdf2-sha256"
	AlgorithmPBKDF2SHA512 = "pbkdf2-sha512"
)

// Default Argon2id recipe. Matches the OWASP minimum for argon2id.
const (
	DefaultArgon2Memory      = 19 * 1024 // KiB
	DefaultArgon2Iterations  = 2
	DefaultArgon2Parallelism = 1

	// DefaultPBKDF2Iterations is used for both pbkdf2 digests.
	DefaultPBKDF2Iterations = 210_000

	keyLength  = 32
	saltLength = 16
)

// MinSecretBits is the floor applied to every generated bearer secret.
const MinSecretBits = 256

var (
	ErrMalformedHash = errors.New("cryptox: malformed hash")
	ErrUnknownRecipe = errors.New("cryptox: unknown hash recipe")
)

// Params is the recipe used when creating new hashes. Validation never reads
// it: every encoded hash carries its own parameters.
type Params struct {
	Algorithm string

	// Argon2id
	Memory      uint32
	Iterations  uint32
	Parallelism uint8

	// PBKDF2
	PBKDF2Iterations int

	// Pepper is appended to the input before hashing. Hashes created with a
	// pepper only validate with the same pepper.
	Pepper string
}

// DefaultParams returns the argon2id recipe with default cost.
func DefaultParams() Params {
	return Params{
		Algorithm:        AlgorithmArgon2id,
		Memory:           DefaultArgon2Memory,
		Iterations:       DefaultArgon2Iterations,
		Parallelism:      DefaultArgon2Parallelism,
		PBKDF2Iterations: DefaultPBKDF2Iterations,
	}
}

// encodedHash is the parsed form of a PHC string.
type encodedHash struct {
	algorithm   string
	memory      uint32
	iterations  uint32
	parallelism uint8
	rounds      int
	salt        []byte
	sum         []byte
}

// HashText derives a self-describing hash of text using the given recipe.
func HashText(text string, p Params) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate salt: %w", err)
	}

	b64 := base64.RawStdEncoding
	switch p.Algorithm {
	case AlgorithmArgon2id, "":
		if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
			return "", fmt.Errorf("cryptox: invalid argon2id parameters m=%d,t=%d,p=%d", p.Memory, p.Iterations, p.Parallelism)
		}
		sum := argon2.IDKey([]byte(text+p.Pepper), salt, p.Iterations, p.Memory, p.Parallelism, keyLength)
		return fmt.Sprintf(
			"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
			AlgorithmArgon2id,
			argon2.Version,
			p.Memory,
			p.Iterations,
			p.Parallelism,
			b64.EncodeToString(salt),
			b64.EncodeToString(sum),
		), nil

	case AlgorithmPBKDF2SHA256, AlgorithmPBKDF2SHA512:
		if p.PBKDF2Iterations <= 0 {
			return "", fmt.Errorf("cryptox: invalid pbkdf2 iteration count %d", p.PBKDF2Iterations)
		}
		digest, _ := pbkdf2Digest(p.Algorithm)
		sum := pbkdf2.Key([]byte(text+p.Pepper), salt, p.PBKDF2Iterations, keyLength, digest)
		return fmt.Sprintf(
			"$%s$i=%d$%s$%s",
			p.Algorithm,
			p.PBKDF2Iterations,
			b64.EncodeToString(salt),
			b64.EncodeToString(sum),
		), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRecipe, p.Algorithm)
	}
}

// VerifyHash checks text against an encoded hash of any supported recipe.
// A well-formed hash that does not match yields (false, nil); a hash that
// cannot be parsed yields an error wrapping ErrMalformedHash.
func VerifyHash(text, encoded, pepper string) (bool, error) {
	h, err := parseHash(encoded)
	if err != nil {
		return false, err
	}

	var computed []byte
	switch h.algorithm {
	case AlgorithmArgon2id:
		computed = argon2.IDKey(
			[]byte(text+pepper),
			h.salt,
			h.iterations,
			h.memory,
			h.parallelism,
			uint32(len(h.sum)), // #nosec G115 - length comes from a decoded 32 byte sum
		)
	default:
		digest, _ := pbkdf2Digest(h.algorithm)
		computed = pbkdf2.Key([]byte(text+pepper), h.salt, h.rounds, len(h.sum), digest)
	}

	return subtle.ConstantTimeCompare(computed, h.sum) == 1, nil
}

// NeedsRehash reports whether encoded was produced with a different recipe
// or a lower cost than p. Malformed hashes always need a rehash.
func NeedsRehash(encoded string, p Params) bool {
	h, err := parseHash(encoded)
	if err != nil {
		return true
	}

	want := p.Algorithm
	if want == "" {
		want = AlgorithmArgon2id
	}
	if h.algorithm != want {
		return true
	}

	if h.algorithm == AlgorithmArgon2id {
		return h.memory < p.Memory || h.iterations < p.Iterations || h.parallelism < p.Parallelism
	}
	return h.rounds < p.PBKDF2Iterations
}

func parseHash(encoded string) (encodedHash, error) {
	// Argon2id: ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	// PBKDF2:   ["", "pbkdf2-sha256", "i=N", "salt", "hash"]
	parts := strings.Split(encoded, "$")
	if len(parts) < 5 || parts[0] != "" {
		return encodedHash{}, fmt.Errorf("%w: unexpected layout", ErrMalformedHash)
	}

	h := encodedHash{algorithm: parts[1]}
	var saltPart, sumPart string

	switch h.algorithm {
	case AlgorithmArgon2id:
		if len(parts) != 6 {
			return encodedHash{}, fmt.Errorf("%w: expected 6 parts", ErrMalformedHash)
		}
		if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
			return encodedHash{}, fmt.Errorf("%w: unsupported argon2 version", ErrMalformedHash)
		}
		if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.iterations, &h.parallelism); err != nil {
			return encodedHash{}, fmt.Errorf("%w: failed to parse parameters: %v", ErrMalformedHash, err)
		}
		if h.memory == 0 || h.iterations == 0 || h.parallelism == 0 {
			return encodedHash{}, fmt.Errorf("%w: zero cost parameter", ErrMalformedHash)
		}
		saltPart, sumPart = parts[4], parts[5]

	case AlgorithmPBKDF2SHA256, AlgorithmPBKDF2SHA512:
		if len(parts) != 5 {
			return encodedHash{}, fmt.Errorf("%w: expected 5 parts", ErrMalformedHash)
		}
		if _, err := fmt.Sscanf(parts[2], "i=%d", &h.rounds); err != nil || h.rounds <= 0 {
			return encodedHash{}, fmt.Errorf("%w: failed to parse iteration count", ErrMalformedHash)
		}
		saltPart, sumPart = parts[3], parts[4]

	default:
		return encodedHash{}, fmt.Errorf("%w: %w %q", ErrMalformedHash, ErrUnknownRecipe, h.algorithm)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(saltPart); err != nil || len(h.salt) == 0 {
		return encodedHash{}, fmt.Errorf("%w: failed to decode salt", ErrMalformedHash)
	}
	if h.sum, err = base64.RawStdEncoding.DecodeString(sumPart); err != nil || len(h.sum) == 0 {
		return encodedHash{}, fmt.Errorf("%w: failed to decode hash", ErrMalformedHash)
	}

	return h, nil
}

func pbkdf2Digest(algorithm string) (func() hash.Hash, bool) {
	switch algorithm {
	case AlgorithmPBKDF2SHA256:
		return sha256.New, true
	case AlgorithmPBKDF2SHA512:
		return sha512.New, true
	default:
		return nil, false
	}
}
