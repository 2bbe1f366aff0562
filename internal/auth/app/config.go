package app

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/service"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
)

// Token formats.
const (
	TokenFormatOpaque = "opaque"
	TokenFormatJWT    = "jwt"
)

// Signing key storage.
const (
	KeyStorageEphemeral  = "ephemeral"
	KeyStoragePersistent = "persistent"
)

// Repository drivers.
const (
	RepositoryMemory = "memory"
	RepositorySQLite = "sqlite"
)

var ErrInvalidConfig = errors.New("app: invalid config")

type Config struct {
	Issuer      string // Issuer claim for signed tokens (default: sentinel)
	TokenFormat string // opaque or jwt (default: opaque)

	HashAlgorithm     string // argon2id, pbkdf2-sha256, pbkdf2-sha512 (default: argon2id)
	Argon2Memory      int    // KiB (default: 19456)
	Argon2Iterations  int    // (default: 2)
	Argon2Parallelism int    // (default: 1)
	PBKDF2Iterations  int    // (default: 210000)
	PepperFile        string // Optional: file holding the hash pepper, created when missing

	SigningAlgorithm string        // HS256, HS384, HS512, RS256, ES256, EdDSA (default: EdDSA)
	SigningKey       string        // Optional: base64 HMAC secret for HS*, PEM (raw or base64) otherwise
	SigningKeyID     string        // Optional: kid of SigningKey (random when empty)
	RSABits          int           // RSA key size for RS256 (default: 2048)
	JWTLeeway        time.Duration // Clock skew allowed on exp/nbf (default: 0)
	RequireStoredJWT bool          // Access and refresh JWTs need their metadata row (default: false)

	KeyStorage          string        // ephemeral or persistent (default: ephemeral)
	MasterKeyFile       string        // Seals persisted signing keys, created when missing
	NumKeys             int           // Active signing keys (default: 1)
	KeyGracePeriod      time.Duration // Retired keys keep verifying this long (default: 720h)
	KeyRotationInterval time.Duration // Scheduled rotation, 0 disables (default: 0)

	Repository   string // memory or sqlite (default: memory)
	DatabaseFile string // SQLite database file (default: sentinel.db)

	RefreshRotation string // never or rotate (default: never)

	AuthRateRequests int           // Authentication attempts per window, 0 disables throttling
	AuthRateWindow   time.Duration // (default: 1m)
	AuthRateBurst    int           // (default: AuthRateRequests)

	HousekeepingInterval time.Duration // (default: 10m)
	Telemetry            bool          // Enable OpenTelemetry providers (default: false)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
}

func LoadConfig() Config {
	return Config{
		Issuer:      getEnvOrDefault("SENTINEL_ISSUER", "sentinel"),
		TokenFormat: getEnvOrDefault("SENTINEL_TOKEN_FORMAT", TokenFormatOpaque),

		HashAlgorithm:     getEnvOrDefault("SENTINEL_HASH_ALGORITHM", cryptox.AlgorithmArgon2id),
		Argon2Memory:      getEnvIntOrDefault("SENTINEL_ARGON2_MEMORY", cryptox.DefaultArgon2Memory),
		Argon2Iterations:  getEnvIntOrDefault("SENTINEL_ARGON2_ITERATIONS", cryptox.DefaultArgon2Iterations),
		Argon2Parallelism: getEnvIntOrDefault("SENTINEL_ARGON2_PARALLELISM", cryptox.DefaultArgon2Parallelism),
		PBKDF2Iterations:  getEnvIntOrDefault("SENTINEL_PBKDF2_ITERATIONS", cryptox.DefaultPBKDF2Iterations),
		PepperFile:        os.Getenv("SENTINEL_PEPPER_FILE"),

		SigningAlgorithm: getEnvOrDefault("SENTINEL_SIGNING_ALGORITHM", jwtx.AlgorithmEdDSA),
		SigningKey:       os.Getenv("SENTINEL_SIGNING_KEY"),
		SigningKeyID:     os.Getenv("SENTINEL_SIGNING_KEY_ID"),
		RSABits:          getEnvIntOrDefault("SENTINEL_RSA_BITS", 2048),
		JWTLeeway:        getEnvDurationOrDefault("SENTINEL_JWT_LEEWAY", 0),
		RequireStoredJWT: getEnvBoolOrDefault("SENTINEL_REQUIRE_STORED_JWT", false),

		KeyStorage:          getEnvOrDefault("SENTINEL_KEY_STORAGE", KeyStorageEphemeral),
		MasterKeyFile:       os.Getenv("SENTINEL_MASTER_KEY_FILE"),
		NumKeys:             getEnvIntOrDefault("SENTINEL_NUM_KEYS", 1),
		KeyGracePeriod:      getEnvDurationOrDefault("SENTINEL_KEY_GRACE_PERIOD", jwtx.DefaultGracePeriod),
		KeyRotationInterval: getEnvDurationOrDefault("SENTINEL_KEY_ROTATION_INTERVAL", 0),

		Repository:   getEnvOrDefault("SENTINEL_REPOSITORY", RepositoryMemory),
		DatabaseFile: getEnvOrDefault("SENTINEL_DATABASE_FILE", "sentinel.db"),

		RefreshRotation: getEnvOrDefault("SENTINEL_REFRESH_ROTATION", "never"),

		AuthRateRequests: getEnvIntOrDefault("SENTINEL_AUTH_RATE_REQUESTS", 0),
		AuthRateWindow:   getEnvDurationOrDefault("SENTINEL_AUTH_RATE_WINDOW", time.Minute),
		AuthRateBurst:    getEnvIntOrDefault("SENTINEL_AUTH_RATE_BURST", 0),

		HousekeepingInterval: getEnvDurationOrDefault("SENTINEL_HOUSEKEEPING_INTERVAL", service.DefaultHousekeepingInterval),
		Telemetry:            getEnvBoolOrDefault("SENTINEL_TELEMETRY", false),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// Validate rejects unknown enum values and impossible numbers. All problems
// are reported at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Issuer == "" {
		bad("issuer is required")
	}
	if c.TokenFormat != TokenFormatOpaque && c.TokenFormat != TokenFormatJWT {
		bad("unknown token format %q", c.TokenFormat)
	}

	switch c.HashAlgorithm {
	case cryptox.AlgorithmArgon2id:
		if c.Argon2Memory <= 0 || c.Argon2Iterations <= 0 || c.Argon2Parallelism <= 0 || c.Argon2Parallelism > 255 {
			bad("invalid argon2 cost m=%d,t=%d,p=%d", c.Argon2Memory, c.Argon2Iterations, c.Argon2Parallelism)
		}
	case cryptox.AlgorithmPBKDF2SHA256, cryptox.AlgorithmPBKDF2SHA512:
		if c.PBKDF2Iterations <= 0 {
			bad("invalid pbkdf2 iterations %d", c.PBKDF2Iterations)
		}
	default:
		bad("unknown hash algorithm %q", c.HashAlgorithm)
	}

	if c.TokenFormat == TokenFormatJWT {
		if !slices.Contains(jwtx.SupportedAlgorithms, c.SigningAlgorithm) {
			bad("unknown signing algorithm %q", c.SigningAlgorithm)
		}
		if c.SigningAlgorithm == jwtx.AlgorithmRS256 && c.RSABits < 2048 {
			bad("rsa bits %d below 2048", c.RSABits)
		}
		if c.JWTLeeway < 0 {
			bad("negative jwt leeway")
		}
		if c.NumKeys < 1 || c.NumKeys > 10 {
			bad("num keys %d outside 1..10", c.NumKeys)
		}
		if c.KeyRotationInterval < 0 {
			bad("negative key rotation interval")
		}

		switch c.KeyStorage {
		case KeyStorageEphemeral:
		case KeyStoragePersistent:
			if c.Repository != RepositorySQLite {
				bad("persistent key storage requires the sqlite repository")
			}
			if c.MasterKeyFile == "" {
				bad("master key file is required for persistent key storage")
			}
			if c.SigningKey != "" {
				bad("signing key cannot be combined with persistent key storage")
			}
			if c.KeyGracePeriod <= 0 {
				bad("key grace period must be positive")
			}
		default:
			bad("unknown key storage %q", c.KeyStorage)
		}
	}

	switch c.Repository {
	case RepositoryMemory:
	case RepositorySQLite:
		if c.DatabaseFile == "" {
			bad("database file is required for sqlite")
		}
	default:
		bad("unknown repository %q", c.Repository)
	}

	if _, err := service.ParseRefreshTokenRotation(c.RefreshRotation); err != nil {
		bad("unknown refresh rotation %q", c.RefreshRotation)
	}
	if c.AuthRateRequests < 0 || c.AuthRateBurst < 0 {
		bad("negative authentication rate limit")
	}
	if c.AuthRateRequests > 0 && c.AuthRateWindow <= 0 {
		bad("authentication rate window must be positive")
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
