package jwtx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/idx"
)

// DefaultGracePeriod is how long a retired key keeps verifying.
const DefaultGracePeriod = 30 * 24 * time.Hour

// SigningKeyRecord is a signing key as persisted by a KeyStore.
type SigningKeyRecord struct {
	ID        string // ULID
	Kid       string
	Algorithm string

	// SealedKey is the key material (HMAC secret or PEM) sealed with
	// cryptox.Encrypt under the master key.
	SealedKey string

	CreatedAt time.Time
	RetiredAt *time.Time // nil while the key signs

	// ExpiresAt is RetiredAt plus the grace period; zero while active.
	ExpiresAt time.Time
}

// IsActive reports whether the key may sign.
func (r SigningKeyRecord) IsActive() bool {
	return r.RetiredAt == nil
}

// KeyStore persists signing keys. It lives outside this package so jwtx
// does not depend on a storage driver.
type KeyStore interface {
	// ListSigningKeys returns every key that has not expired at now, oldest
	// first.
	ListSigningKeys(ctx context.Context, now time.Time) ([]SigningKeyRecord, error)

	// CreateSigningKey stores a new key.
	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error

	// RetireSigningKey marks kid retired. It returns ErrNoKey for an unknown
	// or already retired kid.
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error

	// DeleteExpiredSigningKeys removes keys whose grace period ended at or
	// before now.
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int, error)
}

// PersistentKeyManagerOptions configures a KeyManager backed by a KeyStore.
type PersistentKeyManagerOptions struct {
	Store KeyStore

	// MasterKey seals key material at rest. Losing it makes every stored
	// key unreadable.
	MasterKey string

	// Algorithm is used for new keys. Active keys of another algorithm are
	// retired on load and keep verifying for the grace period.
	Algorithm string

	Issuer   string
	Audience []string
	Leeway   time.Duration
	Now      func() time.Time

	// RSABits for new RS256 keys. Defaults to 2048.
	RSABits int

	// NumKeys is the target number of active keys. Defaults to 1, capped
	// at 10. HMAC always uses a single key.
	NumKeys int

	// GracePeriod defaults to DefaultGracePeriod. It must outlive the
	// longest token lifetime.
	GracePeriod time.Duration
}

// NewPersistentKeyManager loads signing keys from opts.Store, creating and
// storing new ones until NumKeys are active. Keys survive restarts, so
// outstanding tokens keep verifying.
func NewPersistentKeyManager(ctx context.Context, opts PersistentKeyManagerOptions) (*KeyManager, error) {
	if opts.Store == nil {
		return nil, errors.New("jwtx: Store is required for persistent key manager")
	}
	if opts.MasterKey == "" {
		return nil, errors.New("jwtx: MasterKey is required for persistent key manager")
	}
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	numKeys := min(max(opts.NumKeys, 1), 10)
	if IsSymmetric(opts.Algorithm) {
		numKeys = 1
	}

	km := newKeyManager(KeyManagerOptions{
		Algorithm: opts.Algorithm,
		Issuer:    opts.Issuer,
		Audience:  opts.Audience,
		Leeway:    opts.Leeway,
		Now:       opts.Now,
	})
	now := opts.Now()

	records, err := opts.Store.ListSigningKeys(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to load keys: %w", err)
	}

	for _, rec := range records {
		signer, err := OpenSigningKey(rec, opts.MasterKey)
		if err != nil {
			return nil, err
		}

		switch {
		case !rec.IsActive():
			err = km.AddRetired(signer, *rec.RetiredAt)
		case rec.Algorithm != opts.Algorithm || km.NumSigners() >= numKeys:
			if err = opts.Store.RetireSigningKey(ctx, rec.Kid, now, now.Add(opts.GracePeriod)); err == nil {
				err = km.AddRetired(signer, now)
			}
		default:
			err = km.AddSigner(signer)
		}
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to load key %s: %w", rec.Kid, err)
		}
	}

	for km.NumSigners() < numKeys {
		signer, material, err := GenerateSigner(opts.Algorithm, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate key: %w", err)
		}
		rec, err := SealSigningKey(signer, material, opts.MasterKey, now)
		if err != nil {
			return nil, err
		}
		if err := opts.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("jwtx: failed to store new key: %w", err)
		}
		if err := km.AddSigner(signer); err != nil {
			return nil, err
		}
	}

	return km, nil
}

// SealSigningKey builds the record for a new active key, sealing material
// under masterKey.
func SealSigningKey(signer Signer, material []byte, masterKey string, now time.Time) (SigningKeyRecord, error) {
	sealed, err := cryptox.Encrypt(string(material), masterKey)
	if err != nil {
		return SigningKeyRecord{}, fmt.Errorf("jwtx: failed to seal key %s: %w", signer.KID(), err)
	}
	return SigningKeyRecord{
		ID:        idx.NewAt(now).String(),
		Kid:       signer.KID(),
		Algorithm: signer.Alg(),
		SealedKey: sealed,
		CreatedAt: now,
	}, nil
}

// OpenSigningKey unseals a stored key and builds its signer.
func OpenSigningKey(rec SigningKeyRecord, masterKey string) (Signer, error) {
	material, err := cryptox.Decrypt(rec.SealedKey, masterKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to unseal key %s: %w", rec.Kid, err)
	}
	signer, err := NewSigner(rec.Algorithm, rec.Kid, []byte(material))
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to load key %s: %w", rec.Kid, err)
	}
	return signer, nil
}
