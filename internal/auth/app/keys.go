package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/service"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
)

// initKeys builds the KeyManager and its rotation service for the configured
// storage mode.
//
// Storage modes:
//   - "ephemeral": the configured SigningKey is used, otherwise keys are
//     generated in memory and tokens do not survive a restart.
//   - "persistent": keys are sealed with the master key and stored in the
//     sqlite repository, so tokens survive restarts and rotations.
func (app *Application) initKeys(ctx context.Context) error {
	var (
		km        *jwtx.KeyManager
		keyStore  jwtx.KeyStore
		masterKey string
		err       error
	)

	switch app.cfg.KeyStorage {
	case KeyStoragePersistent:
		if app.sqlite == nil {
			return fmt.Errorf("%w: persistent key storage requires the sqlite repository", ErrInvalidConfig)
		}
		if masterKey, err = cryptox.LoadOrGenerateMasterKey(app.cfg.MasterKeyFile); err != nil {
			return fmt.Errorf("failed to load master key: %w", err)
		}
		keyStore = app.sqlite.SigningKeys()

		app.logger.Info("initializing persistent key manager",
			"algorithm", app.cfg.SigningAlgorithm,
			"num_keys", app.cfg.NumKeys,
			"grace_period", app.cfg.KeyGracePeriod,
		)

		km, err = jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
			Store:       keyStore,
			MasterKey:   masterKey,
			Algorithm:   app.cfg.SigningAlgorithm,
			Issuer:      app.cfg.Issuer,
			Leeway:      app.cfg.JWTLeeway,
			RSABits:     app.cfg.RSABits,
			NumKeys:     app.cfg.NumKeys,
			GracePeriod: app.cfg.KeyGracePeriod,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize persistent key manager: %w", err)
		}

	default:
		material, err := app.signingKeyMaterial()
		if err != nil {
			return err
		}

		opts := jwtx.KeyManagerOptions{
			Algorithm: app.cfg.SigningAlgorithm,
			Issuer:    app.cfg.Issuer,
			Leeway:    app.cfg.JWTLeeway,
			KeyID:     app.cfg.SigningKeyID,
			RSABits:   app.cfg.RSABits,
			NumKeys:   app.cfg.NumKeys,
		}
		if jwtx.IsSymmetric(opts.Algorithm) {
			opts.HMACSecret = material
		} else {
			opts.PrivateKeyPEM = material
		}

		if km, err = jwtx.NewKeyManager(opts); err != nil {
			return fmt.Errorf("failed to initialize JWT keys: %w", err)
		}
		if material == nil {
			app.logger.Warn("no signing key configured, tokens will not survive a restart",
				"algorithm", km.Algorithm(),
			)
		}
	}

	app.logger.Info("signing keys loaded",
		"algorithm", km.Algorithm(),
		"num_keys", km.NumSigners(),
		"storage", app.cfg.KeyStorage,
	)

	rotation := service.NewKeyRotationService(km, keyStore, masterKey, app.logger)
	rotation.RSABits = app.cfg.RSABits
	rotation.Interval = app.cfg.KeyRotationInterval
	if app.cfg.KeyGracePeriod > 0 {
		rotation.GracePeriod = app.cfg.KeyGracePeriod
	}

	app.keyManager = km
	app.keyRotationService = rotation
	return nil
}

// signingKeyMaterial decodes SigningKey: base64 for HMAC secrets, a PEM block
// (raw or base64) for asymmetric keys. It returns nil when none is set.
func (app *Application) signingKeyMaterial() ([]byte, error) {
	key := strings.TrimSpace(app.cfg.SigningKey)
	if key == "" {
		return nil, nil
	}
	if !jwtx.IsSymmetric(app.cfg.SigningAlgorithm) && strings.HasPrefix(key, "-----BEGIN") {
		return []byte(key), nil
	}

	material, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key is not base64: %v", ErrInvalidConfig, err)
	}
	return material, nil
}
