// Package app wires the token engine from a Config: crypto, principal and
// token providers, the repository, telemetry, the manager and its background
// services.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/provider"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/service"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store/drivers/memory"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store/drivers/sqlite"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/cryptox"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/instrumentation"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/principal"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/slogx"
)

const (
	// BuildVersion is overridden at build time via ldflags.
	BuildVersion = "v0.1.0"

	serviceName = "sentinel"
)

// Application holds the wired token engine.
type Application struct {
	cfg    Config
	logger *slog.Logger

	crypto     *cryptox.HashProvider
	repository store.TokenRepository
	sqlite     *sqlite.Store    // nil for the memory repository
	keyManager *jwtx.KeyManager // nil for opaque tokens
	inst       *instrumentation.Instrumentation

	manager             *service.TokenManager
	housekeepingService *service.HousekeepingService
	keyRotationService  *service.KeyRotationService // nil for opaque tokens
	started             bool
}

var newInstrumentation = instrumentation.New

// New validates cfg and builds every dependency. Nothing runs in the
// background until Start.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Global:  cfg.Env != "test",
		}),
	}

	if err := app.initCrypto(); err != nil {
		return nil, err
	}
	if err := app.initRepository(); err != nil {
		return nil, err
	}

	inst, err := newInstrumentation(instrumentation.Config{
		ServiceName:    serviceName,
		ServiceVersion: BuildVersion,
		Enabled:        cfg.Telemetry,
	})
	if err != nil {
		_ = app.repository.Close()
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	app.inst = inst

	if err := app.initManager(); err != nil {
		_ = app.inst.Shutdown(context.Background())
		_ = app.repository.Close()
		return nil, err
	}

	return app, nil
}

func (app *Application) initCrypto() error {
	var pepper string
	if app.cfg.PepperFile != "" {
		p, err := cryptox.LoadOrGeneratePepper(app.cfg.PepperFile)
		if err != nil {
			return fmt.Errorf("failed to load pepper: %w", err)
		}
		pepper = p
	}

	var (
		crypto *cryptox.HashProvider
		err    error
	)
	switch app.cfg.HashAlgorithm {
	case cryptox.AlgorithmArgon2id:
		crypto, err = cryptox.NewArgon2Provider(
			uint32(app.cfg.Argon2Memory),     // #nosec G115 - validated positive
			uint32(app.cfg.Argon2Iterations), // #nosec G115 - validated positive
			uint8(app.cfg.Argon2Parallelism), // #nosec G115 - validated 1..255
			pepper,
		)
	default:
		crypto, err = cryptox.NewPBKDF2Provider(app.cfg.HashAlgorithm, app.cfg.PBKDF2Iterations, pepper)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize crypto provider: %w", err)
	}

	app.crypto = crypto
	return nil
}

// initRepository opens the configured driver and applies migrations.
func (app *Application) initRepository() error {
	if app.cfg.Repository == RepositoryMemory {
		app.repository = memory.New()
		return nil
	}

	dsn := sqlite.FileDSN(app.cfg.DatabaseFile)
	if app.cfg.DatabaseFile == sqlite.MemoryDSN {
		dsn = sqlite.MemoryDSN
	}

	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	app.repository = db
	app.sqlite = db
	return nil
}

func (app *Application) initTokenProvider() (provider.TokenProvider, error) {
	if app.cfg.TokenFormat == TokenFormatOpaque {
		return provider.NewOpaqueProvider(app.crypto, principal.NewProvider(app.crypto), nil), nil
	}

	if err := app.initKeys(context.Background()); err != nil {
		return nil, err
	}

	var opts []provider.JWTOption
	if app.cfg.RequireStoredJWT {
		opts = append(opts, provider.RequireStoredJWT())
	}
	return provider.NewJWTProvider(app.keyManager, app.cfg.Issuer, opts...)
}

func (app *Application) initManager() error {
	tp, err := app.initTokenProvider()
	if err != nil {
		return err
	}

	rotation, err := service.ParseRefreshTokenRotation(app.cfg.RefreshRotation)
	if err != nil {
		return err
	}

	opts := []service.Option{
		service.WithLogger(app.logger),
		service.WithInstrumentation(app.inst),
		service.WithRefreshTokenRotation(rotation),
	}
	if app.cfg.AuthRateRequests > 0 {
		opts = append(opts, service.WithAuthenticationLimit(service.RateLimitConfig{
			RequestsPerWindow: app.cfg.AuthRateRequests,
			Window:            app.cfg.AuthRateWindow,
			Burst:             app.cfg.AuthRateBurst,
		}))
	}

	app.manager, err = service.NewTokenManager(tp, app.repository, opts...)
	if err != nil {
		return err
	}

	app.housekeepingService = service.NewHousekeepingService(app.manager, app.logger, app.cfg.HousekeepingInterval)
	return nil
}

// Manager returns the token manager.
func (app *Application) Manager() *service.TokenManager { return app.manager }

// KeyManager returns the signing keys, or nil for opaque tokens.
func (app *Application) KeyManager() *jwtx.KeyManager { return app.keyManager }

// KeyRotation returns the signing key rotation service, or nil for opaque
// tokens.
func (app *Application) KeyRotation() *service.KeyRotationService { return app.keyRotationService }

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// Start checks the repository and starts housekeeping and key rotation.
func (app *Application) Start(ctx context.Context) error {
	if err := app.repository.Ping(ctx); err != nil {
		return fmt.Errorf("repository unavailable: %w", err)
	}

	app.housekeepingService.Start()
	if app.keyRotationService != nil {
		app.keyRotationService.Start()
	}
	app.started = true

	app.logger.Info("sentinel started",
		"version", BuildVersion,
		"token_format", app.cfg.TokenFormat,
		"repository", app.cfg.Repository,
	)
	return nil
}

// Shutdown stops the background services, flushes telemetry and closes the
// repository.
func (app *Application) Shutdown(ctx context.Context) error {
	app.logger.Info("shutting down sentinel...")

	if app.started {
		app.housekeepingService.Stop()
		if app.keyRotationService != nil {
			app.keyRotationService.Stop()
		}
	}

	if err := app.inst.Shutdown(ctx); err != nil {
		app.logger.Error("error flushing telemetry", "error", err)
	}

	if err := app.repository.Close(); err != nil {
		app.logger.Error("error closing repository", "error", err)
		return err
	}

	app.logger.Info("sentinel stopped")
	return nil
}
