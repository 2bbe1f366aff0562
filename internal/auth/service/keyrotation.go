package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
)

// KeyRotationService rotates JWT signing keys and drops retired keys once
// their grace period is over.
//
// With a Store, new keys are sealed under MasterKey and persisted, and
// retirements are recorded so they survive restarts. Without one, rotation
// only affects the in-memory KeyManager.
type KeyRotationService struct {
	Store      jwtx.KeyStore // nil for ephemeral keys
	KeyManager *jwtx.KeyManager
	MasterKey  string
	Logger     *slog.Logger

	RSABits     int
	GracePeriod time.Duration

	// Interval between scheduled rotations. Zero disables the schedule;
	// Start then only prunes expired keys once per grace period.
	Interval time.Duration

	Now func() time.Time

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// RotateKeyRequest controls a rotation.
type RotateKeyRequest struct {
	// RetireExisting retires every active key once the new key is in place.
	// Otherwise the new key signs alongside them.
	RetireExisting bool
}

// RotateKeyResponse describes the outcome of a rotation.
type RotateKeyResponse struct {
	NewKid      string
	RetiredKids []string
	ActiveKeys  int
}

// NewKeyRotationService returns a service for km. store may be nil.
func NewKeyRotationService(km *jwtx.KeyManager, store jwtx.KeyStore, masterKey string, logger *slog.Logger) *KeyRotationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyRotationService{
		Store:       store,
		KeyManager:  km,
		MasterKey:   masterKey,
		Logger:      logger,
		GracePeriod: jwtx.DefaultGracePeriod,
		Now:         time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (s *KeyRotationService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *KeyRotationService) gracePeriod() time.Duration {
	if s.GracePeriod <= 0 {
		return jwtx.DefaultGracePeriod
	}
	return s.GracePeriod
}

// RotateKey generates a new signing key and optionally retires the others.
func (s *KeyRotationService) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	if s.KeyManager == nil {
		return nil, errors.New("service: KeyManager is required")
	}
	if s.Store != nil && s.MasterKey == "" {
		return nil, errors.New("service: MasterKey is required to persist keys")
	}

	signer, material, err := jwtx.GenerateSigner(s.KeyManager.Algorithm(), s.RSABits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	now := s.now()
	current := s.KeyManager.Signers()

	if s.Store != nil {
		rec, err := jwtx.SealSigningKey(signer, material, s.MasterKey, now)
		if err != nil {
			return nil, err
		}
		if err := s.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to store signing key: %w", err)
		}
	}

	if err := s.KeyManager.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("failed to add signing key: %w", err)
	}

	resp := &RotateKeyResponse{NewKid: signer.KID()}
	if req.RetireExisting {
		for _, old := range current {
			if err := s.retire(ctx, old.KID(), now); err != nil {
				return nil, err
			}
			resp.RetiredKids = append(resp.RetiredKids, old.KID())
		}
	}
	resp.ActiveKeys = s.KeyManager.NumSigners()

	s.Logger.Info("signing key rotated",
		"kid", resp.NewKid,
		"retired", len(resp.RetiredKids),
		"active_keys", resp.ActiveKeys,
	)
	return resp, nil
}

// RetireKey stops kid from signing. It keeps verifying for the grace period.
func (s *KeyRotationService) RetireKey(ctx context.Context, kid string) error {
	if s.KeyManager == nil {
		return errors.New("service: KeyManager is required")
	}
	return s.retire(ctx, kid, s.now())
}

func (s *KeyRotationService) retire(ctx context.Context, kid string, now time.Time) error {
	if err := s.KeyManager.RetireSignerByKidAt(kid, now); err != nil {
		return fmt.Errorf("failed to retire key %s: %w", kid, err)
	}
	if s.Store != nil {
		if err := s.Store.RetireSigningKey(ctx, kid, now, now.Add(s.gracePeriod())); err != nil {
			return fmt.Errorf("failed to record retirement of key %s: %w", kid, err)
		}
	}
	return nil
}

// Prune removes keys whose grace period has ended from the KeyManager and
// the Store. It returns how many keys stopped verifying.
func (s *KeyRotationService) Prune(ctx context.Context) (int, error) {
	now := s.now()
	pruned := s.KeyManager.PruneRetired(now.Add(-s.gracePeriod()))

	if s.Store != nil {
		if _, err := s.Store.DeleteExpiredSigningKeys(ctx, now); err != nil {
			return len(pruned), fmt.Errorf("failed to delete expired signing keys: %w", err)
		}
	}
	return len(pruned), nil
}

// Start begins scheduled rotation and pruning. Call Stop to shut it down.
func (s *KeyRotationService) Start() {
	go s.run()
	s.Logger.Info("key rotation service started", "interval", s.Interval, "grace_period", s.gracePeriod())
}

// Stop shuts the worker down and waits for it. Safe to call more than once.
func (s *KeyRotationService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("key rotation service stopped")
	})
}

func (s *KeyRotationService) run() {
	defer close(s.doneCh)

	interval := s.Interval
	if interval <= 0 {
		interval = s.gracePeriod()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(interval)
		case <-s.stopCh:
			return
		}
	}
}

func (s *KeyRotationService) tick(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.Interval > 0 {
		if _, err := s.RotateKey(ctx, RotateKeyRequest{RetireExisting: true}); err != nil {
			s.Logger.Error("scheduled key rotation failed", "error", err)
		}
	}

	n, err := s.Prune(ctx)
	if err != nil {
		s.Logger.Error("failed to prune signing keys", "error", err)
		return
	}
	if n > 0 {
		s.Logger.Info("expired signing keys pruned", "count", n)
	}
}
