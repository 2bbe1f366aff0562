// Package sqlite is a TokenRepository and a jwtx.KeyStore backed by SQLite
// through the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Store implements store.TokenRepository. Call ApplyMigrations before use.
type Store struct {
	db *sql.DB

	codes   *repository[domain.AuthorizationCode]
	access  *repository[domain.AccessToken]
	refresh *repository[domain.RefreshToken]
	keys    *SigningKeys
}

var _ store.TokenRepository = (*Store)(nil)

// FileDSN returns a DSN for a database file with a busy timeout and WAL
// journaling, so concurrent writers wait instead of failing.
func FileDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// NewStore opens dsn. An in-memory database is pinned to one connection
// because every new connection would otherwise see its own empty database.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if dsn == MemoryDSN || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open %q: %w", dsn, err)
	}

	return &Store{
		db:      db,
		codes:   newRepository(db, "authorization_codes", codeCodec),
		access:  newRepository(db, "access_tokens", accessCodec),
		refresh: newRepository(db, "refresh_tokens", refreshCodec),
		keys:    &SigningKeys{db: db},
	}, nil
}

func (s *Store) AuthorizationCodes() store.Repository[domain.AuthorizationCode] { return s.codes }
func (s *Store) AccessTokens() store.Repository[domain.AccessToken]             { return s.access }
func (s *Store) RefreshTokens() store.Repository[domain.RefreshToken]           { return s.refresh }

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx executes fn within a transaction, automatically handling
// commit/rollback.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
