package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/jwtx"
)

// SigningKeys persists JWT signing keys for jwtx.NewPersistentKeyManager.
type SigningKeys struct {
	db *sql.DB
}

var _ jwtx.KeyStore = (*SigningKeys)(nil)

// SigningKeys returns the signing key table of the store.
func (s *Store) SigningKeys() *SigningKeys { return s.keys }

const signingKeyColumns = `id, kid, algorithm, sealed_key, created_at, retired_at, expires_at`

func (r *SigningKeys) ListSigningKeys(ctx context.Context, now time.Time) ([]jwtx.SigningKeyRecord, error) {
	q := `SELECT ` + signingKeyColumns + ` FROM signing_keys
		WHERE expires_at = 0 OR expires_at > ?
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, q, now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []jwtx.SigningKeyRecord
	for rows.Next() {
		var (
			k         jwtx.SigningKeyRecord
			createdAt int64
			retiredAt sql.NullInt64
			expiresAt int64
		)
		if err := rows.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.SealedKey, &createdAt, &retiredAt, &expiresAt); err != nil {
			return nil, err
		}

		k.CreatedAt = time.Unix(0, createdAt).UTC()
		if retiredAt.Valid {
			t := time.Unix(0, retiredAt.Int64).UTC()
			k.RetiredAt = &t
		}
		if expiresAt != 0 {
			k.ExpiresAt = time.Unix(0, expiresAt).UTC()
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *SigningKeys) CreateSigningKey(ctx context.Context, key jwtx.SigningKeyRecord) error {
	var retiredAt sql.NullInt64
	if key.RetiredAt != nil {
		retiredAt = sql.NullInt64{Int64: key.RetiredAt.UnixNano(), Valid: true}
	}
	var expiresAt int64
	if !key.ExpiresAt.IsZero() {
		expiresAt = key.ExpiresAt.UnixNano()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signing_keys (`+signingKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.SealedKey, key.CreatedAt.UnixNano(), retiredAt, expiresAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlite: signing key %q: %w", key.Kid, store.ErrAlreadyExists)
	}
	return err
}

func (r *SigningKeys) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE signing_keys SET retired_at = ?, expires_at = ? WHERE kid = ? AND retired_at IS NULL`,
		retiredAt.UnixNano(), expiresAt.UnixNano(), kid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: active signing key %q: %w", kid, jwtx.ErrNoKey)
	}
	return nil
}

func (r *SigningKeys) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM signing_keys WHERE expires_at <> 0 AND expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
