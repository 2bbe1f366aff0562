package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/domain"
	"github.com/azzlack/Sentinel.OAuth-sub001/internal/auth/store"
	"github.com/azzlack/Sentinel.OAuth-sub001/pkg/idx"
)

// row is the shared column layout of the three token tables.
type row struct {
	ID          string
	Hash        string
	ClientID    string
	RedirectURI string
	Subject     string
	Scope       string
	Ticket      string
	ValidTo     int64
	CreatedAt   int64
}

// codec converts between a domain entity and its row.
type codec[T domain.Token] struct {
	scope func(T) []string
	build func(g domain.Grant, hash string, scope []string) T
}

var codeCodec = codec[domain.AuthorizationCode]{
	scope: func(c domain.AuthorizationCode) []string { return c.Scope },
	build: func(g domain.Grant, hash string, scope []string) domain.AuthorizationCode {
		return domain.AuthorizationCode{Grant: g, Code: hash, Scope: scope}
	},
}

var accessCodec = codec[domain.AccessToken]{
	scope: func(a domain.AccessToken) []string { return a.Scope },
	build: func(g domain.Grant, hash string, scope []string) domain.AccessToken {
		return domain.AccessToken{Grant: g, Token: hash, Scope: scope}
	},
}

var refreshCodec = codec[domain.RefreshToken]{
	scope: func(domain.RefreshToken) []string { return nil },
	build: func(g domain.Grant, hash string, _ []string) domain.RefreshToken {
		return domain.RefreshToken{Grant: g, Token: hash}
	},
}

const columns = `id, token_hash, client_id, redirect_uri, subject, scope, ticket, valid_to, created_at`

type repository[T domain.Token] struct {
	db    *sql.DB
	table string
	codec codec[T]
}

func newRepository[T domain.Token](db *sql.DB, table string, c codec[T]) *repository[T] {
	return &repository[T]{db: db, table: table, codec: c}
}

func (r *repository[T]) toRecord(entity T) store.StoredRecord[T] {
	return store.StoredRecord[T]{Key: idx.New().String(), Entity: entity}
}

func (r *repository[T]) toRow(rec store.StoredRecord[T]) row {
	e := rec.Entity
	o := e.Owner()
	return row{
		ID:          rec.Key,
		Hash:        e.Hash(),
		ClientID:    o.ClientID,
		RedirectURI: o.RedirectURI,
		Subject:     o.Subject,
		Scope:       domain.FormatScope(r.codec.scope(e)),
		Ticket:      e.SealedTicket(),
		ValidTo:     e.Expiry().UnixNano(),
		CreatedAt:   e.IssuedAt().UnixNano(),
	}
}

func (r *repository[T]) fromRow(rw row) store.StoredRecord[T] {
	g := domain.Grant{
		ClientID:    rw.ClientID,
		RedirectURI: rw.RedirectURI,
		Subject:     rw.Subject,
		Ticket:      rw.Ticket,
		ValidTo:     time.Unix(0, rw.ValidTo).UTC(),
		Created:     time.Unix(0, rw.CreatedAt).UTC(),
	}
	return store.StoredRecord[T]{
		Key:    rw.ID,
		Entity: r.codec.build(g, rw.Hash, domain.ParseScope(rw.Scope)),
	}
}

func scanRow(s interface{ Scan(...any) error }) (row, error) {
	var rw row
	err := s.Scan(&rw.ID, &rw.Hash, &rw.ClientID, &rw.RedirectURI, &rw.Subject,
		&rw.Scope, &rw.Ticket, &rw.ValidTo, &rw.CreatedAt)
	return rw, err
}

func (r *repository[T]) Get(ctx context.Context, hash string) (T, error) {
	var zero T
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE token_hash = ?`, columns, r.table)

	rw, err := scanRow(r.db.QueryRowContext(ctx, q, hash))
	if err != nil {
		return zero, mapNotFound(err)
	}
	return r.fromRow(rw).Entity, nil
}

func (r *repository[T]) GetCandidates(ctx context.Context, f store.Filter, notExpiredAfter time.Time) ([]T, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE valid_to > ?
		  AND (? = '' OR redirect_uri = ?)
		  AND (? = '' OR client_id = ?)
		ORDER BY id`, columns, r.table)

	rows, err := r.db.QueryContext(ctx, q,
		notExpiredAfter.UnixNano(),
		f.RedirectURI, f.RedirectURI,
		f.ClientID, f.ClientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		rw, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r.fromRow(rw).Entity)
	}
	return out, rows.Err()
}

// Insert removes the owner's other entities and inserts in one transaction.
func (r *repository[T]) Insert(ctx context.Context, entity T) (T, error) {
	rw := r.toRow(r.toRecord(entity))

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		del := fmt.Sprintf(`DELETE FROM %s
			WHERE client_id = ? AND redirect_uri = ? AND subject = ? AND token_hash <> ?`, r.table)
		if _, err := tx.ExecContext(ctx, del, rw.ClientID, rw.RedirectURI, rw.Subject, rw.Hash); err != nil {
			return err
		}

		ins := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.table, columns)
		_, err := tx.ExecContext(ctx, ins,
			rw.ID, rw.Hash, rw.ClientID, rw.RedirectURI, rw.Subject,
			rw.Scope, rw.Ticket, rw.ValidTo, rw.CreatedAt)
		return err
	})
	if err != nil {
		var zero T
		if isUniqueViolation(err) {
			return zero, store.ErrAlreadyExists
		}
		return zero, err
	}
	return entity, nil
}

func (r *repository[T]) DeleteByOwner(ctx context.Context, o domain.Owner) (int, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE client_id = ? AND redirect_uri = ? AND subject = ?`, r.table)
	return r.exec(ctx, q, o.ClientID, o.RedirectURI, o.Subject)
}

func (r *repository[T]) Delete(ctx context.Context, hash string) (bool, error) {
	n, err := r.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE token_hash = ?`, r.table), hash)
	return n == 1, err
}

func (r *repository[T]) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE valid_to <= ?`, r.table)
	return r.exec(ctx, q, before.UnixNano())
}

func (r *repository[T]) exec(ctx context.Context, q string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		// Extended codes carry the primary code in the low byte.
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
