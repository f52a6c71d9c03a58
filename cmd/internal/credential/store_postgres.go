package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"latch/cmd/identity"
	"latch/cmd/internal/pgstore"
)

// PostgresStore implements Store over the accounts table.
// The pgx pool is owned by the caller.
type PostgresStore struct {
	pool     *pgxpool.Pool
	accounts string
}

// NewPostgresStore creates a Postgres-backed credential store in schema
// (empty means the default schema).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("credential: nil pool")
	}
	if schema == "" {
		schema = pgstore.DefaultSchema
	}
	schema, err := pgstore.CheckSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	return &PostgresStore{pool: pool, accounts: pgstore.Ident(schema, "accounts")}, nil
}

// PasswordDigest loads the digest for an account.
func (s *PostgresStore) PasswordDigest(ctx context.Context, accountID string) (string, error) {
	const op = "credential.PasswordDigest"

	var digest *string
	err := s.pool.QueryRow(ctx,
		`SELECT password_digest FROM `+s.accounts+` WHERE id = $1`,
		accountID,
	).Scan(&digest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgstore.IsDataException(err) {
			return "", identity.NotFoundError{Op: op, Resource: "account"}
		}
		return "", identity.Unavailable(op, err)
	}
	if digest == nil {
		return "", nil
	}
	return *digest, nil
}

// PasswordDigestByUsername loads the account id and digest for a normalized username.
func (s *PostgresStore) PasswordDigestByUsername(ctx context.Context, usernameNorm string) (string, string, error) {
	const op = "credential.PasswordDigestByUsername"

	var (
		id     string
		digest *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, password_digest FROM `+s.accounts+` WHERE username_norm = $1`,
		strings.TrimSpace(usernameNorm),
	).Scan(&id, &digest)
	if err != nil {
		// A key Postgres cannot store as text cannot name an account.
		if errors.Is(err, pgx.ErrNoRows) || pgstore.IsDataException(err) {
			return "", "", identity.NotFoundError{Op: op, Resource: "account"}
		}
		return "", "", identity.Unavailable(op, err)
	}
	if digest == nil {
		return id, "", nil
	}
	return id, *digest, nil
}

// SetPasswordDigest replaces the digest. The single UPDATE is the atomic unit:
// concurrent setters are last-writer-wins and readers never observe a torn value.
func (s *PostgresStore) SetPasswordDigest(ctx context.Context, accountID string, digest string, now time.Time) error {
	const op = "credential.SetPasswordDigest"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.accounts+`
		    SET password_digest = $1,
		        updated_at = $2
		  WHERE id = $3`,
		digest, now, accountID,
	)
	if err != nil {
		if pgstore.IsDataException(err) {
			return identity.NotFoundError{Op: op, Resource: "account"}
		}
		return identity.Unavailable(op, err)
	}
	if ct.RowsAffected() == 0 {
		return identity.NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}
