package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"latch/cmd/internal/pgstore"
)

// EndReasonAccountDeleted is recorded on sessions deactivated by DeleteAccount.
const EndReasonAccountDeleted = "account_deleted"

// PostgresStore implements AccountStore over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Driver failures surface as StoreError (ErrStoreUnavailable), never as misses.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the account store (default "latch").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgstore.CheckSchema(schema)
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: pgstore.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateAccount inserts a new account without a password digest.
func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := ValidateUsername(in.Username); err != nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: errMsg(err)}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	username := strings.TrimSpace(in.Username)
	norm := NormalizeUsername(username)

	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	accounts := pgstore.Ident(s.schema, "accounts")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+accounts+` (id, username, username_norm, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		id, username, norm, now,
	)
	if err != nil {
		if c, ok := pgstore.UniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: classifyAccountConflict(c)}
		}
		if pgstore.IsDataException(err) {
			return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username not storable"}
		}
		return Account{}, Unavailable(op, err)
	}

	return Account{
		ID:           id,
		Username:     username,
		UsernameNorm: norm,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetAccount loads an account by id.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetAccount"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(id) == "" {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}

	accounts := pgstore.Ident(s.schema, "accounts")
	return s.scanAccount(ctx, op,
		`SELECT id, username, username_norm, created_at, updated_at
		   FROM `+accounts+`
		  WHERE id = $1`,
		id,
	)
}

// GetAccountByUsername loads an account by its case-insensitive username.
func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (Account, error) {
	const op = "identity.GetAccountByUsername"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	norm := NormalizeUsername(username)
	if norm == "" {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}

	accounts := pgstore.Ident(s.schema, "accounts")
	return s.scanAccount(ctx, op,
		`SELECT id, username, username_norm, created_at, updated_at
		   FROM `+accounts+`
		  WHERE username_norm = $1`,
		norm,
	)
}

// DeleteAccount deactivates every session of the account and deletes it in one
// transaction. The session rows survive with a NULL account_id.
func (s *PostgresStore) DeleteAccount(ctx context.Context, id string, now time.Time) error {
	const op = "identity.DeleteAccount"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return NotFoundError{Op: op, Resource: "account"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	accounts := pgstore.Ident(s.schema, "accounts")
	sessions := pgstore.Ident(s.schema, "sessions")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Unavailable(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE `+sessions+`
		    SET active = FALSE,
		        ended_at = COALESCE(ended_at, $1),
		        end_reason = COALESCE(end_reason, $2)
		  WHERE account_id = $3
		    AND active`,
		now, EndReasonAccountDeleted, id,
	)
	if err != nil {
		if pgstore.IsDataException(err) {
			return NotFoundError{Op: op, Resource: "account"}
		}
		return Unavailable(op, err)
	}

	ct, err := tx.Exec(ctx, `DELETE FROM `+accounts+` WHERE id = $1`, id)
	if err != nil {
		return Unavailable(op, err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}

	if err := tx.Commit(ctx); err != nil {
		return Unavailable(op, err)
	}
	return nil
}

func (s *PostgresStore) scanAccount(ctx context.Context, op, sql string, arg string) (Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx, sql, arg).Scan(
		&a.ID,
		&a.Username,
		&a.UsernameNorm,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgstore.IsDataException(err) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, Unavailable(op, err)
	}
	return a, nil
}

// ---- helpers ----

func classifyAccountConflict(constraint string) string {
	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	switch {
	case constraint == "uq_accounts_username_norm", strings.Contains(constraint, "username"):
		return "username"
	case strings.Contains(constraint, "pkey"):
		return "id"
	default:
		return "unique"
	}
}

func errMsg(err error) string {
	var oe OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return err.Error()
}
