package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"latch/cmd/identity"
	"latch/cmd/internal/pgstore"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions).
type PostgresStore struct {
	pool     *pgxpool.Pool
	sessions string
	accounts string
}

// NewPostgresStore creates a Postgres-backed session store in schema
// (empty means the default schema).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	if schema == "" {
		schema = pgstore.DefaultSchema
	}
	schema, err := pgstore.CheckSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &PostgresStore{
		pool:     pool,
		sessions: pgstore.Ident(schema, "sessions"),
		accounts: pgstore.Ident(schema, "accounts"),
	}, nil
}

// Create inserts a new session row and enforces the per-account cap in one transaction.
func (s *PostgresStore) Create(ctx context.Context, row Row, maxActive int) error {
	const op = "session.Create"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return identity.Unavailable(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	capped := maxActive > 0 && row.AccountID != nil
	if capped {
		// Logins for one account queue on its row, so each sees the sessions
		// committed by the one before it when trimming to the cap.
		var locked string
		err = tx.QueryRow(ctx,
			`SELECT id FROM `+s.accounts+` WHERE id = $1 FOR UPDATE`,
			*row.AccountID,
		).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || pgstore.IsDataException(err) {
				return identity.NotFoundError{Op: op, Resource: "account"}
			}
			return identity.Unavailable(op, err)
		}
	}

	var ip any
	if row.IP != nil {
		ip = row.IP.String()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO `+s.sessions+` (
			id, token_hash, account_id, active, remember,
			created_at, last_seen_at, expires_at, user_agent, ip
		) VALUES (
			$1, $2, $3, TRUE, $4,
			$5, $6, $7, $8, $9
		)
	`, row.ID, row.TokenHash, row.AccountID, row.Remember,
		row.CreatedAt, row.LastSeenAt, row.ExpiresAt, nullIfEmpty(row.UserAgent), ip)
	if err != nil {
		if pgstore.IsForeignKeyViolation(err) {
			return identity.NotFoundError{Op: op, Resource: "account"}
		}
		if c, ok := pgstore.UniqueViolation(err); ok {
			field := "unique"
			if c == "uq_sessions_token_hash" {
				field = "token_hash"
			}
			return identity.ConflictError{Op: op, Field: field}
		}
		if pgstore.IsDataException(err) {
			return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "session attributes not storable"}
		}
		return identity.Unavailable(op, err)
	}

	if capped {
		_, err = tx.Exec(ctx, `
			UPDATE `+s.sessions+`
			   SET active = FALSE, ended_at = $1, end_reason = $2
			 WHERE id IN (
				SELECT id FROM `+s.sessions+`
				 WHERE account_id = $3 AND active
				 ORDER BY created_at DESC, id DESC
				OFFSET $4
				   FOR UPDATE
			 )
		`, row.CreatedAt, EndReasonLimit, *row.AccountID, maxActive)
		if err != nil {
			return identity.Unavailable(op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return identity.Unavailable(op, err)
	}
	return nil
}

// GetByTokenHash loads a session row by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Row, error) {
	const op = "session.GetByTokenHash"

	var (
		row       Row
		userAgent *string
		ipText    *string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT
			id, token_hash, account_id, active, remember,
			created_at, last_seen_at, expires_at, ended_at, end_reason,
			user_agent, host(ip)
		FROM `+s.sessions+`
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&row.ID,
		&row.TokenHash,
		&row.AccountID,
		&row.Active,
		&row.Remember,
		&row.CreatedAt,
		&row.LastSeenAt,
		&row.ExpiresAt,
		&row.EndedAt,
		&row.EndReason,
		&userAgent,
		&ipText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, identity.Unavailable(op, err)
	}

	if userAgent != nil {
		row.UserAgent = *userAgent
	}
	if ipText != nil {
		row.IP = net.ParseIP(*ipText)
	}
	return row, nil
}

// Touch updates last_seen_at for an active session.
func (s *PostgresStore) Touch(ctx context.Context, sessionID string, now time.Time) error {
	const op = "session.Touch"

	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions+`
		   SET last_seen_at = GREATEST(last_seen_at, $1)
		 WHERE id = $2
		   AND active
	`, now, sessionID)
	if err != nil {
		return identity.Unavailable(op, err)
	}
	return nil
}

// Deactivate ends a single session by token hash (idempotent).
func (s *PostgresStore) Deactivate(ctx context.Context, tokenHash string, now time.Time, reason string) (bool, error) {
	const op = "session.Deactivate"

	ct, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions+`
		   SET active = FALSE, ended_at = $1, end_reason = $2
		 WHERE token_hash = $3
		   AND active
	`, now, reason, tokenHash)
	if err != nil {
		return false, identity.Unavailable(op, err)
	}
	return ct.RowsAffected() == 1, nil
}

// DeactivateAll ends every active session for an account.
func (s *PostgresStore) DeactivateAll(ctx context.Context, accountID string, now time.Time, reason string) (int64, error) {
	const op = "session.DeactivateAll"

	ct, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions+`
		   SET active = FALSE, ended_at = $1, end_reason = $2
		 WHERE account_id = $3
		   AND active
	`, now, reason, accountID)
	if err != nil {
		return 0, identity.Unavailable(op, err)
	}
	return ct.RowsAffected(), nil
}

// DeactivateExpired ends every active session past its absolute expiry.
func (s *PostgresStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "session.DeactivateExpired"

	ct, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions+`
		   SET active = FALSE, ended_at = $1, end_reason = $2
		 WHERE active
		   AND expires_at <= $1
	`, now, EndReasonExpired)
	if err != nil {
		return 0, identity.Unavailable(op, err)
	}
	return ct.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
