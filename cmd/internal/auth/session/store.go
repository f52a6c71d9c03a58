package session

import (
	"context"
	"net"
	"time"
)

// End reasons recorded on deactivated sessions. Sessions ended by account
// deletion carry identity.EndReasonAccountDeleted.
const (
	EndReasonLogout  = "logout"
	EndReasonExpired = "expired"
	EndReasonIdle    = "idle"
	EndReasonLimit   = "limit"
	EndReasonRevoked = "revoked"
)

// Row mirrors the sessions row used by the session subsystem.
// The plain token is never part of a Row.
type Row struct {
	ID         string
	TokenHash  string
	AccountID  *string
	Active     bool
	Remember   bool
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
	EndedAt    *time.Time
	EndReason  *string
	UserAgent  string
	IP         net.IP
}

// Store abstracts persistence for session state.
//
// Every deactivation is a one-way active=true -> active=false flip performed
// atomically by the store; repeating it is a no-op.
type Store interface {
	// Create inserts row. When maxActive > 0, the oldest active sessions of the
	// same account beyond maxActive (including the new one) are ended with
	// EndReasonLimit in the same atomic step.
	// Returns identity.NotFoundError when the account does not exist.
	Create(ctx context.Context, row Row, maxActive int) error

	// GetByTokenHash loads a row by token hash or returns ErrSessionNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (Row, error)

	// Touch refreshes last_seen_at for an active session.
	Touch(ctx context.Context, sessionID string, now time.Time) error

	// Deactivate ends the session with tokenHash. It reports whether a row flipped.
	Deactivate(ctx context.Context, tokenHash string, now time.Time, reason string) (bool, error)

	// DeactivateAll ends every active session of accountID.
	DeactivateAll(ctx context.Context, accountID string, now time.Time, reason string) (int64, error)

	// DeactivateExpired ends every active session whose expiry is at or before now.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
