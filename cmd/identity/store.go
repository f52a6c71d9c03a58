package identity

import (
	"context"
	"time"
)

// Account is latch's canonical security principal.
// The password digest is deliberately not part of this record; it is owned by
// the credential store.
type Account struct {
	ID           string
	Username     string
	UsernameNorm string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateAccountInput describes an account registration.
type CreateAccountInput struct {
	Username string
	Now      time.Time
}

// AccountStore is the account persistence boundary.
//
// DeleteAccount must deactivate every session bound to the account as part of
// the same atomic change, so no token can resolve to a deleted account.
type AccountStore interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountByUsername(ctx context.Context, username string) (Account, error)
	DeleteAccount(ctx context.Context, id string, now time.Time) error
}
