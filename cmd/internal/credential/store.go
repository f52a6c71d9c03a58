// Package credential implements the password credential store: setting and
// verifying salted Argon2id digests bound to accounts.
package credential

import (
	"context"
	"time"
)

// Store persists password digests.
//
// Implementations must distinguish three outcomes for reads:
//   - the account does not exist: identity.NotFoundError
//   - the account exists without a digest: "" and nil
//   - the store failed: an error matching identity.ErrStoreUnavailable
type Store interface {
	// PasswordDigest returns the stored digest for accountID.
	PasswordDigest(ctx context.Context, accountID string) (string, error)

	// PasswordDigestByUsername resolves a normalized username to its account id and digest.
	PasswordDigestByUsername(ctx context.Context, usernameNorm string) (accountID string, digest string, err error)

	// SetPasswordDigest replaces the digest in a single statement.
	// Returns identity.NotFoundError when the account does not exist.
	SetPasswordDigest(ctx context.Context, accountID string, digest string, now time.Time) error
}
