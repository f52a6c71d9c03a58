// Package auth composes the account, credential, and session stores into the
// flows a web layer needs: register, login, logout, password change, account
// deletion, and resolving the current identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"latch/cmd/identity"
	"latch/cmd/internal/auth/session"
	"latch/cmd/internal/credential"
)

// LoginInput carries a login attempt. Password is never logged.
type LoginInput struct {
	Username  string
	Password  string
	Remember  bool
	UserAgent string
	IP        net.IP
}

// LoginResult is a successful login.
type LoginResult struct {
	Account identity.Account
	Session session.Issued
}

// Authenticator is safe for concurrent use; it holds no per-request state.
type Authenticator struct {
	accounts    identity.AccountStore
	credentials *credential.Service
	sessions    *session.Resolver
	log         *slog.Logger
	now         func() time.Time
}

// New wires an Authenticator.
func New(accounts identity.AccountStore, credentials *credential.Service, sessions *session.Resolver, log *slog.Logger) (*Authenticator, error) {
	if accounts == nil || credentials == nil || sessions == nil {
		return nil, errors.New("auth: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Authenticator{
		accounts:    accounts,
		credentials: credentials,
		sessions:    sessions,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Sessions exposes the resolver (used by transport middleware and the sweeper).
func (a *Authenticator) Sessions() *session.Resolver { return a.sessions }

// Register creates an account with a password. The password policy is checked
// before the account exists, so a rejected password leaves nothing behind.
func (a *Authenticator) Register(ctx context.Context, username, password string) (identity.Account, error) {
	if err := identity.ValidateUsername(username); err != nil {
		return identity.Account{}, err
	}
	if err := a.credentials.CheckPolicy(password); err != nil {
		return identity.Account{}, err
	}

	acc, err := a.accounts.CreateAccount(ctx, identity.CreateAccountInput{Username: username, Now: a.now()})
	if err != nil {
		return identity.Account{}, err
	}

	if err := a.credentials.SetPassword(ctx, acc.ID, password); err != nil {
		// Compensate so the username is not stranded without a credential.
		if derr := a.accounts.DeleteAccount(context.WithoutCancel(ctx), acc.ID, a.now()); derr != nil {
			a.log.Error("auth.register.rollback.fail", slog.String("account_id", acc.ID), slog.Any("err", derr))
		}
		return identity.Account{}, err
	}

	a.log.Info("auth.register.ok", slog.String("account_id", acc.ID))
	return acc, nil
}

// Login verifies credentials and begins a session. ok is false for every
// credential failure (unknown user, no password, wrong password) alike.
func (a *Authenticator) Login(ctx context.Context, in LoginInput) (LoginResult, bool, error) {
	accountID, ok, err := a.credentials.Authenticate(ctx, in.Username, in.Password)
	if err != nil {
		return LoginResult{}, false, err
	}
	if !ok {
		a.log.Info("auth.login.fail")
		return LoginResult{}, false, nil
	}

	acc, err := a.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if identity.IsNotFound(err) {
			// Deleted between verification and lookup.
			return LoginResult{}, false, nil
		}
		return LoginResult{}, false, err
	}

	issued, err := a.sessions.BeginSession(ctx, accountID, session.BeginOptions{
		Remember:  in.Remember,
		UserAgent: in.UserAgent,
		IP:        in.IP,
	})
	if err != nil {
		if identity.IsNotFound(err) {
			return LoginResult{}, false, nil
		}
		return LoginResult{}, false, err
	}

	a.log.Info("auth.login.ok", slog.String("account_id", accountID), slog.String("session_id", issued.SessionID))
	return LoginResult{Account: acc, Session: issued}, true, nil
}

// Logout ends the session behind tok.
func (a *Authenticator) Logout(ctx context.Context, tok string) error {
	return a.sessions.EndSession(ctx, tok)
}

// Current resolves tok to the request identity.
func (a *Authenticator) Current(ctx context.Context, tok string) (identity.Identity, error) {
	return a.sessions.Resolve(ctx, tok)
}

// Account loads the account record for an authenticated identity.
func (a *Authenticator) Account(ctx context.Context, accountID string) (identity.Account, error) {
	return a.accounts.GetAccount(ctx, accountID)
}

// ChangePassword replaces the password after verifying the current one, ends
// every existing session of the account, and begins a fresh session for the
// caller. ok is false when current does not match.
func (a *Authenticator) ChangePassword(ctx context.Context, accountID, current, next string, opts session.BeginOptions) (session.Issued, bool, error) {
	if strings.TrimSpace(accountID) == "" {
		return session.Issued{}, false, nil
	}
	if err := a.credentials.CheckPolicy(next); err != nil {
		return session.Issued{}, false, err
	}

	ok, err := a.credentials.VerifyPassword(ctx, accountID, current)
	if err != nil || !ok {
		return session.Issued{}, false, err
	}

	if err := a.credentials.SetPassword(ctx, accountID, next); err != nil {
		return session.Issued{}, false, err
	}
	if err := a.sessions.InvalidateAll(ctx, accountID); err != nil {
		return session.Issued{}, false, fmt.Errorf("auth: password changed but sessions not invalidated: %w", err)
	}

	issued, err := a.sessions.BeginSession(ctx, accountID, opts)
	if err != nil {
		return session.Issued{}, false, err
	}

	a.log.Info("auth.password.changed", slog.String("account_id", accountID))
	return issued, true, nil
}

// DeleteAccount removes the account; its sessions stop resolving in the same step.
func (a *Authenticator) DeleteAccount(ctx context.Context, accountID string) error {
	if err := a.accounts.DeleteAccount(ctx, accountID, a.now()); err != nil {
		return err
	}
	a.log.Info("auth.account.deleted", slog.String("account_id", accountID))
	return nil
}
