package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"latch/cmd/identity"
	"latch/cmd/internal/auth"
	"latch/cmd/internal/auth/session"
	"latch/cmd/internal/credential"
	"latch/cmd/internal/store/memstore"
	"latch/cmd/security/password"
	"latch/cmd/security/token"
)

func newAuthenticator(t *testing.T) (*auth.Authenticator, *memstore.Store) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	creds, err := credential.NewService(st, pw, credential.WithLogger(log))
	require.NoError(t, err)
	sessions, err := session.NewResolver(session.DefaultConfig(), st, token.Hasher{}, session.WithLogger(log))
	require.NoError(t, err)

	a, err := auth.New(st, creds, sessions, log)
	require.NoError(t, err)
	return a, st
}

func TestScenario_RegisterLoginLogout(t *testing.T) {
	ctx := context.Background()
	a, _ := newAuthenticator(t)

	alice, err := a.Register(ctx, "alice", "s3cret!")
	require.NoError(t, err)

	_, ok, err := a.Login(ctx, auth.LoginInput{Username: "alice", Password: "wrong"})
	require.NoError(t, err)
	require.False(t, ok)

	res, ok, err := a.Login(ctx, auth.LoginInput{Username: "alice", Password: "s3cret!"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alice.ID, res.Account.ID)

	id, err := a.Current(ctx, res.Session.Token)
	require.NoError(t, err)
	got, ok := id.AccountID()
	require.True(t, ok)
	require.Equal(t, alice.ID, got)

	require.NoError(t, a.Logout(ctx, res.Session.Token))

	id, err = a.Current(ctx, res.Session.Token)
	require.NoError(t, err)
	require.Equal(t, identity.Unauthenticated(), id)
}

func TestRegister_RejectsBadPasswordWithoutCreatingAccount(t *testing.T) {
	ctx := context.Background()
	a, st := newAuthenticator(t)

	_, err := a.Register(ctx, "bob", "")
	require.True(t, identity.IsInvalidInput(err), "got %v", err)

	_, err = st.GetAccountByUsername(ctx, "bob")
	require.True(t, identity.IsNotFound(err))

	_, err = a.Register(ctx, "bob", "fine-password")
	require.NoError(t, err)

	_, err = a.Register(ctx, "BOB", "another")
	require.True(t, identity.IsConflict(err))
}

func TestLogin_UnknownUserLooksLikeWrongPassword(t *testing.T) {
	ctx := context.Background()
	a, _ := newAuthenticator(t)

	_, ok, err := a.Login(ctx, auth.LoginInput{Username: "ghost", Password: "whatever"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChangePassword_InvalidatesOtherSessions(t *testing.T) {
	ctx := context.Background()
	a, _ := newAuthenticator(t)

	acc, err := a.Register(ctx, "carol", "old-pass")
	require.NoError(t, err)

	laptop, ok, err := a.Login(ctx, auth.LoginInput{Username: "carol", Password: "old-pass"})
	require.NoError(t, err)
	require.True(t, ok)
	phone, ok, err := a.Login(ctx, auth.LoginInput{Username: "carol", Password: "old-pass", Remember: true})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = a.ChangePassword(ctx, acc.ID, "not-it", "new-pass", session.BeginOptions{})
	require.NoError(t, err)
	require.False(t, ok)

	fresh, ok, err := a.ChangePassword(ctx, acc.ID, "old-pass", "new-pass", session.BeginOptions{})
	require.NoError(t, err)
	require.True(t, ok)

	for _, tok := range []string{laptop.Session.Token, phone.Session.Token} {
		id, err := a.Current(ctx, tok)
		require.NoError(t, err)
		require.Equal(t, identity.KindUnauthenticated, id.Kind())
	}

	id, err := a.Current(ctx, fresh.Token)
	require.NoError(t, err)
	require.True(t, id.IsAuthenticated())

	_, ok, err = a.Login(ctx, auth.LoginInput{Username: "carol", Password: "old-pass"})
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = a.Login(ctx, auth.LoginInput{Username: "carol", Password: "new-pass"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDeleteAccount_EndsSessions(t *testing.T) {
	ctx := context.Background()
	a, _ := newAuthenticator(t)

	acc, err := a.Register(ctx, "dave", "pw")
	require.NoError(t, err)
	res, ok, err := a.Login(ctx, auth.LoginInput{Username: "dave", Password: "pw"})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.DeleteAccount(ctx, acc.ID))

	id, err := a.Current(ctx, res.Session.Token)
	require.NoError(t, err)
	require.Equal(t, identity.KindUnauthenticated, id.Kind())

	_, ok, err = a.Login(ctx, auth.LoginInput{Username: "dave", Password: "pw"})
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, identity.IsNotFound(a.DeleteAccount(ctx, acc.ID)))
}

func TestStoreUnavailable_Propagates(t *testing.T) {
	ctx := context.Background()
	a, st := newAuthenticator(t)

	_, err := a.Register(ctx, "erin", "pw")
	require.NoError(t, err)

	st.SetUnavailable(errors.New("down"))

	_, ok, err := a.Login(ctx, auth.LoginInput{Username: "erin", Password: "pw"})
	require.False(t, ok)
	require.True(t, identity.IsStoreUnavailable(err))
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := auth.New(nil, nil, nil, nil)
	require.Error(t, err)
}
