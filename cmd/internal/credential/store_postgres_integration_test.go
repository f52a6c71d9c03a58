package credential_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"latch/cmd/identity"
	"latch/cmd/internal/credential"
	"latch/cmd/internal/pgstore"
	"latch/cmd/internal/pgtest"
)

func TestPostgresStore_SetAndVerify(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t)

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	require.NoError(t, err)
	creds, err := credential.NewPostgresStore(pool, schema)
	require.NoError(t, err)

	svc, err := credential.NewService(creds, cheapConfig(), credential.WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	alice, err := accounts.CreateAccount(ctx, identity.CreateAccountInput{Username: "alice"})
	require.NoError(t, err)

	ok, err := svc.VerifyPassword(ctx, alice.ID, "s3cret!")
	require.NoError(t, err)
	require.False(t, ok, "no digest yet")

	require.NoError(t, svc.SetPassword(ctx, alice.ID, "s3cret!"))

	ok, err = svc.VerifyPassword(ctx, alice.ID, "s3cret!")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.VerifyPassword(ctx, alice.ID, "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	id, ok, err := svc.Authenticate(ctx, "ALICE", "s3cret!")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alice.ID, id)

	err = svc.SetPassword(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "s3cret!")
	require.True(t, identity.IsNotFound(err), "got %v", err)

	ok, err = svc.VerifyPassword(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "s3cret!")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPostgresStore_UnavailableIsNotFalse(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t)

	creds, err := credential.NewPostgresStore(pool, schema)
	require.NoError(t, err)
	svc, err := credential.NewService(creds, cheapConfig(), credential.WithLogger(quietLogger()))
	require.NoError(t, err)

	pgtest.Exec(t, pool, `DROP TABLE `+pgstore.Ident(schema, "sessions"))
	pgtest.Exec(t, pool, `DROP TABLE `+pgstore.Ident(schema, "accounts"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := svc.VerifyPassword(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "s3cret!")
	require.False(t, ok)
	require.True(t, identity.IsStoreUnavailable(err), "got %v", err)
}

func TestPostgresStore_UnstorableKeysAreMisses(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t)

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	require.NoError(t, err)
	creds, err := credential.NewPostgresStore(pool, schema)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for _, key := range []string{"a\x00", "a\xffb"} {
		_, _, err := creds.PasswordDigestByUsername(ctx, key)
		require.True(t, identity.IsNotFound(err), "%q: got %v", key, err)

		_, err = creds.PasswordDigest(ctx, key)
		require.True(t, identity.IsNotFound(err), "%q: got %v", key, err)

		err = creds.SetPasswordDigest(ctx, key, "$argon2id$x", time.Now())
		require.True(t, identity.IsNotFound(err), "%q: got %v", key, err)

		_, err = accounts.GetAccount(ctx, key)
		require.True(t, identity.IsNotFound(err), "%q: got %v", key, err)
	}

	svc, err := credential.NewService(creds, cheapConfig(), credential.WithLogger(quietLogger()))
	require.NoError(t, err)
	_, ok, err := svc.Authenticate(ctx, "a\x00", "x")
	require.NoError(t, err)
	require.False(t, ok)
}
