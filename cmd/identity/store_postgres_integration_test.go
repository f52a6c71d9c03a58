package identity

import (
	"context"
	"testing"
	"time"

	"latch/cmd/internal/pgstore"
	"latch/cmd/internal/pgtest"
)

func TestPostgresStore_CreateAccount_ConflictUsername_CaseInsensitive(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t)
	s := mustNewAccountStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "  Alice ", Now: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create account 1: %v", err)
	}
	if a.Username != "Alice" || a.UsernameNorm != "alice" {
		t.Fatalf("unexpected username forms: %+v", a)
	}

	// Same username (case-insensitive) should conflict.
	_, err = s.CreateAccount(ctx, CreateAccountInput{Username: "aLICE", Now: time.Now().UTC()})
	if err == nil {
		t.Fatalf("expected conflict, got nil")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestPostgresStore_GetAccount_RoundTrip(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t)
	s := mustNewAccountStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, err := s.CreateAccount(ctx, CreateAccountInput{Username: "Bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byID, err := s.GetAccount(ctx, created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	byName, err := s.GetAccountByUsername(ctx, "BOB")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byID.ID != created.ID || byName.ID != created.ID {
		t.Fatalf("id mismatch: %s %s %s", created.ID, byID.ID, byName.ID)
	}

	if _, err := s.GetAccount(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresStore_DeleteAccount_DeactivatesSessions(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t)
	s := mustNewAccountStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	a, err := s.CreateAccount(ctx, CreateAccountInput{Username: "carol", Now: now})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sessions := pgstore.Ident(schema, "sessions")
	sid := mustNewULIDLike(t)
	pgtest.Exec(t, pool,
		`INSERT INTO `+sessions+` (id, token_hash, account_id, active, created_at, last_seen_at, expires_at)
		 VALUES ($1, $2, $3, TRUE, $4, $4, $5)`,
		sid, "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90", a.ID, now, now.Add(time.Hour),
	)

	if err := s.DeleteAccount(ctx, a.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var (
		active    bool
		accountID *string
		reason    *string
	)
	err = pool.QueryRow(ctx,
		`SELECT active, account_id, end_reason FROM `+sessions+` WHERE id = $1`, sid,
	).Scan(&active, &accountID, &reason)
	if err != nil {
		t.Fatalf("select session: %v", err)
	}
	if active {
		t.Fatalf("expected session inactive after account delete")
	}
	if accountID != nil {
		t.Fatalf("expected account_id set to NULL, got %q", *accountID)
	}
	if reason == nil || *reason != EndReasonAccountDeleted {
		t.Fatalf("unexpected end reason: %v", reason)
	}

	if err := s.DeleteAccount(ctx, a.ID, now); !IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestPostgresStore_StoreUnavailable(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t)
	s := mustNewAccountStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgtest.Exec(t, pool, `DROP TABLE `+pgstore.Ident(schema, "sessions"))
	pgtest.Exec(t, pool, `DROP TABLE `+pgstore.Ident(schema, "accounts"))

	_, err := s.GetAccount(ctx, mustNewULIDLike(t))
	if !IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if IsNotFound(err) {
		t.Fatalf("store failure must not look like a miss")
	}
}

func TestNewPostgresStore_Validation(t *testing.T) {
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
	if _, err := NewPostgresStore(nil, WithSchema("bad-schema")); err == nil {
		t.Fatalf("expected schema error")
	}
}
