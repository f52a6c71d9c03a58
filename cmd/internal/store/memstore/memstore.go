// Package memstore is an in-memory backend for accounts, credentials, and
// sessions. It serves development runs without a database and unit tests.
//
// A single mutex serializes every operation, which gives the same atomicity the
// Postgres stores get from single statements and transactions.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"latch/cmd/identity"
	"latch/cmd/internal/auth/session"
	"latch/cmd/internal/credential"
)

var (
	_ identity.AccountStore = (*Store)(nil)
	_ credential.Store      = (*Store)(nil)
	_ session.Store         = (*Store)(nil)
)

type account struct {
	identity.Account
	digest *string
}

// Store implements identity.AccountStore, credential.Store, and session.Store.
type Store struct {
	mu sync.Mutex

	accounts map[string]*account     // id -> account
	byNorm   map[string]string       // username_norm -> id
	sessions map[string]*session.Row // token_hash -> row

	// failure, when set, makes every operation report store unavailability.
	failure error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*account),
		byNorm:   make(map[string]string),
		sessions: make(map[string]*session.Row),
	}
}

// SetUnavailable makes every subsequent call fail with err wrapped as
// identity.ErrStoreUnavailable. Passing nil restores normal operation.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failure != nil {
		return identity.Unavailable(op, s.failure)
	}
	return nil
}

// ---- accounts ----

// CreateAccount inserts a new account without a password digest.
func (s *Store) CreateAccount(ctx context.Context, in identity.CreateAccountInput) (identity.Account, error) {
	const op = "memstore.CreateAccount"

	if err := identity.ValidateUsername(in.Username); err != nil {
		return identity.Account{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return identity.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return identity.Account{}, err
	}

	username := strings.TrimSpace(in.Username)
	norm := identity.NormalizeUsername(username)
	if _, taken := s.byNorm[norm]; taken {
		return identity.Account{}, identity.ConflictError{Op: op, Field: "username"}
	}

	a := &account{Account: identity.Account{
		ID:           id,
		Username:     username,
		UsernameNorm: norm,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	s.accounts[id] = a
	s.byNorm[norm] = id
	return a.Account, nil
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (identity.Account, error) {
	const op = "memstore.GetAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return identity.Account{}, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return identity.Account{}, identity.NotFoundError{Op: op, Resource: "account"}
	}
	return a.Account, nil
}

// GetAccountByUsername loads an account by its case-insensitive username.
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (identity.Account, error) {
	const op = "memstore.GetAccountByUsername"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return identity.Account{}, err
	}
	id, ok := s.byNorm[identity.NormalizeUsername(username)]
	if !ok {
		return identity.Account{}, identity.NotFoundError{Op: op, Resource: "account"}
	}
	return s.accounts[id].Account, nil
}

// DeleteAccount removes the account and ends its sessions, leaving them unbound.
func (s *Store) DeleteAccount(ctx context.Context, id string, now time.Time) error {
	const op = "memstore.DeleteAccount"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return err
	}
	a, ok := s.accounts[id]
	if !ok {
		return identity.NotFoundError{Op: op, Resource: "account"}
	}

	for _, row := range s.sessions {
		if row.AccountID == nil || *row.AccountID != id {
			continue
		}
		if row.Active {
			end(row, now, identity.EndReasonAccountDeleted)
		}
		row.AccountID = nil
	}

	delete(s.byNorm, a.UsernameNorm)
	delete(s.accounts, id)
	return nil
}

// ---- credentials ----

// PasswordDigest returns the stored digest for accountID.
func (s *Store) PasswordDigest(ctx context.Context, accountID string) (string, error) {
	const op = "memstore.PasswordDigest"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return "", err
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return "", identity.NotFoundError{Op: op, Resource: "account"}
	}
	if a.digest == nil {
		return "", nil
	}
	return *a.digest, nil
}

// PasswordDigestByUsername resolves a normalized username to its account id and digest.
func (s *Store) PasswordDigestByUsername(ctx context.Context, usernameNorm string) (string, string, error) {
	const op = "memstore.PasswordDigestByUsername"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return "", "", err
	}
	id, ok := s.byNorm[usernameNorm]
	if !ok {
		return "", "", identity.NotFoundError{Op: op, Resource: "account"}
	}
	a := s.accounts[id]
	if a.digest == nil {
		return id, "", nil
	}
	return id, *a.digest, nil
}

// SetPasswordDigest replaces the digest.
func (s *Store) SetPasswordDigest(ctx context.Context, accountID, digest string, now time.Time) error {
	const op = "memstore.SetPasswordDigest"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return err
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return identity.NotFoundError{Op: op, Resource: "account"}
	}
	d := digest
	a.digest = &d
	a.UpdatedAt = now
	return nil
}

// ---- sessions ----

// Create inserts row and ends the oldest sessions of the account beyond maxActive.
func (s *Store) Create(ctx context.Context, row session.Row, maxActive int) error {
	const op = "memstore.CreateSession"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return err
	}
	if row.AccountID == nil {
		return identity.NotFoundError{Op: op, Resource: "account"}
	}
	if _, ok := s.accounts[*row.AccountID]; !ok {
		return identity.NotFoundError{Op: op, Resource: "account"}
	}
	if _, dup := s.sessions[row.TokenHash]; dup {
		return identity.ConflictError{Op: op, Field: "token_hash"}
	}

	cp := copyRow(row)
	cp.Active = true
	s.sessions[row.TokenHash] = &cp

	if maxActive > 0 {
		var active []*session.Row
		for _, r := range s.sessions {
			if r.Active && r.AccountID != nil && *r.AccountID == *row.AccountID {
				active = append(active, r)
			}
		}
		// Newest first; ULIDs break timestamp ties.
		sort.Slice(active, func(i, j int) bool {
			if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
				return active[i].CreatedAt.After(active[j].CreatedAt)
			}
			return active[i].ID > active[j].ID
		})
		for _, r := range active[min(maxActive, len(active)):] {
			end(r, row.CreatedAt, session.EndReasonLimit)
		}
	}
	return nil
}

// GetByTokenHash loads a copy of the row with tokenHash.
func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (session.Row, error) {
	const op = "memstore.GetByTokenHash"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return session.Row{}, err
	}
	r, ok := s.sessions[tokenHash]
	if !ok {
		return session.Row{}, session.ErrSessionNotFound
	}
	return copyRow(*r), nil
}

// Touch refreshes last_seen_at for an active session.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	const op = "memstore.Touch"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return err
	}
	for _, r := range s.sessions {
		if r.ID == sessionID && r.Active && now.After(r.LastSeenAt) {
			r.LastSeenAt = now
		}
	}
	return nil
}

// Deactivate ends the session with tokenHash.
func (s *Store) Deactivate(ctx context.Context, tokenHash string, now time.Time, reason string) (bool, error) {
	const op = "memstore.Deactivate"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return false, err
	}
	r, ok := s.sessions[tokenHash]
	if !ok || !r.Active {
		return false, nil
	}
	end(r, now, reason)
	return true, nil
}

// DeactivateAll ends every active session of accountID.
func (s *Store) DeactivateAll(ctx context.Context, accountID string, now time.Time, reason string) (int64, error) {
	const op = "memstore.DeactivateAll"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range s.sessions {
		if r.Active && r.AccountID != nil && *r.AccountID == accountID {
			end(r, now, reason)
			n++
		}
	}
	return n, nil
}

// DeactivateExpired ends every active session whose expiry is at or before now.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "memstore.DeactivateExpired"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, op); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range s.sessions {
		if r.Active && !r.ExpiresAt.After(now) {
			end(r, now, session.EndReasonExpired)
			n++
		}
	}
	return n, nil
}

// Sessions returns copies of every session row bound to accountID, including
// ended ones. Unbound rows are returned for an empty accountID.
func (s *Store) Sessions(accountID string) []session.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []session.Row
	for _, r := range s.sessions {
		bound := r.AccountID != nil
		if (accountID == "" && !bound) || (bound && *r.AccountID == accountID) {
			out = append(out, copyRow(*r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func end(r *session.Row, now time.Time, reason string) {
	t := now
	rs := reason
	r.Active = false
	r.EndedAt = &t
	r.EndReason = &rs
}

func copyRow(r session.Row) session.Row {
	cp := r
	if r.AccountID != nil {
		v := *r.AccountID
		cp.AccountID = &v
	}
	if r.EndedAt != nil {
		v := *r.EndedAt
		cp.EndedAt = &v
	}
	if r.EndReason != nil {
		v := *r.EndReason
		cp.EndReason = &v
	}
	if r.IP != nil {
		cp.IP = append([]byte(nil), r.IP...)
	}
	return cp
}
