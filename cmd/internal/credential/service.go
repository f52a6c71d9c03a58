package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"latch/cmd/identity"
	"latch/cmd/internal/telemetry"
	"latch/cmd/security/password"
)

// Service sets and verifies account passwords.
//
// It holds no per-request state; every call reads the store afresh, so
// SetPassword followed by VerifyPassword always sees the new digest.
type Service struct {
	store   Store
	cfg     password.Config
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	// dummy is verified against when there is no real digest, so latency does not
	// reveal whether the account or digest exists.
	dummy  string
	verify func(digest, plaintext string) (bool, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records verification outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service. It precomputes the dummy digest once.
func NewService(store Store, cfg password.Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("credential: nil store")
	}
	s := &Service{
		store: store,
		cfg:   cfg,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	d, err := cfg.Dummy()
	if err != nil {
		return nil, fmt.Errorf("credential: dummy digest: %w", err)
	}
	s.dummy = d
	s.verify = cfg.Verify
	return s, nil
}

// CheckPolicy reports whether plaintext would be accepted by SetPassword.
func (s *Service) CheckPolicy(plaintext string) error {
	if err := s.cfg.Validate(plaintext); err != nil {
		return identity.OpError{Op: "credential.CheckPolicy", Kind: identity.ErrInvalidInput, Msg: err.Error()}
	}
	return nil
}

// SetPassword hashes plaintext with a fresh salt and replaces the account's digest.
//
// Errors:
//   - identity.ErrInvalidInput when plaintext violates the password policy
//   - identity.ErrNotFound when the account does not exist
//   - identity.ErrStoreUnavailable when the store fails
func (s *Service) SetPassword(ctx context.Context, accountID, plaintext string) error {
	const op = "credential.SetPassword"

	if err := s.cfg.Validate(plaintext); err != nil {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: err.Error()}
	}
	if strings.TrimSpace(accountID) == "" {
		return identity.NotFoundError{Op: op, Resource: "account"}
	}

	digest, err := s.cfg.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.SetPasswordDigest(ctx, accountID, digest, s.now()); err != nil {
		return err
	}

	s.metrics.PasswordSet()
	s.log.Info("credential.password.set", slog.String("account_id", accountID))
	return nil
}

// VerifyPassword reports whether plaintext matches the account's digest.
//
// Unknown accounts, accounts without a digest, and wrong passwords all yield
// (false, nil) after comparable work. The only error is store unavailability.
// VerifyPassword never writes.
func (s *Service) VerifyPassword(ctx context.Context, accountID, plaintext string) (bool, error) {
	if !storable(accountID) {
		s.burn(plaintext)
		s.metrics.Verification(telemetry.ResultUnknown)
		return false, nil
	}

	digest, err := s.store.PasswordDigest(ctx, accountID)
	if err != nil {
		if identity.IsNotFound(err) {
			s.burn(plaintext)
			s.metrics.Verification(telemetry.ResultUnknown)
			return false, nil
		}
		s.metrics.Verification(telemetry.ResultError)
		return false, err
	}

	ok, _ := s.check(accountID, digest, plaintext)
	return ok, nil
}

// Authenticate resolves username to an account and verifies plaintext.
// On success it returns the account id. Digests produced by a legacy scheme or
// weaker parameters are re-hashed best-effort after a match.
func (s *Service) Authenticate(ctx context.Context, username, plaintext string) (string, bool, error) {
	norm := identity.NormalizeUsername(username)
	if norm == "" || !storable(username) {
		s.burn(plaintext)
		s.metrics.Verification(telemetry.ResultUnknown)
		return "", false, nil
	}

	accountID, digest, err := s.store.PasswordDigestByUsername(ctx, norm)
	if err != nil {
		if identity.IsNotFound(err) {
			s.burn(plaintext)
			s.metrics.Verification(telemetry.ResultUnknown)
			return "", false, nil
		}
		s.metrics.Verification(telemetry.ResultError)
		return "", false, err
	}

	ok, rehash := s.check(accountID, digest, plaintext)
	if !ok {
		return "", false, nil
	}

	if rehash {
		s.upgrade(ctx, accountID, plaintext)
	}
	return accountID, true, nil
}

// check verifies plaintext against digest and reports whether the digest
// should be upgraded.
func (s *Service) check(accountID, digest, plaintext string) (ok bool, rehash bool) {
	if digest == "" {
		s.burn(plaintext)
		s.metrics.Verification(telemetry.ResultNoDigest)
		return false, false
	}

	ok, err := s.verify(digest, plaintext)
	if err != nil {
		// A corrupt digest is an operator problem; the caller still just sees false.
		s.burn(plaintext)
		s.metrics.Verification(telemetry.ResultBadDigest)
		s.log.Warn("credential.digest.invalid", slog.String("account_id", accountID))
		return false, false
	}
	if !ok {
		s.metrics.Verification(telemetry.ResultMismatch)
		return false, false
	}

	s.metrics.Verification(telemetry.ResultMatch)
	return true, s.cfg.NeedsRehash(digest)
}

func (s *Service) upgrade(ctx context.Context, accountID, plaintext string) {
	digest, err := s.cfg.Hash(plaintext)
	if err != nil {
		// Policy may have tightened since the password was set; keep the old digest.
		s.log.Debug("credential.rehash.skip", slog.String("account_id", accountID))
		return
	}
	if err := s.store.SetPasswordDigest(ctx, accountID, digest, s.now()); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		s.log.Log(ctx, level, "credential.rehash.fail", slog.String("account_id", accountID), slog.Any("err", err))
		return
	}
	s.metrics.Rehash()
	s.log.Info("credential.rehash.ok", slog.String("account_id", accountID))
}

// burn performs a verification that cannot succeed.
func (s *Service) burn(plaintext string) {
	_, _ = s.verify(s.dummy, plaintext)
}

// storable reports whether a lookup key can exist in the store at all.
// Keys with NUL or invalid UTF-8 never name an account.
func storable(key string) bool {
	return utf8.ValidString(key) && !strings.ContainsRune(key, 0)
}
