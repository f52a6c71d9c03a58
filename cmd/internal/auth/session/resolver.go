package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"latch/cmd/identity"
	"latch/cmd/identity/ids"
	"latch/cmd/internal/telemetry"
	"latch/cmd/security/token"
)

// BeginOptions carries per-login session attributes.
type BeginOptions struct {
	Remember  bool
	UserAgent string
	IP        net.IP
}

// Issued is the result of beginning a session. Token is shown to the client
// exactly once and must never be logged.
type Issued struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
	Remember  bool
}

// Resolver issues session tokens and resolves them to identities.
//
// It keeps no state between calls: every Resolve reads the store, so an
// EndSession or InvalidateAll is visible to the very next Resolve.
type Resolver struct {
	cfg     Config
	store   Store
	hasher  token.Hasher
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics records issuance and resolution outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver constructs a Resolver with the provided configuration, store, and token hasher.
func NewResolver(cfg Config, store Store, hasher token.Hasher, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("session: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		cfg:    cfg,
		store:  store,
		hasher: hasher,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Config returns the resolver's configuration.
func (r *Resolver) Config() Config { return r.cfg }

// BeginSession creates a new active session bound to accountID and returns the
// plain token. Only the token's hash is persisted.
//
// Returns identity.ErrNotFound when the account does not exist.
func (r *Resolver) BeginSession(ctx context.Context, accountID string, opts BeginOptions) (Issued, error) {
	const op = "session.BeginSession"

	if strings.TrimSpace(accountID) == "" {
		return Issued{}, identity.NotFoundError{Op: op, Resource: "account"}
	}

	now := r.now()

	plain, err := token.New(r.cfg.TokenBytes)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}

	acc := accountID
	row := Row{
		ID:         id,
		TokenHash:  r.hasher.Hash(plain),
		AccountID:  &acc,
		Active:     true,
		Remember:   opts.Remember,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(r.cfg.lifetime(opts.Remember)),
		UserAgent:  clampUserAgent(opts.UserAgent),
		IP:         opts.IP,
	}

	if err := r.store.Create(ctx, row, r.cfg.MaxPerAccount); err != nil {
		return Issued{}, err
	}

	r.metrics.SessionBegun(opts.Remember)
	r.log.Info("session.begin",
		slog.String("account_id", accountID),
		slog.String("session_id", id),
		slog.Bool("remember", opts.Remember),
	)

	return Issued{
		SessionID: id,
		Token:     plain,
		ExpiresAt: row.ExpiresAt,
		Remember:  opts.Remember,
	}, nil
}

// Resolve maps a token to exactly one identity:
//   - empty or malformed token: Anonymous
//   - unknown, inactive, unbound, expired, or idle session: Unauthenticated
//   - otherwise: Authenticated(account id)
//
// The only error is store unavailability; it is never folded into Unauthenticated.
func (r *Resolver) Resolve(ctx context.Context, tok string) (identity.Identity, error) {
	tok = strings.TrimSpace(tok)
	if !token.WellFormed(tok) {
		r.metrics.Resolution(identity.KindAnonymous.String())
		return identity.Anonymous(), nil
	}

	hash := r.hasher.Hash(tok)
	row, err := r.store.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			r.metrics.Resolution(identity.KindUnauthenticated.String())
			return identity.Unauthenticated(), nil
		}
		r.metrics.Resolution("error")
		return identity.Unauthenticated(), err
	}

	if !row.Active || row.AccountID == nil || *row.AccountID == "" {
		r.metrics.Resolution(identity.KindUnauthenticated.String())
		return identity.Unauthenticated(), nil
	}

	now := r.now()

	if !row.ExpiresAt.After(now) {
		r.expire(ctx, hash, now, EndReasonExpired)
		r.metrics.Resolution(identity.KindUnauthenticated.String())
		return identity.Unauthenticated(), nil
	}
	if r.cfg.IdleTimeout > 0 && now.Sub(row.LastSeenAt) >= r.cfg.IdleTimeout {
		r.expire(ctx, hash, now, EndReasonIdle)
		r.metrics.Resolution(identity.KindUnauthenticated.String())
		return identity.Unauthenticated(), nil
	}

	if now.Sub(row.LastSeenAt) >= r.cfg.TouchInterval {
		if err := r.store.Touch(ctx, row.ID, now); err != nil {
			r.log.Warn("session.touch.fail", slog.String("session_id", row.ID), slog.Any("err", err))
		}
	}

	r.metrics.Resolution(identity.KindAuthenticated.String())
	return identity.Authenticated(*row.AccountID), nil
}

// EndSession deactivates the session behind tok. Unknown, malformed, or already
// ended tokens are a no-op.
func (r *Resolver) EndSession(ctx context.Context, tok string) error {
	tok = strings.TrimSpace(tok)
	if !token.WellFormed(tok) {
		return nil
	}

	flipped, err := r.store.Deactivate(ctx, r.hasher.Hash(tok), r.now(), EndReasonLogout)
	if err != nil {
		return err
	}
	if flipped {
		r.metrics.SessionEnded(EndReasonLogout)
		r.log.Info("session.end")
	}
	return nil
}

// InvalidateAll deactivates every session of accountID. Idempotent.
func (r *Resolver) InvalidateAll(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return nil
	}

	n, err := r.store.DeactivateAll(ctx, accountID, r.now(), EndReasonRevoked)
	if err != nil {
		return err
	}
	if n > 0 {
		r.metrics.SessionEnded(EndReasonRevoked)
	}
	r.log.Info("session.invalidate_all", slog.String("account_id", accountID), slog.Int64("count", n))
	return nil
}

// Sweep deactivates every expired session and returns how many flipped.
func (r *Resolver) Sweep(ctx context.Context) (int64, error) {
	n, err := r.store.DeactivateExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	r.metrics.SessionsSwept(n)
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
// A non-positive interval returns immediately.
func (r *Resolver) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Warn("session.sweep.fail", slog.Any("err", err))
				continue
			}
			if n > 0 {
				r.log.Info("session.sweep", slog.Int64("count", n))
			}
		}
	}
}

func (r *Resolver) expire(ctx context.Context, hash string, now time.Time, reason string) {
	flipped, err := r.store.Deactivate(ctx, hash, now, reason)
	if err != nil {
		r.log.Warn("session.expire.fail", slog.String("reason", reason), slog.Any("err", err))
		return
	}
	if flipped {
		r.metrics.SessionEnded(reason)
	}
}

const maxUserAgentLen = 512

// clampUserAgent keeps the header storable as text: valid UTF-8 with no NUL,
// at most maxUserAgentLen bytes.
func clampUserAgent(ua string) string {
	ua = strings.ReplaceAll(ua, "\x00", "")
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return strings.TrimSpace(strings.ToValidUTF8(ua, ""))
}
