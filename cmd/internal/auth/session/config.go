package session

import (
	"os"
	"strconv"
	"time"

	"latch/cmd/security/token"
)

// Config defines all runtime configuration for the session subsystem.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// TTL is the absolute lifetime of a normal session.
	TTL time.Duration

	// RememberTTL is the absolute lifetime of a remember-me session.
	RememberTTL time.Duration

	// IdleTimeout ends a session that has not been resolved for this long.
	// Zero disables idle expiry.
	IdleTimeout time.Duration

	// TouchInterval bounds how often last_seen_at is refreshed per session.
	TouchInterval time.Duration

	// MaxPerAccount caps concurrently active sessions per account; the oldest
	// are ended first. Zero means unlimited.
	MaxPerAccount int

	// SweepInterval is how often expired sessions are deactivated in bulk.
	// Zero disables the sweeper.
	SweepInterval time.Duration

	// TokenBytes is the number of random bytes in a session token.
	TokenBytes int
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		TTL:           24 * time.Hour,
		RememberTTL:   30 * 24 * time.Hour,
		IdleTimeout:   0,
		TouchInterval: time.Minute,
		MaxPerAccount: 0,
		SweepInterval: 5 * time.Minute,
		TokenBytes:    32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - LATCH_SESSION_TTL
//   - LATCH_SESSION_REMEMBER_TTL
//   - LATCH_SESSION_IDLE_TIMEOUT
//   - LATCH_SESSION_TOUCH_INTERVAL
//   - LATCH_SESSION_MAX_PER_ACCOUNT
//   - LATCH_SESSION_SWEEP_INTERVAL
//   - LATCH_SESSION_TOKEN_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("LATCH_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("LATCH_SESSION_REMEMBER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RememberTTL = d
	}

	if v := os.Getenv("LATCH_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.IdleTimeout = d
	}

	if v := os.Getenv("LATCH_SESSION_TOUCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.TouchInterval = d
	}

	if v := os.Getenv("LATCH_SESSION_MAX_PER_ACCOUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxPerAccount = n
	}

	if v := os.Getenv("LATCH_SESSION_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv("LATCH_SESSION_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if c.TTL <= 0 || c.RememberTTL <= 0 {
		return ErrConfig
	}
	// Invariants: remember-me must not be shorter than a normal session.
	if c.RememberTTL < c.TTL {
		return ErrConfig
	}
	if c.IdleTimeout < 0 || c.TouchInterval < 0 || c.SweepInterval < 0 || c.MaxPerAccount < 0 {
		return ErrConfig
	}
	// A touch interval longer than the idle timeout would expire active users.
	if c.IdleTimeout > 0 && c.TouchInterval >= c.IdleTimeout {
		return ErrConfig
	}
	if c.TokenBytes < token.MinBytes || c.TokenBytes > token.MaxBytes {
		return ErrConfig
	}
	return nil
}

func (c Config) lifetime(remember bool) time.Duration {
	if remember {
		return c.RememberTTL
	}
	return c.TTL
}
