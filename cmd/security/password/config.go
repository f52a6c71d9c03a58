package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams is the cost of one digest. MemoryKiB is passed to argon2.IDKey
// unchanged, so it is in KiB.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds what SetPassword accepts.
//
// latch accepts any non-empty password up to MaxLength out of the box. Length
// floors and the weak-password blocklist are operator decisions and stay off
// until configured.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak refuses a short list of trivially guessable passwords.
	RejectVeryWeak bool
}

// Config is everything the package needs to hash, verify and validate.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is 64 MiB, three passes, and the permissive policy. MaxLength
// stays finite because every accepted byte is fed to Argon2id.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: defaultParallelism(),
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 1,
			MaxLength: 1024,
		},
	}
}

// defaultParallelism follows the CPU count, capped at 4 lanes per digest.
func defaultParallelism() uint8 {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 4 {
		return 4
	}
	return uint8(n) // #nosec G115 -- n is in [1..4]
}

// envBinding applies one LATCH_ variable to a Config.
type envBinding struct {
	key   string
	apply func(cfg *Config, raw string) error
}

var envBindings = []envBinding{
	{"LATCH_PASSWORD_MIN_LEN", intSetting(1, 1024, func(c *Config) *int { return &c.Policy.MinLength })},
	{"LATCH_PASSWORD_MAX_LEN", intSetting(1, 4096, func(c *Config) *int { return &c.Policy.MaxLength })},
	{"LATCH_PASSWORD_REJECT_VERY_WEAK", boolSetting(func(c *Config) *bool { return &c.Policy.RejectVeryWeak })},
	{"LATCH_ARGON2_MEMORY_KIB", u32Setting(8*1024, 1024*1024, func(c *Config) *uint32 { return &c.Params.MemoryKiB })},
	{"LATCH_ARGON2_ITERATIONS", u32Setting(1, 20, func(c *Config) *uint32 { return &c.Params.Iterations })},
	{"LATCH_ARGON2_PARALLELISM", func(c *Config, raw string) error {
		n, err := parseUint(raw, 1, 64)
		if err != nil {
			return err
		}
		c.Params.Parallelism = uint8(n) // #nosec G115 -- bounded to [1..64]
		return nil
	}},
	{"LATCH_ARGON2_SALT_LEN", u32Setting(8, 64, func(c *Config) *uint32 { return &c.Params.SaltLength })},
	{"LATCH_ARGON2_KEY_LEN", u32Setting(16, 64, func(c *Config) *uint32 { return &c.Params.KeyLength })},
}

// FromEnv starts from DefaultConfig and applies whichever of these are set:
//
//	LATCH_PASSWORD_MIN_LEN           1..1024
//	LATCH_PASSWORD_MAX_LEN           1..4096
//	LATCH_PASSWORD_REJECT_VERY_WEAK  true/false
//	LATCH_ARGON2_MEMORY_KIB          8192..1048576
//	LATCH_ARGON2_ITERATIONS          1..20
//	LATCH_ARGON2_PARALLELISM         1..64
//	LATCH_ARGON2_SALT_LEN            8..64
//	LATCH_ARGON2_KEY_LEN             16..64
//
// Raising the cost later is safe: older digests keep verifying and are
// re-hashed at the next successful login.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, b := range envBindings {
		raw, ok := os.LookupEnv(b.key)
		if !ok {
			continue
		}
		if err := b.apply(&cfg, strings.TrimSpace(raw)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", b.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy: min length %d exceeds max length %d",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func intSetting(lo, hi int, field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("out of range [%d..%d]", lo, hi)
		}
		*field(c) = n
		return nil
	}
}

func u32Setting(lo, hi uint32, field func(*Config) *uint32) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := parseUint(raw, uint64(lo), uint64(hi))
		if err != nil {
			return err
		}
		*field(c) = uint32(n) // #nosec G115 -- bounded by hi
		return nil
	}
}

func boolSetting(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		switch strings.ToLower(raw) {
		case "1", "true", "yes", "on":
			*field(c) = true
		case "0", "false", "no", "off":
			*field(c) = false
		default:
			return fmt.Errorf("invalid boolean")
		}
		return nil
	}
}

func parseUint(raw string, lo, hi uint64) (uint64, error) {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return n, nil
}
