package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime configuration.
//
// Values are resolved in three layers: built-in defaults, then the optional
// YAML file named by LATCH_CONFIG_FILE, then environment variables.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	// DatabaseURL selects the Postgres stores; empty means in-memory stores.
	DatabaseURL string `yaml:"database_url"`
	DBSchema    string `yaml:"db_schema"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`
	DBMigrate   bool   `yaml:"db_migrate"`

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	// If true, LATCH_TOKEN_HMAC_KEY must be set (>= 32 bytes) and session token
	// hashing is HMAC-based.
	RequireTokenHMAC bool `yaml:"require_token_hmac"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:          "0.0.0.0:8080",
		LogLevel:          "info",
		LogFormat:         "json",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		DBSchema:          "latch",
		DBMaxConns:        10,
		MetricsEnabled:    true,
		CORSMaxAgeSeconds: 600,
	}
}

// LoadConfig resolves Config from defaults, the optional YAML file, and env.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("LATCH_CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPAddr = EnvString("LATCH_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("LATCH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("LATCH_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("LATCH_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("LATCH_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("LATCH_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("LATCH_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("LATCH_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.DatabaseURL = EnvString("LATCH_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBSchema = EnvString("LATCH_DB_SCHEMA", cfg.DBSchema)
	cfg.DBMaxConns = EnvInt32("LATCH_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("LATCH_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.DBMigrate = EnvBool("LATCH_DB_MIGRATE", cfg.DBMigrate)

	cfg.ReadinessRequireDB = EnvBool("LATCH_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)
	cfg.RequireTokenHMAC = EnvBool("LATCH_REQUIRE_TOKEN_HMAC", cfg.RequireTokenHMAC)
	cfg.MetricsEnabled = EnvBool("LATCH_METRICS_ENABLED", cfg.MetricsEnabled)

	cfg.CORSAllowedOrigins = EnvList("LATCH_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.CORSAllowCredentials = EnvBool("LATCH_CORS_ALLOW_CREDENTIALS", cfg.CORSAllowCredentials)
	cfg.CORSMaxAgeSeconds = EnvInt("LATCH_CORS_MAX_AGE_SECONDS", cfg.CORSMaxAgeSeconds)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot run.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("config: http_addr is required")
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		return fmt.Errorf("config: db_min_conns(%d) > db_max_conns(%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// overlayFile decodes a YAML file on top of c. Keys absent from the file keep
// their current values; unknown keys are an error.
func (c *Config) overlayFile(path string) error {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}
