// =============================================================================
// llm-router configuration loader
// =============================================================================
// Unified configuration loading: defaults -> YAML file -> environment
// variables. A handful of legacy, unprefixed env var names are still
// accepted for compatibility with older deployments.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete llm-router configuration structure.
type Config struct {
	// Server HTTP listener configuration.
	Server ServerConfig `yaml:"server"`

	// Auth carries JWT/admin bootstrap and the dev-mode bypass switch.
	Auth AuthConfig `yaml:"auth"`

	// Health controls the health monitor's ticking loop.
	Health HealthConfig `yaml:"health"`

	// Log configures structured logging and file retention.
	Log LogConfig `yaml:"log"`

	// Data points at the directory holding nodes.json, models.json, etc.
	Data DataConfig `yaml:"data"`

	// Database configures the relational store backing users/api_keys/agent_tokens.
	Database DatabaseConfig `yaml:"database"`

	// Redis configures an optional distributed cache for dashboard snapshots.
	Redis RedisConfig `yaml:"redis"`

	// Telemetry configures optional OTLP trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// UpstreamTimeout bounds inference proxy calls (streaming included).
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	// ProbeTimeout bounds the registration-time runtime health probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// TLSCertFile/TLSKeyFile, when both set, switch the main listener to
	// HTTPS (internal/server.Manager.StartTLS) using internal/tlsutil's
	// hardened cipher suite and minimum-version policy.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	// RateLimitRPS/RateLimitBurst bound per-client request rates; 0
	// disables rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	// CORSAllowedOrigins lists origins the dashboard may be served
	// from; empty rejects cross-origin requests.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// AuthConfig configures JWT issuance, the bootstrap admin, and dev-mode bypass.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	AdminUsername  string `yaml:"admin_username"`
	AdminPassword  string `yaml:"admin_password"`
	Disabled       bool   `yaml:"disabled"`
	SkipHealthProbe bool  `yaml:"-"`
}

// HealthConfig configures the health monitor tick and staleness timeout.
type HealthConfig struct {
	CheckIntervalSecs int `yaml:"check_interval_secs"`
	NodeTimeoutSecs   int `yaml:"node_timeout_secs"`
}

// LogConfig configures structured logging output and retention.
type LogConfig struct {
	Level         string `yaml:"level"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// DataConfig points at the directory holding persisted router state.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// DatabaseConfig configures the relational store (gorm-backed).
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the optional distributed cache.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// TelemetryConfig configures OTLP trace and metric export. The Prometheus
// /metrics/cloud endpoint is served regardless of these settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Loader loads Config from defaults, an optional YAML file, then environment
// variables, in that order. Builder-style so callers can chain options.
type Loader struct {
	configPath string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{validators: make([]func(*Config) error, 0)}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithValidator registers a config validation hook.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the final Config: defaults -> YAML -> env vars -> validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnv(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// envVar reads the canonical LLM_ROUTER_ variable, falling back to a legacy
// unprefixed name if present (warning once to stderr).
func envVar(canonical, legacy string) (string, bool) {
	if v, ok := os.LookupEnv(canonical); ok {
		return v, true
	}
	if legacy != "" {
		if v, ok := os.LookupEnv(legacy); ok {
			fmt.Fprintf(os.Stderr, "warning: %s is deprecated, use %s instead\n", legacy, canonical)
			return v, true
		}
	}
	return "", false
}

// loadFromEnv overlays explicit environment variables named in the external
// interface contract onto cfg. Unlike a generic reflection-based prefix
// scanner, each variable is named explicitly so legacy aliases can be wired
// per-field.
func loadFromEnv(cfg *Config) {
	if v, ok := envVar("LLM_ROUTER_HOST", ""); ok {
		cfg.Server.Host = v
	}
	if v, ok := envVar("LLM_ROUTER_PORT", ""); ok {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v, ok := envVar("LLM_ROUTER_LOG_LEVEL", ""); ok {
		cfg.Log.Level = v
	}
	if v, ok := envVar("LLM_ROUTER_LOG_DIR", "LLM_LOG_DIR"); ok {
		cfg.Log.Dir = v
	}
	if v, ok := envVar("LLM_ROUTER_LOG_RETENTION_DAYS", ""); ok {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Log.RetentionDays = d
		}
	}
	if v, ok := envVar("LLM_ROUTER_DATA_DIR", ""); ok {
		cfg.Data.Dir = v
	}
	if v, ok := envVar("LLM_ROUTER_JWT_SECRET", "JWT_SECRET"); ok {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := envVar("LLM_ROUTER_ADMIN_USERNAME", ""); ok {
		cfg.Auth.AdminUsername = v
	}
	if v, ok := envVar("LLM_ROUTER_ADMIN_PASSWORD", ""); ok {
		cfg.Auth.AdminPassword = v
	}
	if v, ok := envVar("AUTH_DISABLED", ""); ok {
		cfg.Auth.Disabled = truthy(v)
	}
	if v, ok := envVar("HEALTH_CHECK_INTERVAL", ""); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.CheckIntervalSecs = n
		}
	}
	if v, ok := envVar("NODE_TIMEOUT", ""); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.NodeTimeoutSecs = n
		}
	}
	if v, ok := envVar("LLM_ROUTER_SKIP_HEALTH_CHECK", ""); ok {
		cfg.Auth.SkipHealthProbe = truthy(v)
	}
	if v, ok := envVar("LLM_ROUTER_TLS_CERT_FILE", ""); ok {
		cfg.Server.TLSCertFile = v
	}
	if v, ok := envVar("LLM_ROUTER_TLS_KEY_FILE", ""); ok {
		cfg.Server.TLSKeyFile = v
	}
}

func truthy(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// MustLoad loads configuration, panicking on failure. Intended for
// cmd/ entrypoints where a failed load is a fatal startup error.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate performs basic structural validation of the loaded config.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "invalid server port")
	}
	if c.Health.CheckIntervalSecs <= 0 {
		errs = append(errs, "health.check_interval_secs must be positive")
	}
	if c.Health.NodeTimeoutSecs <= 0 {
		errs = append(errs, "health.node_timeout_secs must be positive")
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		// Not fatal: auth.LoadOrCreateJWTSecret mints and persists one on first run.
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DatabaseDSN resolves the relational store's DSN. For the default sqlite
// driver an unset DSN lands in dataDir/router.db; other drivers must be
// configured explicitly.
func (c *Config) DatabaseDSN() (string, error) {
	if c.Database.DSN != "" {
		return c.Database.DSN, nil
	}
	if c.Database.Driver != "sqlite" {
		return "", fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}
	dataDir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return dataDir + "/router.db", nil
}

// DataDir resolves the data directory, defaulting to ~/.llm-router.
func (c *Config) DataDir() (string, error) {
	if c.Data.Dir != "" {
		return c.Data.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return home + "/.llm-router", nil
}
