// ABOUTME: Configuration loading and parsing for openclaw-forward-auth
// ABOUTME: Defaults, optional YAML/TOML file with env expansion, then environment overrides

package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables read at startup.
const (
	EnvConfigPath         = "OPENCLAW_FORWARD_AUTH_CONFIG"
	EnvSecret             = "OPENCLAW_TTYD_SECRET"
	EnvTTLSeconds         = "OPENCLAW_TTYD_TTL_SECONDS"
	EnvMinSignatureLength = "OPENCLAW_TTYD_MIN_SIGNATURE_LENGTH"
	EnvPort               = "PORT"
	EnvLogLevel           = "OPENCLAW_FORWARD_AUTH_LOG_LEVEL"
	EnvLogFormat          = "OPENCLAW_FORWARD_AUTH_LOG_FORMAT"
	EnvMetricsAddr        = "OPENCLAW_FORWARD_AUTH_METRICS_ADDR"
	EnvGRPCHealthAddr     = "OPENCLAW_FORWARD_AUTH_GRPC_HEALTH_ADDR"
)

// Defaults.
const (
	DefaultTTLSeconds        = 24 * 60 * 60
	DefaultPort              = 8080
	DefaultHost              = "0.0.0.0"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultMetricsPath       = "/metrics"

	maxSignatureLength = 64
)

// Config represents the complete openclaw-forward-auth configuration.
// It is built once at startup and treated as read-only afterwards.
type Config struct {
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`

	// Warnings collects non-fatal problems found while reading the
	// environment, such as a non-numeric PORT that fell back to the default.
	Warnings []string `yaml:"-" toml:"-"`
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	Secret             string `yaml:"secret" toml:"secret"`
	TTLSeconds         int64  `yaml:"ttl_seconds" toml:"ttl_seconds"`
	MinSignatureLength int    `yaml:"min_signature_length" toml:"min_signature_length"`
}

// LogValue keeps the secret out of structured logs.
func (a AuthConfig) LogValue() slog.Value {
	secret := "<unset>"
	if a.Secret != "" {
		secret = "<redacted>"
	}
	return slog.GroupValue(
		slog.String("secret", secret),
		slog.Int64("ttl_seconds", a.TTLSeconds),
		slog.Int("min_signature_length", a.MinSignatureLength),
	)
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`

	// GRPCHealthAddr enables the grpc.health.v1 service when set.
	GRPCHealthAddr string `yaml:"grpc_health_addr" toml:"grpc_health_addr"`

	ReadHeaderTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for YAML/TOML unmarshaling
	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout" toml:"read_header_timeout"`
}

// Addr returns the host:port the forward-auth listener binds to.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults returns a Config populated with built-in defaults and no secret.
func Defaults() *Config {
	return &Config{
		Auth: AuthConfig{
			TTLSeconds: DefaultTTLSeconds,
		},
		Server: ServerConfig{
			Host:              DefaultHost,
			Port:              DefaultPort,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: DefaultMetricsPath,
		},
	}
}

// Load resolves the configuration from the process environment and validates it.
// It fails when the shared secret is missing.
func Load() (*Config, error) {
	cfg, err := Resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Resolve merges defaults, the optional config file and the environment
// without validating the result.
func Resolve() (*Config, error) {
	return resolve(os.Getenv)
}

func resolve(getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(getenv(EnvConfigPath)); path != "" {
		if err := loadFile(path, cfg, getenv); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg, getenv)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		cfg.Metrics.Enabled = true
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	return cfg, nil
}

// loadFile decodes a YAML or TOML file over cfg. Keys absent from the file
// keep their current values.
func loadFile(path string, cfg *Config, getenv func(string) string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data), getenv)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string, getenv func(string) string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyEnv overlays environment variables. Numeric values that do not parse
// are ignored with a warning rather than failing startup.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvSecret); v != "" {
		cfg.Auth.Secret = v
	}

	if n, ok := envInt(cfg, getenv, EnvTTLSeconds); ok {
		cfg.Auth.TTLSeconds = n
	}
	if n, ok := envInt(cfg, getenv, EnvMinSignatureLength); ok {
		cfg.Auth.MinSignatureLength = int(n)
	}
	if n, ok := envInt(cfg, getenv, EnvPort); ok {
		if n < 1 || n > 65535 {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s=%d out of range, using %d", EnvPort, n, cfg.Server.Port))
		} else {
			cfg.Server.Port = int(n)
		}
	}

	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(getenv(EnvMetricsAddr)); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := strings.TrimSpace(getenv(EnvGRPCHealthAddr)); v != "" {
		cfg.Server.GRPCHealthAddr = v
	}
}

func envInt(cfg *Config, getenv func(string) string, name string) (int64, bool) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring %s=%q: not an integer", name, raw))
		return 0, false
	}
	return n, true
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
		cfg.Server.ReadHeaderTimeout = d
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (set %s)", EnvSecret)
	}

	if c.Auth.MinSignatureLength < 0 || c.Auth.MinSignatureLength > maxSignatureLength {
		return fmt.Errorf("auth.min_signature_length must be between 0 and %d", maxSignatureLength)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("server.read_header_timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == c.Server.Addr() {
		return fmt.Errorf("metrics.addr must differ from the forward-auth listener")
	}

	return nil
}
