// ABOUTME: Configuration loading and parsing for endobot
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and overrides

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied before the file is parsed.
const (
	DefaultHTTPAddr        = ":8080"
	DefaultDBPath          = "endobot.db"
	DefaultAPIBase         = "https://api.openai.com"
	DefaultRequestTimeout  = 60 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultHistoryLimit    = 30
	DefaultFallbackPrompt  = "Olá! Pode enviar sua dúvida."
	DefaultCookieName      = "chatkit_session_id"
	DefaultSessionMaxAge   = 30 * 24 * time.Hour
	DefaultMetricsPath     = "/metrics"
	DefaultDedupeTTL       = 5 * time.Minute
	DefaultDedupeEntries   = 10000
	DefaultNotifySubject   = "endobot.threads"
	DefaultShutdownTimeout = 5 * time.Second
	MinJWTSecretLength     = 32
)

// Config represents the complete endobot configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Dedupe   DedupeConfig   `yaml:"dedupe" toml:"dedupe"`
	Prompts  PromptsConfig  `yaml:"prompts" toml:"prompts"`
	Notify   NotifyConfig   `yaml:"notify" toml:"notify"`
	CORS     CORSConfig     `yaml:"cors" toml:"cors"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig selects the item store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite or memory
	Path   string `yaml:"path" toml:"path"`
}

// UpstreamConfig holds the workflow endpoint and response bridging settings
type UpstreamConfig struct {
	APIBase         string `yaml:"api_base" toml:"api_base"`
	APIKey          string `yaml:"api_key" toml:"api_key"`
	WorkflowID      string `yaml:"workflow_id" toml:"workflow_id"`
	WorkflowVersion string `yaml:"workflow_version" toml:"workflow_version"`
	Mode            string `yaml:"mode" toml:"mode"`                         // stream or complete
	HeartbeatPolicy string `yaml:"heartbeat_policy" toml:"heartbeat_policy"` // reset or ignore
	HistoryLimit    int    `yaml:"history_limit" toml:"history_limit"`
	FallbackPrompt  string `yaml:"fallback_prompt" toml:"fallback_prompt"`
	FallbackReply   string `yaml:"fallback_reply" toml:"fallback_reply"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	IdleTimeout    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	IdleTimeoutRaw    string `yaml:"idle_timeout" toml:"idle_timeout"`
}

// SessionConfig controls the anonymous session cookie
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name" toml:"cookie_name"`
	Secure     bool          `yaml:"secure" toml:"secure"`
	MaxAge     time.Duration `yaml:"-" toml:"-"`

	MaxAgeRaw string `yaml:"max_age" toml:"max_age"`
}

// AuthConfig holds authentication configuration. An empty secret means
// session cookie identity.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DedupeConfig bounds the duplicate submission cache
type DedupeConfig struct {
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
	TTL        time.Duration `yaml:"-" toml:"-"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// PromptsConfig points at the read-only prompt library
type PromptsConfig struct {
	DatabaseURL string `yaml:"database_url" toml:"database_url"`
}

// NotifyConfig enables NATS item notifications
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url" toml:"nats_url"`
	Token   string `yaml:"token" toml:"token"`
	Subject string `yaml:"subject" toml:"subject"`
}

// CORSConfig lists origins allowed to call the API from a browser
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: DefaultHTTPAddr, ShutdownTimeout: DefaultShutdownTimeout},
		Database: DatabaseConfig{Driver: "sqlite", Path: DefaultDBPath},
		Upstream: UpstreamConfig{
			APIBase:         DefaultAPIBase,
			Mode:            "stream",
			HeartbeatPolicy: "reset",
			HistoryLimit:    DefaultHistoryLimit,
			FallbackPrompt:  DefaultFallbackPrompt,
			RequestTimeout:  DefaultRequestTimeout,
			IdleTimeout:     DefaultIdleTimeout,
		},
		Session: SessionConfig{CookieName: DefaultCookieName, MaxAge: DefaultSessionMaxAge},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		Dedupe:  DedupeConfig{TTL: DefaultDedupeTTL, MaxEntries: DefaultDedupeEntries},
		Notify:  NotifyConfig{Subject: DefaultNotifySubject},
	}
}

// DefaultPath returns where the config file is looked up when no path is
// given: ENDOBOT_CONFIG, then $XDG_CONFIG_HOME/endobot/config.yaml, then
// ~/.config/endobot/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("ENDOBOT_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "endobot", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "endobot", "config.yaml")
	}
	return filepath.Join(home, ".config", "endobot", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded. A missing
// file yields defaults plus environment overrides. Files ending in .toml are
// parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := parse(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func parse(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyEnv layers the deployment environment variables over the file.
func applyEnv(cfg *Config) {
	setFromEnv(&cfg.Upstream.APIKey, "OPENAI_API_KEY")
	setFromEnv(&cfg.Upstream.WorkflowID, "CHATKIT_WORKFLOW_ID")
	setFromEnv(&cfg.Upstream.WorkflowID, "OPENAI_WORKFLOW_ID")
	setFromEnv(&cfg.Upstream.WorkflowVersion, "OPENAI_WORKFLOW_VERSION")
	setFromEnv(&cfg.Upstream.APIBase, "CHATKIT_API_BASE")
	setFromEnv(&cfg.Prompts.DatabaseURL, "PM_DATABASE_URL_RO")
	setFromEnv(&cfg.Database.Path, "ENDOBOT_DB_PATH")

	if os.Getenv("VERCEL") != "" {
		cfg.Session.Secure = true
	}
	cfg.Upstream.APIBase = strings.TrimRight(cfg.Upstream.APIBase, "/")
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	if c.Upstream.Mode != "stream" && c.Upstream.Mode != "complete" {
		return fmt.Errorf("upstream.mode must be stream or complete, got %q", c.Upstream.Mode)
	}
	if c.Upstream.HeartbeatPolicy != "reset" && c.Upstream.HeartbeatPolicy != "ignore" {
		return fmt.Errorf("upstream.heartbeat_policy must be reset or ignore, got %q", c.Upstream.HeartbeatPolicy)
	}
	if c.Upstream.HistoryLimit <= 0 {
		return fmt.Errorf("upstream.history_limit must be positive")
	}
	if c.Upstream.RequestTimeout <= 0 || c.Upstream.IdleTimeout <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.Dedupe.TTL <= 0 || c.Dedupe.MaxEntries <= 0 {
		return fmt.Errorf("dedupe.ttl and dedupe.max_entries must be positive")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"upstream.request_timeout", cfg.Upstream.RequestTimeoutRaw, &cfg.Upstream.RequestTimeout},
		{"upstream.idle_timeout", cfg.Upstream.IdleTimeoutRaw, &cfg.Upstream.IdleTimeout},
		{"session.max_age", cfg.Session.MaxAgeRaw, &cfg.Session.MaxAge},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
