// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.aster/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Models: per-mode model selection and generation limits (see modes.go)
//   - Dispatch: tag-routing hop budget
//   - Storage: PostgreSQL connection (see storage.go)
//   - Research: SearXNG endpoint and page fetcher limits (see research.go)
//   - Observability: OTLP trace export (see observability.go)
//
// Security: sensitive values (passwords, secrets) are masked in MarshalJSON;
// the config directory uses 0750 permissions.
//
// Error handling uses sentinel errors checked with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates a mode's model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxHops indicates the dispatch hop budget is out of range.
	ErrInvalidMaxHops = errors.New("invalid max hops")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidSearXNGURL indicates the SearXNG base URL is invalid.
	ErrInvalidSearXNGURL = errors.New("invalid SearXNG URL")

	// ErrMissingHMACSecret indicates the HMAC secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the HMAC secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation to 768 via OutputDimensionality; the memories schema uses 768.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultMaxHistoryMessages is the default number of messages to load.
	DefaultMaxHistoryMessages int32 = 100

	// DefaultMaxHops bounds tag-routing re-invocations per request.
	DefaultMaxHops = 2

	// MaxAllowedHops is the absolute ceiling for the hop budget.
	MaxAllowedHops = 5
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Per-mode model configuration (see modes.go)
	Models ModelsConfig `mapstructure:"models" json:"models"`

	// Generation parameters shared across modes
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	Language    string  `mapstructure:"language" json:"language"`

	// Dispatch configuration
	MaxHops            int   `mapstructure:"max_hops" json:"max_hops"`
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Memory configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Research configuration (see research.go)
	SearXNG SearXNGConfig `mapstructure:"searxng" json:"searxng"`
	Fetcher FetcherConfig `mapstructure:"fetcher" json:"fetcher"`

	// Observability configuration (see observability.go)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Security configuration (serve mode only)
	HMACSecret  string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".aster")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, if set, overrides individual postgres_* values.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail-fast on invalid configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Mode model defaults
	viper.SetDefault("models.chat", "gemini-2.5-flash")
	viper.SetDefault("models.search", "gemini-2.5-flash")
	viper.SetDefault("models.research", "gemini-2.5-pro")
	viper.SetDefault("models.think", "gemini-2.5-pro")
	viper.SetDefault("models.image", "gemini-2.5-flash-image")
	viper.SetDefault("models.canvas", "gemini-2.5-pro")
	viper.SetDefault("models.project", "gemini-2.5-pro")
	viper.SetDefault("models.study", "gemini-2.5-pro")

	// Generation defaults
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 8192)
	viper.SetDefault("language", "auto")

	// Dispatch defaults
	viper.SetDefault("max_hops", DefaultMaxHops)
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "aster")
	viper.SetDefault("postgres_password", "aster_dev_password")
	viper.SetDefault("postgres_db_name", "aster")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Memory defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	// SearXNG defaults
	viper.SetDefault("searxng.base_url", "http://localhost:8888")
	viper.SetDefault("searxng.max_results", 8)

	// Fetcher defaults
	viper.SetDefault("fetcher.parallelism", 2)
	viper.SetDefault("fetcher.delay_ms", 1000)
	viper.SetDefault("fetcher.timeout_ms", 30000)
	viper.SetDefault("fetcher.max_pages", 6)

	// CORS defaults (local web client)
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})

	// Proxy trust (default: false — safe for direct exposure)
	viper.SetDefault("trust_proxy", false)

	// Tracing defaults
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "aster")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit (not via Viper); its presence
// is checked in Validate().
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a panic here is a bug, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("hmac_secret", "HMAC_SECRET")
	mustBind("cors_origins", "ASTER_CORS_ORIGINS")
	mustBind("trust_proxy", "ASTER_TRUST_PROXY")

	mustBind("models.chat", "ASTER_MODEL_CHAT")
	mustBind("models.research", "ASTER_MODEL_RESEARCH")
	mustBind("max_hops", "ASTER_MAX_HOPS")
	mustBind("searxng.base_url", "ASTER_SEARXNG_URL")

	mustBind("tracing.enabled", "ASTER_TRACING")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets keep the
// first and last two characters for debug utility.
//
// THREAT MODEL: defends against accidental logging of real secrets.
// It is not cryptographically secure — if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - HMACSecret
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.HMACSecret = maskSecret(a.HMACSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
