// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.tessera/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, router/answer models, embedder
//   - Storage: PostgreSQL connection (see storage.go)
//   - Ingest: vectorizing worker endpoint, dispatcher pool, retry policy
//   - Serve: HTTP address, JWT secret, rate limiting
//   - Observability: OTLP trace export
//
// Sensitive data (passwords, secrets) is never logged; MarshalJSON masks it.
// Validate() performs range checks with clear error messages (see validation.go).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidWorkerURL indicates the vectorizing worker URL is missing or malformed.
	ErrInvalidWorkerURL = errors.New("invalid vectorizer worker URL")

	// ErrInvalidDispatch indicates dispatcher pool or retry settings are out of range.
	ErrInvalidDispatch = errors.New("invalid dispatch settings")

	// ErrMissingJWTSecret indicates the JWT signing secret is not set.
	ErrMissingJWTSecret = errors.New("missing JWT secret")

	// ErrInvalidJWTSecret indicates the JWT signing secret is too short.
	ErrInvalidJWTSecret = errors.New("invalid JWT secret")

	// ErrMissingWorkerToken indicates the vectorizer callback token is not set.
	ErrMissingWorkerToken = errors.New("missing worker token")

	// ErrInvalidWorkerToken indicates the vectorizer callback token is too short.
	ErrInvalidWorkerToken = errors.New("invalid worker token")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultEmbedderModel is the default embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions, matching
	// the pgvector column in db/migrations.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultMaxAttempts is the default ingestion retry budget per job.
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the exponential backoff base in minutes:
	// next retry fires after base^attempt_count minutes.
	DefaultBackoffBase = 5
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	OllamaHost    string  `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ingestion configuration
	WorkerURL        string `mapstructure:"worker_url" json:"worker_url"`
	WorkerToken      string `mapstructure:"worker_token" json:"worker_token"` // SENSITIVE: masked in MarshalJSON
	WorkerTimeoutSec int    `mapstructure:"worker_timeout_sec" json:"worker_timeout_sec"`
	DispatchWorkers  int    `mapstructure:"dispatch_workers" json:"dispatch_workers"`
	DispatchPollMs   int    `mapstructure:"dispatch_poll_ms" json:"dispatch_poll_ms"`
	MaxAttempts      int    `mapstructure:"max_attempts" json:"max_attempts"`
	BackoffBaseMin   int    `mapstructure:"backoff_base_min" json:"backoff_base_min"`

	// Serve configuration
	ListenAddr  string  `mapstructure:"listen_addr" json:"listen_addr"`
	JWTSecret   string  `mapstructure:"jwt_secret" json:"jwt_secret"` // SENSITIVE: masked in MarshalJSON
	RatePerSec  float64 `mapstructure:"rate_per_sec" json:"rate_per_sec"`
	RateBurst   int     `mapstructure:"rate_burst" json:"rate_burst"`
	TrustProxy  bool    `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Observability configuration
	OTLPAgentHost string `mapstructure:"otlp_agent_host" json:"otlp_agent_host"`
	Environment   string `mapstructure:"environment" json:"environment"`
	ServiceName   string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".tessera")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, if set, overrides the individual postgres_* fields
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "tessera")
	viper.SetDefault("postgres_password", "tessera_dev_password")
	viper.SetDefault("postgres_db_name", "tessera")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Ingestion defaults
	viper.SetDefault("worker_url", "http://localhost:8090/vectorize")
	viper.SetDefault("worker_timeout_sec", 30)
	viper.SetDefault("dispatch_workers", 4)
	viper.SetDefault("dispatch_poll_ms", 1000)
	viper.SetDefault("max_attempts", DefaultMaxAttempts)
	viper.SetDefault("backoff_base_min", DefaultBackoffBase)

	// Serve defaults
	viper.SetDefault("listen_addr", "127.0.0.1:3500")
	viper.SetDefault("rate_per_sec", 5.0)
	viper.SetDefault("rate_burst", 10)
	viper.SetDefault("trust_proxy", false)

	// Observability defaults
	viper.SetDefault("otlp_agent_host", "localhost:4318")
	viper.SetDefault("environment", "dev")
	viper.SetDefault("service_name", "tessera")
}

// bindEnvVariables binds sensitive environment variables explicitly.
// GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit plugins,
// not via Viper; Validate() checks their presence per provider.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("jwt_secret", "TESSERA_JWT_SECRET")
	mustBind("worker_url", "TESSERA_WORKER_URL")
	mustBind("worker_token", "TESSERA_WORKER_TOKEN")
	mustBind("listen_addr", "TESSERA_LISTEN_ADDR")
	mustBind("trust_proxy", "TESSERA_TRUST_PROXY")
	mustBind("provider", "TESSERA_PROVIDER")
	mustBind("model_name", "TESSERA_MODEL_NAME")
	mustBind("ollama_host", "TESSERA_OLLAMA_HOST")
	mustBind("otlp_agent_host", "TESSERA_OTLP_AGENT_HOST")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets show the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.JWTSecret = maskSecret(a.JWTSecret)
	a.WorkerToken = maskSecret(a.WorkerToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
