package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key validation
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderOllama:
		// Local provider, no key needed
	default:
		return fmt.Errorf("%w: %q is not one of: gemini, ollama, openai", ErrInvalidProvider, c.Provider)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// 3. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "tessera_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 4. Ingestion configuration validation
	u, err := url.Parse(c.WorkerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidWorkerURL, c.WorkerURL)
	}
	if c.WorkerTimeoutSec < 1 {
		return fmt.Errorf("%w: worker_timeout_sec must be at least 1, got %d", ErrInvalidDispatch, c.WorkerTimeoutSec)
	}
	if c.DispatchWorkers < 1 || c.DispatchWorkers > 256 {
		return fmt.Errorf("%w: dispatch_workers must be between 1 and 256, got %d", ErrInvalidDispatch, c.DispatchWorkers)
	}
	if c.DispatchPollMs < 10 {
		return fmt.Errorf("%w: dispatch_poll_ms must be at least 10, got %d", ErrInvalidDispatch, c.DispatchPollMs)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 20 {
		return fmt.Errorf("%w: max_attempts must be between 1 and 20, got %d", ErrInvalidDispatch, c.MaxAttempts)
	}
	if c.BackoffBaseMin < 2 {
		return fmt.Errorf("%w: backoff_base_min must be at least 2, got %d", ErrInvalidDispatch, c.BackoffBaseMin)
	}

	return nil
}

// ValidateServe validates additional settings required by serve mode.
// The JWT secret gates caller identity on every API request, and the worker
// token gates the completion callback, so serve refuses to start without
// strong values for both.
func (c *Config) ValidateServe() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: set TESSERA_JWT_SECRET", ErrMissingJWTSecret)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: must be at least 32 bytes, got %d", ErrInvalidJWTSecret, len(c.JWTSecret))
	}
	if c.WorkerToken == "" {
		return fmt.Errorf("%w: set TESSERA_WORKER_TOKEN", ErrMissingWorkerToken)
	}
	if len(c.WorkerToken) < 32 {
		return fmt.Errorf("%w: must be at least 32 bytes, got %d", ErrInvalidWorkerToken, len(c.WorkerToken))
	}
	if c.RatePerSec <= 0 || c.RateBurst < 1 {
		return fmt.Errorf("%w: rate_per_sec and rate_burst must be positive", ErrInvalidDispatch)
	}
	return nil
}
