// Package config provides configuration loading for agentd.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional YAML file can be layered underneath the environment via
// LoadWithFile. Credential material is held in the Secret type so it is
// redacted in every serialized form.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete agentd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Agent      AgentConfig      `koanf:"agent"`
	Enterprise EnterpriseConfig `koanf:"enterprise"`
	Fallback   FallbackConfig   `koanf:"fallback"`
	Validator  ValidatorConfig  `koanf:"validator"`
	NATS       NATSConfig       `koanf:"nats"`
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AgentConfig holds coordination defaults: execution mode, budget bounds,
// confidence threshold, and the per-run deadline.
type AgentConfig struct {
	Mode                string        `koanf:"mode"`
	BudgetDefault       float64       `koanf:"budget_default"`
	BudgetMax           float64       `koanf:"budget_max"`
	BudgetFallbackMin   float64       `koanf:"budget_fallback_min"`
	ConfidenceThreshold float64       `koanf:"confidence_threshold"`
	RunTimeout          time.Duration `koanf:"run_timeout"`
}

// EnterpriseConfig holds the remote enterprise agent endpoint settings.
// The bearer token is a Secret and never appears in logs or marshaled output.
type EnterpriseConfig struct {
	AgentURL      string        `koanf:"agent_url"`
	AgentToken    Secret        `koanf:"agent_token"`
	AgentTimeout  time.Duration `koanf:"agent_timeout"`
	AgentEstimate float64       `koanf:"agent_estimate"`
	MaxAttempts   int           `koanf:"max_attempts"`
	RateLimit     float64       `koanf:"rate_limit"`
	RateBurst     int           `koanf:"rate_burst"`
}

// FallbackConfig holds the in-process fallback agent settings.
type FallbackConfig struct {
	AgentCost       float64 `koanf:"agent_cost"`
	AgentConfidence float64 `koanf:"agent_confidence"`
}

// ValidatorConfig holds output validation bounds.
type ValidatorConfig struct {
	MinTextLength  int    `koanf:"min_text_length"`
	MaxOutputBytes int    `koanf:"max_output_bytes"`
	AllowlistPath  string `koanf:"allowlist_path"`
}

// NATSConfig holds the observability sink transport.
// An empty URL disables the sink.
type NATSConfig struct {
	URL string `koanf:"url"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings. Exporter batching
// and shutdown behavior keep their defaults in internal/telemetry.
type TelemetryConfig struct {
	Enable       bool    `koanf:"enable"`
	ServiceName  string  `koanf:"service_name"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	SamplingRate float64 `koanf:"sampling_rate"`
	Insecure     bool    `koanf:"insecure"`
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - SERVER_PORT: HTTP server port (default: 8080)
//   - SERVER_SHUTDOWN_TIMEOUT: Graceful shutdown timeout (default: 10s)
//   - AGENT_MODE: Default execution mode single|fallback|ensemble (default: fallback)
//   - AGENT_BUDGET_DEFAULT: Default scope ceiling in USD (default: 5.00)
//   - AGENT_BUDGET_MAX: Hard ceiling cap in USD (default: 20.00)
//   - AGENT_BUDGET_FALLBACK_MIN: Minimum remaining budget to attempt the fallback leg (default: 0.10)
//   - AGENT_CONFIDENCE_THRESHOLD: Default confidence threshold (default: 0.8)
//   - AGENT_RUN_TIMEOUT: Coordinator run deadline (default: 60s)
//   - ENTERPRISE_AGENT_URL: Enterprise agent endpoint (required; the daemon refuses to start without it)
//   - ENTERPRISE_AGENT_TOKEN: Bearer token for the enterprise endpoint
//   - ENTERPRISE_AGENT_TIMEOUT: Per-call deadline (default: 30s)
//   - ENTERPRISE_AGENT_ESTIMATE: Reservation estimate in USD (default: 0.05)
//   - ENTERPRISE_MAX_ATTEMPTS: Max transport attempts per call (default: 3)
//   - ENTERPRISE_RATE_LIMIT: Client-side requests per second (default: 10)
//   - ENTERPRISE_RATE_BURST: Client-side burst size (default: 10)
//   - FALLBACK_AGENT_COST: Flat fallback cost in USD (default: 0.001)
//   - FALLBACK_AGENT_CONFIDENCE: Fixed fallback confidence (default: 0.60)
//   - VALIDATOR_MIN_TEXT_LENGTH: Minimum length for text output (default: 16)
//   - VALIDATOR_MAX_OUTPUT_BYTES: Maximum accepted output size (default: 65536)
//   - VALIDATOR_ALLOWLIST_PATH: Optional TOML allowlist for secret detection
//   - NATS_URL: Run-event sink transport (empty disables the sink)
//   - LOG_LEVEL: Minimum log level debug|info|warn|error (default: info)
//   - LOG_FORMAT: Log encoding json|console (default: json)
//   - TELEMETRY_ENABLE: Enable OpenTelemetry export (default: false)
//   - TELEMETRY_SERVICE_NAME: Service name on exported telemetry (default: agentd)
//   - TELEMETRY_ENDPOINT: OTLP collector endpoint (default: localhost:4317)
//   - TELEMETRY_PROTOCOL: OTLP transport grpc|http/protobuf (default: grpc)
//   - TELEMETRY_SAMPLING_RATE: Trace sampling rate in [0, 1] (default: 1.0)
//   - TELEMETRY_INSECURE: Plaintext OTLP transport, local endpoints only (default: true)
//
// Example:
//
//	cfg := config.Load()
//	fmt.Println("Server port:", cfg.Server.Port)
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Agent: AgentConfig{
			Mode:                getEnvString("AGENT_MODE", "fallback"),
			BudgetDefault:       getEnvFloat("AGENT_BUDGET_DEFAULT", 5.00),
			BudgetMax:           getEnvFloat("AGENT_BUDGET_MAX", 20.00),
			BudgetFallbackMin:   getEnvFloat("AGENT_BUDGET_FALLBACK_MIN", 0.10),
			ConfidenceThreshold: getEnvFloat("AGENT_CONFIDENCE_THRESHOLD", 0.8),
			RunTimeout:          getEnvDuration("AGENT_RUN_TIMEOUT", 60*time.Second),
		},
		Enterprise: EnterpriseConfig{
			AgentURL:      getEnvString("ENTERPRISE_AGENT_URL", ""),
			AgentToken:    Secret(os.Getenv("ENTERPRISE_AGENT_TOKEN")),
			AgentTimeout:  getEnvDuration("ENTERPRISE_AGENT_TIMEOUT", 30*time.Second),
			AgentEstimate: getEnvFloat("ENTERPRISE_AGENT_ESTIMATE", 0.05),
			MaxAttempts:   getEnvInt("ENTERPRISE_MAX_ATTEMPTS", 3),
			RateLimit:     getEnvFloat("ENTERPRISE_RATE_LIMIT", 10),
			RateBurst:     getEnvInt("ENTERPRISE_RATE_BURST", 10),
		},
		Fallback: FallbackConfig{
			AgentCost:       getEnvFloat("FALLBACK_AGENT_COST", 0.001),
			AgentConfidence: getEnvFloat("FALLBACK_AGENT_CONFIDENCE", 0.60),
		},
		Validator: ValidatorConfig{
			MinTextLength:  getEnvInt("VALIDATOR_MIN_TEXT_LENGTH", 16),
			MaxOutputBytes: getEnvInt("VALIDATOR_MAX_OUTPUT_BYTES", 65536),
			AllowlistPath:  getEnvString("VALIDATOR_ALLOWLIST_PATH", ""),
		},
		NATS: NATSConfig{
			URL: getEnvString("NATS_URL", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Telemetry: TelemetryConfig{
			Enable:       getEnvBool("TELEMETRY_ENABLE", false),
			ServiceName:  getEnvString("TELEMETRY_SERVICE_NAME", "agentd"),
			Endpoint:     getEnvString("TELEMETRY_ENDPOINT", "localhost:4317"),
			Protocol:     getEnvString("TELEMETRY_PROTOCOL", "grpc"),
			SamplingRate: getEnvFloat("TELEMETRY_SAMPLING_RATE", 1.0),
			// Plaintext is only accepted for local endpoints; telemetry
			// validation rejects an insecure remote collector.
			Insecure: getEnvBool("TELEMETRY_INSECURE", true),
		},
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown or run timeouts are not positive
//   - Agent mode is not single, fallback, or ensemble
//   - Budget bounds are non-positive or default exceeds max
//   - Confidence values are outside [0, 1]
//   - Enterprise or validator bounds are non-positive
//   - Log level or format is unknown
//   - Telemetry is enabled with an invalid endpoint, protocol, or sampling rate
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Agent.Mode {
	case "single", "fallback", "ensemble":
	default:
		return fmt.Errorf("invalid agent mode: %q (must be single, fallback, or ensemble)", c.Agent.Mode)
	}
	if c.Agent.BudgetDefault <= 0 {
		return fmt.Errorf("agent budget_default must be positive, got %v", c.Agent.BudgetDefault)
	}
	if c.Agent.BudgetMax <= 0 {
		return fmt.Errorf("agent budget_max must be positive, got %v", c.Agent.BudgetMax)
	}
	if c.Agent.BudgetDefault > c.Agent.BudgetMax {
		return fmt.Errorf("agent budget_default %v exceeds budget_max %v", c.Agent.BudgetDefault, c.Agent.BudgetMax)
	}
	if c.Agent.BudgetFallbackMin < 0 {
		return fmt.Errorf("agent budget_fallback_min must not be negative, got %v", c.Agent.BudgetFallbackMin)
	}
	if c.Agent.ConfidenceThreshold < 0 || c.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("agent confidence_threshold must be in [0, 1], got %v", c.Agent.ConfidenceThreshold)
	}
	if c.Agent.RunTimeout <= 0 {
		return errors.New("agent run_timeout must be positive")
	}

	if c.Enterprise.AgentTimeout <= 0 {
		return errors.New("enterprise agent_timeout must be positive")
	}
	if c.Enterprise.AgentEstimate <= 0 {
		return fmt.Errorf("enterprise agent_estimate must be positive, got %v", c.Enterprise.AgentEstimate)
	}
	if c.Enterprise.MaxAttempts < 1 {
		return fmt.Errorf("enterprise max_attempts must be at least 1, got %d", c.Enterprise.MaxAttempts)
	}
	if c.Enterprise.RateLimit <= 0 {
		return fmt.Errorf("enterprise rate_limit must be positive, got %v", c.Enterprise.RateLimit)
	}
	if c.Enterprise.RateBurst < 1 {
		return fmt.Errorf("enterprise rate_burst must be at least 1, got %d", c.Enterprise.RateBurst)
	}

	if c.Fallback.AgentCost < 0 {
		return fmt.Errorf("fallback agent_cost must not be negative, got %v", c.Fallback.AgentCost)
	}
	if c.Fallback.AgentConfidence < 0 || c.Fallback.AgentConfidence > 1 {
		return fmt.Errorf("fallback agent_confidence must be in [0, 1], got %v", c.Fallback.AgentConfidence)
	}

	if c.Validator.MinTextLength < 0 {
		return fmt.Errorf("validator min_text_length must not be negative, got %d", c.Validator.MinTextLength)
	}
	if c.Validator.MaxOutputBytes <= 0 {
		return fmt.Errorf("validator max_output_bytes must be positive, got %d", c.Validator.MaxOutputBytes)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Log.Format)
	}

	if c.Telemetry.Enable {
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry service_name required when telemetry is enabled")
		}
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry endpoint required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("invalid telemetry protocol: %q (must be grpc or http/protobuf)", c.Telemetry.Protocol)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry sampling_rate must be in [0, 1], got %v", c.Telemetry.SamplingRate)
		}
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
