package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Save original environment and restore after test
	originalEnv := saveEnv()
	defer restoreEnv(originalEnv)

	tests := []struct {
		name     string
		env      map[string]string
		validate func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 8080 {
					t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
				}
				if cfg.Server.ShutdownTimeout != 10*time.Second {
					t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
				}
				if cfg.Agent.Mode != "fallback" {
					t.Errorf("Agent.Mode = %q, want fallback", cfg.Agent.Mode)
				}
				if cfg.Agent.BudgetDefault != 5.00 {
					t.Errorf("Agent.BudgetDefault = %v, want 5.00", cfg.Agent.BudgetDefault)
				}
				if cfg.Agent.BudgetMax != 20.00 {
					t.Errorf("Agent.BudgetMax = %v, want 20.00", cfg.Agent.BudgetMax)
				}
				if cfg.Agent.BudgetFallbackMin != 0.10 {
					t.Errorf("Agent.BudgetFallbackMin = %v, want 0.10", cfg.Agent.BudgetFallbackMin)
				}
				if cfg.Agent.ConfidenceThreshold != 0.8 {
					t.Errorf("Agent.ConfidenceThreshold = %v, want 0.8", cfg.Agent.ConfidenceThreshold)
				}
				if cfg.Agent.RunTimeout != 60*time.Second {
					t.Errorf("Agent.RunTimeout = %v, want 60s", cfg.Agent.RunTimeout)
				}
				if cfg.Enterprise.AgentURL != "" {
					t.Errorf("Enterprise.AgentURL = %q, want empty", cfg.Enterprise.AgentURL)
				}
				if cfg.Enterprise.AgentTimeout != 30*time.Second {
					t.Errorf("Enterprise.AgentTimeout = %v, want 30s", cfg.Enterprise.AgentTimeout)
				}
				if cfg.Enterprise.AgentEstimate != 0.05 {
					t.Errorf("Enterprise.AgentEstimate = %v, want 0.05", cfg.Enterprise.AgentEstimate)
				}
				if cfg.Enterprise.MaxAttempts != 3 {
					t.Errorf("Enterprise.MaxAttempts = %d, want 3", cfg.Enterprise.MaxAttempts)
				}
				if cfg.Fallback.AgentCost != 0.001 {
					t.Errorf("Fallback.AgentCost = %v, want 0.001", cfg.Fallback.AgentCost)
				}
				if cfg.Fallback.AgentConfidence != 0.60 {
					t.Errorf("Fallback.AgentConfidence = %v, want 0.60", cfg.Fallback.AgentConfidence)
				}
				if cfg.Validator.MinTextLength != 16 {
					t.Errorf("Validator.MinTextLength = %d, want 16", cfg.Validator.MinTextLength)
				}
				if cfg.Validator.MaxOutputBytes != 65536 {
					t.Errorf("Validator.MaxOutputBytes = %d, want 65536", cfg.Validator.MaxOutputBytes)
				}
				if cfg.NATS.URL != "" {
					t.Errorf("NATS.URL = %q, want empty (sink disabled)", cfg.NATS.URL)
				}
				if cfg.Log.Level != "info" {
					t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
				}
				if cfg.Log.Format != "json" {
					t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
				}
				if cfg.Telemetry.Enable {
					t.Error("Telemetry.Enable = true, want false (disabled by default)")
				}
				if cfg.Telemetry.ServiceName != "agentd" {
					t.Errorf("Telemetry.ServiceName = %q, want agentd", cfg.Telemetry.ServiceName)
				}
				if cfg.Telemetry.Endpoint != "localhost:4317" {
					t.Errorf("Telemetry.Endpoint = %q, want localhost:4317", cfg.Telemetry.Endpoint)
				}
				if cfg.Telemetry.Protocol != "grpc" {
					t.Errorf("Telemetry.Protocol = %q, want grpc", cfg.Telemetry.Protocol)
				}
				if cfg.Telemetry.SamplingRate != 1.0 {
					t.Errorf("Telemetry.SamplingRate = %v, want 1.0", cfg.Telemetry.SamplingRate)
				}
				if !cfg.Telemetry.Insecure {
					t.Error("Telemetry.Insecure = false, want true (local collector default)")
				}
			},
		},
		{
			name: "environment variable overrides",
			env: map[string]string{
				"SERVER_PORT":             "9191",
				"SERVER_SHUTDOWN_TIMEOUT": "5s",
				"AGENT_MODE":              "ensemble",
				"AGENT_BUDGET_DEFAULT":    "2.50",
				"AGENT_BUDGET_MAX":        "10.00",
				"AGENT_RUN_TIMEOUT":       "90s",
				"LOG_LEVEL":               "debug",
				"LOG_FORMAT":              "console",
				"TELEMETRY_ENABLE":        "true",
				"TELEMETRY_SERVICE_NAME":  "test-service",
				"TELEMETRY_ENDPOINT":      "collector.internal:4318",
				"TELEMETRY_PROTOCOL":      "http/protobuf",
				"TELEMETRY_SAMPLING_RATE": "0.25",
				"TELEMETRY_INSECURE":      "false",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 9191 {
					t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
				}
				if cfg.Server.ShutdownTimeout != 5*time.Second {
					t.Errorf("Server.ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
				}
				if cfg.Agent.Mode != "ensemble" {
					t.Errorf("Agent.Mode = %q, want ensemble", cfg.Agent.Mode)
				}
				if cfg.Agent.BudgetDefault != 2.50 {
					t.Errorf("Agent.BudgetDefault = %v, want 2.50", cfg.Agent.BudgetDefault)
				}
				if cfg.Agent.BudgetMax != 10.00 {
					t.Errorf("Agent.BudgetMax = %v, want 10.00", cfg.Agent.BudgetMax)
				}
				if cfg.Agent.RunTimeout != 90*time.Second {
					t.Errorf("Agent.RunTimeout = %v, want 90s", cfg.Agent.RunTimeout)
				}
				if cfg.Log.Level != "debug" {
					t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
				}
				if cfg.Log.Format != "console" {
					t.Errorf("Log.Format = %q, want console", cfg.Log.Format)
				}
				if !cfg.Telemetry.Enable {
					t.Error("Telemetry.Enable = false, want true")
				}
				if cfg.Telemetry.ServiceName != "test-service" {
					t.Errorf("Telemetry.ServiceName = %q, want test-service", cfg.Telemetry.ServiceName)
				}
				if cfg.Telemetry.Endpoint != "collector.internal:4318" {
					t.Errorf("Telemetry.Endpoint = %q, want collector.internal:4318", cfg.Telemetry.Endpoint)
				}
				if cfg.Telemetry.Protocol != "http/protobuf" {
					t.Errorf("Telemetry.Protocol = %q, want http/protobuf", cfg.Telemetry.Protocol)
				}
				if cfg.Telemetry.SamplingRate != 0.25 {
					t.Errorf("Telemetry.SamplingRate = %v, want 0.25", cfg.Telemetry.SamplingRate)
				}
				if cfg.Telemetry.Insecure {
					t.Error("Telemetry.Insecure = true, want false")
				}
			},
		},
		{
			name: "enterprise environment overrides",
			env: map[string]string{
				"ENTERPRISE_AGENT_URL":      "https://agents.example.com/v1/execute",
				"ENTERPRISE_AGENT_TOKEN":    "tok-abc123",
				"ENTERPRISE_AGENT_TIMEOUT":  "15s",
				"ENTERPRISE_AGENT_ESTIMATE": "0.08",
				"ENTERPRISE_MAX_ATTEMPTS":   "5",
				"FALLBACK_AGENT_COST":       "0.002",
				"FALLBACK_AGENT_CONFIDENCE": "0.45",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Enterprise.AgentURL != "https://agents.example.com/v1/execute" {
					t.Errorf("Enterprise.AgentURL = %q, want configured URL", cfg.Enterprise.AgentURL)
				}
				if cfg.Enterprise.AgentToken.Value() != "tok-abc123" {
					t.Error("Enterprise.AgentToken did not round-trip")
				}
				if cfg.Enterprise.AgentToken.String() == "tok-abc123" {
					t.Error("Enterprise.AgentToken.String() leaked the raw token")
				}
				if cfg.Enterprise.AgentTimeout != 15*time.Second {
					t.Errorf("Enterprise.AgentTimeout = %v, want 15s", cfg.Enterprise.AgentTimeout)
				}
				if cfg.Enterprise.AgentEstimate != 0.08 {
					t.Errorf("Enterprise.AgentEstimate = %v, want 0.08", cfg.Enterprise.AgentEstimate)
				}
				if cfg.Enterprise.MaxAttempts != 5 {
					t.Errorf("Enterprise.MaxAttempts = %d, want 5", cfg.Enterprise.MaxAttempts)
				}
				if cfg.Fallback.AgentCost != 0.002 {
					t.Errorf("Fallback.AgentCost = %v, want 0.002", cfg.Fallback.AgentCost)
				}
				if cfg.Fallback.AgentConfidence != 0.45 {
					t.Errorf("Fallback.AgentConfidence = %v, want 0.45", cfg.Fallback.AgentConfidence)
				}
			},
		},
		{
			name: "malformed values fall back to defaults",
			env: map[string]string{
				"SERVER_PORT":          "not-a-number",
				"AGENT_BUDGET_DEFAULT": "lots",
				"AGENT_RUN_TIMEOUT":    "soon",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 8080 {
					t.Errorf("Server.Port = %d, want 8080 fallback", cfg.Server.Port)
				}
				if cfg.Agent.BudgetDefault != 5.00 {
					t.Errorf("Agent.BudgetDefault = %v, want 5.00 fallback", cfg.Agent.BudgetDefault)
				}
				if cfg.Agent.RunTimeout != 60*time.Second {
					t.Errorf("Agent.RunTimeout = %v, want 60s fallback", cfg.Agent.RunTimeout)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear and set environment
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg := Load()
			if cfg == nil {
				t.Fatal("Load() returned nil")
			}

			tt.validate(t, cfg)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port - too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "unknown agent mode",
			mutate:  func(c *Config) { c.Agent.Mode = "turbo" },
			wantErr: true,
		},
		{
			name:    "budget default above max",
			mutate:  func(c *Config) { c.Agent.BudgetDefault = 50.00 },
			wantErr: true,
		},
		{
			name:    "negative fallback min",
			mutate:  func(c *Config) { c.Agent.BudgetFallbackMin = -0.01 },
			wantErr: true,
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Agent.ConfidenceThreshold = 1.2 },
			wantErr: true,
		},
		{
			name:    "zero threshold is allowed",
			mutate:  func(c *Config) { c.Agent.ConfidenceThreshold = 0 },
			wantErr: false,
		},
		{
			name:    "non-positive run timeout",
			mutate:  func(c *Config) { c.Agent.RunTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive enterprise estimate",
			mutate:  func(c *Config) { c.Enterprise.AgentEstimate = 0 },
			wantErr: true,
		},
		{
			name:    "zero enterprise attempts",
			mutate:  func(c *Config) { c.Enterprise.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative fallback cost",
			mutate:  func(c *Config) { c.Fallback.AgentCost = -1 },
			wantErr: true,
		},
		{
			name:    "fallback confidence above one",
			mutate:  func(c *Config) { c.Fallback.AgentConfidence = 1.5 },
			wantErr: true,
		},
		{
			name:    "non-positive max output bytes",
			mutate:  func(c *Config) { c.Validator.MaxOutputBytes = 0 },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name: "empty service name with telemetry enabled",
			mutate: func(c *Config) {
				c.Telemetry.Enable = true
				c.Telemetry.ServiceName = ""
			},
			wantErr: true,
		},
		{
			name: "unknown telemetry protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enable = true
				c.Telemetry.Protocol = "thrift"
			},
			wantErr: true,
		},
		{
			name: "sampling rate above one",
			mutate: func(c *Config) {
				c.Telemetry.Enable = true
				c.Telemetry.SamplingRate = 2
			},
			wantErr: true,
		},
		{
			name:    "telemetry knobs ignored while disabled",
			mutate:  func(c *Config) { c.Telemetry.Protocol = "thrift" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Helper functions to save/restore environment
func saveEnv() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	return env
}

func restoreEnv(env map[string]string) {
	os.Clearenv()
	for k, v := range env {
		os.Setenv(k, v)
	}
}
