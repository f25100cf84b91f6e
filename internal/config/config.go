// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides TOML configuration for the taskchat service.
//
// Precedence, lowest to highest: built-in defaults, the TOML config file,
// TASKCHAT_* environment variables. Secrets (the model API key) are expected
// to arrive via the environment in production; the file is for everything
// else.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config is the root configuration for the service.
type Config struct {
	Server ServerConfig `toml:"server"`
	Model  ModelConfig  `toml:"model"`
	Store  StoreConfig  `toml:"store"`
	Agent  AgentConfig  `toml:"agent"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Port to listen on (1-65535)
	Port int `toml:"port"`

	// RateLimitRPS is the sustained per-client request rate.
	RateLimitRPS float64 `toml:"rate_limit_rps"`

	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst"`

	// WriteTimeoutSecs bounds a whole request, including the model rounds.
	WriteTimeoutSecs int `toml:"write_timeout_secs"`
}

// ModelConfig controls the upstream chat-completion endpoint.
type ModelConfig struct {
	// BaseURL of an OpenAI-compatible API, without trailing slash.
	BaseURL string `toml:"base_url"`

	// APIKey for the upstream endpoint. Prefer TASKCHAT_API_KEY.
	APIKey string `toml:"api_key"`

	// Model identifier sent with every completion request.
	Model string `toml:"model"`

	// TimeoutSecs bounds a single completion round-trip.
	TimeoutSecs int `toml:"timeout_secs"`
}

// StoreConfig controls SQLite persistence.
type StoreConfig struct {
	// Path to the SQLite database file.
	Path string `toml:"path"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	// MaxRounds caps model/tool rounds per request.
	MaxRounds int `toml:"max_rounds"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a config with sensible defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			RateLimitRPS:     5,
			RateLimitBurst:   10,
			WriteTimeoutSecs: 120,
		},
		Model: ModelConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 60,
		},
		Store: StoreConfig{
			Path: "taskchat.db",
		},
		Agent: AgentConfig{
			MaxRounds: 5,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file at path, falling back to defaults when the file
// does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnvOverrides()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

// ApplyEnvOverrides applies TASKCHAT_* environment variables on top of the
// loaded values. OPENAI_API_KEY is honored as a fallback for the model key.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TASKCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("TASKCHAT_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("TASKCHAT_API_KEY"); v != "" {
		c.Model.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Model.APIKey == "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("TASKCHAT_MODEL"); v != "" {
		c.Model.Model = v
	}
	if v := os.Getenv("TASKCHAT_DB_PATH"); v != "" {
		c.Store.Path = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidateErrors collects all validation failures from one pass.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the config and returns every problem found, or nil.
func (c *Config) Validate() ValidateErrors {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", fmt.Sprintf("must be 1-65535, got %d", c.Server.Port)})
	}
	if c.Server.RateLimitRPS <= 0 {
		errs = append(errs, ValidationError{"server.rate_limit_rps", "must be positive"})
	}
	if c.Server.RateLimitBurst < 1 {
		errs = append(errs, ValidationError{"server.rate_limit_burst", "must be at least 1"})
	}
	if c.Model.BaseURL == "" {
		errs = append(errs, ValidationError{"model.base_url", "must not be empty"})
	}
	if strings.HasSuffix(c.Model.BaseURL, "/") {
		errs = append(errs, ValidationError{"model.base_url", "must not end with a slash"})
	}
	if c.Model.Model == "" {
		errs = append(errs, ValidationError{"model.model", "must not be empty"})
	}
	if c.Model.TimeoutSecs < 1 {
		errs = append(errs, ValidationError{"model.timeout_secs", "must be at least 1"})
	}
	if c.Store.Path == "" {
		errs = append(errs, ValidationError{"store.path", "must not be empty"})
	}
	if c.Agent.MaxRounds < 1 {
		errs = append(errs, ValidationError{"agent.max_rounds", "must be at least 1"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ModelTimeout returns the completion round-trip timeout as a duration.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSecs) * time.Second
}

// WriteTimeout returns the HTTP write timeout as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSecs) * time.Second
}

// String renders the config for logs with the API key redacted.
func (c *Config) String() string {
	key := "(unset)"
	if c.Model.APIKey != "" {
		key = "[REDACTED]"
	}
	return fmt.Sprintf("server.port=%d model.base_url=%s model.model=%s model.api_key=%s store.path=%s agent.max_rounds=%d",
		c.Server.Port, c.Model.BaseURL, c.Model.Model, key, c.Store.Path, c.Agent.MaxRounds)
}
