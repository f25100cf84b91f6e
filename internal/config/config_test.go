// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Agent.MaxRounds)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Model.BaseURL, cfg.Model.BaseURL)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskchat.toml")
	data := `
[server]
port = 9090

[model]
base_url = "http://localhost:11434/v1"
model = "llama3.1"

[agent]
max_rounds = 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Model.BaseURL)
	assert.Equal(t, "llama3.1", cfg.Model.Model)
	assert.Equal(t, 3, cfg.Agent.MaxRounds)
	// Untouched sections keep defaults.
	assert.Equal(t, Default().Store.Path, cfg.Store.Path)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TASKCHAT_PORT", "7070")
	t.Setenv("TASKCHAT_API_KEY", "sk-test")
	t.Setenv("TASKCHAT_MODEL", "gpt-4o")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Model.Model)
}

func TestOpenAIKeyFallback(t *testing.T) {
	t.Setenv("TASKCHAT_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "sk-fallback", cfg.Model.APIKey)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Model.Model = ""
	cfg.Agent.MaxRounds = 0

	errs := cfg.Validate()
	require.Len(t, errs, 3)
	assert.Equal(t, "server.port", errs[0].Field)
}

func TestStringRedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "sk-secret"
	assert.NotContains(t, cfg.String(), "sk-secret")
	assert.Contains(t, cfg.String(), "[REDACTED]")
}
