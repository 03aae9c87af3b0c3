// File: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 1280, cfg.Browser.Viewport.Width)
	assert.Equal(t, 720, cfg.Browser.Viewport.Height)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "openai/gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 50, cfg.Agent.CompactThreshold)
	assert.Equal(t, 10, cfg.Agent.CompactKeepRecent)
	assert.Equal(t, 5, cfg.Agent.StuckRepeatLimit)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"zero viewport":          func(c *Config) { c.Browser.Viewport.Width = 0 },
		"negative max steps":     func(c *Config) { c.Agent.MaxSteps = -1 },
		"zero timeout":           func(c *Config) { c.Agent.Timeout = 0 },
		"keep >= threshold":      func(c *Config) { c.Agent.CompactKeepRecent = c.Agent.CompactThreshold },
		"stuck limit too low":    func(c *Config) { c.Agent.StuckRepeatLimit = 1 },
		"missing model":          func(c *Config) { c.LLM.Model = "" },
		"zero retries":           func(c *Config) { c.LLM.MaxRetries = 0 },
		"non-positive max tokens": func(c *Config) { c.LLM.MaxTokens = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSessionsDirExplicitOverride(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Session.Dir = "/tmp/pilot-sessions"

	dir, err := cfg.SessionsDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pilot-sessions", dir)
}

func TestSessionsDirDefaultsUnderHome(t *testing.T) {
	cfg := NewDefaultConfig()

	dir, err := cfg.SessionsDir()
	require.NoError(t, err)
	assert.Contains(t, dir, ".pilot")
}
