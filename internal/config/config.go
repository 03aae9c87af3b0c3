// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Viewport describes the browser window dimensions in CSS pixels.
type Viewport struct {
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// BrowserConfig controls the Chromium instance driven by the agent.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Viewport          Viewport      `mapstructure:"viewport" yaml:"viewport"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// AgentConfig controls the decision loop.
type AgentConfig struct {
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	CompactThreshold  int           `mapstructure:"compact_threshold" yaml:"compact_threshold"`
	CompactKeepRecent int           `mapstructure:"compact_keep_recent" yaml:"compact_keep_recent"`
	StuckRepeatLimit  int           `mapstructure:"stuck_repeat_limit" yaml:"stuck_repeat_limit"`
	SaveScreenshots   bool          `mapstructure:"save_screenshots" yaml:"save_screenshots"`
}

// LLMConfig controls the structured caller and its providers.
type LLMConfig struct {
	Model         string  `mapstructure:"model" yaml:"model"`
	FallbackModel string  `mapstructure:"fallback_model" yaml:"fallback_model"`
	MaxTokens     int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxRetries    int     `mapstructure:"max_retries" yaml:"max_retries"`
	// RequestsPerSecond bounds the call rate against a single provider.
	// Zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// SessionConfig controls checkpoint persistence.
type SessionConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig builds a Config populated with the documented defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every configuration default on the given viper.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pilot-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Agent --
	v.SetDefault("agent.max_steps", 0) // 0 = unlimited
	v.SetDefault("agent.timeout", "30m")
	v.SetDefault("agent.settle_delay", "2s")
	v.SetDefault("agent.compact_threshold", 50)
	v.SetDefault("agent.compact_keep_recent", 10)
	v.SetDefault("agent.stuck_repeat_limit", 5)
	v.SetDefault("agent.save_screenshots", true)

	// -- LLM --
	v.SetDefault("llm.model", "openai/gpt-4o")
	v.SetDefault("llm.fallback_model", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 1.0)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_second", 0)

	// -- Session --
	v.SetDefault("session.dir", "")
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures deep inside the loop.
func (c *Config) Validate() error {
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive, got %dx%d",
			c.Browser.Viewport.Width, c.Browser.Viewport.Height)
	}
	if c.Agent.MaxSteps < 0 {
		return fmt.Errorf("agent.max_steps must be >= 0 (0 = unlimited), got %d", c.Agent.MaxSteps)
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive, got %s", c.Agent.Timeout)
	}
	if c.Agent.CompactKeepRecent <= 0 || c.Agent.CompactThreshold <= c.Agent.CompactKeepRecent {
		return fmt.Errorf("agent.compact_threshold (%d) must exceed agent.compact_keep_recent (%d > 0)",
			c.Agent.CompactThreshold, c.Agent.CompactKeepRecent)
	}
	if c.Agent.StuckRepeatLimit < 2 {
		return fmt.Errorf("agent.stuck_repeat_limit must be >= 2, got %d", c.Agent.StuckRepeatLimit)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.MaxRetries < 1 {
		return fmt.Errorf("llm.max_retries must be >= 1, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	return nil
}

// SessionsDir resolves the directory where session checkpoints live.
// An explicit session.dir wins; otherwise sessions go under the user home.
func (c *Config) SessionsDir() (string, error) {
	if c.Session.Dir != "" {
		return c.Session.Dir, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory for sessions: %w", err)
	}
	return filepath.Join(home, ".pilot", "sessions"), nil
}
