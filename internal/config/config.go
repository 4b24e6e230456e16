// Package config handles application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/session"
	"github.com/mosaictheory-jt/panel-chat/internal/storage"
)

// Config represents the application configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Defaults      DefaultsConfig     `yaml:"defaults"`
	APIKeys       map[string]string  `yaml:"api_keys,omitempty"`
	Temperatures  map[string]float64 `yaml:"temperatures,omitempty"`
	PersonaMemory bool               `yaml:"persona_memory"`
	Dashboard     DashboardConfig    `yaml:"dashboard,omitempty"`
	Storage       StorageConfig      `yaml:"storage,omitempty"`
}

// ServerConfig points at the panel backend.
type ServerConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultsConfig holds the settings used when a question is asked without flags.
type DefaultsConfig struct {
	Mode          core.Mode    `yaml:"mode"`
	PanelSize     int          `yaml:"panel_size"`
	Rounds        int          `yaml:"rounds"`
	Models        []string     `yaml:"models"`
	AnalyzerModel string       `yaml:"analyzer_model"`
	Filters       core.Filters `yaml:"filters,omitempty"`
}

// DashboardConfig holds local dashboard settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig holds local history settings.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            "http://localhost:8000",
			RequestTimeout: 2 * time.Minute,
		},
		Defaults: DefaultsConfig{
			Mode:          core.ModeSurvey,
			PanelSize:     5,
			Rounds:        3,
			Models:        []string{"gemini-2.5-flash"},
			AnalyzerModel: "gemini-2.5-flash",
		},
		APIKeys:      make(map[string]string),
		Temperatures: make(map[string]float64),
		Dashboard: DashboardConfig{
			Port: 8183,
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom loads configuration from a specific path, then applies overrides
// from a .env file in the working directory and from the process environment.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file, proceed with defaults
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Merge with defaults for anything the file left empty
	defaults := Default()
	if cfg.APIKeys == nil {
		cfg.APIKeys = defaults.APIKeys
	}
	if cfg.Temperatures == nil {
		cfg.Temperatures = defaults.Temperatures
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaults.Server.URL
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if cfg.Dashboard.Port == 0 {
		cfg.Dashboard.Port = defaults.Dashboard.Port
	}
	if cfg.Defaults.Mode == "" {
		cfg.Defaults.Mode = defaults.Defaults.Mode
	}
	if len(cfg.Defaults.Models) == 0 {
		cfg.Defaults.Models = defaults.Defaults.Models
	}
	if cfg.Defaults.AnalyzerModel == "" {
		cfg.Defaults.AnalyzerModel = defaults.Defaults.AnalyzerModel
	}

	// Apply .env overrides if file exists, then the real environment
	if env, err := LoadEnv(".env"); err == nil {
		ApplyEnvOverrides(cfg, env)
	}
	ApplyEnvOverrides(cfg, ProcessEnv())

	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server url: %q", c.Server.URL)
	}
	if !c.Defaults.Mode.Valid() {
		return fmt.Errorf("invalid default mode: %q", c.Defaults.Mode)
	}
	if c.Defaults.PanelSize < 1 {
		return fmt.Errorf("panel size must be at least 1, got %d", c.Defaults.PanelSize)
	}
	if c.Defaults.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", c.Defaults.Rounds)
	}
	for model, t := range c.Temperatures {
		if t < 0 {
			return fmt.Errorf("temperature for %s must not be negative", model)
		}
	}
	return nil
}

// Settings returns the preferences the session controller applies to runs.
func (c *Config) Settings() session.Settings {
	keys := make(map[string]string, len(c.APIKeys))
	for k, v := range c.APIKeys {
		keys[k] = v
	}
	return session.Settings{
		APIKeys:       keys,
		Temperatures:  catalog.ClampTemperatures(c.Temperatures),
		PersonaMemory: c.PersonaMemory,
		AnalyzerModel: c.Defaults.AnalyzerModel,
	}
}

// StoragePath returns the history database path.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return storage.DefaultDBPath()
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigPath())
}

// SaveTo saves the configuration to a specific path. The file may hold API
// keys, so it is only readable by the owner.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Redacted returns a copy with API keys masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.APIKeys = make(map[string]string, len(c.APIKeys))
	for k, v := range c.APIKeys {
		if v == "" {
			out.APIKeys[k] = ""
			continue
		}
		if len(v) <= 8 {
			out.APIKeys[k] = "****"
			continue
		}
		out.APIKeys[k] = v[:4] + "..." + v[len(v)-4:]
	}
	return &out
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "panel-chat.yaml"
	}
	return filepath.Join(home, ".panel-chat", "config.yaml")
}

// GenerateExample generates an example configuration file.
func GenerateExample() string {
	example := `# panel-chat configuration file
# Place this file at ~/.panel-chat/config.yaml

server:
  url: http://localhost:8000   # Panel backend
  request_timeout: 2m          # Timeout for REST calls

defaults:
  mode: survey                 # survey or debate
  panel_size: 5                # Respondents drawn per question
  rounds: 3                    # Debate rounds (ignored for surveys)
  models: ["gemini-2.5-flash"] # Models every panelist answers with
  analyzer_model: gemini-2.5-flash
  filters:                     # Optional respondent filters
    industry: ["Retail", "Finance"]

# Provider keys. Environment variables ANTHROPIC_API_KEY, OPENAI_API_KEY
# and GOOGLE_API_KEY take precedence.
api_keys:
  anthropic: ""
  openai: ""
  google: ""

# Per-model temperature, clamped to each model's maximum
temperatures:
  gemini-2.5-flash: 0.7

persona_memory: false          # Let panelists remember earlier sessions

dashboard:
  port: 8183

storage:
  path: ""                     # Defaults to ~/.panel-chat/history.db
`
	return example
}
