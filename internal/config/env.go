package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mosaictheory-jt/panel-chat/internal/catalog"
)

// Environment keys recognized by ApplyEnvOverrides.
const (
	EnvServerURL      = "SERVER_URL"
	EnvPanelSize      = "PANEL_SIZE"
	EnvDebateRounds   = "DEBATE_ROUNDS"
	EnvAnalyzerModel  = "ANALYZER_MODEL"
	EnvAnthropicKey   = "ANTHROPIC_API_KEY"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvGoogleKey      = "GOOGLE_API_KEY"
	EnvPersonaMemory  = "PERSONA_MEMORY"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvDashboardPort  = "DASHBOARD_PORT"
)

var envKeys = []string{
	EnvServerURL, EnvPanelSize, EnvDebateRounds, EnvAnalyzerModel,
	EnvAnthropicKey, EnvOpenAIKey, EnvGoogleKey,
	EnvPersonaMemory, EnvRequestTimeout, EnvDashboardPort,
}

var keyEnv = map[string]string{
	EnvAnthropicKey: catalog.KeyName(catalog.ProviderAnthropic),
	EnvOpenAIKey:    catalog.KeyName(catalog.ProviderOpenAI),
	EnvGoogleKey:    catalog.KeyName(catalog.ProviderGoogle),
}

// LoadEnv reads a .env file and returns a map of key-value pairs.
func LoadEnv(path string) (map[string]string, error) {
	return godotenv.Read(path)
}

// ProcessEnv returns the recognized keys that are set in the environment.
func ProcessEnv() map[string]string {
	env := make(map[string]string)
	for _, key := range envKeys {
		if val, ok := os.LookupEnv(key); ok {
			env[key] = val
		}
	}
	return env
}

// ApplyEnvOverrides updates the configuration based on environment variables.
// Values that do not parse are ignored.
func ApplyEnvOverrides(cfg *Config, env map[string]string) {
	// Server
	if val, ok := env[EnvServerURL]; ok && val != "" {
		cfg.Server.URL = strings.TrimRight(val, "/")
	}
	if val, ok := env[EnvRequestTimeout]; ok {
		if seconds, err := strconv.Atoi(val); err == nil {
			cfg.Server.RequestTimeout = time.Duration(seconds) * time.Second
		} else if duration, err := time.ParseDuration(val); err == nil {
			cfg.Server.RequestTimeout = duration
		}
	}
	if val, ok := env[EnvDashboardPort]; ok {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Dashboard.Port = port
		}
	}

	// Defaults
	if val, ok := env[EnvPanelSize]; ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Defaults.PanelSize = n
		}
	}
	if val, ok := env[EnvDebateRounds]; ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Defaults.Rounds = n
		}
	}
	if val, ok := env[EnvAnalyzerModel]; ok && val != "" {
		cfg.Defaults.AnalyzerModel = val
	}
	if val, ok := env[EnvPersonaMemory]; ok {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.PersonaMemory = b
		}
	}

	// Provider keys
	if cfg.APIKeys == nil {
		cfg.APIKeys = make(map[string]string)
	}
	for envKey, name := range keyEnv {
		if val, ok := env[envKey]; ok && val != "" {
			cfg.APIKeys[name] = val
		}
	}
}
