// Package catalog lists the models a panel can be run with, the provider
// behind each one, and what they cost.
package catalog

import (
	"sort"
	"strings"
)

// Provider display names.
const (
	ProviderAnthropic = "Anthropic"
	ProviderOpenAI    = "OpenAI"
	ProviderGoogle    = "Google"
	ProviderUnknown   = "Unknown"
)

// Model describes one selectable model.
type Model struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Provider string  `json:"provider"`
	MaxTemp  float64 `json:"max_temperature"`
	// Prices in USD per million tokens.
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

var models = []Model{
	// Anthropic caps temperature at 1.0.
	{"claude-opus-4-6", "Claude Opus 4.6", ProviderAnthropic, 1.0, 5.00, 25.00},
	{"claude-sonnet-4-5-20250929", "Claude Sonnet 4.5", ProviderAnthropic, 1.0, 3.00, 15.00},
	{"claude-haiku-4-5-20251001", "Claude Haiku 4.5", ProviderAnthropic, 1.0, 1.00, 5.00},

	// OpenAI reasoning models are fixed at 1.0.
	{"gpt-5.2", "GPT-5.2", ProviderOpenAI, 2.0, 1.75, 14.00},
	{"gpt-4.1", "GPT-4.1", ProviderOpenAI, 2.0, 2.00, 8.00},
	{"gpt-4.1-mini", "GPT-4.1 Mini", ProviderOpenAI, 2.0, 0.40, 1.60},
	{"gpt-4.1-nano", "GPT-4.1 Nano", ProviderOpenAI, 2.0, 0.10, 0.40},
	{"o3", "o3", ProviderOpenAI, 1.0, 10.00, 40.00},
	{"o3-mini", "o3 Mini", ProviderOpenAI, 1.0, 1.10, 4.40},
	{"o4-mini", "o4 Mini", ProviderOpenAI, 1.0, 1.10, 4.40},

	{"gemini-3-pro-preview", "Gemini 3 Pro", ProviderGoogle, 2.0, 2.00, 12.00},
	{"gemini-3-flash-preview", "Gemini 3 Flash", ProviderGoogle, 2.0, 0.50, 3.00},
	{"gemini-2.5-pro", "Gemini 2.5 Pro", ProviderGoogle, 2.0, 1.25, 10.00},
	{"gemini-2.5-flash", "Gemini 2.5 Flash", ProviderGoogle, 2.0, 0.30, 2.50},
	{"gemini-2.5-flash-lite", "Gemini 2.5 Flash Lite", ProviderGoogle, 2.0, 0.10, 0.40},
}

// All returns every known model in display order.
func All() []Model {
	return append([]Model(nil), models...)
}

// Lookup returns the catalog entry for a model ID.
func Lookup(id string) (Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// ProviderOf returns the provider for a model, inferring it from the ID
// prefix when the model is not in the catalog.
func ProviderOf(model string) string {
	if m, ok := Lookup(model); ok {
		return m.Provider
	}
	switch {
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "gemini"):
		return ProviderGoogle
	}
	return ProviderUnknown
}

// KeyName maps a provider to the name its API key is sent under.
func KeyName(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "anthropic"
	case ProviderOpenAI:
		return "openai"
	case ProviderGoogle:
		return "google"
	}
	return ""
}

// KeyFor returns the API key that serves the model, or "" if none is set.
func KeyFor(keys map[string]string, model string) string {
	name := KeyName(ProviderOf(model))
	if name == "" {
		return ""
	}
	return keys[name]
}

// MaxTemperature returns the highest temperature the model accepts.
func MaxTemperature(model string) float64 {
	if m, ok := Lookup(model); ok {
		return m.MaxTemp
	}
	return 1.0
}

// ClampTemperatures limits every temperature to the model's maximum.
func ClampTemperatures(temps map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(temps))
	for model, t := range temps {
		if limit := MaxTemperature(model); t > limit {
			t = limit
		}
		if t < 0 {
			t = 0
		}
		out[model] = t
	}
	return out
}

// HasRequiredSettings reports whether a run is possible: at least one key
// is set and at least one selected model has a key for its provider.
func HasRequiredSettings(keys map[string]string, selected []string) bool {
	if len(selected) == 0 {
		return false
	}
	for _, model := range selected {
		if KeyFor(keys, model) != "" {
			return true
		}
	}
	return false
}

// Providers returns the provider names that appear in the catalog, sorted.
func Providers() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			names = append(names, m.Provider)
		}
	}
	sort.Strings(names)
	return names
}
