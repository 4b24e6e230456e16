package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFilterSpec parses one filter specification and applies it to f.
// Format: attribute=value[|value...]
//
// Examples:
//   - "region=Europe" -> Region: ["Europe"]
//   - "role=Data Engineer|Analytics Engineer" -> Role: ["Data Engineer", "Analytics Engineer"]
func ParseFilterSpec(f *Filters, spec string) error {
	if spec == "" {
		return fmt.Errorf("filter spec cannot be empty")
	}

	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("filter spec must be attribute=value: %s", spec)
	}

	key := strings.TrimSpace(parts[0])
	var values []string
	for _, v := range strings.Split(parts[1], "|") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("filter %s has no values", key)
	}

	return f.Set(key, values)
}

// ParseFilterSpecs parses several filter specifications into one Filters value.
func ParseFilterSpecs(specs []string) (Filters, error) {
	var f Filters
	for _, spec := range specs {
		if err := ParseFilterSpec(&f, spec); err != nil {
			return Filters{}, err
		}
	}
	return f, nil
}

// ParseTemperatures parses per-model temperature settings.
// Format: model=temperature[,model=temperature...]
func ParseTemperatures(specsStr string) (map[string]float64, error) {
	temps := make(map[string]float64)
	if strings.TrimSpace(specsStr) == "" {
		return temps, nil
	}

	for _, spec := range strings.Split(specsStr, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("temperature spec must be model=value: %s", spec)
		}
		model := strings.TrimSpace(parts[0])
		if model == "" {
			return nil, fmt.Errorf("model cannot be empty in spec: %s", spec)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature for %s: %w", model, err)
		}
		if value < 0 {
			return nil, fmt.Errorf("temperature for %s must not be negative", model)
		}
		temps[model] = value
	}

	return temps, nil
}
