package core

import (
	"fmt"
	"strings"
)

// DisplayName renders a short description such as
// "Data Engineer @ Retail (1000+, Europe)".
func (r Respondent) DisplayName() string {
	parts := []string{deref(r.Role, "Unknown")}
	if v := deref(r.Industry, ""); v != "" {
		parts = append(parts, "@ "+v)
	}

	var extras []string
	if v := deref(r.OrgSize, ""); v != "" {
		extras = append(extras, v)
	}
	if v := deref(r.Region, ""); v != "" {
		extras = append(extras, v)
	}
	if len(extras) > 0 {
		parts = append(parts, fmt.Sprintf("(%s)", strings.Join(extras, ", ")))
	}
	return strings.Join(parts, " ")
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

// Filters restrict which respondents may be drawn into a panel.
type Filters struct {
	Role              []string `json:"role,omitempty" yaml:"role,omitempty"`
	OrgSize           []string `json:"org_size,omitempty" yaml:"org_size,omitempty"`
	Industry          []string `json:"industry,omitempty" yaml:"industry,omitempty"`
	Region            []string `json:"region,omitempty" yaml:"region,omitempty"`
	AIUsageFrequency  []string `json:"ai_usage_frequency,omitempty" yaml:"ai_usage_frequency,omitempty"`
	ArchitectureTrend []string `json:"architecture_trend,omitempty" yaml:"architecture_trend,omitempty"`
}

// FilterKeys lists the attribute names accepted by Set, in wire order.
var FilterKeys = []string{"role", "org_size", "industry", "region", "ai_usage_frequency", "architecture_trend"}

func (f *Filters) field(key string) (*[]string, bool) {
	switch key {
	case "role":
		return &f.Role, true
	case "org_size":
		return &f.OrgSize, true
	case "industry":
		return &f.Industry, true
	case "region":
		return &f.Region, true
	case "ai_usage_frequency":
		return &f.AIUsageFrequency, true
	case "architecture_trend":
		return &f.ArchitectureTrend, true
	}
	return nil, false
}

// Set replaces the values for one attribute. An empty list clears it.
func (f *Filters) Set(key string, values []string) error {
	dst, ok := f.field(key)
	if !ok {
		return fmt.Errorf("unknown filter attribute: %s", key)
	}
	if len(values) == 0 {
		*dst = nil
		return nil
	}
	*dst = append([]string(nil), values...)
	return nil
}

// Active returns only the attributes that carry values, or nil when none do.
func (f Filters) Active() map[string][]string {
	active := make(map[string][]string)
	for _, key := range FilterKeys {
		dst, _ := f.field(key)
		if len(*dst) > 0 {
			active[key] = *dst
		}
	}
	if len(active) == 0 {
		return nil
	}
	return active
}

// Clone returns a deep copy.
func (f Filters) Clone() Filters {
	var c Filters
	for _, key := range FilterKeys {
		src, _ := f.field(key)
		if *src != nil {
			dst, _ := c.field(key)
			*dst = append([]string(nil), *src...)
		}
	}
	return c
}
