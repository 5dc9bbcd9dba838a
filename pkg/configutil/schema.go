package configutil

import (
	"sort"
	"strings"
)

// Schema defines required and optional keys for a vendor settings map.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError lists the keys that failed schema validation.
type SettingsError struct {
	Vendor  string
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	msg := strings.Join(parts, "; ")
	if e.Vendor != "" {
		return e.Vendor + " settings: " + msg
	}
	return msg
}

// ValidateSettings checks a settings map against a schema. Required keys with
// blank string values count as missing.
func ValidateSettings(vendor string, input map[string]any, schema Schema) error {
	allowed := make(map[string]struct{}, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = struct{}{}
	}
	present := make(map[string]any, len(input))
	serr := &SettingsError{Vendor: vendor}
	for k, v := range input {
		nk := normalizeKey(k)
		present[nk] = v
		if _, ok := allowed[nk]; ok || schema.AllowUnknown || contains(schema.Required, nk) {
			continue
		}
		serr.Unknown = append(serr.Unknown, k)
	}
	for _, k := range schema.Required {
		if isEmptyValue(present[normalizeKey(k)]) {
			serr.Missing = append(serr.Missing, k)
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unknown)
	return serr
}

func contains(keys []string, normalized string) bool {
	for _, k := range keys {
		if normalizeKey(k) == normalized {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
