package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvVarSpec is one ${VAR} or ${VAR:default} placeholder.
type EnvVarSpec struct {
	// VarName is the environment variable name (e.g., "API_TOKEN")
	VarName string

	HasDefault   bool
	DefaultValue string
}

// Lookup resolves environment variables; os.LookupEnv in production.
type Lookup func(name string) (string, bool)

// placeholderPattern matches ${NAME} and ${NAME:default} anywhere in a
// string. Names are checked separately so a malformed one is reported
// instead of silently kept.
var (
	placeholderPattern = regexp.MustCompile(`\$\{([^}:]*)(:[^}]*)?\}`)
	envVarName         = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// ParseEnvVar parses a value that is exactly one placeholder. It returns
// nil for literal values.
//
//	ParseEnvVar("${API_TOKEN}")                  -> required "API_TOKEN"
//	ParseEnvVar("${BASE_URL:http://localhost}")  -> with default
//	ParseEnvVar("localhost:6379")                -> nil, literal
//	ParseEnvVar("${invalid-name}")               -> error
func ParseEnvVar(value string) (*EnvVarSpec, error) {
	m := placeholderPattern.FindStringSubmatch(value)
	if m == nil || m[0] != value {
		return nil, nil
	}
	return newSpec(m[1], m[2])
}

func newSpec(name, defaultPart string) (*EnvVarSpec, error) {
	if !isValidEnvVarName(name) {
		return nil, fmt.Errorf("invalid environment variable name: %q", name)
	}
	return &EnvVarSpec{
		VarName:      name,
		HasDefault:   defaultPart != "",
		DefaultValue: strings.TrimPrefix(defaultPart, ":"),
	}, nil
}

// Resolve returns the variable's value, its default, or an error when the
// variable is required and unset.
func (s *EnvVarSpec) Resolve(lookup Lookup) (string, error) {
	if v, ok := lookup(s.VarName); ok {
		return v, nil
	}
	if s.HasDefault {
		return s.DefaultValue, nil
	}
	return "", fmt.Errorf("environment variable %s is required but not set", s.VarName)
}

// ExpandString replaces every placeholder in s.
func ExpandString(s string, lookup Lookup) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := placeholderPattern.FindStringSubmatch(match)
		spec, err := newSpec(m[1], m[2])
		if err == nil {
			var v string
			if v, err = spec.Resolve(lookup); err == nil {
				return v
			}
		}
		if firstErr == nil {
			firstErr = err
		}
		return match
	})
	return out, firstErr
}

// Expand replaces placeholders in every string of a decoded YAML value.
// Maps and slices are copied, other values returned as they are.
func Expand(value any, lookup Lookup) (any, error) {
	switch v := value.(type) {
	case string:
		return ExpandString(v, lookup)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			expanded, err := Expand(item, lookup)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			expanded, err := Expand(item, lookup)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = expanded
		}
		return out, nil
	}
	return value, nil
}

// EnvLookup is the Lookup backed by the process environment.
func EnvLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// isValidEnvVarName checks if a string is a valid environment variable name
// Valid names: Start with A-Z or underscore, contain only A-Z, 0-9, underscore
func isValidEnvVarName(name string) bool {
	return envVarName.MatchString(name)
}
