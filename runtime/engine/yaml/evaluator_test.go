package yaml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/procflow/runtime"
)

func TestBase64Functions(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		expected string
	}{
		{"encode simple string", `base64_encode("hello")`, "aGVsbG8="},
		{"encode empty string", `base64_encode("")`, ""},
		{"encode special chars", `base64_encode("user:password")`, "dXNlcjpwYXNzd29yZA=="},
		{"decode simple string", `base64_decode("aGVsbG8=")`, "hello"},
		{"decode special chars", `base64_decode("dXNlcjpwYXNzd29yZA==")`, "user:password"},
	}

	e := NewExpressionEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Eval(tt.expr, runtime.Context{}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestBase64WithContext(t *testing.T) {
	c := runtime.Context{"api_key": "sk_test_abc123"}

	result, err := NewExpressionEvaluator().Eval(`"Basic " + base64_encode(api_key + ":")`, c, nil)
	require.NoError(t, err)
	assert.Equal(t, "Basic c2tfdGVzdF9hYmMxMjM6", result)
}

func TestEvalVariables(t *testing.T) {
	c := runtime.Context{
		"exists": "hello",
		"is_nil": nil,
		"user":   map[string]any{"profile": map[string]any{"team": "core"}},
	}

	tests := []struct {
		name     string
		expr     string
		expected any
	}{
		{"existing value", "exists", "hello"},
		{"nil value", "is_nil", nil},
		{"null literal", "is_nil == null", true},
		{"missing variable returns nil", "missing", nil},
		{"nested value", "user.profile.team", "core"},
		{"optional chaining", "user?.missing?.team", nil},
		{"value ?? default returns value", `exists ?? "default"`, "hello"},
		{"nil ?? default returns default", `is_nil ?? "default"`, "default"},
		{"chained coalescing", `missing ?? is_nil ?? "fallback"`, "fallback"},
		{"defined nested path", `defined("user.profile.team")`, true},
		{"defined nil value", `defined("is_nil")`, true},
		{"defined missing path", `defined("user.profile.name")`, false},
		{"extra shadows context", "value", "extra"},
	}

	e := NewExpressionEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Eval(tt.expr, c, map[string]any{"value": "extra", "exists": "hello"})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
	_, added := c["null"]
	assert.False(t, added)
}

func TestCheck(t *testing.T) {
	e := NewExpressionEvaluator()

	assert.NoError(t, e.Check(`defined("a.b") && (missing ?? true)`))
	assert.NoError(t, e.Check(`base64_encode(name)`))
	assert.Error(t, e.Check(`value >`))
	assert.Error(t, e.Check(`defined(1, 2)`))
}
