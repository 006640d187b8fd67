package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/procflow/runtime"
)

func TestFlattenToFormData(t *testing.T) {
	tests := []struct {
		name     string
		input    map[string]any
		expected map[string]string
	}{
		{
			name: "simple values",
			input: map[string]any{
				"amount":   1099,
				"currency": "usd",
			},
			expected: map[string]string{
				"amount":   "1099",
				"currency": "usd",
			},
		},
		{
			name: "nested map",
			input: map[string]any{
				"amount": 1099,
				"metadata": map[string]any{
					"order_id": "12345",
					"user":     "john",
				},
			},
			expected: map[string]string{
				"amount":             "1099",
				"metadata[order_id]": "12345",
				"metadata[user]":     "john",
			},
		},
		{
			name: "deeply nested",
			input: map[string]any{
				"shipping": map[string]any{
					"address": map[string]any{
						"city":    "NYC",
						"country": "US",
					},
				},
			},
			expected: map[string]string{
				"shipping[address][city]":    "NYC",
				"shipping[address][country]": "US",
			},
		},
		{
			name: "array values",
			input: map[string]any{
				"items": []any{"item1", "item2"},
			},
			expected: map[string]string{
				"items[0]": "item1",
				"items[1]": "item2",
			},
		},
		{
			name: "array of objects",
			input: map[string]any{
				"line_items": []any{
					map[string]any{"price": "price_123", "quantity": 2},
					map[string]any{"price": "price_456", "quantity": 1},
				},
			},
			expected: map[string]string{
				"line_items[0][price]":    "price_123",
				"line_items[0][quantity]": "2",
				"line_items[1][price]":    "price_456",
				"line_items[1][quantity]": "1",
			},
		},
		{
			name: "boolean and float",
			input: map[string]any{
				"enabled": true,
				"rate":    0.15,
			},
			expected: map[string]string{
				"enabled": "true",
				"rate":    "0.15",
			},
		},
		{
			name:     "nil value",
			input:    map[string]any{"coupon": nil},
			expected: map[string]string{"coupon": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, flattenToFormData(tt.input, ""))
		})
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"name": "ada", "team": map[string]any{"name": "core"}},
			"auth": r.Header.Get("Authorization"),
			"page": r.URL.Query().Get("page"),
		})
	})
	mux.HandleFunc("/charges", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method": r.Method,
			"amount": r.PostForm.Get("amount"),
			"order":  r.PostForm.Get("metadata[order_id]"),
		})
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newPlugin(t *testing.T, baseURL string) *HTTPPlugin {
	t.Helper()
	p, err := New(map[string]any{"base_url": baseURL, "max_retries": 0})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestConfigDefaults(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.Config.Timeout)
	assert.Equal(t, 3, p.Config.MaxRetries)
	assert.Equal(t, 100, p.Config.RetryWaitMS)

	_, err = New(map[string]any{"max_retries": 50})
	assert.Error(t, err)

	_, err = New(map[string]any{"base_url": "localhost:9000"})
	assert.ErrorContains(t, err, "url_format")
}

func TestGet(t *testing.T) {
	p := newPlugin(t, newTestServer(t).URL)

	out, err := p.Get(context.Background(), GetInput{
		URL:         "/users/42",
		Headers:     map[string]string{"Authorization": "Bearer token"},
		QueryParams: map[string]string{"page": "2"},
		Extract:     map[string]string{"team": "data.team.name", "missing": "data.nope"},
	})
	require.NoError(t, err)

	assert.Equal(t, 200, out.StatusCode)
	assert.False(t, out.IsError)
	body := out.Body.(map[string]any)
	assert.Equal(t, "Bearer token", body["auth"])
	assert.Equal(t, "2", body["page"])
	assert.Equal(t, map[string]any{"team": "core", "missing": nil}, out.Extracted)
}

func TestRequestFormBodyAndErrorStatus(t *testing.T) {
	p := newPlugin(t, newTestServer(t).URL)

	out, err := p.Request(context.Background(), RequestInput{
		URL:    "/charges",
		Method: "post",
		Form:   true,
		Body:   map[string]any{"amount": 1099, "metadata": map[string]any{"order_id": "o-1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusPaymentRequired, out.StatusCode)
	assert.True(t, out.IsError)
	assert.Equal(t, map[string]any{"method": "POST", "amount": "1099", "order": "o-1"}, out.Body)
}

func TestNonJSONResponse(t *testing.T) {
	p := newPlugin(t, newTestServer(t).URL)

	out, err := p.Get(context.Background(), GetInput{URL: "/plain"})
	require.NoError(t, err)
	assert.Nil(t, out.Body)
	assert.Equal(t, "pong", out.Raw)

	_, err = p.Get(context.Background(), GetInput{URL: "/plain", Extract: map[string]string{"a": "b"}})
	assert.ErrorContains(t, err, "cannot extract")
}

func TestRequestBeforeInitialize(t *testing.T) {
	_, err := (&HTTPPlugin{}).Get(context.Background(), GetInput{URL: "http://example.com"})
	assert.EqualError(t, err, "http plugin is not initialized")
}

func TestTasksThroughRegistry(t *testing.T) {
	srv := newTestServer(t)
	p, err := New(map[string]any{"max_retries": 0})
	require.NoError(t, err)

	r := runtime.NewRegistry()
	require.NoError(t, r.RegisterPlugin("http", p))
	require.NoError(t, r.Initialize(context.Background()))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	assert.Equal(t, []string{"http.get", "http.request"}, r.TaskNames())

	out, err := r.Call(context.Background(), "http.get", map[string]any{
		"url":     srv.URL + "/users/42",
		"extract": map[string]any{"name": "data.name"},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(200), out["status_code"])
	assert.Equal(t, map[string]any{"name": "ada"}, out["extracted"])

	_, err = r.Call(context.Background(), "http.request", map[string]any{"url": srv.URL, "method": "FETCH"})
	assert.ErrorContains(t, err, "invalid input")
}
