// Package http provides the http.request and http.get tasks.
//
//	load:
//	  call: http.get
//	  with:
//	    url: '"https://api.example.com/users/" + user_id'
//	    extract: {team: '"data.team.name"'}
//	  into: user
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"

	"github.com/BDNK1/procflow/runtime"
)

// Config holds the HTTP plugin configuration with declarative tags
type Config struct {
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url_format"`
	Timeout     time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	Debug       bool          `yaml:"debug" default:"false"`
	RetryWaitMS int           `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
}

// RequestInput defines the typed input for HTTP requests
type RequestInput struct {
	URL         string            `json:"url" validate:"required"`
	Method      string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_parameters"`
	Body        map[string]any    `json:"body"`
	// Form sends Body as application/x-www-form-urlencoded.
	Form bool `json:"form"`
	// Extract maps output names to dotted paths into the JSON response.
	Extract map[string]string `json:"extract"`
}

// GetInput is RequestInput without a method or body.
type GetInput struct {
	URL         string            `json:"url" validate:"required"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_parameters"`
	Extract     map[string]string `json:"extract"`
}

// RequestOutput defines the typed output for HTTP requests
type RequestOutput struct {
	Status     string         `json:"status"`
	StatusCode int            `json:"status_code"`
	IsError    bool           `json:"is_error"`
	Body       any            `json:"body"`
	Raw        string         `json:"raw,omitempty"`
	Extracted  map[string]any `json:"extracted,omitempty"`
}

// HTTPPlugin implements HTTP request functionality as a plugin
type HTTPPlugin struct {
	Config Config
	client *resty.Client
}

// New returns a plugin configured from raw, which uses the yaml names of
// Config. Defaults fill whatever raw leaves out.
func New(raw map[string]any) (*HTTPPlugin, error) {
	p := &HTTPPlugin{}
	if err := runtime.InitializeConfig(&p.Config, raw); err != nil {
		return nil, fmt.Errorf("http plugin config: %w", err)
	}
	return p, nil
}

func (h *HTTPPlugin) Initialize(context.Context) error {
	h.client = resty.New().
		SetTimeout(h.Config.Timeout).
		SetRetryCount(h.Config.MaxRetries).
		SetRetryWaitTime(time.Duration(h.Config.RetryWaitMS) * time.Millisecond).
		SetDebug(h.Config.Debug)
	if h.Config.BaseURL != "" {
		h.client.SetBaseURL(h.Config.BaseURL)
	}
	return nil
}

func (h *HTTPPlugin) Shutdown(context.Context) error {
	h.client = nil
	return nil
}

// Get is Request with the GET method.
func (h *HTTPPlugin) Get(ctx context.Context, input GetInput) (RequestOutput, error) {
	return h.Request(ctx, RequestInput{
		URL:         input.URL,
		Method:      http.MethodGet,
		Headers:     input.Headers,
		QueryParams: input.QueryParams,
		Extract:     input.Extract,
	})
}

// Request executes an HTTP request. Error statuses are not failures; they
// are reported through is_error so declarations can branch on them.
func (h *HTTPPlugin) Request(ctx context.Context, input RequestInput) (RequestOutput, error) {
	if h.client == nil {
		return RequestOutput{}, errors.New("http plugin is not initialized")
	}

	req := h.client.R().
		SetContext(ctx).
		SetHeaders(input.Headers).
		SetQueryParams(input.QueryParams)
	if input.Body != nil {
		if input.Form {
			req.SetFormData(flattenToFormData(input.Body, ""))
		} else {
			req.SetBody(input.Body)
		}
	}

	resp, err := req.Execute(strings.ToUpper(input.Method), input.URL)
	if err != nil {
		return RequestOutput{}, fmt.Errorf("HTTP request failed: %w", err)
	}

	output := RequestOutput{
		Status:     resp.Status(),
		StatusCode: resp.StatusCode(),
		IsError:    resp.IsError(),
	}

	body := resp.Body()
	if len(body) == 0 {
		return output, nil
	}
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		output.Raw = string(body)
		if len(input.Extract) > 0 {
			return output, fmt.Errorf("cannot extract from non-JSON response (%s)", resp.Header().Get("Content-Type"))
		}
		return output, nil
	}
	output.Body = parsed.Data()

	if len(input.Extract) > 0 {
		output.Extracted = make(map[string]any, len(input.Extract))
		for name, path := range input.Extract {
			output.Extracted[name] = parsed.Path(path).Data()
		}
	}
	return output, nil
}

// flattenToFormData converts nested maps and slices into bracketed form
// keys, e.g. metadata[order_id] and items[0].
func flattenToFormData(data map[string]any, prefix string) map[string]string {
	result := make(map[string]string)
	for key, value := range data {
		if prefix != "" {
			key = prefix + "[" + key + "]"
		}
		flattenValue(result, key, value)
	}
	return result
}

func flattenValue(result map[string]string, key string, value any) {
	switch v := value.(type) {
	case map[string]any:
		for k, item := range flattenToFormData(v, key) {
			result[k] = item
		}
	case []any:
		for i, item := range v {
			flattenValue(result, fmt.Sprintf("%s[%d]", key, i), item)
		}
	case nil:
		result[key] = ""
	default:
		result[key] = fmt.Sprint(v)
	}
}
