package runtime_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/procflow/runtime"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app, err := runtime.NewApp("", nil, quietExecutor(), nil)
	require.NoError(t, err)

	require.NoError(t, app.Registry.RegisterProcedure(
		runtime.New("double", map[string]any{"n": float64(1)}).
			Validate("n", func(v any) bool {
				n, ok := v.(float64)
				return ok && n > 0
			}).
			Update("n", func(v any) any { return v.(float64) * 2 }),
	))
	require.NoError(t, app.Registry.RegisterProcedure(
		runtime.New("echo", nil).Do(func(runtime.Context) {}),
	))

	g := gin.New()
	runtime.NewHttpHandler(app, g, "X-Request-Id")
	return g
}

func serve(g *gin.Engine, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHttpRunProcedure(t *testing.T) {
	g := newTestServer(t)

	w, out := serve(g, http.MethodPost, "/procedures/double", `{"n": 21}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(42), out["n"])
}

func TestHttpRunUsesDefaultsWithEmptyBody(t *testing.T) {
	g := newTestServer(t)

	w, out := serve(g, http.MethodPost, "/procedures/double", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), out["n"])
}

func TestHttpRunFailure(t *testing.T) {
	g := newTestServer(t)

	w, out := serve(g, http.MethodPost, "/procedures/double", `{"n": -3}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, runtime.CodeValidationFailed, out["code"])
	assert.Equal(t, "double", out["procedure"])
	assert.Contains(t, out["message"], "n is invalid")
}

func TestHttpQueryAndHeaders(t *testing.T) {
	g := newTestServer(t)

	w, out := serve(g, http.MethodPost, "/procedures/echo?page=2", `{}`, map[string]string{"X-Request-Id": "abc"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"page": "2"}, out["query"])
	assert.Equal(t, map[string]any{"X-Request-Id": "abc"}, out["headers"])
}

func TestHttpErrors(t *testing.T) {
	g := newTestServer(t)

	w, _ := serve(g, http.MethodPost, "/procedures/missing", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out := serve(g, http.MethodPost, "/procedures/echo", `[1, 2]`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Wrong request body format", out["message"])
}

func TestHttpListProcedures(t *testing.T) {
	g := newTestServer(t)

	w, out := serve(g, http.MethodGet, "/procedures", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"double", "echo"}, out["procedures"])
}
