package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// QueryParametersKey holds the request's query parameters in the context
	// of a procedure started over HTTP.
	QueryParametersKey = "query"
	HeadersKey         = "headers"
)

// NewHttpHandler exposes the procedures of app on g:
//
//	GET  /procedures        names of the registered procedures
//	POST /procedures/:name  runs a procedure with the JSON body as overrides
//
// A run that fails answers 422 with the error's code and summary.
func NewHttpHandler(app *App, g *gin.Engine, headers ...string) {
	g.GET("/procedures", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"procedures": app.Registry.ProcedureNames()})
	})
	g.POST("/procedures/:name", handleRun(app, headers))
}

var wrongBodyFormatRes = gin.H{"message": "Wrong request body format"}

func handleRun(app *App, headers []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		overrides, err := extractRequestData(c, headers)
		if err != nil {
			c.JSON(http.StatusBadRequest, wrongBodyFormatRes)
			return
		}

		out, err := app.Run(c.Request.Context(), name, overrides)
		if err == nil {
			c.JSON(http.StatusOK, out)
			return
		}

		if errors.Is(err, ErrUnknownProcedure) {
			c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
			return
		}

		var perr *ProcedureError
		if errors.As(err, &perr) {
			slog.Warn("Procedure run failed",
				"procedure", name,
				"path", c.Request.URL.Path,
				"code", perr.Code,
				"location", perr.Location.String())
			c.JSON(http.StatusUnprocessableEntity, perr.ToMap())
			return
		}

		slog.Error("Procedure run failed", "procedure", name, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error in procedure execution: " + err.Error()})
	}
}

// extractRequestData builds the overrides of a run from the JSON object
// body, the query parameters and the configured headers. An empty body is
// allowed.
func extractRequestData(c *gin.Context, headers []string) (map[string]any, error) {
	overrides := map[string]any{}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &overrides); err != nil {
			return nil, fmt.Errorf("body must be a JSON object: %w", err)
		}
	}

	if query := c.Request.URL.Query(); len(query) > 0 {
		params := make(map[string]any, len(query))
		for k := range query {
			params[k] = query.Get(k)
		}
		overrides[QueryParametersKey] = params
	}

	if len(headers) > 0 {
		values := make(map[string]any, len(headers))
		for _, h := range headers {
			if v := c.GetHeader(h); v != "" {
				values[h] = v
			}
		}
		overrides[HeadersKey] = values
	}
	return overrides, nil
}
