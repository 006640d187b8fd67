package runtime_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/procflow/runtime"
	"github.com/BDNK1/procflow/runtime/diagnostic"
)

func TestErrorHelpers(t *testing.T) {
	assert.Equal(t, "MatchClauseError:isAdmin", runtime.MatchClauseCode("isAdmin"))
	assert.Equal(t, "MatchClauseError:anonymous", runtime.MatchClauseCode(""))

	err := &runtime.ProcedureError{Code: runtime.MatchClauseCode("isAdmin"), Message: "rendered"}
	assert.True(t, runtime.IsCode(err, runtime.CodeMatchClauseError))
	assert.True(t, runtime.IsCode(err, "MatchClauseError:isAdmin"))
	assert.False(t, runtime.IsCode(err, runtime.CodeRuntimeError))
	assert.False(t, runtime.IsCode(errors.New("plain"), runtime.CodeRuntimeError))
	assert.Equal(t, "rendered", err.Error())
	assert.Equal(t, "MatchClauseError:isAdmin", err.ToMap()["code"])
}

func TestCodeOfWrappedError(t *testing.T) {
	perr := &runtime.ProcedureError{Code: runtime.CodeUnmatchedCase}
	wrapped := fmt.Errorf("checkout: %w", perr)

	assert.Equal(t, runtime.CodeUnmatchedCase, runtime.CodeOf(wrapped))
	assert.True(t, runtime.IsCode(wrapped, runtime.CodeUnmatchedCase))
	assert.Empty(t, runtime.CodeOf(nil))
}

func TestProcedureErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	perr := &runtime.ProcedureError{Code: runtime.CodeRuntimeError, Cause: cause}
	assert.ErrorIs(t, perr, cause)
}

func TestProcedureErrorJSON(t *testing.T) {
	perr := &runtime.ProcedureError{
		Code:      runtime.CodeValidationFailed,
		Message:   "rendered",
		Summary:   "n is invalid according to positive",
		Procedure: "double",
		Operation: runtime.KindValidate,
		Location:  diagnostic.Location{File: "double.go", Line: 12, Column: 3},
		Cause:     errors.New("hidden"),
	}

	data, err := json.Marshal(perr)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "ValidationFailed", decoded["code"])
	assert.Equal(t, "validate", decoded["operation"])
	assert.NotContains(t, decoded, "Cause")

	m := perr.ToMap()
	assert.Equal(t, "n is invalid according to positive", m["message"])
	assert.Equal(t, "double.go:12:3", m["location"])
}
