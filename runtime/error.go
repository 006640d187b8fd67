package runtime

import (
	"errors"
	"strings"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

// Stable failure codes. They never depend on how a diagnostic is rendered.
const (
	CodeValidationFailed     = "ValidationFailed"
	CodeRuntimeError         = "RuntimeError"
	CodeUnmatchedCase        = "UnmatchedCase"
	CodeMatchClauseError     = "MatchClauseError"
	CodeInvalidOperation     = "InvalidOperation"
	CodeUnknownExecutorError = "UnknownExecutorError"
)

const anonymousClause = "anonymous"

// ErrUnknownProcedure is returned when a procedure is looked up by a name
// nothing was registered under.
var ErrUnknownProcedure = errors.New("unknown procedure")

// MatchClauseCode returns the code of a failed match clause, e.g.
// "MatchClauseError:isAdmin".
func MatchClauseCode(name string) string {
	if name == "" {
		name = anonymousClause
	}
	return CodeMatchClauseError + ":" + name
}

// ProcedureError is the single failure a run produces. Message holds the
// rendered diagnostic; Code is the stable identifier to branch on.
type ProcedureError struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Summary   string              `json:"summary"`
	Procedure string              `json:"procedure"`
	Operation Kind                `json:"operation,omitempty"`
	Index     int                 `json:"index"`
	Anchor    SourceAnchor        `json:"anchor"`
	Location  diagnostic.Location `json:"location"`
	Chain     []diagnostic.Frame  `json:"chain,omitempty"`
	Cause     error               `json:"-"`

	Diagnostic *diagnostic.Diagnostic `json:"-"`
}

func (e *ProcedureError) Error() string {
	return e.Message
}

func (e *ProcedureError) Unwrap() error {
	return e.Cause
}

// ToMap converts the error to a map suitable for script and expression
// environments and JSON responses.
func (e *ProcedureError) ToMap() map[string]any {
	return map[string]any{
		"code":      e.Code,
		"message":   e.Summary,
		"procedure": e.Procedure,
		"operation": string(e.Operation),
		"location":  e.Location.String(),
	}
}

// CodeOf returns the code of the first ProcedureError in err's chain.
func CodeOf(err error) string {
	var pe *ProcedureError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries code. A bare "MatchClauseError" matches
// every clause name.
func IsCode(err error, code string) bool {
	c := CodeOf(err)
	if c == "" {
		return false
	}
	return c == code || strings.HasPrefix(c, code+":")
}
