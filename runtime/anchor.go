package runtime

import (
	"fmt"
	goruntime "runtime"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

// SourceAnchor is the place a step was declared. It is captured when the
// step is appended to a procedure, never when it runs, so diagnostics point
// at the declaring code instead of the executor.
type SourceAnchor struct {
	File string `json:"file"`
	Line int    `json:"line"`
	// Column is 1-based. Zero means unknown; it is then resolved from the
	// source line on the failure path using Method.
	Column   int    `json:"column,omitempty"`
	Function string `json:"function,omitempty"`
	Method   string `json:"method,omitempty"`
}

// captureAnchor records the caller of the builder method that invoked it.
func captureAnchor(method string) SourceAnchor {
	pc, file, line, ok := goruntime.Caller(2)
	if !ok {
		return SourceAnchor{Method: method}
	}
	a := SourceAnchor{File: file, Line: line, Method: method}
	if f := goruntime.FuncForPC(pc); f != nil {
		a.Function = f.Name()
	}
	return a
}

func (a SourceAnchor) IsZero() bool {
	return a.File == "" && a.Line == 0
}

func (a SourceAnchor) Location() diagnostic.Location {
	return diagnostic.Location{File: a.File, Line: a.Line, Column: a.Column}
}

func (a SourceAnchor) String() string {
	if a.IsZero() {
		return "<unknown>"
	}
	if a.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", a.File, a.Line, a.Column)
	}
	return fmt.Sprintf("%s:%d", a.File, a.Line)
}
