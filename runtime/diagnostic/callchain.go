package diagnostic

import (
	"errors"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Frame is one call site of a failure's call chain.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// ShortFunction strips the package path and receiver from the function name.
func (f Frame) ShortFunction() string {
	return ShortName(f.Function)
}

func (f Frame) String() string {
	return ShortName(f.Function) + " (" + filepath.Base(f.File) + ":" + strconv.Itoa(f.Line) + ")"
}

// Traced is implemented by failures that carry the frames they were raised
// from, innermost first.
type Traced interface {
	Frames() []Frame
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackOf walks err's wrap chain and returns the first call stack found,
// innermost frame first. Errors created with github.com/pkg/errors and
// failures implementing Traced carry one.
func StackOf(err error) []Frame {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(Traced); ok {
			if frames := t.Frames(); len(frames) > 0 {
				return frames
			}
		}
		if st, ok := e.(stackTracer); ok {
			trace := st.StackTrace()
			pcs := make([]uintptr, len(trace))
			for i, f := range trace {
				pcs[i] = uintptr(f)
			}
			return FramesFromPCs(pcs)
		}
	}
	return nil
}

// FramesFromPCs resolves program counters into frames, innermost first.
func FramesFromPCs(pcs []uintptr) []Frame {
	if len(pcs) == 0 {
		return nil
	}
	var out []Frame
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			break
		}
	}
	return out
}

// TruncateAt cuts frames after the first frame whose short function name is
// function, keeping that frame. Frames are returned unchanged when there is
// no such frame or it is the innermost one.
func TruncateAt(frames []Frame, function string) []Frame {
	if function == "" {
		return frames
	}
	name := ShortName(function)
	for i, f := range frames {
		if f.ShortFunction() == name {
			if i > 0 {
				return frames[:i+1]
			}
			break
		}
	}
	return frames
}

// ShortName reduces a fully qualified Go function name to its last element:
// "github.com/acme/app.(*Svc).Load" becomes "Load".
func ShortName(function string) string {
	if idx := strings.LastIndex(function, "/"); idx >= 0 {
		function = function[idx+1:]
	}
	if idx := strings.LastIndex(function, "."); idx >= 0 {
		function = function[idx+1:]
	}
	return function
}
