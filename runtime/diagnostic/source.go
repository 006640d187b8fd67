package diagnostic

import (
	"fmt"
	"os"

	"github.com/BDNK1/procflow/internal/security"
)

// SourceReader returns the text of a source file. The formatter treats it
// as a pure lookup and only calls it on the failure path.
type SourceReader interface {
	ReadSource(path string) (string, error)
}

// FileReader reads sources from disk. When Root is set, paths outside of it
// are refused.
type FileReader struct {
	Root string
}

func (r FileReader) ReadSource(path string) (string, error) {
	if r.Root != "" {
		if err := security.ValidatePathWithinBoundary(r.Root, path); err != nil {
			return "", fmt.Errorf("refusing to read source: %w", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading source file: %w", err)
	}
	return string(data), nil
}

// MapReader serves sources from memory, keyed by path.
type MapReader map[string]string

func (m MapReader) ReadSource(path string) (string, error) {
	src, ok := m[path]
	if !ok {
		return "", fmt.Errorf("source %s not found", path)
	}
	return src, nil
}
