package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/BDNK1/procflow/internal/security"
	"github.com/BDNK1/procflow/runtime"
)

// FileName is the project configuration file looked up in the project
// directory.
const FileName = "procflow.yaml"

// Project represents the procflow.yaml structure
type Project struct {
	// Dir is the project directory; relative paths resolve against it.
	Dir string `yaml:"-"`

	Name       string         `yaml:"name"`
	Procedures string         `yaml:"procedures" default:"procedures"`
	Server     Server         `yaml:"server"`
	Runtime    runtime.Config `yaml:"-"`
	// Plugins maps a plugin name to its raw config, e.g. http: {timeout: 10s}.
	Plugins map[string]map[string]any `yaml:"plugins"`
}

// Server configures procflow serve.
type Server struct {
	Port    string   `yaml:"port" default:"8080" validate:"numeric"`
	Headers []string `yaml:"headers"`
}

// Load reads procflow.yaml from dir, expanding ${VAR} placeholders with
// lookup. A missing file yields the defaults.
func Load(dir string, lookup Lookup) (*Project, error) {
	path, err := security.ResolveWithinBoundary(dir, FileName)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	var raw map[string]any
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
	}
	return Parse(dir, raw, lookup)
}

// Parse builds a project from decoded YAML.
func Parse(dir string, raw map[string]any, lookup Lookup) (*Project, error) {
	expanded, err := Expand(raw, lookup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FileName, err)
	}
	raw, _ = expanded.(map[string]any)

	p := &Project{Dir: dir}
	// runtime is decoded first; validating the project checks it again
	runtimeRaw, _ := raw["runtime"].(map[string]any)
	delete(raw, "runtime")
	if err := runtime.InitializeConfig(&p.Runtime, runtimeRaw); err != nil {
		return nil, fmt.Errorf("%s runtime: %w", FileName, err)
	}
	if err := runtime.InitializeConfig(p, raw); err != nil {
		return nil, fmt.Errorf("%s: %w", FileName, err)
	}

	if p.Name == "" {
		p.Name = directoryName(dir)
	}
	return p, nil
}

// Path resolves name against the project directory, refusing paths that
// escape it.
func (p *Project) Path(name string) (string, error) {
	return security.ResolveWithinBoundary(p.Dir, name)
}

// directoryName extracts the last component of a path
func directoryName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "procflow"
	}
	return filepath.Base(abs)
}
