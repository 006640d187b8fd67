// Package yaml declares procedures in YAML files.
//
//	name: access
//	defaults:
//	  access: none
//	steps:
//	  - validate:
//	      key: role
//	      expr: value in ["admin", "user", "guest"]
//	  - load:
//	      call: directory.lookup
//	      with: {user: user_id}
//	      into: profile
//	    on_error:
//	      patch: {profile: {}}
//	  - match:
//	      cases:
//	        - when: ['role == "admin"']
//	          then: {set: {access: '"all"'}}
//	        - when: ['role == "user"', {name: hasTeam, expr: 'defined("profile.team")'}]
//	          then: {procedure: grant-team}
//	      otherwise: {raise: '"no access for " + role'}
//
// Strings in expressions are expr-lang source; "script" keys hold Risor
// source instead. Every step is anchored at its key so failures point at
// the YAML that declared them.
package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goyaml "gopkg.in/yaml.v3"

	"github.com/BDNK1/procflow/runtime"
	"github.com/BDNK1/procflow/runtime/engine/dsl"
)

// Loader builds procedures from YAML files. Task calls and procedure
// references resolve against the registry when the step runs.
type Loader struct {
	registry  *runtime.Registry
	evaluator *ExpressionEvaluator
	scripts   *dsl.Engine
	options   []runtime.ProcedureOption
}

// NewLoader returns a loader resolving tasks and procedures in registry.
// opts are applied to every loaded procedure.
func NewLoader(registry *runtime.Registry, opts ...runtime.ProcedureOption) *Loader {
	if registry == nil {
		registry = runtime.NewRegistry()
	}
	return &Loader{
		registry:  registry,
		evaluator: NewExpressionEvaluator(),
		scripts:   dsl.NewEngine(registry),
		options:   opts,
	}
}

func (l *Loader) Extensions() []string {
	return []string{".yaml", ".yml"}
}

func (l *Loader) Load(path string) (*runtime.Procedure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return l.Parse(abs, data)
}

// Parse builds the procedure declared by data. file anchors every step and
// names the procedure when the document does not.
func (l *Loader) Parse(file string, data []byte) (*runtime.Procedure, error) {
	var root goyaml.Node
	if err := goyaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("error unmarshalling YAML: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, &DeclarationError{File: file, Line: 1, Column: 1, Msg: "empty procedure file"}
	}

	var doc document
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, fmt.Errorf("error decoding procedure %s: %w", file, err)
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	p := runtime.New(doc.Name, doc.Defaults, l.options...)
	for i := range doc.Steps {
		op, err := l.step(file, doc.Name, &doc.Steps[i])
		if err != nil {
			return nil, declarationError(file, err)
		}
		p.Append(op)
	}
	return p, nil
}

func declarationError(file string, err error) error {
	var ne *nodeError
	if errors.As(err, &ne) {
		return &DeclarationError{File: file, Line: ne.node.Line, Column: ne.node.Column, Msg: ne.msg}
	}
	return err
}
