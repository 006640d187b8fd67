package yaml

import (
	"fmt"
	"unicode/utf8"

	goyaml "gopkg.in/yaml.v3"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

// document is the top level of a procedure file. Steps stay as nodes so
// every declaration keeps its line and column.
type document struct {
	Name     string         `yaml:"name"`
	Defaults map[string]any `yaml:"defaults"`
	Steps    []goyaml.Node  `yaml:"steps"`
}

// DeclarationError is a malformed procedure file, reported at the offending
// node.
type DeclarationError struct {
	File   string
	Line   int
	Column int
	Msg    string
}

func (e *DeclarationError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Msg)
}

type nodeError struct {
	node *goyaml.Node
	msg  string
}

func (e *nodeError) Error() string { return e.msg }

func errorAt(node *goyaml.Node, format string, args ...any) error {
	return &nodeError{node: node, msg: fmt.Sprintf(format, args...)}
}

// field is one key of a mapping node.
type field struct {
	key   *goyaml.Node
	value *goyaml.Node
}

// fields returns the keys of a mapping node in declaration order and
// rejects duplicates.
func fields(node *goyaml.Node) ([]field, error) {
	if node.Kind != goyaml.MappingNode {
		return nil, errorAt(node, "expected a mapping, got %s", kindName(node))
	}
	seen := make(map[string]bool, len(node.Content)/2)
	out := make([]field, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if seen[k.Value] {
			return nil, errorAt(k, "duplicate key %q", k.Value)
		}
		seen[k.Value] = true
		out = append(out, field{key: k, value: v})
	}
	return out, nil
}

// lookup returns the field named key of a mapping.
func lookup(fs []field, key string) (field, bool) {
	for _, f := range fs {
		if f.key.Value == key {
			return f, true
		}
	}
	return field{}, false
}

// only rejects keys of fs that are not in allowed.
func only(fs []field, allowed ...string) error {
	for _, f := range fs {
		ok := false
		for _, a := range allowed {
			if f.key.Value == a {
				ok = true
				break
			}
		}
		if !ok {
			return errorAt(f.key, "unknown key %q", f.key.Value)
		}
	}
	return nil
}

func scalar(node *goyaml.Node, what string) (string, error) {
	if node.Kind != goyaml.ScalarNode {
		return "", errorAt(node, "%s must be a string, got %s", what, kindName(node))
	}
	return node.Value, nil
}

func decodeMap(node *goyaml.Node, what string) (map[string]any, error) {
	if node.Kind != goyaml.MappingNode {
		return nil, errorAt(node, "%s must be a mapping, got %s", what, kindName(node))
	}
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return nil, errorAt(node, "%s: %v", what, err)
	}
	return m, nil
}

func kindName(node *goyaml.Node) string {
	switch node.Kind {
	case goyaml.ScalarNode:
		return "a scalar"
	case goyaml.SequenceNode:
		return "a sequence"
	case goyaml.MappingNode:
		return "a mapping"
	case goyaml.AliasNode:
		return "an alias"
	}
	return "nothing"
}

// span is the position of node as the formatter underlines it. Single line
// scalars are underlined whole, quotes included; anything else gets the
// width of its first token.
func span(node *goyaml.Node) *diagnostic.Position {
	p := &diagnostic.Position{Line: node.Line, Column: node.Column, Length: 1}
	if node.Kind != goyaml.ScalarNode {
		return p
	}
	switch node.Style {
	case goyaml.LiteralStyle, goyaml.FoldedStyle:
		return p
	case goyaml.DoubleQuotedStyle, goyaml.SingleQuotedStyle:
		p.Length = utf8.RuneCountInString(node.Value) + 2
	default:
		p.Length = utf8.RuneCountInString(node.Value)
	}
	if p.Length == 0 {
		p.Length = 1
	}
	return p
}
