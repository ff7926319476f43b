// Package yamlx reads YAML documents through yaml.Node so callers choose,
// per value, between the resolved YAML type and the text as written.
package yamlx

import (
	"encoding/json"
	"fmt"

	yaml "go.yaml.in/yaml/v3"
)

// Parse returns the root value of the first document in b, or nil when b
// holds no document.
func Parse(b []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	return resolve(doc.Content[0]), nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// IsNull reports whether n is absent or an explicit null (~, null, empty).
func IsNull(n *yaml.Node) bool {
	n = resolve(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

// Lookup returns the value stored under key in mapping n.
func Lookup(n *yaml.Node, key string) (*yaml.Node, bool) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return resolve(n.Content[i+1]), true
		}
	}
	return nil, false
}

// Literals returns the text of every scalar in sequence n exactly as it was
// written, so 0612 stays "0612" and +2126 keeps its sign. Null entries
// yield "".
func Literals(n *yaml.Node) ([]string, error) {
	n = resolve(n)
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list", n.Line)
	}
	out := make([]string, 0, len(n.Content))
	for i, e := range n.Content {
		e = resolve(e)
		switch {
		case IsNull(e):
			out = append(out, "")
		case e.Kind == yaml.ScalarNode:
			out = append(out, e.Value)
		default:
			return nil, fmt.Errorf("entry %d (line %d): expected a scalar", i, e.Line)
		}
	}
	return out, nil
}

// ToJSON renders n as JSON with YAML-resolved scalar types, for feeding a
// strict encoding/json decoder. Mapping keys are taken as written.
func ToJSON(n *yaml.Node) ([]byte, error) {
	v, err := toValue(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func toValue(n *yaml.Node) (any, error) {
	n = resolve(n)
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := toValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[n.Content[i].Value] = v
		}
		return m, nil
	case yaml.SequenceNode:
		s := make([]any, 0, len(n.Content))
		for _, e := range n.Content {
			v, err := toValue(e)
			if err != nil {
				return nil, err
			}
			s = append(s, v)
		}
		return s, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
	}
}
