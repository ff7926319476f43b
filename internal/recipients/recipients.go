// Package recipients loads the campaign's ordered recipient list.
//
// Supported formats, chosen by file extension:
//
//	.json        {"contacts": ["..."]} or a bare array
//	.yaml/.yml   the same two shapes in YAML
//	anything else  one recipient per line; '#' starts a comment
//
// An entry is taken as the text written in the file: YAML scalars are never
// resolved, so 0612 stays "0612" and +2126... keeps its sign. JSON numbers
// keep their literal digits. Surrounding whitespace is not part of an
// identifier and is stripped; nothing inside an entry is changed. Blank
// entries and exact duplicates are dropped and the first-seen order is kept.
package recipients

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"campaignbot/internal/transport"
	"campaignbot/pkg/yamlx"
)

// Load reads path. A missing file yields an error wrapping fs.ErrNotExist.
func Load(path string) ([]transport.RecipientID, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	ids, err := Parse(filepath.Ext(path), b)
	if err != nil {
		return nil, fmt.Errorf("recipients %s: %w", filepath.Base(path), err)
	}
	return ids, nil
}

// Parse decodes b according to ext (".json", ".yaml", ".yml" or other).
func Parse(ext string, b []byte) ([]transport.RecipientID, error) {
	var raw any
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case ".yaml", ".yml":
		return parseYAML(b)
	default:
		return parseLines(b)
	}
	entries, err := entriesOf(raw)
	if err != nil {
		return nil, err
	}
	return Normalize(entries), nil
}

func entriesOf(raw any) ([]string, error) {
	var list []any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		list = v
	case map[string]any:
		c, ok := v["contacts"]
		if !ok {
			return nil, fmt.Errorf(`missing "contacts" key`)
		}
		if c == nil {
			return nil, nil
		}
		if list, ok = c.([]any); !ok {
			return nil, fmt.Errorf(`"contacts" must be a list, got %T`, c)
		}
	default:
		return nil, fmt.Errorf("unsupported document type %T", raw)
	}

	out := make([]string, 0, len(list))
	for i, e := range list {
		s, err := scalar(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseYAML(b []byte) ([]transport.RecipientID, error) {
	root, err := yamlx.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if yamlx.IsNull(root) {
		return nil, nil
	}
	list := root
	if root.Kind == yaml.MappingNode {
		c, ok := yamlx.Lookup(root, "contacts")
		if !ok {
			return nil, fmt.Errorf(`missing "contacts" key`)
		}
		if yamlx.IsNull(c) {
			return nil, nil
		}
		list = c
	}
	entries, err := yamlx.Literals(list)
	if err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return Normalize(entries), nil
}

func scalar(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func parseLines(b []byte) ([]transport.RecipientID, error) {
	var entries []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return Normalize(entries), nil
}

// Normalize strips surrounding whitespace, then drops blanks and duplicates,
// keeping order. The remaining text is the identifier byte for byte.
func Normalize(entries []string) []transport.RecipientID {
	out := make([]transport.RecipientID, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, transport.RecipientID(e))
	}
	return out
}
