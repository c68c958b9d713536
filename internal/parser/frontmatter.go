package parser

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/starford/tasklink/internal/apperr"
)

// Pair is one ordered frontmatter entry.
type Pair struct {
	Key   string
	Value any
}

// Compose renders ordered frontmatter pairs followed by body. Pairs with a
// nil value are omitted.
func Compose(pairs []Pair, body string) ([]byte, error) {
	root := newMapping()
	for _, p := range pairs {
		if p.Value == nil {
			continue
		}
		vn, err := encodeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parser: encode %s: %w", p.Key, err)
		}
		root.Content = append(root.Content, keyNode(p.Key), vn)
	}
	return render(root, []byte(body))
}

// EditFrontmatter decodes the frontmatter of data, hands the bag to fn, and
// re-renders only what fn changed: untouched keys keep their position and
// formatting, removed keys are dropped, new keys are appended in sorted order.
// The body is carried over byte for byte. When fn changes nothing, data is
// returned as is. A file without frontmatter gets a new block.
func EditFrontmatter(data []byte, fn func(fm map[string]any) error) ([]byte, error) {
	block, rest, ok := splitRaw(data)
	root := newMapping()
	if ok {
		parsed, err := parseMapping(block)
		if err != nil {
			return nil, err
		}
		root = parsed
	}

	before := map[string]any{}
	after := map[string]any{}
	if len(root.Content) > 0 {
		if err := root.Decode(&before); err != nil {
			return nil, fmt.Errorf("parser: decode frontmatter: %w: %v", apperr.ErrInvalidDefinition, err)
		}
		if err := root.Decode(&after); err != nil {
			return nil, fmt.Errorf("parser: decode frontmatter: %w: %v", apperr.ErrInvalidDefinition, err)
		}
	}

	if err := fn(after); err != nil {
		return nil, err
	}

	changed := false
	content := make([]*yaml.Node, 0, len(root.Content))
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		nv, keep := after[k.Value]
		if !keep {
			changed = true
			continue
		}
		if !reflect.DeepEqual(before[k.Value], nv) {
			enc, err := encodeValue(nv)
			if err != nil {
				return nil, fmt.Errorf("parser: encode %s: %w", k.Value, err)
			}
			v = enc
			changed = true
		}
		content = append(content, k, v)
	}

	var added []string
	for k := range after {
		if _, ok := before[k]; !ok {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		enc, err := encodeValue(after[k])
		if err != nil {
			return nil, fmt.Errorf("parser: encode %s: %w", k, err)
		}
		content = append(content, keyNode(k), enc)
		changed = true
	}

	if !changed {
		return data, nil
	}
	root.Content = content
	return render(root, rest)
}

func parseMapping(block []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err != nil {
		return nil, fmt.Errorf("parser: frontmatter: %w: %v", apperr.ErrInvalidDefinition, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return newMapping(), nil
	}
	top := doc.Content[0]
	switch {
	case top.Kind == yaml.MappingNode:
		return top, nil
	case top.Kind == yaml.ScalarNode && top.Tag == "!!null":
		return newMapping(), nil
	default:
		return nil, fmt.Errorf("parser: frontmatter is not a mapping: %w", apperr.ErrInvalidDefinition)
	}
}

func render(root *yaml.Node, rest []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	if len(root.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(root); err != nil {
			return nil, fmt.Errorf("parser: render frontmatter: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("parser: render frontmatter: %w", err)
		}
	}
	buf.WriteString(delim + "\n")
	buf.Write(rest)
	return buf.Bytes(), nil
}

func encodeValue(v any) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &n, nil
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func keyNode(k string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
}
