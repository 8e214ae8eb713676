package yaml

import (
	"bytes"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

func Unmarshal(in []byte, out any) error {
	return yaml.Unmarshal(in, out)
}

func Encode(v any, indent int) ([]byte, error) {
	b := bytes.NewBuffer(nil)
	e := yaml.NewEncoder(b)
	e.SetIndent(indent)

	if err := e.Encode(v); err != nil {
		return nil, err
	}
	if err := e.Close(); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Merge combines documents key by key, later documents win. Broken documents
// are skipped and reported in the returned error.
func Merge(docs ...[]byte) ([]byte, error) {
	dst := map[string]any{}

	var errs []error
	for _, doc := range docs {
		var src map[string]any
		if err := yaml.Unmarshal(doc, &src); err != nil {
			errs = append(errs, err)
			continue
		}
		mergeMap(dst, src)
	}

	b, err := Encode(dst, 2)
	if err != nil {
		return nil, err
	}
	return b, errors.Join(errs...)
}

func mergeMap(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeMap(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// Patch sets the value at path in a YAML document. Lines outside the changed
// key keep their formatting and comments. Missing parents are created and a
// nil value removes the key.
func Patch(src []byte, path []string, value any) ([]byte, error) {
	if len(path) == 0 {
		return nil, errors.New("yaml: empty path")
	}

	root, err := rootMapping(src)
	if err != nil {
		return nil, err
	}

	// walk down while the parents exist and are mappings
	parent, depth := root, 0
	for parent != nil && depth < len(path)-1 {
		_, child := FindChild(parent, path[depth])
		if child == nil || child.Kind != yaml.MappingNode {
			break
		}
		parent = child
		depth++
	}

	if value == nil && depth < len(path)-1 {
		return src, nil // nothing to remove
	}

	// wrap the value into the parents that do not exist yet
	key, v := path[depth], value
	for i := len(path) - 1; i > depth; i-- {
		v = map[string]any{path[i]: v}
	}

	var dst []byte
	if parent == nil {
		dst, err = appendKey(src, key, v)
	} else {
		dst, err = setKey(src, parent, key, v)
	}
	if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(dst, map[string]any{}); err != nil {
		return nil, err
	}

	return dst, nil
}

func rootMapping(src []byte) (*yaml.Node, error) {
	if len(src) == 0 {
		return nil, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, err
	}

	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil
	}
	return doc.Content[0], nil
}

// FindChild returns the key and value nodes of a mapping entry.
func FindChild(node *yaml.Node, name string) (key, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == name {
			return node.Content[i], node.Content[i+1]
		}
	}
	return nil, nil
}

func firstChild(node *yaml.Node) *yaml.Node {
	if len(node.Content) == 0 {
		return node
	}
	return node.Content[0]
}

func lastChild(node *yaml.Node) *yaml.Node {
	if len(node.Content) == 0 {
		return node
	}
	return lastChild(node.Content[len(node.Content)-1])
}

func setKey(src []byte, parent *yaml.Node, key string, value any) ([]byte, error) {
	put, err := Encode(map[string]any{key: value}, 2)
	if err != nil {
		return nil, err
	}

	var i0, i1 int

	if nodeKey, nodeValue := FindChild(parent, key); nodeKey != nil {
		// replace all lines of the existing entry
		put = Indent(put, nodeKey.Column-1)
		i0 = LineOffset(src, nodeKey.Line)
		i1 = LineOffset(src, lastChild(nodeValue).Line+1)
	} else {
		if value == nil {
			return src, nil
		}
		// insert after the last line of the parent
		put = Indent(put, firstChild(parent).Column-1)
		i0 = LineOffset(src, lastChild(parent).Line+1)
		i1 = i0
	}

	if value == nil {
		put = nil
	}

	if i0 < 0 {
		// last line without line break
		src = append(src, '\n')
		return append(src, put...), nil
	}
	if i1 < 0 {
		i1 = len(src)
	}

	dst := make([]byte, 0, len(src)+len(put))
	dst = append(dst, src[:i0]...)
	dst = append(dst, put...)
	return append(dst, src[i1:]...), nil
}

func appendKey(src []byte, key string, value any) ([]byte, error) {
	put, err := Encode(map[string]any{key: value}, 2)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, len(src)+len(put)+1)
	dst = append(dst, src...)
	if n := len(src); n > 0 && src[n-1] != '\n' {
		dst = append(dst, '\n')
	}
	return append(dst, put...), nil
}

// Indent prefixes every line of src with n spaces.
func Indent(src []byte, n int) []byte {
	if n <= 0 {
		return src
	}

	pre := strings.Repeat(" ", n)

	var dst []byte
	for len(src) > 0 {
		dst = append(dst, pre...)
		i := bytes.IndexByte(src, '\n') + 1
		if i == 0 {
			return append(dst, src...)
		}
		dst = append(dst, src[:i]...)
		src = src[i:]
	}
	return dst
}

// LineOffset returns the byte offset of a 1-based line or -1 when the
// document has fewer lines.
func LineOffset(b []byte, line int) int {
	offset := 0
	for l := 1; l < line; l++ {
		i := bytes.IndexByte(b[offset:], '\n') + 1
		if i == 0 {
			return -1
		}
		offset += i
	}
	return offset
}
