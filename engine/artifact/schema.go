package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Schema is the ordered feature list a model was trained on. It is
// immutable once built.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds a Schema from names. Later duplicates of a name do not
// replace the first position in the index.
func NewSchema(names []string) *Schema {
	s := &Schema{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, n := range s.names {
		if _, ok := s.index[n]; !ok {
			s.index[n] = i
		}
	}
	return s
}

// Len returns the number of features.
func (s *Schema) Len() int { return len(s.names) }

// Name returns the feature name at position i.
func (s *Schema) Name(i int) string { return s.names[i] }

// Names returns a copy of the ordered feature names.
func (s *Schema) Names() []string { return append([]string(nil), s.names...) }

// Index returns the position of name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// WithPrefix returns the feature names starting with prefix, in schema order.
func (s *Schema) WithPrefix(prefix string) []string {
	var out []string
	for _, n := range s.names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

// containerKeys are the object keys a feature list may be nested under.
var containerKeys = []string{"features", "feature_names", "feature_names_in_", "columns"}

// decodeSchema accepts a JSON array of names, or an object holding one under
// a known key. Elements that are not strings are kept under their string form
// and reported as warnings.
func decodeSchema(data []byte) (*Schema, []SchemaLoadWarning, error) {
	raw, err := decodeFeatureList(data)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, errors.New("feature list is empty")
	}

	names := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	var warnings []SchemaLoadWarning
	for i, v := range raw {
		if s, ok := v.(string); ok {
			names[i] = s
		} else {
			names[i] = fmt.Sprint(v)
			warnings = append(warnings, SchemaLoadWarning{
				Index: i, Raw: v, Coerced: names[i],
				Reason: fmt.Sprintf("non-string element of type %T", v),
			})
		}
		if first, dup := seen[names[i]]; dup {
			warnings = append(warnings, SchemaLoadWarning{
				Index: i, Raw: v, Coerced: names[i],
				Reason: fmt.Sprintf("duplicate of feature %d", first),
			})
			continue
		}
		seen[names[i]] = i
	}
	return NewSchema(names), warnings, nil
}

func decodeFeatureList(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}

	switch v := top.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, k := range containerKeys {
			if list, ok := v[k].([]any); ok {
				return list, nil
			}
		}
		return nil, fmt.Errorf("decode features: object has none of the keys %v", containerKeys)
	default:
		return nil, fmt.Errorf("decode features: unsupported container %T", top)
	}
}
