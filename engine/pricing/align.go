package pricing

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
)

// Align reindexes sp against schema: the result has exactly schema's names
// in schema's order, absent names are 0 and names outside the schema are
// dropped. The only failure is a present value that is not numeric.
func Align(sp Sparse, schema *artifact.Schema) (Vector, error) {
	values := make([]float64, schema.Len())
	for i := range values {
		name := schema.Name(i)
		raw, ok := sp[name]
		if !ok {
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			return Vector{}, &AlignmentError{Feature: name, Value: raw}
		}
		values[i] = f
	}
	return Vector{Schema: schema, Values: values}, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
