package pricing

import "github.com/WessleyAI/wessley-valuation/engine/artifact"

// Scale standardizes v with the fitted parameters: (v[i] - mean[i]) / scale[i].
func Scale(v Vector, p *artifact.ScalerParams) (Vector, error) {
	if err := checkDims(v, p); err != nil {
		return Vector{}, err
	}
	out := make([]float64, len(v.Values))
	for i, x := range v.Values {
		out[i] = (x - p.Mean[i]) / p.Scale[i]
	}
	return Vector{Schema: v.Schema, Values: out}, nil
}

// Unscale inverts Scale: v[i]*scale[i] + mean[i].
func Unscale(v Vector, p *artifact.ScalerParams) (Vector, error) {
	if err := checkDims(v, p); err != nil {
		return Vector{}, err
	}
	out := make([]float64, len(v.Values))
	for i, x := range v.Values {
		out[i] = x*p.Scale[i] + p.Mean[i]
	}
	return Vector{Schema: v.Schema, Values: out}, nil
}

func checkDims(v Vector, p *artifact.ScalerParams) error {
	if len(v.Values) != len(p.Mean) {
		return &DimensionMismatchError{Stage: "scale", Want: len(p.Mean), Got: len(v.Values)}
	}
	if len(p.Scale) != len(p.Mean) {
		return &DimensionMismatchError{Stage: "scale", Want: len(p.Mean), Got: len(p.Scale)}
	}
	return nil
}
