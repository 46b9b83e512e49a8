package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ScalerParams is a fitted standard scaler: one (mean, scale) pair per
// schema feature, in schema order.
type ScalerParams struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Len returns the number of features the scaler was fitted on.
func (p *ScalerParams) Len() int { return len(p.Mean) }

type scalerFile struct {
	Mean   []float64 `json:"mean"`
	Scale  []float64 `json:"scale"`
	MeanU  []float64 `json:"mean_"`
	ScaleU []float64 `json:"scale_"`
}

// decodeScaler reads {"mean":[...],"scale":[...]}; the fitted-attribute
// spellings mean_ and scale_ are accepted as well. It returns the indices
// whose scale was zero, which are replaced by 1.
func decodeScaler(data []byte) (*ScalerParams, []int, error) {
	var f scalerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("decode scaler: %w", err)
	}
	mean, scale := f.Mean, f.Scale
	if mean == nil {
		mean = f.MeanU
	}
	if scale == nil {
		scale = f.ScaleU
	}
	if len(mean) == 0 {
		return nil, nil, errors.New("decode scaler: no mean values")
	}
	if len(mean) != len(scale) {
		return nil, nil, &DimensionMismatchError{Stage: "scaler", Want: len(mean), Got: len(scale)}
	}

	var zeroed []int
	for i, s := range scale {
		if s == 0 {
			scale[i] = 1
			zeroed = append(zeroed, i)
		}
	}
	return &ScalerParams{Mean: mean, Scale: scale}, zeroed, nil
}
