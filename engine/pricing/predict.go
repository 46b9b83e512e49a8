package pricing

import (
	"errors"
	"math"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
)

var errNonFinite = errors.New("model returned a non-finite value")

// Predict runs the model on a scaled vector and clamps the output at zero.
func Predict(v Vector, m artifact.Model) (Estimate, error) {
	y, err := m.Predict(v.Values)
	if err != nil {
		return Estimate{}, &PredictionError{Err: err}
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return Estimate{}, &PredictionError{Err: errNonFinite}
	}

	est := Estimate{Price: y, Raw: y}
	if y < 0 {
		est.Price = 0
		est.WasClamped = true
	}
	return est, nil
}
