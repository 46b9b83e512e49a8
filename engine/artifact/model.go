package artifact

import (
	"encoding/json"
	"fmt"
)

// Model is a trained regressor: one scaled feature vector in, one price out.
type Model interface {
	Predict(features []float64) (float64, error)
}

// Dimensioned is implemented by models that know their input width.
type Dimensioned interface {
	NumFeatures() int
}

// LinearModel is an ordinary least squares regressor.
type LinearModel struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Predict computes intercept + coef·features.
func (m *LinearModel) Predict(features []float64) (float64, error) {
	if len(features) != len(m.Coefficients) {
		return 0, &DimensionMismatchError{Stage: "linear model", Want: len(m.Coefficients), Got: len(features)}
	}
	y := m.Intercept
	for i, c := range m.Coefficients {
		y += c * features[i]
	}
	return y, nil
}

func (m *LinearModel) NumFeatures() int { return len(m.Coefficients) }

type modelFile struct {
	Kind         string    `json:"kind"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// decodeModel reads a serialized model. Only linear models are supported; an
// empty kind means linear.
func decodeModel(data []byte) (Model, error) {
	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	switch f.Kind {
	case "", "linear":
		if len(f.Coefficients) == 0 {
			return nil, fmt.Errorf("decode model: linear model has no coefficients")
		}
		return &LinearModel{Coefficients: f.Coefficients, Intercept: f.Intercept}, nil
	default:
		return nil, fmt.Errorf("decode model: unsupported kind %q", f.Kind)
	}
}
