// Package pricing turns a vehicle Record into a price estimate: it one-hot
// encodes the record, aligns the sparse features to the model's schema,
// applies the fitted scaler and runs the regression model.
package pricing

import (
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
	"github.com/WessleyAI/wessley-valuation/engine/domain"
)

// Sparse maps feature names to numeric values. Absent names mean zero.
type Sparse map[string]any

// Vector is a dense feature vector in schema order.
type Vector struct {
	Schema *artifact.Schema
	Values []float64
}

// Len returns the number of features.
func (v Vector) Len() int { return len(v.Values) }

// Names returns the feature names in vector order.
func (v Vector) Names() []string {
	if v.Schema == nil {
		return nil
	}
	return v.Schema.Names()
}

// Get returns the value of the named feature.
func (v Vector) Get(name string) (float64, bool) {
	if v.Schema == nil {
		return 0, false
	}
	i, ok := v.Schema.Index(name)
	if !ok {
		return 0, false
	}
	return v.Values[i], true
}

// Sparse converts the vector back into a name→value map.
func (v Vector) Sparse() Sparse {
	sp := make(Sparse, len(v.Values))
	for i, x := range v.Values {
		sp[v.Schema.Name(i)] = x
	}
	return sp
}

// Estimate is the pipeline output. Price is never negative; WasClamped is
// set when the model predicted below zero, which callers present as a
// negligible-value advisory.
type Estimate struct {
	Price      float64 `json:"price"`
	Raw        float64 `json:"raw"`
	WasClamped bool    `json:"was_clamped"`
	Generation string  `json:"generation"`
}

// Trace holds every intermediate product of one pipeline run.
type Trace struct {
	ID         string        `json:"id"`
	Record     domain.Record `json:"record"`
	Sparse     Sparse        `json:"sparse"`
	Aligned    Vector        `json:"-"`
	Scaled     Vector        `json:"-"`
	Estimate   Estimate      `json:"estimate"`
	Generation string        `json:"generation"`
	At         time.Time     `json:"at"`
}
