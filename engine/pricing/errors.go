package pricing

import (
	"errors"
	"fmt"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
)

// Error taxonomy of the pipeline. The artifact-level errors are shared with
// the artifact package so errors.As works from either side.
type (
	ArtifactLoadError      = artifact.LoadError
	DimensionMismatchError = artifact.DimensionMismatchError
)

// Sentinels for errors.Is.
var (
	ErrArtifactLoad      = artifact.ErrArtifactLoad
	ErrDimensionMismatch = artifact.ErrDimensionMismatch
	ErrAlignment         = errors.New("alignment failed")
	ErrPrediction        = errors.New("prediction failed")
)

// AlignmentError reports a feature value that is not numeric.
type AlignmentError struct {
	Feature string
	Value   any
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("align: feature %q: value %v (%T) is not numeric", e.Feature, e.Value, e.Value)
}

func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }

// PredictionError wraps a failure inside the model call.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("predict: %v", e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

func (e *PredictionError) Is(target error) bool { return target == ErrPrediction }

// errorKind labels err for metrics and logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrArtifactLoad):
		return "artifact_load"
	case errors.Is(err, ErrAlignment):
		return "alignment"
	case errors.Is(err, ErrPrediction):
		return "prediction"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	default:
		return "other"
	}
}
