package artifact

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrArtifactLoad      = errors.New("artifact load failed")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// LoadError reports a missing, unreadable or undecodable artifact.
type LoadError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("artifact: load %s (%s): %v", e.Artifact, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrArtifactLoad }

// DimensionMismatchError reports two artifact-generation dependent lengths
// that disagree, e.g. a scaler fitted on a different feature list.
type DimensionMismatchError struct {
	Stage string
	Want  int
	Got   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: dimension mismatch: want %d features, got %d", e.Stage, e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// SchemaLoadWarning records a feature-list element that was not a string and
// was kept under its string form instead.
type SchemaLoadWarning struct {
	Index   int    `json:"index"`
	Raw     any    `json:"raw"`
	Coerced string `json:"coerced"`
	Reason  string `json:"reason"`
}

func (w SchemaLoadWarning) String() string {
	return fmt.Sprintf("feature %d: %s (raw=%v, using %q)", w.Index, w.Reason, w.Raw, w.Coerced)
}
