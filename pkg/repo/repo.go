// Package repo defines the generic Repository interface and its Neo4j
// implementation.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node matches.
var ErrNotFound = errors.New("not found")

// Repository is a generic append-and-read store.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
}

// ListOpts controls pagination, filtering and ordering for List. Filter
// keys are property names matched by equality.
type ListOpts struct {
	Offset  int
	Limit   int
	Filter  map[string]any
	OrderBy string
	Desc    bool
}

// DefaultLimit applies when ListOpts.Limit is not positive.
const DefaultLimit = 100
