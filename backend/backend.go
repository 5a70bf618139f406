package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/falcon/model"
)

var (
	// ErrNotImplemented is returned for operations a backend or the index does
	// not support, such as brushing a categorical dimension.
	ErrNotImplemented = errors.New("falcon: not implemented")

	// ErrDimensionNotFound is returned when a dimension has no column.
	ErrDimensionNotFound = errors.New("falcon: dimension not found")
)

// DimensionError reports a problem with a specific dimension.
type DimensionError struct {
	Dimension string
	Err       error
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension %q: %v", e.Dimension, e.Err)
}

func (e *DimensionError) Unwrap() error { return e.Err }

// NotFound returns a DimensionError wrapping ErrDimensionNotFound.
func NotFound(name string) error {
	return &DimensionError{Dimension: name, Err: ErrDimensionNotFound}
}

// DB is the data backend of a Falcon instance. Implementations either scan an
// in-memory table or push grouped aggregates down to a query engine; the index
// only depends on the shapes of the results.
//
// Filters passed to Histogram, Heatmap, Index1D and Index2D apply to all views
// except on the view's own dimensions: a view never filters against itself.
type DB interface {
	// Length returns the number of rows.
	Length(ctx context.Context) (int, error)

	// Count returns the number of rows passing all filters.
	Count(ctx context.Context, filters model.Filters) (int, error)

	// Range returns the extent of a continuous dimension or the distinct
	// values of a categorical one.
	Range(ctx context.Context, d *model.Dimension) (model.DimensionRange, error)

	// Histogram counts rows per bin of d.
	Histogram(ctx context.Context, d *model.Dimension, filters model.Filters) (model.BinnedCounts, error)

	// Heatmap counts rows per bin of (x, y).
	Heatmap(ctx context.Context, x, y *model.Dimension, filters model.Filters) (model.BinnedCounts, error)

	// Index1D builds the cubes of every passive view for a brushed dimension.
	// The result is keyed by position in passive.
	Index1D(ctx context.Context, active *model.Dimension, passive []model.ViewSpec, filters model.Filters) (map[int]model.Cube, error)

	// Index2D builds the cubes of every passive view for a brushed pair of
	// dimensions. The result is keyed by position in passive.
	Index2D(ctx context.Context, x, y *model.Dimension, passive []model.ViewSpec, filters model.Filters) (map[int]model.Cube, error)

	// Entries returns up to length indices of rows passing all filters,
	// skipping the first offset of them.
	Entries(ctx context.Context, offset, length int, filters model.Filters) ([]int, error)
}

// Closer is implemented by backends holding resources.
type Closer interface {
	Close() error
}

// CheckIndexable reports whether d can be the active dimension of an index.
func CheckIndexable(d *model.Dimension) error {
	if d.Kind != model.Continuous {
		return fmt.Errorf("%w: brushing categorical dimension %q", ErrNotImplemented, d.Name)
	}
	return nil
}

// CheckPassive reports whether the passive views can be indexed.
func CheckPassive(passive []model.ViewSpec) error {
	for _, v := range passive {
		if v.Arity() > 2 {
			return fmt.Errorf("%w: %d-dimensional view %s", ErrNotImplemented, v.Arity(), v.Name())
		}
	}
	return nil
}
