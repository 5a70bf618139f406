package cube

import (
	"context"

	"github.com/hupe1980/falcon/internal/bitset"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
)

// Histogram counts the rows of src per bin of view without building a cube.
// NoFilter counts every binnable row; Filter only those not excluded by the
// masks of other dimensions.
func Histogram(ctx context.Context, src Source, view model.ViewSpec, masks Masks) (model.BinnedCounts, error) {
	binners, _, err := binnersFor(src, view)
	if err != nil {
		return model.BinnedCounts{}, err
	}

	shape := view.Shape()
	filter := ndarray.New[int64](shape...)
	noFilter := ndarray.New[int64](shape...)
	relevant := masks.Relevant(view)

	idx := make([]int, len(shape))
	rows := src.Rows()
	for row := 0; row < rows; row++ {
		if row%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return model.BinnedCounts{}, err
			}
		}

		inRange := true
		for k, bin := range binners {
			v := bin(row)
			if v < 0 {
				inRange = false
				break
			}
			idx[k] = v
		}
		if !inRange {
			continue
		}

		noFilter.Increment(1, idx...)
		if !bitset.Excluded(relevant, row) {
			filter.Increment(1, idx...)
		}
	}

	return model.BinnedCounts{Filter: filter, NoFilter: noFilter}, nil
}
