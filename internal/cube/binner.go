package cube

import (
	"fmt"

	"github.com/hupe1980/falcon/internal/mask"
	"github.com/hupe1980/falcon/model"
)

// binner returns the bin of a row, or -1 when the row has no bin.
type binner func(row int) int

func binnerFor(d *model.Dimension, col mask.Column) (binner, error) {
	switch d.Kind {
	case model.Continuous:
		if d.Binning == nil {
			return nil, fmt.Errorf("cube: dimension %q is not initialized", d.Name)
		}
		cfg := *d.Binning
		return func(row int) int {
			if col.IsNull(row) {
				return -1
			}
			b, ok := cfg.Bin(col.Float(row))
			if !ok {
				return -1
			}
			return b
		}, nil
	case model.Categorical:
		if d.Range == nil {
			return nil, fmt.Errorf("cube: dimension %q is not initialized", d.Name)
		}
		index := d.CategoryIndex()
		return func(row int) int {
			if col.IsNull(row) {
				return -1
			}
			b, ok := index[col.String(row)]
			if !ok {
				return -1
			}
			return b
		}, nil
	default:
		return nil, fmt.Errorf("cube: dimension %q has unknown kind %v", d.Name, d.Kind)
	}
}

func binnersFor(src Source, view model.ViewSpec) ([]binner, []int, error) {
	binners := make([]binner, len(view.Dimensions))
	shape := make([]int, len(view.Dimensions))
	for k, d := range view.Dimensions {
		col, err := src.Column(d)
		if err != nil {
			return nil, nil, err
		}
		bin, err := binnerFor(d, col)
		if err != nil {
			return nil, nil, err
		}
		binners[k] = bin
		shape[k] = d.NumBins()
	}
	return binners, shape, nil
}
