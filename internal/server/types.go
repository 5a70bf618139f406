package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hupe1980/falcon"
	"github.com/hupe1980/falcon/codec"
	"github.com/hupe1980/falcon/model"
)

// IntervalJSON is a half-open interval [lo, hi).
type IntervalJSON struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// BinningJSON is a continuous bin configuration.
type BinningJSON struct {
	Start float64 `json:"start"`
	Step  float64 `json:"step"`
	Stop  float64 `json:"stop"`
}

// DimensionJSON describes a dimension once it is initialized.
type DimensionJSON struct {
	Name       string        `json:"name"`
	Kind       string        `json:"kind"`
	Extent     *IntervalJSON `json:"extent,omitempty"`
	Binning    *BinningJSON  `json:"binning,omitempty"`
	Resolution int           `json:"resolution,omitempty"`
	Range      []string      `json:"range,omitempty"`
}

// AggregateJSON is the payload of one view update.
type AggregateJSON struct {
	View       string    `json:"view"`
	Shape      []int     `json:"shape"`
	Data       []float64 `json:"data"`
	NoFilter   []int64   `json:"noFilter,omitempty"`
	Total      float64   `json:"total"`
	Generation uint64    `json:"generation"`
}

// ViewJSON describes a view and its last aggregate.
type ViewJSON struct {
	Name       string         `json:"name"`
	Dimensions []string       `json:"dimensions"`
	Active     bool           `json:"active"`
	Aggregate  *AggregateJSON `json:"aggregate,omitempty"`
}

// ViewsResponse is returned by GET /api/views.
type ViewsResponse struct {
	Views      []ViewJSON      `json:"views"`
	Dimensions []DimensionJSON `json:"dimensions"`
}

// EntriesResponse is returned by GET /api/entries.
type EntriesResponse struct {
	Rows   []int `json:"rows"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// BrushRequest selects X on a histogram, X and Y on a heatmap. An empty
// request clears the brush.
type BrushRequest struct {
	X *IntervalJSON `json:"x,omitempty"`
	Y *IntervalJSON `json:"y,omitempty"`
}

func (r BrushRequest) brush(v falcon.View) (model.Brush, error) {
	if r.X == nil && r.Y == nil {
		return nil, nil
	}
	switch v.(type) {
	case *falcon.View1D:
		if r.X == nil || r.Y != nil {
			return nil, errors.New("histogram brush needs x only")
		}
		return model.Brush1D{Lo: r.X.Lo, Hi: r.X.Hi}, nil
	case *falcon.View2D:
		if r.X == nil || r.Y == nil {
			return nil, errors.New("heatmap brush needs x and y")
		}
		return model.Brush2D{
			X: model.Interval{Lo: r.X.Lo, Hi: r.X.Hi},
			Y: model.Interval{Lo: r.Y.Lo, Hi: r.Y.Hi},
		}, nil
	default:
		return nil, fmt.Errorf("view %q cannot be brushed", v.Name())
	}
}

// FilterJSON is either a range on a continuous dimension or a value set on
// a categorical one.
type FilterJSON struct {
	Range   *IntervalJSON `json:"range,omitempty"`
	Values  []string      `json:"values,omitempty"`
	Exclude bool          `json:"exclude,omitempty"`
}

func (f FilterJSON) filter() (model.Filter, error) {
	switch {
	case f.Range != nil && f.Values != nil:
		return nil, errors.New("filter has both range and values")
	case f.Range != nil:
		return model.Range{Lo: f.Range.Lo, Hi: f.Range.Hi}, nil
	case f.Values != nil:
		return model.Set{Values: f.Values, Exclude: f.Exclude}, nil
	default:
		return nil, errors.New("filter needs range or values")
	}
}

func filtersJSON(filters model.Filters) map[string]FilterJSON {
	out := make(map[string]FilterJSON, len(filters))
	for d, f := range filters {
		switch f := f.(type) {
		case model.Range:
			out[d.Name] = FilterJSON{Range: &IntervalJSON{Lo: f.Lo, Hi: f.Hi}}
		case model.Set:
			out[d.Name] = FilterJSON{Values: f.Values, Exclude: f.Exclude}
		}
	}
	return out
}

func viewJSON(v falcon.View) ViewJSON {
	spec := v.Spec()
	out := ViewJSON{
		Name:       v.Name(),
		Dimensions: make([]string, len(spec.Dimensions)),
		Active:     v.IsActive(),
	}
	for i, d := range spec.Dimensions {
		out.Dimensions[i] = d.Name
	}
	if a, ok := v.Aggregate(); ok {
		aj := aggregateJSON(a)
		out.Aggregate = &aj
	}
	return out
}

func aggregateJSON(a falcon.Aggregate) AggregateJSON {
	out := AggregateJSON{
		View:       a.View.Name(),
		Total:      a.Total(),
		Generation: a.Generation,
	}
	if a.Data != nil {
		out.Shape = a.Data.Shape()
		out.Data = a.Data.Values()
	}
	if a.NoFilter != nil {
		out.NoFilter = a.NoFilter.Values()
	}
	return out
}

func dimensionJSON(d *model.Dimension) DimensionJSON {
	out := DimensionJSON{
		Name:  d.Name,
		Kind:  d.Kind.String(),
		Range: d.Range,
	}
	if d.Kind == model.Continuous {
		out.Resolution = d.Resolution
	}
	if d.Extent != nil {
		out.Extent = &IntervalJSON{Lo: d.Extent.Lo, Hi: d.Extent.Hi}
	}
	if d.Binning != nil {
		out.Binning = &BinningJSON{Start: d.Binning.Start, Step: d.Binning.Step, Stop: d.Binning.Stop}
	}
	return out
}

// serializer adapts a codec.Codec to echo.JSONSerializer.
type serializer struct {
	codec codec.Codec
}

func (s serializer) Serialize(c echo.Context, i any, _ string) error {
	return s.codec.Encode(c.Response(), i)
}

func (s serializer) Deserialize(c echo.Context, i any) error {
	if err := s.codec.Decode(c.Request().Body, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body").SetInternal(err)
	}
	return nil
}
