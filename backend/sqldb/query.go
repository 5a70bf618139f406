package sqldb

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/falcon/model"
)

// ErrFilter is returned for filters that cannot be expressed in SQL.
var ErrFilter = errors.New("sqldb: invalid filter")

// generator renders the queries of one table.
type generator struct {
	dialect Dialect
	table   string
	columns map[string]string
}

func (g *generator) from() string { return quoteName(g.dialect, g.table) }

// col returns the quoted column backing d.
func (g *generator) col(d *model.Dimension) string {
	name := d.Name
	if c, ok := g.columns[d.Name]; ok {
		name = c
	}
	return g.dialect.QuoteIdent(name)
}

// filter renders a WHERE predicate that keeps the rows passing f. Nulls never
// pass.
func (g *generator) filter(d *model.Dimension, f model.Filter) (string, error) {
	col := g.col(d)
	switch f := f.(type) {
	case model.Range:
		if d.Kind != model.Continuous {
			return "", fmt.Errorf("%w: range on %s dimension %q", ErrFilter, d.Kind, d.Name)
		}
		r := model.Interval(f).Normalize()
		if math.IsNaN(r.Lo) || math.IsNaN(r.Hi) {
			return "", fmt.Errorf("%w: NaN bound on %q", ErrFilter, d.Name)
		}
		if math.IsInf(r.Lo, 1) {
			return "1 = 0", nil
		}
		var parts []string
		if finite(r.Lo) {
			parts = append(parts, fmt.Sprintf("%s >= %s", col, number(r.Lo)))
		}
		if finite(r.Hi) {
			parts = append(parts, fmt.Sprintf("%s < %s", col, number(r.Hi)))
		} else if r.Hi < 0 {
			return "1 = 0", nil
		}
		if len(parts) == 0 {
			return col + " IS NOT NULL", nil
		}
		return strings.Join(parts, " AND "), nil
	case model.Set:
		if d.Kind != model.Categorical {
			return "", fmt.Errorf("%w: set on %s dimension %q", ErrFilter, d.Kind, d.Name)
		}
		if len(f.Values) == 0 {
			if f.Exclude {
				return col + " IS NOT NULL", nil
			}
			return "1 = 0", nil
		}
		vals := make([]string, len(f.Values))
		for i, v := range f.Values {
			vals[i] = quoteString(v)
		}
		op := "IN"
		if f.Exclude {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s IS NOT NULL AND %s %s (%s)", col, col, op, strings.Join(vals, ", ")), nil
	default:
		return "", fmt.Errorf("%w: unsupported filter %T", ErrFilter, f)
	}
}

// where renders the conjunction of filters in deterministic order.
func (g *generator) where(filters model.Filters) ([]string, error) {
	var out []string
	for _, d := range filters.Sorted() {
		p, err := g.filter(d, filters[d])
		if err != nil {
			return nil, err
		}
		out = append(out, "("+p+")")
	}
	return out, nil
}

// binKey returns the key expression of d and the predicate that restricts
// rows to keys in range.
func (g *generator) binKey(d *model.Dimension) (key, pred string, err error) {
	col := g.col(d)
	switch d.Kind {
	case model.Continuous:
		if d.Binning == nil {
			return "", "", fmt.Errorf("sqldb: dimension %q is not initialized", d.Name)
		}
		return g.floorKey(col, *d.Binning), g.between(col, *d.Binning), nil
	case model.Categorical:
		return col, col + " IS NOT NULL", nil
	default:
		return "", "", fmt.Errorf("%w: %q has unknown kind %v", model.ErrInvalidDimension, d.Name, d.Kind)
	}
}

func (g *generator) floorKey(col string, b model.BinConfig) string {
	return fmt.Sprintf("floor((%s - %s) / %s)", col, number(b.Start), number(b.Step))
}

func (g *generator) between(col string, b model.BinConfig) string {
	return fmt.Sprintf("%s >= %s AND %s <= %s", col, number(b.Start), col, number(b.Stop))
}

// pixelKeys returns one CASE expression per active dimension. Rows outside
// the pixel range of any active dimension get -1 on every axis.
func (g *generator) pixelKeys(active []*model.Dimension) []string {
	conds := make([]string, len(active))
	for i, d := range active {
		conds[i] = g.between(g.col(d), d.Pixels())
	}
	cond := strings.Join(conds, " AND ")

	keys := make([]string, len(active))
	for i, d := range active {
		keys[i] = fmt.Sprintf("CASE WHEN %s THEN %s ELSE -1 END", cond, g.floorKey(g.col(d), d.Pixels()))
	}
	return keys
}

// query assembles SELECT ... FROM ... WHERE ... GROUP BY.
type query struct {
	selects []string
	where   []string
	groupBy []string
	orderBy string
	limit   string
}

func (g *generator) render(q query) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(q.selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(g.from())
	if len(q.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.where, " AND "))
	}
	if len(q.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(q.groupBy, ", "))
	}
	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.orderBy)
	}
	if q.limit != "" {
		sb.WriteString(" ")
		sb.WriteString(q.limit)
	}
	return sb.String()
}

// viewQuery counts the rows of view, optionally keyed by the pixels of
// active. The last two columns are the total and the filtered count; the
// leading columns are the pixel keys followed by the view's keys.
func (g *generator) viewQuery(active []*model.Dimension, view model.ViewSpec, filters model.Filters) (string, error) {
	var q query

	for i, k := range g.pixelKeys(active) {
		alias := fmt.Sprintf("key_active_%d", i)
		q.selects = append(q.selects, k+" AS "+alias)
		q.groupBy = append(q.groupBy, alias)
	}
	for i, d := range view.Dimensions {
		key, pred, err := g.binKey(d)
		if err != nil {
			return "", err
		}
		alias := fmt.Sprintf("key_%d", i)
		q.selects = append(q.selects, key+" AS "+alias)
		q.groupBy = append(q.groupBy, alias)
		q.where = append(q.where, "("+pred+")")
	}

	preds, err := g.where(filters)
	if err != nil {
		return "", err
	}
	q.selects = append(q.selects, "count(*) AS cnt")
	if len(active) > 0 || len(preds) == 0 {
		// Cubes are filtered in WHERE; their unbrushed counts come from the
		// same rows.
		q.where = append(q.where, preds...)
		q.selects = append(q.selects, "count(*) AS fcnt")
	} else {
		q.selects = append(q.selects, fmt.Sprintf("sum(CASE WHEN %s THEN 1 ELSE 0 END) AS fcnt", strings.Join(preds, " AND ")))
	}
	return g.render(q), nil
}
