package columnar

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/falcon/internal/mask"
)

var (
	// ErrLength is returned when a column's length differs from the table's.
	ErrLength = errors.New("columnar: column length mismatch")

	// ErrDuplicateColumn is returned when a column name is added twice.
	ErrDuplicateColumn = errors.New("columnar: duplicate column")

	// ErrNoColumn is returned when a table has no column of the given name.
	ErrNoColumn = errors.New("columnar: no such column")

	// ErrUnsupportedType is returned for columns whose type cannot be binned.
	ErrUnsupportedType = errors.New("columnar: unsupported column type")
)

// Column is a read-only column. Continuous dimensions read Float, categorical
// dimensions read String.
type Column = mask.Column

// Table is a set of equally long named columns.
type Table interface {
	NumRows() int
	Column(name string) (Column, error)
	ColumnNames() []string
}

// Store is a Table backed by Go slices, one slice per column.
type Store struct {
	rows  int
	cols  map[string]Column
	names []string
}

// NewStore creates an empty store. The first column added fixes the row
// count.
func NewStore() *Store {
	return &Store{rows: -1, cols: make(map[string]Column)}
}

// AddFloat64 adds a numeric column. valid marks non-null rows; nil means all
// rows are valid. NaN values are treated as null.
func (s *Store) AddFloat64(name string, values []float64, valid []bool) error {
	return s.add(name, &floatColumn{values: values, valid: valid}, len(values), valid)
}

// AddInt64 adds an integer column, stored as float64.
func (s *Store) AddInt64(name string, values []int64, valid []bool) error {
	fs := make([]float64, len(values))
	for i, v := range values {
		fs[i] = float64(v)
	}
	return s.AddFloat64(name, fs, valid)
}

// AddString adds a categorical column. valid marks non-null rows; nil means
// all rows are valid.
func (s *Store) AddString(name string, values []string, valid []bool) error {
	return s.add(name, &stringColumn{values: values, valid: valid}, len(values), valid)
}

func (s *Store) add(name string, col Column, n int, valid []bool) error {
	if _, ok := s.cols[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
	}
	if valid != nil && len(valid) != n {
		return fmt.Errorf("%w: %q has %d values and %d validity flags", ErrLength, name, n, len(valid))
	}
	if s.rows >= 0 && n != s.rows {
		return fmt.Errorf("%w: %q has %d rows, table has %d", ErrLength, name, n, s.rows)
	}
	s.rows = n
	s.cols[name] = col
	s.names = append(s.names, name)
	return nil
}

// NumRows implements Table.
func (s *Store) NumRows() int { return max(s.rows, 0) }

// Column implements Table.
func (s *Store) Column(name string) (Column, error) {
	c, ok := s.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, name)
	}
	return c, nil
}

// ColumnNames implements Table.
func (s *Store) ColumnNames() []string { return slices.Clone(s.names) }

type floatColumn struct {
	values []float64
	valid  []bool
}

func (c *floatColumn) Len() int { return len(c.values) }

func (c *floatColumn) IsNull(i int) bool {
	return (c.valid != nil && !c.valid[i]) || math.IsNaN(c.values[i])
}

func (c *floatColumn) Float(i int) float64 { return c.values[i] }

func (c *floatColumn) String(i int) string { return formatFloat(c.values[i]) }

type stringColumn struct {
	values []string
	valid  []bool
}

func (c *stringColumn) Len() int { return len(c.values) }

func (c *stringColumn) IsNull(i int) bool { return c.valid != nil && !c.valid[i] }

func (c *stringColumn) Float(i int) float64 { return parseFloat(c.values[i]) }

func (c *stringColumn) String(i int) string { return c.values[i] }
