package sqldb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/internal/resolve"
	"github.com/hupe1980/falcon/model"
)

func newMock(t *testing.T, opts ...Option) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(NewSQLExecutor(db), "flights", opts...), mock
}

func exact(q string) string { return "^" + regexp.QuoteMeta(q) + "$" }

func TestLengthAndCount(t *testing.T) {
	ctx := context.Background()
	b, mock := newMock(t)
	c := dimC("a", "b")

	mock.ExpectQuery(exact(`SELECT count(*) AS cnt FROM "flights"`)).
		WillReturnRows(sqlmock.NewRows([]string{"cnt"}).AddRow(int64(10)))
	n, err := b.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	mock.ExpectQuery(exact(`SELECT count(*) AS cnt FROM "flights" WHERE ("c" IS NOT NULL AND "c" IN ('a'))`)).
		WillReturnRows(sqlmock.NewRows([]string{"cnt"}).AddRow(int64(4)))
	n, err = b.Count(ctx, model.Filters{c: model.Set{Values: []string{"a"}}})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRange(t *testing.T) {
	ctx := context.Background()
	b, mock := newMock(t)

	mock.ExpectQuery(exact(`SELECT min("delay") AS lo, max("delay") AS hi FROM "flights"`)).
		WillReturnRows(sqlmock.NewRows([]string{"lo", "hi"}).AddRow(-12.5, 180.0))
	r, err := b.Range(ctx, &model.Dimension{Name: "delay"})
	require.NoError(t, err)
	assert.Equal(t, model.Interval{Lo: -12.5, Hi: 180}, r.Extent)

	mock.ExpectQuery(exact(`SELECT min("empty") AS lo, max("empty") AS hi FROM "flights"`)).
		WillReturnRows(sqlmock.NewRows([]string{"lo", "hi"}).AddRow(nil, nil))
	r, err = b.Range(ctx, &model.Dimension{Name: "empty"})
	require.NoError(t, err)
	assert.Equal(t, model.DimensionRange{}, r)

	mock.ExpectQuery(exact(`SELECT DISTINCT "c" AS v FROM "flights" WHERE "c" IS NOT NULL ORDER BY v`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("AA").AddRow("DL"))
	r, err = b.Range(ctx, dimC())
	require.NoError(t, err)
	assert.Equal(t, []string{"AA", "DL"}, r.Values)

	mock.ExpectQuery(`min\("nope"\)`).WillReturnError(errors.New("no such column"))
	_, err = b.Range(ctx, &model.Dimension{Name: "nope"})
	var de *backend.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "nope", de.Dimension)
}

func TestHistogram(t *testing.T) {
	ctx := context.Background()
	b, mock := newMock(t)
	x, c := dimX(t), dimC("a", "b")

	mock.ExpectQuery(`GROUP BY key_0$`).
		WillReturnRows(sqlmock.NewRows([]string{"key_0", "cnt", "fcnt"}).
			AddRow(0.0, int64(2), int64(1)).
			AddRow(9.0, int64(1), int64(1)).
			AddRow(10.0, int64(1), int64(0)). // closing edge
			AddRow(12.0, int64(5), int64(5))) // out of range
	h, err := b.Histogram(ctx, x, model.Filters{x: model.Range{Lo: 0, Hi: 1}, c: model.Set{Values: []string{"a"}}})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0, 0, 0, 0, 0, 0, 0, 0, 2}, h.NoFilter.Values())
	assert.Equal(t, []int64{1, 0, 0, 0, 0, 0, 0, 0, 0, 1}, h.Filter.Values())

	mock.ExpectQuery(`GROUP BY key_0$`).
		WillReturnRows(sqlmock.NewRows([]string{"key_0", "cnt", "fcnt"}).
			AddRow("b", int64(5), int64(2)).
			AddRow("zzz", int64(1), int64(1)))
	h, err = b.Histogram(ctx, c, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 5}, h.NoFilter.Values())
	assert.Equal(t, []int64{0, 2}, h.Filter.Values())
}

func TestHeatmap(t *testing.T) {
	ctx := context.Background()
	b, mock := newMock(t)
	x, c := dimX(t), dimC("a", "b")

	mock.ExpectQuery(`GROUP BY key_0, key_1$`).
		WillReturnRows(sqlmock.NewRows([]string{"key_0", "key_1", "cnt", "fcnt"}).
			AddRow(3.0, "a", int64(2), int64(2)).
			AddRow(3.0, "b", int64(1), int64(0)))
	h, err := b.Heatmap(ctx, x, c, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 2}, h.NoFilter.Shape())
	assert.Equal(t, int64(2), h.NoFilter.Get(3, 0))
	assert.Equal(t, int64(1), h.NoFilter.Get(3, 1))
	assert.Equal(t, int64(0), h.Filter.Get(3, 1))
}

func TestIndex1D(t *testing.T) {
	ctx := context.Background()
	b, mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	x, c := dimX(t), dimC("a", "b")

	count := sqlmock.NewRows([]string{"key_active_0", "cnt", "fcnt"}).AddRow(-1.0, int64(2), int64(2))
	for p := 1; p <= 10; p++ {
		count.AddRow(float64(p), int64(1), int64(1))
	}
	count.AddRow(11.0, int64(1), int64(1)) // closing edge of the extent
	mock.ExpectQuery(`GROUP BY key_active_0$`).WillReturnRows(count)

	mock.ExpectQuery(`GROUP BY key_active_0, key_0$`).
		WillReturnRows(sqlmock.NewRows([]string{"key_active_0", "key_0", "cnt", "fcnt"}).
			AddRow(3.0, "a", int64(1), int64(1)).
			AddRow(4.0, "b", int64(1), int64(1)).
			AddRow(5.0, "a", int64(1), int64(1)).
			AddRow(-1.0, "a", int64(4), int64(4)))

	cubes, err := b.Index1D(ctx, x, []model.ViewSpec{{}, {Dimensions: []*model.Dimension{c}}}, nil)
	require.NoError(t, err)
	require.Len(t, cubes, 2)

	assert.Equal(t, []int64{13}, cubes[0].NoFilter.Values())
	out, err := resolve.Resolve1D(cubes[0], x, model.Brush1D{Lo: 2, Hi: 5}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, out.Values())
	out, err = resolve.Resolve1D(cubes[0], x, model.Brush1D{Lo: 0, Hi: 10}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{11}, out.Values())

	assert.Equal(t, []int64{6, 1}, cubes[1].NoFilter.Values())
	out, err = resolve.Resolve1D(cubes[1], x, model.Brush1D{Lo: 2, Hi: 5}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, out.Values())
}

func TestIndexErrors(t *testing.T) {
	ctx := context.Background()
	b, mock := newMock(t)
	x, c := dimX(t), dimC("a", "b")

	_, err := b.Index1D(ctx, c, []model.ViewSpec{{}}, nil)
	assert.ErrorIs(t, err, backend.ErrNotImplemented)

	mock.ExpectQuery(`key_active_0`).WillReturnError(errors.New("boom"))
	_, err = b.Index1D(ctx, x, []model.ViewSpec{{}}, nil)
	assert.ErrorContains(t, err, "boom")
}

func TestEntries(t *testing.T) {
	ctx := context.Background()
	c := dimC("a", "b")

	b, _ := newMock(t)
	_, err := b.Entries(ctx, 0, 10, nil)
	assert.ErrorIs(t, err, backend.ErrNotImplemented)

	b, mock := newMock(t, WithRowID("id"), WithDialect(MySQL))
	mock.ExpectQuery(exact("SELECT `id` FROM `flights` WHERE (`c` IS NOT NULL AND `c` IN ('b')) ORDER BY `id` LIMIT 2 OFFSET 1")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(5)))
	rows, err := b.Entries(ctx, 1, 2, model.Filters{c: model.Set{Values: []string{"b"}}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, rows)
}
