package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/hupe1980/falcon/backend/columnar"
)

// Rows iterates over a query result. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Executor runs a SQL query.
type Executor interface {
	Query(ctx context.Context, query string) (Rows, error)
}

// SQLExecutor runs queries on a database/sql handle.
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor creates an executor over db. Any registered driver works.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// Query implements Executor.
func (e *SQLExecutor) Query(ctx context.Context, query string) (Rows, error) {
	return e.db.QueryContext(ctx, query)
}

// HTTPOption configures an HTTPExecutor.
type HTTPOption func(*HTTPExecutor)

// WithRetryMax sets the number of retries of a failed request.
func WithRetryMax(n int) HTTPOption {
	return func(e *HTTPExecutor) { e.client.RetryMax = n }
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(lo, hi time.Duration) HTTPOption {
	return func(e *HTTPExecutor) {
		e.client.RetryWaitMin = lo
		e.client.RetryWaitMax = hi
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExecutor) { e.client.HTTPClient = c }
}

// WithHTTPLogger logs requests and retries.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(e *HTTPExecutor) { e.client.Logger = l }
}

// HTTPExecutor sends queries to a query service as GET <base>/query/<sql>
// and decodes the Arrow IPC stream it answers with. Transport failures and
// 5xx responses are retried.
type HTTPExecutor struct {
	base   string
	client *retryablehttp.Client
}

// NewHTTPExecutor creates an executor for the service at baseURL.
func NewHTTPExecutor(baseURL string, opts ...HTTPOption) *HTTPExecutor {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 3
	e := &HTTPExecutor{base: strings.TrimRight(baseURL, "/"), client: c}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query implements Executor.
func (e *HTTPExecutor) Query(ctx context.Context, query string) (Rows, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, e.base+"/query/"+url.PathEscape(query), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sqldb: query service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return decodeIPC(resp.Body)
}

// decodeIPC reads a whole Arrow IPC stream into Rows.
func decodeIPC(r io.Reader) (*arrowRows, error) {
	rdr, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("sqldb: reading arrow stream: %w", err)
	}
	defer rdr.Release()

	var recs []arrow.RecordBatch
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sqldb: reading arrow stream: %w", err)
	}

	tbl, err := columnar.FromRecords(rdr.Schema(), recs)
	if err != nil {
		return nil, err
	}
	cols := make([]columnar.Column, 0, len(tbl.ColumnNames()))
	for _, name := range tbl.ColumnNames() {
		c, err := tbl.Column(name)
		if err != nil {
			tbl.Release()
			return nil, err
		}
		cols = append(cols, c)
	}
	return &arrowRows{tbl: tbl, cols: cols, row: -1}, nil
}

// arrowRows adapts a decoded Arrow table to Rows.
type arrowRows struct {
	tbl  *columnar.ArrowTable
	cols []columnar.Column
	row  int
}

func (r *arrowRows) Next() bool {
	if r.tbl == nil {
		return false
	}
	r.row++
	return r.row < r.tbl.NumRows()
}

func (r *arrowRows) Scan(dest ...any) error {
	if len(dest) != len(r.cols) {
		return fmt.Errorf("sqldb: %d scan targets for %d columns", len(dest), len(r.cols))
	}
	if r.tbl == nil || r.row < 0 || r.row >= r.tbl.NumRows() {
		return errors.New("sqldb: Scan called without a current row")
	}
	for i, d := range dest {
		c, row := r.cols[i], r.row
		switch d := d.(type) {
		case *float64:
			if c.IsNull(row) {
				return fmt.Errorf("sqldb: column %d is null", i)
			}
			*d = c.Float(row)
		case *int64:
			if c.IsNull(row) {
				return fmt.Errorf("sqldb: column %d is null", i)
			}
			*d = int64(c.Float(row))
		case *string:
			*d = c.String(row)
		case *sql.NullFloat64:
			*d = sql.NullFloat64{Float64: c.Float(row), Valid: !c.IsNull(row)}
		case *sql.NullString:
			*d = sql.NullString{String: c.String(row), Valid: !c.IsNull(row)}
		default:
			return fmt.Errorf("sqldb: unsupported scan target %T", d)
		}
	}
	return nil
}

func (r *arrowRows) Err() error { return nil }

func (r *arrowRows) Close() error {
	if r.tbl != nil {
		r.tbl.Release()
		r.tbl = nil
	}
	return nil
}
