package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hupe1980/falcon"
	"github.com/hupe1980/falcon/codec"
	"github.com/hupe1980/falcon/model"
)

const (
	defaultEntriesLimit = 100
	maxEntriesLimit     = 10_000
)

// Server exposes one Falcon instance over HTTP.
type Server struct {
	f       *falcon.Falcon
	dims    map[string]*model.Dimension
	order   []*model.Dimension
	codec   codec.Codec
	logger  *slog.Logger
	metrics http.Handler
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCodec sets the JSON codec of requests and responses.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRequestTimeout bounds the time a request may wait for an index build.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a Server for f. dims are the dimensions filters may address,
// by name.
func New(f *falcon.Falcon, dims []*model.Dimension, opts ...Option) *Server {
	s := &Server{
		f:       f,
		dims:    make(map[string]*model.Dimension, len(dims)),
		order:   dims,
		codec:   codec.Default,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
	for _, d := range dims {
		s.dims[d.Name] = d
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Echo returns an echo instance with the routes and middleware installed.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = serializer{codec: s.codec}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelWarn
			}
			s.logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.Any("error", v.Error),
			)
			return nil
		},
	}))

	s.RegisterRoutes(e)
	return e
}

// RegisterRoutes installs the API routes on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/views", s.GetViews)
	api.POST("/views/:name/activate", s.ActivateView)
	api.POST("/views/:name/brush", s.Brush)
	api.GET("/filters", s.GetFilters)
	api.PUT("/filters/:dimension", s.SetFilter)
	api.DELETE("/filters/:dimension", s.ClearFilter)
	api.GET("/entries", s.GetEntries)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *Server) context(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.timeout)
}

// --- HANDLERS ---

// GetViews lists the views, their last aggregates and the dimensions.
func (s *Server) GetViews(c echo.Context) error {
	views := s.f.Views()
	out := ViewsResponse{
		Views:      make([]ViewJSON, 0, len(views)),
		Dimensions: make([]DimensionJSON, 0, len(s.order)),
	}
	for _, v := range views {
		out.Views = append(out.Views, viewJSON(v))
	}
	for _, d := range s.order {
		out.Dimensions = append(out.Dimensions, dimensionJSON(d))
	}
	return c.JSON(http.StatusOK, out)
}

// ActivateView makes the named view the brushed one and waits for its index.
func (s *Server) ActivateView(c echo.Context) error {
	v, err := s.view(c.Param("name"))
	if err != nil {
		return err
	}
	ctx, cancel := s.context(c)
	defer cancel()

	if err := s.f.Activate(ctx, v); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

// Brush resolves a brush on the named view, which must be active.
func (s *Server) Brush(c echo.Context) error {
	v, err := s.view(c.Param("name"))
	if err != nil {
		return err
	}
	if !v.IsActive() {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("view %q is not active", v.Name()))
	}

	var req BrushRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	brush, err := req.brush(v)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := s.context(c)
	defer cancel()

	aggs, err := s.f.ResolveBrush(ctx, brush)
	if err != nil {
		return err
	}
	out := make(map[string]AggregateJSON, len(aggs))
	for pv, a := range aggs {
		out[pv.Name()] = aggregateJSON(a)
	}
	return c.JSON(http.StatusOK, out)
}

// GetFilters returns the current filters by dimension name.
func (s *Server) GetFilters(c echo.Context) error {
	return c.JSON(http.StatusOK, filtersJSON(s.f.Filters()))
}

// SetFilter replaces the filter of a dimension.
func (s *Server) SetFilter(c echo.Context) error {
	d, err := s.dimension(c.Param("dimension"))
	if err != nil {
		return err
	}

	var req FilterJSON
	if err := c.Bind(&req); err != nil {
		return err
	}
	flt, err := req.filter()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := s.context(c)
	defer cancel()

	if err := s.f.SetFilter(ctx, d, flt); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, filtersJSON(s.f.Filters()))
}

// ClearFilter removes the filter of a dimension.
func (s *Server) ClearFilter(c echo.Context) error {
	d, err := s.dimension(c.Param("dimension"))
	if err != nil {
		return err
	}
	ctx, cancel := s.context(c)
	defer cancel()

	if err := s.f.ClearFilter(ctx, d); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// GetEntries pages through the row indices passing every filter.
func (s *Server) GetEntries(c echo.Context) error {
	limit, offset := paginationParams(c, defaultEntriesLimit)

	ctx, cancel := s.context(c)
	defer cancel()

	rows, err := s.f.Entries(ctx, offset, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EntriesResponse{Rows: rows, Offset: offset, Limit: limit})
}

func paginationParams(c echo.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxEntriesLimit)
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Server) view(name string) (falcon.View, error) {
	v, ok := s.f.View(name)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown view %q", name))
	}
	return v, nil
}

func (s *Server) dimension(name string) (*model.Dimension, error) {
	d, ok := s.dims[name]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown dimension %q", name))
	}
	return d, nil
}

// handleError maps falcon errors to status codes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, falcon.ErrConfiguration):
			code = http.StatusBadRequest
		case errors.Is(err, falcon.ErrUnsupported):
			code = http.StatusNotImplemented
		case errors.Is(err, falcon.ErrClosed):
			code = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			code = http.StatusGatewayTimeout
		}
		he = echo.NewHTTPError(code, err.Error())
	}

	msg := he.Message
	if m, ok := msg.(string); ok {
		msg = ErrorResponse{Error: m}
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(he.Code)
	} else {
		err = c.JSON(he.Code, msg)
	}
	if err != nil {
		s.logger.Error("writing error response", "error", err)
	}
}
