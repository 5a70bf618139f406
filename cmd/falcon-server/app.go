package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/falcon"
	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/backend/columnar"
	"github.com/hupe1980/falcon/backend/sqldb"
	"github.com/hupe1980/falcon/blobstore"
	"github.com/hupe1980/falcon/blobstore/minio"
	"github.com/hupe1980/falcon/blobstore/s3"
	"github.com/hupe1980/falcon/codec"
	"github.com/hupe1980/falcon/dataset"
	"github.com/hupe1980/falcon/internal/server"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/prommetrics"
	"github.com/hupe1980/falcon/resource"
)

// app owns everything the server runs on.
type app struct {
	falcon  *falcon.Falcon
	server  *server.Server
	closers []func() error
}

func newApp(ctx context.Context, cfg Config, logger *falcon.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	rc := resource.NewController(cfg.ResourceConfig())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.New()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}

	dims := make([]*model.Dimension, len(cfg.Dimensions))
	byName := make(map[string]*model.Dimension, len(dims))
	for i, dc := range cfg.Dimensions {
		d, err := dc.Dimension()
		if err != nil {
			return nil, err
		}
		dims[i] = d
		byName[d.Name] = d
	}

	db, err := a.openBackend(ctx, cfg, rc, metrics, logger.Logger)
	if err != nil {
		return nil, err
	}

	a.falcon = falcon.New(db,
		falcon.WithLogger(logger),
		falcon.WithMetricsCollector(metrics),
		falcon.WithResourceController(rc),
		falcon.WithInterpolation(cfg.Interpolate),
	)
	a.closers = append(a.closers, a.falcon.Close)

	for _, names := range cfg.Views {
		switch len(names) {
		case 0:
			a.falcon.Count()
		case 1:
			a.falcon.View1D(byName[names[0]])
		default:
			a.falcon.View2D(byName[names[0]], byName[names[1]])
		}
	}
	if _, err := a.falcon.Init(ctx); err != nil {
		return nil, fmt.Errorf("init views: %w", err)
	}

	c, ok := codec.ByName(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	a.server = server.New(a.falcon, dims,
		server.WithCodec(c),
		server.WithLogger(logger.Logger),
		server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		server.WithRequestTimeout(cfg.RequestTimeout),
	)
	return a, nil
}

func (a *app) openBackend(ctx context.Context, cfg Config, rc *resource.Controller, metrics *prommetrics.Collector, logger *slog.Logger) (backend.DB, error) {
	src := cfg.Source
	switch src.Type {
	case "dataset":
		store, err := openStore(ctx, src.Store)
		if err != nil {
			return nil, err
		}
		cols := make([]string, len(cfg.Dimensions))
		for i, d := range cfg.Dimensions {
			cols[i] = d.Name
		}
		tbl, err := dataset.Load(ctx, store, src.Name,
			dataset.WithColumns(cols...),
			dataset.WithResourceController(rc),
			dataset.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { tbl.Release(); return nil })
		return columnar.New(tbl,
			columnar.WithLogger(logger),
			columnar.WithResourceController(rc),
			columnar.WithMaskCacheObserver(metrics.RecordMaskCache),
		)

	case "sql":
		db, err := sql.Open(src.Driver, src.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", src.Driver, err)
		}
		dialect := sqldb.ANSI
		if src.Driver == "mysql" || src.Dialect == "mysql" {
			dialect = sqldb.MySQL
		}
		return sqldb.New(sqldb.NewSQLExecutor(db), src.Table, sqlOptions(cfg, dialect, logger)...), nil

	case "http":
		exec := sqldb.NewHTTPExecutor(src.URL, sqldb.WithHTTPLogger(logger))
		dialect := sqldb.ANSI
		if src.Dialect == "mysql" {
			dialect = sqldb.MySQL
		}
		return sqldb.New(exec, src.Table, sqlOptions(cfg, dialect, logger)...), nil

	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

func sqlOptions(cfg Config, dialect sqldb.Dialect, logger *slog.Logger) []sqldb.Option {
	opts := []sqldb.Option{sqldb.WithDialect(dialect), sqldb.WithLogger(logger)}
	if cfg.Resources.MaxBuildWorkers > 0 {
		opts = append(opts, sqldb.WithMaxConcurrency(int(cfg.Resources.MaxBuildWorkers)))
	}
	for _, d := range cfg.Dimensions {
		if d.Column != "" {
			opts = append(opts, sqldb.WithColumn(d.Name, d.Column))
		}
	}
	return opts
}

func openStore(ctx context.Context, sc StoreConfig) (blobstore.BlobStore, error) {
	var store blobstore.BlobStore
	switch sc.Type {
	case "local":
		return blobstore.NewLocalStore(sc.Root), nil
	case "s3":
		optFns := []func(*s3.Options){s3.WithPrefix(sc.Prefix)}
		if sc.Region != "" {
			optFns = append(optFns, s3.WithRegion(sc.Region))
		}
		if sc.Endpoint != "" {
			optFns = append(optFns, s3.WithEndpoint(sc.Endpoint, sc.PathStyle))
		}
		s, err := s3.New(ctx, sc.Bucket, optFns...)
		if err != nil {
			return nil, err
		}
		store = s
	case "minio":
		client, err := miniogo.New(sc.Endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(sc.AccessKey, sc.SecretKey, ""),
			Secure: sc.UseSSL,
			Region: sc.Region,
		})
		if err != nil {
			return nil, err
		}
		store = minio.NewStore(client, sc.Bucket, sc.Prefix)
	default:
		return nil, fmt.Errorf("unknown store type %q", sc.Type)
	}

	if sc.CacheBlocks > 0 {
		return blobstore.NewCachingStore(store, sc.CacheBlocks, sc.CacheBlockSize)
	}
	return store, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
