// Command falcon-server serves linked histograms over one dataset as a
// JSON API.
//
//	falcon-server -config flights.yaml
//
// See Config for the file format. FALCON_LISTEN, FALCON_LOG_LEVEL,
// FALCON_SOURCE_DSN and FALCON_READ_LIMIT_BYTES_PER_SEC override the file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/falcon"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "falcon-server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()

	logger := falcon.NewTextLogger(level)
	if cfg.LogFormat == "json" {
		logger = falcon.NewJSONLogger(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t0 := time.Now()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("views ready", "source", cfg.Source.Type, "elapsed", time.Since(t0))

	e := a.server.Echo()
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errc <- e.Start(cfg.Listen)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
