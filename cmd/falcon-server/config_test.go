package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/falcon/model"
)

const flightsYAML = `
listen: ":9090"
codec: json
request_timeout: 5s
resources:
  max_build_workers: 4
source:
  type: dataset
  name: flights.csv
  store:
    type: local
    root: %s
dimensions:
  - name: delay
    extent: [-20, 180]
    bins: 20
    resolution: 400
  - name: hour
    binning: {start: 0, step: 1, stop: 24}
    resolution: 24
  - name: carrier
    kind: categorical
views:
  - []
  - [delay]
  - [carrier]
  - [delay, hour]
`

func fmtYAML(root string) string { return fmt.Sprintf(flightsYAML, root) }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "falcon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, fmtYAML(t.TempDir()))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel, "default kept")
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, int64(4), cfg.ResourceConfig().MaxBuildWorkers)
	require.Len(t, cfg.Dimensions, 3)
	assert.Len(t, cfg.Views, 4)
	assert.Empty(t, cfg.Views[0])

	d, err := cfg.Dimensions[0].Dimension()
	require.NoError(t, err)
	assert.Equal(t, &model.Interval{Lo: -20, Hi: 180}, d.Extent)
	assert.Equal(t, 400, d.Resolution)

	d, err = cfg.Dimensions[1].Dimension()
	require.NoError(t, err)
	assert.Equal(t, &model.BinConfig{Start: 0, Step: 1, Stop: 24}, d.Binning)

	d, err = cfg.Dimensions[2].Dimension()
	require.NoError(t, err)
	assert.Equal(t, model.Categorical, d.Kind)
}

func TestLoadConfigEnv(t *testing.T) {
	path := writeConfig(t, fmtYAML(t.TempDir()))
	t.Setenv("FALCON_LISTEN", "127.0.0.1:7000")
	t.Setenv("FALCON_READ_LIMIT_BYTES_PER_SEC", "1048576")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, int64(1<<20), cfg.Resources.ReadLimitBytesPerSec)

	t.Setenv("FALCON_READ_LIMIT_BYTES_PER_SEC", "fast")
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Source.Name = "flights.parquet"
		cfg.Dimensions = []DimensionConfig{{Name: "delay"}, {Name: "carrier", Kind: "categorical"}}
		cfg.Views = [][]string{{"delay"}}
		return cfg
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"missing name", func(c *Config) { c.Source.Name = "" }},
		{"store type", func(c *Config) { c.Source.Store.Type = "ftp" }},
		{"s3 bucket", func(c *Config) { c.Source.Store.Type = "s3" }},
		{"sql driver", func(c *Config) { c.Source = SourceConfig{Type: "sql", Driver: "sqlite", DSN: "x", Table: "t"} }},
		{"sql dsn", func(c *Config) { c.Source = SourceConfig{Type: "sql", Driver: "postgres", Table: "t"} }},
		{"http url", func(c *Config) { c.Source = SourceConfig{Type: "http", Table: "t"} }},
		{"source type", func(c *Config) { c.Source.Type = "kafka" }},
		{"duplicate dimension", func(c *Config) { c.Dimensions = append(c.Dimensions, DimensionConfig{Name: "delay"}) }},
		{"kind", func(c *Config) { c.Dimensions[0].Kind = "ordinal" }},
		{"extent", func(c *Config) { c.Dimensions[0].Extent = []float64{1} }},
		{"binning", func(c *Config) { c.Dimensions[0].Binning = &BinningConfig{Start: 0, Step: 0, Stop: 1} }},
		{"no views", func(c *Config) { c.Views = nil }},
		{"unknown view dimension", func(c *Config) { c.Views = [][]string{{"hour"}} }},
		{"3d view", func(c *Config) { c.Views = [][]string{{"delay", "delay", "delay"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
