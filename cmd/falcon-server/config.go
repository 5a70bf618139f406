package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/resource"
)

// Config is the YAML configuration of the server.
type Config struct {
	Listen         string        `yaml:"listen"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	Codec          string        `yaml:"codec"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Interpolate    bool          `yaml:"interpolate"`

	Resources  ResourcesConfig   `yaml:"resources"`
	Source     SourceConfig      `yaml:"source"`
	Dimensions []DimensionConfig `yaml:"dimensions"`

	// Views lists the dimension names of each view. An empty list is a
	// count view.
	Views [][]string `yaml:"views"`
}

// ResourcesConfig mirrors resource.Config.
type ResourcesConfig struct {
	MemoryLimitBytes     int64 `yaml:"memory_limit_bytes"`
	MaxBuildWorkers      int64 `yaml:"max_build_workers"`
	ReadLimitBytesPerSec int64 `yaml:"read_limit_bytes_per_sec"`
}

// SourceConfig selects where rows come from.
//
//	dataset  load a file from Store into memory
//	sql      push queries down to a database/sql driver (mysql, postgres)
//	http     push queries down to an engine answering GET <url>/query/<sql>
type SourceConfig struct {
	Type string `yaml:"type"`

	Store StoreConfig `yaml:"store"`
	Name  string      `yaml:"name"`

	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	URL     string `yaml:"url"`
	Table   string `yaml:"table"`
	Dialect string `yaml:"dialect"`
}

// StoreConfig selects a blob store.
type StoreConfig struct {
	Type      string `yaml:"type"`
	Root      string `yaml:"root"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`

	// CacheBlocks enables a block cache in front of remote stores.
	CacheBlocks    int   `yaml:"cache_blocks"`
	CacheBlockSize int64 `yaml:"cache_block_size"`
}

// DimensionConfig describes one dimension. Whatever is left out is derived
// from the data.
type DimensionConfig struct {
	Name string `yaml:"name"`
	// Column is the source column for SQL sources. Defaults to Name.
	Column     string         `yaml:"column"`
	Kind       string         `yaml:"kind"`
	Extent     []float64      `yaml:"extent"`
	Bins       int            `yaml:"bins"`
	Binning    *BinningConfig `yaml:"binning"`
	Resolution int            `yaml:"resolution"`
	Range      []string       `yaml:"range"`
}

// BinningConfig is an explicit bin configuration.
type BinningConfig struct {
	Start float64 `yaml:"start"`
	Step  float64 `yaml:"step"`
	Stop  float64 `yaml:"stop"`
}

// DefaultConfig returns the defaults applied before the file is read.
func DefaultConfig() Config {
	return Config{
		Listen:         ":8080",
		LogLevel:       "info",
		LogFormat:      "text",
		RequestTimeout: 30 * time.Second,
		Source: SourceConfig{
			Type:  "dataset",
			Store: StoreConfig{Type: "local", Root: "."},
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides settings from FALCON_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FALCON_LISTEN"); ok {
		c.Listen = v
	}
	if v, ok := lookup("FALCON_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("FALCON_SOURCE_DSN"); ok {
		c.Source.DSN = v
	}
	if v, ok := lookup("FALCON_READ_LIMIT_BYTES_PER_SEC"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FALCON_READ_LIMIT_BYTES_PER_SEC: %w", err)
		}
		c.Resources.ReadLimitBytesPerSec = n
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Source.Type {
	case "dataset":
		if c.Source.Name == "" {
			errs = append(errs, errors.New("source.name is required for dataset sources"))
		}
		switch c.Source.Store.Type {
		case "local":
		case "s3", "minio":
			if c.Source.Store.Bucket == "" {
				errs = append(errs, fmt.Errorf("source.store.bucket is required for %s", c.Source.Store.Type))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown store type %q", c.Source.Store.Type))
		}
	case "sql":
		if c.Source.Driver != "mysql" && c.Source.Driver != "postgres" {
			errs = append(errs, fmt.Errorf("unknown sql driver %q", c.Source.Driver))
		}
		if c.Source.DSN == "" || c.Source.Table == "" {
			errs = append(errs, errors.New("source.dsn and source.table are required for sql sources"))
		}
	case "http":
		if c.Source.URL == "" || c.Source.Table == "" {
			errs = append(errs, errors.New("source.url and source.table are required for http sources"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source type %q", c.Source.Type))
	}

	names := make(map[string]bool, len(c.Dimensions))
	for _, d := range c.Dimensions {
		if d.Name == "" {
			errs = append(errs, errors.New("dimension without name"))
			continue
		}
		if names[d.Name] {
			errs = append(errs, fmt.Errorf("duplicate dimension %q", d.Name))
		}
		names[d.Name] = true
		if _, err := d.Dimension(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.Views) == 0 {
		errs = append(errs, errors.New("no views configured"))
	}
	for _, v := range c.Views {
		if len(v) > 2 {
			errs = append(errs, fmt.Errorf("view %v has more than two dimensions", v))
		}
		for _, name := range v {
			if !names[name] {
				errs = append(errs, fmt.Errorf("view %v references unknown dimension %q", v, name))
			}
		}
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// ResourceConfig converts the resource limits.
func (c Config) ResourceConfig() resource.Config {
	return resource.Config{
		MemoryLimitBytes:     c.Resources.MemoryLimitBytes,
		MaxBuildWorkers:      c.Resources.MaxBuildWorkers,
		ReadLimitBytesPerSec: c.Resources.ReadLimitBytesPerSec,
	}
}

// Dimension converts the configuration into a model.Dimension.
func (d DimensionConfig) Dimension() (*model.Dimension, error) {
	md := &model.Dimension{
		Name:       d.Name,
		Bins:       d.Bins,
		Resolution: d.Resolution,
		Range:      d.Range,
	}
	switch strings.ToLower(d.Kind) {
	case "", "continuous":
		md.Kind = model.Continuous
	case "categorical":
		md.Kind = model.Categorical
	default:
		return nil, fmt.Errorf("dimension %q: unknown kind %q", d.Name, d.Kind)
	}
	if d.Extent != nil {
		if len(d.Extent) != 2 {
			return nil, fmt.Errorf("dimension %q: extent needs two values", d.Name)
		}
		md.Extent = &model.Interval{Lo: d.Extent[0], Hi: d.Extent[1]}
	}
	if d.Binning != nil {
		md.Binning = &model.BinConfig{Start: d.Binning.Start, Step: d.Binning.Step, Stop: d.Binning.Stop}
		if err := md.Binning.Validate(); err != nil {
			return nil, fmt.Errorf("dimension %q: %w", d.Name, err)
		}
	}
	return md, nil
}
