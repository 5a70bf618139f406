// Package prommetrics exports falcon metrics to Prometheus.
package prommetrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/falcon"
)

const namespace = "falcon"

type status string

const (
	statusSuccess status = "success"
	statusFailure status = "failure"
)

func statusOf(err error) string {
	if err != nil {
		return string(statusFailure)
	}
	return string(statusSuccess)
}

// Collector implements falcon.MetricsCollector with Prometheus metrics.
type Collector struct {
	buildSeconds   *prometheus.HistogramVec
	passiveViews   prometheus.Gauge
	resolveSeconds *prometheus.HistogramVec
	resolvedViews  prometheus.Histogram
	filterChanges  *prometheus.CounterVec
	maskLookups    *prometheus.CounterVec
}

var _ falcon.MetricsCollector = (*Collector)(nil)

// New creates a Collector. Call Register to expose it.
func New() *Collector {
	return &Collector{
		buildSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "index_build_seconds",
			Help:                            "Time taken to build the index for the active view in seconds",
			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"status"}),
		passiveViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_passive_views",
			Help:      "Number of passive views in the last index build",
		}),
		resolveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "brush_resolve_seconds",
			Help:      "Time taken to resolve a brush against the index in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"status"}),
		resolvedViews: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "brush_resolved_views",
			Help:      "Number of views updated per brush",
			Buckets:   prometheus.LinearBuckets(1, 2, 8),
		}),
		filterChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_changes_total",
			Help:      "Total number of filter changes",
		}, []string{"dimension", "rebuild"}),
		maskLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mask_cache_lookups_total",
			Help:      "Total number of filter mask cache lookups",
		}, []string{"result"}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.buildSeconds,
		c.passiveViews,
		c.resolveSeconds,
		c.resolvedViews,
		c.filterChanges,
		c.maskLookups,
	}
}

// Register registers every metric with reg. Metrics registered before are
// not an error.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, collector := range c.collectors() {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Unregister removes every metric from reg.
func (c *Collector) Unregister(reg prometheus.Registerer) {
	for _, collector := range c.collectors() {
		reg.Unregister(collector)
	}
}

// RecordBuild implements falcon.MetricsCollector.
func (c *Collector) RecordBuild(passive int, duration time.Duration, err error) {
	c.buildSeconds.WithLabelValues(statusOf(err)).Observe(duration.Seconds())
	if err == nil {
		c.passiveViews.Set(float64(passive))
	}
}

// RecordResolve implements falcon.MetricsCollector.
func (c *Collector) RecordResolve(views int, duration time.Duration, err error) {
	c.resolveSeconds.WithLabelValues(statusOf(err)).Observe(duration.Seconds())
	if err == nil {
		c.resolvedViews.Observe(float64(views))
	}
}

// RecordFilter implements falcon.MetricsCollector.
func (c *Collector) RecordFilter(dimension string, rebuild bool) {
	c.filterChanges.WithLabelValues(dimension, strconv.FormatBool(rebuild)).Inc()
}

// RecordMaskCache implements falcon.MetricsCollector.
func (c *Collector) RecordMaskCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.maskLookups.WithLabelValues(result).Inc()
}
