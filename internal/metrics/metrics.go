// Package metrics exposes package lifecycle counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records package lifecycle events.
type Metrics interface {
	IncPackagesCreated()
	IncPackageFailures(reason string)
	ObserveArchiveBytes(n int64)
	IncDownloads(status string)
	IncCleanups(status string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncPackagesCreated()       {}
func (Noop) IncPackageFailures(string) {}
func (Noop) ObserveArchiveBytes(int64) {}
func (Noop) IncDownloads(string)       {}
func (Noop) IncCleanups(string)        {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	created  prometheus.Counter
	failures *prometheus.CounterVec
	bytes    prometheus.Histogram
	download *prometheus.CounterVec
	cleanups *prometheus.CounterVec
}

// NewProm creates collectors under namespace and registers them with reg. A
// nil reg uses the default registerer.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_created_total",
			Help:      "Packages archived and registered",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "package_failures_total",
			Help:      "Uploads which did not produce a package, by reason",
		}, []string{"reason"}),
		bytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_bytes",
			Help:      "Size of created archives",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
		}),
		download: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download attempts by outcome",
		}, []string{"status"}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Cleanup runs by outcome",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(p.created, p.failures, p.bytes, p.download, p.cleanups)
	return p
}

func (p *Prom) IncPackagesCreated() { p.created.Inc() }

func (p *Prom) IncPackageFailures(reason string) {
	p.failures.WithLabelValues(reason).Inc()
}

func (p *Prom) ObserveArchiveBytes(n int64) { p.bytes.Observe(float64(n)) }

func (p *Prom) IncDownloads(status string) {
	p.download.WithLabelValues(status).Inc()
}

func (p *Prom) IncCleanups(status string) {
	p.cleanups.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
