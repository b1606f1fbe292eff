// Package metrics exposes Prometheus counters for the upload pipeline.
// InitRegistry must be called before any collector is created; without
// it every Metrics method is a no-op.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process registry with the standard Go and
// process collectors.
func InitRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	enabled = true
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled
}

// Handler serves the /metrics endpoint for the process registry.
func Handler() http.Handler {
	if !enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Metrics holds the upload pipeline collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	uploads      *prometheus.CounterVec
	uploadBytes  prometheus.Counter
	dedupHits    prometheus.Counter
	scanRejects  prometheus.Counter
	sweeps       prometheus.Counter
	sweptFiles   prometheus.Counter
	zipBuilds    prometheus.Counter
	purgeCalls   *prometheus.CounterVec
	chunkActive  prometheus.GaugeFunc
	identsOnHold prometheus.GaugeFunc
}

// New creates the pipeline collectors. chunkActive and identsOnHold are
// sampled on scrape; either may be nil.
func New(chunkActive, identsOnHold func() float64) *Metrics {
	if !enabled {
		return nil
	}

	m := &Metrics{
		uploads: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "safe_uploads_total",
				Help: "Total uploads committed, by intake source",
			},
			[]string{"source"}, // "multipart", "url", "chunked"
		),
		uploadBytes: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "safe_upload_bytes_total",
				Help: "Total bytes written for committed uploads",
			},
		),
		dedupHits: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "safe_dedup_hits_total",
				Help: "Total uploads answered by an existing row",
			},
		),
		scanRejects: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "safe_scan_rejects_total",
				Help: "Total upload batches rejected by the malware scanner",
			},
		),
		sweeps: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "safe_retention_sweeps_total",
				Help: "Total retention sweep runs",
			},
		),
		sweptFiles: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "safe_retention_swept_files_total",
				Help: "Total expired files removed by the sweeper",
			},
		),
		zipBuilds: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "safe_album_zip_builds_total",
				Help: "Total album archives built",
			},
		),
		purgeCalls: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "safe_cdn_purge_calls_total",
				Help: "Total CDN purge API calls, by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
	}

	if chunkActive != nil {
		m.chunkActive = promauto.With(registry).NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "safe_chunk_sessions_active",
				Help: "Chunked upload sessions currently open",
			},
			chunkActive,
		)
	}
	if identsOnHold != nil {
		m.identsOnHold = promauto.With(registry).NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "safe_identifiers_on_hold",
				Help: "Identifiers reserved but not yet persisted",
			},
			identsOnHold,
		)
	}
	return m
}

// RecordUpload counts one committed upload.
func (m *Metrics) RecordUpload(source string, bytes int64, repeated bool) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(source).Inc()
	if repeated {
		m.dedupHits.Inc()
	} else {
		m.uploadBytes.Add(float64(bytes))
	}
}

// RecordScanReject counts one batch rejected by the scanner.
func (m *Metrics) RecordScanReject() {
	if m == nil {
		return
	}
	m.scanRejects.Inc()
}

// RecordSweep counts one sweep run and the files it removed.
func (m *Metrics) RecordSweep(removed int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweptFiles.Add(float64(removed))
}

// RecordZipBuild counts one album archive build.
func (m *Metrics) RecordZipBuild() {
	if m == nil {
		return
	}
	m.zipBuilds.Inc()
}

// RecordPurge counts one CDN purge call.
func (m *Metrics) RecordPurge(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.purgeCalls.WithLabelValues("error").Inc()
		return
	}
	m.purgeCalls.WithLabelValues("ok").Inc()
}
