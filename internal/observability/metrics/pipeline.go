package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/docman-backlog/internal/models"
)

const namespace = "docman"

// PipelineMetrics counts backlog outcomes. The CLI writes them to a
// node_exporter textfile after each run; the server exposes them on /metrics.
type PipelineMetrics struct {
	registry *prometheus.Registry

	fileTotal       *prometheus.CounterVec
	fileDuration    *prometheus.HistogramVec
	conversionTotal *prometheus.CounterVec
	folderTotal     prometheus.Counter
	lastRunSuccess  prometheus.Gauge
	lastRunFiles    *prometheus.GaugeVec
	pendingReview   prometheus.Gauge
}

// NewPipelineMetrics creates metrics on a private registry
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	fileTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "files_total",
			Help:      "Processed backlog files by terminal status.",
		},
		[]string{"status"},
	)
	fileDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "file_duration_seconds",
			Help:      "Per-file processing duration in seconds by terminal status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)
	conversionTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "converter",
			Name:      "conversions_total",
			Help:      "Format conversions by source extension and result.",
		},
		[]string{"from", "result"},
	)
	folderTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "folders_total",
			Help:      "Completed daily folders.",
		},
	)
	lastRunSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last backlog run finished.",
		},
	)
	lastRunFiles := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "last_run_files",
			Help:      "File counters of the last backlog run by status.",
		},
		[]string{"status"},
	)
	pendingReview := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "pending_documents",
			Help:      "Documents still typed as AUTOMATED and waiting for review.",
		},
	)

	registry.MustRegister(fileTotal, fileDuration, conversionTotal, folderTotal, lastRunSuccess, lastRunFiles, pendingReview)

	return &PipelineMetrics{
		registry:        registry,
		fileTotal:       fileTotal,
		fileDuration:    fileDuration,
		conversionTotal: conversionTotal,
		folderTotal:     folderTotal,
		lastRunSuccess:  lastRunSuccess,
		lastRunFiles:    lastRunFiles,
		pendingReview:   pendingReview,
	}
}

// Registry exposes the underlying registry
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FileProcessed records one terminal file outcome
func (m *PipelineMetrics) FileProcessed(status models.FileStatus, duration time.Duration) {
	m.fileTotal.WithLabelValues(string(status)).Inc()
	m.fileDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// ConversionAttempted records a conversion of a file with the given extension
func (m *PipelineMetrics) ConversionAttempted(from string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.conversionTotal.WithLabelValues(from, result).Inc()
}

// FolderCompleted counts a finished daily folder
func (m *PipelineMetrics) FolderCompleted() {
	m.folderTotal.Inc()
}

// RunFinished publishes the summary of a finished run
func (m *PipelineMetrics) RunFinished(summary models.RunSummary, end time.Time) {
	m.lastRunSuccess.Set(float64(end.Unix()))
	m.lastRunFiles.WithLabelValues(string(models.StatusSuccess)).Set(float64(summary.Processed))
	m.lastRunFiles.WithLabelValues(string(models.StatusDuplicate)).Set(float64(summary.Duplicates))
	m.lastRunFiles.WithLabelValues(string(models.StatusQueued)).Set(float64(summary.Queued))
	m.lastRunFiles.WithLabelValues(string(models.StatusError)).Set(float64(summary.Errors))
}

// SetPendingReview sets the review backlog gauge
func (m *PipelineMetrics) SetPendingReview(n int64) {
	m.pendingReview.Set(float64(n))
}

// WriteTextfile writes the registry for the node_exporter textfile collector
func (m *PipelineMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
