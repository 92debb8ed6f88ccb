// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PublishAttempts *prometheus.CounterVec // labels: trigger, outcome
	IngestTotal     *prometheus.CounterVec // labels: result
	TransformTotal  *prometheus.CounterVec // labels: mode (copy|reencode|failed)
	SchedulerTicks  *prometheus.CounterVec // labels: decision

	// Histograms (seconds)
	PublishDuration prometheus.Observer
	UploadDuration  prometheus.Observer

	// Gauges
	StagedItems     prometheus.Gauge
	LastPublishUnix prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shorts_publish_attempts_total", Help: "Publish workflow runs by trigger and outcome"}, []string{"trigger", "outcome"})
		IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shorts_ingest_total", Help: "Videos received from chat by result"}, []string{"result"})
		TransformTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shorts_transform_total", Help: "Trim operations by mode"}, []string{"mode"})
		SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "shorts_scheduler_ticks_total", Help: "Scheduler ticks by gate decision"}, []string{"decision"})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "shorts_publish_duration_seconds", Help: "Publish workflow run duration seconds", Buckets: prometheus.DefBuckets})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "shorts_upload_duration_seconds", Help: "YouTube upload duration seconds", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}})
		StagedItems = promauto.NewGauge(prometheus.GaugeOpts{Name: "shorts_staged_items", Help: "Videos waiting in the content vault at last listing"})
		LastPublishUnix = promauto.NewGauge(prometheus.GaugeOpts{Name: "shorts_last_publish_timestamp_seconds", Help: "Unix time of the last successful publish"})
	})
}

// RecordAttempt counts a finished workflow run.
func RecordAttempt(trigger, outcome string, d time.Duration) {
	if PublishAttempts == nil {
		return
	}
	PublishAttempts.WithLabelValues(trigger, outcome).Inc()
	PublishDuration.Observe(d.Seconds())
	if outcome == "published" {
		LastPublishUnix.Set(float64(time.Now().Unix()))
	}
}

// RecordTick counts a scheduler decision (outside_window, already_published, slot_skipped, gate_error, busy, panicked, attempted).
func RecordTick(decision string) {
	if SchedulerTicks != nil {
		SchedulerTicks.WithLabelValues(decision).Inc()
	}
}

// RecordIngest counts an ingest result (staged, too_large, download_failed, transform_failed, upload_failed).
func RecordIngest(result string) {
	if IngestTotal != nil {
		IngestTotal.WithLabelValues(result).Inc()
	}
}

// RecordTransform counts which trim strategy produced the output.
func RecordTransform(mode string) {
	if TransformTotal != nil {
		TransformTotal.WithLabelValues(mode).Inc()
	}
}

// SetStagedItems records the vault size seen by the last listing.
func SetStagedItems(n int) {
	if StagedItems != nil {
		StagedItems.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
