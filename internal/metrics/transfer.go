package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/project-flotta/flotta-sync-worker/internal/detector"
	"github.com/project-flotta/flotta-sync-worker/internal/progress"
	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
)

// TransferMetrics exposes the supervised transfers as prometheus metrics.
type TransferMetrics struct {
	registry *prometheus.Registry

	rate            prometheus.Gauge
	windowRate      prometheus.Gauge
	percentComplete prometheus.Gauge
	fileBytes       prometheus.Gauge
	slowSeconds     prometheus.Gauge
	threshold       prometheus.Gauge
	samples         prometheus.Counter
	outcomes        *prometheus.CounterVec
	forcedKills     prometheus.Counter
	duration        prometheus.Histogram
}

func NewTransferMetrics() *TransferMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &TransferMetrics{
		registry: registry,
		rate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flotta_sync_rate_bytes_per_second",
			Help: "Transfer rate reported by the latest progress update",
		}),
		windowRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flotta_sync_window_rate_bytes_per_second",
			Help: "Rate the slow transfer detection decided on",
		}),
		percentComplete: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flotta_sync_file_percent_complete",
			Help: "Completion of the file being transferred",
		}),
		fileBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flotta_sync_file_bytes_transferred",
			Help: "Bytes transferred of the file being transferred",
		}),
		slowSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flotta_sync_slow_seconds",
			Help: "How long the transfer has been below the threshold rate",
		}),
		threshold: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flotta_sync_threshold_rate_bytes_per_second",
			Help: "Rate below which the transfer is considered slow",
		}),
		samples: factory.NewCounter(prometheus.CounterOpts{
			Name: "flotta_sync_progress_samples_total",
			Help: "The total of progress updates parsed",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flotta_sync_transfers_total",
			Help: "The total of finished transfers by outcome",
		}, []string{"outcome"}),
		forcedKills: factory.NewCounter(prometheus.CounterOpts{
			Name: "flotta_sync_forced_kills_total",
			Help: "The total of transfers killed after ignoring termination",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flotta_sync_transfer_duration_seconds",
			Help:    "Duration of the supervised transfers",
			Buckets: prometheus.ExponentialBuckets(10, 3, 8),
		}),
	}
}

func (t *TransferMetrics) Registry() *prometheus.Registry {
	return t.registry
}

func (t *TransferMetrics) RecordSample(_ string, sample progress.Sample, rate float64, state detector.SlowState) {
	t.samples.Inc()
	t.rate.Set(sample.RateBytesPerSec)
	t.windowRate.Set(rate)
	t.percentComplete.Set(sample.PercentComplete)
	t.fileBytes.Set(float64(sample.BytesTransferred))
	t.threshold.Set(state.ThresholdRate)
	t.slowSeconds.Set(state.SlowFor(sample.Timestamp).Seconds())
}

func (t *TransferMetrics) RecordOutcome(outcome supervisor.Outcome) {
	t.outcomes.WithLabelValues(string(outcome.Kind)).Inc()
	if outcome.Forced {
		t.forcedKills.Inc()
	}
	t.duration.Observe(outcome.Duration.Seconds())
	t.slowSeconds.Set(0)
	t.rate.Set(0)
	t.windowRate.Set(0)
}
