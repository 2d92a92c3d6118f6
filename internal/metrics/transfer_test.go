package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/project-flotta/flotta-sync-worker/internal/detector"
	"github.com/project-flotta/flotta-sync-worker/internal/metrics"
	"github.com/project-flotta/flotta-sync-worker/internal/progress"
	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
)

var _ = Describe("TransferMetrics", func() {

	var (
		m   *metrics.TransferMetrics
		now = time.Date(2022, 5, 25, 10, 0, 0, 0, time.UTC)
	)

	BeforeEach(func() {
		m = metrics.NewTransferMetrics()
	})

	It("records the latest sample", func() {
		// given
		sample := progress.Sample{
			Timestamp:        now,
			BytesTransferred: 2048,
			RateBytesPerSec:  50_000,
			PercentComplete:  12,
		}
		state := detector.SlowState{
			IsSlow:        true,
			SlowSince:     now.Add(-15 * time.Second),
			ThresholdRate: 100_000,
		}

		// when
		m.RecordSample("session", sample, 60_000, state)

		// then
		expected := `
# HELP flotta_sync_slow_seconds How long the transfer has been below the threshold rate
# TYPE flotta_sync_slow_seconds gauge
flotta_sync_slow_seconds 15
# HELP flotta_sync_window_rate_bytes_per_second Rate the slow transfer detection decided on
# TYPE flotta_sync_window_rate_bytes_per_second gauge
flotta_sync_window_rate_bytes_per_second 60000
`
		Expect(testutil.GatherAndCompare(m.Registry(), stringsReader(expected),
			"flotta_sync_slow_seconds", "flotta_sync_window_rate_bytes_per_second")).To(Succeed())
	})

	It("counts outcomes by kind", func() {
		// when
		m.RecordOutcome(supervisor.Outcome{Kind: supervisor.Completed, Duration: time.Minute})
		m.RecordOutcome(supervisor.Outcome{Kind: supervisor.TerminatedDueToSlowTransfer, Forced: true})
		m.RecordOutcome(supervisor.Outcome{Kind: supervisor.TerminatedDueToSlowTransfer})

		// then
		expected := `
# HELP flotta_sync_transfers_total The total of finished transfers by outcome
# TYPE flotta_sync_transfers_total counter
flotta_sync_transfers_total{outcome="completed"} 1
flotta_sync_transfers_total{outcome="terminated-slow-transfer"} 2
# HELP flotta_sync_forced_kills_total The total of transfers killed after ignoring termination
# TYPE flotta_sync_forced_kills_total counter
flotta_sync_forced_kills_total 1
`
		Expect(testutil.GatherAndCompare(m.Registry(), stringsReader(expected),
			"flotta_sync_transfers_total", "flotta_sync_forced_kills_total")).To(Succeed())
		families, err := m.Registry().Gather()
		Expect(err).NotTo(HaveOccurred())
		var observed uint64
		for _, family := range families {
			if family.GetName() == "flotta_sync_transfer_duration_seconds" {
				observed = family.GetMetric()[0].GetHistogram().GetSampleCount()
			}
		}
		Expect(observed).To(BeEquivalentTo(3))
	})
})
