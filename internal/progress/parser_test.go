package progress_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/project-flotta/flotta-sync-worker/internal/progress"
)

var _ = Describe("Parser", func() {

	var (
		now     = time.Date(2022, 5, 25, 10, 0, 0, 0, time.UTC)
		decimal *progress.Parser
		binary  *progress.Parser
	)

	BeforeEach(func() {
		decimal = progress.NewParser(progress.UnitsDecimal)
		binary = progress.NewParser(progress.UnitsBinary)
	})

	Context("Parse", func() {

		It("parses a classic rsync progress line", func() {
			// when
			sample, err := decimal.Parse("    823,915,288  35%   36.65MB/s    0:00:40", now)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.Timestamp).To(Equal(now))
			Expect(sample.BytesTransferred).To(BeEquivalentTo(823915288))
			Expect(sample.PercentComplete).To(BeNumerically("==", 35))
			Expect(sample.RateBytesPerSec).To(BeNumerically("~", 36.65e6, 1e-3))
			Expect(sample.ETA).NotTo(BeNil())
			Expect(*sample.ETA).To(Equal(40 * time.Second))
		})

		It("parses the transfer counters trailer", func() {
			// when
			sample, err := decimal.Parse("      1,238,099 100%  146.38MB/s    1:02:03 (xfr#7, to-chk=12/40)", now)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.PercentComplete).To(BeNumerically("==", 100))
			Expect(*sample.ETA).To(Equal(time.Hour + 2*time.Minute + 3*time.Second))
			Expect(sample.Transfers).To(Equal(7))
			Expect(sample.ToCheck).To(Equal(12))
			Expect(sample.Total).To(Equal(40))
		})

		DescribeTable("normalizes rates to bytes per second",
			func(units progress.UnitConvention, rate string, expected float64) {
				// given
				parser := progress.NewParser(units)

				// when
				sample, err := parser.Parse("  1,000  10%  "+rate+"  0:00:01", now)

				// then
				Expect(err).NotTo(HaveOccurred())
				Expect(sample.RateBytesPerSec).To(Equal(expected))
			},
			Entry("decimal MB", progress.UnitsDecimal, "1.50MB/s", 1500000.0),
			Entry("decimal kB", progress.UnitsDecimal, "32.00kB/s", 32000.0),
			Entry("decimal GB", progress.UnitsDecimal, "2.00GB/s", 2e9),
			Entry("plain bytes", progress.UnitsDecimal, "512.00B/s", 512.0),
			Entry("binary kB", progress.UnitsBinary, "32.00kB/s", 32768.0),
			Entry("binary MB", progress.UnitsBinary, "1.50MB/s", 1.5*1024*1024),
			Entry("IEC prefix is always binary", progress.UnitsDecimal, "2.00MiB/s", 2.0*1024*1024),
		)

		It("parses human readable byte counts", func() {
			// when
			sample, err := binary.Parse("     32.00K  10%   31.25kB/s    0:00:09", now)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.BytesTransferred).To(BeEquivalentTo(32768))
			Expect(sample.RateBytesPerSec).To(Equal(31.25 * 1024))
		})

		It("clamps the percentage", func() {
			// when
			sample, err := decimal.Parse("  1,000  250%  1.00kB/s  0:00:01", now)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.PercentComplete).To(BeNumerically("==", 100))
		})

		It("leaves unknown ETA empty", func() {
			// when
			sample, err := decimal.Parse("  1,000  10%  1.00kB/s  ??:??:??", now)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.ETA).To(BeNil())
		})

		It("leaves an ETA too large for a duration empty", func() {
			// when
			sample, err := decimal.Parse("  1  2%  3MB/s  99999999999999999999:00:00", now)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.ETA).To(BeNil())
			Expect(sample.RateBytesPerSec).To(Equal(3e6))
		})

		It("accepts lines without ETA", func() {
			// when
			sample, err := decimal.Parse("  1,000  10%  1.00kB/s", now)

			// then
			Expect(err).NotTo(HaveOccurred())
			Expect(sample.ETA).To(BeNil())
			Expect(sample.RateBytesPerSec).To(Equal(1000.0))
		})

		DescribeTable("reports non progress lines as no match",
			func(line string) {
				// when
				_, err := decimal.Parse(line, now)

				// then
				Expect(errors.Is(err, progress.ErrNoMatch)).To(BeTrue())
				Expect(errors.Is(err, progress.ErrMalformed)).To(BeFalse())
			},
			Entry("empty", ""),
			Entry("blank", "    "),
			Entry("file name", "photos/2022/IMG_0001.jpg"),
			Entry("header", "receiving incremental file list"),
			Entry("summary", "sent 1,234 bytes  received 5,678 bytes  2,580.00 bytes/sec"),
			Entry("totals", "total size is 123,456  speedup is 1.00"),
		)

		DescribeTable("reports broken numeric fields as malformed",
			func(line, field string) {
				// when
				_, err := decimal.Parse(line, now)

				// then
				Expect(errors.Is(err, progress.ErrMalformed)).To(BeTrue())
				var parseErr *progress.ParseError
				Expect(errors.As(err, &parseErr)).To(BeTrue())
				Expect(parseErr.Field).To(Equal(field))
			},
			Entry("rate is N/A", "  1,000  10%  N/A  0:00:01", "rate"),
			Entry("unknown rate unit", "  1,000  10%  1.00XB/s  0:00:01", "rate"),
			Entry("percent with two dots", "  1,000  1.0.0%  1.00kB/s  0:00:01", "percent"),
			Entry("bytes overflow", "  99999999999999999999999  10%  1.00kB/s  0:00:01", "bytes"),
			Entry("human readable bytes overflow", "99999999999P 2% 3MB/s", "bytes"),
		)
	})

	Context("ParseUnitConvention", func() {

		It("accepts aliases", func() {
			Expect(progress.ParseUnitConvention("1024")).To(Equal(progress.UnitsBinary))
			Expect(progress.ParseUnitConvention("SI")).To(Equal(progress.UnitsDecimal))
			Expect(progress.ParseUnitConvention(" binary ")).To(Equal(progress.UnitsBinary))
		})

		It("rejects unknown conventions", func() {
			_, err := progress.ParseUnitConvention("metric-ish")
			Expect(err).To(HaveOccurred())
		})
	})
})
