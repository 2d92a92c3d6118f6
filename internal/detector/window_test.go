package detector_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/project-flotta/flotta-sync-worker/internal/detector"
)

var _ = Describe("RateWindow", func() {

	It("keeps at most the configured number of samples", func() {
		// given
		window := detector.NewRateWindow(3, 0)

		// when
		for i := 0; i < 5; i++ {
			Expect(window.Add(sampleAt(float64(i), float64(i)))).To(BeTrue())
		}

		// then
		Expect(window.Len()).To(Equal(3))
		Expect(window.Samples()[0].RateBytesPerSec).To(BeNumerically("==", 2))
		Expect(window.Average()).To(BeNumerically("==", 3))
	})

	It("keeps samples inside the time span, boundary included", func() {
		// given
		window := detector.NewRateWindow(0, 10*time.Second)

		// when
		window.Add(sampleAt(0, 1))
		window.Add(sampleAt(5, 2))
		window.Add(sampleAt(10, 3))
		window.Add(sampleAt(15, 4))

		// then
		Expect(window.Len()).To(Equal(3))
		Expect(window.Span()).To(Equal(10 * time.Second))
		latest, ok := window.Latest()
		Expect(ok).To(BeTrue())
		Expect(latest.RateBytesPerSec).To(BeNumerically("==", 4))
	})

	It("always keeps the newest sample", func() {
		// given
		window := detector.NewRateWindow(0, time.Second)
		window.Add(sampleAt(0, 1))

		// when
		window.Add(sampleAt(100, 2))

		// then
		Expect(window.Len()).To(Equal(1))
		Expect(window.Average()).To(BeNumerically("==", 2))
	})

	It("replaces a sample with the same timestamp", func() {
		// given
		window := detector.NewRateWindow(0, 0)
		window.Add(sampleAt(1, 1))

		// when
		added := window.Add(sampleAt(1, 9))

		// then
		Expect(added).To(BeTrue())
		Expect(window.Len()).To(Equal(1))
		Expect(window.Average()).To(BeNumerically("==", 9))
	})

	It("rejects samples going back in time", func() {
		// given
		window := detector.NewRateWindow(0, 0)
		window.Add(sampleAt(10, 1))

		// when
		added := window.Add(sampleAt(9, 1))

		// then
		Expect(added).To(BeFalse())
		Expect(window.Len()).To(Equal(1))
	})

	It("is empty after clear", func() {
		// given
		window := detector.NewRateWindow(0, 0)
		window.Add(sampleAt(10, 1))

		// when
		window.Clear()

		// then
		Expect(window.Len()).To(BeZero())
		Expect(window.Average()).To(BeZero())
		_, ok := window.Latest()
		Expect(ok).To(BeFalse())
	})
})
