package detector

import (
	"time"

	"github.com/project-flotta/flotta-sync-worker/internal/progress"
)

// RateWindow keeps the most recent samples bounded by count and/or time
// span. A zero bound is not enforced; the newest sample is always kept.
type RateWindow struct {
	maxCount int
	maxSpan  time.Duration
	samples  []progress.Sample
}

func NewRateWindow(maxCount int, maxSpan time.Duration) *RateWindow {
	return &RateWindow{
		maxCount: maxCount,
		maxSpan:  maxSpan,
	}
}

// Add appends a sample and evicts what fell out of the window. It returns
// false when the sample is older than the newest one held, in which case
// the window is unchanged. A sample stamped exactly like the newest one
// replaces it.
func (w *RateWindow) Add(sample progress.Sample) bool {
	if n := len(w.samples); n > 0 {
		newest := w.samples[n-1].Timestamp
		switch {
		case sample.Timestamp.Before(newest):
			return false
		case sample.Timestamp.Equal(newest):
			w.samples[n-1] = sample
			return true
		}
	}
	w.samples = append(w.samples, sample)
	w.evict(sample.Timestamp)
	return true
}

func (w *RateWindow) evict(now time.Time) {
	drop := 0
	if w.maxCount > 0 && len(w.samples) > w.maxCount {
		drop = len(w.samples) - w.maxCount
	}
	if w.maxSpan > 0 {
		oldest := now.Add(-w.maxSpan)
		for drop < len(w.samples)-1 && w.samples[drop].Timestamp.Before(oldest) {
			drop++
		}
	}
	if drop > 0 {
		w.samples = append(w.samples[:0], w.samples[drop:]...)
	}
}

func (w *RateWindow) Len() int {
	return len(w.samples)
}

// Samples returns a copy of the samples currently in the window, oldest first.
func (w *RateWindow) Samples() []progress.Sample {
	res := make([]progress.Sample, len(w.samples))
	copy(res, w.samples)
	return res
}

func (w *RateWindow) Latest() (progress.Sample, bool) {
	if len(w.samples) == 0 {
		return progress.Sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// Average is the arithmetic mean of the rates in the window.
func (w *RateWindow) Average() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w.samples {
		sum += s.RateBytesPerSec
	}
	return sum / float64(len(w.samples))
}

// Span is the time covered between the oldest and newest samples.
func (w *RateWindow) Span() time.Duration {
	if len(w.samples) < 2 {
		return 0
	}
	return w.samples[len(w.samples)-1].Timestamp.Sub(w.samples[0].Timestamp)
}

func (w *RateWindow) Clear() {
	w.samples = w.samples[:0]
}
