package detector

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/project-flotta/flotta-sync-worker/internal/progress"
)

const (
	DefaultThresholdRate   = 100_000
	DefaultMaxSlowDuration = 30 * time.Second
	DefaultWindowSpan      = 10 * time.Second
)

// WindowMode selects how the representative rate of the window is computed.
type WindowMode string

const (
	ModeInstantaneous   WindowMode = "instantaneous"
	ModeWindowedAverage WindowMode = "windowed-average"
)

// Anchor selects where a new slow streak is considered to have started.
type Anchor string

const (
	// AnchorFirstSlowSample starts the streak at the first slow sample.
	AnchorFirstSlowSample Anchor = "first-slow-sample"
	// AnchorLastAcceptable starts the streak at the last acceptable sample
	// seen in the session, or at the first slow sample when there is none.
	AnchorLastAcceptable Anchor = "last-acceptable"
)

// Decision is what the supervisor should do after a sample.
type Decision int

const (
	Continue Decision = iota
	Terminate
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "CONTINUE"
	case Terminate:
		return "TERMINATE"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

type Config struct {
	// ThresholdRate in bytes per second. Rates strictly below it are slow.
	ThresholdRate float64
	// MaxSlowDuration is how long a slow streak is tolerated.
	MaxSlowDuration time.Duration
	Mode            WindowMode
	// WindowSize bounds the window by sample count, 0 means unbounded.
	WindowSize int
	// WindowSpan bounds the window by time, 0 means unbounded.
	WindowSpan time.Duration
	// GraceSamples is the number of consecutive acceptable samples tolerated
	// inside a slow streak before it is cleared.
	GraceSamples int
	Anchor       Anchor
}

func DefaultConfig() Config {
	return Config{
		ThresholdRate:   DefaultThresholdRate,
		MaxSlowDuration: DefaultMaxSlowDuration,
		Mode:            ModeWindowedAverage,
		WindowSpan:      DefaultWindowSpan,
		Anchor:          AnchorFirstSlowSample,
	}
}

func (c Config) Validate() error {
	var errors error
	if c.ThresholdRate < 0 {
		errors = multierror.Append(errors, fmt.Errorf("threshold rate cannot be negative: %v", c.ThresholdRate))
	}
	if c.MaxSlowDuration < 0 {
		errors = multierror.Append(errors, fmt.Errorf("max slow duration cannot be negative: %v", c.MaxSlowDuration))
	}
	switch c.Mode {
	case ModeInstantaneous, ModeWindowedAverage:
	default:
		errors = multierror.Append(errors, fmt.Errorf("unknown window mode %q", c.Mode))
	}
	if c.WindowSize < 0 {
		errors = multierror.Append(errors, fmt.Errorf("window size cannot be negative: %d", c.WindowSize))
	}
	if c.WindowSpan < 0 {
		errors = multierror.Append(errors, fmt.Errorf("window span cannot be negative: %v", c.WindowSpan))
	}
	if c.GraceSamples < 0 {
		errors = multierror.Append(errors, fmt.Errorf("grace samples cannot be negative: %d", c.GraceSamples))
	}
	switch c.Anchor {
	case "", AnchorFirstSlowSample, AnchorLastAcceptable:
	default:
		errors = multierror.Append(errors, fmt.Errorf("unknown slow anchor %q", c.Anchor))
	}
	return errors
}

// SlowState is the slow streak bookkeeping. SlowSince is zero unless IsSlow.
type SlowState struct {
	IsSlow          bool
	SlowSince       time.Time
	ThresholdRate   float64
	MaxSlowDuration time.Duration
}

// SlowFor returns how long the current streak has lasted at the given time.
func (s SlowState) SlowFor(now time.Time) time.Duration {
	if !s.IsSlow {
		return 0
	}
	return now.Sub(s.SlowSince)
}

// Detector classifies throughput and tracks how long it has been slow.
// It is not safe for concurrent use; the owning supervisor serializes calls.
type Detector struct {
	cfg            Config
	window         *RateWindow
	state          SlowState
	graceUsed      int
	lastAcceptable time.Time
	lastRate       float64
}

func New(cfg Config) *Detector {
	d := &Detector{}
	d.Reconfigure(cfg)
	return d
}

// Reconfigure replaces the configuration and clears all tracking state.
func (d *Detector) Reconfigure(cfg Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeWindowedAverage
	}
	if cfg.Anchor == "" {
		cfg.Anchor = AnchorFirstSlowSample
	}
	d.cfg = cfg
	d.window = NewRateWindow(cfg.WindowSize, cfg.WindowSpan)
	d.Reset()
}

func (d *Detector) Config() Config {
	return d.cfg
}

// Reset forgets the window and the slow streak.
func (d *Detector) Reset() {
	d.window.Clear()
	d.state = SlowState{
		ThresholdRate:   d.cfg.ThresholdRate,
		MaxSlowDuration: d.cfg.MaxSlowDuration,
	}
	d.graceUsed = 0
	d.lastAcceptable = time.Time{}
	d.lastRate = 0
}

func (d *Detector) State() SlowState {
	return d.state
}

// Rate is the representative rate computed for the last accepted sample.
func (d *Detector) Rate() float64 {
	return d.lastRate
}

// Observe records a sample and decides whether the transfer should go on.
func (d *Detector) Observe(sample progress.Sample) Decision {
	latest, hadSamples := d.window.Latest()
	repeated := hadSamples && sample.Timestamp.Equal(latest.Timestamp)

	if !d.window.Add(sample) {
		// out of order, judge with what we already have
		return d.decide(latest.Timestamp)
	}

	now := sample.Timestamp
	d.lastRate = d.representativeRate()
	if d.lastRate < d.cfg.ThresholdRate {
		d.markSlow(now)
	} else {
		d.markAcceptable(now, repeated)
	}
	return d.decide(now)
}

func (d *Detector) representativeRate() float64 {
	if d.cfg.Mode == ModeInstantaneous {
		latest, _ := d.window.Latest()
		return latest.RateBytesPerSec
	}
	return d.window.Average()
}

func (d *Detector) markSlow(now time.Time) {
	d.graceUsed = 0
	if d.state.IsSlow {
		return
	}
	d.state.IsSlow = true
	d.state.SlowSince = now
	if d.cfg.Anchor == AnchorLastAcceptable && !d.lastAcceptable.IsZero() {
		d.state.SlowSince = d.lastAcceptable
	}
}

func (d *Detector) markAcceptable(now time.Time, repeated bool) {
	d.lastAcceptable = now
	if !d.state.IsSlow {
		return
	}
	if repeated && d.graceUsed > 0 {
		// same timestamp already spent a grace sample
		return
	}
	if d.graceUsed < d.cfg.GraceSamples {
		d.graceUsed++
		return
	}
	d.state.IsSlow = false
	d.state.SlowSince = time.Time{}
	d.graceUsed = 0
}

func (d *Detector) decide(now time.Time) Decision {
	if d.state.IsSlow && d.state.SlowFor(now) >= d.cfg.MaxSlowDuration {
		return Terminate
	}
	return Continue
}
