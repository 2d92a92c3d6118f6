package configuration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~spc/go-log"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/common/model"

	"github.com/project-flotta/flotta-sync-worker/internal/detector"
	"github.com/project-flotta/flotta-sync-worker/internal/progress"
	"github.com/project-flotta/flotta-sync-worker/internal/rsync"
	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
)

const DefaultLogLevel = "INFO"

// Config is the validated runtime configuration.
type Config struct {
	Rsync      rsync.Options
	Supervisor supervisor.Config

	// RepeatInterval > 0 runs the sync again after a countdown.
	RepeatInterval time.Duration
	// RestartOnSlow relaunches a transfer stopped for being slow right away.
	RestartOnSlow bool
	// MaxRestarts bounds the immediate relaunches, 0 means no limit.
	MaxRestarts int

	MetricsAddress string
	LogLevel       string
}

func DefaultConfig() Config {
	return Config{
		Rsync:      rsync.Options{Binary: rsync.DefaultBinary, Timeout: rsync.DefaultTimeout},
		Supervisor: supervisor.DefaultConfig(),
		LogLevel:   DefaultLogLevel,
	}
}

// Build turns a configuration file into a Config, reporting every invalid
// value at once.
func Build(file File) (Config, error) {
	cfg := DefaultConfig()
	var errors error

	duration := func(name, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := model.ParseDuration(value)
		if err != nil {
			errors = multierror.Append(errors, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = time.Duration(d)
	}

	cfg.Rsync.Server = file.Server
	cfg.Rsync.RemotePath = file.RemotePath
	cfg.Rsync.Destination = file.Destination
	cfg.Rsync.JumpHost = file.JumpHost
	cfg.Rsync.ExcludeFile = file.ExcludeFile
	cfg.Rsync.BandwidthLimit = file.BandwidthLimit
	if file.RsyncBinary != "" {
		cfg.Rsync.Binary = file.RsyncBinary
	}
	duration("rsync_timeout", file.RsyncTimeout, &cfg.Rsync.Timeout)

	if file.UnitConvention != "" {
		units, err := progress.ParseUnitConvention(file.UnitConvention)
		if err != nil {
			errors = multierror.Append(errors, fmt.Errorf("unit_convention: %w", err))
		} else {
			cfg.Supervisor.Units = units
		}
	}

	det := &cfg.Supervisor.Detector
	if file.ThresholdRate != "" {
		rate, err := parseThreshold(file.ThresholdRate, cfg.Supervisor.Units)
		if err != nil {
			errors = multierror.Append(errors, fmt.Errorf("threshold_rate: %w", err))
		} else {
			det.ThresholdRate = rate
		}
	}
	duration("max_slow_duration", file.MaxSlowDuration, &det.MaxSlowDuration)
	if file.WindowMode != "" {
		det.Mode = detector.WindowMode(file.WindowMode)
	}
	if file.WindowSize != nil {
		det.WindowSize = *file.WindowSize
	}
	duration("window_span", file.WindowSpan, &det.WindowSpan)
	if file.GraceSamples != nil {
		det.GraceSamples = *file.GraceSamples
	}
	if file.SlowAnchor != "" {
		det.Anchor = detector.Anchor(file.SlowAnchor)
	}

	duration("termination_timeout", file.TerminationTimeout, &cfg.Supervisor.TerminationTimeout)
	duration("inactivity_timeout", file.InactivityTimeout, &cfg.Supervisor.InactivityTimeout)
	duration("repeat_interval", file.RepeatInterval, &cfg.RepeatInterval)
	if file.RestartOnSlow != nil {
		cfg.RestartOnSlow = *file.RestartOnSlow
	}
	if file.MaxRestarts != nil {
		cfg.MaxRestarts = *file.MaxRestarts
	}
	cfg.MetricsAddress = file.MetricsAddress
	if file.LogLevel != "" {
		cfg.LogLevel = strings.ToUpper(file.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		errors = multierror.Append(errors, err)
	}
	return cfg, errors
}

func (c Config) Validate() error {
	var errors error
	if err := c.Rsync.Validate(); err != nil {
		errors = multierror.Append(errors, err)
	}
	if err := c.Supervisor.Detector.Validate(); err != nil {
		errors = multierror.Append(errors, err)
	}
	if c.Supervisor.TerminationTimeout <= 0 {
		errors = multierror.Append(errors, fmt.Errorf("termination timeout must be positive: %v", c.Supervisor.TerminationTimeout))
	}
	if c.MaxRestarts < 0 {
		errors = multierror.Append(errors, fmt.Errorf("max restarts cannot be negative: %d", c.MaxRestarts))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = multierror.Append(errors, fmt.Errorf("log level: %w", err))
	}
	return errors
}

func parseThreshold(value string, units progress.UnitConvention) (float64, error) {
	if rate, err := strconv.ParseFloat(value, 64); err == nil {
		if rate < 0 {
			return 0, fmt.Errorf("rate cannot be negative: %v", rate)
		}
		return rate, nil
	}
	return progress.NewParser(units).ParseRate(value)
}
