package configuration

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"sigs.k8s.io/yaml"
)

// File is the on-disk form of the configuration. Every field is optional;
// empty values fall back to the defaults. Durations use the prometheus
// notation, e.g. "30s", "2m" or "1h30m".
type File struct {
	Server         string `json:"server,omitempty" toml:"server,omitempty"`
	RemotePath     string `json:"remote_path,omitempty" toml:"remote_path,omitempty"`
	Destination    string `json:"destination,omitempty" toml:"destination,omitempty"`
	JumpHost       string `json:"jump_host,omitempty" toml:"jump_host,omitempty"`
	ExcludeFile    string `json:"exclude_file,omitempty" toml:"exclude_file,omitempty"`
	BandwidthLimit string `json:"bwlimit,omitempty" toml:"bwlimit,omitempty"`
	RsyncBinary    string `json:"rsync_binary,omitempty" toml:"rsync_binary,omitempty"`
	RsyncTimeout   string `json:"rsync_timeout,omitempty" toml:"rsync_timeout,omitempty"`

	// ThresholdRate is either a plain number of bytes per second or a rate
	// as rsync prints it, e.g. "100.00kB/s".
	ThresholdRate   string `json:"threshold_rate,omitempty" toml:"threshold_rate,omitempty"`
	MaxSlowDuration string `json:"max_slow_duration,omitempty" toml:"max_slow_duration,omitempty"`
	WindowMode      string `json:"window_mode,omitempty" toml:"window_mode,omitempty"`
	WindowSize      *int   `json:"window_size,omitempty" toml:"window_size,omitempty"`
	WindowSpan      string `json:"window_span,omitempty" toml:"window_span,omitempty"`
	GraceSamples    *int   `json:"grace_samples,omitempty" toml:"grace_samples,omitempty"`
	SlowAnchor      string `json:"slow_anchor,omitempty" toml:"slow_anchor,omitempty"`
	UnitConvention  string `json:"unit_convention,omitempty" toml:"unit_convention,omitempty"`

	TerminationTimeout string `json:"termination_timeout,omitempty" toml:"termination_timeout,omitempty"`
	InactivityTimeout  string `json:"inactivity_timeout,omitempty" toml:"inactivity_timeout,omitempty"`

	RepeatInterval string `json:"repeat_interval,omitempty" toml:"repeat_interval,omitempty"`
	RestartOnSlow  *bool  `json:"restart_on_slow,omitempty" toml:"restart_on_slow,omitempty"`
	MaxRestarts    *int   `json:"max_restarts,omitempty" toml:"max_restarts,omitempty"`

	MetricsAddress string `json:"metrics_address,omitempty" toml:"metrics_address,omitempty"`
	LogLevel       string `json:"log_level,omitempty" toml:"log_level,omitempty"`
}

// LoadFile reads a TOML, YAML or JSON configuration file, picked by extension.
func LoadFile(path string) (File, error) {
	var file File
	content, err := ioutil.ReadFile(path) //#nosec
	if err != nil {
		return file, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(content, &file)
	case ".yaml", ".yml", ".json":
		err = yaml.UnmarshalStrict(content, &file)
	default:
		return file, fmt.Errorf("unsupported configuration format %q", filepath.Ext(path))
	}
	if err != nil {
		return file, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return file, nil
}

// Merge returns base with every field set in override replacing it.
func Merge(base, override File) File {
	merged := base
	str := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	str(&merged.Server, override.Server)
	str(&merged.RemotePath, override.RemotePath)
	str(&merged.Destination, override.Destination)
	str(&merged.JumpHost, override.JumpHost)
	str(&merged.ExcludeFile, override.ExcludeFile)
	str(&merged.BandwidthLimit, override.BandwidthLimit)
	str(&merged.RsyncBinary, override.RsyncBinary)
	str(&merged.RsyncTimeout, override.RsyncTimeout)
	str(&merged.ThresholdRate, override.ThresholdRate)
	str(&merged.MaxSlowDuration, override.MaxSlowDuration)
	str(&merged.WindowMode, override.WindowMode)
	str(&merged.WindowSpan, override.WindowSpan)
	str(&merged.SlowAnchor, override.SlowAnchor)
	str(&merged.UnitConvention, override.UnitConvention)
	str(&merged.TerminationTimeout, override.TerminationTimeout)
	str(&merged.InactivityTimeout, override.InactivityTimeout)
	str(&merged.RepeatInterval, override.RepeatInterval)
	str(&merged.MetricsAddress, override.MetricsAddress)
	str(&merged.LogLevel, override.LogLevel)
	if override.WindowSize != nil {
		merged.WindowSize = override.WindowSize
	}
	if override.GraceSamples != nil {
		merged.GraceSamples = override.GraceSamples
	}
	if override.RestartOnSlow != nil {
		merged.RestartOnSlow = override.RestartOnSlow
	}
	if override.MaxRestarts != nil {
		merged.MaxRestarts = override.MaxRestarts
	}
	return merged
}
