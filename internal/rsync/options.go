package rsync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	DefaultBinary   = "rsync"
	DefaultTimeout  = 30 * time.Second
	partialPattern  = "*.part"
	outbufLineValue = "--outbuf=Line"
)

// --outbuf appeared in rsync 3.1.0
var outbufMinVersion = semver.MustParse("3.1.0")

// Options describe a pull of Server:RemotePath into Destination.
type Options struct {
	Binary      string
	Server      string
	RemotePath  string
	Destination string
	// JumpHost is passed to ssh as -J.
	JumpHost    string
	ExcludeFile string
	// BandwidthLimit is handed verbatim to --bwlimit, e.g. "5m".
	BandwidthLimit string
	// Timeout is rsync's own I/O timeout.
	Timeout time.Duration
}

func (o Options) binary() string {
	if o.Binary == "" {
		return DefaultBinary
	}
	return o.Binary
}

func (o Options) Validate() error {
	var errors error
	if o.Server == "" {
		errors = multierror.Append(errors, fmt.Errorf("server is required"))
	}
	if o.RemotePath == "" {
		errors = multierror.Append(errors, fmt.Errorf("remote path is required"))
	}
	if o.Destination == "" {
		errors = multierror.Append(errors, fmt.Errorf("destination is required"))
	}
	if o.ExcludeFile != "" {
		info, err := os.Stat(o.ExcludeFile)
		switch {
		case err != nil:
			errors = multierror.Append(errors, fmt.Errorf("exclude file %s does not exist: %w", o.ExcludeFile, err))
		case info.IsDir():
			errors = multierror.Append(errors, fmt.Errorf("exclude file %s is a directory", o.ExcludeFile))
		}
	}
	if o.Timeout < 0 {
		errors = multierror.Append(errors, fmt.Errorf("timeout cannot be negative: %v", o.Timeout))
	}
	return errors
}

// Source is the remote side in rsync notation. The trailing slash makes rsync
// copy the content of the directory rather than the directory itself.
func (o Options) Source() string {
	return fmt.Sprintf("%s:%s", o.Server, withTrailingSlash(o.RemotePath))
}

// LocalDestination resolves ~ and relative paths and adds a trailing slash.
func (o Options) LocalDestination() (string, error) {
	dest := o.Destination
	if dest == "~" || strings.HasPrefix(dest, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "cannot expand ~ in destination")
		}
		dest = filepath.Join(home, strings.TrimPrefix(dest, "~"))
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve destination %s", o.Destination)
	}
	return withTrailingSlash(abs), nil
}

// Args builds the rsync command line. A nil version means the installed
// rsync could not be identified and version dependent flags are left out.
func (o Options) Args(version *semver.Version) ([]string, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	dest, err := o.LocalDestination()
	if err != nil {
		return nil, err
	}

	timeout := o.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	args := []string{
		"--hard-links",
		"--links",
		"--partial",
		"--perms",
		"--progress",
		"--recursive",
		"--times",
		"--verbose",
		fmt.Sprintf("--timeout=%d", int(timeout.Seconds())),
	}
	if version != nil && version.GTE(outbufMinVersion) {
		args = append(args, outbufLineValue)
	}
	if o.JumpHost != "" {
		args = append(args, "-e", fmt.Sprintf("ssh -J %s", o.JumpHost))
	}
	if o.ExcludeFile != "" {
		args = append(args, fmt.Sprintf("--exclude-from=%s", o.ExcludeFile))
	}
	if o.BandwidthLimit != "" {
		args = append(args, "--bwlimit", o.BandwidthLimit)
	}
	args = append(args, "--exclude", partialPattern, o.Source(), dest)
	return args, nil
}

func withTrailingSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}
