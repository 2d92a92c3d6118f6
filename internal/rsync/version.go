package rsync

import (
	"context"
	"os/exec"
	"regexp"

	"github.com/blang/semver"
	"github.com/pkg/errors"
)

var versionRegexp = regexp.MustCompile(`(?m)^rsync\s+version\s+v?([0-9]+(?:\.[0-9]+)*)([A-Za-z][0-9A-Za-z]*)?`)

// CommandRunner runs short lived helper commands.
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func NewCommandRunner() CommandRunner {
	return &execRunner{}
}

func (e *execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output() //#nosec
}

// ParseVersion reads the version from the first lines of `rsync --version`,
// e.g. "rsync  version 3.2.7  protocol version 31".
func ParseVersion(output string) (semver.Version, error) {
	m := versionRegexp.FindStringSubmatch(output)
	if m == nil {
		return semver.Version{}, errors.Errorf("no version in %q", firstLine(output))
	}
	version, err := semver.ParseTolerant(m[1])
	if err != nil {
		return semver.Version{}, errors.Wrapf(err, "cannot parse rsync version %q", m[1])
	}
	if m[2] != "" {
		// pre-releases are named like 3.2.0pre1
		pre, err := semver.NewPRVersion(m[2])
		if err != nil {
			return semver.Version{}, errors.Wrapf(err, "cannot parse rsync pre-release %q", m[2])
		}
		version.Pre = append(version.Pre, pre)
	}
	return version, nil
}

func DetectVersion(ctx context.Context, runner CommandRunner, binary string) (semver.Version, error) {
	out, err := runner.Output(ctx, binary, "--version")
	if err != nil {
		return semver.Version{}, errors.Wrapf(err, "cannot run %s --version", binary)
	}
	return ParseVersion(string(out))
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
