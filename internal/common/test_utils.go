package common

import (
	"os"
	"os/exec"

	. "github.com/onsi/ginkgo/v2"
)

func checkReason(reason string) {
	if len(reason) < 5 {
		panic("Test must specify a reason to skip")
	}
}

// SkipIfMissing skips the current test when the executable cannot be found.
func SkipIfMissing(executable string, reason string) {
	checkReason(reason)
	if _, err := exec.LookPath(executable); err != nil {
		Skip("[missing " + executable + "]: " + reason)
	}
}

// SkipIfNoTerminal skips the current test when no pseudo terminal can be
// allocated, as in some minimal containers.
func SkipIfNoTerminal(reason string) {
	checkReason(reason)
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		Skip("[no pty]: " + reason)
	}
}
