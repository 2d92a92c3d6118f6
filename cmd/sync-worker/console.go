package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/project-flotta/flotta-sync-worker/internal/detector"
	"github.com/project-flotta/flotta-sync-worker/internal/progress"
	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
)

// console renders the transfer for an interactive terminal.
type console struct {
	out io.Writer

	lock sync.Mutex
	bar  *progressbar.ProgressBar
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) newBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// Line prints rsync's own messages above the bar.
func (c *console) Line(line string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if line == "" {
		return
	}
	if c.bar != nil {
		_ = c.bar.Clear()
	}
	fmt.Fprintln(c.out, line)
}

func (c *console) Sample(sample progress.Sample, state detector.SlowState) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.bar == nil {
		c.bar = c.newBar()
	}
	description := progress.FormatRate(sample.RateBytesPerSec)
	if sample.ETA != nil {
		description += " eta " + sample.ETA.String()
	}
	if state.IsSlow {
		description += fmt.Sprintf(" [slow %s/%s]",
			state.SlowFor(sample.Timestamp).Round(time.Second), state.MaxSlowDuration)
	}
	c.bar.Describe(description)
	_ = c.bar.Set(int(sample.PercentComplete))
}

func (c *console) Countdown(remaining time.Duration) {
	fmt.Fprintf(c.out, "\rnext sync in %-10s", remaining)
}

func (c *console) Outcome(outcome supervisor.Outcome, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.bar != nil {
		_ = c.bar.Finish()
		c.bar = nil
	}
	if err != nil {
		fmt.Fprintf(c.out, "transfer failed: %v\n", err)
		c.tail(outcome.RecentOutput)
		return
	}

	switch outcome.Kind {
	case supervisor.TerminatedDueToSlowTransfer:
		fmt.Fprintf(c.out, "transfer too slow: below %s for %s",
			progress.FormatRate(outcome.SlowState.ThresholdRate), outcome.SlowState.MaxSlowDuration)
		if outcome.CurrentFile != "" {
			fmt.Fprintf(c.out, " while copying %s", outcome.CurrentFile)
		}
		fmt.Fprintln(c.out)
	case supervisor.TerminatedDueToInactivity:
		fmt.Fprintln(c.out, "transfer stalled: rsync stopped reporting progress")
	case supervisor.Cancelled:
		fmt.Fprintln(c.out, "transfer cancelled")
	case supervisor.Completed:
		if outcome.ExitCode != 0 {
			fmt.Fprintf(c.out, "rsync exited with code %d\n", outcome.ExitCode)
			c.tail(outcome.RecentOutput)
			return
		}
		fmt.Fprintf(c.out, "transfer completed in %s\n", outcome.Duration.Round(time.Second))
	}
	if outcome.Forced {
		fmt.Fprintln(c.out, "rsync did not stop in time and was killed")
	}
}

func (c *console) tail(lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(c.out, "last output:\n  %s\n", strings.Join(lines, "\n  "))
}
