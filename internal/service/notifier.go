package service

import (
	"fmt"
	"sync"
	"time"

	"git.sr.ht/~spc/go-log"
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/project-flotta/flotta-sync-worker/internal/detector"
	"github.com/project-flotta/flotta-sync-worker/internal/progress"
	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
)

const DefaultStatusInterval = time.Second

// Sender delivers a notification to the service manager. It reports false
// when there is no service manager listening.
type Sender func(state string) (bool, error)

func systemdSender(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Notifier keeps systemd informed about the worker: readiness, a status line
// with the transfer progress and watchdog keep-alives while output flows.
type Notifier struct {
	send     Sender
	interval time.Duration
	watchdog bool

	lock       sync.Mutex
	lastStatus time.Time
}

func NewNotifier(sender Sender) *Notifier {
	watchdog := false
	if sender == nil {
		sender = systemdSender
		interval, err := daemon.SdWatchdogEnabled(false)
		if err != nil {
			log.Warnf("cannot read systemd watchdog settings: %v", err)
		}
		watchdog = interval > 0
	}
	return &Notifier{send: sender, interval: DefaultStatusInterval, watchdog: watchdog}
}

func (n *Notifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		log.Debugf("cannot notify systemd: %v", err)
		return
	}
	if sent {
		log.Tracef("notified systemd: %s", state)
	}
}

func (n *Notifier) Ready() {
	n.notify(daemon.SdNotifyReady)
}

func (n *Notifier) Stopping() {
	n.notify(daemon.SdNotifyStopping)
}

func (n *Notifier) Status(format string, args ...interface{}) {
	n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

func (n *Notifier) RecordSample(_ string, sample progress.Sample, rate float64, state detector.SlowState) {
	n.lock.Lock()
	if sample.Timestamp.Sub(n.lastStatus) < n.interval {
		n.lock.Unlock()
		return
	}
	n.lastStatus = sample.Timestamp
	n.lock.Unlock()

	if n.watchdog {
		n.notify(daemon.SdNotifyWatchdog)
	}
	if state.IsSlow {
		n.Status("%.0f%% at %s, slow for %v", sample.PercentComplete, progress.FormatRate(rate),
			state.SlowFor(sample.Timestamp).Truncate(time.Second))
		return
	}
	n.Status("%.0f%% at %s", sample.PercentComplete, progress.FormatRate(rate))
}

func (n *Notifier) RecordOutcome(outcome supervisor.Outcome) {
	n.Status("last transfer %s, exit code %d", outcome.Kind, outcome.ExitCode)
}
