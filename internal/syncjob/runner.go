package syncjob

import (
	"context"
	"reflect"
	"sync"
	"time"

	"git.sr.ht/~spc/go-log"
	"github.com/google/uuid"

	"github.com/project-flotta/flotta-sync-worker/internal/configuration"
	"github.com/project-flotta/flotta-sync-worker/internal/rsync"
	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
)

//go:generate mockgen -package=syncjob -destination=launcher_mock.go . Launcher
type Launcher interface {
	Start(ctx context.Context) (supervisor.Process, error)
}

type LauncherFactory func(opts rsync.Options) Launcher

type Option func(*Runner)

// WithSupervisorOptions are applied to the supervisor of every transfer.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(r *Runner) {
		r.supervisorOpts = append(r.supervisorOpts, opts...)
	}
}

// WithOutcomeHandler is called after each transfer, also for failed ones.
func WithOutcomeHandler(handler func(supervisor.Outcome, error)) Option {
	return func(r *Runner) {
		r.onOutcome = handler
	}
}

// WithCountdown is called on every tick while waiting for the next repetition.
func WithCountdown(handler func(remaining time.Duration), tick time.Duration) Option {
	return func(r *Runner) {
		r.onCountdown = handler
		if tick > 0 {
			r.tick = tick
		}
	}
}

// Runner runs the transfer, restarts it when it was stopped for being slow
// and repeats it on an interval.
type Runner struct {
	newLauncher    LauncherFactory
	supervisorOpts []supervisor.Option
	onOutcome      func(supervisor.Outcome, error)
	onCountdown    func(time.Duration)
	tick           time.Duration

	lock    sync.Mutex
	config  configuration.Config
	current *supervisor.Supervisor
}

func NewRunner(config configuration.Config, newLauncher LauncherFactory, opts ...Option) *Runner {
	r := &Runner{
		config:      config,
		newLauncher: newLauncher,
		tick:        time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) String() string {
	return "sync job"
}

func (r *Runner) Init(config configuration.Config) error {
	return r.Update(config)
}

// Update applies a new configuration. Slow transfer settings reach the
// running transfer at once, everything else the next one.
func (r *Runner) Update(config configuration.Config) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	changed := !reflect.DeepEqual(r.config.Supervisor.Detector, config.Supervisor.Detector)
	r.config = config
	if changed && r.current != nil {
		r.current.Reconfigure(config.Supervisor.Detector)
	}
	return nil
}

func (r *Runner) getConfig() configuration.Config {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.config
}

func (r *Runner) setCurrent(current *supervisor.Supervisor) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.current = current
}

// RunOnce launches and supervises a single transfer.
func (r *Runner) RunOnce(ctx context.Context) (supervisor.Outcome, error) {
	config := r.getConfig()
	process, err := r.newLauncher(config.Rsync).Start(ctx)
	if err != nil {
		return supervisor.Outcome{}, err
	}
	opts := append([]supervisor.Option{supervisor.WithSessionID(uuid.New().String())}, r.supervisorOpts...)
	current := supervisor.New(process, config.Supervisor, opts...)
	r.setCurrent(current)
	defer r.setCurrent(nil)
	return current.Run(ctx)
}

// Run keeps transferring until there is nothing left to do: no repeat
// interval is configured, restarts are exhausted or ctx is done. It returns
// the result of the last transfer.
func (r *Runner) Run(ctx context.Context) (supervisor.Outcome, error) {
	restarts := 0
	for {
		outcome, err := r.RunOnce(ctx)
		if r.onOutcome != nil {
			r.onOutcome(outcome, err)
		}
		if err != nil {
			log.Errorf("transfer failed: %v", err)
		}
		if ctx.Err() != nil || (err == nil && outcome.Kind == supervisor.Cancelled) {
			return outcome, err
		}

		config := r.getConfig()
		if err == nil && outcome.Kind == supervisor.TerminatedDueToSlowTransfer && config.RestartOnSlow {
			if config.MaxRestarts == 0 || restarts < config.MaxRestarts {
				restarts++
				log.Infof("restarting slow transfer, attempt %d", restarts)
				continue
			}
			log.Warnf("giving up restarting slow transfer after %d attempts", restarts)
		}
		restarts = 0

		if config.RepeatInterval <= 0 {
			return outcome, err
		}
		log.Infof("next transfer in %v", config.RepeatInterval)
		if !r.countdown(ctx, config.RepeatInterval) {
			return outcome, err
		}
	}
}

// countdown waits for the given time, false when ctx is done first.
func (r *Runner) countdown(ctx context.Context, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-ticker.C:
			if r.onCountdown != nil {
				r.onCountdown(time.Until(deadline).Round(r.tick))
			}
		}
	}
}
