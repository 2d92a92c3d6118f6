package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"git.sr.ht/~spc/go-log"
	"github.com/spf13/cobra"

	"github.com/project-flotta/flotta-sync-worker/internal/configuration"
	"github.com/project-flotta/flotta-sync-worker/internal/metrics"
	"github.com/project-flotta/flotta-sync-worker/internal/rsync"
	"github.com/project-flotta/flotta-sync-worker/internal/service"
	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
	"github.com/project-flotta/flotta-sync-worker/internal/syncjob"
)

// Exit codes besides rsync's own.
const (
	exitOK           = 0
	exitUsage        = 1
	exitFailed       = 2
	exitSlow         = 3
	exitInactive     = 4
	exitInterrupted  = 130
	logLevelVariable = "SYNC_WORKER_LOG_LEVEL"
)

var (
	version = "dev"

	configFile string
	overrides  configuration.File
	quiet      bool

	windowSize    int
	graceSamples  int
	restartOnSlow bool
	maxRestarts   int
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func main() {
	log.SetFlags(0)
	setLogLevel(os.Getenv(logLevelVariable))

	if err := newRootCommand().Execute(); err != nil {
		if exit, ok := err.(exitError); ok {
			os.Exit(exit.code)
		}
		log.Error(err)
		os.Exit(exitUsage)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sync-worker",
		Short: "Supervised rsync pull that gives up on slow transfers",
		Long: `sync-worker pulls a remote directory with rsync over SSH, watches the
reported throughput and stops the transfer when it stays below a threshold
for too long. It can restart such transfers and repeat the sync on an interval.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSync,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "configuration file (.toml, .yaml or .json)")
	flags.StringVarP(&overrides.Server, "server", "s", "", "remote host to pull from")
	flags.StringVarP(&overrides.RemotePath, "remote-path", "r", "", "directory on the remote host")
	flags.StringVarP(&overrides.Destination, "destination", "d", "", "local destination directory")
	flags.StringVarP(&overrides.JumpHost, "jump-host", "j", "", "SSH jump host")
	flags.StringVarP(&overrides.ExcludeFile, "exclude-file", "e", "", "file with rsync exclude patterns")
	flags.StringVarP(&overrides.BandwidthLimit, "bwlimit", "l", "", "rsync bandwidth limit")
	flags.StringVar(&overrides.RsyncBinary, "rsync", "", "rsync binary")
	flags.StringVar(&overrides.RsyncTimeout, "rsync-timeout", "", "rsync I/O timeout")
	flags.StringVar(&overrides.ThresholdRate, "threshold-rate", "", "slowest acceptable rate, e.g. 100000 or 100.00kB/s")
	flags.StringVar(&overrides.MaxSlowDuration, "max-slow-duration", "", "how long a slow transfer is tolerated")
	flags.StringVar(&overrides.WindowMode, "window-mode", "", "instantaneous or windowed-average")
	flags.IntVar(&windowSize, "window-size", 0, "samples kept for the windowed average, 0 for no limit")
	flags.StringVar(&overrides.WindowSpan, "window-span", "", "time covered by the windowed average")
	flags.IntVar(&graceSamples, "grace-samples", 0, "acceptable samples tolerated inside a slow streak")
	flags.StringVar(&overrides.SlowAnchor, "slow-anchor", "", "where a slow streak starts: first-slow-sample (default) or "+
		"last-acceptable, which counts from the last acceptable sample and so also the time before the first slow one")
	flags.StringVar(&overrides.UnitConvention, "unit-convention", "", "decimal or binary rate units")
	flags.StringVar(&overrides.InactivityTimeout, "inactivity-timeout", "", "stop when rsync prints nothing for this long, 0 to disable")
	flags.StringVar(&overrides.TerminationTimeout, "termination-timeout", "", "time given to rsync to exit before it is killed")
	flags.StringVarP(&overrides.RepeatInterval, "repeat-interval", "p", "", "run the sync again after this interval")
	flags.BoolVar(&restartOnSlow, "restart-on-slow", false, "restart a transfer stopped for being slow")
	flags.IntVar(&maxRestarts, "max-restarts", 0, "limit of restarts in a row, 0 for no limit")
	flags.StringVar(&overrides.MetricsAddress, "metrics-address", "", "serve prometheus metrics on this address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (ERROR, WARN, INFO, DEBUG)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "no progress bar")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sync-worker version %s\n", version)
		},
	})
	return rootCmd
}

func setLogLevel(value string) {
	if value == "" {
		value = configuration.DefaultLogLevel
	}
	level, err := log.ParseLevel(value)
	if err != nil {
		level = log.LevelInfo
	}
	log.SetLevel(level)
}

// logLevel follows the configured log level.
type logLevel struct{}

func (logLevel) String() string {
	return "log level"
}

func (l logLevel) Init(config configuration.Config) error {
	return l.Update(config)
}

func (logLevel) Update(config configuration.Config) error {
	setLogLevel(config.LogLevel)
	return nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if flags.Changed("window-size") {
		overrides.WindowSize = &windowSize
	}
	if flags.Changed("grace-samples") {
		overrides.GraceSamples = &graceSamples
	}
	if flags.Changed("restart-on-slow") {
		overrides.RestartOnSlow = &restartOnSlow
	}
	if flags.Changed("max-restarts") {
		overrides.MaxRestarts = &maxRestarts
	}
	if overrides.LogLevel == "" {
		overrides.LogLevel = os.Getenv(logLevelVariable)
	}

	configManager, err := configuration.NewConfigurationManager(configFile, overrides)
	if err != nil {
		return err
	}
	config := configManager.GetConfiguration()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configManager.RegisterObserver(logLevel{})

	transferMetrics := metrics.NewTransferMetrics()
	metricsServer := metrics.NewServer(transferMetrics.Registry())
	configManager.RegisterObserver(metricsServer)
	defer metricsServer.Stop()

	notifier := service.NewNotifier(nil)

	supervisorOpts := []supervisor.Option{
		supervisor.WithRecorder(transferMetrics),
		supervisor.WithRecorder(notifier),
	}
	runnerOpts := []syncjob.Option{}
	if !quiet {
		display := newConsole(os.Stderr)
		supervisorOpts = append(supervisorOpts,
			supervisor.WithSampleHandler(display.Sample),
			supervisor.WithLineHandler(display.Line))
		runnerOpts = append(runnerOpts,
			syncjob.WithOutcomeHandler(display.Outcome),
			syncjob.WithCountdown(display.Countdown, 0))
	}
	runnerOpts = append(runnerOpts, syncjob.WithSupervisorOptions(supervisorOpts...))

	runner := syncjob.NewRunner(config, func(opts rsync.Options) syncjob.Launcher {
		return rsync.NewLauncher(opts, nil)
	}, runnerOpts...)
	configManager.RegisterObserver(runner)

	if err := configManager.Watch(ctx); err != nil {
		log.Warnf("not watching %s for changes: %v", configFile, err)
	}

	notifier.Ready()
	outcome, err := runner.Run(ctx)
	notifier.Stopping()

	code := exitCode(outcome, err)
	if code != exitOK {
		return exitError{code: code}
	}
	return nil
}

func exitCode(outcome supervisor.Outcome, err error) int {
	if err != nil {
		return exitFailed
	}
	switch outcome.Kind {
	case supervisor.TerminatedDueToSlowTransfer:
		return exitSlow
	case supervisor.TerminatedDueToInactivity:
		return exitInactive
	case supervisor.Cancelled:
		return exitInterrupted
	}
	return outcome.ExitCode
}
