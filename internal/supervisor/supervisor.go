package supervisor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"git.sr.ht/~spc/go-log"
	"github.com/google/uuid"

	"github.com/project-flotta/flotta-sync-worker/internal/detector"
	"github.com/project-flotta/flotta-sync-worker/internal/logs"
	"github.com/project-flotta/flotta-sync-worker/internal/progress"
)

const (
	DefaultTerminationTimeout = 60 * time.Second
	DefaultInactivityTimeout  = 60 * time.Second
	DefaultDrainTimeout       = time.Second
	DefaultOutputBufferSize   = 16 * 1024

	readBufferSize = 4096
)

// rsync chatter that never names a transferred file
var statusLinePrefixes = []string{
	"sending incremental file list",
	"receiving incremental file list",
	"receiving file list",
	"building file list",
	"sent ",
	"total size is",
	"created directory",
	"rsync:",
	"rsync error:",
}

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateTerminating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateDone:
		return "done"
	}
	return "unknown"
}

type OutcomeKind string

const (
	Completed                   OutcomeKind = "completed"
	TerminatedDueToSlowTransfer OutcomeKind = "terminated-slow-transfer"
	TerminatedDueToInactivity   OutcomeKind = "terminated-inactivity"
	Cancelled                   OutcomeKind = "cancelled"
)

// Outcome describes how a supervised transfer ended. When Run also returns
// an error, Kind is empty and the rest is diagnostics only.
type Outcome struct {
	Kind    OutcomeKind
	Session string
	// ExitCode of the child, 128+signal when it was killed by a signal.
	ExitCode int
	// Forced is set when the child had to be killed after the termination
	// timeout elapsed.
	Forced       bool
	LastSample   *progress.Sample
	SlowState    detector.SlowState
	CurrentFile  string
	RecentOutput []string
	Duration     time.Duration
}

// Recorder receives the supervision events, e.g. for metrics.
//
//go:generate mockgen -package=supervisor -destination=recorder_mock.go . Recorder
type Recorder interface {
	RecordSample(session string, sample progress.Sample, rate float64, state detector.SlowState)
	RecordOutcome(outcome Outcome)
}

type Config struct {
	Detector detector.Config
	Units    progress.UnitConvention
	// TerminationTimeout is how long a terminated child gets before it is killed.
	TerminationTimeout time.Duration
	// InactivityTimeout terminates a child that prints nothing, 0 disables it.
	InactivityTimeout time.Duration
	// DrainTimeout bounds how long output is still read after the child exited.
	DrainTimeout     time.Duration
	OutputBufferSize int
}

func DefaultConfig() Config {
	return Config{
		Detector:           detector.DefaultConfig(),
		Units:              progress.UnitsDecimal,
		TerminationTimeout: DefaultTerminationTimeout,
		InactivityTimeout:  DefaultInactivityTimeout,
		DrainTimeout:       DefaultDrainTimeout,
		OutputBufferSize:   DefaultOutputBufferSize,
	}
}

type Option func(*Supervisor)

func WithSampleHandler(handler func(progress.Sample, detector.SlowState)) Option {
	return func(s *Supervisor) {
		s.onSample = handler
	}
}

func WithLineHandler(handler func(string)) Option {
	return func(s *Supervisor) {
		s.onLine = handler
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		s.now = now
	}
}

func WithSessionID(id string) Option {
	return func(s *Supervisor) {
		s.session = id
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(s *Supervisor) {
		s.recorders = append(s.recorders, recorder)
	}
}

// Supervisor watches one child process. It is single use.
type Supervisor struct {
	cfg       Config
	process   Process
	tokenizer *progress.Tokenizer
	parser    *progress.Parser
	detector  *detector.Detector
	output    *logs.FIFOLog

	session   string
	now       func() time.Time
	onSample  func(progress.Sample, detector.SlowState)
	onLine    func(string)
	recorders []Recorder

	state        atomic.Int32
	reconfigure  chan detector.Config
	reconfigLock sync.Mutex

	lastSample  *progress.Sample
	currentFile string
}

func New(process Process, cfg Config, opts ...Option) *Supervisor {
	if cfg.TerminationTimeout <= 0 {
		cfg.TerminationTimeout = DefaultTerminationTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.OutputBufferSize <= 0 {
		cfg.OutputBufferSize = DefaultOutputBufferSize
	}
	s := &Supervisor{
		cfg:         cfg,
		process:     process,
		tokenizer:   progress.NewTokenizer(),
		parser:      progress.NewParser(cfg.Units),
		detector:    detector.New(cfg.Detector),
		output:      logs.NewFIFOLog(cfg.OutputBufferSize),
		now:         time.Now,
		reconfigure: make(chan detector.Config, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.session == "" {
		s.session = uuid.New().String()
	}
	return s
}

func (s *Supervisor) Session() string {
	return s.session
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Reconfigure replaces the detector configuration of a running supervisor.
// The detector starts over with the new configuration.
func (s *Supervisor) Reconfigure(cfg detector.Config) {
	s.reconfigLock.Lock()
	defer s.reconfigLock.Unlock()
	select {
	case <-s.reconfigure:
	default:
	}
	s.reconfigure <- cfg
}

type exitStatus struct {
	code int
	err  error
}

// deadline is a one-shot timer whose channel is nil while it is stopped.
type deadline struct {
	timer *time.Timer
}

func (d *deadline) C() <-chan time.Time {
	if d.timer == nil {
		return nil
	}
	return d.timer.C
}

func (d *deadline) Start(after time.Duration) {
	d.Stop()
	d.timer = time.NewTimer(after)
}

func (d *deadline) Stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Run supervises the child until it has been reaped. Slow transfers,
// inactivity and ctx cancellation terminate the child and are reported as
// outcomes; only failures to read the output or collect the exit status are
// returned as errors.
func (s *Supervisor) Run(ctx context.Context) (Outcome, error) {
	started := s.now()
	s.state.Store(int32(StateStarting))
	log.Infof("transfer %s: supervising", s.session)

	done := make(chan struct{})
	chunks := make(chan []byte)
	readErrs := make(chan error, 1)
	exits := make(chan exitStatus, 1)
	defer func() {
		close(done)
		if err := s.process.Close(); err != nil {
			log.Debugf("transfer %s: cannot close output: %v", s.session, err)
		}
	}()

	go s.pump(chunks, readErrs, done)
	go func() {
		code, err := s.process.Wait()
		exits <- exitStatus{code: code, err: err}
	}()

	var (
		inactivity, escalation, drain deadline
		reason                        OutcomeKind
		terminating, forced           bool
		readerDone                    bool
		exited                        *exitStatus
		fatal                         error
		ctxDone                       = ctx.Done()
	)
	defer inactivity.Stop()
	defer escalation.Stop()
	defer drain.Stop()

	terminate := func(kind OutcomeKind) {
		if terminating || exited != nil {
			return
		}
		terminating = true
		reason = kind
		inactivity.Stop()
		s.state.Store(int32(StateTerminating))
		if err := s.process.Terminate(); err != nil {
			log.Warnf("transfer %s: cannot terminate child: %v", s.session, err)
		}
		escalation.Start(s.cfg.TerminationTimeout)
	}

	if s.cfg.InactivityTimeout > 0 {
		inactivity.Start(s.cfg.InactivityTimeout)
	}

	for exited == nil || !readerDone {
		select {
		case chunk := <-chunks:
			if s.State() == StateStarting {
				s.state.Store(int32(StateRunning))
			}
			if s.cfg.InactivityTimeout > 0 && !terminating && exited == nil {
				inactivity.Start(s.cfg.InactivityTimeout)
			}
			for _, update := range s.tokenizer.Feed(chunk) {
				if s.handleUpdate(update) == detector.Terminate && !terminating && exited == nil {
					state := s.detector.State()
					log.Warnf("transfer %s: rate %.0f B/s below %.0f B/s for %v, terminating",
						s.session, s.detector.Rate(), state.ThresholdRate, state.SlowFor(s.lastSample.Timestamp))
					terminate(TerminatedDueToSlowTransfer)
				}
			}

		case err := <-readErrs:
			readerDone = true
			drain.Stop()
			if !errors.Is(err, io.EOF) && exited == nil {
				fatal = &ProcessError{Kind: IOError, Err: err}
				log.Errorf("transfer %s: %v", s.session, fatal)
				terminate("")
			}

		case status := <-exits:
			exited = &status
			inactivity.Stop()
			escalation.Stop()
			if !readerDone {
				drain.Start(s.cfg.DrainTimeout)
			}

		case <-drain.C():
			log.Debugf("transfer %s: output still open after exit, not waiting for it", s.session)
			readerDone = true
			drain.Stop()

		case <-inactivity.C():
			inactivity.Stop()
			log.Warnf("transfer %s: no output for %v, terminating", s.session, s.cfg.InactivityTimeout)
			terminate(TerminatedDueToInactivity)

		case <-escalation.C():
			escalation.Stop()
			log.Errorf("transfer %s: %v after %v, killing", s.session,
				&ProcessError{Kind: TerminationTimedOut}, s.cfg.TerminationTimeout)
			forced = true
			if err := s.process.Kill(); err != nil {
				log.Errorf("transfer %s: cannot kill child: %v", s.session, err)
			}

		case <-ctxDone:
			ctxDone = nil
			if exited != nil {
				readerDone = true
				continue
			}
			log.Infof("transfer %s: cancelled, terminating", s.session)
			terminate(Cancelled)

		case cfg := <-s.reconfigure:
			log.Infof("transfer %s: applying new slow transfer settings", s.session)
			s.detector.Reconfigure(cfg)
		}
	}

	if rest := s.tokenizer.Remainder(); rest != "" {
		s.output.WriteLine(rest, s.session)
	}
	if exited.err != nil && fatal == nil {
		fatal = &ProcessError{Kind: IOError, Err: exited.err}
	}

	outcome := Outcome{
		Session:      s.session,
		ExitCode:     exited.code,
		Forced:       forced,
		LastSample:   s.lastSample,
		SlowState:    s.detector.State(),
		CurrentFile:  s.currentFile,
		RecentOutput: s.output.Lines(),
		Duration:     s.now().Sub(started),
	}
	switch {
	case fatal != nil:
	case reason != "":
		outcome.Kind = reason
	default:
		outcome.Kind = Completed
	}
	s.state.Store(int32(StateDone))

	if fatal != nil {
		return outcome, fatal
	}
	log.Infof("transfer %s: %s with exit code %d", s.session, outcome.Kind, outcome.ExitCode)
	for _, recorder := range s.recorders {
		recorder.RecordOutcome(outcome)
	}
	return outcome, nil
}

func (s *Supervisor) pump(chunks chan<- []byte, readErrs chan<- error, done <-chan struct{}) {
	output := s.process.Output()
	for {
		buf := make([]byte, readBufferSize)
		n, err := output.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-done:
				return
			}
		}
		if err != nil {
			readErrs <- err
			return
		}
	}
}

func (s *Supervisor) handleUpdate(update progress.Update) detector.Decision {
	sample, err := s.parser.Parse(update.Text, s.now())
	switch {
	case err == nil:
		s.lastSample = &sample
		decision := s.detector.Observe(sample)
		state := s.detector.State()
		if s.onSample != nil {
			s.onSample(sample, state)
		}
		for _, recorder := range s.recorders {
			recorder.RecordSample(s.session, sample, s.detector.Rate(), state)
		}
		return decision
	case errors.Is(err, progress.ErrMalformed):
		log.Warnf("transfer %s: skipping progress line: %v", s.session, err)
	default:
		line := strings.TrimSpace(update.Text)
		s.output.WriteLine(line, s.session)
		if !isStatusLine(line) {
			s.currentFile = line
		}
		if s.onLine != nil {
			s.onLine(line)
		}
	}
	return detector.Continue
}

func isStatusLine(line string) bool {
	for _, prefix := range statusLinePrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
