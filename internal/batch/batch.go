// Package batch drives a batch of phone number lookups. It processes one
// job at a time against a single browser session, pauses while the network
// is down or a human verification challenge is pending and supports
// cooperative cancellation.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jakopako/revscrape/internal/connectivity"
	"github.com/jakopako/revscrape/internal/extract"
	"github.com/jakopako/revscrape/internal/log"
	"github.com/jakopako/revscrape/internal/phone"
	"github.com/jakopako/revscrape/internal/session"
	"github.com/jakopako/revscrape/internal/types"
	"github.com/jakopako/revscrape/internal/verify"
)

// MaxBatchSize is the maximum number of valid numbers per batch.
const MaxBatchSize = 100000

var (
	ErrEmptyBatch     = errors.New("no valid phone numbers detected")
	ErrBatchTooLarge  = fmt.Errorf("maximum %d numbers allowed", MaxBatchSize)
	ErrAlreadyRunning = errors.New("a batch is already running")
	ErrNotFinished    = errors.New("the batch has not finished yet")
)

// Config holds the tunables of the worker loop.
type Config struct {
	// RetryLimit is the number of attempts a job gets for transient errors.
	RetryLimit          int           `yaml:"retry_limit" env:"RUN_RETRY_LIMIT" env-default:"1"`
	PaceMin             time.Duration `yaml:"pace_min" env:"RUN_PACE_MIN" env-default:"2s"`
	PaceMax             time.Duration `yaml:"pace_max" env:"RUN_PACE_MAX" env-default:"4s"`
	NetworkPollInterval time.Duration `yaml:"network_poll_interval" env:"RUN_NETWORK_POLL_INTERVAL" env-default:"5s"`
	PausePollInterval   time.Duration `yaml:"pause_poll_interval" env:"RUN_PAUSE_POLL_INTERVAL" env-default:"1s"`
}

func (c *Config) applyDefaults() {
	if c.RetryLimit < 1 {
		c.RetryLimit = 1
	}
	if c.PaceMax < c.PaceMin {
		c.PaceMax = c.PaceMin
	}
	if c.NetworkPollInterval <= 0 {
		c.NetworkPollInterval = 5 * time.Second
	}
	if c.PausePollInterval <= 0 {
		c.PausePollInterval = time.Second
	}
}

// Hooks are optional push notifications for a presentation layer. They are
// called from the worker goroutine, except OnChallenge which gets its own
// goroutine and may block until the operator has reacted.
type Hooks struct {
	OnProgress       func(p types.Progress)
	OnChallenge      func(number phone.Number)
	OnGateTransition func(from, to verify.State)
}

// RunHandle identifies a started batch.
type RunHandle struct {
	ID    string
	Total int
	// Rejected is the number of inputs that did not normalize.
	Rejected int

	done chan struct{}
	err  error
}

// Done is closed once the run is completed or stopped.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run has finished and returns Err.
func (h *RunHandle) Wait() error {
	<-h.done
	return h.err
}

// Err returns the run level error, if the session could not be
// created. It must only be called after Done is closed.
func (h *RunHandle) Err() error {
	return h.err
}

// Orchestrator runs one batch at a time. Progress, Stop, Resume and Results
// may be called concurrently from any goroutine.
type Orchestrator struct {
	extractor extract.Extractor
	sessions  *session.Manager
	monitor   connectivity.Monitor
	gate      *verify.Gate
	config    Config
	hooks     Hooks

	mu        sync.Mutex
	phase     types.Phase
	jobs      []types.Job
	results   []types.Result
	cursor    int
	processed int
	cancel    context.CancelFunc
	run       *RunHandle
	start     time.Time
	end       time.Time
}

func New(extractor extract.Extractor, sessions *session.Manager, monitor connectivity.Monitor, c Config, hooks Hooks) *Orchestrator {
	c.applyDefaults()
	return &Orchestrator{
		extractor: extractor,
		sessions:  sessions,
		monitor:   monitor,
		gate:      verify.NewGate(hooks.OnGateTransition),
		config:    c,
		hooks:     hooks,
		phase:     types.PhaseIdle,
	}
}

// Start normalizes the raw inputs, builds the job ledger and starts the
// worker loop. Cancelling ctx has the same effect as calling Stop.
func (o *Orchestrator) Start(ctx context.Context, raw []string) (*RunHandle, error) {
	numbers, rejected := phone.NormalizeAll(raw)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase.Active() {
		return nil, ErrAlreadyRunning
	}
	if len(numbers) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(numbers) > MaxBatchSize {
		return nil, fmt.Errorf("%w, got %d", ErrBatchTooLarge, len(numbers))
	}

	run := &RunHandle{
		ID:       uuid.NewString(),
		Total:    len(numbers),
		Rejected: rejected,
		done:     make(chan struct{}),
	}
	jobs := make([]types.Job, len(numbers))
	for i, n := range numbers {
		jobs[i] = types.Job{Number: n, Status: types.JobPending}
	}

	logger := log.LoggerFromContext(ctx).With(slog.String("run", run.ID), slog.String("site", o.extractor.Name()))
	runCtx, cancel := context.WithCancel(log.ContextWithLogger(ctx, logger))

	o.gate.Release()
	o.phase = types.PhaseRunning
	o.jobs = jobs
	o.results = nil
	o.cursor = 0
	o.processed = 0
	o.cancel = cancel
	o.run = run
	o.start = time.Now()
	o.end = time.Time{}

	logger.Info(fmt.Sprintf("starting batch with %d numbers (%d rejected)", run.Total, rejected))
	go o.work(runCtx, run)
	return run, nil
}

// Stop requests cooperative cancellation. The worker loop observes it at
// its next checkpoint. Stop is safe to call multiple times, while paused
// and when no batch is running.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	active := o.phase.Active()
	o.mu.Unlock()
	if !active || cancel == nil {
		return
	}
	cancel()
	o.gate.Release()
}

// Resume is the operator's acknowledgement of a challenge. It returns false
// if the run was not awaiting the operator.
func (o *Orchestrator) Resume() bool {
	return o.gate.Acknowledge()
}

// Progress returns a snapshot of the current run's progress.
func (o *Orchestrator) Progress() types.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress()
}

// must be called with o.mu held
func (o *Orchestrator) progress() types.Progress {
	return types.Progress{
		Processed: o.processed,
		Total:     len(o.jobs),
		Found:     len(o.results),
		Phase:     o.phase,
	}
}

// Results returns the results of the last run in the order they were found.
// It returns ErrNotFinished unless the run is completed or stopped.
func (o *Orchestrator) Results() ([]types.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.phase.Finished() {
		return nil, ErrNotFinished
	}
	return slices.Clone(o.results), nil
}

// Jobs returns a copy of the job ledger of the current or last run.
func (o *Orchestrator) Jobs() []types.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.jobs)
}

// Summary summarizes the current or last run.
func (o *Orchestrator) Summary() types.RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := types.RunSummary{
		Site:    o.extractor.Name(),
		NrJobs:  len(o.jobs),
		NrFound: len(o.results),
		Phase:   o.phase,
		Start:   o.start,
		End:     o.end,
	}
	if o.run != nil {
		s.RunID = o.run.ID
	}
	for _, j := range o.jobs {
		switch j.Status {
		case types.JobSucceeded:
			s.NrSucceeded++
		case types.JobFailed:
			s.NrFailed++
		case types.JobSkipped:
			s.NrSkipped++
		}
	}
	return s
}
