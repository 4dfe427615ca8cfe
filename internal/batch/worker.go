package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakopako/revscrape/internal/extract"
	"github.com/jakopako/revscrape/internal/log"
	"github.com/jakopako/revscrape/internal/session"
	"github.com/jakopako/revscrape/internal/types"
	"github.com/jakopako/revscrape/internal/utils"
	"github.com/jakopako/revscrape/internal/verify"
)

// errStopped is returned by the checkpoints if a stop was requested.
var errStopped = errors.New("stopped")

// maxSessionLosses is the number of times the browser session may be lost
// during a single job before the batch is aborted.
const maxSessionLosses = 3

func (o *Orchestrator) work(ctx context.Context, run *RunHandle) {
	logger := log.LoggerFromContext(ctx)
	var runErr error
	stopped := false

	for i := range run.Total {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		o.setCursor(i)

		err := o.processJob(ctx, i)
		if errors.Is(err, errStopped) {
			stopped = true
			break
		}
		if err != nil {
			logger.Error(fmt.Sprintf("aborting batch: %v", err))
			runErr = err
			break
		}
		o.notifyProgress(ctx)

		if i < run.Total-1 {
			if err := utils.SleepRandom(ctx, o.config.PaceMin, o.config.PaceMax); err != nil {
				stopped = true
				break
			}
		}
	}
	o.finish(ctx, run, stopped, runErr)
}

// processJob drives job i to a terminal status. It returns errStopped if
// a stop was observed and a session error if no session could be created.
func (o *Orchestrator) processJob(ctx context.Context, i int) error {
	number := o.jobs[i].Number
	logger := log.LoggerFromContext(ctx).With(slog.String("number", number.String()))
	ctx = log.ContextWithLogger(ctx, logger)

	lost := 0
	for {
		if !o.awaitConnectivity(ctx) {
			return errStopped
		}
		if !o.awaitVerification(ctx, i) {
			return errStopped
		}

		s, err := o.sessions.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return errStopped
			}
			return err
		}

		o.setJobStatus(i, types.JobInProgress)
		logger.Debug("looking up number")
		res, err := o.extractor.Extract(ctx, s, number)
		switch {
		case err == nil:
			o.succeed(i, res)
			if res != nil {
				logger.Info(fmt.Sprintf("found %s", res.Name))
			}
			return nil
		case errors.Is(err, extract.ErrChallengeDetected):
			// the challenge is not charged to the job
			o.setJobStatus(i, types.JobPending)
			if o.gate.Report() {
				logger.Warn("human verification required")
			}
			continue
		case ctx.Err() != nil:
			o.setJobStatus(i, types.JobPending)
			return errStopped
		case !s.Alive():
			// not charged, the next Acquire replaces the session
			o.setJobStatus(i, types.JobPending)
			lost++
			if lost > maxSessionLosses {
				return fmt.Errorf("%w: browser session lost %d times", session.ErrLaunch, lost)
			}
			logger.Warn(fmt.Sprintf("browser session lost during lookup: %v", err))
			continue
		}

		if !o.monitor.Reachable(ctx) {
			logger.Warn(fmt.Sprintf("lookup failed while offline, retrying once reconnected: %v", err))
			o.setJobStatus(i, types.JobPending)
			continue
		}

		if attempts := o.charge(i); attempts >= o.config.RetryLimit {
			logger.Error(fmt.Sprintf("lookup failed after %d attempt(s): %v", attempts, err))
			o.setJobStatus(i, types.JobFailed)
			o.markProcessed()
			return nil
		}
		logger.Warn(fmt.Sprintf("lookup failed, retrying: %v", err))
		o.setJobStatus(i, types.JobPending)
	}
}

// awaitConnectivity blocks until the network is reachable. It returns false
// if a stop was requested in the meantime.
func (o *Orchestrator) awaitConnectivity(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if o.monitor.Reachable(ctx) {
		return true
	}
	logger := log.LoggerFromContext(ctx)
	logger.Warn("paused: no internet connection, waiting to reconnect")
	o.setPhase(ctx, types.PhasePausedNetwork)
	for {
		if err := utils.Sleep(ctx, o.config.NetworkPollInterval); err != nil {
			return false
		}
		if o.monitor.Reachable(ctx) {
			break
		}
	}
	if ctx.Err() != nil {
		return false
	}
	logger.Info("internet connection is back, resuming")
	o.setPhase(ctx, types.PhaseRunning)
	return true
}

// awaitVerification blocks while a challenge is pending. The operator is
// notified once per challenge. It returns false if a stop was requested.
func (o *Orchestrator) awaitVerification(ctx context.Context, i int) bool {
	if o.gate.State() == verify.Clear {
		return ctx.Err() == nil
	}
	logger := log.LoggerFromContext(ctx)
	logger.Warn("paused: waiting for human verification")
	o.setPhase(ctx, types.PhasePausedVerification)
	if o.gate.Surface() && o.hooks.OnChallenge != nil {
		go o.hooks.OnChallenge(o.jobs[i].Number)
	}

	ticker := time.NewTicker(o.config.PausePollInterval)
	defer ticker.Stop()
	for cleared := false; !cleared; {
		select {
		case <-o.gate.Cleared():
			cleared = true
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	if ctx.Err() != nil {
		return false
	}
	logger.Info("verification done, resuming")
	o.setPhase(ctx, types.PhaseRunning)
	return true
}

func (o *Orchestrator) finish(ctx context.Context, run *RunHandle, stopped bool, runErr error) {
	logger := log.LoggerFromContext(ctx)
	if stopped {
		logger.Info("stop requested, stopping")
		o.setPhase(ctx, types.PhaseStopping)
	}
	o.sessions.Release()
	o.gate.Release()

	o.mu.Lock()
	remaining := types.JobSkipped
	if runErr != nil {
		remaining = types.JobFailed
	}
	for i := range o.jobs {
		if !o.jobs[i].Status.Terminal() {
			o.jobs[i].Status = remaining
		}
	}
	if stopped {
		o.phase = types.PhaseStopped
	} else {
		o.phase = types.PhaseCompleted
	}
	o.end = time.Now()
	took := o.end.Sub(o.start)
	run.err = runErr
	cancel := o.cancel
	p := o.progress()
	o.mu.Unlock()

	cancel()
	logger.Info(fmt.Sprintf("batch %s. %s", p.Phase, p), slog.Duration("took", took))
	if o.hooks.OnProgress != nil {
		o.hooks.OnProgress(p)
	}
	close(run.done)
}

func (o *Orchestrator) setCursor(i int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cursor = i
}

func (o *Orchestrator) setPhase(ctx context.Context, phase types.Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
	o.notifyProgress(ctx)
}

func (o *Orchestrator) setJobStatus(i int, status types.JobStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs[i].Status = status
}

// charge counts an attempt against job i and returns the new count.
func (o *Orchestrator) charge(i int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs[i].Attempts++
	return o.jobs[i].Attempts
}

func (o *Orchestrator) succeed(i int, res *types.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs[i].Attempts++
	o.jobs[i].Status = types.JobSucceeded
	if res != nil {
		o.results = append(o.results, *res)
	}
	o.processed++
}

func (o *Orchestrator) markProcessed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed++
}

func (o *Orchestrator) notifyProgress(ctx context.Context) {
	p := o.Progress()
	log.LoggerFromContext(ctx).Info(p.String(), slog.String("phase", p.Phase.String()))
	if o.hooks.OnProgress != nil {
		o.hooks.OnProgress(p)
	}
}
