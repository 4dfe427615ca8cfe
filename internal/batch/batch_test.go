package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jakopako/revscrape/internal/connectivity"
	"github.com/jakopako/revscrape/internal/extract"
	"github.com/jakopako/revscrape/internal/phone"
	"github.com/jakopako/revscrape/internal/session"
	"github.com/jakopako/revscrape/internal/types"
	"github.com/jakopako/revscrape/internal/verify"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, call int, number phone.Number) (*types.Result, error)
}

func (f *fakeExtractor) Name() string {
	return "fake"
}

func (f *fakeExtractor) Extract(ctx context.Context, s *session.Session, number phone.Number) (*types.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, number.String())
	call := len(f.calls)
	f.mu.Unlock()
	return f.fn(ctx, call, number)
}

func (f *fakeExtractor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func match(number phone.Number) *types.Result {
	return &types.Result{
		Name:        "John Doe",
		PhoneNumber: number.String(),
		Country:     types.Country,
	}
}

type sessionCounter struct {
	launches atomic.Int32
	closes   atomic.Int32

	mu    sync.Mutex
	crash context.CancelFunc
}

func (c *sessionCounter) launcher(ctx context.Context) (*session.Session, error) {
	c.launches.Add(1)
	sctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.crash = cancel
	c.mu.Unlock()
	return session.New(sctx, func() {
		c.closes.Add(1)
		cancel()
	}), nil
}

// crashSession kills the latest session the way a closed browser window does.
func (c *sessionCounter) crashSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crash()
}

var online = connectivity.MonitorFunc(func(ctx context.Context) bool { return true })

func testConfig() Config {
	return Config{
		RetryLimit:          1,
		NetworkPollInterval: time.Millisecond,
		PausePollInterval:   time.Millisecond,
	}
}

func newTestOrchestrator(ex extract.Extractor, monitor connectivity.Monitor, c Config, hooks Hooks) (*Orchestrator, *sessionCounter) {
	sc := &sessionCounter{}
	return New(ex, session.NewManager(sc.launcher), monitor, c, hooks), sc
}

func waitDone(t *testing.T, h *RunHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish in time")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func assertAllTerminal(t *testing.T, jobs []types.Job) {
	t.Helper()
	for i, j := range jobs {
		if !j.Status.Terminal() {
			t.Errorf("job %d (%s) has non terminal status %s", i, j.Number, j.Status)
		}
	}
}

func testNumbers(n int) []string {
	raw := make([]string, n)
	for i := range raw {
		raw[i] = fmt.Sprintf("555%07d", i)
	}
	return raw
}

func TestEndToEnd(t *testing.T) {
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		if number.String() == "5551112222" {
			return match(number), nil
		}
		return nil, nil
	}}
	o, sc := newTestOrchestrator(ex, online, testConfig(), Hooks{})

	h, err := o.Start(context.Background(), []string{"555-111-2222", "bad", "+15553334444"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Total != 2 || h.Rejected != 1 {
		t.Fatalf("expected 2 jobs and 1 rejected input, got %d and %d", h.Total, h.Rejected)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	jobs := o.Jobs()
	if len(jobs) != 2 || jobs[0].Number.String() != "5551112222" || jobs[1].Number.String() != "5553334444" {
		t.Fatalf("unexpected ledger %v", jobs)
	}
	for _, j := range jobs {
		if j.Status != types.JobSucceeded || j.Attempts != 1 {
			t.Errorf("expected job %s to have succeeded after 1 attempt, got %s after %d", j.Number, j.Status, j.Attempts)
		}
	}

	results, err := o.Results()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].PhoneNumber != "5551112222" {
		t.Fatalf("expected exactly one result for 5551112222, got %v", results)
	}

	p := o.Progress()
	expected := types.Progress{Processed: 2, Total: 2, Found: 1, Phase: types.PhaseCompleted}
	if p != expected {
		t.Errorf("expected progress %+v, got %+v", expected, p)
	}
	if sc.launches.Load() != 1 || sc.closes.Load() != 1 {
		t.Errorf("expected one session launch and teardown, got %d and %d", sc.launches.Load(), sc.closes.Load())
	}

	s := o.Summary()
	if s.RunID != h.ID || s.NrJobs != 2 || s.NrSucceeded != 2 || s.NrFound != 1 || s.Site != "fake" {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestStartValidation(t *testing.T) {
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return nil, nil
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{})

	tests := []struct {
		name     string
		raw      []string
		expected error
	}{
		{"nil", nil, ErrEmptyBatch},
		{"no valid numbers", []string{"bad", "12345", ""}, ErrEmptyBatch},
		{"too many numbers", testNumbers(MaxBatchSize + 1), ErrBatchTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Start(context.Background(), tt.raw)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
			if o.Progress().Phase != types.PhaseIdle || len(o.Jobs()) != 0 {
				t.Fatalf("a rejected batch must not change the run state")
			}
		})
	}
	if len(ex.Calls()) != 0 {
		t.Fatalf("expected no extractor calls")
	}
}

func TestStartMaxBatchSize(t *testing.T) {
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), testNumbers(MaxBatchSize))
	if err != nil {
		t.Fatalf("expected a batch of %d numbers to be accepted, got %v", MaxBatchSize, err)
	}
	if h.Total != MaxBatchSize {
		t.Fatalf("expected %d jobs, got %d", MaxBatchSize, h.Total)
	}
	o.Stop()
	waitDone(t, h)
	jobs := o.Jobs()
	assertAllTerminal(t, jobs[:10])
	if jobs[len(jobs)-1].Status != types.JobSkipped {
		t.Errorf("expected the last job to be skipped, got %s", jobs[len(jobs)-1].Status)
	}
}

func TestAlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		<-release
		return nil, nil
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), []string{"5551112222"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.Start(context.Background(), []string{"5553334444"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if _, err := o.Results(); !errors.Is(err, ErrNotFinished) {
		t.Fatalf("expected ErrNotFinished while running, got %v", err)
	}
	close(release)
	waitDone(t, h)

	h2, err := o.Start(context.Background(), []string{"5553334444"})
	if err != nil {
		t.Fatalf("expected a new batch to start after the first one finished, got %v", err)
	}
	waitDone(t, h2)
	jobs := o.Jobs()
	if len(jobs) != 1 || jobs[0].Number.String() != "5553334444" {
		t.Fatalf("expected the ledger to be reset, got %v", jobs)
	}
}

func TestStopBetweenJobs(t *testing.T) {
	var o *Orchestrator
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		if call == 2 {
			o.Stop()
			o.Stop()
		}
		return match(number), nil
	}}
	o, sc := newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), testNumbers(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, h)

	if calls := ex.Calls(); len(calls) != 2 {
		t.Fatalf("expected no extractor calls after stop, got %v", calls)
	}
	results, err := o.Results()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected the 2 results found before the stop, got %d", len(results))
	}
	jobs := o.Jobs()
	assertAllTerminal(t, jobs)
	for i, j := range jobs {
		expected := types.JobSkipped
		if i < 2 {
			expected = types.JobSucceeded
		}
		if j.Status != expected {
			t.Errorf("expected job %d to be %s, got %s", i, expected, j.Status)
		}
	}
	if o.Progress().Phase != types.PhaseStopped {
		t.Errorf("expected phase stopped, got %s", o.Progress().Phase)
	}
	if sc.closes.Load() != 1 {
		t.Errorf("expected exactly one session teardown, got %d", sc.closes.Load())
	}
	o.Stop() // noop after the run
}

func TestStopDuringExtraction(t *testing.T) {
	started := make(chan struct{})
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), testNumbers(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started
	o.Stop()
	waitDone(t, h)

	for i, j := range o.Jobs() {
		if j.Status != types.JobSkipped {
			t.Errorf("expected job %d to be skipped, got %s", i, j.Status)
		}
		if j.Attempts != 0 {
			t.Errorf("expected no attempts to be charged to job %d, got %d", i, j.Attempts)
		}
	}
	if len(ex.Calls()) != 1 {
		t.Errorf("expected 1 extractor call, got %d", len(ex.Calls()))
	}
}

func TestContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := &fakeExtractor{fn: func(c context.Context, call int, number phone.Number) (*types.Result, error) {
		cancel()
		return nil, nil
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, err := o.Start(ctx, testNumbers(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, h)
	if o.Progress().Phase != types.PhaseStopped {
		t.Errorf("expected phase stopped, got %s", o.Progress().Phase)
	}
	if len(ex.Calls()) != 1 {
		t.Errorf("expected 1 extractor call, got %d", len(ex.Calls()))
	}
}

func TestVerificationGate(t *testing.T) {
	var mu sync.Mutex
	var transitions []verify.State
	var o *Orchestrator
	var jobAtChallenge types.Job
	var phaseAtChallenge types.Phase

	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		if call == 1 {
			return nil, fmt.Errorf("results page: %w", extract.ErrChallengeDetected)
		}
		return match(number), nil
	}}
	hooks := Hooks{
		OnGateTransition: func(from, to verify.State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, to)
		},
		OnChallenge: func(number phone.Number) {
			mu.Lock()
			jobAtChallenge = o.Jobs()[0]
			phaseAtChallenge = o.Progress().Phase
			mu.Unlock()
			if !o.Resume() {
				t.Errorf("expected resume to be accepted")
			}
		},
	}
	o, _ = newTestOrchestrator(ex, online, testConfig(), hooks)
	if o.Resume() {
		t.Fatalf("resume must be rejected without a challenge")
	}

	h, err := o.Start(context.Background(), []string{"5551112222", "5553334444"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, h)

	mu.Lock()
	defer mu.Unlock()
	expected := []verify.State{verify.PendingChallenge, verify.AwaitingOperator, verify.Clear}
	if !slices.Equal(transitions, expected) {
		t.Fatalf("expected gate transitions %v, got %v", expected, transitions)
	}
	if jobAtChallenge.Status.Terminal() || jobAtChallenge.Attempts != 0 {
		t.Errorf("expected the challenged job to be pending without attempts, got %s with %d", jobAtChallenge.Status, jobAtChallenge.Attempts)
	}
	if phaseAtChallenge != types.PhasePausedVerification {
		t.Errorf("expected phase %s during the challenge, got %s", types.PhasePausedVerification, phaseAtChallenge)
	}
	if calls := ex.Calls(); !slices.Equal(calls, []string{"5551112222", "5551112222", "5553334444"}) {
		t.Errorf("expected the challenged job to be retried, got calls %v", calls)
	}
	jobs := o.Jobs()
	if jobs[0].Status != types.JobSucceeded || jobs[0].Attempts != 1 {
		t.Errorf("expected the challenged job to succeed after 1 attempt, got %s after %d", jobs[0].Status, jobs[0].Attempts)
	}
	results, _ := o.Results()
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestStopWhileAwaitingOperator(t *testing.T) {
	challenged := make(chan struct{}, 1)
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return nil, extract.ErrChallengeDetected
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{
		OnChallenge: func(number phone.Number) { challenged <- struct{}{} },
	})
	h, err := o.Start(context.Background(), testNumbers(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-challenged
	o.Stop()
	waitDone(t, h)

	for i, j := range o.Jobs() {
		if j.Status != types.JobSkipped {
			t.Errorf("expected job %d to be skipped, got %s", i, j.Status)
		}
	}
	if len(ex.Calls()) != 1 {
		t.Errorf("expected no extractor calls after stop, got %v", ex.Calls())
	}
	if o.Progress().Phase != types.PhaseStopped {
		t.Errorf("expected phase stopped, got %s", o.Progress().Phase)
	}
}

func TestConnectivityLoss(t *testing.T) {
	var o *Orchestrator
	var probes atomic.Int32
	var phaseWhileOffline atomic.Int32
	monitor := connectivity.MonitorFunc(func(ctx context.Context) bool {
		switch probes.Add(1) {
		case 1, 2:
			return false
		case 3:
			phaseWhileOffline.Store(int32(o.Progress().Phase))
			return true
		}
		return true
	})
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return match(number), nil
	}}
	o, _ = newTestOrchestrator(ex, monitor, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), []string{"5551112222"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, h)

	if types.Phase(phaseWhileOffline.Load()) != types.PhasePausedNetwork {
		t.Errorf("expected phase %s while offline, got %s", types.PhasePausedNetwork, types.Phase(phaseWhileOffline.Load()))
	}
	jobs := o.Jobs()
	if jobs[0].Status != types.JobSucceeded || jobs[0].Attempts != 1 {
		t.Errorf("expected the job to succeed after 1 attempt, got %s after %d", jobs[0].Status, jobs[0].Attempts)
	}
	if len(ex.Calls()) != 1 {
		t.Errorf("expected 1 extractor call, got %d", len(ex.Calls()))
	}
}

func TestStopWhileOffline(t *testing.T) {
	offline := connectivity.MonitorFunc(func(ctx context.Context) bool { return false })
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return match(number), nil
	}}
	o, sc := newTestOrchestrator(ex, offline, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), testNumbers(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	eventually(t, "network pause", func() bool { return o.Progress().Phase == types.PhasePausedNetwork })
	o.Stop()
	waitDone(t, h)

	if len(ex.Calls()) != 0 {
		t.Errorf("expected no extractor calls while offline")
	}
	for i, j := range o.Jobs() {
		if j.Status != types.JobSkipped || j.Attempts != 0 {
			t.Errorf("expected job %d to be skipped without attempts, got %s with %d", i, j.Status, j.Attempts)
		}
	}
	if sc.launches.Load() != 0 {
		t.Errorf("expected no session to be launched")
	}
}

func TestTransientFailure(t *testing.T) {
	tests := []struct {
		name           string
		retryLimit     int
		failures       int
		expectedStatus types.JobStatus
		expectedCalls  int
	}{
		{"single attempt by default", 0, 1, types.JobFailed, 1},
		{"retry until success", 3, 2, types.JobSucceeded, 3},
		{"retry budget exhausted", 2, 5, types.JobFailed, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
				if number.String() == "5551112222" && call <= tt.failures {
					return nil, errors.New("waiting for results: context deadline exceeded")
				}
				return match(number), nil
			}}
			c := testConfig()
			c.RetryLimit = tt.retryLimit
			o, _ := newTestOrchestrator(ex, online, c, Hooks{})
			h, err := o.Start(context.Background(), []string{"5551112222", "5553334444"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			waitDone(t, h)

			jobs := o.Jobs()
			assertAllTerminal(t, jobs)
			if jobs[0].Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, jobs[0].Status)
			}
			if jobs[0].Attempts != tt.expectedCalls {
				t.Errorf("expected %d attempts, got %d", tt.expectedCalls, jobs[0].Attempts)
			}
			if jobs[1].Status != types.JobSucceeded {
				t.Errorf("expected a failing job not to affect the next one, got %s", jobs[1].Status)
			}
			calls := ex.Calls()
			if len(calls) != tt.expectedCalls+1 {
				t.Errorf("expected %d calls, got %v", tt.expectedCalls+1, calls)
			}
			if p := o.Progress(); p.Processed != 2 || p.Phase != types.PhaseCompleted {
				t.Errorf("unexpected progress %+v", p)
			}
		})
	}
}

func TestFailureWhileOfflineIsNotCharged(t *testing.T) {
	var probes atomic.Int32
	monitor := connectivity.MonitorFunc(func(ctx context.Context) bool {
		// 1: before the first attempt, 2: after it failed, 3: before the retry
		switch probes.Add(1) {
		case 2, 3:
			return false
		}
		return true
	})
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		if call == 1 {
			return nil, errors.New("net::ERR_INTERNET_DISCONNECTED")
		}
		return match(number), nil
	}}
	o, _ := newTestOrchestrator(ex, monitor, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), []string{"5551112222"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, h)

	jobs := o.Jobs()
	if jobs[0].Status != types.JobSucceeded || jobs[0].Attempts != 1 {
		t.Errorf("expected the job to succeed after 1 charged attempt, got %s after %d", jobs[0].Status, jobs[0].Attempts)
	}
	if len(ex.Calls()) != 2 {
		t.Errorf("expected 2 extractor calls, got %d", len(ex.Calls()))
	}
}

func TestSessionError(t *testing.T) {
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return match(number), nil
	}}
	launcher := func(ctx context.Context) (*session.Session, error) {
		return nil, errors.New("chrome not found")
	}
	o := New(ex, session.NewManager(launcher), online, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), testNumbers(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Wait(); !errors.Is(err, session.ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
	for i, j := range o.Jobs() {
		if j.Status != types.JobFailed {
			t.Errorf("expected job %d to be failed, got %s", i, j.Status)
		}
	}
	if o.Progress().Phase != types.PhaseCompleted {
		t.Errorf("expected phase completed, got %s", o.Progress().Phase)
	}
	results, err := o.Results()
	if err != nil || len(results) != 0 {
		t.Errorf("expected no results and no error, got %v, %v", results, err)
	}
	if len(ex.Calls()) != 0 {
		t.Errorf("expected no extractor calls")
	}
}

func TestResultsAreFrozen(t *testing.T) {
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return match(number), nil
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, _ := o.Start(context.Background(), []string{"5551112222"})
	waitDone(t, h)

	results, _ := o.Results()
	results[0].Name = "changed"
	again, _ := o.Results()
	if again[0].Name != "John Doe" {
		t.Errorf("expected results to be a copy")
	}
}

func TestProgressHook(t *testing.T) {
	var mu sync.Mutex
	var seen []types.Progress
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return match(number), nil
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{
		OnProgress: func(p types.Progress) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, p)
		},
	})
	h, _ := o.Start(context.Background(), testNumbers(3))
	waitDone(t, h)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatalf("expected progress notifications")
	}
	last := seen[len(seen)-1]
	if last.Processed != 3 || last.Found != 3 || last.Phase != types.PhaseCompleted {
		t.Errorf("unexpected final progress %+v", last)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Processed < seen[i-1].Processed {
			t.Errorf("progress went backwards: %+v -> %+v", seen[i-1], seen[i])
		}
	}
}

func TestSessionLostIsReplaced(t *testing.T) {
	var sc *sessionCounter
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		if call == 1 {
			sc.crashSession()
			return nil, context.Canceled
		}
		return match(number), nil
	}}
	var o *Orchestrator
	o, sc = newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), []string{"5551112222", "5553334444"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	jobs := o.Jobs()
	if jobs[0].Status != types.JobSucceeded || jobs[0].Attempts != 1 {
		t.Errorf("expected the job to succeed after 1 charged attempt, got %s after %d", jobs[0].Status, jobs[0].Attempts)
	}
	if jobs[1].Status != types.JobSucceeded {
		t.Errorf("expected the next job to succeed, got %s", jobs[1].Status)
	}
	if calls := ex.Calls(); !slices.Equal(calls, []string{"5551112222", "5551112222", "5553334444"}) {
		t.Errorf("expected the job to be retried on the new session, got calls %v", calls)
	}
	if sc.launches.Load() != 2 {
		t.Errorf("expected 2 session launches, got %d", sc.launches.Load())
	}
	if sc.closes.Load() != 2 {
		t.Errorf("expected the lost and the final session to be torn down, got %d", sc.closes.Load())
	}
}

func TestSessionLostRepeatedlyAbortsRun(t *testing.T) {
	var sc *sessionCounter
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		sc.crashSession()
		return nil, context.Canceled
	}}
	var o *Orchestrator
	o, sc = newTestOrchestrator(ex, online, testConfig(), Hooks{})
	h, err := o.Start(context.Background(), testNumbers(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Wait(); !errors.Is(err, session.ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
	if n := len(ex.Calls()); n != maxSessionLosses+1 {
		t.Errorf("expected %d extractor calls, got %d", maxSessionLosses+1, n)
	}
	if n := sc.launches.Load(); n != maxSessionLosses+1 {
		t.Errorf("expected %d session launches, got %d", maxSessionLosses+1, n)
	}
	for i, j := range o.Jobs() {
		if j.Status != types.JobFailed || j.Attempts != 0 {
			t.Errorf("expected job %d to be failed without attempts, got %s with %d", i, j.Status, j.Attempts)
		}
	}
	if o.Progress().Phase != types.PhaseCompleted {
		t.Errorf("expected phase completed, got %s", o.Progress().Phase)
	}
}

func TestRestartRightAfterFinish(t *testing.T) {
	ex := &fakeExtractor{fn: func(ctx context.Context, call int, number phone.Number) (*types.Result, error) {
		return match(number), nil
	}}
	o, _ := newTestOrchestrator(ex, online, testConfig(), Hooks{})
	for i := range 20 {
		h1, err := o.Start(context.Background(), []string{"5551112222"})
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		eventually(t, "run to finish", func() bool { return o.Progress().Phase.Finished() })
		// the previous worker may still be tearing down
		h2, err := o.Start(context.Background(), []string{"5553334444"})
		if err != nil {
			t.Fatalf("run %d: expected a restart to be accepted, got %v", i, err)
		}
		waitDone(t, h1)
		waitDone(t, h2)
		if s := o.Summary(); s.End.Before(s.Start) {
			t.Errorf("run %d: unexpected summary times %v - %v", i, s.Start, s.End)
		}
	}
}
