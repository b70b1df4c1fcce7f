package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"develevate/internal/execution/metrics"
	"develevate/internal/execution/result"
	appErr "develevate/pkg/errors"
	"develevate/pkg/utils/contextkey"
	"develevate/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultObserverTimeout = 2 * time.Second
	runFailedMessage       = "Error executing code. Please try again."
)

// RunRequest is one "Run" action from the UI.
type RunRequest struct {
	Code        string
	Language    string
	CustomInput string
	TestCases   []result.TestCase
}

// RunObserver receives every state transition of every run.
// Errors are logged and never affect the run.
type RunObserver interface {
	OnTransition(ctx context.Context, snap Snapshot) error
}

// CaseEvaluator grades test cases.
type CaseEvaluator interface {
	EvaluateWithHooks(ctx context.Context, code, language string, cases []result.TestCase, hooks EvaluateHooks) ([]result.TestCase, bool)
}

// OrchestratorConfig holds orchestrator dependencies and settings.
type OrchestratorConfig struct {
	SessionID       string
	Executor        Executor
	Evaluator       CaseEvaluator
	Observers       []RunObserver
	ObserverTimeout time.Duration
	Metrics         *metrics.Metrics
}

// Orchestrator drives runs for one editor session and exposes their state.
type Orchestrator struct {
	sessionID       string
	executor        Executor
	evaluator       CaseEvaluator
	observers       []RunObserver
	observerTimeout time.Duration
	metrics         *metrics.Metrics

	mu           sync.Mutex
	current      Snapshot
	lastActivity time.Time
	subs         map[int]chan Snapshot
	nextSubID    int
}

// run tracks one RunCode invocation.
type run struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewOrchestrator creates a new orchestrator in the Idle state.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	timeout := cfg.ObserverTimeout
	if timeout <= 0 {
		timeout = defaultObserverTimeout
	}
	now := time.Now()
	return &Orchestrator{
		sessionID:       cfg.SessionID,
		executor:        cfg.Executor,
		evaluator:       cfg.Evaluator,
		observers:       cfg.Observers,
		observerTimeout: timeout,
		metrics:         cfg.Metrics,
		current: Snapshot{
			SessionID:   cfg.SessionID,
			State:       StateIdle,
			TestResults: []result.TestCase{},
			UpdatedAt:   now,
		},
		lastActivity: now,
		subs:         make(map[int]chan Snapshot),
	}, nil
}

// RunCode runs the program once on the custom input (or the first test case's input when
// the custom input is blank) and then grades every test case. It never returns an error:
// failures are reported through the result and the Failed state.
func (o *Orchestrator) RunCode(ctx context.Context, req RunRequest) (res result.ExecutionResult) {
	r := o.begin(ctx, req)
	ctx = context.WithValue(ctx, contextkey.RunID, r.snap.RunID)
	if o.sessionID != "" {
		ctx = context.WithValue(ctx, contextkey.SessionID, o.sessionID)
	}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, "run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			res = result.ExecutionResult{RunID: r.snap.RunID, Output: runFailedMessage, TestResults: []result.TestCase{}}
			o.finish(ctx, r, StateFailed, res, appErr.New(appErr.ExecutionPanicked))
		}
		o.metrics.ObserveRun(string(r.final()), time.Since(start))
	}()

	logger.Info(ctx, "run started",
		zap.String("language", req.Language),
		zap.Int("test_cases", len(req.TestCases)),
	)

	input := req.CustomInput
	if strings.TrimSpace(input) == "" && len(req.TestCases) > 0 {
		input = req.TestCases[0].Input
	}

	exec, runErr := o.executor.Execute(ctx, ExecutionRequest{
		SourceCode:  req.Code,
		Language:    req.Language,
		Stdin:       input,
		OnSubmitted: func(string) { o.markPolling(ctx, r) },
	})
	o.update(ctx, r, func(s *Snapshot) {
		s.Output = exec.Output
		s.ExecutionTimeMs = exec.Remote.TimeMs
	})

	tests, allPassed := o.evaluator.EvaluateWithHooks(ctx, req.Code, req.Language, req.TestCases, EvaluateHooks{
		OnSubmitted: func(int, string) { o.markPolling(ctx, r) },
		OnCaseDone: func(int, result.TestCase) {
			o.update(ctx, r, func(s *Snapshot) { s.Progress.Done++ })
		},
	})
	if tests == nil {
		tests = []result.TestCase{}
	}

	res = result.ExecutionResult{
		RunID:           r.snap.RunID,
		Output:          exec.Output,
		TestResults:     tests,
		AllTestsPassed:  allPassed,
		ExecutionTimeMs: exec.Remote.TimeMs,
	}
	state := StateDone
	if runErr != nil {
		state = StateFailed
	}
	o.finish(ctx, r, state, res, runErr)
	logger.Info(ctx, "run finished",
		zap.String("state", string(state)),
		zap.Bool("all_tests_passed", allPassed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

// State returns the snapshot of the latest run.
func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.clone()
}

// IsRunning reports whether the latest run is still in progress.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.IsRunning
}

// Subscribe returns a channel receiving the latest snapshot after each transition of the
// session's current run. Slow readers only miss intermediate snapshots. Call the returned
// function to unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	ch := make(chan Snapshot, 1)
	ch <- o.current.clone()
	o.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

// IdleSince returns when the orchestrator last saw activity, or zero while a run is active.
func (o *Orchestrator) IdleSince() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current.IsRunning {
		return time.Time{}
	}
	return o.lastActivity
}

func (o *Orchestrator) begin(ctx context.Context, req RunRequest) *run {
	now := time.Now()
	r := &run{snap: Snapshot{
		RunID:       uuid.NewString(),
		SessionID:   o.sessionID,
		State:       StateSubmitting,
		IsRunning:   true,
		Language:    req.Language,
		TestResults: []result.TestCase{},
		Progress:    Progress{Total: len(req.TestCases)},
		StartedAt:   now,
		UpdatedAt:   now,
	}}
	r.mu.Lock()
	defer r.mu.Unlock()
	o.publish(ctx, r.snap, true)
	return r
}

func (o *Orchestrator) markPolling(ctx context.Context, r *run) {
	o.update(ctx, r, func(s *Snapshot) {
		if s.State == StateSubmitting {
			s.State = StatePolling
		}
	})
}

func (o *Orchestrator) update(ctx context.Context, r *run, mutate func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State.IsTerminal() {
		return
	}
	mutate(&r.snap)
	r.snap.UpdatedAt = time.Now()
	o.publish(ctx, r.snap.clone(), false)
}

func (o *Orchestrator) finish(ctx context.Context, r *run, state State, res result.ExecutionResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State.IsTerminal() {
		return
	}
	r.snap.State = state
	r.snap.IsRunning = false
	r.snap.Output = res.Output
	r.snap.TestResults = res.TestResults
	r.snap.AllTestsPassed = res.AllTestsPassed
	if err != nil {
		r.snap.ErrorCode = int(appErr.GetCode(err))
		r.snap.ErrorMessage = err.Error()
	}
	r.snap.UpdatedAt = time.Now()
	o.publish(ctx, r.snap.clone(), false)
}

func (r *run) final() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.State
}

// publish updates the session view (if snap belongs to the latest run) and notifies
// observers. Callers hold r.mu so a run's transitions reach observers in order.
func (o *Orchestrator) publish(ctx context.Context, snap Snapshot, newRun bool) {
	o.mu.Lock()
	if newRun || o.current.RunID == snap.RunID {
		o.current = snap
		o.lastActivity = snap.UpdatedAt
		for _, ch := range o.subs {
			offer(ch, snap.clone())
		}
	}
	o.mu.Unlock()

	if len(o.observers) == 0 {
		return
	}
	obsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.observerTimeout)
	defer cancel()
	for _, obs := range o.observers {
		if err := obs.OnTransition(obsCtx, snap); err != nil {
			logger.Warn(ctx, "run observer failed",
				zap.String("state", string(snap.State)),
				zap.Error(err),
			)
		}
	}
}

// offer replaces any unread snapshot with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
