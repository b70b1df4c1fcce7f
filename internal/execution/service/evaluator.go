package service

import (
	"context"
	"fmt"
	"sync"

	"develevate/internal/execution/metrics"
	"develevate/internal/execution/result"
	appErr "develevate/pkg/errors"
	"develevate/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultMaxInFlight = 4

// EvaluateHooks observe evaluation progress. Hooks run on worker goroutines.
type EvaluateHooks struct {
	OnSubmitted func(index int, token string)
	OnCaseDone  func(index int, tc result.TestCase)
}

// EvaluatorConfig holds evaluator dependencies and settings.
type EvaluatorConfig struct {
	Executor Executor
	// MaxInFlight bounds concurrent remote executions across every run sharing the evaluator.
	MaxInFlight int64
	Metrics     *metrics.Metrics
}

// Evaluator runs test cases concurrently and grades them by normalized output.
type Evaluator struct {
	executor Executor
	sem      *semaphore.Weighted
	metrics  *metrics.Metrics
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	limit := cfg.MaxInFlight
	if limit <= 0 {
		limit = defaultMaxInFlight
	}
	return &Evaluator{
		executor: cfg.Executor,
		sem:      semaphore.NewWeighted(limit),
		metrics:  cfg.Metrics,
	}, nil
}

// Evaluate runs every case and reports whether all passed.
// An empty case list yields an empty slice and false.
func (e *Evaluator) Evaluate(ctx context.Context, code, language string, cases []result.TestCase) ([]result.TestCase, bool) {
	return e.EvaluateWithHooks(ctx, code, language, cases, EvaluateHooks{})
}

// EvaluateWithHooks is Evaluate with progress callbacks.
// Cases are admitted in input order; results keep input order; cases is not modified.
func (e *Evaluator) EvaluateWithHooks(ctx context.Context, code, language string, cases []result.TestCase, hooks EvaluateHooks) ([]result.TestCase, bool) {
	out := make([]result.TestCase, len(cases))
	copy(out, cases)
	if len(out) == 0 {
		return out, false
	}

	var wg sync.WaitGroup
	for i := range out {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			logger.Warn(ctx, "test case admission aborted", zap.Int("index", i), zap.Error(err))
			for j := i; j < len(out); j++ {
				out[j] = failCase(out[j], err)
				e.metrics.ObserveTestCase(false)
				if hooks.OnCaseDone != nil {
					hooks.OnCaseDone(j, out[j])
				}
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer e.sem.Release(1)
			e.metrics.InFlightAdd(1)
			defer e.metrics.InFlightAdd(-1)

			out[i] = e.evaluateOne(ctx, code, language, i, out[i], hooks)
			e.metrics.ObserveTestCase(out[i].Passed)
			if hooks.OnCaseDone != nil {
				hooks.OnCaseDone(i, out[i])
			}
		}(i)
	}
	wg.Wait()

	allPassed := true
	for _, tc := range out {
		if !tc.Passed {
			allPassed = false
			break
		}
	}
	return out, allPassed
}

// evaluateOne never panics and never fails the batch: any failure becomes a failed case.
func (e *Evaluator) evaluateOne(ctx context.Context, code, language string, index int, tc result.TestCase, hooks EvaluateHooks) (graded result.TestCase) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "test case evaluation panicked",
				zap.Int("index", index),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			graded = failCase(tc, appErr.New(appErr.ExecutionPanicked))
		}
	}()

	req := ExecutionRequest{SourceCode: code, Language: language, Stdin: tc.Input}
	if hooks.OnSubmitted != nil {
		req.OnSubmitted = func(token string) { hooks.OnSubmitted(index, token) }
	}
	exec, err := e.executor.Execute(ctx, req)
	if err != nil {
		if !isContextErr(err) {
			logger.Warn(ctx, "test case execution failed", zap.Int("index", index), zap.Error(err))
		}
		return failCase(tc, err)
	}

	tc.ActualOutput = exec.Output
	tc.Verdict = exec.Verdict
	tc.ExecutionTimeMs = exec.Remote.TimeMs
	tc.Passed = result.OutputsMatch(exec.Output, tc.ExpectedOutput)
	return tc
}

func failCase(tc result.TestCase, err error) result.TestCase {
	failed := result.FailedExecution(err)
	tc.ActualOutput = failed.Output
	tc.Verdict = failed.Verdict
	tc.ExecutionTimeMs = 0
	tc.Passed = false
	return tc
}
