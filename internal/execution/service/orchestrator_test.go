package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"develevate/internal/execution/result"
	"develevate/internal/execution/service"
	appErr "develevate/pkg/errors"
)

type panicEvaluator struct{}

func (panicEvaluator) EvaluateWithHooks(ctx context.Context, code, language string, cases []result.TestCase, hooks service.EvaluateHooks) ([]result.TestCase, bool) {
	panic("evaluator exploded")
}

func newOrchestrator(t *testing.T, exec service.Executor, observers ...service.RunObserver) *service.Orchestrator {
	t.Helper()
	return newOrchestratorWithEvaluator(t, exec, newEvaluator(t, exec, 4), observers...)
}

func newOrchestratorWithEvaluator(t *testing.T, exec service.Executor, ev service.CaseEvaluator, observers ...service.RunObserver) *service.Orchestrator {
	t.Helper()
	o, err := service.NewOrchestrator(service.OrchestratorConfig{
		SessionID: "session-1",
		Executor:  exec,
		Evaluator: ev,
		Observers: observers,
	})
	if err != nil {
		t.Fatalf("new orchestrator failed: %v", err)
	}
	return o
}

func TestRunCodeWithTestCases(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		if req.Stdin == "2 3" {
			out, err := ok("5\n")
			out.Remote.TimeMs = 12.5
			return out, err
		}
		return ok("wrong")
	}}
	obs := &recordingObserver{}
	o := newOrchestrator(t, exec, obs)

	res := o.RunCode(context.Background(), service.RunRequest{
		Code:     "print(sum(map(int, input().split())))",
		Language: "python",
		TestCases: []result.TestCase{
			{Input: "2 3", ExpectedOutput: "5"},
			{Input: "1 1", ExpectedOutput: "2"},
		},
	})

	if res.Output != "5\n" {
		t.Fatalf("free run should use the first test input, got output %q", res.Output)
	}
	if len(res.TestResults) != 2 || !res.TestResults[0].Passed || res.TestResults[1].Passed {
		t.Fatalf("unexpected test results: %+v", res.TestResults)
	}
	if res.AllTestsPassed {
		t.Fatalf("expected allTestsPassed=false")
	}
	if res.ExecutionTimeMs != 12.5 {
		t.Fatalf("expected free run time 12.5ms, got %v", res.ExecutionTimeMs)
	}
	if res.RunID == "" || res.RunID != o.State().RunID {
		t.Fatalf("result run id %q does not match state %q", res.RunID, o.State().RunID)
	}
	if got := o.State().Result().ExecutionTimeMs; got != 12.5 {
		t.Fatalf("snapshot should carry the free run time, got %v", got)
	}

	states := obs.states()
	if len(states) < 3 {
		t.Fatalf("expected at least 3 transitions, got %v", states)
	}
	if states[0] != service.StateSubmitting {
		t.Fatalf("first transition should be Submitting, got %v", states)
	}
	if states[1] != service.StatePolling {
		t.Fatalf("second transition should be Polling, got %v", states)
	}
	if states[len(states)-1] != service.StateDone {
		t.Fatalf("last transition should be Done, got %v", states)
	}

	snap := o.State()
	if snap.State != service.StateDone || snap.IsRunning || snap.Progress.Total != 2 || snap.Progress.Done != 2 {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
	if snap.RunID == "" || snap.SessionID != "session-1" {
		t.Fatalf("snapshot should carry run and session ids: %+v", snap)
	}
}

func TestRunCodeUsesCustomInput(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		return ok("echo:" + req.Stdin)
	}}
	o := newOrchestrator(t, exec)

	res := o.RunCode(context.Background(), service.RunRequest{
		Code:        "x",
		Language:    "python",
		CustomInput: "custom",
		TestCases:   []result.TestCase{{Input: "first", ExpectedOutput: "echo:first"}},
	})
	if res.Output != "echo:custom" {
		t.Fatalf("expected custom input to drive the free run, got %q", res.Output)
	}
	if !res.AllTestsPassed {
		t.Fatalf("expected test to pass: %+v", res.TestResults)
	}
	if got := exec.stdins(); got[0] != "custom" {
		t.Fatalf("expected first execution on custom input, got %v", got)
	}
}

func TestRunCodeBlankCustomInputFallsBack(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		return ok(req.Stdin)
	}}
	o := newOrchestrator(t, exec)

	res := o.RunCode(context.Background(), service.RunRequest{
		Code:        "x",
		CustomInput: "   \n",
		TestCases:   []result.TestCase{{Input: "abc", ExpectedOutput: "abc"}},
	})
	if res.Output != "abc" {
		t.Fatalf("expected first test input for blank custom input, got %q", res.Output)
	}
}

func TestRunCodeWithoutTestCases(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		return ok("Hello")
	}}
	o := newOrchestrator(t, exec)

	res := o.RunCode(context.Background(), service.RunRequest{Code: "print('Hello')", Language: "python"})
	if res.Output != "Hello" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.TestResults == nil || len(res.TestResults) != 0 {
		t.Fatalf("expected empty non-nil test results, got %#v", res.TestResults)
	}
	if res.AllTestsPassed {
		t.Fatalf("no test cases must mean allTestsPassed=false")
	}
	if got := exec.stdins(); len(got) != 1 || got[0] != "" {
		t.Fatalf("expected exactly one free run on empty input, got %v", got)
	}
}

func TestRunCodeFreeRunFailure(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		if req.Stdin == "custom" {
			err := appErr.Newf(appErr.JudgePollExhausted, "No result after 10 attempts")
			return result.FailedExecution(err), err
		}
		return ok(req.Stdin)
	}}
	o := newOrchestrator(t, exec)

	res := o.RunCode(context.Background(), service.RunRequest{
		Code:        "x",
		CustomInput: "custom",
		TestCases:   []result.TestCase{{Input: "a", ExpectedOutput: "a"}},
	})
	if res.Output != "No result after 10 attempts" {
		t.Fatalf("expected failure detail as output, got %q", res.Output)
	}
	if !res.AllTestsPassed {
		t.Fatalf("test cases are evaluated independently of the free run")
	}
	snap := o.State()
	if snap.State != service.StateFailed || snap.ErrorCode != int(appErr.JudgePollExhausted) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRunCodeRecoversFromPanic(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		return ok("fine")
	}}
	obs := &recordingObserver{}
	o := newOrchestratorWithEvaluator(t, exec, panicEvaluator{}, obs)

	res := o.RunCode(context.Background(), service.RunRequest{
		Code:      "x",
		TestCases: []result.TestCase{{Input: "1", ExpectedOutput: "1"}},
	})
	if res.Output != "Error executing code. Please try again." {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.TestResults == nil || len(res.TestResults) != 0 || res.AllTestsPassed {
		t.Fatalf("unexpected result after panic: %+v", res)
	}
	if o.IsRunning() {
		t.Fatalf("running flag must be cleared after a panic")
	}
	states := obs.states()
	if states[len(states)-1] != service.StateFailed {
		t.Fatalf("expected Failed as final transition, got %v", states)
	}
}

func TestRunCodeRunningFlag(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		close(started)
		<-release
		return ok("done")
	}}
	o := newOrchestrator(t, exec)
	if o.IsRunning() || o.State().State != service.StateIdle {
		t.Fatalf("new orchestrator should be idle")
	}

	done := make(chan result.ExecutionResult)
	go func() { done <- o.RunCode(context.Background(), service.RunRequest{Code: "x"}) }()

	<-started
	if !o.IsRunning() {
		t.Fatalf("expected running flag during run")
	}
	if s := o.State().State; s != service.StatePolling {
		t.Fatalf("expected Polling while waiting on the judge, got %s", s)
	}
	close(release)
	res := <-done
	if res.Output != "done" || o.IsRunning() {
		t.Fatalf("expected finished run, got %+v running=%v", res, o.IsRunning())
	}
}

func TestRunCodeObserverErrorsAreIgnored(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		return ok("ok")
	}}
	obs := &recordingObserver{err: errors.New("redis down")}
	o := newOrchestrator(t, exec, obs)

	res := o.RunCode(context.Background(), service.RunRequest{Code: "x"})
	if res.Output != "ok" {
		t.Fatalf("observer failures must not change the result: %+v", res)
	}
	if o.State().State != service.StateDone {
		t.Fatalf("expected Done state")
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	exec := &funcExecutor{fn: func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		return ok("ok")
	}}
	o := newOrchestrator(t, exec)

	ch, cancel := o.Subscribe()
	defer cancel()
	first := <-ch
	if first.State != service.StateIdle {
		t.Fatalf("expected current Idle snapshot on subscribe, got %s", first.State)
	}

	o.RunCode(context.Background(), service.RunRequest{Code: "x"})

	timeout := time.After(time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.State == service.StateDone {
				return
			}
		case <-timeout:
			t.Fatalf("did not observe Done snapshot")
		}
	}
}

func TestNewOrchestratorValidatesDependencies(t *testing.T) {
	if _, err := service.NewOrchestrator(service.OrchestratorConfig{}); err == nil {
		t.Fatalf("expected error without executor")
	}
	exec := &funcExecutor{}
	if _, err := service.NewOrchestrator(service.OrchestratorConfig{Executor: exec}); err == nil {
		t.Fatalf("expected error without evaluator")
	}
}
