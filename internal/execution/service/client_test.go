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

func newClient(t *testing.T, tr *fakeTransport, attempts int, interval time.Duration) *service.ExecutionClient {
	t.Helper()
	client, err := service.NewExecutionClient(service.ExecutionClientConfig{
		Transport:       tr,
		PollInterval:    interval,
		MaxPollAttempts: attempts,
	})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestExecuteReturnsTerminalVerdict(t *testing.T) {
	tr := newFakeTransport(func(stdin string, attempt int) (result.RemoteVerdict, error) {
		switch attempt {
		case 1:
			return result.RemoteVerdict{StatusID: 1}, nil
		case 2:
			return result.RemoteVerdict{StatusID: 2}, nil
		default:
			return result.RemoteVerdict{StatusID: 3, Stdout: "3\n", TimeMs: 4}, nil
		}
	})
	client := newClient(t, tr, 10, time.Millisecond)

	var submitted string
	exec, err := client.Execute(context.Background(), service.ExecutionRequest{
		SourceCode:  "print(1+2)",
		Language:    "python",
		OnSubmitted: func(token string) { submitted = token },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Verdict != result.VerdictAccepted || exec.Output != "3\n" || exec.Failed {
		t.Fatalf("unexpected execution: %+v", exec)
	}
	if submitted != "tok-1" {
		t.Fatalf("expected submission callback with tok-1, got %q", submitted)
	}
	if got := tr.pollCount("tok-1"); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
	if subs := tr.submitted(); len(subs) != 1 || subs[0].LanguageID != 71 {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
}

func TestExecuteBudgetExhaustion(t *testing.T) {
	tr := newFakeTransport(func(stdin string, attempt int) (result.RemoteVerdict, error) {
		return result.RemoteVerdict{StatusID: 2}, nil
	})
	client := newClient(t, tr, 10, time.Millisecond)

	exec, err := client.Execute(context.Background(), service.ExecutionRequest{SourceCode: "while True: pass", Language: "python"})
	if !appErr.Is(err, appErr.JudgePollExhausted) {
		t.Fatalf("expected poll exhausted error, got %v", err)
	}
	if got := tr.pollCount("tok-1"); got != 10 {
		t.Fatalf("expected exactly 10 polls, got %d", got)
	}
	if !exec.Failed || exec.Verdict != result.VerdictRuntimeError {
		t.Fatalf("expected runtime error shaped failure, got %+v", exec)
	}
	if exec.Output != "No result after 10 attempts" {
		t.Fatalf("unexpected failure output %q", exec.Output)
	}
}

func TestExecuteToleratesTransientPollErrors(t *testing.T) {
	tr := newFakeTransport(func(stdin string, attempt int) (result.RemoteVerdict, error) {
		if attempt == 1 {
			return result.RemoteVerdict{}, errors.New("connection reset")
		}
		return result.RemoteVerdict{StatusID: 4, Stdout: "wrong"}, nil
	})
	client := newClient(t, tr, 3, time.Millisecond)

	exec, err := client.Execute(context.Background(), service.ExecutionRequest{SourceCode: "x", Language: "cpp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Verdict != result.VerdictWrongAnswer || exec.Output != "wrong" {
		t.Fatalf("unexpected execution: %+v", exec)
	}
}

func TestExecutePollErrorsCountAgainstBudget(t *testing.T) {
	tr := newFakeTransport(func(stdin string, attempt int) (result.RemoteVerdict, error) {
		return result.RemoteVerdict{}, errors.New("judge down")
	})
	client := newClient(t, tr, 4, time.Millisecond)

	_, err := client.Execute(context.Background(), service.ExecutionRequest{SourceCode: "x"})
	if !appErr.Is(err, appErr.JudgePollExhausted) {
		t.Fatalf("expected poll exhausted error, got %v", err)
	}
	if got := tr.pollCount("tok-1"); got != 4 {
		t.Fatalf("expected 4 polls, got %d", got)
	}
}

func TestExecuteSubmitFailureIsNotRetried(t *testing.T) {
	tr := newFakeTransport(accepted(func(string) string { return "" }))
	tr.submitErr = errors.New("connection refused")
	client := newClient(t, tr, 10, time.Millisecond)

	exec, err := client.Execute(context.Background(), service.ExecutionRequest{SourceCode: "x", Language: "java"})
	if !appErr.Is(err, appErr.JudgeSubmitFailed) {
		t.Fatalf("expected submit failed error, got %v", err)
	}
	if exec.Verdict != result.VerdictRuntimeError || !exec.Failed {
		t.Fatalf("expected runtime error shaped failure, got %+v", exec)
	}
	if len(tr.polls) != 0 {
		t.Fatalf("expected no polls after submit failure")
	}
}

func TestExecuteCancelledWhileWaiting(t *testing.T) {
	tr := newFakeTransport(func(stdin string, attempt int) (result.RemoteVerdict, error) {
		return result.RemoteVerdict{StatusID: 1}, nil
	})
	client := newClient(t, tr, 10, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := client.Execute(ctx, service.ExecutionRequest{SourceCode: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancellation did not interrupt the poll wait")
	}
	if got := tr.pollCount("tok-1"); got != 1 {
		t.Fatalf("expected a single poll before cancellation, got %d", got)
	}
}

func TestExecuteUnknownLanguageUsesDefault(t *testing.T) {
	tr := newFakeTransport(accepted(func(string) string { return "ok" }))
	client := newClient(t, tr, 2, time.Millisecond)

	if _, err := client.Execute(context.Background(), service.ExecutionRequest{SourceCode: "x", Language: "cobol"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subs := tr.submitted(); subs[0].LanguageID != 71 {
		t.Fatalf("expected default language id 71, got %d", subs[0].LanguageID)
	}
}

func TestExecuteRuntimeErrorUsesStderr(t *testing.T) {
	tr := newFakeTransport(func(stdin string, attempt int) (result.RemoteVerdict, error) {
		return result.RemoteVerdict{StatusID: 11, Stderr: "Traceback: ZeroDivisionError"}, nil
	})
	client := newClient(t, tr, 2, time.Millisecond)

	exec, err := client.Execute(context.Background(), service.ExecutionRequest{SourceCode: "1/0"})
	if err != nil {
		t.Fatalf("a judged runtime error is not a pipeline error: %v", err)
	}
	if exec.Verdict != result.VerdictRuntimeError || exec.Output != "Traceback: ZeroDivisionError" || exec.Failed {
		t.Fatalf("unexpected execution: %+v", exec)
	}
}

func TestNewExecutionClientRequiresTransport(t *testing.T) {
	if _, err := service.NewExecutionClient(service.ExecutionClientConfig{}); err == nil {
		t.Fatalf("expected error without transport")
	}
}
