package service_test

import (
	"context"
	"fmt"
	"sync"

	"develevate/internal/execution/judge"
	"develevate/internal/execution/result"
	"develevate/internal/execution/service"
)

// fakeTransport hands out sequential tokens and answers polls from a script keyed by stdin.
type fakeTransport struct {
	mu        sync.Mutex
	submitErr error
	submits   []judge.Submission
	stdin     map[string]string
	polls     map[string]int
	script    func(stdin string, attempt int) (result.RemoteVerdict, error)
}

func newFakeTransport(script func(stdin string, attempt int) (result.RemoteVerdict, error)) *fakeTransport {
	return &fakeTransport{
		stdin:  make(map[string]string),
		polls:  make(map[string]int),
		script: script,
	}
}

func (f *fakeTransport) Submit(ctx context.Context, sub judge.Submission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits = append(f.submits, sub)
	token := fmt.Sprintf("tok-%d", len(f.submits))
	f.stdin[token] = sub.Stdin
	return token, nil
}

func (f *fakeTransport) Poll(ctx context.Context, token string) (result.RemoteVerdict, error) {
	f.mu.Lock()
	f.polls[token]++
	attempt := f.polls[token]
	stdin := f.stdin[token]
	f.mu.Unlock()
	v, err := f.script(stdin, attempt)
	v.Token = token
	return v, err
}

func (f *fakeTransport) pollCount(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[token]
}

func (f *fakeTransport) submitted() []judge.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]judge.Submission, len(f.submits))
	copy(out, f.submits)
	return out
}

// accepted answers every poll with an immediate Accepted verdict echoing fn(stdin).
func accepted(fn func(stdin string) string) func(string, int) (result.RemoteVerdict, error) {
	return func(stdin string, attempt int) (result.RemoteVerdict, error) {
		return result.RemoteVerdict{StatusID: 3, Stdout: fn(stdin), TimeMs: 12}, nil
	}
}

// funcExecutor is an Executor backed by a function.
type funcExecutor struct {
	mu    sync.Mutex
	calls []service.ExecutionRequest
	fn    func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error)
}

func (f *funcExecutor) Execute(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if req.OnSubmitted != nil {
		req.OnSubmitted("tok")
	}
	return f.fn(ctx, req)
}

func (f *funcExecutor) stdins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Stdin)
	}
	return out
}

func ok(output string) (result.Execution, error) {
	return result.Execution{Verdict: result.VerdictAccepted, Output: output}, nil
}

// recordingObserver stores every snapshot it sees.
type recordingObserver struct {
	mu    sync.Mutex
	snaps []service.Snapshot
	err   error
}

func (r *recordingObserver) OnTransition(ctx context.Context, snap service.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *recordingObserver) states() []service.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]service.State, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.State)
	}
	return out
}
