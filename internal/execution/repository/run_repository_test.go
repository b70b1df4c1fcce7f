package repository_test

import (
	"context"
	"testing"
	"time"

	"develevate/internal/common/cache"
	"develevate/internal/execution/repository"
	"develevate/internal/execution/result"
	"develevate/internal/execution/service"
	appErr "develevate/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRepository(t *testing.T, cfg repository.RunRepositoryConfig) (*repository.RunRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheFromClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	repo, err := repository.NewRunRepository(c, cfg)
	if err != nil {
		t.Fatalf("new repository failed: %v", err)
	}
	return repo, mr
}

func doneSnapshot(sessionID, runID string) service.Snapshot {
	return service.Snapshot{
		RunID:          runID,
		SessionID:      sessionID,
		State:          service.StateDone,
		Output:         "5",
		TestResults:    []result.TestCase{{Input: "2 3", ExpectedOutput: "5", ActualOutput: "5", Passed: true}},
		AllTestsPassed: true,
		Progress:       service.Progress{Total: 1, Done: 1},
		UpdatedAt:      time.Now(),
	}
}

func TestRunRepositorySaveAndGet(t *testing.T) {
	repo, mr := newTestRepository(t, repository.RunRepositoryConfig{TTL: time.Hour})
	ctx := context.Background()

	snap := doneSnapshot("s1", "run-1")
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	ttl := mr.TTL("execution:run:run-1")
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected jittered ttl within an hour, got %v", ttl)
	}

	got, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.State != service.StateDone || got.Output != "5" || !got.AllTestsPassed || len(got.TestResults) != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestRunRepositoryGetMissing(t *testing.T) {
	repo, _ := newTestRepository(t, repository.RunRepositoryConfig{})
	_, err := repo.Get(context.Background(), "nope")
	if appErr.GetCode(err) != appErr.RunNotFound {
		t.Fatalf("expected RunNotFound, got %v", err)
	}
	if _, err := repo.Get(context.Background(), ""); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunRepositoryHistory(t *testing.T) {
	repo, _ := newTestRepository(t, repository.RunRepositoryConfig{HistoryLimit: 2})
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := repo.Save(ctx, doneSnapshot("s1", id)); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if err := repo.AppendHistory(ctx, "s1", id); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	runs, err := repo.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-3" || runs[1].RunID != "run-2" {
		t.Fatalf("expected newest two runs, got %+v", runs)
	}
}

func TestRunRepositoryHistorySkipsExpiredRuns(t *testing.T) {
	repo, mr := newTestRepository(t, repository.RunRepositoryConfig{})
	ctx := context.Background()

	_ = repo.Save(ctx, doneSnapshot("s1", "run-1"))
	_ = repo.AppendHistory(ctx, "s1", "run-1")
	_ = repo.AppendHistory(ctx, "s1", "run-gone")
	mr.Del("execution:run:run-gone")

	runs, err := repo.History(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-1" {
		t.Fatalf("expected only the stored run, got %+v", runs)
	}
}

func TestRunRepositoryOnTransition(t *testing.T) {
	repo, _ := newTestRepository(t, repository.RunRepositoryConfig{InlineHistory: true})
	ctx := context.Background()

	polling := doneSnapshot("s1", "run-1")
	polling.State = service.StatePolling
	if err := repo.OnTransition(ctx, polling); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	runs, _ := repo.History(ctx, "s1", 0)
	if len(runs) != 0 {
		t.Fatalf("in-flight runs must not enter history, got %+v", runs)
	}
	got, err := repo.Get(ctx, "run-1")
	if err != nil || got.State != service.StatePolling {
		t.Fatalf("expected in-flight snapshot stored, got %+v err=%v", got, err)
	}

	if err := repo.OnTransition(ctx, doneSnapshot("s1", "run-1")); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	runs, _ = repo.History(ctx, "s1", 0)
	if len(runs) != 1 || runs[0].State != service.StateDone {
		t.Fatalf("expected finished run in history, got %+v", runs)
	}
}

func TestRunRepositoryFromOrchestrator(t *testing.T) {
	repo, _ := newTestRepository(t, repository.RunRepositoryConfig{InlineHistory: true})
	exec := executorFunc(func(ctx context.Context, req service.ExecutionRequest) (result.Execution, error) {
		return result.Execution{Verdict: result.VerdictAccepted, Output: "hi"}, nil
	})
	ev, err := service.NewEvaluator(service.EvaluatorConfig{Executor: exec})
	if err != nil {
		t.Fatalf("new evaluator failed: %v", err)
	}
	o, err := service.NewOrchestrator(service.OrchestratorConfig{
		SessionID: "s1",
		Executor:  exec,
		Evaluator: ev,
		Observers: []service.RunObserver{repo},
	})
	if err != nil {
		t.Fatalf("new orchestrator failed: %v", err)
	}
	o.RunCode(context.Background(), service.RunRequest{Code: "print('hi')"})

	runs, err := repo.History(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Output != "hi" || runs[0].RunID != o.State().RunID {
		t.Fatalf("unexpected history: %+v", runs)
	}
}

func TestNewRunRepositoryRequiresCache(t *testing.T) {
	if _, err := repository.NewRunRepository(nil, repository.RunRepositoryConfig{}); err == nil {
		t.Fatalf("expected error without cache")
	}
}
