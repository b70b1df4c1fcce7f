package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"develevate/internal/common/cache"
	"develevate/internal/execution/service"
	appErr "develevate/pkg/errors"
)

const (
	runKeyPrefix     = "execution:run:"
	historyKeyPrefix = "execution:session:runs:"

	defaultRunTTL       = 24 * time.Hour
	defaultHistoryLimit = 50
)

// RunRepositoryConfig configures run persistence.
type RunRepositoryConfig struct {
	// TTL applies to run snapshots and session history lists.
	TTL time.Duration `yaml:"ttl"`
	// HistoryLimit caps the run ids kept per session.
	HistoryLimit int64 `yaml:"historyLimit"`
	// InlineHistory appends finished runs to the session history directly
	// instead of waiting for the run-finished event.
	InlineHistory bool `yaml:"inlineHistory"`
}

// RunRepository stores run snapshots and per-session run history in the cache.
type RunRepository struct {
	cache         cache.Cache
	ttl           time.Duration
	historyLimit  int64
	inlineHistory bool
}

// NewRunRepository creates a new repository.
func NewRunRepository(cacheClient cache.Cache, cfg RunRepositoryConfig) (*RunRepository, error) {
	if cacheClient == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultRunTTL
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &RunRepository{
		cache:         cacheClient,
		ttl:           cfg.TTL,
		historyLimit:  cfg.HistoryLimit,
		inlineHistory: cfg.InlineHistory,
	}, nil
}

// OnTransition persists every snapshot so in-flight runs can be inspected by id.
func (r *RunRepository) OnTransition(ctx context.Context, snap service.Snapshot) error {
	if err := r.Save(ctx, snap); err != nil {
		return err
	}
	if r.inlineHistory && snap.State.IsTerminal() {
		return r.AppendHistory(ctx, snap.SessionID, snap.RunID)
	}
	return nil
}

// Save persists a run snapshot.
func (r *RunRepository) Save(ctx context.Context, snap service.Snapshot) error {
	if snap.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal run snapshot failed: %w", err)
	}
	if err := r.cache.Set(ctx, runKeyPrefix+snap.RunID, string(data), cache.JitterTTL(r.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "store run snapshot failed")
	}
	return nil
}

// Get returns the stored snapshot of a run.
func (r *RunRepository) Get(ctx context.Context, runID string) (service.Snapshot, error) {
	if runID == "" {
		return service.Snapshot{}, appErr.ValidationError("run_id", "required")
	}
	val, err := r.cache.Get(ctx, runKeyPrefix+runID)
	if err != nil {
		return service.Snapshot{}, appErr.Wrapf(err, appErr.CacheError, "load run snapshot failed")
	}
	if val == "" {
		return service.Snapshot{}, appErr.New(appErr.RunNotFound)
	}
	var snap service.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return service.Snapshot{}, appErr.Wrapf(err, appErr.CacheError, "decode run snapshot failed")
	}
	return snap, nil
}

// AppendHistory records a finished run at the head of the session history.
func (r *RunRepository) AppendHistory(ctx context.Context, sessionID, runID string) error {
	if sessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	if runID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	key := historyKeyPrefix + sessionID
	if err := r.cache.LPush(ctx, key, runID); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "append run history failed")
	}
	if err := r.cache.LTrim(ctx, key, 0, r.historyLimit-1); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "trim run history failed")
	}
	if err := r.cache.Expire(ctx, key, r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "refresh run history ttl failed")
	}
	return nil
}

// History returns up to limit finished runs of a session, newest first.
// Runs whose snapshot already expired are skipped.
func (r *RunRepository) History(ctx context.Context, sessionID string, limit int64) ([]service.Snapshot, error) {
	if sessionID == "" {
		return nil, appErr.ValidationError("session_id", "required")
	}
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}
	ids, err := r.cache.LRange(ctx, historyKeyPrefix+sessionID, 0, limit-1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load run history failed")
	}
	out := make([]service.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := r.Get(ctx, id)
		if err != nil {
			if appErr.Is(err, appErr.RunNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
