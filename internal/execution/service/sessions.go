package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"develevate/internal/execution/metrics"
	appErr "develevate/pkg/errors"
)

// SessionsConfig is shared by every orchestrator the registry creates.
type SessionsConfig struct {
	Executor        Executor
	Evaluator       CaseEvaluator
	Observers       []RunObserver
	ObserverTimeout time.Duration
	Metrics         *metrics.Metrics
	// MaxSessions caps live sessions; zero means unlimited.
	MaxSessions int
}

// Sessions keeps one orchestrator per editor session.
type Sessions struct {
	cfg SessionsConfig

	mu    sync.Mutex
	items map[string]*Orchestrator
}

// NewSessions creates an empty registry.
func NewSessions(cfg SessionsConfig) (*Sessions, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	return &Sessions{cfg: cfg, items: make(map[string]*Orchestrator)}, nil
}

// Get returns the orchestrator for sessionID, creating it on first use.
func (s *Sessions) Get(sessionID string) (*Orchestrator, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.items[sessionID]; ok {
		return o, nil
	}
	if s.cfg.MaxSessions > 0 && len(s.items) >= s.cfg.MaxSessions {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessagef("session limit %d reached", s.cfg.MaxSessions)
	}
	o, err := NewOrchestrator(OrchestratorConfig{
		SessionID:       sessionID,
		Executor:        s.cfg.Executor,
		Evaluator:       s.cfg.Evaluator,
		Observers:       s.cfg.Observers,
		ObserverTimeout: s.cfg.ObserverTimeout,
		Metrics:         s.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.items[sessionID] = o
	return o, nil
}

// Lookup returns an existing orchestrator without creating one.
func (s *Sessions) Lookup(sessionID string) (*Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.items[sessionID]
	return o, ok
}

// EvictIdle drops sessions idle for longer than maxIdle. Running sessions are kept.
func (s *Sessions) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, o := range s.items {
		since := o.IdleSince()
		if since.IsZero() || since.After(cutoff) {
			continue
		}
		delete(s.items, id)
		evicted++
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
