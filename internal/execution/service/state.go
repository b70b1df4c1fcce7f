package service

import (
	"time"

	"develevate/internal/execution/result"
)

// State is the lifecycle state of a session's latest run.
type State string

const (
	StateIdle       State = "Idle"
	StateSubmitting State = "Submitting"
	StatePolling    State = "Polling"
	StateDone       State = "Done"
	StateFailed     State = "Failed"
)

// IsRunning reports whether the state belongs to an unfinished run.
func (s State) IsRunning() bool {
	return s == StateSubmitting || s == StatePolling
}

// IsTerminal reports whether the run has finished.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Progress counts evaluated test cases.
type Progress struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// Snapshot is the observable state of a run.
type Snapshot struct {
	RunID           string            `json:"run_id,omitempty"`
	SessionID       string            `json:"session_id"`
	State           State             `json:"state"`
	IsRunning       bool              `json:"is_running"`
	Language        string            `json:"language,omitempty"`
	Output          string            `json:"output"`
	ExecutionTimeMs float64           `json:"execution_time_ms,omitempty"`
	TestResults     []result.TestCase `json:"test_results"`
	AllTestsPassed  bool              `json:"all_tests_passed"`
	Progress        Progress          `json:"progress"`
	ErrorCode       int               `json:"error_code,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	StartedAt       time.Time         `json:"started_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Result returns the UI-facing result carried by the snapshot.
func (s Snapshot) Result() result.ExecutionResult {
	tests := s.TestResults
	if tests == nil {
		tests = []result.TestCase{}
	}
	return result.ExecutionResult{
		RunID:           s.RunID,
		Output:          s.Output,
		TestResults:     tests,
		AllTestsPassed:  s.AllTestsPassed,
		ExecutionTimeMs: s.ExecutionTimeMs,
	}
}

func (s Snapshot) clone() Snapshot {
	if s.TestResults != nil {
		tests := make([]result.TestCase, len(s.TestResults))
		copy(tests, s.TestResults)
		s.TestResults = tests
	}
	return s
}
