package result

import appErr "develevate/pkg/errors"

// RemoteVerdict is the judge's answer to a poll. Absent streams are empty strings.
type RemoteVerdict struct {
	Token         string  `json:"token"`
	StatusID      int     `json:"status_id"`
	Description   string  `json:"description,omitempty"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	CompileOutput string  `json:"compile_output,omitempty"`
	TimeMs        float64 `json:"time_ms"`
	MemoryKB      int64   `json:"memory_kb"`
}

// Verdict maps the judge status of this answer.
func (r RemoteVerdict) Verdict() Verdict {
	return MapStatus(r.StatusID)
}

// Execution is the outcome of a single submit-and-poll round trip.
// Failed is set when the round trip itself failed and Output carries the reason.
type Execution struct {
	Verdict Verdict       `json:"verdict"`
	Output  string        `json:"output"`
	Remote  RemoteVerdict `json:"remote"`
	Failed  bool          `json:"failed,omitempty"`
	ErrCode int           `json:"error_code,omitempty"`
}

// FailedExecution turns a pipeline failure into RuntimeError-shaped data.
func FailedExecution(err error) Execution {
	out := Execution{Verdict: VerdictRuntimeError, Failed: true}
	if err == nil {
		return out
	}
	out.ErrCode = int(appErr.GetCode(err))
	out.Output = err.Error()
	return out
}

// TestCase is one input/expected-output pair. Evaluation fills the result fields.
type TestCase struct {
	Input           string  `json:"input"`
	ExpectedOutput  string  `json:"expected_output"`
	ActualOutput    string  `json:"actual_output,omitempty"`
	Passed          bool    `json:"passed"`
	ExecutionTimeMs float64 `json:"execution_time_ms,omitempty"`
	Verdict         Verdict `json:"verdict,omitempty"`
}

// ExecutionResult is what a run hands back to the UI.
type ExecutionResult struct {
	RunID          string     `json:"run_id,omitempty"`
	Output         string     `json:"output"`
	TestResults    []TestCase `json:"test_results"`
	AllTestsPassed bool       `json:"all_tests_passed"`

	// ExecutionTimeMs is the free run's time as reported by the judge.
	ExecutionTimeMs float64 `json:"execution_time_ms,omitempty"`
}
