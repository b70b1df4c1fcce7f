// Package result defines execution outcomes and the verdict taxonomy.
package result

import (
	"strconv"
	"strings"
)

// Verdict is the outcome category of one remote execution.
type Verdict string

const (
	VerdictQueued            Verdict = "Queued"
	VerdictRunning           Verdict = "Running"
	VerdictAccepted          Verdict = "Accepted"
	VerdictWrongAnswer       Verdict = "WrongAnswer"
	VerdictTimeLimitExceeded Verdict = "TimeLimitExceeded"
	VerdictRuntimeError      Verdict = "RuntimeError"
)

// Judge status ids with a dedicated verdict. Every other id is a runtime error.
const (
	statusQueued      = 1
	statusRunning     = 2
	statusAccepted    = 3
	statusWrongAnswer = 4
	statusTimeLimit   = 5
)

// MapStatus maps a judge status id to a Verdict. It is total: unknown ids are RuntimeError.
func MapStatus(id int) Verdict {
	switch id {
	case statusQueued:
		return VerdictQueued
	case statusRunning:
		return VerdictRunning
	case statusAccepted:
		return VerdictAccepted
	case statusWrongAnswer:
		return VerdictWrongAnswer
	case statusTimeLimit:
		return VerdictTimeLimitExceeded
	default:
		return VerdictRuntimeError
	}
}

// MapStatusCode is MapStatus for codes carried as text. Non-numeric input is RuntimeError.
func MapStatusCode(raw string) Verdict {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return VerdictRuntimeError
	}
	return MapStatus(id)
}

// IsTerminal reports whether polling can stop.
func (v Verdict) IsTerminal() bool {
	return v != VerdictQueued && v != VerdictRunning
}
