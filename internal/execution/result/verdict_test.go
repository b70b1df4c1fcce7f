package result_test

import (
	"testing"

	"develevate/internal/execution/result"
)

func TestMapStatus(t *testing.T) {
	cases := []struct {
		id   int
		want result.Verdict
	}{
		{1, result.VerdictQueued},
		{2, result.VerdictRunning},
		{3, result.VerdictAccepted},
		{4, result.VerdictWrongAnswer},
		{5, result.VerdictTimeLimitExceeded},
		{6, result.VerdictRuntimeError},
		{11, result.VerdictRuntimeError},
		{13, result.VerdictRuntimeError},
		{0, result.VerdictRuntimeError},
		{-1, result.VerdictRuntimeError},
		{999, result.VerdictRuntimeError},
	}
	for _, tc := range cases {
		if got := result.MapStatus(tc.id); got != tc.want {
			t.Fatalf("MapStatus(%d) = %s, want %s", tc.id, got, tc.want)
		}
	}
}

func TestMapStatusCode(t *testing.T) {
	cases := map[string]result.Verdict{
		"3":     result.VerdictAccepted,
		" 5 ":   result.VerdictTimeLimitExceeded,
		"":      result.VerdictRuntimeError,
		"ok":    result.VerdictRuntimeError,
		"3.0":   result.VerdictRuntimeError,
		"12345": result.VerdictRuntimeError,
	}
	for raw, want := range cases {
		if got := result.MapStatusCode(raw); got != want {
			t.Fatalf("MapStatusCode(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestVerdictIsTerminal(t *testing.T) {
	if result.VerdictQueued.IsTerminal() || result.VerdictRunning.IsTerminal() {
		t.Fatalf("queued and running must not be terminal")
	}
	for _, v := range []result.Verdict{
		result.VerdictAccepted,
		result.VerdictWrongAnswer,
		result.VerdictTimeLimitExceeded,
		result.VerdictRuntimeError,
	} {
		if !v.IsTerminal() {
			t.Fatalf("%s should be terminal", v)
		}
	}
}
