package controller

import "develevate/internal/execution/result"

// RunRequest defines the run payload.
type RunRequest struct {
	SourceCode string            `json:"source_code"`
	Language   string            `json:"language"`
	Stdin      string            `json:"stdin"`
	TestCases  []TestCaseRequest `json:"test_cases"`
}

// TestCaseRequest is one test case in a run payload.
type TestCaseRequest struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

func (r RunRequest) testCases() []result.TestCase {
	out := make([]result.TestCase, 0, len(r.TestCases))
	for _, tc := range r.TestCases {
		out = append(out, result.TestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput})
	}
	return out
}

// LanguagesResponse lists selectable languages.
type LanguagesResponse struct {
	Default string          `json:"default"`
	Items   []LanguageEntry `json:"items"`
}

// LanguageEntry is one selectable language.
type LanguageEntry struct {
	Key  string `json:"key"`
	ID   int    `json:"id"`
	Name string `json:"name"`
}
