// Package judge talks to the remote code-execution service.
package judge

import (
	"context"

	"develevate/internal/execution/result"
)

// Submission is one program run request sent to the judge.
type Submission struct {
	SourceCode string
	LanguageID int
	Stdin      string
}

// Transport submits programs and polls for their verdicts.
// Credentials are held by the implementation and never exposed to callers.
type Transport interface {
	// Submit queues a run and returns its opaque token.
	Submit(ctx context.Context, sub Submission) (string, error)
	// Poll fetches the current verdict for token.
	Poll(ctx context.Context, token string) (result.RemoteVerdict, error)
}
