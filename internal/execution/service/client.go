package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"develevate/internal/execution/judge"
	"develevate/internal/execution/metrics"
	"develevate/internal/execution/result"
	appErr "develevate/pkg/errors"
	"develevate/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 10
)

// ExecutionRequest is one program run: source, language key and stdin.
type ExecutionRequest struct {
	SourceCode string
	Language   string
	Stdin      string
	// OnSubmitted is called once the judge accepted the submission.
	OnSubmitted func(token string)
}

// Executor runs a program remotely and waits for its verdict.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (result.Execution, error)
}

// ExecutionClientConfig holds client dependencies and settings.
type ExecutionClientConfig struct {
	Transport       judge.Transport
	Languages       *judge.Languages
	OutputPolicy    result.OutputPolicy
	PollInterval    time.Duration
	MaxPollAttempts int
	// CallTimeout bounds each Submit or Poll call. Zero means no extra bound.
	CallTimeout time.Duration
	Metrics     *metrics.Metrics
}

// ExecutionClient submits programs to the judge and polls until a terminal verdict.
type ExecutionClient struct {
	transport    judge.Transport
	languages    *judge.Languages
	policy       result.OutputPolicy
	pollInterval time.Duration
	maxAttempts  int
	callTimeout  time.Duration
	metrics      *metrics.Metrics
}

// NewExecutionClient creates a new execution client.
func NewExecutionClient(cfg ExecutionClientConfig) (*ExecutionClient, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("judge transport is required")
	}
	languages := cfg.Languages
	if languages == nil {
		languages = judge.DefaultLanguages()
	}
	policy := cfg.OutputPolicy
	if policy == "" {
		policy = result.OutputStdoutFirst
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attempts := cfg.MaxPollAttempts
	if attempts <= 0 {
		attempts = defaultMaxPollAttempts
	}
	return &ExecutionClient{
		transport:    cfg.Transport,
		languages:    languages,
		policy:       policy,
		pollInterval: interval,
		maxAttempts:  attempts,
		callTimeout:  cfg.CallTimeout,
		metrics:      cfg.Metrics,
	}, nil
}

// Execute submits req and waits for a terminal verdict.
// The returned Execution is always usable; on error it is a RuntimeError-shaped failure.
func (c *ExecutionClient) Execute(ctx context.Context, req ExecutionRequest) (result.Execution, error) {
	lang, known := c.languages.Resolve(req.Language)
	if !known {
		logger.Warn(ctx, "unknown language, using default",
			zap.String("language", req.Language),
			zap.String("fallback", lang.Key),
		)
	}

	token, err := c.submit(ctx, judge.Submission{
		SourceCode: req.SourceCode,
		LanguageID: lang.ID,
		Stdin:      req.Stdin,
	})
	if err != nil {
		logger.Warn(ctx, "submit to judge failed", zap.String("language", lang.Key), zap.Error(err))
		c.metrics.ObserveExecution(string(result.VerdictRuntimeError), 0)
		return result.FailedExecution(err), err
	}
	if req.OnSubmitted != nil {
		req.OnSubmitted(token)
	}

	verdict, polls, err := c.await(ctx, token)
	if err != nil {
		c.metrics.ObserveExecution(string(result.VerdictRuntimeError), polls)
		return result.FailedExecution(err), err
	}
	v := verdict.Verdict()
	c.metrics.ObserveExecution(string(v), polls)
	logger.Debug(ctx, "judge verdict received",
		zap.String("token", token),
		zap.String("verdict", string(v)),
		zap.Int("polls", polls),
		zap.Float64("time_ms", verdict.TimeMs),
	)
	return result.Execution{
		Verdict: v,
		Output:  c.policy.Select(verdict),
		Remote:  verdict,
	}, nil
}

func (c *ExecutionClient) submit(ctx context.Context, sub judge.Submission) (string, error) {
	ctxCall, cancel := c.callContext(ctx)
	defer cancel()
	token, err := c.transport.Submit(ctxCall, sub)
	if err == nil {
		return token, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	var coded *appErr.Error
	if errors.As(err, &coded) {
		return "", err
	}
	return "", appErr.Wrapf(err, appErr.JudgeSubmitFailed, "%s: %v", appErr.JudgeSubmitFailed.Message(), err)
}

// await polls token until a terminal verdict, the attempt budget runs out, or ctx ends.
// It returns the number of polls made.
func (c *ExecutionClient) await(ctx context.Context, token string) (result.RemoteVerdict, int, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result.RemoteVerdict{}, attempt - 1, err
		}
		verdict, err := c.poll(ctx, token)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return result.RemoteVerdict{}, attempt, ctx.Err()
			}
			logger.Warn(ctx, "poll judge failed",
				zap.String("token", token),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		case verdict.Verdict().IsTerminal():
			return verdict, attempt, nil
		}
		if attempt == c.maxAttempts {
			break
		}
		if err := wait(ctx, c.pollInterval); err != nil {
			return result.RemoteVerdict{}, attempt, err
		}
	}
	return result.RemoteVerdict{}, c.maxAttempts,
		appErr.Newf(appErr.JudgePollExhausted, "No result after %d attempts", c.maxAttempts).
			WithDetail("token", token)
}

func (c *ExecutionClient) poll(ctx context.Context, token string) (result.RemoteVerdict, error) {
	ctxCall, cancel := c.callContext(ctx)
	defer cancel()
	return c.transport.Poll(ctxCall, token)
}

func (c *ExecutionClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout > 0 {
		return context.WithTimeout(ctx, c.callTimeout)
	}
	return context.WithCancel(ctx)
}

// wait blocks for d or until ctx ends.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
