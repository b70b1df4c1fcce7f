package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"develevate/internal/execution/result"
	appErr "develevate/pkg/errors"

	"github.com/zeromicro/go-zero/core/breaker"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// HTTPConfig configures the Judge0-compatible HTTP transport.
type HTTPConfig struct {
	BaseURL string `yaml:"baseURL"`
	// APIKey is sent as X-RapidAPI-Key when set. Loaded from the environment, never from clients.
	APIKey string `yaml:"-"`
	// APIHost is sent as X-RapidAPI-Host when set.
	APIHost        string        `yaml:"apiHost"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// SubmitRate caps submissions per second across the process. Zero disables the limit.
	SubmitRate  float64 `yaml:"submitRate"`
	SubmitBurst int     `yaml:"submitBurst"`
	BreakerName string  `yaml:"breakerName"`
}

// HTTPTransport implements Transport over the Judge0 REST API.
type HTTPTransport struct {
	baseURL *url.URL
	apiKey  string
	apiHost string
	client  *http.Client
	limiter *rate.Limiter
	brk     breaker.Breaker
}

// NewHTTPTransport creates a transport. A nil client uses one with cfg.RequestTimeout.
func NewHTTPTransport(cfg HTTPConfig, client *http.Client) (*HTTPTransport, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("judge base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse judge base url failed: %w", err)
	}
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	name := cfg.BreakerName
	if name == "" {
		name = "judge-" + base.Host
	}
	t := &HTTPTransport{
		baseURL: base,
		apiKey:  cfg.APIKey,
		apiHost: cfg.APIHost,
		client:  client,
		brk:     breaker.NewBreaker(breaker.WithName(name)),
	}
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}
	return t, nil
}

type submitRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

type submitResponse struct {
	Token string `json:"token"`
}

type pollResponse struct {
	Token  string `json:"token"`
	Status *struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Time          *string `json:"time"`
	Memory        *int64  `json:"memory"`
}

// Submit implements Transport.
func (t *HTTPTransport) Submit(ctx context.Context, sub Submission) (string, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	body, err := json.Marshal(submitRequest{
		SourceCode: sub.SourceCode,
		LanguageID: sub.LanguageID,
		Stdin:      sub.Stdin,
	})
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSubmitFailed, "encode submission failed")
	}

	var resp submitResponse
	if err := t.do(ctx, http.MethodPost, "/submissions", url.Values{"base64_encoded": {"false"}, "wait": {"false"}}, body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", appErr.New(appErr.JudgeBadResponse).WithMessage("judge returned no token")
	}
	return resp.Token, nil
}

// Poll implements Transport.
func (t *HTTPTransport) Poll(ctx context.Context, token string) (result.RemoteVerdict, error) {
	if token == "" {
		return result.RemoteVerdict{}, appErr.New(appErr.InvalidParams).WithMessage("token is required")
	}
	query := url.Values{
		"base64_encoded": {"false"},
		"fields":         {"token,status,stdout,stderr,compile_output,time,memory"},
	}
	var resp pollResponse
	if err := t.do(ctx, http.MethodGet, "/submissions/"+url.PathEscape(token), query, nil, &resp); err != nil {
		return result.RemoteVerdict{}, err
	}
	return resp.toVerdict(token), nil
}

func (p pollResponse) toVerdict(token string) result.RemoteVerdict {
	v := result.RemoteVerdict{
		Token:         token,
		Stdout:        deref(p.Stdout),
		Stderr:        deref(p.Stderr),
		CompileOutput: deref(p.CompileOutput),
	}
	if p.Token != "" {
		v.Token = p.Token
	}
	if p.Status != nil {
		v.StatusID = p.Status.ID
		v.Description = p.Status.Description
	}
	if p.Time != nil {
		if seconds, err := strconv.ParseFloat(*p.Time, 64); err == nil {
			v.TimeMs = seconds * 1000
		}
	}
	if p.Memory != nil {
		v.MemoryKB = *p.Memory
	}
	return v
}

// httpStatusError is a non-2xx judge reply.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("judge responded %d: %s", e.status, e.body)
}

// do runs one request through the breaker. Client errors (4xx) do not trip the breaker.
func (t *HTTPTransport) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	code := appErr.JudgePollFailed
	if method == http.MethodPost {
		code = appErr.JudgeSubmitFailed
	}

	err := t.brk.DoWithAcceptable(func() error {
		return t.roundTrip(ctx, method, path, query, body, out)
	}, func(err error) bool {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return statusErr.status < http.StatusInternalServerError
		}
		return err == nil || errors.Is(err, context.Canceled)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, breaker.ErrServiceUnavailable) {
		return appErr.Wrapf(err, appErr.JudgeUnavailable, "judge circuit is open")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusTooManyRequests {
		return appErr.Wrapf(err, appErr.JudgeUnavailable, "judge rate limit exceeded")
	}
	if appErr.GetCode(err) == appErr.JudgeBadResponse {
		return err
	}
	return appErr.Wrapf(err, code, "%s: %v", code.Message(), err)
}

func (t *HTTPTransport) roundTrip(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	u := *t.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", t.apiKey)
	}
	if t.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", t.apiHost)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode, body: truncate(string(data), 256)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return appErr.Wrapf(err, appErr.JudgeBadResponse, "decode judge response failed")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
