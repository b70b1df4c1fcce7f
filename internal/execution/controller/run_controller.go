package controller

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"develevate/internal/execution/judge"
	"develevate/internal/execution/service"
	appErr "develevate/pkg/errors"
	"develevate/pkg/utils/logger"
	"develevate/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes  = 64 << 10
	defaultMaxInputBytes = 64 << 10
	defaultMaxTestCases  = 20
	defaultHistoryLimit  = 20

	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// RunStore reads persisted runs.
type RunStore interface {
	Get(ctx context.Context, runID string) (service.Snapshot, error)
	History(ctx context.Context, sessionID string, limit int64) ([]service.Snapshot, error)
}

// Limits bounds run payloads.
type Limits struct {
	MaxCodeBytes  int `yaml:"maxCodeBytes"`
	MaxInputBytes int `yaml:"maxInputBytes"`
	MaxTestCases  int `yaml:"maxTestCases"`
}

func (l *Limits) setDefaults() {
	if l.MaxCodeBytes <= 0 {
		l.MaxCodeBytes = defaultMaxCodeBytes
	}
	if l.MaxInputBytes <= 0 {
		l.MaxInputBytes = defaultMaxInputBytes
	}
	if l.MaxTestCases <= 0 {
		l.MaxTestCases = defaultMaxTestCases
	}
}

// RunController handles run HTTP endpoints.
type RunController struct {
	sessions  *service.Sessions
	runs      RunStore
	languages *judge.Languages
	limits    Limits
	upgrader  websocket.Upgrader
}

// RunIDHeader carries the id of the run that produced a POST response.
const RunIDHeader = "X-Run-Id"

// NewRunController creates a new RunController. runs may be nil when no store is configured.
func NewRunController(sessions *service.Sessions, runs RunStore, languages *judge.Languages, limits Limits) *RunController {
	limits.setDefaults()
	if languages == nil {
		languages = judge.DefaultLanguages()
	}
	return &RunController{
		sessions:  sessions,
		runs:      runs,
		languages: languages,
		limits:    limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run executes code for one session and returns the full result.
func (h *RunController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := h.validate(req); err != nil {
		response.Error(c, err)
		return
	}
	orchestrator, err := h.sessions.Get(c.Param("session_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	res := orchestrator.RunCode(c.Request.Context(), service.RunRequest{
		Code:        req.SourceCode,
		Language:    req.Language,
		CustomInput: req.Stdin,
		TestCases:   req.testCases(),
	})
	if res.RunID != "" {
		c.Header(RunIDHeader, res.RunID)
	}
	response.Success(c, res)
}

// State returns the session's current snapshot.
func (h *RunController) State(c *gin.Context) {
	orchestrator, err := h.sessions.Get(c.Param("session_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, orchestrator.State())
}

// Events streams the session's snapshots over a websocket until the client goes away.
func (h *RunController) Events(c *gin.Context) {
	orchestrator, err := h.sessions.Get(c.Param("session_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	snaps, unsubscribe := orchestrator.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case snap := <-snaps:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug(ctx, "websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// History returns the session's finished runs, newest first.
func (h *RunController) History(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithMessage("run history is not configured"))
		return
	}
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		response.BadRequest(c, "Invalid session id")
		return
	}
	limit := int64(defaultHistoryLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			response.BadRequest(c, "Invalid limit")
			return
		}
		limit = n
	}
	runs, err := h.runs.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, runs)
}

// GetRun returns one stored run.
func (h *RunController) GetRun(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithMessage("run store is not configured"))
		return
	}
	runID := strings.TrimSpace(c.Param("run_id"))
	if runID == "" {
		response.BadRequest(c, "Invalid run id")
		return
	}
	snap, err := h.runs.Get(c.Request.Context(), runID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// Languages lists selectable languages.
func (h *RunController) Languages(c *gin.Context) {
	def, _ := h.languages.Resolve("")
	list := h.languages.List()
	items := make([]LanguageEntry, 0, len(list))
	for _, lang := range list {
		items = append(items, LanguageEntry{Key: lang.Key, ID: lang.ID, Name: lang.Name})
	}
	response.Success(c, LanguagesResponse{Default: def.Key, Items: items})
}

func (h *RunController) validate(req RunRequest) error {
	if strings.TrimSpace(req.SourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if len(req.SourceCode) > h.limits.MaxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessagef("source code exceeds %d bytes", h.limits.MaxCodeBytes)
	}
	if len(req.TestCases) > h.limits.MaxTestCases {
		return appErr.New(appErr.TooManyTestCases).WithMessagef("at most %d test cases are allowed", h.limits.MaxTestCases)
	}
	if len(req.Stdin) > h.limits.MaxInputBytes {
		return appErr.New(appErr.InputTooLarge).WithMessagef("stdin exceeds %d bytes", h.limits.MaxInputBytes)
	}
	for i, tc := range req.TestCases {
		if len(tc.Input) > h.limits.MaxInputBytes || len(tc.ExpectedOutput) > h.limits.MaxInputBytes {
			return appErr.New(appErr.InputTooLarge).WithMessagef("test case %d exceeds %d bytes", i+1, h.limits.MaxInputBytes)
		}
	}
	return nil
}
