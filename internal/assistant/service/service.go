package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appErr "develevate/pkg/errors"
	"develevate/pkg/utils/contextkey"
	"develevate/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxMessages    = 50
	defaultMaxContentSize = 16 << 10
	defaultReplyTimeout   = 45 * time.Second
)

// Config holds assistant service settings.
type Config struct {
	// SystemPrompt is prepended when the conversation carries no system message.
	SystemPrompt   string        `yaml:"systemPrompt"`
	MaxMessages    int           `yaml:"maxMessages"`
	MaxContentSize int           `yaml:"maxContentSize"`
	ReplyTimeout   time.Duration `yaml:"replyTimeout"`
}

// Service relays conversations to the completer, one request at a time per session.
type Service struct {
	completer Completer
	cfg       Config

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService creates a new assistant service.
func NewService(completer Completer, cfg Config) (*Service, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxMessages
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = defaultMaxContentSize
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	return &Service{completer: completer, cfg: cfg, inFlight: make(map[string]struct{})}, nil
}

// SendMessage returns the assistant reply to messages. A second call for the same
// session while one is pending fails with AssistantBusy.
func (s *Service) SendMessage(ctx context.Context, sessionID string, messages []Message) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", appErr.ValidationError("session_id", "required")
	}
	if err := s.validate(messages); err != nil {
		return "", err
	}
	if !s.acquire(sessionID) {
		return "", appErr.New(appErr.AssistantBusy)
	}
	defer s.release(sessionID)

	ctx = context.WithValue(ctx, contextkey.SessionID, sessionID)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.completer.Complete(ctx, s.withSystemPrompt(messages))
	if err != nil {
		logger.Warn(ctx, "assistant reply failed",
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		return "", err
	}
	logger.Info(ctx, "assistant replied",
		zap.Int("messages", len(messages)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return reply, nil
}

// Verify checks the upstream credential.
func (s *Service) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()
	return s.completer.Verify(ctx)
}

// Busy reports whether sessionID has a pending request.
func (s *Service) Busy(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[sessionID]
	return ok
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[sessionID]; ok {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	delete(s.inFlight, sessionID)
	s.mu.Unlock()
}

func (s *Service) validate(messages []Message) error {
	if len(messages) == 0 {
		return appErr.ValidationError("messages", "required")
	}
	if len(messages) > s.cfg.MaxMessages {
		return appErr.New(appErr.InvalidValue).WithMessagef("at most %d messages are allowed", s.cfg.MaxMessages)
	}
	for i, m := range messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return appErr.ValidationError(fmt.Sprintf("messages[%d].role", i), "must be system, user or assistant")
		}
		if strings.TrimSpace(m.Content) == "" {
			return appErr.ValidationError(fmt.Sprintf("messages[%d].content", i), "required")
		}
		if len(m.Content) > s.cfg.MaxContentSize {
			return appErr.New(appErr.InputTooLarge).WithMessagef("message %d exceeds %d bytes", i+1, s.cfg.MaxContentSize)
		}
	}
	return nil
}

func (s *Service) withSystemPrompt(messages []Message) []Message {
	if s.cfg.SystemPrompt == "" {
		return messages
	}
	for _, m := range messages {
		if m.Role == "system" {
			return messages
		}
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: s.cfg.SystemPrompt})
	return append(out, messages...)
}
