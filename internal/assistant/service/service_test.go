package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"develevate/internal/assistant/service"
	appErr "develevate/pkg/errors"
)

type fakeCompleter struct {
	mu      sync.Mutex
	seen    [][]service.Message
	block   chan struct{}
	entered chan struct{}
	reply   string
	err     error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []service.Message) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, messages)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.reply, f.err
}

func (f *fakeCompleter) Verify(ctx context.Context) error { return f.err }

func TestSendMessagePrependsSystemPrompt(t *testing.T) {
	completer := &fakeCompleter{reply: "hello"}
	svc, err := service.NewService(completer, service.Config{SystemPrompt: "You are a tutor."})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}

	reply, err := svc.SendMessage(context.Background(), "s1", []service.Message{{Role: "user", Content: "hi"}})
	if err != nil || reply != "hello" {
		t.Fatalf("unexpected reply %q err=%v", reply, err)
	}
	sent := completer.seen[0]
	if len(sent) != 2 || sent[0].Role != "system" || sent[0].Content != "You are a tutor." {
		t.Fatalf("expected system prompt first, got %+v", sent)
	}

	_, _ = svc.SendMessage(context.Background(), "s1", []service.Message{
		{Role: "system", Content: "custom"},
		{Role: "user", Content: "hi"},
	})
	if sent := completer.seen[1]; len(sent) != 2 || sent[0].Content != "custom" {
		t.Fatalf("caller system message must be kept, got %+v", sent)
	}
}

func TestSendMessageSingleInFlightPerSession(t *testing.T) {
	completer := &fakeCompleter{reply: "ok", block: make(chan struct{}), entered: make(chan struct{}, 2)}
	svc, _ := service.NewService(completer, service.Config{})
	msgs := []service.Message{{Role: "user", Content: "hi"}}

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(context.Background(), "s1", msgs)
		done <- err
	}()
	<-completer.entered

	if !svc.Busy("s1") {
		t.Fatalf("expected session to be busy")
	}
	if _, err := svc.SendMessage(context.Background(), "s1", msgs); appErr.GetCode(err) != appErr.AssistantBusy {
		t.Fatalf("expected AssistantBusy, got %v", err)
	}

	other := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(context.Background(), "s2", msgs)
		other <- err
	}()
	<-completer.entered

	close(completer.block)
	if err := <-done; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if err := <-other; err != nil {
		t.Fatalf("other session failed: %v", err)
	}
	if svc.Busy("s1") {
		t.Fatalf("session should be released")
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, _ := service.NewService(&fakeCompleter{reply: "x"}, service.Config{MaxMessages: 2, MaxContentSize: 8})
	ctx := context.Background()

	tests := []struct {
		name     string
		session  string
		messages []service.Message
		want     appErr.ErrorCode
	}{
		{name: "no session", session: "", messages: []service.Message{{Role: "user", Content: "hi"}}, want: appErr.ValidationFailed},
		{name: "no messages", session: "s1", want: appErr.ValidationFailed},
		{name: "bad role", session: "s1", messages: []service.Message{{Role: "tool", Content: "hi"}}, want: appErr.ValidationFailed},
		{name: "empty content", session: "s1", messages: []service.Message{{Role: "user", Content: " "}}, want: appErr.ValidationFailed},
		{name: "too long", session: "s1", messages: []service.Message{{Role: "user", Content: strings.Repeat("x", 9)}}, want: appErr.InputTooLarge},
		{name: "too many", session: "s1", messages: make([]service.Message, 3), want: appErr.InvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tt.session, tt.messages)
			if appErr.GetCode(err) != tt.want {
				t.Fatalf("expected %d, got %v", tt.want, err)
			}
		})
	}
}

func TestSendMessagePropagatesCompleterError(t *testing.T) {
	svc, _ := service.NewService(&fakeCompleter{err: appErr.New(appErr.AssistantRateLimited)}, service.Config{})
	_, err := svc.SendMessage(context.Background(), "s1", []service.Message{{Role: "user", Content: "hi"}})
	if appErr.GetCode(err) != appErr.AssistantRateLimited {
		t.Fatalf("expected AssistantRateLimited, got %v", err)
	}
	if svc.Busy("s1") {
		t.Fatalf("session must be released after an error")
	}
}
