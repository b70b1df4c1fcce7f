package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"develevate/internal/cli/command"
	httpclient "develevate/internal/cli/http"
	"develevate/internal/cli/state"
	pkgerrors "develevate/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// Prompter asks the user for a missing field value.
type Prompter func(prompt string) (string, error)

// Session holds REPL state.
type Session struct {
	client      *httpclient.Client
	commands    map[string]command.Command
	state       *state.SessionState
	statePath   string
	historyPath string
	prettyJSON  bool
	out         io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath, historyPath string, prettyJSON bool) *Session {
	return &Session{
		client:      client,
		commands:    commands,
		state:       st,
		statePath:   statePath,
		historyPath: historyPath,
		prettyJSON:  prettyJSON,
		out:         os.Stdout,
	}
}

// SetOutput redirects everything the session prints.
func (s *Session) SetOutput(w io.Writer) {
	s.out = w
}

func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "develevate> ",
		HistoryFile:     s.historyPath,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.out = rl.Stdout()

	prompt := func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt("develevate> ")
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return nil
		}
		if s.handleSystemCommand(line) {
			continue
		}
		if err := s.Execute(ctx, line, prompt); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) completer() *readline.PrefixCompleter {
	byService := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, name := range command.Names(s.commands) {
		cmd := s.commands[name]
		if _, ok := byService[cmd.Service]; !ok {
			order = append(order, cmd.Service)
		}
		byService[cmd.Service] = append(byService[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := make([]readline.PrefixCompleterInterface, 0, len(order)+4)
	for _, service := range order {
		items = append(items, readline.PcItem(service, byService[service]...))
	}
	items = append(items,
		readline.PcItem("set",
			readline.PcItem("base"),
			readline.PcItem("timeout"),
			readline.PcItem("session"),
			readline.PcItem("language"),
		),
		readline.PcItem("show",
			readline.PcItem("session"),
			readline.PcItem("config"),
		),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|session|language")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 30s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "session":
		if len(parts) < 2 {
			s.printLine("usage: set session <session_id>")
			return
		}
		s.state.SessionID = parts[1]
		s.state.LastRunID = ""
		s.saveState()
		s.printLine("session set to %s", parts[1])
	case "language":
		if len(parts) < 2 {
			s.printLine("usage: set language python|javascript|java|cpp|c")
			return
		}
		s.state.Language = parts[1]
		s.saveState()
		s.printLine("language set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "session":
		s.printLine("session: %s", s.state.SessionID)
		s.printLine("language: %s", valueOr(s.state.Language, "<server default>"))
		s.printLine("last run: %s", valueOr(s.state.LastRunID, "<none>"))
	case "config":
		s.printLine("statePath: %s", s.statePath)
		s.printLine("historyPath: %s", s.historyPath)
	default:
		s.printLine("usage: show session|config")
	}
}

// Execute runs one "<service> <action> key=value ..." line against the server.
func (s *Session) Execute(ctx context.Context, line string, prompt Prompter) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	s.applyParamShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params, prompt); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.updateStateFromResponse(cmd, params, resp)
	return nil
}

func (s *Session) applyParamShortcuts(cmd command.Command, params command.Params) {
	if !params.Has("session_id") {
		params.Set("session_id", s.state.SessionID)
	}
	switch {
	case cmd.Service == "run" && cmd.Action == "exec":
		if params.Get("source_file") != "" && params.Get("source_code") == "" {
			params.Set("source_code", command.FileMarker)
		}
		if params.Get("language") == "" && s.state.Language != "" {
			params.Set("language", s.state.Language)
		}
	case cmd.Service == "run" && cmd.Action == "get":
		if params.Get("run_id") == "" && s.state.LastRunID != "" {
			params.Set("run_id", s.state.LastRunID)
		}
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params, prompt Prompter) error {
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if value := params.Get(field.Name); value != "" {
			continue
		}
		if prompt == nil {
			return fmt.Errorf("missing required field: %s", field.Name)
		}
		value, err := prompt(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) updateStateFromResponse(cmd command.Command, params command.Params, resp httpclient.ResponseInfo) {
	if cmd.Service != "run" || cmd.Action != "exec" {
		return
	}
	var envelope struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil || envelope.Code != int(pkgerrors.Success) {
		return
	}
	if runID := resp.Headers.Get("X-Run-Id"); runID != "" {
		s.state.LastRunID = runID
	}
	if lang := params.Get("language"); lang != "" {
		s.state.Language = lang
	}
	s.saveState()
}

func (s *Session) saveState() {
	if err := state.Save(s.statePath, *s.state); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|session|language | show session|config")
	s.printLine("commands:")
	for _, name := range command.Names(s.commands) {
		s.printLine("  %s", s.commands[name].Help)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
