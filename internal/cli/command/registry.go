package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FileMarker stands in for a value that will be read from the matching *_file param.
const FileMarker = "_file_"

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "run",
			Action:       "exec",
			Method:       "POST",
			PathTemplate: "/api/v1/sessions/:session_id/runs",
			Help:         "run exec source_file=./main.py language=python stdin=\"1 2\" tests_file=./tests.json",
			Fields: []Field{
				{Name: "source_code", Aliases: []string{"code"}, Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: false},
				{Name: "stdin", Aliases: []string{"input"}, Prompt: "stdin", Type: FieldString, Required: false},
				{Name: "tests", Prompt: "tests (JSON array)", Type: FieldJSON, Required: false},
				{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile, Required: false},
				{Name: "stdin_file", Prompt: "stdin_file", Type: FieldFile, Required: false},
				{Name: "tests_file", Prompt: "tests_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "run",
			Action:       "state",
			Method:       "GET",
			PathTemplate: "/api/v1/sessions/:session_id/state",
			Help:         "run state",
		},
		{
			Service:      "run",
			Action:       "history",
			Method:       "GET",
			PathTemplate: "/api/v1/sessions/:session_id/runs",
			Help:         "run history limit=5",
			Fields: []Field{
				{Name: "limit", Prompt: "limit", Type: FieldInt, Required: false, Query: true},
			},
		},
		{
			Service:      "run",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/runs/:run_id",
			Help:         "run get run_id=<id>",
			Fields: []Field{
				{Name: "run_id", Aliases: []string{"id"}, Prompt: "run_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "lang",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
			Help:         "lang list",
		},
		{
			Service:      "assistant",
			Action:       "ask",
			Method:       "POST",
			PathTemplate: "/api/v1/assistant/sessions/:session_id/messages",
			Help:         "assistant ask message=\"why does my loop time out?\"",
			Fields: []Field{
				{Name: "message", Aliases: []string{"msg"}, Prompt: "message", Type: FieldString, Required: true},
				{Name: "system", Prompt: "system", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "assistant",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/api/v1/assistant/health",
			Help:         "assistant health",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// Names returns the registry keys in order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for key := range commands {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// BuildRequest turns a command and its params into an HTTP request.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	query, err := buildQuery(cmd.Fields, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if query != "" {
		path += "?" + query
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"session_id", "run_id"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildQuery(fields []Field, params Params) (string, error) {
	values := url.Values{}
	for _, field := range fields {
		if !field.Query || params.Get(field.Name) == "" {
			continue
		}
		if field.Type == FieldInt {
			if _, err := ParseInt(params.Get(field.Name)); err != nil {
				return "", fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		}
		values.Set(field.Name, params.Get(field.Name))
	}
	return values.Encode(), nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "run":
		if cmd.Action == "exec" {
			return buildRunPayload(params)
		}
	case "assistant":
		if cmd.Action == "ask" {
			return buildAskPayload(params), nil
		}
	}
	return nil, nil
}

type testCasePayload struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

func buildRunPayload(params Params) (interface{}, error) {
	sourceCode, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return nil, err
	}
	if sourceCode == "" {
		return nil, fmt.Errorf("source_code is required")
	}
	stdin, err := valueOrFile(params, "stdin", "stdin_file")
	if err != nil {
		return nil, err
	}

	tests := []testCasePayload{}
	testsRaw, err := valueOrFile(params, "tests", "tests_file")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(testsRaw) != "" {
		raw, err := ParseJSON(testsRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid tests: %w", err)
		}
		if err := json.Unmarshal(raw, &tests); err != nil {
			return nil, fmt.Errorf("invalid tests: expected [{\"input\":..., \"expected_output\":...}]: %w", err)
		}
	}

	return map[string]interface{}{
		"source_code": sourceCode,
		"language":    params.Get("language"),
		"stdin":       stdin,
		"test_cases":  tests,
	}, nil
}

func buildAskPayload(params Params) interface{} {
	messages := make([]map[string]string, 0, 2)
	if system := params.Get("system"); system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": params.Get("message")})
	return map[string]interface{}{"messages": messages}
}

// valueOrFile returns params[key], or the contents of params[fileKey] when key is unset or FileMarker.
func valueOrFile(params Params, key, fileKey string) (string, error) {
	value := params.Get(key)
	if (value == "" || value == FileMarker) && params.Get(fileKey) != "" {
		return ReadFile(params.Get(fileKey))
	}
	if value == FileMarker {
		return "", nil
	}
	return value, nil
}
