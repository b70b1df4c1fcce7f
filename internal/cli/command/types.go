package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType tells BuildRequest how to read a param.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldJSON
	// FieldFile holds a path whose contents feed another field.
	FieldFile
)

// Field is one key=value input of a command.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
	Query    bool
}

// Command binds "<service> <action>" to an HTTP route.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Fields       []Field
	Help         string
}

// RequestSpec is what BuildRequest hands to the HTTP client.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params are case-insensitive key=value pairs typed at the prompt.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

// Canonicalize renames alias keys to their field names.
func (p Params) Canonicalize(fields []Field) {
	for _, f := range fields {
		for _, alias := range f.Aliases {
			if v, ok := p[strings.ToLower(alias)]; ok {
				delete(p, strings.ToLower(alias))
				p.Set(f.Name, v)
			}
		}
	}
}

func ParseInt(value string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(value))
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s failed: %w", path, err)
	}
	return string(data), nil
}

func ParseJSON(value string) (json.RawMessage, error) {
	raw := []byte(strings.TrimSpace(value))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid json content")
	}
	return raw, nil
}
