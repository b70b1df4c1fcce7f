package judge

import (
	"sort"
	"strings"
)

// DefaultLanguageKey is used when a requested language is unknown.
const DefaultLanguageKey = "python"

// Language is a selectable language and its judge id.
type Language struct {
	Key  string `json:"key" yaml:"key"`
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Languages maps language keys to judge ids.
type Languages struct {
	byKey      map[string]Language
	defaultKey string
}

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() *Languages {
	return NewLanguages([]Language{
		{Key: "python", ID: 71, Name: "Python 3"},
		{Key: "javascript", ID: 63, Name: "JavaScript (Node.js)"},
		{Key: "java", ID: 62, Name: "Java"},
		{Key: "cpp", ID: 54, Name: "C++ (GCC)"},
		{Key: "c", ID: 50, Name: "C (GCC)"},
	}, DefaultLanguageKey)
}

// NewLanguages builds a table. If defaultKey is not present, the first entry becomes the default.
func NewLanguages(list []Language, defaultKey string) *Languages {
	l := &Languages{byKey: make(map[string]Language, len(list))}
	for _, lang := range list {
		key := strings.ToLower(strings.TrimSpace(lang.Key))
		if key == "" || lang.ID <= 0 {
			continue
		}
		lang.Key = key
		l.byKey[key] = lang
		if l.defaultKey == "" {
			l.defaultKey = key
		}
	}
	if _, ok := l.byKey[strings.ToLower(defaultKey)]; ok {
		l.defaultKey = strings.ToLower(defaultKey)
	}
	return l
}

// Resolve returns the language for key, or the default language when key is unknown.
// The boolean reports whether key itself was found.
func (l *Languages) Resolve(key string) (Language, bool) {
	if lang, ok := l.byKey[strings.ToLower(strings.TrimSpace(key))]; ok {
		return lang, true
	}
	return l.byKey[l.defaultKey], false
}

// List returns all languages ordered by key.
func (l *Languages) List() []Language {
	out := make([]Language, 0, len(l.byKey))
	for _, lang := range l.byKey {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
