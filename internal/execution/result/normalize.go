package result

import "strings"

// Normalize converts CRLF line endings to LF and trims surrounding whitespace.
// Collapsing repeats until no CRLF is left, so "\r\r\n" becomes "\n" and
// Normalize(Normalize(s)) == Normalize(s). A lone "\r" is kept.
func Normalize(text string) string {
	for strings.Contains(text, "\r\n") {
		text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	return strings.TrimSpace(text)
}

// OutputsMatch compares program output with the expected output after normalization.
func OutputsMatch(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
