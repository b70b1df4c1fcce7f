package result

import (
	"fmt"
	"strings"
)

// OutputPolicy selects which judge streams make up a run's visible output.
type OutputPolicy string

const (
	// OutputStdoutFirst shows stdout, falling back to stderr and then compiler output.
	OutputStdoutFirst OutputPolicy = "stdout-first"
	// OutputCombined shows stdout followed by stderr.
	OutputCombined OutputPolicy = "combined"
	// OutputStdoutOnly ignores stderr entirely.
	OutputStdoutOnly OutputPolicy = "stdout-only"
)

// ParseOutputPolicy validates a configured policy name. Empty means OutputStdoutFirst.
func ParseOutputPolicy(name string) (OutputPolicy, error) {
	switch p := OutputPolicy(strings.TrimSpace(name)); p {
	case "":
		return OutputStdoutFirst, nil
	case OutputStdoutFirst, OutputCombined, OutputStdoutOnly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown output policy %q", name)
	}
}

// Select builds the visible output of a remote verdict.
func (p OutputPolicy) Select(v RemoteVerdict) string {
	switch p {
	case OutputStdoutOnly:
		return v.Stdout
	case OutputCombined:
		parts := make([]string, 0, 3)
		for _, s := range []string{v.Stdout, v.Stderr, v.CompileOutput} {
			if s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		if v.Stdout != "" {
			return v.Stdout
		}
		if v.Stderr != "" {
			return v.Stderr
		}
		return v.CompileOutput
	}
}
