package embedding

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// Placeholder replaces sentences that are empty after cleaning.
	Placeholder = "<unk>"

	DefaultTurnDelimiter = "__eou__"
	DefaultMaxTurns      = 100
)

// Clean NFKC-normalises text and removes all whitespace, the form the
// character-level Chinese encoder expects. Empty results become Placeholder.
func Clean(text string) string {
	s := strings.Join(strings.Fields(norm.NFKC.String(text)), "")
	if s == "" {
		return Placeholder
	}
	return s
}

// CleanAll applies Clean to every sentence.
func CleanAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Clean(t)
	}
	return out
}

// SplitTurns splits a multi-turn line on delimiter and keeps the last
// maxTurns segments. Blank segments become Placeholder so that every turn
// still contributes a vector. maxTurns <= 0 keeps everything.
func SplitTurns(line, delimiter string, maxTurns int) []string {
	if delimiter == "" {
		delimiter = DefaultTurnDelimiter
	}
	parts := strings.Split(strings.TrimSpace(line), delimiter)
	if maxTurns > 0 && len(parts) > maxTurns {
		parts = parts[len(parts)-maxTurns:]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			p = Placeholder
		}
		out[i] = p
	}
	return out
}
