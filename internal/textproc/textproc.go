// Package textproc holds the text-handling helpers shared by the session
// aggregator, the orchestrator, and the confirmation probe: whitespace
// normalisation, control-character stripping, grapheme-cluster prefixes, and
// the digest form used to reference injected text in logs.
package textproc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// Normalize collapses runs of Unicode whitespace into a single space and strips
// control characters. Newlines are kept when keepNewlines is set (they count
// as whitespace for run-collapsing either way). Leading and trailing
// whitespace is trimmed.
func Normalize(s string, keepNewlines bool) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	pendingNewline := false
	wrote := false
	for _, r := range s {
		switch {
		case r == '\n':
			pendingSpace = true
			if keepNewlines {
				pendingNewline = true
			}
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsControl(r):
			// Dropped entirely; a stray ESC or BEL in a transcript must never
			// reach a focused terminal.
		default:
			if pendingSpace && wrote {
				if pendingNewline {
					b.WriteByte('\n')
				} else {
					b.WriteByte(' ')
				}
			}
			pendingSpace = false
			pendingNewline = false
			b.WriteRune(r)
			wrote = true
		}
	}
	return b.String()
}

// EndsWithTerminator reports whether s, after trimming trailing whitespace,
// ends with a sentence terminator ('.', '?' or '!').
func EndsWithTerminator(s string) bool {
	t := strings.TrimRightFunc(s, unicode.IsSpace)
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

// GraphemePrefix returns the first n Unicode grapheme clusters of s. A family
// emoji or a combining-mark sequence counts as one cluster, so prefixes never
// split a user-perceived character.
func GraphemePrefix(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	g := uniseg.NewGraphemes(s)
	end := 0
	for i := 0; i < n && g.Next(); i++ {
		_, end = g.Positions()
	}
	return s[:end]
}

// GraphemeCount returns the number of grapheme clusters in s.
func GraphemeCount(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// Digest returns the form of text that may appear in logs at INFO and above:
// its length plus a short hash, never the content itself.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("len=%d sha=%s", len(s), hex.EncodeToString(sum[:4]))
}
