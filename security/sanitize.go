// Package security implements the four-gate LLM security pipeline: input
// sanitization, injection detection, per-user threat-context escalation, and
// output filtering. Every LLM-facing call passes through this pipeline.
package security

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// invisibleRunes is the fixed set of invisible code points stripped by
// sanitization. Attackers use these to split keywords past pattern matching.
var invisibleRunes = map[rune]bool{
	'­':      true, // soft hyphen
	'​':      true, // zero width space
	'‌':      true, // zero width non-joiner
	'‍':      true, // zero width joiner
	'‎':      true, // left-to-right mark
	'‏':      true, // right-to-left mark
	'⁠':      true, // word joiner
	'⁡':      true, // function application
	'⁢':      true, // invisible times
	'⁣':      true, // invisible separator
	'⁤':      true, // invisible plus
	'⁦':      true, // left-to-right isolate
	'⁧':      true, // right-to-left isolate
	'⁨':      true, // first strong isolate
	'⁩':      true, // pop directional isolate
	'\uFEFF': true, // zero width no-break space / BOM
}

// SanitizeResult is the Gate 1 output.
type SanitizeResult struct {
	// Text is the sanitized text. The input is never mutated.
	Text string
	// RemovedRunes counts invisible code points that were stripped; each one
	// adds 10 to the detection risk score.
	RemovedRunes int
}

// Sanitize strips invisible code points, NFC-normalizes, and collapses
// whitespace runs to a single space. Sanitize is idempotent:
// Sanitize(Sanitize(x).Text) == Sanitize(x).
func Sanitize(input string) SanitizeResult {
	var sb strings.Builder
	sb.Grow(len(input))
	removed := 0
	for _, r := range input {
		if invisibleRunes[r] {
			removed++
			continue
		}
		sb.WriteRune(r)
	}

	text := norm.NFC.String(sb.String())
	text = collapseWhitespace(text)
	return SanitizeResult{Text: text, RemovedRunes: removed}
}

// collapseWhitespace replaces every run of whitespace with a single space
// and trims the ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
