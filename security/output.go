package security

import (
	"regexp"
	"strings"
)

// Stable redaction placeholders. These shapes are part of the external
// contract and covered by tests; do not change them.
const (
	placeholderOpenAI     = "[OPENAI_API_KEY_REDACTED]"
	placeholderAnthropic  = "[ANTHROPIC_API_KEY_REDACTED]"
	placeholderGoogle     = "[GOOGLE_API_KEY_REDACTED]"
	placeholderJWT        = "[JWT_TOKEN_REDACTED]"
	placeholderPrivateKey = "[PRIVATE_KEY_REDACTED]"
	placeholderSSN        = "***-**-****"
	placeholderCard       = "****-****-****-****"
)

// redaction is a secret shape with its replacement. Order matters: the
// Anthropic shape is a superset of the OpenAI prefix and must run first.
type redaction struct {
	kind    string
	re      *regexp.Regexp
	replace string
}

var redactions = []redaction{
	{"anthropic_key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{16,}\b`), placeholderAnthropic},
	{"openai_key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`), placeholderOpenAI},
	{"google_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`), placeholderGoogle},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`), placeholderJWT},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), placeholderPrivateKey},
	{"private_key_header", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), placeholderPrivateKey},
	// 64 hex chars with optional 0x prefix: Ethereum private-key shape.
	{"hex_key", regexp.MustCompile(`\b(?:0x)?[0-9a-fA-F]{64}\b`), placeholderPrivateKey},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), placeholderSSN},
	{"credit_card", regexp.MustCompile(`\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b|\b\d{16}\b`), placeholderCard},
}

var emailRe = regexp.MustCompile(`\b([A-Za-z0-9._%+-]+)@([A-Za-z0-9.-]+\.[A-Za-z]{2,})\b`)

// FilterResult is the Gate 4 output.
type FilterResult struct {
	// Text is the response with secrets replaced by typed placeholders.
	Text string `json:"text"`
	// Redactions counts replacements by kind.
	Redactions map[string]int `json:"redactions,omitempty"`
	// IsSafe is false when the malicious-code scanner flagged fenced code.
	// Scanner hits add warnings but never mutate the text.
	IsSafe bool `json:"is_safe"`
	// Warnings describes scanner findings.
	Warnings []string `json:"warnings,omitempty"`
}

// FilterOptions tunes the output filter.
type FilterOptions struct {
	// RedactEmails masks email addresses as prefix***@domain.
	RedactEmails bool
}

// FilterOutput applies Gate 4 to an LLM response before it leaves the
// process.
func FilterOutput(text string, opts FilterOptions) FilterResult {
	result := FilterResult{IsSafe: true, Redactions: make(map[string]int)}

	for _, r := range redactions {
		matches := r.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		text = r.re.ReplaceAllString(text, r.replace)
		result.Redactions[r.kind] += len(matches)
		metricRedactions.WithLabelValues(r.kind).Add(float64(len(matches)))
	}

	if opts.RedactEmails {
		if n := len(emailRe.FindAllString(text, -1)); n > 0 {
			result.Redactions["email"] += n
			metricRedactions.WithLabelValues("email").Add(float64(n))
		}
		text = emailRe.ReplaceAllStringFunc(text, func(m string) string {
			sub := emailRe.FindStringSubmatch(m)
			local, domain := sub[1], sub[2]
			prefix := local
			if len(prefix) > 3 {
				prefix = prefix[:3]
			}
			return prefix + "***@" + domain
		})
	}

	warnings := scanFencedCode(text)
	if len(warnings) > 0 {
		result.IsSafe = false
		result.Warnings = warnings
	}

	result.Text = text
	return result
}

// maliciousCode patterns are scanned inside fenced code blocks only. A hit
// flags the result unsafe but never rewrites the code.
var maliciousCode = []struct {
	label string
	re    *regexp.Regexp
}{
	{"destructive shell command", regexp.MustCompile(`\brm\s+-rf?\b`)},
	{"dynamic code evaluation", regexp.MustCompile(`\beval\s*\(`)},
	{"dynamic code execution", regexp.MustCompile(`\bexec\s*\(`)},
	{"subprocess invocation", regexp.MustCompile(`\bsubprocess\.\w+`)},
	{"dynamic import", regexp.MustCompile(`\b__import__\s*\(`)},
	{"sql ddl statement", regexp.MustCompile(`(?i)\b(drop\s+table|truncate\s+table|alter\s+table|delete\s+from)\b`)},
}

var fencedBlockRe = regexp.MustCompile("(?s)```.*?```")

func scanFencedCode(text string) []string {
	var warnings []string
	for _, block := range fencedBlockRe.FindAllString(text, -1) {
		for _, m := range maliciousCode {
			if m.re.MatchString(block) {
				warnings = append(warnings, m.label)
			}
		}
	}
	return dedupe(warnings)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ContainsZeroWidth reports whether text still carries invisible runes.
// Used by tests and by callers double-checking sanitization held.
func ContainsZeroWidth(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool { return invisibleRunes[r] }) >= 0
}
