package security

import (
	"regexp"
)

// PatternFamily identifies a category of prompt-injection patterns.
type PatternFamily string

// The six detection families.
const (
	FamilyInstructionOverride PatternFamily = "instruction_override"
	FamilySystemManipulation  PatternFamily = "system_manipulation"
	FamilyJailbreak           PatternFamily = "jailbreak"
	FamilyInfoExtraction      PatternFamily = "info_extraction"
	FamilyContextPoison       PatternFamily = "context_poison"
	FamilyCodeExecution       PatternFamily = "code_execution"
)

// familyWeights is the risk contribution of the first match in each family.
// A second distinct match in the same family adds half the weight again,
// capped at twice the weight.
var familyWeights = map[PatternFamily]float64{
	FamilyCodeExecution:       50,
	FamilyContextPoison:       45,
	FamilyJailbreak:           40,
	FamilyInstructionOverride: 35,
	FamilySystemManipulation:  30,
	FamilyInfoExtraction:      30,
}

// invisibleRuneRisk is added per stripped invisible code point.
const invisibleRuneRisk = 10

// maxRisk clamps the total risk score.
const maxRisk = 100

type pattern struct {
	family PatternFamily
	re     *regexp.Regexp
}

// ci compiles a case-insensitive pattern.
func ci(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + expr)
}

// patterns is scanned against sanitized text. All expressions are
// case-insensitive so mixed-case attack text still matches.
var patterns = []pattern{
	// instruction-override
	{FamilyInstructionOverride, ci(`ignore\s+(all\s+)?(previous|prior|above|earlier)`)},
	{FamilyInstructionOverride, ci(`(previous|prior|above|earlier)\s+(instructions|prompts|rules|directives)`)},
	{FamilyInstructionOverride, ci(`disregard\s+(all\s+)?(previous|prior|your|the)\s+\w*\s*(instructions|rules)?`)},
	{FamilyInstructionOverride, ci(`forget\s+(everything|all|your\s+(instructions|training|rules))`)},
	{FamilyInstructionOverride, ci(`new\s+instructions\s*:`)},

	// system-manipulation
	{FamilySystemManipulation, ci(`you\s+are\s+now`)},
	{FamilySystemManipulation, ci(`act\s+as\s+(if|a|an|my)\b`)},
	{FamilySystemManipulation, ci(`pretend\s+(to\s+be|you\s+are|that)`)},
	{FamilySystemManipulation, ci(`override\s+(safety|security|system|your)`)},
	{FamilySystemManipulation, ci(`from\s+now\s+on\s+you`)},

	// jailbreak
	{FamilyJailbreak, ci(`\bdan\s+mode\b`)},
	{FamilyJailbreak, ci(`\bjailbr[eo]ak`)},
	{FamilyJailbreak, ci(`developer\s+mode`)},
	{FamilyJailbreak, ci(`do\s+anything\s+now`)},
	{FamilyJailbreak, ci(`(no|without)\s+(restrictions|filters|limits|guardrails)`)},
	{FamilyJailbreak, ci(`unfiltered\s+(response|answer|output)`)},

	// info-extraction
	{FamilyInfoExtraction, ci(`reveal\s+(the\s+|your\s+)?(system\s+)?(prompt|instructions)`)},
	{FamilyInfoExtraction, ci(`show\s+(me\s+)?(the\s+|your\s+)(instructions|prompt|rules|configuration)`)},
	{FamilyInfoExtraction, ci(`what\s+(is|are)\s+your\s+(instructions|rules|system\s+prompt)`)},
	{FamilyInfoExtraction, ci(`(print|repeat|output)\s+(your\s+)?(system|initial|original)\s+prompt`)},
	{FamilyInfoExtraction, ci(`(api|secret)\s*keys?\b`)},

	// context-poison: chat-transcript delimiters injected into user text
	{FamilyContextPoison, ci(`<\|im_(start|end)\|>`)},
	{FamilyContextPoison, ci(`\[/?(system|inst|assistant)\]`)},
	{FamilyContextPoison, ci(`(^|\n)\s*###?\s*(system|assistant|instruction)\s*:`)},
	{FamilyContextPoison, ci(`(^|\n)\s*(system|assistant)\s*:\s`)},
	{FamilyContextPoison, ci(`\n\s*(human|assistant)\s*:\s`)},

	// code-execution
	{FamilyCodeExecution, ci(`\beval\s*\(`)},
	{FamilyCodeExecution, ci(`\bexec\s*\(`)},
	{FamilyCodeExecution, ci(`\b__import__\s*\(`)},
	{FamilyCodeExecution, ci(`\bos\.system\b`)},
	{FamilyCodeExecution, ci(`\bsubprocess\.`)},
	{FamilyCodeExecution, ci(`rm\s+-rf?\b`)},
	{FamilyCodeExecution, ci("`[^`]*\\b(rm|curl|wget|bash|sh)\\b[^`]*`")},
}

// DetectResult is the Gate 2 output.
type DetectResult struct {
	// RiskScore is the clamped total risk in [0, 100].
	RiskScore float64
	// MatchedPatterns lists the matched expressions, grouped by family.
	MatchedPatterns map[PatternFamily][]string
	// InvisibleRunes echoes the strip count from sanitization.
	InvisibleRunes int
}

// Detect scans sanitized text against the six pattern families and returns
// the aggregate risk. invisibleRunes is the strip count from Gate 1.
func Detect(sanitized string, invisibleRunes int) DetectResult {
	matched := make(map[PatternFamily][]string)
	for _, p := range patterns {
		if p.re.MatchString(sanitized) {
			matched[p.family] = append(matched[p.family], p.re.String())
		}
	}

	risk := float64(invisibleRunes) * invisibleRuneRisk
	for family, hits := range matched {
		weight := familyWeights[family]
		contribution := weight + 0.5*weight*float64(len(hits)-1)
		if contribution > 2*weight {
			contribution = 2 * weight
		}
		risk += contribution
	}
	if risk > maxRisk {
		risk = maxRisk
	}

	return DetectResult{
		RiskScore:       risk,
		MatchedPatterns: matched,
		InvisibleRunes:  invisibleRunes,
	}
}
