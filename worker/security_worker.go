package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/hivemind/llm"
	"github.com/c360studio/hivemind/security"
)

// Security sub-operations.
const (
	OpScan           = "scan"
	OpRiskAssessment = "risk_assessment"
)

// riskLevelScores maps declared risk levels to a [0,100] safety score.
var riskLevelScores = map[string]float64{
	"safe":     95,
	"low":      90,
	"medium":   60,
	"high":     30,
	"critical": 10,
}

// SecurityWorker scores security posture and scans free text for injection
// patterns through the detection gate.
type SecurityWorker struct {
	BaseWorker
}

// NewSecurityWorker creates the security worker.
func NewSecurityWorker(logger *slog.Logger) *SecurityWorker {
	return &SecurityWorker{
		BaseWorker: NewBaseWorker(NameSecurity, []string{"analysis", "security"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *SecurityWorker) Operations() []string {
	return []string{OpEvaluate, OpScan, OpRiskAssessment}
}

// Process executes one security task.
func (w *SecurityWorker) Process(ctx context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(task.Payload)
		case OpScan:
			return w.scan(task.Payload)
		case OpRiskAssessment:
			return w.riskAssessment(ctx, task.Payload)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores the declared risk level from payload.security.risk_level.
func (w *SecurityWorker) evaluate(payload map[string]any) opResult {
	sec, ok := mapField(payload, "security")
	if !ok {
		return opResult{
			data:       map[string]any{"score": 50.0, "basis": "no security signal"},
			confidence: 0.4,
		}
	}
	level, _ := strField(sec, "risk_level")
	score, known := riskLevelScores[level]
	if !known {
		return opResult{err: fmt.Errorf("unknown risk_level %q", level), errKind: KindInvalidInput}
	}
	return opResult{
		data: map[string]any{
			"score":      score,
			"risk_level": level,
		},
		confidence: 0.9,
	}
}

// scan runs the detection gate over arbitrary text and reports the risk
// score and matched pattern families.
func (w *SecurityWorker) scan(payload map[string]any) opResult {
	text, ok := strField(payload, "text")
	if !ok {
		return opResult{err: fmt.Errorf("scan requires a text field"), errKind: KindInvalidInput}
	}

	sanitized := security.Sanitize(text)
	detection := security.Detect(sanitized.Text, sanitized.RemovedRunes)

	return opResult{
		data: map[string]any{
			"score":            clampScore(100 - detection.RiskScore),
			"risk":             detection.RiskScore,
			"matched_patterns": detection.MatchedPatterns,
			"sanitized_text":   sanitized.Text,
		},
		confidence: 0.85,
	}
}

// riskAssessment produces a narrative assessment. When a generator is bound
// the narrative comes from the LLM; otherwise a template summary is used.
func (w *SecurityWorker) riskAssessment(ctx context.Context, payload map[string]any) opResult {
	subject, _ := strField(payload, "subject")
	if subject == "" {
		subject = "overall system posture"
	}

	eval := w.evaluate(payload)
	if eval.err != nil {
		return eval
	}
	score := eval.data["score"].(float64)

	summary := fmt.Sprintf("security assessment for %s: score %.0f/100", subject, score)
	llmUsed := false
	if gen := w.LLM(); gen != nil {
		text, err := gen.Generate(ctx, summary, llm.GenerateOptions{
			System:    "You are a security analyst. Expand the assessment into two sentences.",
			MaxTokens: 200,
		})
		if err != nil {
			w.Logger().Warn("risk assessment narration failed", slog.Any("error", err))
		} else {
			summary = text
			llmUsed = true
		}
	}

	return opResult{
		data: map[string]any{
			"score":      score,
			"assessment": summary,
		},
		confidence: 0.8,
		llmUsed:    llmUsed,
	}
}
