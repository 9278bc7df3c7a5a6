// Package consensus folds multiple worker results into a single scored
// decision, counts weighted votes, and resolves contradictory
// recommendations by source priority.
package consensus

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/hivemind/worker"
)

// Action is the decision outcome.
type Action string

// Decision actions.
const (
	ActionApprove Action = "approve"
	ActionReview  Action = "review"
	ActionReject  Action = "reject"
)

// Confidence grades how far the score sits from a decision boundary.
type Confidence string

// Confidence grades.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Decision boundaries on the [0,100] score scale.
const (
	approveThreshold = 70.0
	rejectThreshold  = 50.0
)

// sourceWeights fixes each source's contribution to the final score.
// Sources outside the table carry the floor weight.
var sourceWeights = map[string]float64{
	worker.NameSecurity: 0.30,
	worker.NameMaths:    0.25,
	worker.NameTreasury: 0.20,
	worker.NameData:     0.15,
	worker.NamePattern:  0.10,
}

// defaultSourceWeight applies to sources without a fixed weight.
const defaultSourceWeight = 0.10

// sourcePriority orders sources for conflict resolution, highest first.
var sourcePriority = map[string]int{
	worker.NameSecurity:   7,
	worker.NameMonitoring: 6,
	worker.NameTreasury:   5,
	worker.NameMaths:      4,
	worker.NameBlockchain: 3,
	worker.NamePattern:    2,
	worker.NameData:       1,
}

// Factor is one source's contribution to a decision.
type Factor struct {
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Weight  float64 `json:"weight"`
	Success bool    `json:"success"`
}

// Decision is the engine's output. Decisions are append-only in the
// supervisor's decision log.
type Decision struct {
	Type                  string     `json:"type"`
	Action                Action     `json:"action"`
	Reasoning             string     `json:"reasoning"`
	Confidence            Confidence `json:"confidence"`
	Factors               []Factor   `json:"factors"`
	Score                 float64    `json:"score"`
	Timestamp             time.Time  `json:"timestamp"`
	RequiresHumanApproval bool       `json:"requires_human_approval"`
}

// Engine computes decisions and vote consensus.
type Engine struct {
	logger *slog.Logger
}

// New creates a consensus engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Decide folds per-source results into one decision. Each source
// contributes its [0,100] sub-score; failed results score zero. The final
// score is the weight-normalized average.
func (e *Engine) Decide(decisionType string, inputs map[string]worker.Result) (Decision, error) {
	if len(inputs) == 0 {
		return Decision{}, fmt.Errorf("decide requires at least one input")
	}

	sources := make([]string, 0, len(inputs))
	for source := range inputs {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var weightedSum, totalWeight float64
	factors := make([]Factor, 0, len(sources))
	for _, source := range sources {
		result := inputs[source]
		weight := sourceWeights[source]
		if weight == 0 {
			weight = defaultSourceWeight
		}
		score := result.Score()
		weightedSum += score * weight
		totalWeight += weight
		factors = append(factors, Factor{
			Source:  source,
			Score:   score,
			Weight:  weight,
			Success: result.Success,
		})
	}
	score := weightedSum / totalWeight

	action := ActionReject
	switch {
	case score >= approveThreshold:
		action = ActionApprove
	case score >= rejectThreshold:
		action = ActionReview
	}

	decision := Decision{
		Type:                  decisionType,
		Action:                action,
		Reasoning:             reasoning(action, score, factors),
		Confidence:            confidenceFor(score, action),
		Factors:               factors,
		Score:                 score,
		Timestamp:             time.Now(),
		RequiresHumanApproval: action == ActionReview,
	}

	e.logger.Info("consensus decision",
		slog.String("type", decisionType),
		slog.String("action", string(action)),
		slog.Float64("score", score),
		slog.String("confidence", string(decision.Confidence)))
	return decision, nil
}

// confidenceFor grades distance from the boundary the action crossed.
func confidenceFor(score float64, action Action) Confidence {
	var distance float64
	switch action {
	case ActionApprove:
		distance = score - approveThreshold
	case ActionReject:
		distance = rejectThreshold - score
	default:
		distance = min(score-rejectThreshold, approveThreshold-score)
	}
	switch {
	case distance > 15:
		return ConfidenceHigh
	case distance > 5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func reasoning(action Action, score float64, factors []Factor) string {
	parts := make([]string, 0, len(factors))
	for _, f := range factors {
		if f.Success {
			parts = append(parts, fmt.Sprintf("%s=%.0f", f.Source, f.Score))
		} else {
			parts = append(parts, f.Source+"=failed")
		}
	}
	return fmt.Sprintf("%s at %.1f (%s)", action, score, strings.Join(parts, ", "))
}
