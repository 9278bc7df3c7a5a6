package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/hivemind/config"
)

// Decision is the Gate 3 verdict for an input.
type Decision string

// Gate 3 verdicts.
const (
	DecisionAllow      Decision = "ALLOW"
	DecisionQuarantine Decision = "QUARANTINE"
	DecisionBlock      Decision = "BLOCK"
)

// EndpointClass selects the threshold pair for a call site. Critical and
// code-generating endpoints use the tighter thresholds.
type EndpointClass string

// Endpoint classes.
const (
	EndpointStandard      EndpointClass = "standard"
	EndpointCritical      EndpointClass = "critical"
	EndpointGeneratesCode EndpointClass = "generates_code"
)

// Persistent-block triggers outside a single call.
const (
	blockCountLimit = 5
	emaBlockLimit   = 85
)

// Verdict is the full pipeline result for an input.
type Verdict struct {
	Decision        Decision                   `json:"decision"`
	RiskScore       float64                    `json:"risk_score"`
	SanitizedText   string                     `json:"sanitized_text"`
	MatchedPatterns map[PatternFamily][]string `json:"matched_patterns,omitempty"`
	Reasoning       string                     `json:"reasoning"`
}

// QuarantineItem holds a deferred input for human review.
type QuarantineItem struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	RiskScore float64   `json:"risk_score"`
	Endpoint  string    `json:"endpoint"`
	Reasoning string    `json:"reasoning"`
	Timestamp time.Time `json:"timestamp"`
}

// quarantineCap bounds the review ring buffer.
const quarantineCap = 100

// ContextStore optionally persists contexts for cross-instance sharing.
// Contexts are process-scoped unless an operator wires a store.
type ContextStore interface {
	SaveContext(ctx context.Context, userID string, data []byte) error
}

// Pipeline runs the four security gates.
type Pipeline struct {
	logger *slog.Logger
	store  *contextStore
	shared ContextStore

	// cmu guards cfg: thresholds are runtime-tunable via UpdateConfig.
	cmu sync.RWMutex
	cfg config.SecurityConfig

	qmu        sync.Mutex
	quarantine []QuarantineItem
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithContextStore enables best-effort context persistence to the bus backend.
func WithContextStore(store ContextStore) PipelineOption {
	return func(p *Pipeline) { p.shared = store }
}

// NewPipeline creates a security pipeline.
func NewPipeline(cfg config.SecurityConfig, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withThresholdDefaults(cfg)
	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		store:  newContextStore(cfg.ContextIdleTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate runs Gates 1-3 for a natural-language input. The pipeline is
// fail-closed: any internal failure yields BLOCK.
func (p *Pipeline) Evaluate(ctx context.Context, userID, input string, endpoint EndpointClass) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Security pipeline failure, failing closed", slog.Any("panic", r))
			verdict = Verdict{
				Decision:  DecisionBlock,
				RiskScore: maxRisk,
				Reasoning: "pipeline failure",
			}
		}
	}()

	sanitized := Sanitize(input)

	if sanitized.Text == "" && sanitized.RemovedRunes == 0 {
		return Verdict{
			Decision:      DecisionAllow,
			RiskScore:     0,
			SanitizedText: "",
			Reasoning:     "empty input",
		}
	}

	detection := Detect(sanitized.Text, sanitized.RemovedRunes)

	verdict = p.decide(userID, input, sanitized.Text, detection, endpoint)

	if p.shared != nil {
		p.persistContext(ctx, userID)
	}
	return verdict
}

// decide is Gate 3: fold the score into the user context and apply the
// threshold and override rules.
func (p *Pipeline) decide(userID, original, sanitized string, detection DetectResult, endpoint EndpointClass) Verdict {
	blockAt, quarantineAt := p.thresholds(endpoint)
	now := time.Now().UTC()

	var verdict Verdict
	p.store.withContext(userID, func(sctx *Context) {
		if sctx.Blocked {
			verdict = Verdict{
				Decision:        DecisionBlock,
				RiskScore:       detection.RiskScore,
				SanitizedText:   sanitized,
				MatchedPatterns: detection.MatchedPatterns,
				Reasoning:       "user is blocked: " + sctx.BlockReason,
			}
			sctx.record(detection.RiskScore, DecisionBlock, string(endpoint), now)
			return
		}

		decision := DecisionAllow
		reason := "risk below thresholds"
		switch {
		case detection.RiskScore >= blockAt:
			decision = DecisionBlock
			reason = fmt.Sprintf("risk %.1f >= block threshold %.1f", detection.RiskScore, blockAt)
		case detection.RiskScore >= quarantineAt:
			decision = DecisionQuarantine
			reason = fmt.Sprintf("risk %.1f >= quarantine threshold %.1f", detection.RiskScore, quarantineAt)
		}

		// Context overrides: history can harden the verdict, never soften it.
		if sctx.ThreatLevel == ThreatCritical {
			decision = DecisionBlock
			reason = "threat level critical"
		} else if sctx.ThreatLevel == ThreatHigh && detection.RiskScore > 30 && decision == DecisionAllow {
			decision = DecisionQuarantine
			reason = "threat level high with elevated score"
		}

		sctx.record(detection.RiskScore, decision, string(endpoint), now)

		switch decision {
		case DecisionBlock:
			sctx.Blocks++
			sctx.Warnings++
		case DecisionQuarantine:
			sctx.Warnings++
		}

		if sctx.escalating(now) {
			sctx.EscalationDetected = true
		}

		// Persistent block conditions evaluated outside the single call.
		if !sctx.Blocked {
			switch {
			case sctx.Blocks > blockCountLimit:
				sctx.Blocked = true
				sctx.BlockReason = fmt.Sprintf("block count %d exceeded limit", sctx.Blocks)
			case sctx.CumulativeRisk > emaBlockLimit:
				sctx.Blocked = true
				sctx.BlockReason = fmt.Sprintf("cumulative risk %.1f exceeded limit", sctx.CumulativeRisk)
			case sctx.EscalationDetected:
				sctx.Blocked = true
				sctx.BlockReason = "escalation pattern detected"
			}
			if sctx.Blocked {
				p.logger.Warn("User blocked",
					slog.String("user", userID),
					slog.String("reason", sctx.BlockReason))
			}
		}

		verdict = Verdict{
			Decision:        decision,
			RiskScore:       detection.RiskScore,
			SanitizedText:   sanitized,
			MatchedPatterns: detection.MatchedPatterns,
			Reasoning:       reason,
		}
	})

	metricGateDecisions.WithLabelValues(string(verdict.Decision)).Inc()

	if verdict.Decision == DecisionQuarantine {
		p.enqueueQuarantine(QuarantineItem{
			UserID:    userID,
			Text:      original,
			RiskScore: detection.RiskScore,
			Endpoint:  string(endpoint),
			Reasoning: verdict.Reasoning,
			Timestamp: now,
		})
	}
	return verdict
}

func (p *Pipeline) thresholds(endpoint EndpointClass) (block, quarantine float64) {
	p.cmu.RLock()
	defer p.cmu.RUnlock()
	if endpoint == EndpointCritical || endpoint == EndpointGeneratesCode {
		return p.cfg.CriticalBlockThreshold, p.cfg.CriticalQuarantineThreshold
	}
	return p.cfg.BlockThreshold, p.cfg.QuarantineThreshold
}

// UpdateConfig swaps the runtime-tunable thresholds. The context store and
// pattern tables are fixed at construction; in-flight evaluations finish
// under whichever thresholds they read.
func (p *Pipeline) UpdateConfig(cfg config.SecurityConfig) {
	cfg = withThresholdDefaults(cfg)
	p.cmu.Lock()
	p.cfg = cfg
	p.cmu.Unlock()
	p.logger.Info("security thresholds updated",
		slog.Float64("block", cfg.BlockThreshold),
		slog.Float64("quarantine", cfg.QuarantineThreshold),
		slog.Float64("critical_block", cfg.CriticalBlockThreshold),
		slog.Float64("critical_quarantine", cfg.CriticalQuarantineThreshold))
}

// withThresholdDefaults fills unset thresholds.
func withThresholdDefaults(cfg config.SecurityConfig) config.SecurityConfig {
	if cfg.BlockThreshold == 0 {
		cfg.BlockThreshold = 70
	}
	if cfg.QuarantineThreshold == 0 {
		cfg.QuarantineThreshold = 50
	}
	if cfg.CriticalBlockThreshold == 0 {
		cfg.CriticalBlockThreshold = 30
	}
	if cfg.CriticalQuarantineThreshold == 0 {
		cfg.CriticalQuarantineThreshold = 20
	}
	return cfg
}

func (p *Pipeline) enqueueQuarantine(item QuarantineItem) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	p.quarantine = append(p.quarantine, item)
	if len(p.quarantine) > quarantineCap {
		p.quarantine = p.quarantine[len(p.quarantine)-quarantineCap:]
	}
}

// Quarantined returns the held items, oldest first, for human review.
// There is no automatic admit from quarantine.
func (p *Pipeline) Quarantined() []QuarantineItem {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	out := make([]QuarantineItem, len(p.quarantine))
	copy(out, p.quarantine)
	return out
}

// UserContext returns a snapshot of a user's security context.
func (p *Pipeline) UserContext(userID string) (Context, bool) {
	return p.store.get(userID)
}

// Unblock clears a persistent user block. Admin-only; blocks never expire on
// their own.
func (p *Pipeline) Unblock(userID string) bool {
	var had bool
	p.store.withContext(userID, func(sctx *Context) {
		had = sctx.Blocked
		// Reset the whole slate: leftover scores would trip the escalation
		// and threat-level rules again on the very next call.
		sctx.Blocked = false
		sctx.BlockReason = ""
		sctx.EscalationDetected = false
		sctx.Blocks = 0
		sctx.Warnings = 0
		sctx.CumulativeRisk = 0
		sctx.ThreatLevel = ThreatSafe
		sctx.RecentScores = nil
		sctx.Events = nil
	})
	if had {
		p.logger.Info("User unblocked", slog.String("user", userID))
	}
	return had
}

func (p *Pipeline) persistContext(ctx context.Context, userID string) {
	sctx, ok := p.store.get(userID)
	if !ok {
		return
	}
	data, err := json.Marshal(sctx)
	if err != nil {
		return
	}
	if err := p.shared.SaveContext(ctx, userID, data); err != nil {
		p.logger.Debug("Context share failed", slog.String("user", userID), slog.String("error", err.Error()))
	}
}
