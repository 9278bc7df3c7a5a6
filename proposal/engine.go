package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/hivemind/config"
)

// maxRecordedError bounds the error text kept per fix record.
const maxRecordedError = 500

// FixRequest carries everything a fixer needs: the proposal, the failure
// analysis, and the history of prior attempts so repeats are avoided.
type FixRequest struct {
	Proposal  *Proposal
	Category  FailureCategory
	Error     string
	RootCause string
	History   []FixRecord
}

// FixResponse is the fixer's answer: a revised proposal or an unfixable
// declaration.
type FixResponse struct {
	// Proposal is the revised proposal. Nil with Unfixable false means the
	// fixer made no change.
	Proposal *Proposal
	// Unfixable terminates the loop early.
	Unfixable bool
	// Note describes the repair for the fix history.
	Note string
}

// Fixer produces repairs for failed proposals. Implementations may be
// rule-based or LLM-backed; the engine only depends on the contract.
type Fixer interface {
	Fix(ctx context.Context, req FixRequest) (FixResponse, error)
}

// TestOutcome is the result of a sandbox test run.
type TestOutcome struct {
	Passed bool
	Output string
}

// TestRunner executes a proposal's tests inside its sandbox.
type TestRunner interface {
	RunTests(ctx context.Context, sandboxDir string, p *Proposal) (TestOutcome, error)
}

// Engine owns proposals and drives them through the lifecycle.
type Engine struct {
	cfg       config.ProposalConfig
	validator *Validator
	fixer     Fixer
	runner    TestRunner
	logger    *slog.Logger

	mu        sync.RWMutex
	proposals map[string]*Proposal
}

// NewEngine creates a proposal engine.
func NewEngine(cfg config.ProposalConfig, validator *Validator, fixer Fixer, runner TestRunner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFixAttempts < 1 {
		cfg.MaxFixAttempts = 5
	}
	if cfg.SandboxRoot == "" {
		cfg.SandboxRoot = "sandbox"
	}
	return &Engine{
		cfg:       cfg,
		validator: validator,
		fixer:     fixer,
		runner:    runner,
		logger:    logger,
		proposals: make(map[string]*Proposal),
	}
}

// Submit registers a draft proposal and returns its ID.
func (e *Engine) Submit(p *Proposal) string {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = StatusDraft
	p.CreatedAt = time.Now()

	e.mu.Lock()
	e.proposals[p.ID] = p
	e.mu.Unlock()

	e.logger.Info("proposal submitted",
		slog.String("proposal_id", p.ID),
		slog.String("title", p.Title),
		slog.Int("files", len(p.Files)))
	return p.ID
}

// Get returns a copy of the proposal.
func (e *Engine) Get(id string) (*Proposal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.proposals[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// List returns copies of all proposals.
func (e *Engine) List() []*Proposal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, p.Clone())
	}
	return out
}

// Run drives a proposal through validation, sandbox deployment, testing,
// and the bounded fix loop. It returns when the proposal is ready or
// rejected.
func (e *Engine) Run(ctx context.Context, id string) (*Proposal, error) {
	e.mu.Lock()
	p, ok := e.proposals[id]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown proposal %q", id)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.setStatus(p, StatusValidating)
		p.AttemptCount++

		category, failure, failed := e.attempt(ctx, p)
		if !failed {
			e.setStatus(p, StatusReady)
			e.logger.Info("proposal ready",
				slog.String("proposal_id", p.ID),
				slog.Int("attempts", p.AttemptCount))
			return p.Clone(), nil
		}

		record := FixRecord{
			Attempt:   p.AttemptCount,
			Category:  category,
			Error:     truncateError(failure),
			RootCause: RootCause(category),
			At:        time.Now(),
		}

		if p.AttemptCount >= e.cfg.MaxFixAttempts {
			record.FixNote = "attempt budget exhausted"
			p.FixHistory = append(p.FixHistory, record)
			e.setStatus(p, StatusRejected)
			e.logger.Warn("proposal rejected after max attempts",
				slog.String("proposal_id", p.ID),
				slog.Int("attempts", p.AttemptCount))
			return p.Clone(), nil
		}

		if e.fixer == nil {
			record.FixNote = "no fixer configured"
			p.FixHistory = append(p.FixHistory, record)
			e.setStatus(p, StatusRejected)
			e.logger.Warn("proposal rejected, no fixer configured",
				slog.String("proposal_id", p.ID))
			return p.Clone(), nil
		}

		e.setStatus(p, StatusFixing)
		resp, err := e.fixer.Fix(ctx, FixRequest{
			Proposal:  p.Clone(),
			Category:  category,
			Error:     record.Error,
			RootCause: record.RootCause,
			History:   append([]FixRecord(nil), p.FixHistory...),
		})
		if err != nil {
			record.FixNote = "fixer error: " + err.Error()
			p.FixHistory = append(p.FixHistory, record)
			e.setStatus(p, StatusRejected)
			return p.Clone(), nil
		}
		if resp.Unfixable {
			record.Unfixable = true
			record.FixNote = resp.Note
			p.FixHistory = append(p.FixHistory, record)
			e.setStatus(p, StatusRejected)
			e.logger.Warn("proposal declared unfixable",
				slog.String("proposal_id", p.ID),
				slog.String("note", resp.Note))
			return p.Clone(), nil
		}

		record.FixNote = resp.Note
		p.FixHistory = append(p.FixHistory, record)
		if resp.Proposal != nil {
			p.Files = resp.Proposal.Files
		}
	}
}

// attempt runs one validate-deploy-test cycle. It returns the failure
// category and output when the cycle failed.
func (e *Engine) attempt(ctx context.Context, p *Proposal) (FailureCategory, string, bool) {
	if notes := AutoFix(p); len(notes) > 0 {
		e.logger.Debug("auto-fixes applied",
			slog.String("proposal_id", p.ID),
			slog.Any("fixes", notes))
	}

	if issues := e.validator.Validate(ctx, p); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, issue := range issues {
			msgs[i] = issue.String()
		}
		return issues[0].Category, strings.Join(msgs, "\n"), true
	}

	dir, err := e.deploy(p)
	if err != nil {
		return FailFileMissing, err.Error(), true
	}

	if e.runner == nil {
		// validation-only mode: no sandbox test harness wired
		return "", "", false
	}

	e.setStatus(p, StatusTesting)
	outcome, err := e.runner.RunTests(ctx, dir, p)
	if err != nil {
		return FailUnknown, err.Error(), true
	}
	if !outcome.Passed {
		return Categorize(outcome.Output), outcome.Output, true
	}
	return "", "", false
}

// deploy writes the proposal's files into its sandbox. Writes outside the
// sandbox root are forbidden.
func (e *Engine) deploy(p *Proposal) (string, error) {
	dir := filepath.Join(e.cfg.SandboxRoot, p.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}

	for _, f := range p.Files {
		target := filepath.Join(dir, filepath.FromSlash(f.Path))
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(dir)+string(filepath.Separator)) {
			return "", fmt.Errorf("file %q escapes the sandbox", f.Path)
		}
		switch f.Action {
		case ActionDelete:
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return "", fmt.Errorf("delete %s: %w", f.Path, err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", fmt.Errorf("create dirs for %s: %w", f.Path, err)
			}
			if err := os.WriteFile(target, []byte(f.Code), 0o644); err != nil {
				return "", fmt.Errorf("write %s: %w", f.Path, err)
			}
		}
	}
	return dir, nil
}

// Approve moves a ready proposal to approved.
func (e *Engine) Approve(id string) error {
	return e.transition(id, StatusReady, StatusApproved)
}

// Deploy marks an approved proposal deployed. Promotion to production paths
// is an explicit operator action outside this engine.
func (e *Engine) Deploy(id string) error {
	return e.transition(id, StatusApproved, StatusDeployed)
}

// Reject is the admin rejection for any non-terminal proposal.
func (e *Engine) Reject(id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[id]
	if !ok {
		return fmt.Errorf("unknown proposal %q", id)
	}
	if p.Status == StatusDeployed || p.Status == StatusRejected {
		return fmt.Errorf("proposal %q is already terminal (%s)", id, p.Status)
	}
	p.Status = StatusRejected
	p.FixHistory = append(p.FixHistory, FixRecord{
		Attempt: p.AttemptCount,
		FixNote: "admin rejection: " + reason,
		At:      time.Now(),
	})
	return nil
}

func (e *Engine) transition(id string, from, to Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[id]
	if !ok {
		return fmt.Errorf("unknown proposal %q", id)
	}
	if p.Status != from {
		return fmt.Errorf("proposal %q is %s, want %s", id, p.Status, from)
	}
	p.Status = to
	return nil
}

func (e *Engine) setStatus(p *Proposal, status Status) {
	e.mu.Lock()
	p.Status = status
	e.mu.Unlock()
}

func truncateError(s string) string {
	if len(s) <= maxRecordedError {
		return s
	}
	return s[:maxRecordedError] + "..."
}
