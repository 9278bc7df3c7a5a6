package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/hivemind/llm"
)

// fixSystemPrompt constrains the model to a machine-parseable repair.
const fixSystemPrompt = `You repair failed code-change proposals. You receive the proposal files, the failure category, and the test or validation output. Return the complete corrected file set, not a diff.

Respond with JSON only, no prose:
{"files": [{"path": "...", "action": "create|update|delete", "code": "..."}], "unfixable": false, "note": "one line describing the repair"}

Set "unfixable" to true when the failure cannot be repaired by editing the listed files.`

// LLMFixer asks the language model for a repaired file set. It implements
// Fixer; the engine retries through it until the attempt budget runs out.
type LLMFixer struct {
	gen    llm.Generator
	logger *slog.Logger
}

// NewLLMFixer creates a fixer backed by the given generator.
func NewLLMFixer(gen llm.Generator, logger *slog.Logger) *LLMFixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMFixer{gen: gen, logger: logger}
}

// fixReply is the JSON shape the model must answer with.
type fixReply struct {
	Files     []FileChange `json:"files"`
	Unfixable bool         `json:"unfixable"`
	Note      string       `json:"note"`
}

// Fix builds a repair prompt from the failure and parses the model's revised
// file set. A malformed reply is an error; the engine counts it against the
// attempt budget.
func (f *LLMFixer) Fix(ctx context.Context, req FixRequest) (FixResponse, error) {
	raw, err := f.gen.Generate(ctx, buildFixPrompt(req), llm.GenerateOptions{
		System: fixSystemPrompt,
	})
	if err != nil {
		return FixResponse{}, fmt.Errorf("fixer generate: %w", err)
	}

	var reply fixReply
	if err := json.Unmarshal([]byte(stripFences(raw)), &reply); err != nil {
		return FixResponse{}, fmt.Errorf("fixer reply parse: %w", err)
	}
	if reply.Unfixable {
		return FixResponse{Unfixable: true, Note: reply.Note}, nil
	}
	if len(reply.Files) == 0 {
		return FixResponse{Note: reply.Note}, nil
	}

	revised := req.Proposal.Clone()
	revised.Files = reply.Files
	f.logger.Debug("llm fix produced",
		slog.String("proposal_id", req.Proposal.ID),
		slog.Int("files", len(reply.Files)),
		slog.String("note", reply.Note))
	return FixResponse{Proposal: revised, Note: reply.Note}, nil
}

// buildFixPrompt lays out the failure and the current files, newest fix
// attempts last so the model sees what was already tried.
func buildFixPrompt(req FixRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposal: %s\n", req.Proposal.Title)
	fmt.Fprintf(&b, "Failure category: %s\n", req.Category)
	fmt.Fprintf(&b, "Root cause: %s\n", req.RootCause)
	fmt.Fprintf(&b, "Error output:\n%s\n", req.Error)

	if len(req.History) > 0 {
		b.WriteString("\nPrior attempts:\n")
		for _, rec := range req.History {
			fmt.Fprintf(&b, "- attempt %d (%s): %s\n", rec.Attempt, rec.Category, rec.FixNote)
		}
	}

	b.WriteString("\nCurrent files:\n")
	for _, fc := range req.Proposal.Files {
		fmt.Fprintf(&b, "--- %s (%s)\n%s\n", fc.Path, fc.Action, fc.Code)
	}
	return b.String()
}

// stripFences removes a markdown code fence around the reply, if present.
// Models wrap JSON in fences no matter what the system prompt says.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
