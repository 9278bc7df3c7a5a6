// Package proposal implements the change-proposal lifecycle: validation with
// rule-based auto-fixes, sandbox deployment, test execution, and a bounded
// fix loop that either converges or rejects.
package proposal

import (
	"time"
)

// Status is a proposal lifecycle state.
type Status string

// Proposal statuses.
const (
	StatusDraft      Status = "draft"
	StatusValidating Status = "validating"
	StatusTesting    Status = "testing"
	StatusFixing     Status = "fixing"
	StatusReady      Status = "ready"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDeployed   Status = "deployed"
)

// FileAction says what a file change does.
type FileAction string

// File actions.
const (
	ActionCreate FileAction = "create"
	ActionModify FileAction = "modify"
	ActionDelete FileAction = "delete"
)

// FileChange is one file touched by a proposal.
type FileChange struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
	Code   string     `json:"code,omitempty"`
}

// FailureCategory classifies the top error of a failed attempt.
type FailureCategory string

// Failure categories.
const (
	FailImport      FailureCategory = "import_error"
	FailSyntax      FailureCategory = "syntax_error"
	FailIndentation FailureCategory = "indentation_error"
	FailUndefined   FailureCategory = "undefined_error"
	FailType        FailureCategory = "type_error"
	FailAttribute   FailureCategory = "attribute_error"
	FailFileMissing FailureCategory = "file_not_found"
	FailUnknown     FailureCategory = "unknown_error"
)

// FixRecord is one entry in a proposal's fix history: the failure analysis
// for an attempt and what the fixer did about it.
type FixRecord struct {
	Attempt   int             `json:"attempt"`
	Category  FailureCategory `json:"category"`
	Error     string          `json:"error"`
	RootCause string          `json:"root_cause,omitempty"`
	FixNote   string          `json:"fix_note,omitempty"`
	Unfixable bool            `json:"unfixable,omitempty"`
	At        time.Time       `json:"at"`
}

// Proposal is a set of file changes progressing through the lifecycle.
type Proposal struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Files        []FileChange   `json:"files"`
	Priority     int            `json:"priority"`
	RiskLevel    string         `json:"risk_level,omitempty"`
	Status       Status         `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	FixHistory   []FixRecord    `json:"fix_history,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Clone deep-copies the proposal so the fixer can produce a revision without
// mutating the engine's copy.
func (p *Proposal) Clone() *Proposal {
	cp := *p
	cp.Files = make([]FileChange, len(p.Files))
	copy(cp.Files, p.Files)
	cp.FixHistory = make([]FixRecord, len(p.FixHistory))
	copy(cp.FixHistory, p.FixHistory)
	if p.Metadata != nil {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
