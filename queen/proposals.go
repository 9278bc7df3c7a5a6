package queen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/hivemind/board"
	"github.com/c360studio/hivemind/proposal"
)

// SubmitProposal registers a draft change-set and returns its ID.
func (q *Queen) SubmitProposal(p *proposal.Proposal) string {
	return q.proposals.Submit(p)
}

// RunProposal drives a proposal through validation, sandbox deployment,
// testing, and the bounded fix loop. It blocks until the proposal is ready
// or rejected.
func (q *Queen) RunProposal(ctx context.Context, id string) (*proposal.Proposal, error) {
	return q.proposals.Run(ctx, id)
}

// ApproveProposal is the admin approval for a ready proposal.
func (q *Queen) ApproveProposal(id string) error {
	return q.proposals.Approve(id)
}

// DeployProposal marks an approved proposal deployed and announces it on the
// knowledge board so workers see the change.
func (q *Queen) DeployProposal(ctx context.Context, id string) error {
	if err := q.proposals.Deploy(id); err != nil {
		return err
	}
	p, ok := q.proposals.Get(id)
	if !ok {
		return fmt.Errorf("unknown proposal %q", id)
	}
	if _, err := q.board.Post(ctx, "queen", "operations",
		"proposal deployed: "+p.Title,
		fmt.Sprintf("proposal %s deployed after %d attempts", p.ID, p.AttemptCount),
		board.PostInput{Priority: 2},
	); err != nil {
		q.logger.Warn("deployment announcement failed",
			slog.String("proposal_id", id),
			slog.Any("error", err))
	}
	return nil
}

// RejectProposal is the admin rejection for any non-terminal proposal.
func (q *Queen) RejectProposal(id, reason string) error {
	return q.proposals.Reject(id, reason)
}

// Proposal returns a copy of one proposal.
func (q *Queen) Proposal(id string) (*proposal.Proposal, bool) {
	return q.proposals.Get(id)
}

// Proposals returns copies of every tracked proposal.
func (q *Queen) Proposals() []*proposal.Proposal {
	return q.proposals.List()
}
