package queen

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/hivemind/board"
	"github.com/c360studio/hivemind/config"
	"github.com/c360studio/hivemind/proposal"
)

const pingHandlerCode = `def ping():
    return "pong"
`

// flakyRunner fails the first n runs and passes afterwards.
type flakyRunner struct {
	failFirst int
	calls     int
}

func (r *flakyRunner) RunTests(_ context.Context, _ string, _ *proposal.Proposal) (proposal.TestOutcome, error) {
	r.calls++
	if r.calls <= r.failFirst {
		return proposal.TestOutcome{Passed: false, Output: "AssertionError: expected pong"}, nil
	}
	return proposal.TestOutcome{Passed: true}, nil
}

// echoFixer returns the proposal unchanged with a note, counting calls.
type echoFixer struct {
	calls int
}

func (f *echoFixer) Fix(_ context.Context, req proposal.FixRequest) (proposal.FixResponse, error) {
	f.calls++
	return proposal.FixResponse{Proposal: req.Proposal, Note: "retried"}, nil
}

func newProposalQueen(t *testing.T, opts ...Option) *Queen {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Bus.Backend = config.BackendMemory
	cfg.Proposal.SandboxRoot = t.TempDir()
	q, err := New(context.Background(), cfg, slog.Default(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func draftProposal() *proposal.Proposal {
	return &proposal.Proposal{
		Title:     "add ping handler",
		Files:     []proposal.FileChange{{Path: "svc/ping.py", Action: proposal.ActionCreate, Code: pingHandlerCode}},
		CreatedBy: "planner",
	}
}

func TestProposalLifecycleThroughQueen(t *testing.T) {
	ctx := context.Background()
	q := newProposalQueen(t, WithTestRunner(&flakyRunner{}))

	id := q.SubmitProposal(draftProposal())
	p, err := q.RunProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusReady, p.Status)

	require.NoError(t, q.ApproveProposal(id))
	require.NoError(t, q.DeployProposal(ctx, id))

	p, ok := q.Proposal(id)
	require.True(t, ok)
	assert.Equal(t, proposal.StatusDeployed, p.Status)

	// deployment is announced on the board
	posts, err := q.Board().QueryPosts(ctx, board.Query{Category: "operations"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Title, "add ping handler")
}

func TestProposalFixLoopThroughQueen(t *testing.T) {
	runner := &flakyRunner{failFirst: 1}
	fixer := &echoFixer{}
	q := newProposalQueen(t, WithTestRunner(runner), WithFixer(fixer))

	id := q.SubmitProposal(draftProposal())
	p, err := q.RunProposal(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, proposal.StatusReady, p.Status)
	assert.Equal(t, 2, p.AttemptCount)
	assert.Equal(t, 1, fixer.calls)
	require.Len(t, p.FixHistory, 1)
	assert.Equal(t, "retried", p.FixHistory[0].FixNote)
}

func TestRejectProposalThroughQueen(t *testing.T) {
	q := newProposalQueen(t, WithTestRunner(&flakyRunner{}))

	id := q.SubmitProposal(draftProposal())
	_, err := q.RunProposal(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, q.RejectProposal(id, "too risky for this release"))
	p, ok := q.Proposal(id)
	require.True(t, ok)
	assert.Equal(t, proposal.StatusRejected, p.Status)

	// terminal proposals stay rejected
	assert.Error(t, q.ApproveProposal(id))
}

func TestProposalEngineWiredByDefault(t *testing.T) {
	q := newProposalQueen(t)

	// a path outside the allow-list fails validation; without a fixer the
	// engine rejects on the first attempt instead of panicking
	id := q.SubmitProposal(&proposal.Proposal{
		Title:     "binary drop",
		Files:     []proposal.FileChange{{Path: "svc/tool.exe", Action: proposal.ActionCreate, Code: "MZ"}},
		CreatedBy: "planner",
	})
	p, err := q.RunProposal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusRejected, p.Status)

	assert.Len(t, q.Proposals(), 1)
}
