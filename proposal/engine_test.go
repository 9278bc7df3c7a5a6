package proposal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/hivemind/config"
)

type stubFixer struct {
	fn func(req FixRequest) FixResponse
}

func (s stubFixer) Fix(_ context.Context, req FixRequest) (FixResponse, error) {
	return s.fn(req), nil
}

type stubRunner struct {
	fn func(p *Proposal) TestOutcome
}

func (s stubRunner) RunTests(_ context.Context, _ string, p *Proposal) (TestOutcome, error) {
	return s.fn(p), nil
}

func passingRunner() TestRunner {
	return stubRunner{fn: func(*Proposal) TestOutcome { return TestOutcome{Passed: true} }}
}

func newTestEngine(t *testing.T, fixer Fixer, runner TestRunner) *Engine {
	t.Helper()
	cfg := config.ProposalConfig{
		MaxFixAttempts: 5,
		SandboxRoot:    t.TempDir(),
	}
	validator := NewValidator(Manifest{Packages: map[string]bool{
		"psycopg2": true,
		"asyncpg":  true,
		"aiohttp":  true,
	}})
	return NewEngine(cfg, validator, fixer, runner, slog.Default())
}

const blockingCacheCode = `import psycopg2

async def refresh(key):
    conn = psycopg2.connect("dsn")
    return conn
`

const fixedCacheCode = `import asyncpg

async def refresh(key):
    conn = await asyncpg.connect("dsn")
    return conn
`

func TestRun_AutoFixConvergesInTwoAttempts(t *testing.T) {
	fixer := stubFixer{fn: func(req FixRequest) FixResponse {
		require.Equal(t, FailImport, req.Category)
		revised := req.Proposal.Clone()
		revised.Files[0].Code = fixedCacheCode
		return FixResponse{Proposal: revised, Note: "swapped psycopg2 for asyncpg"}
	}}
	e := newTestEngine(t, fixer, passingRunner())

	id := e.Submit(&Proposal{
		Title:     "async cache refresh",
		Files:     []FileChange{{Path: "svc/cache.py", Action: ActionModify, Code: blockingCacheCode}},
		CreatedBy: "planner",
	})

	p, err := e.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, p.Status)
	assert.Equal(t, 2, p.AttemptCount)
	require.Len(t, p.FixHistory, 1)
	assert.Equal(t, FailImport, p.FixHistory[0].Category)

	require.NoError(t, e.Approve(id))
	require.NoError(t, e.Deploy(id))
	p, ok := e.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusDeployed, p.Status)
	assert.Equal(t, 2, p.AttemptCount)
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	fixer := stubFixer{fn: func(req FixRequest) FixResponse {
		// Each repair claims progress but the tests keep failing.
		return FixResponse{Proposal: req.Proposal, Note: "retry"}
	}}
	runner := stubRunner{fn: func(*Proposal) TestOutcome {
		return TestOutcome{Passed: false, Output: "something exploded"}
	}}
	e := newTestEngine(t, fixer, runner)

	id := e.Submit(&Proposal{
		Title:     "doomed change",
		Files:     []FileChange{{Path: "svc/doomed.py", Action: ActionCreate, Code: "x = 1\n"}},
		CreatedBy: "planner",
	})

	p, err := e.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, p.Status)
	assert.Equal(t, 5, p.AttemptCount)
	require.Len(t, p.FixHistory, 5)
	for _, record := range p.FixHistory {
		assert.Equal(t, FailUnknown, record.Category)
	}
}

func TestRun_UnfixableTerminatesEarly(t *testing.T) {
	fixer := stubFixer{fn: func(FixRequest) FixResponse {
		return FixResponse{Unfixable: true, Note: "dependency does not exist"}
	}}
	runner := stubRunner{fn: func(*Proposal) TestOutcome {
		return TestOutcome{Passed: false, Output: "ModuleNotFoundError: no module named ghost"}
	}}
	e := newTestEngine(t, fixer, runner)

	id := e.Submit(&Proposal{
		Title:     "missing dependency",
		Files:     []FileChange{{Path: "svc/ghost.py", Action: ActionCreate, Code: "x = 1\n"}},
		CreatedBy: "planner",
	})

	p, err := e.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, p.Status)
	assert.Equal(t, 1, p.AttemptCount)
	require.Len(t, p.FixHistory, 1)
	assert.True(t, p.FixHistory[0].Unfixable)
	assert.Equal(t, FailImport, p.FixHistory[0].Category)
}

func TestRun_FixHistoryCarriedToFixer(t *testing.T) {
	var seenHistory []int
	fixer := stubFixer{fn: func(req FixRequest) FixResponse {
		seenHistory = append(seenHistory, len(req.History))
		return FixResponse{Proposal: req.Proposal, Note: "retry"}
	}}
	runner := stubRunner{fn: func(*Proposal) TestOutcome {
		return TestOutcome{Passed: false, Output: "TypeError: bad"}
	}}
	e := newTestEngine(t, fixer, runner)

	id := e.Submit(&Proposal{
		Title:     "history check",
		Files:     []FileChange{{Path: "a.py", Action: ActionCreate, Code: "x = 1\n"}},
		CreatedBy: "planner",
	})
	_, err := e.Run(context.Background(), id)
	require.NoError(t, err)

	// The fixer sees the prior attempts so repeats can be avoided.
	assert.Equal(t, []int{0, 1, 2, 3}, seenHistory)
}

func TestAdminReject(t *testing.T) {
	e := newTestEngine(t, stubFixer{fn: func(FixRequest) FixResponse { return FixResponse{} }}, passingRunner())

	id := e.Submit(&Proposal{
		Title:     "fine but unwanted",
		Files:     []FileChange{{Path: "a.py", Action: ActionCreate, Code: "x = 1\n"}},
		CreatedBy: "planner",
	})
	p, err := e.Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusReady, p.Status)

	require.NoError(t, e.Reject(id, "not aligned with roadmap"))
	p, _ = e.Get(id)
	assert.Equal(t, StatusRejected, p.Status)

	// Terminal proposals cannot be rejected again.
	assert.Error(t, e.Reject(id, "twice"))
}

func TestTransitionGuards(t *testing.T) {
	e := newTestEngine(t, stubFixer{fn: func(FixRequest) FixResponse { return FixResponse{} }}, passingRunner())

	id := e.Submit(&Proposal{
		Title:     "guarded",
		Files:     []FileChange{{Path: "a.py", Action: ActionCreate, Code: "x = 1\n"}},
		CreatedBy: "planner",
	})

	// Draft proposals cannot be approved or deployed.
	assert.Error(t, e.Approve(id))
	assert.Error(t, e.Deploy(id))
	assert.Error(t, e.Approve("nonexistent"))
}

func TestRun_SandboxDeployWritesFiles(t *testing.T) {
	var sandboxDir string
	runner := stubRunner{fn: func(*Proposal) TestOutcome { return TestOutcome{Passed: true} }}
	e := newTestEngine(t, stubFixer{fn: func(FixRequest) FixResponse { return FixResponse{} }}, runner)

	id := e.Submit(&Proposal{
		Title:     "writes files",
		Files:     []FileChange{{Path: "pkg/mod.py", Action: ActionCreate, Code: "x = 1\n"}},
		CreatedBy: "planner",
	})
	_, err := e.Run(context.Background(), id)
	require.NoError(t, err)

	sandboxDir = e.cfg.SandboxRoot
	data, err := os.ReadFile(filepath.Join(sandboxDir, id, "pkg", "mod.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(data))
}

func TestTruncateError(t *testing.T) {
	long := strings.Repeat("e", maxRecordedError+100)
	got := truncateError(long)
	assert.Len(t, got, maxRecordedError+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
