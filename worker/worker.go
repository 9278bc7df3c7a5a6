package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/hivemind/board"
	"github.com/c360studio/hivemind/bus"
	"github.com/c360studio/hivemind/llm"
)

// Status is the derived operational state of a worker. It is computed from
// the counters, never stored.
type Status string

// Worker statuses.
const (
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// activeWindow is how recently a successful task must have completed for a
// worker to report active rather than idle.
const activeWindow = 10 * time.Second

// degradedErrorRate is the error-rate threshold over the recent-outcome
// window above which a worker reports degraded.
const degradedErrorRate = 0.20

// outcomeWindow is the number of recent outcomes kept for the error rate.
const outcomeWindow = 100

// Worker is a named unit implementing one Process operation over a closed
// set of task types.
type Worker interface {
	// Name returns the unique worker name.
	Name() string
	// Capabilities returns the capability tags this worker serves.
	Capabilities() []string
	// Operations returns the closed set of task types this worker accepts.
	Operations() []string
	// Process executes one task. Failures are encoded in the Result, not
	// returned as errors.
	Process(ctx context.Context, task Task) Result
}

// PeerResolver resolves peer workers by name at call time. The registry is
// the single arbiter of worker identity; workers never hold direct peer
// references.
type PeerResolver interface {
	Peer(name string) (Worker, bool)
}

// Stats is a point-in-time snapshot of a worker's counters.
type Stats struct {
	Name         string    `json:"name"`
	TaskCount    int64     `json:"task_count"`
	SuccessCount int64     `json:"success_count"`
	ErrorCount   int64     `json:"error_count"`
	LastTaskAt   time.Time `json:"last_task_at"`
	Status       Status    `json:"status"`
}

// BaseWorker carries the counters, status derivation, and bound
// collaborators shared by every concrete worker.
type BaseWorker struct {
	name         string
	capabilities []string

	taskCount    atomic.Int64
	successCount atomic.Int64
	errorCount   atomic.Int64
	lastTaskAt   atomic.Int64 // unix nanos of last completion
	lastFailed   atomic.Bool
	inFlight     atomic.Int32

	// recent is a ring of the last outcomeWindow outcomes for the error rate.
	recentMu  sync.Mutex
	recent    [outcomeWindow]bool // true = failure
	recentLen int
	recentPos int

	logger *slog.Logger
	llm    llm.Generator
	bus    bus.Bus
	board  *board.Board
	peers  PeerResolver
}

// NewBaseWorker creates the shared worker base.
func NewBaseWorker(name string, capabilities []string, logger *slog.Logger) BaseWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return BaseWorker{
		name:         name,
		capabilities: capabilities,
		logger:       logger.With(slog.String("worker", name)),
	}
}

// Name returns the worker name.
func (b *BaseWorker) Name() string { return b.name }

// Capabilities returns the capability tags.
func (b *BaseWorker) Capabilities() []string { return b.capabilities }

// BindLLM attaches a text generator.
func (b *BaseWorker) BindLLM(g llm.Generator) { b.llm = g }

// BindBus attaches the message bus.
func (b *BaseWorker) BindBus(mb bus.Bus) { b.bus = mb }

// BindBoard attaches the knowledge board.
func (b *BaseWorker) BindBoard(kb *board.Board) { b.board = kb }

// BindPeers attaches the peer resolver used during the wiring pass.
func (b *BaseWorker) BindPeers(r PeerResolver) { b.peers = r }

// LLM returns the bound generator, nil when none was bound.
func (b *BaseWorker) LLM() llm.Generator { return b.llm }

// Bus returns the bound message bus.
func (b *BaseWorker) Bus() bus.Bus { return b.bus }

// Board returns the bound knowledge board.
func (b *BaseWorker) Board() *board.Board { return b.board }

// Peer resolves a wired peer by name through the registry.
func (b *BaseWorker) Peer(name string) (Worker, bool) {
	if b.peers == nil {
		return nil, false
	}
	return b.peers.Peer(name)
}

// Logger returns the worker-scoped logger.
func (b *BaseWorker) Logger() *slog.Logger { return b.logger }

// opResult is what a sub-operation hands back to Run.
type opResult struct {
	data       map[string]any
	confidence float64
	llmUsed    bool
	err        error
	errKind    ErrorKind
}

// Run executes a sub-operation with counter bookkeeping and converts its
// outcome to a Result. Panics become internal-error results so a broken
// invariant in one worker never takes down the registry.
func (b *BaseWorker) Run(task Task, fn func() opResult) (result Result) {
	b.inFlight.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("worker panic",
				slog.String("task_id", task.ID),
				slog.String("task_type", task.Type),
				slog.Any("panic", r))
			// Opaque message: panic values can embed user input.
			result = b.finish(task, start, opResult{
				err:     errors.New("internal error"),
				errKind: KindInternal,
			})
		}
	}()

	return b.finish(task, start, fn())
}

func (b *BaseWorker) finish(task Task, start time.Time, op opResult) Result {
	b.inFlight.Add(-1)
	b.taskCount.Add(1)
	b.lastTaskAt.Store(time.Now().UnixNano())

	failed := op.err != nil
	b.lastFailed.Store(failed)
	b.recordOutcome(failed)

	result := Result{
		TaskID:     task.ID,
		WorkerName: b.name,
		Duration:   time.Since(start),
		LLMUsed:    op.llmUsed,
		Confidence: op.confidence,
	}
	if failed {
		b.errorCount.Add(1)
		kind := op.errKind
		if kind == "" {
			kind = KindInternal
		}
		result.Error = op.err.Error()
		result.ErrorKind = kind
		tasksTotal.WithLabelValues(b.name, "error").Inc()
		return result
	}

	b.successCount.Add(1)
	result.Success = true
	result.Data = op.data
	tasksTotal.WithLabelValues(b.name, "success").Inc()
	taskDuration.WithLabelValues(b.name).Observe(result.Duration.Seconds())
	return result
}

func (b *BaseWorker) recordOutcome(failed bool) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	b.recent[b.recentPos] = failed
	b.recentPos = (b.recentPos + 1) % outcomeWindow
	if b.recentLen < outcomeWindow {
		b.recentLen++
	}
}

func (b *BaseWorker) errorRate() float64 {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	if b.recentLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.recentLen; i++ {
		if b.recent[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.recentLen)
}

// Status derives the worker state from its counters.
func (b *BaseWorker) Status() Status {
	switch {
	case b.inFlight.Load() > 0:
		return StatusBusy
	case b.taskCount.Load() == 0:
		return StatusIdle
	case b.lastFailed.Load():
		return StatusError
	case b.errorRate() > degradedErrorRate:
		return StatusDegraded
	case time.Since(time.Unix(0, b.lastTaskAt.Load())) <= activeWindow:
		return StatusActive
	default:
		return StatusIdle
	}
}

// Stats snapshots the counters.
func (b *BaseWorker) Stats() Stats {
	var last time.Time
	if ns := b.lastTaskAt.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Name:         b.name,
		TaskCount:    b.taskCount.Load(),
		SuccessCount: b.successCount.Load(),
		ErrorCount:   b.errorCount.Load(),
		LastTaskAt:   last,
		Status:       b.Status(),
	}
}
