// Package queen is the supervisor. It owns every other component, enforces
// the security gates on the outer boundary, and exposes the task, chat, and
// decision APIs.
package queen

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/c360studio/hivemind/board"
	"github.com/c360studio/hivemind/bus"
	"github.com/c360studio/hivemind/config"
	"github.com/c360studio/hivemind/consensus"
	"github.com/c360studio/hivemind/dispatch"
	"github.com/c360studio/hivemind/llm"
	"github.com/c360studio/hivemind/proposal"
	"github.com/c360studio/hivemind/push"
	"github.com/c360studio/hivemind/security"
	"github.com/c360studio/hivemind/worker"
)

// ErrorKind classifies failures surfaced at the outer boundary.
type ErrorKind string

// Boundary error kinds.
const (
	KindInvalidInput       ErrorKind = "invalid-input"
	KindBlocked            ErrorKind = "blocked"
	KindQuarantined        ErrorKind = "quarantined"
	KindTimeout            ErrorKind = "timeout"
	KindWorkerUnavailable  ErrorKind = "worker-unavailable"
	KindBackendUnavailable ErrorKind = "backend-unavailable"
	KindInternal           ErrorKind = "internal-error"
)

// Error is a typed boundary failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Push topic names.
const (
	TopicRegistry  = "registry"
	TopicDecisions = "decisions"
	TopicAnalytics = "analytics"
)

// TaskRequest is the boundary envelope for one task invocation. Free-form
// payloads stay inside Payload; the envelope itself is schema-checked.
type TaskRequest struct {
	// UserID is the opaque origin hash used for security-context tracking.
	UserID string `validate:"required"`
	// Type is the operation requested from the target workers.
	Type string `validate:"required"`
	// Text is an optional natural-language payload; it passes Gates 1-3.
	Text string
	// Payload carries worker-specific data.
	Payload map[string]any
	// Workers names the target workers. Leave empty to use Capability.
	Workers []string `validate:"max=8,dive,required"`
	// Capability routes to every worker declaring the tag.
	Capability string
	// Parallel fans a multi-worker task out concurrently.
	Parallel bool
	// Deadline bounds the invocation; zero uses the dispatcher default.
	Deadline time.Time
	// Endpoint selects the security threshold class. Empty means standard.
	Endpoint security.EndpointClass
}

// TaskResponse is the typed result of one task invocation.
type TaskResponse struct {
	Results  []worker.Result     `json:"results,omitempty"`
	Decision *consensus.Decision `json:"decision,omitempty"`
	// Output is the Gate 4 filtered text safe to leave the process.
	Output    string    `json:"output,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Failed reports whether the invocation produced a boundary error.
func (r TaskResponse) Failed() bool { return r.ErrorKind != "" }

// DecisionRecord is one entry of the append-only decision log. Seq is
// monotonic per instance.
type DecisionRecord struct {
	Seq      int64              `json:"seq"`
	TaskID   string             `json:"task_id"`
	Decision consensus.Decision `json:"decision"`
	At       time.Time          `json:"at"`
}

// Queen supervises the hive.
type Queen struct {
	cfg    *config.Config
	logger *slog.Logger

	bus        bus.Bus
	board      *board.Board
	pipeline   *security.Pipeline
	registry   *worker.Registry
	dispatcher *dispatch.Dispatcher
	consensus  *consensus.Engine
	proposals  *proposal.Engine
	hub        *push.Hub
	llm        llm.Generator
	validate   *validator.Validate

	// fixer and runner override the proposal engine's defaults; tests and
	// operator tooling inject them.
	fixer  proposal.Fixer
	runner proposal.TestRunner

	client *redis.Client // nil for the memory backend

	mu        sync.Mutex
	seq       int64
	decisions []DecisionRecord
	chats     map[string]*conversation
}

// Option configures a Queen.
type Option func(*Queen)

// WithGenerator wires the language model backing chat and LLM workers.
func WithGenerator(g llm.Generator) Option {
	return func(q *Queen) { q.llm = g }
}

// WithFixer replaces the proposal engine's default LLM-backed fixer.
func WithFixer(f proposal.Fixer) Option {
	return func(q *Queen) { q.fixer = f }
}

// WithTestRunner replaces the proposal engine's default pytest runner.
func WithTestRunner(r proposal.TestRunner) Option {
	return func(q *Queen) { q.runner = r }
}

// New builds the supervisor and every component it owns, in dependency
// order: config, bus, board, security pipeline, worker registry (with its
// wiring pass), dispatcher, consensus, proposal engine, push hub, then the
// supervisor itself. Background loops do not run until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Queen, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queen{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "queen")),
		validate: validator.New(),
		chats:    make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(q)
	}

	mb, err := bus.New(ctx, cfg.Bus, logger)
	if err != nil {
		return nil, fmt.Errorf("bus init: %w", err)
	}
	q.bus = mb

	// The board follows the bus backend, but only when the backend actually
	// came up. A degraded bus means the Redis address is dead; pointing the
	// board at it would fail every post.
	busHealth := q.bus.Health(ctx)
	var store board.Store
	if cfg.Bus.Backend == config.BackendDurable && !busHealth.Degraded {
		q.client = redis.NewClient(&redis.Options{
			Addr: cfg.Bus.RedisURL,
			DB:   cfg.Bus.RedisDB,
		})
		store = board.NewRedisStore(q.client)
	} else {
		if busHealth.Degraded {
			q.logger.Warn("durable backend unreachable, board using memory store",
				slog.String("redis_url", cfg.Bus.RedisURL))
		}
		store = board.NewMemoryStore()
	}
	q.board = board.New(store, logger, board.WithDefaultTTL(cfg.Board.DefaultTTL))

	var pipeOpts []security.PipelineOption
	if cfg.Security.ShareContexts && q.client != nil {
		pipeOpts = append(pipeOpts, security.WithContextStore(&redisContextStore{client: q.client}))
	}
	q.pipeline = security.NewPipeline(cfg.Security, logger, pipeOpts...)

	q.registry = worker.NewRegistry(logger)
	if err := q.registry.Initialize(ctx, worker.Deps{
		LLM:    q.llm,
		Bus:    q.bus,
		Board:  q.board,
		Logger: logger,
	}); err != nil {
		return nil, fmt.Errorf("registry init: %w", err)
	}

	q.dispatcher = dispatch.New(q.registry, logger)
	q.consensus = consensus.New(logger)

	fixer := q.fixer
	if fixer == nil && q.llm != nil {
		fixer = proposal.NewLLMFixer(q.llm, logger)
	}
	runner := q.runner
	if runner == nil {
		runner = proposal.PytestRunner{}
	}
	q.proposals = proposal.NewEngine(cfg.Proposal,
		proposal.NewValidator(proposal.DefaultManifest()), fixer, runner, logger)

	q.hub = push.NewHub(cfg.Push, logger)
	if err := q.registerTopics(); err != nil {
		return nil, fmt.Errorf("push topics: %w", err)
	}

	q.logger.Info("supervisor initialized",
		slog.String("bus_backend", cfg.Bus.Backend),
		slog.Int("workers", len(q.registry.Names())))
	return q, nil
}

// Start launches the background loops: push polling and board GC.
func (q *Queen) Start(ctx context.Context) {
	q.hub.Start(ctx)
	if q.cfg.Board.SweepInterval > 0 {
		q.board.StartSweeper(ctx, q.cfg.Board.SweepInterval)
	}
}

// Reload applies the runtime-tunable parts of a freshly loaded config.
// Backend selection, worker wiring, and push topology are fixed for the
// process lifetime; security thresholds take effect immediately.
func (q *Queen) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	q.pipeline.UpdateConfig(cfg.Security)
	q.logger.Info("runtime configuration reloaded")
	return nil
}

// Close stops the push hub and releases backend clients.
func (q *Queen) Close() error {
	var firstErr error
	if err := q.hub.Close(); err != nil {
		firstErr = err
	}
	if err := q.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if q.client != nil {
		if err := q.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ProcessTask runs one task through the full path: envelope validation,
// Gates 1-3 on the natural-language payload, dispatch, consensus when more
// than one worker answered, Gate 4 on the outbound text, decision logging.
func (q *Queen) ProcessTask(ctx context.Context, req TaskRequest) TaskResponse {
	if err := q.validate.Struct(req); err != nil {
		return TaskResponse{
			ErrorKind: KindInvalidInput,
			Error:     "invalid task envelope: " + err.Error(),
		}
	}

	if req.Text != "" {
		verdict := q.pipeline.Evaluate(ctx, req.UserID, req.Text, endpointOrStandard(req.Endpoint))
		switch verdict.Decision {
		case security.DecisionBlock:
			return TaskResponse{ErrorKind: KindBlocked, Error: "blocked"}
		case security.DecisionQuarantine:
			return TaskResponse{
				ErrorKind: KindQuarantined,
				Error:     "request held for review",
			}
		}
	}

	task := worker.Task{
		ID:       uuid.NewString(),
		Type:     req.Type,
		Payload:  req.Payload,
		Origin:   req.UserID,
		Parallel: req.Parallel,
		Deadline: req.Deadline,
	}
	route := dispatch.Route{Workers: req.Workers, Capability: req.Capability}

	results, err := q.dispatcher.Dispatch(ctx, route, task)
	if err != nil {
		return TaskResponse{ErrorKind: KindInvalidInput, Error: err.Error()}
	}

	resp := TaskResponse{Results: results}
	if len(results) > 1 {
		inputs := make(map[string]worker.Result, len(results))
		for _, res := range results {
			inputs[res.WorkerName] = res
		}
		decision, derr := q.consensus.Decide(task.Type, inputs)
		if derr != nil {
			q.logger.Warn("consensus failed",
				slog.String("task", task.ID),
				slog.Any("error", derr))
		} else {
			rec := q.recordDecision(task.ID, decision)
			resp.Decision = &rec.Decision
		}
	} else if len(results) == 1 && !results[0].Success {
		resp.ErrorKind = boundaryKind(results[0].ErrorKind)
		resp.Error = results[0].Error
	}

	resp.Output = q.filterOutbound(outboundText(resp))
	return resp
}

// outboundText picks the text that would leave the process: the consensus
// reasoning when a decision exists, else a single worker's narrative.
func outboundText(resp TaskResponse) string {
	if resp.Decision != nil {
		return resp.Decision.Reasoning
	}
	if len(resp.Results) == 1 {
		for _, key := range []string{"narrative", "summary"} {
			if s, ok := resp.Results[0].Data[key].(string); ok {
				return s
			}
		}
	}
	return ""
}

// filterOutbound is Gate 4 on any text leaving the process.
func (q *Queen) filterOutbound(text string) string {
	if text == "" {
		return ""
	}
	filtered := security.FilterOutput(text, security.FilterOptions{RedactEmails: true})
	if !filtered.IsSafe {
		q.logger.Warn("outbound text flagged by scanner",
			slog.Any("warnings", filtered.Warnings))
	}
	return filtered.Text
}

// recordDecision appends to the decision log and pushes to the decisions
// topic. The log is append-only and never truncated within a process.
func (q *Queen) recordDecision(taskID string, d consensus.Decision) DecisionRecord {
	q.mu.Lock()
	q.seq++
	rec := DecisionRecord{
		Seq:      q.seq,
		TaskID:   taskID,
		Decision: d,
		At:       time.Now().UTC(),
	}
	q.decisions = append(q.decisions, rec)
	q.mu.Unlock()

	if err := q.hub.Broadcast(TopicDecisions, push.TypeHiveUpdate, rec); err != nil {
		q.logger.Debug("decision push skipped", slog.Any("error", err))
	}
	q.logger.Info("decision recorded",
		slog.Int64("seq", rec.Seq),
		slog.String("task", taskID),
		slog.String("action", string(d.Action)),
		slog.Float64("score", d.Score))
	return rec
}

// Decisions returns a copy of the decision log, oldest first.
func (q *Queen) Decisions() []DecisionRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DecisionRecord, len(q.decisions))
	copy(out, q.decisions)
	return out
}

// Quarantined exposes the security review queue.
func (q *Queen) Quarantined() []security.QuarantineItem {
	return q.pipeline.Quarantined()
}

// Unblock clears a persistent user block. Admin-only.
func (q *Queen) Unblock(userID string) bool {
	return q.pipeline.Unblock(userID)
}

// Health aggregates bus and worker health.
func (q *Queen) Health(ctx context.Context) map[string]any {
	report := q.registry.HealthCheck()
	return map[string]any{
		"bus":     q.bus.Health(ctx),
		"workers": report,
		"healthy": report.AllHealthy,
	}
}

// Handler exposes the push channel's websocket endpoint.
func (q *Queen) Handler() http.Handler {
	return q.hub.Handler()
}

// Board exposes the knowledge board for operator tooling.
func (q *Queen) Board() *board.Board { return q.board }

// Bus exposes the message bus for operator tooling.
func (q *Queen) Bus() bus.Bus { return q.bus }

func endpointOrStandard(e security.EndpointClass) security.EndpointClass {
	if e == "" {
		return security.EndpointStandard
	}
	return e
}

// boundaryKind maps worker error kinds onto the boundary enum. The string
// values line up; the cast keeps the two enums independent.
func boundaryKind(kind worker.ErrorKind) ErrorKind {
	switch kind {
	case worker.KindInvalidInput, worker.KindTimeout, worker.KindWorkerUnavailable,
		worker.KindBackendUnavailable, worker.KindInternal:
		return ErrorKind(kind)
	default:
		return KindInternal
	}
}

// redisContextStore persists security contexts to the bus backend for
// cross-instance sharing.
type redisContextStore struct {
	client *redis.Client
}

func (s *redisContextStore) SaveContext(ctx context.Context, userID string, data []byte) error {
	return s.client.Set(ctx, "security:context:"+userID, data, 24*time.Hour).Err()
}
