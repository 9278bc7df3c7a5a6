package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/c360studio/hivemind/board"
	"github.com/c360studio/hivemind/bus"
	"github.com/c360studio/hivemind/llm"
)

// Deps are the collaborators bound to every worker at initialization.
type Deps struct {
	// LLM backs the workers that declare a generator slot. May be nil.
	LLM llm.Generator
	// Bus is bound to every worker.
	Bus bus.Bus
	// Board is bound to every worker.
	Board *board.Board
	// Logger is the parent logger; workers derive scoped loggers from it.
	Logger *slog.Logger
}

// llmWorkers is the declared subset of workers that receive the generator.
var llmWorkers = map[string]bool{
	NameSecurity: true,
	NamePattern:  true,
}

// wiredWorker lets the registry hand a worker its peer resolver during the
// wiring pass.
type wiredWorker interface {
	BindPeers(PeerResolver)
	BindLLM(llm.Generator)
	BindBus(bus.Bus)
	BindBoard(*board.Board)
}

// Registry owns every worker in the hive. The map is read-mostly after
// Initialize; a reader-writer lock protects it.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
	ops     map[string]map[string]bool // worker name -> declared operations
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		workers: make(map[string]Worker),
		ops:     make(map[string]map[string]bool),
		logger:  logger,
	}
}

// Initialize instantiates every known worker in a stable order, binds the
// shared collaborators, then runs the wiring pass so workers can resolve
// peers by name. Wiring is best-effort: a missing peer logs a warning and
// never fails initialization.
func (r *Registry) Initialize(ctx context.Context, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = r.logger
	}

	workers := []Worker{
		NewMathsWorker(deps.Logger),
		NewSecurityWorker(deps.Logger),
		NewDataWorker(deps.Logger),
		NewTreasuryWorker(deps.Logger),
		NewPatternWorker(deps.Logger),
		NewMonitoringWorker(deps.Logger),
		NewBlockchainWorker(deps.Logger),
		NewLiquidityWorker(deps.Logger),
	}

	r.mu.Lock()
	for _, w := range workers {
		r.workers[w.Name()] = w

		declared := make(map[string]bool, len(w.Operations()))
		for _, op := range w.Operations() {
			declared[op] = true
		}
		r.ops[w.Name()] = declared

		if bound, ok := w.(wiredWorker); ok {
			bound.BindBus(deps.Bus)
			bound.BindBoard(deps.Board)
			if deps.LLM != nil && llmWorkers[w.Name()] {
				bound.BindLLM(deps.LLM)
			}
			bound.BindPeers(r)
		}
	}
	r.mu.Unlock()

	r.wire()

	r.logger.Info("worker registry initialized",
		slog.Int("workers", len(workers)),
		slog.Bool("llm_bound", deps.LLM != nil))
	return ctx.Err()
}

// peerLinks declares which workers reference which peers by name.
var peerLinks = map[string][]string{
	NameLiquidity:  {NameBlockchain},
	NameMonitoring: {NameSecurity},
}

// wire verifies declared peer links. Resolution happens at call time through
// the registry, so here we only warn about peers that do not exist.
func (r *Registry) wire() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, peers := range peerLinks {
		if _, ok := r.workers[name]; !ok {
			continue
		}
		for _, peer := range peers {
			if _, ok := r.workers[peer]; !ok {
				r.logger.Warn("peer wiring skipped, worker missing",
					slog.String("worker", name),
					slog.String("peer", peer))
			}
		}
	}
}

// Peer implements PeerResolver.
func (r *Registry) Peer(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Get returns a worker by name.
func (r *Registry) Get(name string) (Worker, bool) {
	return r.Peer(name)
}

// Names returns all registered worker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.workers)
	sort.Strings(names)
	return names
}

// ByCapability returns the names of workers declaring the capability tag.
func (r *Registry) ByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, w := range r.workers {
		if lo.Contains(w.Capabilities(), capability) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Execute runs one task on the named worker. Missing workers and undeclared
// task types produce failed results rather than errors so multi-worker
// callers always get one result per invocation.
func (r *Registry) Execute(ctx context.Context, name string, task Task) Result {
	r.mu.RLock()
	w, ok := r.workers[name]
	declared := r.ops[name]
	r.mu.RUnlock()

	if !ok {
		return Result{
			TaskID:     task.ID,
			WorkerName: name,
			Error:      "no such worker: " + name,
			ErrorKind:  KindWorkerUnavailable,
		}
	}
	if !declared[task.Type] {
		err := &UnknownOperationError{Worker: name, Operation: task.Type}
		return Result{
			TaskID:     task.ID,
			WorkerName: name,
			Error:      err.Error(),
			ErrorKind:  KindInvalidInput,
		}
	}
	return w.Process(ctx, task)
}

// ExecuteMulti runs the task on each named worker sequentially, returning
// results in submission order.
func (r *Registry) ExecuteMulti(ctx context.Context, names []string, task Task) []Result {
	results := make([]Result, len(names))
	for i, name := range names {
		results[i] = r.Execute(ctx, name, task)
	}
	return results
}

// HealthReport aggregates per-worker health.
type HealthReport struct {
	AllHealthy  bool              `json:"all_healthy"`
	AnyCritical bool              `json:"any_critical"`
	Workers     map[string]Status `json:"workers"`
}

// HealthCheck derives per-worker status and the aggregate flags. A worker in
// error state is critical; degraded or error both clear AllHealthy.
func (r *Registry) HealthCheck() HealthReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]Status, len(r.workers))
	for name, w := range r.workers {
		statuses[name] = statusOf(w)
	}

	values := lo.Values(statuses)
	return HealthReport{
		AllHealthy: lo.EveryBy(values, func(s Status) bool {
			return s != StatusError && s != StatusDegraded
		}),
		AnyCritical: lo.SomeBy(values, func(s Status) bool {
			return s == StatusError
		}),
		Workers: statuses,
	}
}

// Stats snapshots every worker's counters, keyed by name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.workers))
	for name, w := range r.workers {
		if b, ok := w.(interface{ Stats() Stats }); ok {
			stats[name] = b.Stats()
		}
	}
	return stats
}

func statusOf(w Worker) Status {
	if b, ok := w.(interface{ Status() Status }); ok {
		return b.Status()
	}
	return StatusIdle
}
