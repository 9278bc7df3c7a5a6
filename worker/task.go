// Package worker defines the worker contract, the shared worker base, and the
// registry that owns every worker in the hive. Each worker implements a single
// Process operation over a closed set of task types; the registry handles
// instantiation, dependency binding, the peer wiring pass, and health.
package worker

import (
	"fmt"
	"time"
)

// Priority classifies task urgency.
type Priority string

// Task priorities.
const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ErrorKind classifies a failed result at the core boundary.
type ErrorKind string

// Error kinds surfaced on failed results.
const (
	KindInvalidInput       ErrorKind = "invalid-input"
	KindTimeout            ErrorKind = "timeout"
	KindWorkerUnavailable  ErrorKind = "worker-unavailable"
	KindBackendUnavailable ErrorKind = "backend-unavailable"
	KindInternal           ErrorKind = "internal-error"
)

// Worker names. The set is closed; the registry instantiates exactly these.
const (
	NameMaths      = "maths"
	NameSecurity   = "security"
	NameData       = "data"
	NameTreasury   = "treasury"
	NamePattern    = "pattern"
	NameMonitoring = "monitoring"
	NameBlockchain = "blockchain"
	NameLiquidity  = "liquidity"
)

// Task is a unit of work routed to a worker. Immutable once enqueued.
type Task struct {
	// ID is an opaque task identifier.
	ID string `json:"id" validate:"required"`
	// Type selects the sub-operation within the target worker's closed set.
	Type string `json:"type" validate:"required"`
	// Payload carries free-form operation inputs.
	Payload map[string]any `json:"payload"`
	// Priority classifies urgency.
	Priority Priority `json:"priority" validate:"omitempty,oneof=normal high critical"`
	// Deadline bounds execution; zero means the dispatcher default applies.
	Deadline time.Time `json:"deadline,omitempty"`
	// Origin is the hashed identity of the requesting user.
	Origin string `json:"origin,omitempty"`
	// Parallel permits concurrent fan-out on multi-worker dispatch.
	Parallel bool `json:"parallel,omitempty"`
}

// Result is the outcome of one worker invocation. Produced exactly once.
type Result struct {
	TaskID     string         `json:"task_id"`
	WorkerName string         `json:"worker_name"`
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Duration   time.Duration  `json:"duration"`
	LLMUsed    bool           `json:"llm_used"`
	Confidence float64        `json:"confidence"`
}

// Score extracts the numeric sub-score a worker attached to its result data.
// Failed results score zero; successful results without an explicit score
// fall back to a neutral 75.
func (r Result) Score() float64 {
	if !r.Success {
		return 0
	}
	switch v := r.Data["score"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 75
}

// UnknownOperationError reports a task type outside a worker's declared set.
// The registry checks the declared set before invoking Process, so workers
// never see an unknown variant at runtime.
type UnknownOperationError struct {
	Worker    string
	Operation string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("worker %q does not declare operation %q", e.Worker, e.Operation)
}
