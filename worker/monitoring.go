package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/hivemind/board"
)

// Monitoring sub-operations.
const (
	OpStatus = "status"
	OpAlert  = "alert"
)

// MonitoringWorker reports system health from the bus and raises alerts on
// the knowledge board.
type MonitoringWorker struct {
	BaseWorker
}

// NewMonitoringWorker creates the monitoring worker.
func NewMonitoringWorker(logger *slog.Logger) *MonitoringWorker {
	return &MonitoringWorker{
		BaseWorker: NewBaseWorker(NameMonitoring, []string{"operations", "monitoring"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *MonitoringWorker) Operations() []string {
	return []string{OpEvaluate, OpStatus, OpAlert}
}

// Process executes one monitoring task.
func (w *MonitoringWorker) Process(ctx context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(ctx)
		case OpStatus:
			return w.status(ctx)
		case OpAlert:
			return w.alert(ctx, task.Payload)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores infrastructure health: a healthy bus is 95, a degraded
// one 60, an unhealthy one 20.
func (w *MonitoringWorker) evaluate(ctx context.Context) opResult {
	mb := w.Bus()
	if mb == nil {
		return opResult{err: fmt.Errorf("bus not bound"), errKind: KindBackendUnavailable}
	}

	health := mb.Health(ctx)
	score := 95.0
	switch {
	case !health.Healthy:
		score = 20
	case health.Degraded:
		score = 60
	}
	return opResult{
		data: map[string]any{
			"score":    score,
			"backend":  health.Backend,
			"degraded": health.Degraded,
		},
		confidence: 0.95,
	}
}

func (w *MonitoringWorker) status(ctx context.Context) opResult {
	mb := w.Bus()
	if mb == nil {
		return opResult{err: fmt.Errorf("bus not bound"), errKind: KindBackendUnavailable}
	}

	health := mb.Health(ctx)
	data := map[string]any{
		"healthy":  health.Healthy,
		"degraded": health.Degraded,
		"backend":  health.Backend,
		"uptime_s": health.Uptime.Seconds(),
	}

	// Peer security posture is included when the worker is wired.
	if peer, ok := w.Peer(NameSecurity); ok {
		if b, ok := peer.(interface{ Status() Status }); ok {
			data["security_worker"] = string(b.Status())
		}
	}
	return opResult{data: data, confidence: 1.0}
}

// alert posts an incident to the knowledge board.
func (w *MonitoringWorker) alert(ctx context.Context, payload map[string]any) opResult {
	kb := w.Board()
	if kb == nil {
		return opResult{err: fmt.Errorf("knowledge board not bound"), errKind: KindBackendUnavailable}
	}

	title, ok := strField(payload, "title")
	if !ok || title == "" {
		return opResult{err: fmt.Errorf("alert requires a title"), errKind: KindInvalidInput}
	}
	detail, _ := strField(payload, "detail")

	id, err := kb.Post(ctx, w.Name(), "incidents", title, detail, board.PostInput{Priority: 2})
	if err != nil {
		return opResult{err: fmt.Errorf("post alert: %w", err), errKind: KindBackendUnavailable}
	}
	return opResult{
		data:       map[string]any{"post_id": id},
		confidence: 1.0,
	}
}
