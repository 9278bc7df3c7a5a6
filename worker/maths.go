package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Maths sub-operations.
const (
	OpEvaluate   = "evaluate" // shared across scoring workers
	OpCalculate  = "calculate"
	OpStatistics = "statistics"
)

// MathsWorker performs numeric evaluation, arithmetic, and descriptive
// statistics over task payloads.
type MathsWorker struct {
	BaseWorker
}

// NewMathsWorker creates the maths worker.
func NewMathsWorker(logger *slog.Logger) *MathsWorker {
	return &MathsWorker{
		BaseWorker: NewBaseWorker(NameMaths, []string{"analysis", "numeric"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *MathsWorker) Operations() []string {
	return []string{OpEvaluate, OpCalculate, OpStatistics}
}

// Process executes one maths task.
func (w *MathsWorker) Process(_ context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(task.Payload)
		case OpCalculate:
			return w.calculate(task.Payload)
		case OpStatistics:
			return w.statistics(task.Payload)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores overall numeric health. The pool health reading is the
// primary signal; absent input scores a neutral midpoint with low confidence.
func (w *MathsWorker) evaluate(payload map[string]any) opResult {
	health, ok := numField(payload, "pool_health")
	if !ok {
		return opResult{
			data:       map[string]any{"score": 50.0, "basis": "no numeric signal"},
			confidence: 0.4,
		}
	}
	return opResult{
		data: map[string]any{
			"score": clampScore(health),
			"basis": "pool_health",
		},
		confidence: 0.9,
	}
}

func (w *MathsWorker) calculate(payload map[string]any) opResult {
	op, _ := strField(payload, "op")
	a, okA := numField(payload, "a")
	b, okB := numField(payload, "b")
	if !okA || !okB {
		return opResult{err: fmt.Errorf("calculate requires numeric operands a and b"), errKind: KindInvalidInput}
	}

	var value float64
	switch op {
	case "add":
		value = a + b
	case "sub":
		value = a - b
	case "mul":
		value = a * b
	case "div":
		if b == 0 {
			return opResult{err: fmt.Errorf("division by zero"), errKind: KindInvalidInput}
		}
		value = a / b
	case "pow":
		value = math.Pow(a, b)
	default:
		return opResult{err: fmt.Errorf("unknown calculate op %q", op), errKind: KindInvalidInput}
	}
	return opResult{
		data:       map[string]any{"value": value},
		confidence: 1.0,
	}
}

func (w *MathsWorker) statistics(payload map[string]any) opResult {
	values, ok := sliceField(payload, "values")
	if !ok || len(values) == 0 {
		return opResult{err: fmt.Errorf("statistics requires a non-empty values array"), errKind: KindInvalidInput}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return opResult{
		data: map[string]any{
			"count":  len(values),
			"mean":   mean,
			"min":    sorted[0],
			"max":    sorted[len(sorted)-1],
			"median": sorted[len(sorted)/2],
			"stddev": math.Sqrt(variance),
		},
		confidence: 1.0,
	}
}
