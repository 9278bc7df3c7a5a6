package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// Treasury sub-operations.
const (
	OpBalance    = "balance"
	OpAllocation = "allocation"
)

// TreasuryWorker scores treasury health and computes balance allocations.
type TreasuryWorker struct {
	BaseWorker
}

// NewTreasuryWorker creates the treasury worker.
func NewTreasuryWorker(logger *slog.Logger) *TreasuryWorker {
	return &TreasuryWorker{
		BaseWorker: NewBaseWorker(NameTreasury, []string{"analysis", "treasury"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *TreasuryWorker) Operations() []string {
	return []string{OpEvaluate, OpBalance, OpAllocation}
}

// Process executes one treasury task.
func (w *TreasuryWorker) Process(_ context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(task.Payload)
		case OpBalance:
			return w.balance(task.Payload)
		case OpAllocation:
			return w.allocation(task.Payload)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores the declared treasury health from payload.treasury.health_score.
func (w *TreasuryWorker) evaluate(payload map[string]any) opResult {
	treasury, ok := mapField(payload, "treasury")
	if !ok {
		return opResult{
			data:       map[string]any{"score": 50.0, "basis": "no treasury signal"},
			confidence: 0.4,
		}
	}
	health, ok := numField(treasury, "health_score")
	if !ok {
		return opResult{err: fmt.Errorf("treasury signal missing health_score"), errKind: KindInvalidInput}
	}
	return opResult{
		data: map[string]any{
			"score": clampScore(health),
			"basis": "health_score",
		},
		confidence: 0.9,
	}
}

func (w *TreasuryWorker) balance(payload map[string]any) opResult {
	balances, ok := mapField(payload, "balances")
	if !ok || len(balances) == 0 {
		return opResult{err: fmt.Errorf("balance requires a balances map"), errKind: KindInvalidInput}
	}

	var total float64
	for asset := range balances {
		v, ok := numField(balances, asset)
		if !ok {
			return opResult{err: fmt.Errorf("non-numeric balance for %q", asset), errKind: KindInvalidInput}
		}
		total += v
	}
	return opResult{
		data: map[string]any{
			"total":  total,
			"assets": len(balances),
		},
		confidence: 1.0,
	}
}

// allocation splits a total across target weights that must sum to 1.
func (w *TreasuryWorker) allocation(payload map[string]any) opResult {
	total, ok := numField(payload, "total")
	if !ok || total <= 0 {
		return opResult{err: fmt.Errorf("allocation requires a positive total"), errKind: KindInvalidInput}
	}
	weights, ok := mapField(payload, "weights")
	if !ok || len(weights) == 0 {
		return opResult{err: fmt.Errorf("allocation requires a weights map"), errKind: KindInvalidInput}
	}

	var sum float64
	split := make(map[string]any, len(weights))
	for name := range weights {
		wgt, ok := numField(weights, name)
		if !ok || wgt < 0 {
			return opResult{err: fmt.Errorf("invalid weight for %q", name), errKind: KindInvalidInput}
		}
		sum += wgt
		split[name] = total * wgt
	}
	if sum < 0.999 || sum > 1.001 {
		return opResult{err: fmt.Errorf("weights must sum to 1, got %.3f", sum), errKind: KindInvalidInput}
	}

	return opResult{
		data: map[string]any{
			"allocations": split,
			"total":       total,
		},
		confidence: 1.0,
	}
}
