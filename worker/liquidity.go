package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// Liquidity sub-operations.
const (
	OpPoolAnalysis = "pool_analysis"
	OpRebalance    = "rebalance"
)

// LiquidityWorker analyzes pool state. It resolves the blockchain worker
// through the registry at call time for gas-aware recommendations.
type LiquidityWorker struct {
	BaseWorker
}

// NewLiquidityWorker creates the liquidity worker.
func NewLiquidityWorker(logger *slog.Logger) *LiquidityWorker {
	return &LiquidityWorker{
		BaseWorker: NewBaseWorker(NameLiquidity, []string{"analysis", "liquidity"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *LiquidityWorker) Operations() []string {
	return []string{OpEvaluate, OpPoolAnalysis, OpRebalance}
}

// Process executes one liquidity task.
func (w *LiquidityWorker) Process(ctx context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(task.Payload)
		case OpPoolAnalysis:
			return w.poolAnalysis(task.Payload)
		case OpRebalance:
			return w.rebalance(ctx, task)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores pool health directly from the pool_health reading.
func (w *LiquidityWorker) evaluate(payload map[string]any) opResult {
	health, ok := numField(payload, "pool_health")
	if !ok {
		return opResult{
			data:       map[string]any{"score": 50.0, "basis": "no pool signal"},
			confidence: 0.4,
		}
	}
	return opResult{
		data: map[string]any{
			"score": clampScore(health),
			"basis": "pool_health",
		},
		confidence: 0.85,
	}
}

// poolAnalysis reports utilization and imbalance for a two-sided pool.
func (w *LiquidityWorker) poolAnalysis(payload map[string]any) opResult {
	reserveA, okA := numField(payload, "reserve_a")
	reserveB, okB := numField(payload, "reserve_b")
	if !okA || !okB || reserveA <= 0 || reserveB <= 0 {
		return opResult{err: fmt.Errorf("pool_analysis requires positive reserve_a and reserve_b"), errKind: KindInvalidInput}
	}

	total := reserveA + reserveB
	imbalance := reserveA/total - 0.5
	if imbalance < 0 {
		imbalance = -imbalance
	}
	return opResult{
		data: map[string]any{
			"total_reserves": total,
			"imbalance":      imbalance * 2, // 0 = balanced, 1 = fully one-sided
			"ratio":          reserveA / reserveB,
		},
		confidence: 0.9,
	}
}

// rebalance recommends whether to rebalance now, consulting the blockchain
// peer for the current gas cost of the operation.
func (w *LiquidityWorker) rebalance(ctx context.Context, task Task) opResult {
	analysis := w.poolAnalysis(task.Payload)
	if analysis.err != nil {
		return analysis
	}
	imbalance := analysis.data["imbalance"].(float64)

	costGwei := 0.0
	peer, ok := w.Peer(NameBlockchain)
	if !ok {
		w.Logger().Warn("blockchain peer unavailable, recommending without gas data")
	} else if gwei, hasGas := numField(task.Payload, "gas_price_gwei"); hasGas {
		gasResult := peer.Process(ctx, Task{
			ID:      task.ID + ":gas",
			Type:    OpGasEstimate,
			Payload: map[string]any{"gas_price_gwei": gwei, "gas_units": 180000.0},
			Origin:  task.Origin,
		})
		if gasResult.Success {
			costGwei, _ = numField(gasResult.Data, "cost_gwei")
		}
	}

	// Rebalance when the pool is meaningfully skewed and gas is not extreme.
	recommend := imbalance > 0.2 && costGwei < 100e6
	return opResult{
		data: map[string]any{
			"recommend":     recommend,
			"imbalance":     imbalance,
			"gas_cost_gwei": costGwei,
		},
		confidence: 0.8,
	}
}
