package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// Blockchain sub-operations.
const (
	OpGasEstimate = "gas_estimate"
	OpChainInfo   = "chain_info"
)

// baseGasUnits is the flat cost assumed for a simple transfer.
const baseGasUnits = 21000

// BlockchainWorker reports on-chain state supplied in payloads and estimates
// transaction costs.
type BlockchainWorker struct {
	BaseWorker
}

// NewBlockchainWorker creates the blockchain worker.
func NewBlockchainWorker(logger *slog.Logger) *BlockchainWorker {
	return &BlockchainWorker{
		BaseWorker: NewBaseWorker(NameBlockchain, []string{"operations", "chain"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *BlockchainWorker) Operations() []string {
	return []string{OpEvaluate, OpGasEstimate, OpChainInfo}
}

// Process executes one blockchain task.
func (w *BlockchainWorker) Process(_ context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(task.Payload)
		case OpGasEstimate:
			return w.gasEstimate(task.Payload)
		case OpChainInfo:
			return w.chainInfo(task.Payload)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores chain conditions: cheap gas is healthy, congestion is not.
func (w *BlockchainWorker) evaluate(payload map[string]any) opResult {
	chain, ok := mapField(payload, "chain")
	if !ok {
		return opResult{
			data:       map[string]any{"score": 50.0, "basis": "no chain signal"},
			confidence: 0.4,
		}
	}
	gwei, ok := numField(chain, "gas_price_gwei")
	if !ok {
		return opResult{err: fmt.Errorf("chain signal missing gas_price_gwei"), errKind: KindInvalidInput}
	}

	// 10 gwei or less is calm; 200+ is saturated.
	score := clampScore(100 - (gwei-10)/190*100)
	return opResult{
		data: map[string]any{
			"score":          score,
			"gas_price_gwei": gwei,
		},
		confidence: 0.85,
	}
}

func (w *BlockchainWorker) gasEstimate(payload map[string]any) opResult {
	gwei, ok := numField(payload, "gas_price_gwei")
	if !ok || gwei <= 0 {
		return opResult{err: fmt.Errorf("gas_estimate requires a positive gas_price_gwei"), errKind: KindInvalidInput}
	}
	units := float64(baseGasUnits)
	if n, ok := numField(payload, "gas_units"); ok && n > 0 {
		units = n
	}

	return opResult{
		data: map[string]any{
			"gas_units": units,
			"cost_gwei": units * gwei,
			"cost_eth":  units * gwei / 1e9,
		},
		confidence: 0.95,
	}
}

func (w *BlockchainWorker) chainInfo(payload map[string]any) opResult {
	network, _ := strField(payload, "network")
	if network == "" {
		network = "mainnet"
	}
	block, _ := numField(payload, "block_number")
	return opResult{
		data: map[string]any{
			"network":      network,
			"block_number": block,
		},
		confidence: 0.7,
	}
}
