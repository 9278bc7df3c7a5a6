package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/hivemind/board"
)

// Data sub-operations.
const (
	OpAggregate = "aggregate"
	OpQuery     = "query"
)

// DataWorker aggregates numeric payload fields and answers queries against
// the knowledge board.
type DataWorker struct {
	BaseWorker
}

// NewDataWorker creates the data worker.
func NewDataWorker(logger *slog.Logger) *DataWorker {
	return &DataWorker{
		BaseWorker: NewBaseWorker(NameData, []string{"analysis", "data"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *DataWorker) Operations() []string {
	return []string{OpEvaluate, OpAggregate, OpQuery}
}

// Process executes one data task.
func (w *DataWorker) Process(ctx context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(task.Payload)
		case OpAggregate:
			return w.aggregate(task.Payload)
		case OpQuery:
			return w.query(ctx, task.Payload)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores the completeness of the incoming data. A payload with
// signals scores well; an empty one is a coin flip.
func (w *DataWorker) evaluate(payload map[string]any) opResult {
	if len(payload) == 0 {
		return opResult{
			data:       map[string]any{"score": 50.0, "fields": 0},
			confidence: 0.3,
		}
	}
	return opResult{
		data: map[string]any{
			"score":  85.0,
			"fields": len(payload),
		},
		confidence: 0.85,
	}
}

func (w *DataWorker) aggregate(payload map[string]any) opResult {
	var sum float64
	numeric := 0
	for key := range payload {
		if v, ok := numField(payload, key); ok {
			sum += v
			numeric++
		}
	}
	if numeric == 0 {
		return opResult{err: fmt.Errorf("aggregate requires at least one numeric field"), errKind: KindInvalidInput}
	}
	return opResult{
		data: map[string]any{
			"sum":   sum,
			"count": numeric,
			"mean":  sum / float64(numeric),
		},
		confidence: 1.0,
	}
}

// query fetches recent posts from the knowledge board for a category.
func (w *DataWorker) query(ctx context.Context, payload map[string]any) opResult {
	kb := w.Board()
	if kb == nil {
		return opResult{err: fmt.Errorf("knowledge board not bound"), errKind: KindBackendUnavailable}
	}

	category, _ := strField(payload, "category")
	limit := 10
	if n, ok := numField(payload, "limit"); ok && n > 0 {
		limit = int(n)
	}

	posts, err := kb.QueryPosts(ctx, board.Query{Category: category, Limit: limit})
	if err != nil {
		return opResult{err: fmt.Errorf("board query: %w", err), errKind: KindBackendUnavailable}
	}

	titles := make([]string, len(posts))
	for i, p := range posts {
		titles[i] = p.Title
	}
	return opResult{
		data: map[string]any{
			"count":  len(posts),
			"titles": titles,
		},
		confidence: 0.9,
	}
}
