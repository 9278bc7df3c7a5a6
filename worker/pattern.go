package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/c360studio/hivemind/llm"
)

// Pattern sub-operations.
const (
	OpDetect = "detect"
	OpTrend  = "trend"
)

// PatternWorker detects anomalies and trends in time series payloads.
type PatternWorker struct {
	BaseWorker
}

// NewPatternWorker creates the pattern worker.
func NewPatternWorker(logger *slog.Logger) *PatternWorker {
	return &PatternWorker{
		BaseWorker: NewBaseWorker(NamePattern, []string{"analysis", "patterns"}, logger),
	}
}

// Operations returns the closed task-type set.
func (w *PatternWorker) Operations() []string {
	return []string{OpEvaluate, OpDetect, OpTrend}
}

// Process executes one pattern task.
func (w *PatternWorker) Process(ctx context.Context, task Task) Result {
	return w.Run(task, func() opResult {
		switch task.Type {
		case OpEvaluate:
			return w.evaluate(ctx, task.Payload)
		case OpDetect:
			return w.detect(task.Payload)
		case OpTrend:
			return w.trend(task.Payload)
		default:
			return opResult{
				err:     &UnknownOperationError{Worker: w.Name(), Operation: task.Type},
				errKind: KindInvalidInput,
			}
		}
	})
}

// evaluate scores pattern stability of a series: a flat or rising series is
// healthy, a falling one is not. Without a series, score neutral.
func (w *PatternWorker) evaluate(ctx context.Context, payload map[string]any) opResult {
	series, ok := sliceField(payload, "series")
	if !ok || len(series) < 2 {
		return opResult{
			data:       map[string]any{"score": 50.0, "basis": "no series"},
			confidence: 0.4,
		}
	}

	slope := seriesSlope(series)
	score := clampScore(50 + slope*50)

	narrative := ""
	llmUsed := false
	if gen := w.LLM(); gen != nil {
		prompt := fmt.Sprintf("series of %d points, normalized slope %.2f, stability score %.0f", len(series), slope, score)
		text, err := gen.Generate(ctx, prompt, llm.GenerateOptions{
			System:    "Summarize the pattern in one sentence.",
			MaxTokens: 100,
		})
		if err != nil {
			w.Logger().Warn("pattern narration failed", slog.Any("error", err))
		} else {
			narrative = text
			llmUsed = true
		}
	}

	data := map[string]any{
		"score": score,
		"slope": slope,
	}
	if narrative != "" {
		data["narrative"] = narrative
	}
	return opResult{data: data, confidence: 0.8, llmUsed: llmUsed}
}

// detect flags points more than two standard deviations from the mean.
func (w *PatternWorker) detect(payload map[string]any) opResult {
	series, ok := sliceField(payload, "series")
	if !ok || len(series) < 3 {
		return opResult{err: fmt.Errorf("detect requires a series of at least 3 points"), errKind: KindInvalidInput}
	}

	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var variance float64
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(variance / float64(len(series)))

	var anomalies []int
	for i, v := range series {
		if stddev > 0 && math.Abs(v-mean)/stddev > 2 {
			anomalies = append(anomalies, i)
		}
	}

	return opResult{
		data: map[string]any{
			"anomalies": anomalies,
			"mean":      mean,
			"stddev":    stddev,
		},
		confidence: 0.85,
	}
}

// trend classifies the series direction.
func (w *PatternWorker) trend(payload map[string]any) opResult {
	series, ok := sliceField(payload, "series")
	if !ok || len(series) < 2 {
		return opResult{err: fmt.Errorf("trend requires a series of at least 2 points"), errKind: KindInvalidInput}
	}

	slope := seriesSlope(series)
	direction := "flat"
	switch {
	case slope > 0.05:
		direction = "rising"
	case slope < -0.05:
		direction = "falling"
	}
	return opResult{
		data: map[string]any{
			"direction": direction,
			"slope":     slope,
		},
		confidence: 0.9,
	}
}

// seriesSlope returns the normalized first-to-last change in [-1, 1].
func seriesSlope(series []float64) float64 {
	first, last := series[0], series[len(series)-1]
	scale := math.Max(math.Abs(first), math.Abs(last))
	if scale == 0 {
		return 0
	}
	slope := (last - first) / scale
	if slope > 1 {
		return 1
	}
	if slope < -1 {
		return -1
	}
	return slope
}
