package worker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/hivemind/board"
	"github.com/c360studio/hivemind/bus"
	"github.com/c360studio/hivemind/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Bus.Backend = config.BackendMemory
	mb, err := bus.New(context.Background(), cfg.Bus, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { mb.Close() })

	kb := board.New(board.NewMemoryStore(), slog.Default())

	r := NewRegistry(slog.Default())
	require.NoError(t, r.Initialize(context.Background(), Deps{
		Bus:    mb,
		Board:  kb,
		Logger: slog.Default(),
	}))
	return r
}

func TestRegistryInitialize(t *testing.T) {
	r := newTestRegistry(t)

	want := []string{
		NameBlockchain, NameData, NameLiquidity, NameMaths,
		NameMonitoring, NamePattern, NameSecurity, NameTreasury,
	}
	assert.Equal(t, want, r.Names())

	for _, name := range want {
		w, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, w.Name())
		assert.NotEmpty(t, w.Operations(), name)
	}
}

func TestRegistryExecute(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Execute(context.Background(), NameMaths, Task{
		ID:      "t1",
		Type:    OpEvaluate,
		Payload: evaluatePayload(),
	})
	require.True(t, result.Success)
	assert.Equal(t, NameMaths, result.WorkerName)
}

func TestRegistryExecute_UnknownWorker(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Execute(context.Background(), "ghost", Task{ID: "t1", Type: OpEvaluate})
	assert.False(t, result.Success)
	assert.Equal(t, KindWorkerUnavailable, result.ErrorKind)
	assert.Equal(t, "ghost", result.WorkerName)
}

func TestRegistryExecute_UndeclaredOperation(t *testing.T) {
	r := newTestRegistry(t)

	// The treasury worker does not declare pattern detection.
	result := r.Execute(context.Background(), NameTreasury, Task{ID: "t1", Type: OpDetect})
	assert.False(t, result.Success)
	assert.Equal(t, KindInvalidInput, result.ErrorKind)
	assert.Contains(t, result.Error, "does not declare")
}

func TestRegistryExecuteMulti_SubmissionOrder(t *testing.T) {
	r := newTestRegistry(t)

	names := []string{NameMaths, NameSecurity, NameData, NameTreasury}
	results := r.ExecuteMulti(context.Background(), names, Task{
		ID:      "t1",
		Type:    OpEvaluate,
		Payload: evaluatePayload(),
	})

	require.Len(t, results, len(names))
	for i, name := range names {
		assert.Equal(t, name, results[i].WorkerName)
		assert.True(t, results[i].Success, name)
	}
}

func TestRegistryPeerResolution(t *testing.T) {
	r := newTestRegistry(t)

	// The liquidity worker resolves the blockchain worker at call time for
	// gas-aware rebalance recommendations.
	result := r.Execute(context.Background(), NameLiquidity, Task{
		ID:   "t1",
		Type: OpRebalance,
		Payload: map[string]any{
			"reserve_a":      800.0,
			"reserve_b":      200.0,
			"gas_price_gwei": 15.0,
		},
	})
	require.True(t, result.Success)
	assert.Equal(t, true, result.Data["recommend"])
	gas := result.Data["gas_cost_gwei"].(float64)
	assert.Equal(t, 180000.0*15, gas)
}

func TestRegistryHealthCheck(t *testing.T) {
	r := newTestRegistry(t)

	report := r.HealthCheck()
	assert.True(t, report.AllHealthy)
	assert.False(t, report.AnyCritical)
	assert.Len(t, report.Workers, 8)

	// Fail one worker and the aggregate flags flip.
	r.Execute(context.Background(), NameMaths, Task{ID: "t", Type: OpCalculate, Payload: map[string]any{}})
	report = r.HealthCheck()
	assert.False(t, report.AllHealthy)
	assert.True(t, report.AnyCritical)
	assert.Equal(t, StatusError, report.Workers[NameMaths])
}

func TestRegistryByCapability(t *testing.T) {
	r := newTestRegistry(t)

	analysts := r.ByCapability("analysis")
	assert.Contains(t, analysts, NameMaths)
	assert.Contains(t, analysts, NameSecurity)
	assert.NotContains(t, analysts, NameMonitoring)

	assert.Empty(t, r.ByCapability("nonexistent"))
}

func TestRegistryStats(t *testing.T) {
	r := newTestRegistry(t)

	r.Execute(context.Background(), NameMaths, Task{
		ID:      "t1",
		Type:    OpEvaluate,
		Payload: evaluatePayload(),
	})

	stats := r.Stats()
	require.Contains(t, stats, NameMaths)
	assert.Equal(t, int64(1), stats[NameMaths].TaskCount)
	assert.Equal(t, int64(1), stats[NameMaths].SuccessCount)
}

func TestMonitoringWorkerUsesBus(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Execute(context.Background(), NameMonitoring, Task{ID: "t1", Type: OpStatus})
	require.True(t, result.Success)
	assert.Equal(t, true, result.Data["healthy"])
}

func TestMonitoringWorkerAlertPostsToBoard(t *testing.T) {
	r := newTestRegistry(t)

	result := r.Execute(context.Background(), NameMonitoring, Task{
		ID:      "t1",
		Type:    OpAlert,
		Payload: map[string]any{"title": "queue depth rising", "detail": "normal lane at 80%"},
	})
	require.True(t, result.Success)
	assert.NotZero(t, result.Data["post_id"])
}
