package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/hivemind/config"
	"github.com/c360studio/hivemind/instance"
	"github.com/c360studio/hivemind/queen"
)

func TestHealthzReflectsDrain(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Bus.Backend = config.BackendMemory

	q, err := queen.New(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer q.Close()

	inst := instance.NewManager(cfg.Instance, nil, slog.Default())
	mux := buildMux(q, inst)

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		return rec
	}

	rec := get()
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["healthy"])

	// once shutdown starts, the probe must fail so the balancer stops
	// routing here
	require.NoError(t, inst.Shutdown(ctx, nil))

	rec = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["healthy"])
}
