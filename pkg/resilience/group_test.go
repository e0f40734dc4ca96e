package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_AddAndGet(t *testing.T) {
	g := NewGroup(GroupOptions{})

	exec := g.Add("postgres", ExecutorConfig{Critical: true})
	assert.Same(t, exec, g.Get("postgres"))
	assert.Nil(t, g.Get("missing"))
}

func TestGroup_AddDuplicatePanics(t *testing.T) {
	g := NewGroup(GroupOptions{})
	g.Add("postgres", ExecutorConfig{})
	assert.Panics(t, func() { g.Add("postgres", ExecutorConfig{}) })
}

func TestGroup_Snapshot(t *testing.T) {
	g := NewGroup(GroupOptions{})
	g.Add("worker-rpc", ExecutorConfig{MaxConcurrent: 8})
	g.Add("postgres", ExecutorConfig{Critical: true, MaxConcurrent: 4})

	snap := g.Snapshot()
	require.Len(t, snap, 2)

	// Sorted by name.
	assert.Equal(t, "postgres", snap[0].Name)
	assert.True(t, snap[0].Critical)
	assert.Equal(t, "closed", snap[0].CircuitState)
	assert.Equal(t, 4, snap[0].BulkheadCapacity)
	assert.Equal(t, 0, snap[0].BulkheadOccupancy)

	assert.Equal(t, "worker-rpc", snap[1].Name)
	assert.False(t, snap[1].Critical)
}

func TestGroup_HealthyTracksCriticalCircuits(t *testing.T) {
	g := NewGroup(GroupOptions{})
	critical := g.Add("postgres", ExecutorConfig{
		Critical: true,
		Breaker:  BreakerConfig{WindowSize: 2, FailurePercent: 50, OpenWait: time.Minute},
	})
	g.Add("worker-rpc", ExecutorConfig{
		Breaker: BreakerConfig{WindowSize: 2, FailurePercent: 50, OpenWait: time.Minute},
	})

	require.True(t, g.Healthy())

	for i := 0; i < 2; i++ {
		_, _ = critical.ExecuteOnce(context.Background(), func(context.Context) (interface{}, error) {
			return nil, errBoom
		})
	}

	assert.False(t, g.Healthy())
	snap := g.Snapshot()
	assert.Equal(t, "open", snap[0].CircuitState)
}

func TestGroup_NonCriticalOpenCircuitStaysHealthy(t *testing.T) {
	g := NewGroup(GroupOptions{})
	worker := g.Add("worker-rpc", ExecutorConfig{
		Breaker: BreakerConfig{WindowSize: 2, FailurePercent: 50, OpenWait: time.Minute},
	})

	for i := 0; i < 2; i++ {
		_, _ = worker.ExecuteOnce(context.Background(), func(context.Context) (interface{}, error) {
			return nil, errBoom
		})
	}

	assert.Equal(t, StateOpen, worker.breaker.State())
	assert.True(t, g.Healthy())
}

func TestGroup_MetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGroup(GroupOptions{Registerer: reg})
	exec := g.Add("postgres", ExecutorConfig{MaxAttempts: 1})

	_, err := exec.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["coordinator_dependency_attempts_total"])
	assert.True(t, names["coordinator_dependency_circuit_state"])
}
