package resilience

import (
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Group owns one Executor per guarded dependency and exposes the health
// snapshot consumed by the observability surface.
type Group struct {
	clock   clock.Clock
	metrics *Metrics

	mu        sync.RWMutex
	executors map[string]*Executor
}

// GroupOptions configures a Group.
type GroupOptions struct {
	// Clock injects a test clock. Nil uses the wall clock.
	Clock clock.Clock
	// Registerer receives the group's Prometheus collectors. Nil disables
	// instrumentation.
	Registerer prometheus.Registerer
}

// NewGroup creates an empty Group.
func NewGroup(opts GroupOptions) *Group {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	var metrics *Metrics
	if opts.Registerer != nil {
		metrics = NewMetrics(opts.Registerer)
	}
	return &Group{
		clock:     clk,
		metrics:   metrics,
		executors: make(map[string]*Executor),
	}
}

// Add creates and registers an executor for the named dependency. Adding the
// same name twice is a programming error.
func (g *Group) Add(name string, cfg ExecutorConfig) *Executor {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.executors[name]; ok {
		panic(fmt.Sprintf("resilience: executor %q already registered", name))
	}
	exec := NewExecutor(name, cfg, g.clock, g.metrics)
	g.executors[name] = exec
	return exec
}

// Get returns the executor for the named dependency, or nil.
func (g *Group) Get(name string) *Executor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.executors[name]
}

// DependencyStatus is one dependency's entry in the health snapshot.
type DependencyStatus struct {
	Name              string  `json:"name"`
	Critical          bool    `json:"critical"`
	CircuitState      string  `json:"circuitState"`
	BudgetUtilization float64 `json:"budgetUtilizationPercent"`
	BulkheadOccupancy int     `json:"bulkheadOccupancy"`
	BulkheadCapacity  int     `json:"bulkheadCapacity"`
}

// Snapshot returns per-dependency resilience state, sorted by name.
func (g *Group) Snapshot() []DependencyStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]DependencyStatus, 0, len(g.executors))
	for name, exec := range g.executors {
		out = append(out, DependencyStatus{
			Name:              name,
			Critical:          exec.cfg.Critical,
			CircuitState:      exec.breaker.State().String(),
			BudgetUtilization: exec.budget.Utilization(),
			BulkheadOccupancy: exec.bulkhead.Occupancy(),
			BulkheadCapacity:  exec.bulkhead.Capacity(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports false when any critical dependency's circuit is open.
// Non-critical dependencies degrade silently.
func (g *Group) Healthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, exec := range g.executors {
		if exec.cfg.Critical && exec.breaker.State() == StateOpen {
			return false
		}
	}
	return true
}
