package registration

import (
	"context"
	"errors"

	"github.com/morezero/controlplane-coordinator/pkg/bridge"
	"github.com/morezero/controlplane-coordinator/pkg/deadline"
	"github.com/morezero/controlplane-coordinator/pkg/events"
	"github.com/morezero/controlplane-coordinator/pkg/resilience"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const (
	defaultHeartbeatTTLSeconds = 90
	defaultEnv                 = "production"
	defaultWorkerTimeoutSecs   = 5
)

// Config holds coordinator configuration.
type Config struct {
	// HeartbeatTTLSeconds is the registration lease granted when the caller
	// does not ask for one.
	HeartbeatTTLSeconds int
	DefaultEnv          string
	// WorkerTimeoutSeconds bounds config pushes to worker instances.
	WorkerTimeoutSeconds int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatTTLSeconds:  defaultHeartbeatTTLSeconds,
		DefaultEnv:           defaultEnv,
		WorkerTimeoutSeconds: defaultWorkerTimeoutSecs,
	}
}

// Coordinator is the main coordinator service containing all business logic methods.
type Coordinator struct {
	repo      *store.Repository
	publisher events.EventPublisher
	bridge    *bridge.Bridge
	db        *resilience.Executor
	worker    *resilience.Executor
	lastGood  *resilience.LastGoodCache
	config    Config
}

// NewCoordinatorParams holds parameters for NewCoordinator.
type NewCoordinatorParams struct {
	Repo      *store.Repository
	Publisher events.EventPublisher
	// Bridge enables config pushes to worker instances; nil disables them.
	Bridge *bridge.Bridge
	// DBExecutor and WorkerExecutor guard the respective dependencies. Nil
	// executors mean direct calls (tests, in-process usage).
	DBExecutor     *resilience.Executor
	WorkerExecutor *resilience.Executor
	Config         Config
}

// NewCoordinator creates a new Coordinator instance.
func NewCoordinator(params NewCoordinatorParams) *Coordinator {
	cfg := params.Config
	if cfg.HeartbeatTTLSeconds == 0 {
		cfg.HeartbeatTTLSeconds = defaultHeartbeatTTLSeconds
	}
	if cfg.DefaultEnv == "" {
		cfg.DefaultEnv = defaultEnv
	}
	if cfg.WorkerTimeoutSeconds == 0 {
		cfg.WorkerTimeoutSeconds = defaultWorkerTimeoutSecs
	}

	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	return &Coordinator{
		repo:      params.Repo,
		publisher: pub,
		bridge:    params.Bridge,
		db:        params.DBExecutor,
		worker:    params.WorkerExecutor,
		lastGood:  resilience.NewLastGoodCache(),
		config:    cfg,
	}
}

// requireRepo returns an error if the repository is not configured (e.g. in tests with nil repo).
func (c *Coordinator) requireRepo() *CoordinatorError {
	if c.repo == nil {
		return &CoordinatorError{Code: "INTERNAL_ERROR", Message: "repository not configured"}
	}
	return nil
}

// execDB routes a database operation through the pipeline executor when one
// is configured.
func (c *Coordinator) execDB(ctx context.Context, op resilience.Operation, opts ...resilience.CallOption) (interface{}, error) {
	if c.db == nil {
		return op(ctx)
	}
	return c.db.Execute(ctx, op, opts...)
}

// execDBOnce is execDB without retries, for non-idempotent writes.
func (c *Coordinator) execDBOnce(ctx context.Context, op resilience.Operation) (interface{}, error) {
	if c.db == nil {
		return op(ctx)
	}
	return c.db.ExecuteOnce(ctx, op)
}

// asCoordinatorError maps pipeline and storage errors to structured codes.
func asCoordinatorError(err error) *CoordinatorError {
	var ce *CoordinatorError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, deadline.ErrDeadlineExceeded):
		return &CoordinatorError{Code: "DEADLINE_EXCEEDED", Message: err.Error()}
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrBulkheadFull),
		errors.Is(err, resilience.ErrRetryBudgetExceeded),
		errors.Is(err, resilience.ErrTimeLimitExceeded):
		return &CoordinatorError{Code: "UNAVAILABLE", Message: err.Error()}
	default:
		return &CoordinatorError{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}

// ttlSecondsOrDefault clamps a requested lease to the configured default.
func (c *Coordinator) ttlSecondsOrDefault(requested int) int {
	if requested <= 0 {
		return c.config.HeartbeatTTLSeconds
	}
	return requested
}
