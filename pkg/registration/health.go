package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const healthLogPrefix = "registration:health"

// Health reports whether the coordinator's dependencies are reachable.
// The database check runs outside the pipeline so an open circuit does
// not mask the probe result.
func (c *Coordinator) Health(ctx context.Context) *HealthOutput {
	dbOK := false
	if c.repo != nil {
		_, _, err := c.repo.ListInstances(ctx, store.ListInstancesParams{Page: 1, Limit: 1})
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - database check failed: %v", healthLogPrefix, err))
		}
		dbOK = err == nil
	}

	status := "healthy"
	if !dbOK {
		status = "unhealthy"
	}

	return &HealthOutput{
		Status:    status,
		Checks:    HealthChecks{Database: dbOK},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
