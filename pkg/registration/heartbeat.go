package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/controlplane-coordinator/pkg/semver"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const heartbeatLogPrefix = "registration:heartbeat"

// Heartbeat renews an instance's lease. An unknown or already-expired
// instance is not renewed; the caller must re-register.
func (c *Coordinator) Heartbeat(ctx context.Context, input *HeartbeatInput) (*HeartbeatOutput, error) {
	if err := c.requireRepo(); err != nil {
		return nil, err
	}
	if !semver.ValidateAppName(input.App) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "app must be lowercase alphanumeric with dots and hyphens only"}
	}
	if !semver.ValidateInstanceID(input.InstanceID) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "instanceId must start with a letter and contain only letters, digits, dots, hyphens, underscores"}
	}

	ttl := c.ttlSecondsOrDefault(input.TTLSeconds)

	res, err := c.execDB(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.TouchInstance(ctx, input.App, input.InstanceID, time.Duration(ttl)*time.Second)
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - TouchInstance failed: %v", heartbeatLogPrefix, err))
		return nil, asCoordinatorError(err)
	}

	inst, _ := res.(*store.ServiceInstance)
	if inst == nil {
		slog.Debug(fmt.Sprintf("%s - unknown or expired instance app=%s instance=%s", heartbeatLogPrefix, input.App, input.InstanceID))
		return &HeartbeatOutput{Renewed: false}, &CoordinatorError{
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("instance %s/%s is not registered or its lease expired", input.App, input.InstanceID),
		}
	}

	return &HeartbeatOutput{
		Renewed:   true,
		ExpiresAt: inst.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}
