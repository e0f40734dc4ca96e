package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/controlplane-coordinator/pkg/events"
	"github.com/morezero/controlplane-coordinator/pkg/semver"
)

const deregisterLogPrefix = "registration:deregister"

// Deregister removes an instance registration. Removing an unknown instance
// is not an error; Removed reports whether a row existed.
func (c *Coordinator) Deregister(ctx context.Context, input *DeregisterInput) (*DeregisterOutput, error) {
	slog.Info(fmt.Sprintf("%s - app=%s instance=%s", deregisterLogPrefix, input.App, input.InstanceID))

	if err := c.requireRepo(); err != nil {
		return nil, err
	}
	if !semver.ValidateAppName(input.App) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "app must be lowercase alphanumeric with dots and hyphens only"}
	}
	if !semver.ValidateInstanceID(input.InstanceID) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "instanceId must start with a letter and contain only letters, digits, dots, hyphens, underscores"}
	}

	res, err := c.execDBOnce(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.DeleteInstance(ctx, input.App, input.InstanceID)
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - DeleteInstance failed: %v", deregisterLogPrefix, err))
		return nil, asCoordinatorError(err)
	}
	removed := res.(bool)

	if removed {
		if err := c.publisher.PublishChanged(ctx, &events.CoordinatorChangedEvent{
			Kind:          events.KindInstance,
			App:           input.App,
			InstanceID:    input.InstanceID,
			ChangedFields: []string{"deregistration"},
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			slog.Error(fmt.Sprintf("%s - PublishChanged failed: %v", deregisterLogPrefix, err))
		}
	}

	return &DeregisterOutput{Removed: removed}, nil
}
