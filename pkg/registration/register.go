package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/morezero/controlplane-coordinator/pkg/events"
	"github.com/morezero/controlplane-coordinator/pkg/semver"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const registerLogPrefix = "registration:register"

// validateRegisterInput checks app, instance id, and version format.
func validateRegisterInput(input *RegisterInput) *CoordinatorError {
	if !semver.ValidateAppName(input.App) {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "app must be lowercase alphanumeric with dots and hyphens only"}
	}
	if !semver.ValidateInstanceID(input.InstanceID) {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "instanceId must start with a letter and contain only letters, digits, dots, hyphens, underscores"}
	}
	if input.Version == "" {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "version is required"}
	}
	if _, err := masterminds.NewVersion(input.Version); err != nil {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("version %q is not valid SemVer", input.Version)}
	}
	if input.TTLSeconds < 0 {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "ttlSeconds must not be negative"}
	}
	return nil
}

// Register creates or refreshes an instance registration with a heartbeat
// lease. Re-registering an expired instance revives it.
func (c *Coordinator) Register(ctx context.Context, input *RegisterInput) (*RegisterOutput, error) {
	slog.Info(fmt.Sprintf("%s - app=%s instance=%s version=%s",
		registerLogPrefix, input.App, input.InstanceID, input.Version))

	if err := c.requireRepo(); err != nil {
		return nil, err
	}
	if err := validateRegisterInput(input); err != nil {
		return nil, err
	}

	ttl := c.ttlSecondsOrDefault(input.TTLSeconds)

	var addr *string
	if input.Address != "" {
		addr = &input.Address
	}

	res, err := c.execDBOnce(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.UpsertInstance(ctx, store.UpsertInstanceParams{
			App:        input.App,
			InstanceID: input.InstanceID,
			Version:    input.Version,
			Address:    addr,
			Tags:       input.Tags,
			Metadata:   input.Metadata,
			TTL:        time.Duration(ttl) * time.Second,
		})
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - UpsertInstance failed: %v", registerLogPrefix, err))
		return nil, asCoordinatorError(err)
	}
	inst := res.(*store.ServiceInstance)

	// Revision 1 means the upsert inserted a fresh row.
	action := "created"
	if inst.Revision > 1 {
		action = "updated"
	}

	if err := c.publisher.PublishChanged(ctx, &events.CoordinatorChangedEvent{
		Kind:          events.KindInstance,
		App:           input.App,
		InstanceID:    input.InstanceID,
		ChangedFields: []string{"registration"},
		Revision:      inst.Revision,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Error(fmt.Sprintf("%s - PublishChanged failed: %v", registerLogPrefix, err))
	}

	return &RegisterOutput{
		Action:     action,
		Instance:   toInstanceInfo(inst),
		TTLSeconds: ttl,
	}, nil
}

// toInstanceInfo converts a storage row to the external instance view.
func toInstanceInfo(inst *store.ServiceInstance) InstanceInfo {
	info := InstanceInfo{
		App:           inst.App,
		InstanceID:    inst.InstanceID,
		Version:       inst.Version,
		Tags:          inst.Tags,
		Status:        inst.Status,
		Revision:      inst.Revision,
		LastHeartbeat: inst.LastHeartbeat.UTC().Format(time.RFC3339),
		ExpiresAt:     inst.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if inst.Address != nil {
		info.Address = *inst.Address
	}
	if info.Tags == nil {
		info.Tags = []string{}
	}
	return info
}
