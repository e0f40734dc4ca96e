package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/controlplane-coordinator/pkg/events"
	"github.com/morezero/controlplane-coordinator/pkg/semver"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const (
	configPutLogPrefix = "registration:config_put"
	maxConfigValueBytes = 256 * 1024 // 256KB per config value
)

// validatePutConfigInput checks app, key, and value size.
func validatePutConfigInput(input *PutConfigInput) *CoordinatorError {
	if !semver.ValidateAppName(input.App) {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "app must be lowercase alphanumeric with dots and hyphens only"}
	}
	if !semver.ValidateConfigKey(input.Key) {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "key must start with a letter and contain only letters, digits, dots, hyphens, underscores"}
	}
	if len(input.Value) == 0 {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "value is required"}
	}
	if !json.Valid(input.Value) {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "value must be valid JSON"}
	}
	if len(input.Value) > maxConfigValueBytes {
		return &CoordinatorError{Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("value exceeds %d bytes", maxConfigValueBytes)}
	}
	return nil
}

// PutConfig writes a config entry, publishes the change event, and
// optionally pushes the new value to the app's live worker instances. A
// failed push does not fail the write; Pushed reports the outcome.
func (c *Coordinator) PutConfig(ctx context.Context, input *PutConfigInput, userID string) (*PutConfigOutput, error) {
	slog.Info(fmt.Sprintf("%s - app=%s key=%s push=%v", configPutLogPrefix, input.App, input.Key, input.Push))

	if err := c.requireRepo(); err != nil {
		return nil, err
	}
	if err := validatePutConfigInput(input); err != nil {
		return nil, err
	}

	res, err := c.execDBOnce(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.UpsertConfig(ctx, store.UpsertConfigParams{
			App:    input.App,
			Key:    input.Key,
			Value:  input.Value,
			UserID: userID,
		})
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - UpsertConfig failed: %v", configPutLogPrefix, err))
		return nil, asCoordinatorError(err)
	}
	entry := res.(*store.ConfigEntry)

	// Keep the read-path fallback cache current.
	c.lastGood.Put(input.App+"/"+input.Key, entry)

	if err := c.publisher.PublishChanged(ctx, &events.CoordinatorChangedEvent{
		Kind:          events.KindConfig,
		App:           input.App,
		ConfigKey:     input.Key,
		ChangedFields: []string{"value"},
		Revision:      entry.Revision,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Error(fmt.Sprintf("%s - PublishChanged failed: %v", configPutLogPrefix, err))
	}

	pushed := false
	if input.Push {
		pushed, err = c.pushConfig(ctx, input.App, input.Key, input.Value, entry.Revision)
		if err != nil {
			// The write itself succeeded; workers converge via the change
			// event or their next config poll.
			slog.Warn(fmt.Sprintf("%s - push to %s workers failed: %v", configPutLogPrefix, input.App, err))
		}
	}

	return &PutConfigOutput{
		Revision: entry.Revision,
		Pushed:   pushed,
	}, nil
}
