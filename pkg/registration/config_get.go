package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/controlplane-coordinator/pkg/resilience"
	"github.com/morezero/controlplane-coordinator/pkg/semver"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const configGetLogPrefix = "registration:config_get"

// GetConfig reads a config entry. Reads fall back to the last known good
// value when the database is unavailable.
func (c *Coordinator) GetConfig(ctx context.Context, input *GetConfigInput) (*GetConfigOutput, error) {
	if err := c.requireRepo(); err != nil {
		return nil, err
	}
	if !semver.ValidateAppName(input.App) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "app must be lowercase alphanumeric with dots and hyphens only"}
	}
	if !semver.ValidateConfigKey(input.Key) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "key must start with a letter and contain only letters, digits, dots, hyphens, underscores"}
	}

	cacheKey := input.App + "/" + input.Key

	res, err := c.execDB(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.GetConfig(ctx, input.App, input.Key)
	}, resilience.WithFallback(c.lastGood.Fallback("database", cacheKey)))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - GetConfig failed: %v", configGetLogPrefix, err))
		return nil, asCoordinatorError(err)
	}

	if deg, ok := res.(*resilience.Degraded); ok {
		return nil, &CoordinatorError{
			Code:    "UNAVAILABLE",
			Message: fmt.Sprintf("config %s unavailable and no cached value: %s", cacheKey, deg.Cause),
		}
	}

	entry, _ := res.(*store.ConfigEntry)
	if entry == nil {
		return nil, &CoordinatorError{
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("config %s/%s not found", input.App, input.Key),
		}
	}

	// Remember the result for degraded reads.
	c.lastGood.Put(cacheKey, entry)

	return &GetConfigOutput{
		App:      entry.App,
		Key:      entry.Key,
		Value:    entry.Value,
		Revision: entry.Revision,
		Modified: entry.Modified.UTC().Format(time.RFC3339),
	}, nil
}
