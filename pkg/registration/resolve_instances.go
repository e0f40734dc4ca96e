package registration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/controlplane-coordinator/pkg/semver"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const resolveLogPrefix = "registration:resolve_instances"

// ResolveInstances resolves an app reference (optionally with a SemVer
// range) to the set of live instances that satisfy it, highest version
// first. Draining and expired instances never resolve.
func (c *Coordinator) ResolveInstances(ctx context.Context, input *ResolveInstancesInput) (*ResolveInstancesOutput, error) {
	if err := c.requireRepo(); err != nil {
		return nil, err
	}

	ref, err := semver.ParseAppRef(input.Ref)
	if err != nil {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: err.Error()}
	}

	res, err := c.execDB(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.ListActiveInstances(ctx, ref.App)
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - ListActiveInstances failed: %v", resolveLogPrefix, err))
		return nil, asCoordinatorError(err)
	}
	instances := res.([]store.ServiceInstance)

	// Tag filter: an instance must carry every requested tag.
	if len(input.Tags) > 0 {
		var tagged []store.ServiceInstance
		for _, inst := range instances {
			if hasAllTags(inst.Tags, input.Tags) {
				tagged = append(tagged, inst)
			}
		}
		instances = tagged
	}

	byID := make(map[string]*store.ServiceInstance, len(instances))
	records := make([]semver.VersionRecord, 0, len(instances))
	for i := range instances {
		inst := &instances[i]
		byID[inst.InstanceID] = inst
		records = append(records, semver.VersionRecord{
			ID:            inst.InstanceID,
			VersionString: inst.Version,
			Status:        inst.Status,
		})
	}

	matched := semver.Resolve(semver.ResolveParams{
		Versions:   records,
		Range:      ref.Range,
		ActiveOnly: true,
	})
	if len(matched) == 0 {
		return nil, &CoordinatorError{
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("no live instance of %s satisfies %q", ref.App, ref.Range),
		}
	}

	limit := input.Limit
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	infos := make([]InstanceInfo, 0, len(matched))
	for _, rec := range matched {
		infos = append(infos, toInstanceInfo(byID[rec.ID]))
	}

	return &ResolveInstancesOutput{
		App:             ref.App,
		ResolvedVersion: matched[0].VersionString,
		Instances:       infos,
	}, nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
