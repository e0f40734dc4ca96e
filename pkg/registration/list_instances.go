package registration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const listInstancesLogPrefix = "registration:list_instances"

// ListInstances lists registered instances with optional filters and
// pagination.
func (c *Coordinator) ListInstances(ctx context.Context, input *ListInstancesInput) (*ListInstancesOutput, error) {
	if err := c.requireRepo(); err != nil {
		return nil, err
	}

	page := input.Page
	if page < 1 {
		page = 1
	}
	limit := input.Limit
	if limit < 1 {
		limit = 20
	}

	type listResult struct {
		instances []store.ServiceInstance
		total     int
	}

	res, err := c.execDB(ctx, func(ctx context.Context) (interface{}, error) {
		instances, total, err := c.repo.ListInstances(ctx, store.ListInstancesParams{
			App:    input.App,
			Status: input.Status,
			Tags:   input.Tags,
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			return nil, err
		}
		return listResult{instances: instances, total: total}, nil
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - ListInstances failed: %v", listInstancesLogPrefix, err))
		return nil, asCoordinatorError(err)
	}
	lr := res.(listResult)

	infos := make([]InstanceInfo, 0, len(lr.instances))
	for i := range lr.instances {
		infos = append(infos, toInstanceInfo(&lr.instances[i]))
	}

	totalPages := lr.total / limit
	if lr.total%limit != 0 {
		totalPages++
	}

	return &ListInstancesOutput{
		Instances: infos,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      lr.total,
			TotalPages: totalPages,
		},
	}, nil
}
