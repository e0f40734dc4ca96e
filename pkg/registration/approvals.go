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

const approvalsLogPrefix = "registration:approvals"

const maxApprovalPayloadBytes = 64 * 1024 // 64KB per approval payload

// SubmitApproval records a new pending approval request for a guarded
// action.
func (c *Coordinator) SubmitApproval(ctx context.Context, input *SubmitApprovalInput) (*ApprovalInfo, error) {
	slog.Info(fmt.Sprintf("%s - submit app=%s action=%s", approvalsLogPrefix, input.App, input.Action))

	if err := c.requireRepo(); err != nil {
		return nil, err
	}
	if !semver.ValidateAppName(input.App) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "app must be lowercase alphanumeric with dots and hyphens only"}
	}
	if input.Action == "" {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "action is required"}
	}
	if input.RequestedBy == "" {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "requestedBy is required"}
	}
	if len(input.Payload) > 0 && !json.Valid(input.Payload) {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "payload must be valid JSON"}
	}
	if len(input.Payload) > maxApprovalPayloadBytes {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("payload exceeds %d bytes", maxApprovalPayloadBytes)}
	}

	res, err := c.execDBOnce(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.CreateApproval(ctx, store.CreateApprovalParams{
			App:         input.App,
			Action:      input.Action,
			Payload:     input.Payload,
			RequestedBy: input.RequestedBy,
		})
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - CreateApproval failed: %v", approvalsLogPrefix, err))
		return nil, asCoordinatorError(err)
	}
	approval := res.(*store.ApprovalRequest)

	info := toApprovalInfo(approval)
	return &info, nil
}

// DecideApproval resolves a pending approval request. Decisions are final:
// a request that was already decided is rejected with CONFLICT.
func (c *Coordinator) DecideApproval(ctx context.Context, input *DecideApprovalInput) (*ApprovalInfo, error) {
	slog.Info(fmt.Sprintf("%s - decide id=%s approve=%v", approvalsLogPrefix, input.ID, input.Approve))

	if err := c.requireRepo(); err != nil {
		return nil, err
	}
	if input.ID == "" {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "id is required"}
	}
	if input.DecidedBy == "" {
		return nil, &CoordinatorError{Code: "INVALID_ARGUMENT", Message: "decidedBy is required"}
	}

	status := store.ApprovalDenied
	if input.Approve {
		status = store.ApprovalApproved
	}
	var reason *string
	if input.Reason != "" {
		reason = &input.Reason
	}

	res, err := c.execDBOnce(ctx, func(ctx context.Context) (interface{}, error) {
		return c.repo.DecideApproval(ctx, store.DecideApprovalParams{
			ID:        input.ID,
			Status:    status,
			DecidedBy: input.DecidedBy,
			Reason:    reason,
		})
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - DecideApproval failed: %v", approvalsLogPrefix, err))
		return nil, asCoordinatorError(err)
	}

	decided, _ := res.(*store.ApprovalRequest)
	if decided == nil {
		// Distinguish unknown from already-decided for the caller.
		existing, lookupErr := c.execDB(ctx, func(ctx context.Context) (interface{}, error) {
			return c.repo.GetApproval(ctx, input.ID)
		})
		if lookupErr == nil {
			if prior, _ := existing.(*store.ApprovalRequest); prior != nil {
				return nil, &CoordinatorError{
					Code:    "CONFLICT",
					Message: fmt.Sprintf("approval %s was already decided (%s)", input.ID, prior.Status),
				}
			}
		}
		return nil, &CoordinatorError{
			Code:    "NOT_FOUND",
			Message: fmt.Sprintf("approval %s not found", input.ID),
		}
	}

	if err := c.publisher.PublishChanged(ctx, &events.CoordinatorChangedEvent{
		Kind:          events.KindApproval,
		App:           decided.App,
		ApprovalID:    decided.ID,
		ChangedFields: []string{"status"},
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Error(fmt.Sprintf("%s - PublishChanged failed: %v", approvalsLogPrefix, err))
	}

	info := toApprovalInfo(decided)
	return &info, nil
}

// ListApprovals lists approval requests with optional filters and
// pagination.
func (c *Coordinator) ListApprovals(ctx context.Context, input *ListApprovalsInput) (*ListApprovalsOutput, error) {
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
		approvals []store.ApprovalRequest
		total     int
	}

	res, err := c.execDB(ctx, func(ctx context.Context) (interface{}, error) {
		approvals, total, err := c.repo.ListApprovals(ctx, store.ListApprovalsParams{
			App:    input.App,
			Status: input.Status,
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			return nil, err
		}
		return listResult{approvals: approvals, total: total}, nil
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - ListApprovals failed: %v", approvalsLogPrefix, err))
		return nil, asCoordinatorError(err)
	}
	lr := res.(listResult)

	infos := make([]ApprovalInfo, 0, len(lr.approvals))
	for i := range lr.approvals {
		infos = append(infos, toApprovalInfo(&lr.approvals[i]))
	}

	totalPages := lr.total / limit
	if lr.total%limit != 0 {
		totalPages++
	}

	return &ListApprovalsOutput{
		Approvals: infos,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      lr.total,
			TotalPages: totalPages,
		},
	}, nil
}

// toApprovalInfo converts a storage row to the external approval view.
func toApprovalInfo(a *store.ApprovalRequest) ApprovalInfo {
	info := ApprovalInfo{
		ID:          a.ID,
		App:         a.App,
		Action:      a.Action,
		Payload:     a.Payload,
		Status:      a.Status,
		RequestedBy: a.RequestedBy,
		Created:     a.Created.UTC().Format(time.RFC3339),
	}
	if a.DecidedBy != nil {
		info.DecidedBy = *a.DecidedBy
	}
	if a.Reason != nil {
		info.Reason = *a.Reason
	}
	if a.Decided != nil {
		info.Decided = a.Decided.UTC().Format(time.RFC3339)
	}
	return info
}
