package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/controlplane-coordinator/pkg/deadline"
	"github.com/morezero/controlplane-coordinator/pkg/registration"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes COMMS requests to coordinator methods.
type Dispatcher struct {
	coordinator *registration.Coordinator
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(coord *registration.Coordinator) *Dispatcher {
	return &Dispatcher{coordinator: coord}
}

// Dispatch routes a request to the appropriate coordinator method and
// returns a response. A caller-supplied deadline bounds the whole call;
// an already-expired deadline is rejected without touching any dependency.
func (d *Dispatcher) Dispatch(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	userID := "system"
	if req.Ctx != nil && req.Ctx.UserID != "" {
		userID = req.Ctx.UserID
	}

	if req.Ctx != nil && req.Ctx.Deadline != "" {
		bounded, cancel, err := deadline.FromHeader(ctx, req.Ctx.Deadline)
		if errors.Is(err, deadline.ErrDeadlineExceeded) {
			return errorResponse(req.ID, "DEADLINE_EXCEEDED", "deadline already passed", false)
		}
		if err != nil {
			return errorResponse(req.ID, "INVALID_ARGUMENT", fmt.Sprintf("bad deadline: %v", err), false)
		}
		defer cancel()
		ctx = bounded
	}

	switch req.Method {
	case "register":
		return d.handleRegister(ctx, req)
	case "heartbeat":
		return d.handleHeartbeat(ctx, req)
	case "deregister":
		return d.handleDeregister(ctx, req)
	case "listInstances":
		return d.handleListInstances(ctx, req)
	case "resolveInstances":
		return d.handleResolveInstances(ctx, req)
	case "getConfig":
		return d.handleGetConfig(ctx, req)
	case "putConfig":
		return d.handlePutConfig(ctx, req, userID)
	case "submitApproval":
		return d.handleSubmitApproval(ctx, req)
	case "decideApproval":
		return d.handleDecideApproval(ctx, req)
	case "listApprovals":
		return d.handleListApprovals(ctx, req)
	case "health":
		return d.handleHealth(ctx, req)
	default:
		return &CoordinatorResponse{
			ID: req.ID,
			Ok: false,
			Error: &ErrorDetail{
				Code:      "METHOD_NOT_FOUND",
				Message:   fmt.Sprintf("Unknown method: %s", req.Method),
				Retryable: false,
			},
		}
	}
}

func (d *Dispatcher) handleRegister(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.RegisterInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse register params", false)
	}

	result, err := d.coordinator.Register(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleHeartbeat(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.HeartbeatInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse heartbeat params", false)
	}

	result, err := d.coordinator.Heartbeat(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleDeregister(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.DeregisterInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse deregister params", false)
	}

	result, err := d.coordinator.Deregister(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleListInstances(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.ListInstancesInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse listInstances params", false)
	}

	result, err := d.coordinator.ListInstances(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleResolveInstances(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.ResolveInstancesInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse resolveInstances params", false)
	}

	result, err := d.coordinator.ResolveInstances(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleGetConfig(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.GetConfigInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse getConfig params", false)
	}

	result, err := d.coordinator.GetConfig(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handlePutConfig(ctx context.Context, req *CoordinatorRequest, userID string) *CoordinatorResponse {
	var input registration.PutConfigInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse putConfig params", false)
	}

	result, err := d.coordinator.PutConfig(ctx, &input, userID)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleSubmitApproval(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.SubmitApprovalInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse submitApproval params", false)
	}

	result, err := d.coordinator.SubmitApproval(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleDecideApproval(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.DecideApprovalInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse decideApproval params", false)
	}

	result, err := d.coordinator.DecideApproval(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleListApprovals(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	var input registration.ListApprovalsInput
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse listApprovals params", false)
	}

	result, err := d.coordinator.ListApprovals(ctx, &input)
	if err != nil {
		return coordinatorErrorToResponse(req.ID, err)
	}
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleHealth(ctx context.Context, req *CoordinatorRequest) *CoordinatorResponse {
	result := d.coordinator.Health(ctx)
	return &CoordinatorResponse{ID: req.ID, Ok: true, Result: result}
}

// --- helpers ---

func errorResponse(id, code, message string, retryable bool) *CoordinatorResponse {
	return &CoordinatorResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func coordinatorErrorToResponse(id string, err error) *CoordinatorResponse {
	var ce *registration.CoordinatorError
	if errors.As(err, &ce) {
		retryable := ce.Code == "INTERNAL_ERROR" || ce.Code == "UNAVAILABLE"
		return &CoordinatorResponse{
			ID: id,
			Ok: false,
			Error: &ErrorDetail{
				Code:      ce.Code,
				Message:   ce.Message,
				Details:   ce.Details,
				Retryable: retryable,
			},
		}
	}
	if errors.Is(err, deadline.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errorResponse(id, "DEADLINE_EXCEEDED", err.Error(), false)
	}
	return errorResponse(id, "INTERNAL_ERROR", err.Error(), true)
}
