// Package registration implements the core coordinator business logic:
// instance registry with heartbeat leases, per-app configuration, and an
// approval workflow for guarded actions.
package registration

import "encoding/json"

// InstanceInfo is the external view of a registered instance.
type InstanceInfo struct {
	App           string   `json:"app"`
	InstanceID    string   `json:"instanceId"`
	Version       string   `json:"version"`
	Address       string   `json:"address,omitempty"`
	Tags          []string `json:"tags"`
	Status        string   `json:"status"`
	Revision      int      `json:"revision"`
	LastHeartbeat string   `json:"lastHeartbeat"`
	ExpiresAt     string   `json:"expiresAt"`
}

// RegisterInput holds parameters for the register method.
type RegisterInput struct {
	App        string                 `json:"app"`
	InstanceID string                 `json:"instanceId"`
	Version    string                 `json:"version"`
	Address    string                 `json:"address,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	TTLSeconds int                    `json:"ttlSeconds,omitempty"`
}

// RegisterOutput holds the result of the register method.
type RegisterOutput struct {
	Action     string       `json:"action"` // "created" or "updated"
	Instance   InstanceInfo `json:"instance"`
	TTLSeconds int          `json:"ttlSeconds"`
}

// HeartbeatInput holds parameters for the heartbeat method.
type HeartbeatInput struct {
	App        string `json:"app"`
	InstanceID string `json:"instanceId"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

// HeartbeatOutput holds the result of the heartbeat method.
type HeartbeatOutput struct {
	Renewed   bool   `json:"renewed"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// DeregisterInput holds parameters for the deregister method.
type DeregisterInput struct {
	App        string `json:"app"`
	InstanceID string `json:"instanceId"`
}

// DeregisterOutput holds the result of the deregister method.
type DeregisterOutput struct {
	Removed bool `json:"removed"`
}

// ListInstancesInput holds parameters for the listInstances method.
type ListInstancesInput struct {
	App    string   `json:"app,omitempty"`
	Status string   `json:"status,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Page   int      `json:"page,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// ListInstancesOutput holds the result of the listInstances method.
type ListInstancesOutput struct {
	Instances  []InstanceInfo `json:"instances"`
	Pagination Pagination     `json:"pagination"`
}

// ResolveInstancesInput holds parameters for the resolveInstances method.
type ResolveInstancesInput struct {
	// Ref is an app reference, optionally with a version range
	// (e.g. "billing", "billing@^1.2.0").
	Ref   string   `json:"ref"`
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// ResolveInstancesOutput holds the result of the resolveInstances method.
type ResolveInstancesOutput struct {
	App             string         `json:"app"`
	ResolvedVersion string         `json:"resolvedVersion"`
	Instances       []InstanceInfo `json:"instances"`
}

// GetConfigInput holds parameters for the getConfig method.
type GetConfigInput struct {
	App string `json:"app"`
	Key string `json:"key"`
}

// GetConfigOutput holds the result of the getConfig method.
type GetConfigOutput struct {
	App      string          `json:"app"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Revision int             `json:"revision"`
	Modified string          `json:"modified"`
}

// PutConfigInput holds parameters for the putConfig method.
type PutConfigInput struct {
	App   string          `json:"app"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	// Push forwards the new value to the app's live worker instances.
	Push bool `json:"push,omitempty"`
}

// PutConfigOutput holds the result of the putConfig method.
type PutConfigOutput struct {
	Revision int  `json:"revision"`
	Pushed   bool `json:"pushed"`
}

// SubmitApprovalInput holds parameters for the submitApproval method.
type SubmitApprovalInput struct {
	App         string          `json:"app"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RequestedBy string          `json:"requestedBy"`
}

// ApprovalInfo is the external view of an approval request.
type ApprovalInfo struct {
	ID          string          `json:"id"`
	App         string          `json:"app"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      string          `json:"status"`
	RequestedBy string          `json:"requestedBy"`
	DecidedBy   string          `json:"decidedBy,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Created     string          `json:"created"`
	Decided     string          `json:"decided,omitempty"`
}

// DecideApprovalInput holds parameters for the decideApproval method.
type DecideApprovalInput struct {
	ID        string `json:"id"`
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decidedBy"`
	Reason    string `json:"reason,omitempty"`
}

// ListApprovalsInput holds parameters for the listApprovals method.
type ListApprovalsInput struct {
	App    string `json:"app,omitempty"`
	Status string `json:"status,omitempty"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ListApprovalsOutput holds the result of the listApprovals method.
type ListApprovalsOutput struct {
	Approvals  []ApprovalInfo `json:"approvals"`
	Pagination Pagination     `json:"pagination"`
}

// Pagination holds pagination information.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// HealthOutput holds the result of the health method.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	Database bool `json:"database"`
}

// CoordinatorError is a structured error from the coordinator.
type CoordinatorError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *CoordinatorError) Error() string {
	return e.Code + ": " + e.Message
}

// NewCoordinatorError creates a new CoordinatorError.
func NewCoordinatorError(code, message string) *CoordinatorError {
	return &CoordinatorError{Code: code, Message: message}
}
