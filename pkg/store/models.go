package store

import "time"

// Instance statuses.
const (
	InstanceActive   = "active"
	InstanceDraining = "draining"
	InstanceExpired  = "expired"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// ServiceInstance represents a row in the service_instances table.
type ServiceInstance struct {
	ID            string    `json:"id"`
	App           string    `json:"app"`
	InstanceID    string    `json:"instance_id"`
	Version       string    `json:"version"`
	Address       *string   `json:"address,omitempty"`
	Tags          []string  `json:"tags"`
	Status        string    `json:"status"`
	Revision      int       `json:"revision"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ExpiresAt     time.Time `json:"expires_at"`
	Created       time.Time `json:"created"`
	Modified      time.Time `json:"modified"`
	Metadata      []byte    `json:"metadata,omitempty"`
}

// ConfigEntry represents a row in the config_entries table.
type ConfigEntry struct {
	ID         string    `json:"id"`
	App        string    `json:"app"`
	Key        string    `json:"key"`
	Value      []byte    `json:"value"`
	Revision   int       `json:"revision"`
	Created    time.Time `json:"created"`
	CreatedBy  string    `json:"created_by"`
	Modified   time.Time `json:"modified"`
	ModifiedBy string    `json:"modified_by"`
}

// ApprovalRequest represents a row in the approval_requests table.
type ApprovalRequest struct {
	ID          string     `json:"id"`
	App         string     `json:"app"`
	Action      string     `json:"action"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      string     `json:"status"`
	RequestedBy string     `json:"requested_by"`
	DecidedBy   *string    `json:"decided_by,omitempty"`
	Reason      *string    `json:"reason,omitempty"`
	Created     time.Time  `json:"created"`
	Decided     *time.Time `json:"decided,omitempty"`
}
