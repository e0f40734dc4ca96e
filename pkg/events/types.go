// Package events defines event types and publisher interfaces for coordinator change events.
package events

// Change kinds carried by CoordinatorChangedEvent.
const (
	KindInstance = "instance"
	KindConfig   = "config"
	KindApproval = "approval"
)

// CoordinatorChangedEvent is emitted when the coordinator's view of an
// application changes: an instance registers or drops, a config entry is
// written, or an approval is decided.
type CoordinatorChangedEvent struct {
	Kind          string   `json:"kind"`
	App           string   `json:"app"`
	InstanceID    string   `json:"instanceId,omitempty"`
	ConfigKey     string   `json:"configKey,omitempty"`
	ApprovalID    string   `json:"approvalId,omitempty"`
	ChangedFields []string `json:"changedFields,omitempty"`
	Revision      int      `json:"revision"`
	Timestamp     string   `json:"timestamp"`
	Env           string   `json:"env,omitempty"`
}
