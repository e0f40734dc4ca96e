package registration

import (
	"context"
	"encoding/json"
	"testing"
)

func TestSubmitApprovalValidation(t *testing.T) {
	c := validationCoordinator()

	tests := []struct {
		name  string
		input SubmitApprovalInput
	}{
		{"empty app", SubmitApprovalInput{Action: "scale-up", RequestedBy: "user-1"}},
		{"uppercase app", SubmitApprovalInput{App: "Billing", Action: "scale-up", RequestedBy: "user-1"}},
		{"missing action", SubmitApprovalInput{App: "billing", RequestedBy: "user-1"}},
		{"missing requestedBy", SubmitApprovalInput{App: "billing", Action: "scale-up"}},
		{"invalid payload", SubmitApprovalInput{App: "billing", Action: "scale-up", RequestedBy: "user-1", Payload: json.RawMessage(`{oops`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SubmitApproval(context.Background(), &tt.input)
			expectCode(t, err, "INVALID_ARGUMENT")
		})
	}
}

func TestDecideApprovalValidation(t *testing.T) {
	c := validationCoordinator()

	_, err := c.DecideApproval(context.Background(), &DecideApprovalInput{DecidedBy: "admin"})
	expectCode(t, err, "INVALID_ARGUMENT")

	_, err = c.DecideApproval(context.Background(), &DecideApprovalInput{ID: "a-1"})
	expectCode(t, err, "INVALID_ARGUMENT")
}

func TestSubmitApprovalNilRepo(t *testing.T) {
	c := NewCoordinator(NewCoordinatorParams{})
	_, err := c.SubmitApproval(context.Background(), &SubmitApprovalInput{
		App: "billing", Action: "scale-up", RequestedBy: "user-1",
	})
	expectCode(t, err, "INTERNAL_ERROR")
}

func TestHealthNilRepo(t *testing.T) {
	c := NewCoordinator(NewCoordinatorParams{})
	out := c.Health(context.Background())
	if out.Status != "unhealthy" {
		t.Errorf("approvals_test - expected unhealthy without a repository, got %s", out.Status)
	}
	if out.Checks.Database {
		t.Error("approvals_test - expected database check to fail without a repository")
	}
}
