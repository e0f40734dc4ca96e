//go:build integration

package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/controlplane-coordinator/pkg/dispatcher"
	"github.com/morezero/controlplane-coordinator/pkg/events"
	"github.com/morezero/controlplane-coordinator/pkg/registration"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const integrationTestPrefix = "tests:integration_test"
const integrationNatsPort = 14241

// Integration tests use DATABASE_URL (e.g. .../coordinator_test on platform
// Postgres). Create the database once: coordinator ensure-db coordinator_test

func TestIntegration_CoordinatorWithDB_FullFlow(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skipf("%s - DATABASE_URL not set (e.g. .../coordinator_test; create with coordinator ensure-db), skipping", integrationTestPrefix)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", integrationTestPrefix, err)
	}
	defer pool.Close()

	migrationPath := "migrations"
	if _, err := os.Stat(migrationPath); os.IsNotExist(err) {
		migrationPath = filepath.Join("..", "migrations")
	}
	migrationSQL, err := store.LoadMigrationFiles(migrationPath)
	if err != nil {
		t.Fatalf("%s - LoadMigrationFiles failed: %v", integrationTestPrefix, err)
	}
	if err := store.RunMigrations(ctx, pool, migrationSQL); err != nil {
		t.Fatalf("%s - RunMigrations failed: %v", integrationTestPrefix, err)
	}
	if err := store.ClearCoordinator(ctx, pool); err != nil {
		t.Fatalf("%s - ClearCoordinator failed: %v", integrationTestPrefix, err)
	}

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   integrationNatsPort,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", integrationTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", integrationTestPrefix)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("%s - failed to connect to NATS: %v", integrationTestPrefix, err)
	}
	defer nc.Close()

	repo := store.NewRepository(pool)
	var published []*events.CoordinatorChangedEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, event *events.CoordinatorChangedEvent) error {
		published = append(published, event)
		return nil
	})
	coord := registration.NewCoordinator(registration.NewCoordinatorParams{
		Repo:      repo,
		Publisher: pub,
		Config:    registration.DefaultConfig(),
	})
	disp := dispatcher.NewDispatcher(coord)

	subject := "coordinator.api.integration.v1"
	_, err = nc.Subscribe(subject, func(msg *comms.Msg) {
		var req dispatcher.CoordinatorRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp := &dispatcher.CoordinatorResponse{
				Ok:    false,
				Error: &dispatcher.ErrorDetail{Code: "INVALID_REQUEST", Message: "Failed to decode request"},
			}
			data, _ := json.Marshal(resp)
			msg.Respond(data)
			return
		}
		reqCtx, reqCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer reqCancel()
		resp := disp.Dispatch(reqCtx, &req)
		data, _ := json.Marshal(resp)
		msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", integrationTestPrefix, err)
	}

	send := func(req *dispatcher.CoordinatorRequest) *dispatcher.CoordinatorResponse {
		data, _ := json.Marshal(req)
		msg, err := nc.Request(subject, data, 10*time.Second)
		if err != nil {
			t.Fatalf("%s - request failed: %v", integrationTestPrefix, err)
		}
		var resp dispatcher.CoordinatorResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			t.Fatalf("%s - unmarshal response: %v", integrationTestPrefix, err)
		}
		return &resp
	}

	// 1. Register two versions of the billing app.
	for i, version := range []string{"1.2.0", "1.4.1"} {
		params, _ := json.Marshal(map[string]interface{}{
			"app":        "billing",
			"instanceId": fmt.Sprintf("billing-%d", i+1),
			"version":    version,
			"address":    fmt.Sprintf("10.0.0.%d:9000", i+1),
			"tags":       []string{"zone-a"},
		})
		resp := send(&dispatcher.CoordinatorRequest{
			ID:     fmt.Sprintf("int-register-%d", i+1),
			Method: "register",
			Params: params,
		})
		if !resp.Ok {
			t.Fatalf("%s - register %s failed: %v", integrationTestPrefix, version, resp.Error)
		}
		result, _ := json.Marshal(resp.Result)
		var regOut registration.RegisterOutput
		if err := json.Unmarshal(result, &regOut); err != nil {
			t.Fatalf("%s - register result unmarshal: %v", integrationTestPrefix, err)
		}
		if regOut.Action != "created" {
			t.Errorf("%s - register action = %q, want created", integrationTestPrefix, regOut.Action)
		}
		if regOut.TTLSeconds <= 0 {
			t.Errorf("%s - register TTL = %d, want > 0", integrationTestPrefix, regOut.TTLSeconds)
		}
	}

	// 2. Heartbeat renews the lease.
	resp := send(&dispatcher.CoordinatorRequest{
		ID:     "int-heartbeat-1",
		Method: "heartbeat",
		Params: json.RawMessage(`{"app": "billing", "instanceId": "billing-1"}`),
	})
	if !resp.Ok {
		t.Fatalf("%s - heartbeat failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ := json.Marshal(resp.Result)
	var hbOut registration.HeartbeatOutput
	if err := json.Unmarshal(result, &hbOut); err != nil {
		t.Fatalf("%s - heartbeat result unmarshal: %v", integrationTestPrefix, err)
	}
	if !hbOut.Renewed {
		t.Errorf("%s - heartbeat should renew a live lease", integrationTestPrefix)
	}

	// 3. Resolve with a semver range picks the highest matching version.
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-resolve-1",
		Method: "resolveInstances",
		Params: json.RawMessage(`{"ref": "billing@^1.0.0"}`),
		Ctx:    &dispatcher.InvocationContext{Env: "production"},
	})
	if !resp.Ok {
		t.Fatalf("%s - resolveInstances failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	var resolveOut registration.ResolveInstancesOutput
	if err := json.Unmarshal(result, &resolveOut); err != nil {
		t.Fatalf("%s - resolve result unmarshal: %v", integrationTestPrefix, err)
	}
	if resolveOut.ResolvedVersion != "1.4.1" {
		t.Errorf("%s - ResolvedVersion = %q, want 1.4.1", integrationTestPrefix, resolveOut.ResolvedVersion)
	}
	if len(resolveOut.Instances) != 1 {
		t.Errorf("%s - resolved %d instances, want 1", integrationTestPrefix, len(resolveOut.Instances))
	}

	// 4. Put config, then read it back.
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-putconfig-1",
		Method: "putConfig",
		Params: json.RawMessage(`{"app": "billing", "key": "rate-limit", "value": {"rps": 100}}`),
		Ctx:    &dispatcher.InvocationContext{UserID: "ops-1"},
	})
	if !resp.Ok {
		t.Fatalf("%s - putConfig failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	var putOut registration.PutConfigOutput
	if err := json.Unmarshal(result, &putOut); err != nil {
		t.Fatalf("%s - putConfig result unmarshal: %v", integrationTestPrefix, err)
	}
	if putOut.Revision != 1 {
		t.Errorf("%s - putConfig revision = %d, want 1", integrationTestPrefix, putOut.Revision)
	}

	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-getconfig-1",
		Method: "getConfig",
		Params: json.RawMessage(`{"app": "billing", "key": "rate-limit"}`),
	})
	if !resp.Ok {
		t.Fatalf("%s - getConfig failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	var getOut registration.GetConfigOutput
	if err := json.Unmarshal(result, &getOut); err != nil {
		t.Fatalf("%s - getConfig result unmarshal: %v", integrationTestPrefix, err)
	}
	var value struct {
		RPS int `json:"rps"`
	}
	if err := json.Unmarshal(getOut.Value, &value); err != nil {
		t.Fatalf("%s - getConfig value unmarshal: %v", integrationTestPrefix, err)
	}
	if value.RPS != 100 {
		t.Errorf("%s - config rps = %d, want 100", integrationTestPrefix, value.RPS)
	}

	// 5. Approval round trip: submit, decide, re-decide is final.
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-approval-1",
		Method: "submitApproval",
		Params: json.RawMessage(`{"app": "billing", "action": "scale-up", "requestedBy": "ops-1", "payload": {"replicas": 5}}`),
	})
	if !resp.Ok {
		t.Fatalf("%s - submitApproval failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	var approval registration.ApprovalInfo
	if err := json.Unmarshal(result, &approval); err != nil {
		t.Fatalf("%s - submitApproval result unmarshal: %v", integrationTestPrefix, err)
	}
	if approval.Status != "pending" {
		t.Errorf("%s - approval status = %q, want pending", integrationTestPrefix, approval.Status)
	}

	decideParams, _ := json.Marshal(map[string]interface{}{
		"id":        approval.ID,
		"approve":   true,
		"decidedBy": "lead-1",
		"reason":    "capacity available",
	})
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-approval-2",
		Method: "decideApproval",
		Params: decideParams,
	})
	if !resp.Ok {
		t.Fatalf("%s - decideApproval failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	var decided registration.ApprovalInfo
	if err := json.Unmarshal(result, &decided); err != nil {
		t.Fatalf("%s - decideApproval result unmarshal: %v", integrationTestPrefix, err)
	}
	if decided.Status != "approved" {
		t.Errorf("%s - decided status = %q, want approved", integrationTestPrefix, decided.Status)
	}
	if decided.DecidedBy != "lead-1" {
		t.Errorf("%s - decidedBy = %q, want lead-1", integrationTestPrefix, decided.DecidedBy)
	}

	// A second decision on the same request is rejected as already decided.
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-approval-3",
		Method: "decideApproval",
		Params: decideParams,
	})
	if resp.Ok {
		t.Errorf("%s - expected second decision to fail", integrationTestPrefix)
	} else if resp.Error.Code != "CONFLICT" {
		t.Errorf("%s - second decision code = %q, want CONFLICT", integrationTestPrefix, resp.Error.Code)
	}

	// 6. List instances for the app.
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-list-1",
		Method: "listInstances",
		Params: json.RawMessage(`{"app": "billing", "page": 1, "limit": 10}`),
	})
	if !resp.Ok {
		t.Fatalf("%s - listInstances failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	var listOut registration.ListInstancesOutput
	if err := json.Unmarshal(result, &listOut); err != nil {
		t.Fatalf("%s - listInstances result unmarshal: %v", integrationTestPrefix, err)
	}
	if listOut.Pagination.Total != 2 {
		t.Errorf("%s - listInstances total = %d, want 2", integrationTestPrefix, listOut.Pagination.Total)
	}

	// 7. Deregister one instance and confirm resolution shifts.
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-deregister-1",
		Method: "deregister",
		Params: json.RawMessage(`{"app": "billing", "instanceId": "billing-2"}`),
	})
	if !resp.Ok {
		t.Fatalf("%s - deregister failed: %v", integrationTestPrefix, resp.Error)
	}
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-resolve-2",
		Method: "resolveInstances",
		Params: json.RawMessage(`{"ref": "billing@^1.0.0"}`),
	})
	if !resp.Ok {
		t.Fatalf("%s - resolveInstances after deregister failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	resolveOut = registration.ResolveInstancesOutput{}
	if err := json.Unmarshal(result, &resolveOut); err != nil {
		t.Fatalf("%s - resolve result unmarshal: %v", integrationTestPrefix, err)
	}
	if resolveOut.ResolvedVersion != "1.2.0" {
		t.Errorf("%s - ResolvedVersion after deregister = %q, want 1.2.0", integrationTestPrefix, resolveOut.ResolvedVersion)
	}

	// 8. Health over the wire reports a reachable database.
	resp = send(&dispatcher.CoordinatorRequest{
		ID:     "int-health-1",
		Method: "health",
		Params: json.RawMessage(`{}`),
	})
	if !resp.Ok {
		t.Fatalf("%s - health failed: %v", integrationTestPrefix, resp.Error)
	}
	result, _ = json.Marshal(resp.Result)
	var healthOut registration.HealthOutput
	if err := json.Unmarshal(result, &healthOut); err != nil {
		t.Fatalf("%s - health result unmarshal: %v", integrationTestPrefix, err)
	}
	if healthOut.Status != "healthy" {
		t.Errorf("%s - health status = %q, want healthy", integrationTestPrefix, healthOut.Status)
	}
	if !healthOut.Checks.Database {
		t.Errorf("%s - health database check should be true", integrationTestPrefix)
	}

	// Change events were published for registrations, config, and approvals.
	if len(published) < 4 {
		t.Errorf("%s - expected at least 4 change events, got %d", integrationTestPrefix, len(published))
	}
}
