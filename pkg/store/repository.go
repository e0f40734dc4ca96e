package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "store:repository"

// Repository provides database access for coordinator operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =========================================================================
// INSTANCE OPERATIONS
// =========================================================================

// UpsertInstanceParams holds parameters for UpsertInstance.
type UpsertInstanceParams struct {
	App        string
	InstanceID string
	Version    string
	Address    *string
	Tags       []string
	Metadata   map[string]interface{}
	TTL        time.Duration
}

// UpsertInstance registers an instance or refreshes an existing registration.
// Re-registration revives an expired or draining instance.
func (r *Repository) UpsertInstance(ctx context.Context, params UpsertInstanceParams) (*ServiceInstance, error) {
	slog.Info(fmt.Sprintf("%s - UpsertInstance app=%s instance=%s", repoLogPrefix, params.App, params.InstanceID))

	now := time.Now().UTC()
	metadataJSON, _ := json.Marshal(params.Metadata)
	if params.Metadata == nil {
		metadataJSON = []byte("{}")
	}
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO service_instances
		   (app, instance_id, version, address, tags, status, last_heartbeat, expires_at, metadata, created, modified)
		 VALUES ($1, $2, $3, $4, $5, 'active', $6, $7, $8, $6, $6)
		 ON CONFLICT (app, instance_id) DO UPDATE SET
		   version = $3,
		   address = COALESCE($4, service_instances.address),
		   tags = $5,
		   status = 'active',
		   revision = service_instances.revision + 1,
		   last_heartbeat = $6,
		   expires_at = $7,
		   metadata = COALESCE($8, service_instances.metadata),
		   modified = $6
		 RETURNING id, app, instance_id, version, address, tags, status, revision,
		           last_heartbeat, expires_at, created, modified, metadata`,
		params.App, params.InstanceID, params.Version, params.Address, tags,
		now, now.Add(params.TTL), metadataJSON)

	return scanInstance(row)
}

// TouchInstance refreshes an instance's heartbeat and lease. Returns nil
// when the instance is unknown or already expired (the caller must
// re-register).
func (r *Repository) TouchInstance(ctx context.Context, app, instanceID string, ttl time.Duration) (*ServiceInstance, error) {
	now := time.Now().UTC()

	row := r.pool.QueryRow(ctx,
		`UPDATE service_instances
		 SET last_heartbeat = $1, expires_at = $2, modified = $1
		 WHERE app = $3 AND instance_id = $4 AND status = 'active' AND expires_at > $1
		 RETURNING id, app, instance_id, version, address, tags, status, revision,
		           last_heartbeat, expires_at, created, modified, metadata`,
		now, now.Add(ttl), app, instanceID)

	return scanInstance(row)
}

// DeleteInstance removes an instance registration. Returns false when no
// matching row existed.
func (r *Repository) DeleteInstance(ctx context.Context, app, instanceID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM service_instances WHERE app = $1 AND instance_id = $2`, app, instanceID)
	if err != nil {
		return false, fmt.Errorf("%s - DeleteInstance failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListInstancesParams holds parameters for ListInstances.
type ListInstancesParams struct {
	App    string
	Status string
	Tags   []string
	Page   int
	Limit  int
}

// ListInstances lists registered instances with optional filters.
func (r *Repository) ListInstances(ctx context.Context, params ListInstancesParams) ([]ServiceInstance, int, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	// Build query dynamically
	query := `SELECT id, app, instance_id, version, address, tags, status, revision,
	                 last_heartbeat, expires_at, created, modified, metadata
	          FROM service_instances WHERE 1=1`
	countQuery := `SELECT COUNT(*)::int FROM service_instances WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.App != "" {
		clause := fmt.Sprintf(` AND app = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.App)
		argIdx++
	}
	if params.Status != "" && params.Status != "all" {
		clause := fmt.Sprintf(` AND status = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.Status)
		argIdx++
	}
	if len(params.Tags) > 0 {
		clause := fmt.Sprintf(` AND tags && $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.Tags)
		argIdx++
	}

	// Count
	var total int
	countArgs := make([]interface{}, len(args))
	copy(countArgs, args)
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s - ListInstances count failed: %w", repoLogPrefix, err)
	}

	// Data
	query += ` ORDER BY modified DESC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - ListInstances query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var instances []ServiceInstance
	for rows.Next() {
		inst, err := scanInstanceFromRows(rows)
		if err != nil {
			return nil, 0, err
		}
		instances = append(instances, *inst)
	}

	return instances, total, nil
}

// ListActiveInstances returns active, unexpired instances for an app ordered
// by version descending then instance id. Used by resolution.
func (r *Repository) ListActiveInstances(ctx context.Context, app string) ([]ServiceInstance, error) {
	now := time.Now().UTC()
	rows, err := r.pool.Query(ctx,
		`SELECT id, app, instance_id, version, address, tags, status, revision,
		        last_heartbeat, expires_at, created, modified, metadata
		 FROM service_instances
		 WHERE app = $1 AND status = 'active' AND expires_at > $2
		 ORDER BY version DESC, instance_id ASC`, app, now)
	if err != nil {
		return nil, fmt.Errorf("%s - ListActiveInstances failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var instances []ServiceInstance
	for rows.Next() {
		inst, err := scanInstanceFromRows(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, nil
}

// ExpireInstances marks active instances past their lease as expired and
// returns how many were expired.
func (r *Repository) ExpireInstances(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx,
		`UPDATE service_instances
		 SET status = 'expired', modified = $1
		 WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s - ExpireInstances failed: %w", repoLogPrefix, err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkInstanceDraining flips an instance to draining so resolution stops
// returning it while in-flight work finishes.
func (r *Repository) MarkInstanceDraining(ctx context.Context, app, instanceID string) (*ServiceInstance, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx,
		`UPDATE service_instances
		 SET status = 'draining', modified = $1
		 WHERE app = $2 AND instance_id = $3
		 RETURNING id, app, instance_id, version, address, tags, status, revision,
		           last_heartbeat, expires_at, created, modified, metadata`,
		now, app, instanceID)

	return scanInstance(row)
}

// =========================================================================
// CONFIG OPERATIONS
// =========================================================================

// GetConfig finds a config entry by app and key.
func (r *Repository) GetConfig(ctx context.Context, app, key string) (*ConfigEntry, error) {
	slog.Debug(fmt.Sprintf("%s - GetConfig app=%s key=%s", repoLogPrefix, app, key))

	row := r.pool.QueryRow(ctx,
		`SELECT id, app, key, value, revision, created, created_by, modified, modified_by
		 FROM config_entries
		 WHERE app = $1 AND key = $2
		 LIMIT 1`, app, key)

	return scanConfigEntry(row)
}

// UpsertConfigParams holds parameters for UpsertConfig.
type UpsertConfigParams struct {
	App    string
	Key    string
	Value  []byte
	UserID string
}

// UpsertConfig creates or updates a config entry, bumping its revision.
func (r *Repository) UpsertConfig(ctx context.Context, params UpsertConfigParams) (*ConfigEntry, error) {
	slog.Info(fmt.Sprintf("%s - UpsertConfig app=%s key=%s", repoLogPrefix, params.App, params.Key))

	now := time.Now().UTC()
	value := params.Value
	if value == nil {
		value = []byte("null")
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO config_entries (app, key, value, created_by, modified_by, created, modified)
		 VALUES ($1, $2, $3, $4, $4, $5, $5)
		 ON CONFLICT (app, key) DO UPDATE SET
		   value = $3,
		   revision = config_entries.revision + 1,
		   modified = $5,
		   modified_by = $4
		 RETURNING id, app, key, value, revision, created, created_by, modified, modified_by`,
		params.App, params.Key, value, params.UserID, now)

	return scanConfigEntry(row)
}

// ListConfig returns all config entries for an app ordered by key.
func (r *Repository) ListConfig(ctx context.Context, app string) ([]ConfigEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, app, key, value, revision, created, created_by, modified, modified_by
		 FROM config_entries
		 WHERE app = $1
		 ORDER BY key ASC`, app)
	if err != nil {
		return nil, fmt.Errorf("%s - ListConfig failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var entries []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(
			&e.ID, &e.App, &e.Key, &e.Value, &e.Revision,
			&e.Created, &e.CreatedBy, &e.Modified, &e.ModifiedBy,
		); err != nil {
			return nil, fmt.Errorf("%s - ListConfig scan failed: %w", repoLogPrefix, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// =========================================================================
// APPROVAL OPERATIONS
// =========================================================================

// CreateApprovalParams holds parameters for CreateApproval.
type CreateApprovalParams struct {
	App         string
	Action      string
	Payload     []byte
	RequestedBy string
}

// CreateApproval records a new pending approval request.
func (r *Repository) CreateApproval(ctx context.Context, params CreateApprovalParams) (*ApprovalRequest, error) {
	slog.Info(fmt.Sprintf("%s - CreateApproval app=%s action=%s", repoLogPrefix, params.App, params.Action))

	now := time.Now().UTC()
	payload := params.Payload
	if payload == nil {
		payload = []byte("{}")
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO approval_requests (app, action, payload, status, requested_by, created)
		 VALUES ($1, $2, $3, 'pending', $4, $5)
		 RETURNING id, app, action, payload, status, requested_by, decided_by, reason, created, decided`,
		params.App, params.Action, payload, params.RequestedBy, now)

	return scanApproval(row)
}

// GetApproval finds an approval request by id.
func (r *Repository) GetApproval(ctx context.Context, id string) (*ApprovalRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, app, action, payload, status, requested_by, decided_by, reason, created, decided
		 FROM approval_requests
		 WHERE id = $1
		 LIMIT 1`, id)

	return scanApproval(row)
}

// DecideApprovalParams holds parameters for DecideApproval.
type DecideApprovalParams struct {
	ID        string
	Status    string // "approved" or "denied"
	DecidedBy string
	Reason    *string
}

// DecideApproval resolves a pending approval. Returns nil when the request
// does not exist or was already decided; decisions are first-writer-wins.
func (r *Repository) DecideApproval(ctx context.Context, params DecideApprovalParams) (*ApprovalRequest, error) {
	now := time.Now().UTC()

	row := r.pool.QueryRow(ctx,
		`UPDATE approval_requests
		 SET status = $1, decided_by = $2, reason = $3, decided = $4
		 WHERE id = $5 AND status = 'pending'
		 RETURNING id, app, action, payload, status, requested_by, decided_by, reason, created, decided`,
		params.Status, params.DecidedBy, params.Reason, now, params.ID)

	return scanApproval(row)
}

// ListApprovalsParams holds parameters for ListApprovals.
type ListApprovalsParams struct {
	App    string
	Status string
	Page   int
	Limit  int
}

// ListApprovals lists approval requests with optional filters.
func (r *Repository) ListApprovals(ctx context.Context, params ListApprovalsParams) ([]ApprovalRequest, int, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := `SELECT id, app, action, payload, status, requested_by, decided_by, reason, created, decided
	          FROM approval_requests WHERE 1=1`
	countQuery := `SELECT COUNT(*)::int FROM approval_requests WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.App != "" {
		clause := fmt.Sprintf(` AND app = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.App)
		argIdx++
	}
	if params.Status != "" && params.Status != "all" {
		clause := fmt.Sprintf(` AND status = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.Status)
		argIdx++
	}

	var total int
	countArgs := make([]interface{}, len(args))
	copy(countArgs, args)
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s - ListApprovals count failed: %w", repoLogPrefix, err)
	}

	query += ` ORDER BY created DESC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - ListApprovals query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var approvals []ApprovalRequest
	for rows.Next() {
		var a ApprovalRequest
		if err := rows.Scan(
			&a.ID, &a.App, &a.Action, &a.Payload, &a.Status,
			&a.RequestedBy, &a.DecidedBy, &a.Reason, &a.Created, &a.Decided,
		); err != nil {
			return nil, 0, fmt.Errorf("%s - ListApprovals scan failed: %w", repoLogPrefix, err)
		}
		approvals = append(approvals, a)
	}

	return approvals, total, nil
}

// =========================================================================
// SCAN HELPERS
// =========================================================================

func scanInstance(row pgx.Row) (*ServiceInstance, error) {
	var i ServiceInstance
	err := row.Scan(
		&i.ID, &i.App, &i.InstanceID, &i.Version, &i.Address, &i.Tags, &i.Status, &i.Revision,
		&i.LastHeartbeat, &i.ExpiresAt, &i.Created, &i.Modified, &i.Metadata,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan instance failed: %w", repoLogPrefix, err)
	}
	return &i, nil
}

func scanInstanceFromRows(rows pgx.Rows) (*ServiceInstance, error) {
	var i ServiceInstance
	err := rows.Scan(
		&i.ID, &i.App, &i.InstanceID, &i.Version, &i.Address, &i.Tags, &i.Status, &i.Revision,
		&i.LastHeartbeat, &i.ExpiresAt, &i.Created, &i.Modified, &i.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("%s - scan instance from rows failed: %w", repoLogPrefix, err)
	}
	return &i, nil
}

func scanConfigEntry(row pgx.Row) (*ConfigEntry, error) {
	var e ConfigEntry
	err := row.Scan(
		&e.ID, &e.App, &e.Key, &e.Value, &e.Revision,
		&e.Created, &e.CreatedBy, &e.Modified, &e.ModifiedBy,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan config entry failed: %w", repoLogPrefix, err)
	}
	return &e, nil
}

func scanApproval(row pgx.Row) (*ApprovalRequest, error) {
	var a ApprovalRequest
	err := row.Scan(
		&a.ID, &a.App, &a.Action, &a.Payload, &a.Status,
		&a.RequestedBy, &a.DecidedBy, &a.Reason, &a.Created, &a.Decided,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan approval failed: %w", repoLogPrefix, err)
	}
	return &a, nil
}
