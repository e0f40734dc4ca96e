// Package store provides coordinator data clearing.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "store:clear"

// ClearCoordinator truncates all coordinator tables (service_instances,
// config_entries, approval_requests). Schema is preserved; only data is
// removed. RESTART IDENTITY resets sequences.
func ClearCoordinator(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing coordinator tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE
		service_instances,
		config_entries,
		approval_requests
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Coordinator data cleared", clearLogPrefix))
	return nil
}
