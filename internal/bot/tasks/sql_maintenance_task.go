package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask returns a task that runs periodic database maintenance.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting database maintenance")

		start := time.Now()

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Database maintenance failed", "error", err)

			return fmt.Errorf("database maintenance: %w", err)
		}

		log.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(start))

		return nil
	}
}
