package tasks

import "context"

// ScheduledTaskFunc defines the signature for a background task function.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks creates and returns a map of all scheduled task functions,
// keyed by the task name used in the scheduler configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	return map[string]ScheduledTaskFunc{
		"sql_maintenance": newSQLMaintenanceTask(deps),
		"expiry_notice":   newExpiryNoticeTask(deps),
	}
}
