package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/neuroscribe/scribebot/internal/bot/tasks"
	"github.com/neuroscribe/scribebot/internal/config"
)

// Scheduler manages the execution of periodic background tasks based on cron schedules.
type Scheduler struct {
	logger    *slog.Logger
	cfg       *config.Config
	scheduler gocron.Scheduler
	taskFuncs map[string]tasks.ScheduledTaskFunc
	mu        sync.Mutex
	isRunning bool
}

// NewScheduler creates and configures a new task scheduler, registering jobs
// for all enabled tasks found in the configuration.
func NewScheduler(
	logger *slog.Logger,
	cfg *config.Config,
	taskFuncs map[string]tasks.ScheduledTaskFunc,
) (*Scheduler, error) {
	schedulerLogger := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		schedulerLogger.Error("Failed to create gocron scheduler instance", "error", err)

		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	sched := &Scheduler{
		logger:    schedulerLogger,
		cfg:       cfg,
		scheduler: s,
		taskFuncs: taskFuncs,
	}

	for name, taskCfg := range cfg.Scheduler.Tasks {
		if !taskCfg.Enabled {
			schedulerLogger.Info("Task is disabled, skipping registration", "task_name", name)

			continue
		}

		taskFunc, ok := taskFuncs[name]
		if !ok {
			schedulerLogger.Warn("No task function registered for configured task, skipping", "task_name", name)

			continue
		}

		_, err := s.NewJob(
			gocron.CronJob(taskCfg.Schedule, true),
			gocron.NewTask(sched.runTask, name, taskFunc),
			gocron.WithName(name),
		)
		if err != nil {
			schedulerLogger.Error("Failed to schedule task", "task_name", name, "schedule", taskCfg.Schedule, "error", err)

			return nil, fmt.Errorf("failed to schedule task %q: %w", name, err)
		}

		schedulerLogger.Info("Task scheduled", "task_name", name, "schedule", taskCfg.Schedule)
	}

	return sched, nil
}

// runTask wraps a task function with logging and timing.
func (s *Scheduler) runTask(name string, taskFunc tasks.ScheduledTaskFunc) {
	s.logger.Info("Running scheduled task", "task_name", name)

	start := time.Now()
	err := taskFunc(context.Background())
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Scheduled task failed", "task_name", name, "duration", duration, "error", err)

		return
	}

	s.logger.Info("Scheduled task completed", "task_name", name, "duration", duration)
}

// Start begins the scheduler's execution loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.logger.Warn("Scheduler already running")

		return nil
	}

	s.scheduler.Start()
	s.isRunning = true
	s.logger.Info("Scheduler started")

	return nil
}

// Stop halts the scheduler and waits for any running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error("Error shutting down scheduler", "error", err)

		return fmt.Errorf("scheduler shutdown: %w", err)
	}

	s.isRunning = false
	s.logger.Info("Scheduler stopped")

	return nil
}
