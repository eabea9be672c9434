package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/config"
	"github.com/hibiken/asynq"
)

// Task type names for the periodic sweeps.
const (
	TaskScheduledChanges = "sweep:scheduled_changes"
	TaskExpiredCommands  = "sweep:expired_commands"
	TaskCommandRetries   = "sweep:command_retries"
	TaskOverduePayments  = "sweep:overdue_payments"

	sweepQueue = "sweeps"
)

// StatusSweeper applies due scheduled status changes.
type StatusSweeper interface {
	ProcessScheduledChanges(ctx context.Context) (int, error)
}

// CommandSweeper expires and retries device commands.
type CommandSweeper interface {
	ProcessExpiredCommands(ctx context.Context) (int, error)
	ProcessCommandRetries(ctx context.Context) (int, error)
}

// PaymentSweeper suspends installations with payments past the grace period.
type PaymentSweeper interface {
	ProcessOverduePayments(ctx context.Context) (int, error)
}

// Scheduler runs the four reconciliation sweeps on their configured
// intervals. Every sweep is idempotent, so overlapping or repeated runs are
// harmless.
type Scheduler struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *slog.Logger
}

func New(
	cfg *config.Config,
	statusSweeper StatusSweeper,
	commandSweeper CommandSweeper,
	paymentSweeper PaymentSweeper,
	appLogger *slog.Logger,
) (*Scheduler, error) {
	logger := appLogger.With("component", "scheduler")

	redisOpt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{sweepQueue: 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskScheduledChanges, func(ctx context.Context, _ *asynq.Task) error {
		n, err := statusSweeper.ProcessScheduledChanges(ctx)
		logSweep(logger, TaskScheduledChanges, n, err)
		return err
	})
	mux.HandleFunc(TaskExpiredCommands, func(ctx context.Context, _ *asynq.Task) error {
		n, err := commandSweeper.ProcessExpiredCommands(ctx)
		logSweep(logger, TaskExpiredCommands, n, err)
		return err
	})
	mux.HandleFunc(TaskCommandRetries, func(ctx context.Context, _ *asynq.Task) error {
		n, err := commandSweeper.ProcessCommandRetries(ctx)
		logSweep(logger, TaskCommandRetries, n, err)
		return err
	})
	mux.HandleFunc(TaskOverduePayments, func(ctx context.Context, _ *asynq.Task) error {
		n, err := paymentSweeper.ProcessOverduePayments(ctx)
		logSweep(logger, TaskOverduePayments, n, err)
		return err
	})

	sched := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	entries := []struct {
		taskType string
		interval time.Duration
	}{
		{TaskScheduledChanges, cfg.ScheduledSweepInterval},
		{TaskExpiredCommands, cfg.ExpirySweepInterval},
		{TaskCommandRetries, cfg.RetrySweepInterval},
		{TaskOverduePayments, cfg.PaymentSweepInterval},
	}
	for _, e := range entries {
		spec := fmt.Sprintf("@every %s", e.interval)
		task := asynq.NewTask(e.taskType, nil)
		if _, err := sched.Register(spec, task, asynq.Queue(sweepQueue)); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", e.taskType, err)
		}
		logger.Info("Sweep registered", "task", e.taskType, "interval", e.interval)
	}

	return &Scheduler{
		server:    server,
		scheduler: sched,
		mux:       mux,
		logger:    logger,
	}, nil
}

// Start launches the worker and the periodic enqueuer.
func (s *Scheduler) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("failed to start sweep worker: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("failed to start sweep scheduler: %w", err)
	}
	s.logger.Info("Sweep scheduler started")
	return nil
}

// Shutdown stops enqueuing first, then drains the worker.
func (s *Scheduler) Shutdown() {
	s.logger.Info("Stopping sweep scheduler")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}

func logSweep(logger *slog.Logger, task string, n int, err error) {
	if err != nil {
		logger.Error("Sweep failed", "task", task, "error", err)
		return
	}
	if n > 0 {
		logger.Info("Sweep applied changes", "task", task, "count", n)
	}
}
