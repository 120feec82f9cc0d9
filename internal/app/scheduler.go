package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"practo-harvester/internal/config"
	"practo-harvester/internal/observability"
)

// Job: один прогон; логгер уже несёт run_id
type Job func(ctx context.Context, logger *observability.Logger) error

const (
	ModeOneshot  = "oneshot"
	ModeInterval = "interval"
	ModeCron     = "cron"
)

// Scheduler запускает Job один раз, с фиксированным интервалом или по cron.
// Прогоны не перекрываются: следующий ждёт окончания предыдущего.
type Scheduler struct {
	mode     string
	interval time.Duration
	cronExpr string
	logger   *observability.Logger
}

func NewScheduler(cfg *config.Config, logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Scheduler{
		mode:     cfg.Scheduler.Mode,
		interval: cfg.GetSchedulerInterval(),
		cronExpr: cfg.Scheduler.CronExpr,
		logger:   logger,
	}
}

// Start блокирует до отмены ctx (для oneshot: до конца прогона).
// Ошибка прогона возвращается только в режиме oneshot; в остальных
// режимах она логируется и ждётся следующий запуск.
func (s *Scheduler) Start(ctx context.Context, job Job) error {
	switch s.mode {
	case ModeOneshot, "":
		return s.runOnce(ctx, job)
	case ModeInterval:
		return s.startInterval(ctx, job)
	case ModeCron:
		return s.startCron(ctx, job)
	default:
		return fmt.Errorf("unknown scheduler mode: %q", s.mode)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) error {
	runID := uuid.NewString()
	log := s.logger.With("run_id", runID)

	started := time.Now()
	log.Info("Run started", "mode", s.mode)
	err := job(ctx, log)
	if err != nil {
		log.Error("Run failed", "error", err.Error(), "duration", time.Since(started).String())
		return err
	}
	log.Info("Run finished", "duration", time.Since(started).String())
	return nil
}

func (s *Scheduler) startInterval(ctx context.Context, job Job) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be > 0")
	}
	s.logger.Info("Scheduler started", "mode", s.mode, "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_ = s.runOnce(ctx, job)
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) startCron(ctx context.Context, job Job) error {
	c := cron.New(
		cron.WithLogger(cronLogger{log: s.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.logger})),
	)
	if _, err := c.AddFunc(s.cronExpr, func() { _ = s.runOnce(ctx, job) }); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s.cronExpr, err)
	}

	s.logger.Info("Scheduler started", "mode", s.mode, "cron_expr", s.cronExpr)
	c.Start()

	<-ctx.Done()
	// Ждём текущий прогон
	<-c.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

// cronLogger: адаптер observability.Logger под cron.Logger
type cronLogger struct {
	log *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}

var _ cron.Logger = cronLogger{}
