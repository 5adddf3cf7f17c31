package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadintel_backend/platform/config"
	"leadintel_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic enqueues the lifecycle sweep and goal recompute on their cron specs.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

// NewPeriodic registers the periodic tasks. An empty cron spec disables that task.
func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	p := &Periodic{
		scheduler: asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC}),
		log:       log,
	}

	queue := queueName(cfg)
	specs := []struct {
		cron string
		task *asynq.Task
	}{
		{cfg.GetLifecycleSweepCron(), NewLifecycleSweepTask()},
		{cfg.GetGoalRecomputeCron(), NewGoalsRecomputeTask()},
	}
	for _, s := range specs {
		spec := strings.TrimSpace(s.cron)
		if spec == "" {
			log.Warn("periodic task disabled", "task", s.task.Type())
			continue
		}
		// MaxRetry(0): the next tick is the retry.
		id, err := p.scheduler.Register(spec, s.task, asynq.Queue(queue), asynq.MaxRetry(0))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", s.task.Type(), err)
		}
		log.Info("periodic task registered", "task", s.task.Type(), "cron", spec, "entry_id", id)
	}
	return p, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (p *Periodic) Run(ctx context.Context) {
	if p == nil || p.scheduler == nil {
		return
	}
	if err := p.scheduler.Start(); err != nil {
		p.log.Error("periodic scheduler failed to start", "error", err)
		return
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
}
