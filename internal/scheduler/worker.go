package scheduler

import (
	"context"
	"errors"
	"fmt"

	"leadintel_backend/internal/enrichment"
	goalservice "leadintel_backend/internal/goals/service"
	"leadintel_backend/internal/lifecycle"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/config"
	"leadintel_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Jobs is the work the worker dispatches to.
type Jobs interface {
	RunEnrichment(ctx context.Context, req enrichment.Request) error
	SweepAll(ctx context.Context) (lifecycle.SweepResult, error)
	RecomputeGoals(ctx context.Context) (goalservice.RecomputeResult, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	jobs   Jobs
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, jobs Jobs, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		jobs:   jobs,
		log:    log,
	}
	w.routes()
	return w, nil
}

func (w *Worker) routes() {
	w.mux.HandleFunc(TaskEnrichLead, w.handleEnrichLead)
	w.mux.HandleFunc(TaskLifecycleSweep, w.handleLifecycleSweep)
	w.mux.HandleFunc(TaskGoalsRecompute, w.handleGoalsRecompute)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleEnrichLead(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseEnrichLeadPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	req, err := payload.Request()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	err = w.jobs.RunEnrichment(ctx, req)
	if err == nil {
		w.log.Info("queued enrichment finished", "lead_id", req.LeadID, "tenant_id", req.TenantID)
		return nil
	}
	w.log.Warn("queued enrichment failed", "lead_id", req.LeadID, "tenant_id", req.TenantID, "error", err)
	return retryable(err)
}

func (w *Worker) handleLifecycleSweep(ctx context.Context, _ *asynq.Task) error {
	res, err := w.jobs.SweepAll(ctx)
	if errors.Is(err, lifecycle.ErrSweepRunning) {
		w.log.Info("lifecycle sweep skipped, another sweep is running")
		return nil
	}
	if err != nil {
		return err
	}
	w.log.Info("scheduled lifecycle sweep finished",
		"examined", res.Examined,
		"stale", res.StaleCount,
		"archived", res.ArchivedCount,
		"reactivated", res.ReactivatedCount,
		"failed", len(res.Failures),
	)
	return nil
}

func (w *Worker) handleGoalsRecompute(ctx context.Context, _ *asynq.Task) error {
	res, err := w.jobs.RecomputeGoals(ctx)
	if err != nil {
		return err
	}
	w.log.Info("scheduled goal recompute finished", "goals", res.Goals, "failures", res.Failures)
	return nil
}

// retryable lets asynq retry only failures the caller could retry as well.
func retryable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || apperr.IsRetryable(err) {
		return err
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.KindInternal {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
