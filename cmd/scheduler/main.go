package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"leadintel_backend/internal/app"
	"leadintel_backend/internal/scheduler"
	"leadintel_backend/platform/config"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		panic("failed to initialize tracing: " + err.Error())
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", "error", err)
		panic("failed to initialize application: " + err.Error())
	}
	defer components.Close()

	worker, err := scheduler.NewWorker(cfg, components.Pipeline.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	periodic, err := scheduler.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic tasks", "error", err)
		panic("failed to initialize periodic tasks: " + err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		periodic.Run(ctx)
	}()

	log.Info("scheduler running",
		"queue", cfg.GetAsynqQueueName(),
		"sweepCron", cfg.GetLifecycleSweepCron(),
		"goalCron", cfg.GetGoalRecomputeCron(),
	)
	wg.Wait()
	log.Info("scheduler stopped")
}
