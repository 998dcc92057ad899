// Package main runs the background job worker: queued analytics windows and session archives.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/config"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/app"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/worker"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Must(logging.Options{}).Fatal("load config", zap.Error(err))
	}
	logger := logging.Must(cfg.Log.Options())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()
	if a.Queue == nil {
		logger.Fatal("worker needs redis; set REDIS_ADDR")
	}

	var archiver worker.Archiver
	if a.Archive != nil {
		archiver = a.Archive
	} else {
		logger.Warn("s3 not configured; archive jobs will be dead-lettered")
	}
	processor, err := worker.NewProcessor(a.Queue, a.Analytics, archiver, cfg.Analytics.MetricTypes, cfg.Worker.PoolSize, logger)
	if err != nil {
		logger.Fatal("worker", zap.Error(err))
	}

	logger.Info("worker started", zap.Int("pool_size", cfg.Worker.PoolSize))
	if err := processor.Run(ctx); err != nil {
		logger.Error("worker", zap.Error(err))
	}
}
