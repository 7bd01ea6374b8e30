package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"coffeetrade/config"
	"coffeetrade/feature"
	"coffeetrade/logx"
	"coffeetrade/registry"
	"coffeetrade/store"
	"coffeetrade/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logx.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer st.Close()
	logger.Info("database opened", zap.String("path", cfg.Database.Path))

	reg, err := registry.New(st.DB(), cfg.Models.Dir, logger)
	if err != nil {
		logger.Fatal("failed to initialize model registry", zap.Error(err))
	}

	pipeline := training.NewPipeline(st, reg, training.Options{
		Algorithm:  cfg.Algorithm,
		TestRatio:  cfg.Training.TestRatio,
		WindowDays: cfg.Training.WindowDays,
		Seed:       cfg.Training.Seed,
	}, logger)
	reg.BindTrainer(pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Warm the cache so first predictions skip artifact deserialization.
	for _, task := range []string{feature.TaskFreight, feature.TaskPrice} {
		_, meta, err := reg.GetActive(ctx, task)
		if errors.Is(err, registry.ErrNoActiveModel) {
			logger.Warn("no active model yet, run cmd/trainmodel", zap.String("task", task))
			continue
		}
		if err != nil {
			logger.Error("failed to load active model", zap.String("task", task), zap.Error(err))
			continue
		}
		logger.Info("active model loaded",
			zap.String("task", task),
			zap.String("algorithm", meta.Algorithm),
			zap.String("version", meta.Version),
		)
	}

	go func() {
		if err := reg.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("artifact watcher stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
}
