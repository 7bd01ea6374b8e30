package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"coffeetrade/config"
	"coffeetrade/feature"
	"coffeetrade/logx"
	"coffeetrade/registry"
	"coffeetrade/store"
	"coffeetrade/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	task := flag.String("task", "", "prediction task: freight or price")
	flag.Parse()

	if *task != feature.TaskFreight && *task != feature.TaskPrice {
		log.Fatalf("task must be %q or %q", feature.TaskFreight, feature.TaskPrice)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logx.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	reg, err := registry.New(st.DB(), cfg.Models.Dir, logger)
	if err != nil {
		log.Fatalf("failed to initialize registry: %v", err)
	}

	pipeline := training.NewPipeline(st, reg, training.Options{
		Algorithm:  cfg.Algorithm,
		TestRatio:  cfg.Training.TestRatio,
		WindowDays: cfg.Training.WindowDays,
		Seed:       cfg.Training.Seed,
	}, logger)
	reg.BindTrainer(pipeline)

	meta, err := reg.Retrain(context.Background(), *task)
	if err != nil {
		log.Fatalf("retrain failed: %v", err)
	}

	fmt.Printf("trained %s model %s (%s): mae=%.3f rmse=%.3f r2=%.3f samples=%d\n",
		meta.Task, meta.Version, meta.Algorithm,
		meta.Metrics.MAE, meta.Metrics.RMSE, meta.Metrics.R2, meta.SampleCount)
}
