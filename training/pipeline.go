// Package training runs the full model lifecycle cycle for one task:
// corpus → manifest → encode → train → evaluate → register → activate.
package training

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coffeetrade/feature"
	"coffeetrade/model"
	"coffeetrade/registry"
	"coffeetrade/store"
)

// Options are the training parameters fixed at startup.
type Options struct {
	// Algorithm resolves the configured backend per task.
	Algorithm func(task string) string
	// TestRatio is the holdout fraction for evaluation.
	TestRatio float64
	// WindowDays bounds how far back the training corpus reaches.
	WindowDays int
	// Seed makes training reproducible; zero keeps backend defaults.
	Seed int64
}

// Pipeline implements registry.Trainer. Training is CPU-bound and runs off
// the request path; a failed run registers nothing and leaves the previously
// active version untouched.
type Pipeline struct {
	store    *store.Store
	registry *registry.Registry
	opts     Options
	log      *zap.Logger
}

// NewPipeline wires a pipeline over the corpus store and model registry.
func NewPipeline(st *store.Store, reg *registry.Registry, opts Options, log *zap.Logger) *Pipeline {
	if opts.TestRatio <= 0 || opts.TestRatio >= 1 {
		opts.TestRatio = 0.2
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 730
	}
	return &Pipeline{store: st, registry: reg, opts: opts, log: log}
}

// Run trains, evaluates, registers and activates a new version for a task.
func (p *Pipeline) Run(ctx context.Context, task string) (*registry.Metadata, error) {
	started := time.Now()
	since := time.Now().AddDate(0, 0, -p.opts.WindowDays)

	raw, targets, err := p.corpus(task, since)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no %s records since %s", model.ErrInsufficientData, task, since.Format("2006-01-02"))
	}

	manifest, err := feature.BuildManifest(feature.SchemaFor(task), raw)
	if err != nil {
		return nil, err
	}
	manifest.SetLogger(p.log)

	set := model.TrainingSet{Names: manifest.Names(), Targets: targets}
	set.Vectors = make([][]float64, 0, len(raw))
	for _, rec := range raw {
		vec, err := manifest.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("encode training row: %w", err)
		}
		set.Vectors = append(set.Vectors, vec.Values)
	}

	if degenerate(targets) {
		p.log.Warn("training targets are all identical; model will predict a constant",
			zap.String("task", task),
			zap.Int("rows", len(targets)),
		)
	}

	algorithm := p.opts.Algorithm(task)
	backend, err := model.NewSeeded(algorithm, p.opts.Seed)
	if err != nil {
		return nil, err
	}

	trainSet, testSet := model.Split(set, p.opts.TestRatio)
	if err := backend.Train(trainSet); err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", task, algorithm, err)
	}

	evalSet := testSet
	if len(evalSet.Vectors) == 0 {
		// Corpus too small to split; evaluate on the training rows.
		evalSet = trainSet
	}
	metrics, err := model.Evaluate(backend, evalSet.Vectors, evalSet.Targets)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s/%s: %w", task, algorithm, err)
	}

	meta, err := p.registry.Register(ctx, task, backend, manifest, metrics, len(set.Vectors))
	if err != nil {
		return nil, err
	}
	if err := p.registry.Activate(ctx, task, meta.Version); err != nil {
		return nil, err
	}
	meta.Status = registry.StatusActive

	p.log.Info("training cycle complete",
		zap.String("task", task),
		zap.String("algorithm", algorithm),
		zap.String("version", meta.Version),
		zap.Int("samples", meta.SampleCount),
		zap.Float64("mae", metrics.MAE),
		zap.Float64("rmse", metrics.RMSE),
		zap.Float64("r2", metrics.R2),
		zap.Duration("elapsed", time.Since(started)),
	)
	return meta, nil
}

func (p *Pipeline) corpus(task string, since time.Time) ([]feature.Record, []float64, error) {
	switch task {
	case feature.TaskFreight:
		records, err := p.store.FreightRecords(since)
		if err != nil {
			return nil, nil, err
		}
		raw := make([]feature.Record, len(records))
		targets := make([]float64, len(records))
		for i, r := range records {
			raw[i] = r.Fields()
			targets[i] = r.CostUSD
		}
		return raw, targets, nil
	case feature.TaskPrice:
		records, err := p.store.PriceRecords(since)
		if err != nil {
			return nil, nil, err
		}
		raw := make([]feature.Record, len(records))
		targets := make([]float64, len(records))
		for i, r := range records {
			raw[i] = r.Fields()
			targets[i] = r.PricePerKG
		}
		return raw, targets, nil
	default:
		return nil, nil, fmt.Errorf("unknown task %q", task)
	}
}

func degenerate(targets []float64) bool {
	if len(targets) < 2 {
		return false
	}
	first := targets[0]
	for _, t := range targets[1:] {
		if t != first {
			return false
		}
	}
	return true
}
