// Package registry persists trained model artifacts and their metadata and
// governs the model lifecycle: register as training, promote to active,
// supersede to deprecated. Versions are append-only; at most one version per
// task is active at any time and promotion is a single transaction.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"coffeetrade/feature"
	"coffeetrade/model"
)

// Status is the lifecycle state of a model version.
type Status string

const (
	StatusTraining   Status = "training"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
)

var (
	// ErrNoActiveModel is returned when a task has no active version.
	ErrNoActiveModel = errors.New("no active model for task")
	// ErrArtifactCorrupt is returned when a stored artifact cannot be
	// deserialized and no previously-active version is loadable.
	ErrArtifactCorrupt = errors.New("model artifact corrupt")
	// ErrUnknownVersion is returned when promoting a version that was
	// never registered.
	ErrUnknownVersion = errors.New("unknown model version")
)

// Metadata describes one registered model version. Rows are never deleted.
type Metadata struct {
	ID          int64
	Task        string
	Algorithm   string
	Version     string
	TrainedAt   time.Time
	Metrics     model.Metrics
	SampleCount int
	Status      Status
}

// Trainer runs a full train→evaluate→register→activate cycle for a task.
// The registry delegates Retrain to it so callers need a single entry point.
type Trainer interface {
	Run(ctx context.Context, task string) (*Metadata, error)
}

const cacheSize = 8

// Loaded pairs a deserialized backend with the encoding manifest frozen at
// its training time. Both are immutable once loaded and safe to share across
// concurrent readers.
type Loaded struct {
	Backend  model.Regressor
	Manifest *feature.Manifest
}

// artifactBundle is the on-disk layout: the backend blob plus the manifest,
// stored together so train-time encoding statistics can never drift from the
// model that was fitted on them.
type artifactBundle struct {
	Algorithm string            `json:"algorithm"`
	Manifest  *feature.Manifest `json:"manifest"`
	Model     json.RawMessage   `json:"model"`
}

// Registry stores metadata rows in sqlite and artifacts as files under dir.
// Loaded backends are cached; a loaded Regressor is immutable and may be
// shared by concurrent readers, so in-flight predictions keep their version
// across a promotion.
type Registry struct {
	db    *sql.DB
	dir   string
	log   *zap.Logger
	cache *lru.Cache[string, *Loaded]

	mu         sync.Mutex
	retraining map[string]bool
	trainer    Trainer
}

// New creates a registry over a shared database handle, ensuring its table
// and artifact directory exist.
func New(db *sql.DB, dir string, log *zap.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	query := `
    CREATE TABLE IF NOT EXISTS models (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        task VARCHAR(20) NOT NULL,
        algorithm VARCHAR(40) NOT NULL,
        version VARCHAR(20) NOT NULL,
        trained_at DATETIME NOT NULL,
        mae REAL NOT NULL,
        rmse REAL NOT NULL,
        r2 REAL NOT NULL,
        sample_count INTEGER NOT NULL,
        status VARCHAR(20) NOT NULL,
        UNIQUE(task, version)
    );
    CREATE INDEX IF NOT EXISTS idx_models_task_status ON models(task, status);
    `
	if _, err := db.Exec(query); err != nil {
		return nil, err
	}

	cache, err := lru.New[string, *Loaded](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Registry{
		db:         db,
		dir:        dir,
		log:        log,
		cache:      cache,
		retraining: make(map[string]bool),
	}, nil
}

// BindTrainer attaches the training pipeline invoked by Retrain.
func (r *Registry) BindTrainer(t Trainer) { r.trainer = t }

// Register stores a freshly trained backend and its frozen manifest as a new
// version with status training. Promotion to active is a separate, explicit
// step.
func (r *Registry) Register(ctx context.Context, task string, backend model.Regressor, manifest *feature.Manifest, metrics model.Metrics, sampleCount int) (*Metadata, error) {
	modelBlob, err := backend.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	blob, err := json.Marshal(artifactBundle{
		Algorithm: backend.Algorithm(),
		Manifest:  manifest,
		Model:     modelBlob,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}

	// Version assignment through the metadata insert runs under the lock so
	// direct concurrent registrations for one task cannot collide on a
	// count-derived version.
	r.mu.Lock()
	defer r.mu.Unlock()

	version, err := r.nextVersion(task)
	if err != nil {
		return nil, err
	}

	path := r.artifactPath(task, version)
	if err := withRetry(ctx, r.log, "write artifact", func() error {
		return os.WriteFile(path, blob, 0o600)
	}); err != nil {
		return nil, err
	}

	meta := &Metadata{
		Task:        task,
		Algorithm:   backend.Algorithm(),
		Version:     version,
		TrainedAt:   time.Now().UTC(),
		Metrics:     metrics,
		SampleCount: sampleCount,
		Status:      StatusTraining,
	}

	result, err := r.db.ExecContext(ctx, `
        INSERT INTO models (task, algorithm, version, trained_at, mae, rmse, r2, sample_count, status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.Task, meta.Algorithm, meta.Version, meta.TrainedAt,
		meta.Metrics.MAE, meta.Metrics.RMSE, meta.Metrics.R2, meta.SampleCount, string(meta.Status))
	if err != nil {
		// The version number would be reassigned on the next attempt, so an
		// orphaned file here would get silently overwritten.
		if rmErr := os.Remove(path); rmErr != nil {
			r.log.Warn("failed to remove artifact after insert error",
				zap.String("path", path),
				zap.Error(rmErr),
			)
		}
		return nil, err
	}
	meta.ID, _ = result.LastInsertId()

	r.cache.Add(cacheKey(task, version), &Loaded{Backend: backend, Manifest: manifest})
	r.log.Info("model registered",
		zap.String("task", task),
		zap.String("algorithm", meta.Algorithm),
		zap.String("version", version),
		zap.Int("sample_count", sampleCount),
		zap.Float64("rmse", metrics.RMSE),
	)
	return meta, nil
}

// Activate promotes a registered version to active and demotes the prior
// active version to deprecated in the same transaction, so readers never
// observe zero or two active versions once one has been trained.
func (r *Registry) Activate(ctx context.Context, task, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	result, err := tx.Exec(`
        UPDATE models SET status = ? WHERE task = ? AND version = ?`,
		string(StatusActive), task, version)
	if err != nil {
		tx.Rollback()
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		tx.Rollback()
		return fmt.Errorf("%w: %s %s", ErrUnknownVersion, task, version)
	}

	if _, err := tx.Exec(`
        UPDATE models SET status = ? WHERE task = ? AND status = ? AND version != ?`,
		string(StatusDeprecated), task, string(StatusActive), version); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.log.Info("model activated", zap.String("task", task), zap.String("version", version))
	return nil
}

// GetActive resolves the active backend, its manifest and metadata for a
// task. When the active artifact is corrupt it falls back to the most recent
// loadable deprecated version; with no fallback available, it fails closed.
func (r *Registry) GetActive(ctx context.Context, task string) (*Loaded, *Metadata, error) {
	meta, err := r.queryOne(ctx, `task = ? AND status = ?`, task, string(StatusActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoActiveModel, task)
		}
		return nil, nil, err
	}

	loaded, loadErr := r.loadBackend(ctx, meta)
	if loadErr == nil {
		return loaded, meta, nil
	}
	r.log.Error("active artifact unusable, trying fallback",
		zap.String("task", task),
		zap.String("version", meta.Version),
		zap.Error(loadErr),
	)

	fallbacks, err := r.List(ctx, task)
	if err != nil {
		return nil, nil, err
	}
	for i := range fallbacks {
		candidate := &fallbacks[i]
		if candidate.Status != StatusDeprecated {
			continue
		}
		loaded, err := r.loadBackend(ctx, candidate)
		if err != nil {
			continue
		}
		r.log.Warn("serving deprecated fallback model",
			zap.String("task", task),
			zap.String("version", candidate.Version),
		)
		return loaded, candidate, nil
	}

	return nil, nil, fmt.Errorf("%w: task %s version %s: %v", ErrArtifactCorrupt, task, meta.Version, loadErr)
}

// List returns metadata newest first, optionally filtered by task.
func (r *Registry) List(ctx context.Context, task string) ([]Metadata, error) {
	query := `
        SELECT id, task, algorithm, version, trained_at, mae, rmse, r2, sample_count, status
        FROM models`
	args := []interface{}{}
	if task != "" {
		query += ` WHERE task = ?`
		args = append(args, task)
	}
	query += ` ORDER BY trained_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var m Metadata
		var status string
		if err := rows.Scan(&m.ID, &m.Task, &m.Algorithm, &m.Version, &m.TrainedAt,
			&m.Metrics.MAE, &m.Metrics.RMSE, &m.Metrics.R2, &m.SampleCount, &status); err != nil {
			return nil, err
		}
		m.Status = Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Retrain runs a full training cycle via the bound trainer. Concurrent
// retrains of the same task coalesce into an error for the second caller;
// different tasks run independently. A failed run leaves the previously
// active version untouched.
func (r *Registry) Retrain(ctx context.Context, task string) (*Metadata, error) {
	if r.trainer == nil {
		return nil, errors.New("no trainer bound")
	}

	r.mu.Lock()
	if r.retraining[task] {
		r.mu.Unlock()
		return nil, fmt.Errorf("retrain already in progress for task %s", task)
	}
	r.retraining[task] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.retraining, task)
		r.mu.Unlock()
	}()

	meta, err := r.trainer.Run(ctx, task)
	if err != nil {
		r.log.Error("retrain failed", zap.String("task", task), zap.Error(err))
		return nil, err
	}
	return meta, nil
}

func (r *Registry) loadBackend(ctx context.Context, meta *Metadata) (*Loaded, error) {
	key := cacheKey(meta.Task, meta.Version)
	if loaded, ok := r.cache.Get(key); ok {
		return loaded, nil
	}

	path := r.artifactPath(meta.Task, meta.Version)
	var blob []byte
	if err := withRetry(ctx, r.log, "read artifact", func() error {
		var readErr error
		blob, readErr = os.ReadFile(path)
		return readErr
	}); err != nil {
		return nil, err
	}

	var bundle artifactBundle
	if err := json.Unmarshal(blob, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if bundle.Manifest == nil || bundle.Algorithm != meta.Algorithm {
		return nil, fmt.Errorf("%w: bundle does not match metadata", ErrArtifactCorrupt)
	}
	backend, err := model.Load(meta.Algorithm, bundle.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}

	// Attach the logger here, before the manifest is shared with concurrent
	// readers; Encode never mutates the manifest afterwards.
	bundle.Manifest.SetLogger(r.log)
	loaded := &Loaded{Backend: backend, Manifest: bundle.Manifest}
	r.cache.Add(key, loaded)
	return loaded, nil
}

func (r *Registry) nextVersion(task string) (string, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM models WHERE task = ?`, task).Scan(&count); err != nil {
		return "", err
	}
	return fmt.Sprintf("1.%d.0", count), nil
}

func (r *Registry) queryOne(ctx context.Context, where string, args ...interface{}) (*Metadata, error) {
	var m Metadata
	var status string
	err := r.db.QueryRowContext(ctx, `
        SELECT id, task, algorithm, version, trained_at, mae, rmse, r2, sample_count, status
        FROM models WHERE `+where+` ORDER BY trained_at DESC, id DESC LIMIT 1`, args...).
		Scan(&m.ID, &m.Task, &m.Algorithm, &m.Version, &m.TrainedAt,
			&m.Metrics.MAE, &m.Metrics.RMSE, &m.Metrics.R2, &m.SampleCount, &status)
	if err != nil {
		return nil, err
	}
	m.Status = Status(status)
	return &m, nil
}

func (r *Registry) artifactPath(task, version string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s-%s.model.json", task, version))
}

func cacheKey(task, version string) string { return task + "@" + version }
