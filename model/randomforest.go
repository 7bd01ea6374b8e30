package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// ForestConfig holds the design constants for the bagged ensemble. These are
// fixed per deployment, not tunable per request.
type ForestConfig struct {
	Trees         int   `json:"trees"`
	MaxDepth      int   `json:"max_depth"`
	MinLeaf       int   `json:"min_leaf"`
	FeatureSample int   `json:"feature_sample"` // 0 means width/3, at least 1
	Seed          int64 `json:"seed"`
}

// DefaultForestConfig returns the production defaults.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 150, MaxDepth: 12, MinLeaf: 2, Seed: 1}
}

// Forest is the bagging backend: each tree trains on a bootstrap sample with
// a random feature subset, and the prediction is the mean across trees. The
// per-tree spread supplies the confidence interval.
type Forest struct {
	config     ForestConfig
	names      []string
	trees      []*regTree
	importance map[string]float64
}

// NewForest creates an untrained forest with default configuration.
func NewForest() *Forest { return &Forest{config: DefaultForestConfig()} }

// NewForestWithConfig creates an untrained forest with explicit constants.
func NewForestWithConfig(cfg ForestConfig) *Forest { return &Forest{config: cfg} }

func (f *Forest) Algorithm() string { return AlgorithmForest }

// Train fits the ensemble. A single example still produces a usable constant
// model; an empty set fails with ErrInsufficientData.
func (f *Forest) Train(set TrainingSet) error {
	if err := set.validate(); err != nil {
		return err
	}

	width := len(set.Names)
	sample := f.config.FeatureSample
	if sample <= 0 {
		sample = width / 3
		if sample < 1 {
			sample = 1
		}
	}
	cfg := treeConfig{
		maxDepth:      f.config.MaxDepth,
		minLeaf:       f.config.MinLeaf,
		featureSample: sample,
	}

	rng := rand.New(rand.NewSource(f.config.Seed))
	rawImportance := make([]float64, width)
	trees := make([]*regTree, 0, f.config.Trees)
	n := len(set.Vectors)

	for t := 0; t < f.config.Trees; t++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		trees = append(trees, growTree(set.Vectors, set.Targets, idx, cfg, rng, rawImportance))
	}

	byName := make(map[string]float64, width)
	for i, name := range set.Names {
		byName[name] = rawImportance[i]
	}

	f.names = append([]string(nil), set.Names...)
	f.trees = trees
	f.importance = normalizeImportance(byName, f.names)
	return nil
}

func (f *Forest) Predict(vec []float64) (float64, error) {
	preds, err := f.treePredictions(vec)
	if err != nil {
		return 0, err
	}
	return mean(preds), nil
}

func (f *Forest) PredictWithConfidence(vec []float64) (Estimate, error) {
	preds, err := f.treePredictions(vec)
	if err != nil {
		return Estimate{}, err
	}
	return interval(mean(preds), preds), nil
}

func (f *Forest) FeatureImportance() (map[string]float64, error) {
	if f.importance == nil {
		return nil, ErrNotTrained
	}
	out := make(map[string]float64, len(f.importance))
	for name, weight := range f.importance {
		out[name] = weight
	}
	return out, nil
}

type forestArtifact struct {
	Algorithm  string             `json:"algorithm"`
	Config     ForestConfig       `json:"config"`
	Names      []string           `json:"names"`
	Trees      []*regTree         `json:"trees"`
	Importance map[string]float64 `json:"importance"`
}

func (f *Forest) Marshal() ([]byte, error) {
	if f.trees == nil {
		return nil, ErrNotTrained
	}
	return json.Marshal(forestArtifact{
		Algorithm:  AlgorithmForest,
		Config:     f.config,
		Names:      f.names,
		Trees:      f.trees,
		Importance: f.importance,
	})
}

func (f *Forest) Unmarshal(data []byte) error {
	var artifact forestArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return err
	}
	if artifact.Algorithm != AlgorithmForest || len(artifact.Trees) == 0 {
		return fmt.Errorf("not an %s artifact", AlgorithmForest)
	}
	f.config = artifact.Config
	f.names = artifact.Names
	f.trees = artifact.Trees
	f.importance = artifact.Importance
	return nil
}

func (f *Forest) treePredictions(vec []float64) ([]float64, error) {
	if f.trees == nil {
		return nil, ErrNotTrained
	}
	if len(vec) != len(f.names) {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", ErrDimensionMismatch, len(vec), len(f.names))
	}
	preds := make([]float64, len(f.trees))
	for i, tree := range f.trees {
		preds[i] = tree.predict(vec)
		if math.IsNaN(preds[i]) || math.IsInf(preds[i], 0) {
			return nil, fmt.Errorf("tree %d produced a non-finite prediction", i)
		}
	}
	return preds, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
