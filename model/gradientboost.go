package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// BoostConfig holds the design constants for the boosted ensemble.
type BoostConfig struct {
	Rounds     int     `json:"rounds"`
	MaxDepth   int     `json:"max_depth"`
	MinLeaf    int     `json:"min_leaf"`
	Shrinkage  float64 `json:"shrinkage"`
	LeafLambda float64 `json:"leaf_lambda"`
	Seed       int64   `json:"seed"`
}

// DefaultBoostConfig returns the production defaults.
func DefaultBoostConfig() BoostConfig {
	return BoostConfig{Rounds: 200, MaxDepth: 4, MinLeaf: 2, Shrinkage: 0.1, LeafLambda: 1.0, Seed: 1}
}

// Booster is the gradient-boosted backend: shallow trees fit the running
// residuals and are added with shrinkage on top of the target mean. The
// confidence interval uses the spread of staged cumulative predictions over
// the converged tail of rounds, matching the forest's external semantics.
type Booster struct {
	config     BoostConfig
	names      []string
	base       float64
	trees      []*regTree
	importance map[string]float64
}

// NewBooster creates an untrained booster with default configuration.
func NewBooster() *Booster { return &Booster{config: DefaultBoostConfig()} }

// NewBoosterWithConfig creates an untrained booster with explicit constants.
func NewBoosterWithConfig(cfg BoostConfig) *Booster { return &Booster{config: cfg} }

func (b *Booster) Algorithm() string { return AlgorithmBoosted }

func (b *Booster) Train(set TrainingSet) error {
	if err := set.validate(); err != nil {
		return err
	}

	n := len(set.Vectors)
	width := len(set.Names)
	cfg := treeConfig{
		maxDepth:   b.config.MaxDepth,
		minLeaf:    b.config.MinLeaf,
		leafLambda: b.config.LeafLambda,
	}

	base := mean(set.Targets)
	current := make([]float64, n)
	for i := range current {
		current[i] = base
	}

	rng := rand.New(rand.NewSource(b.config.Seed))
	rawImportance := make([]float64, width)
	residuals := make([]float64, n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	trees := make([]*regTree, 0, b.config.Rounds)
	for round := 0; round < b.config.Rounds; round++ {
		for i := range residuals {
			residuals[i] = set.Targets[i] - current[i]
		}
		tree := growTree(set.Vectors, residuals, idx, cfg, rng, rawImportance)
		trees = append(trees, tree)
		for i := range current {
			current[i] += b.config.Shrinkage * tree.predict(set.Vectors[i])
		}
	}

	byName := make(map[string]float64, width)
	for i, name := range set.Names {
		byName[name] = rawImportance[i]
	}

	b.names = append([]string(nil), set.Names...)
	b.base = base
	b.trees = trees
	b.importance = normalizeImportance(byName, b.names)
	return nil
}

func (b *Booster) Predict(vec []float64) (float64, error) {
	staged, err := b.stagedPredictions(vec)
	if err != nil {
		return 0, err
	}
	return staged[len(staged)-1], nil
}

func (b *Booster) PredictWithConfidence(vec []float64) (Estimate, error) {
	staged, err := b.stagedPredictions(vec)
	if err != nil {
		return Estimate{}, err
	}
	estimate := staged[len(staged)-1]
	// Early rounds are still converging toward the target; the dispersion
	// that reflects model uncertainty is the spread over the trailing half
	// of the staged predictions.
	tail := staged[len(staged)/2:]
	return interval(estimate, tail), nil
}

func (b *Booster) FeatureImportance() (map[string]float64, error) {
	if b.importance == nil {
		return nil, ErrNotTrained
	}
	out := make(map[string]float64, len(b.importance))
	for name, weight := range b.importance {
		out[name] = weight
	}
	return out, nil
}

type boostArtifact struct {
	Algorithm  string             `json:"algorithm"`
	Config     BoostConfig        `json:"config"`
	Names      []string           `json:"names"`
	Base       float64            `json:"base"`
	Trees      []*regTree         `json:"trees"`
	Importance map[string]float64 `json:"importance"`
}

func (b *Booster) Marshal() ([]byte, error) {
	if b.trees == nil {
		return nil, ErrNotTrained
	}
	return json.Marshal(boostArtifact{
		Algorithm:  AlgorithmBoosted,
		Config:     b.config,
		Names:      b.names,
		Base:       b.base,
		Trees:      b.trees,
		Importance: b.importance,
	})
}

func (b *Booster) Unmarshal(data []byte) error {
	var artifact boostArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return err
	}
	if artifact.Algorithm != AlgorithmBoosted || len(artifact.Trees) == 0 {
		return fmt.Errorf("not a %s artifact", AlgorithmBoosted)
	}
	b.config = artifact.Config
	b.names = artifact.Names
	b.base = artifact.Base
	b.trees = artifact.Trees
	b.importance = artifact.Importance
	return nil
}

// stagedPredictions returns the cumulative prediction after each boosting
// round; the final element is the point estimate.
func (b *Booster) stagedPredictions(vec []float64) ([]float64, error) {
	if b.trees == nil {
		return nil, ErrNotTrained
	}
	if len(vec) != len(b.names) {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", ErrDimensionMismatch, len(vec), len(b.names))
	}
	staged := make([]float64, len(b.trees))
	current := b.base
	for i, tree := range b.trees {
		current += b.config.Shrinkage * tree.predict(vec)
		if math.IsNaN(current) || math.IsInf(current, 0) {
			return nil, fmt.Errorf("round %d produced a non-finite prediction", i)
		}
		staged[i] = current
	}
	return staged, nil
}
