package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func testConfigBooster() *Booster {
	return NewBoosterWithConfig(BoostConfig{Rounds: 60, MaxDepth: 3, MinLeaf: 2, Shrinkage: 0.1, LeafLambda: 1.0, Seed: 7})
}

func TestBoosterTrainAndPredict(t *testing.T) {
	set := syntheticSet(200, 11)
	booster := testConfigBooster()
	if err := booster.Train(set); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	var absErr float64
	for i, vec := range set.Vectors {
		pred, err := booster.Predict(vec)
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if math.IsNaN(pred) || math.IsInf(pred, 0) {
			t.Fatalf("non-finite prediction %f", pred)
		}
		absErr += math.Abs(pred - set.Targets[i])
	}
	absErr /= float64(len(set.Vectors))

	// Targets span roughly 1000..1730; the boosted fit must beat a constant
	// mean predictor by a wide margin.
	if absErr > 100 {
		t.Fatalf("training MAE too high: %f", absErr)
	}
}

func TestBoosterConfidenceIntervalOrdering(t *testing.T) {
	set := syntheticSet(200, 12)
	booster := testConfigBooster()
	if err := booster.Train(set); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	for _, vec := range set.Vectors {
		est, err := booster.PredictWithConfidence(vec)
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if est.Low > est.Value || est.Value > est.High {
			t.Fatalf("interval not ordered: low=%f value=%f high=%f", est.Low, est.Value, est.High)
		}
	}
}

func TestBoosterImportanceSumsToOne(t *testing.T) {
	set := syntheticSet(200, 13)
	booster := testConfigBooster()
	if err := booster.Train(set); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	importance, err := booster.FeatureImportance()
	if err != nil {
		t.Fatalf("importance failed: %v", err)
	}
	total := 0.0
	for name, weight := range importance {
		if weight < 0 {
			t.Fatalf("negative importance for %s: %f", name, weight)
		}
		total += weight
	}
	if math.Abs(total-1) > 1e-6 {
		t.Fatalf("importance sums to %f, expected 1", total)
	}

	// route and weight drive the synthetic targets, so they must carry more
	// weight than the noise features combined.
	if importance["route"]+importance["weight"] < importance["fuel"]+importance["season"] {
		t.Fatalf("informative features underweighted: %v", importance)
	}
}

func TestBoosterRoundTrip(t *testing.T) {
	set := syntheticSet(150, 14)
	booster := testConfigBooster()
	if err := booster.Train(set); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	blob, err := booster.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	restored := NewBooster()
	if err := restored.Unmarshal(blob); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	rng := rand.New(rand.NewSource(98))
	for i := 0; i < 100; i++ {
		vec := []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
		want, err := booster.Predict(vec)
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		got, err := restored.Predict(vec)
		if err != nil {
			t.Fatalf("restored predict failed: %v", err)
		}
		if want != got {
			t.Fatalf("round trip changed prediction: %f != %f", want, got)
		}
	}
}

func TestBoosterSingleExample(t *testing.T) {
	set := TrainingSet{
		Names:   []string{"a", "b"},
		Vectors: [][]float64{{0.3, 0.7}},
		Targets: []float64{42},
	}
	booster := testConfigBooster()
	if err := booster.Train(set); err != nil {
		t.Fatalf("single example train failed: %v", err)
	}
	pred, err := booster.Predict([]float64{0.3, 0.7})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if pred != 42 {
		t.Fatalf("expected constant model to return 42, got %f", pred)
	}
}

func TestBoosterDimensionMismatch(t *testing.T) {
	set := syntheticSet(50, 15)
	booster := testConfigBooster()
	if err := booster.Train(set); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	_, err := booster.Predict([]float64{0.5, 0.5, 0.5})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestBoosterRejectsForeignArtifact(t *testing.T) {
	set := syntheticSet(50, 16)
	forest := testConfigForest()
	if err := forest.Train(set); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	blob, err := forest.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	booster := NewBooster()
	if err := booster.Unmarshal(blob); err == nil {
		t.Fatal("expected error unmarshaling a forest artifact into a booster")
	}
}
