// Package model implements the interchangeable regression backends used for
// freight-cost and coffee-price prediction: a bagged ensemble of regression
// trees and a gradient-boosted variant. Both honor the same external
// contract, in particular the 95% confidence interval derived from the
// dispersion of per-learner predictions, so callers never depend on which
// algorithm produced a model.
package model

import (
	"errors"
	"math"
)

// Algorithm identifiers stored in model metadata and artifacts.
const (
	AlgorithmForest  = "ensemble-trees"
	AlgorithmBoosted = "gradient-boosted-trees"
)

// zValue95 scales the per-learner sample standard deviation into a 95%
// confidence band.
const zValue95 = 1.96

var (
	// ErrInsufficientData is returned when a training set is below the
	// absolute floor of one usable example.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrDimensionMismatch is returned when a vector's length does not
	// match the trained model. It indicates manifest drift between train
	// and serve time and is never coerced.
	ErrDimensionMismatch = errors.New("feature vector dimension mismatch")
	// ErrNotTrained is returned when predicting on an untrained backend.
	ErrNotTrained = errors.New("model not trained")
)

// TrainingSet pairs encoded feature vectors with scalar targets. Names holds
// the per-position feature names used for importance reporting.
type TrainingSet struct {
	Names   []string
	Vectors [][]float64
	Targets []float64
}

func (s TrainingSet) validate() error {
	if len(s.Vectors) == 0 || len(s.Targets) == 0 {
		return ErrInsufficientData
	}
	if len(s.Vectors) != len(s.Targets) {
		return errors.New("vectors and targets size mismatch")
	}
	width := len(s.Names)
	for _, vec := range s.Vectors {
		if len(vec) != width {
			return ErrDimensionMismatch
		}
	}
	return nil
}

// Estimate is a point prediction with its 95% confidence interval.
type Estimate struct {
	Value float64
	Low   float64
	High  float64
}

// Regressor is the contract shared by both backends. A Regressor is safe for
// concurrent Predict calls once trained or loaded; Train and Unmarshal must
// not run concurrently with readers.
type Regressor interface {
	Train(set TrainingSet) error
	Predict(vec []float64) (float64, error)
	PredictWithConfidence(vec []float64) (Estimate, error)
	FeatureImportance() (map[string]float64, error)
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
	Algorithm() string
}

// interval centers a ±z·σ band on the point estimate using the sample
// standard deviation of per-learner predictions. Centering on the estimate
// guarantees low ≤ estimate ≤ high for both backends.
func interval(estimate float64, learnerPreds []float64) Estimate {
	std := sampleStd(learnerPreds)
	return Estimate{
		Value: estimate,
		Low:   estimate - zValue95*std,
		High:  estimate + zValue95*std,
	}
}

func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// normalizeImportance scales a raw gain map so the weights sum to 1. A model
// with no informative splits reports uniform importance.
func normalizeImportance(raw map[string]float64, names []string) map[string]float64 {
	out := make(map[string]float64, len(names))
	total := 0.0
	for _, gain := range raw {
		total += gain
	}
	if total <= 0 {
		if len(names) == 0 {
			return out
		}
		uniform := 1.0 / float64(len(names))
		for _, name := range names {
			out[name] = uniform
		}
		return out
	}
	for _, name := range names {
		out[name] = raw[name] / total
	}
	return out
}
