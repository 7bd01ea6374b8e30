package model

import "math"

// Metrics are the evaluation results recorded with each trained version.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
}

// Evaluate computes MAE, RMSE and R² of a trained backend on a holdout set.
func Evaluate(backend Regressor, vectors [][]float64, targets []float64) (Metrics, error) {
	if len(vectors) == 0 {
		return Metrics{}, ErrInsufficientData
	}

	var absSum, sqSum float64
	preds := make([]float64, len(vectors))
	for i, vec := range vectors {
		pred, err := backend.Predict(vec)
		if err != nil {
			return Metrics{}, err
		}
		preds[i] = pred
		diff := pred - targets[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
	}

	n := float64(len(vectors))
	targetMean := mean(targets)
	var totalSS float64
	for _, t := range targets {
		diff := t - targetMean
		totalSS += diff * diff
	}

	r2 := 0.0
	if totalSS > 0 {
		r2 = 1 - sqSum/totalSS
	}

	return Metrics{
		MAE:  absSum / n,
		RMSE: math.Sqrt(sqSum / n),
		R2:   r2,
	}, nil
}

// Split partitions a training set deterministically into train and holdout
// portions. Sets smaller than ten rows are not split; callers then evaluate
// on the training rows.
func Split(set TrainingSet, testRatio float64) (train, test TrainingSet) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	n := len(set.Vectors)
	if n < 10 {
		return set, TrainingSet{Names: set.Names}
	}

	cut := int(float64(n) * (1 - testRatio))
	train = TrainingSet{Names: set.Names, Vectors: set.Vectors[:cut], Targets: set.Targets[:cut]}
	test = TrainingSet{Names: set.Names, Vectors: set.Vectors[cut:], Targets: set.Targets[cut:]}
	return train, test
}
