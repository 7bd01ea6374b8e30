package model

import "fmt"

// New instantiates the backend for an algorithm identifier. The factory is
// the only place that knows the concrete types; callers hold Regressor.
func New(algorithm string) (Regressor, error) {
	switch algorithm {
	case AlgorithmForest:
		return NewForest(), nil
	case AlgorithmBoosted:
		return NewBooster(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

// NewSeeded instantiates a backend with a fixed random seed, used by the
// training pipeline for reproducible runs.
func NewSeeded(algorithm string, seed int64) (Regressor, error) {
	switch algorithm {
	case AlgorithmForest:
		cfg := DefaultForestConfig()
		if seed != 0 {
			cfg.Seed = seed
		}
		return NewForestWithConfig(cfg), nil
	case AlgorithmBoosted:
		cfg := DefaultBoostConfig()
		if seed != 0 {
			cfg.Seed = seed
		}
		return NewBoosterWithConfig(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

// Load deserializes a stored artifact into a backend of the given algorithm.
func Load(algorithm string, blob []byte) (Regressor, error) {
	backend, err := New(algorithm)
	if err != nil {
		return nil, err
	}
	if err := backend.Unmarshal(blob); err != nil {
		return nil, err
	}
	return backend, nil
}
