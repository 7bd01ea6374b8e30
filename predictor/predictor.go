// Package predictor serves freight-cost and coffee-price predictions. Both
// services share one core: encode the request with the active model's frozen
// manifest, get the point estimate and interval from the backend, then attach
// a historical-support confidence score, ranked contributing factors and a
// market comparison.
package predictor

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"coffeetrade/feature"
	"coffeetrade/registry"
)

// PredictionResult is the full response for one request. It is ephemeral:
// constructed per call and never persisted here.
type PredictionResult struct {
	Estimate       float64           `json:"estimate"`
	IntervalLow    float64           `json:"interval_low"`
	IntervalHigh   float64           `json:"interval_high"`
	Confidence     float64           `json:"confidence"`
	Factors        []string          `json:"factors"`
	SimilarRecords int               `json:"similar_records"`
	Market         *MarketComparison `json:"market,omitempty"`
	ModelVersion   string            `json:"model_version"`
	Algorithm      string            `json:"algorithm"`
}

// MarketComparison relates the estimate to the trailing-window historical
// average for the request's key (route or origin).
type MarketComparison struct {
	Key               string  `json:"key"`
	HistoricalAverage float64 `json:"historical_average"`
	DeltaPercent      float64 `json:"delta_percent"`
	Trend             string  `json:"trend"`
	Summary           string  `json:"summary"`
}

// Confidence-score weights and caps. Lowest tier is anything below 0.25:
// zero similar records, unknown request categories and models trained on
// fewer than ten examples all land there.
const (
	supportWeight      = 0.5
	recencyWeight      = 0.25
	completenessWeight = 0.25
	supportSaturation  = 20
	recencyWindow      = 365 * 24 * time.Hour
	lowTierCap         = 0.20
	unknownPenalty     = 0.5
	confidenceFloor    = 0.01
	minViableSamples   = 10
	marketWindow       = 180 * 24 * time.Hour
)

// support summarizes the historical backing for one request, produced by the
// task-specific wrapper before the shared core runs.
type support struct {
	similarCount   int
	recentFraction float64
	marketKey      string
	marketAverage  float64
	marketCount    int
}

type core struct {
	task     string
	registry *registry.Registry
	log      *zap.Logger
	printer  *message.Printer
}

func newCore(task string, reg *registry.Registry, log *zap.Logger) core {
	return core{
		task:     task,
		registry: reg,
		log:      log,
		printer:  message.NewPrinter(language.English),
	}
}

// predict runs the shared pipeline. Encoding and dimension errors propagate
// unmodified; a failed prediction returns nothing partial.
func (c *core) predict(ctx context.Context, rec feature.Record, sup support) (*PredictionResult, error) {
	loaded, meta, err := c.registry.GetActive(ctx, c.task)
	if err != nil {
		return nil, err
	}

	manifest := loaded.Manifest
	vec, err := manifest.Encode(rec)
	if err != nil {
		return nil, err
	}

	estimate, err := loaded.Backend.PredictWithConfidence(vec.Values)
	if err != nil {
		return nil, err
	}

	importance, err := loaded.Backend.FeatureImportance()
	if err != nil {
		return nil, err
	}

	result := &PredictionResult{
		Estimate:       estimate.Value,
		IntervalLow:    estimate.Low,
		IntervalHigh:   estimate.High,
		Confidence:     c.confidence(vec, sup, meta.SampleCount),
		Factors:        rankFactors(manifest, vec, importance),
		SimilarRecords: sup.similarCount,
		Market:         c.marketComparison(estimate.Value, sup),
		ModelVersion:   meta.Version,
		Algorithm:      meta.Algorithm,
	}

	c.log.Debug("prediction served",
		zap.String("task", c.task),
		zap.String("version", meta.Version),
		zap.Float64("estimate", result.Estimate),
		zap.Float64("confidence", result.Confidence),
		zap.Int("similar_records", sup.similarCount),
	)
	return result, nil
}

// confidence combines historical support, recency and request completeness.
// Zero similar records and unknown categories are explicit low floors, never
// a fabricated mid-range value.
func (c *core) confidence(vec *feature.Vector, sup support, sampleCount int) float64 {
	supportScore := math.Min(float64(sup.similarCount), supportSaturation) / supportSaturation * supportWeight
	recencyScore := sup.recentFraction * recencyWeight
	completenessScore := completeness(vec) * completenessWeight

	score := supportScore + recencyScore + completenessScore

	if sup.similarCount == 0 && score > lowTierCap {
		score = lowTierCap
	}
	if sampleCount < minViableSamples && score > lowTierCap {
		score = lowTierCap
	}
	if len(vec.Unknown) > 0 && score > lowTierCap {
		score = lowTierCap
	}
	if score < confidenceFloor {
		score = confidenceFloor
	}
	// Each unknown category halves the score after the floor so a request
	// with a novel value ranks strictly below its known-category twin even
	// when both have no historical support at all.
	for range vec.Unknown {
		score *= unknownPenalty
	}

	if score > 1 {
		score = 1
	}
	return score
}

func completeness(vec *feature.Vector) float64 {
	optional := 0
	for _, field := range vec.Manifest.Fields {
		if !field.Required {
			optional++
		}
	}
	if optional == 0 {
		return 1
	}
	present := optional - len(vec.MissingOptional)
	if present < 0 {
		present = 0
	}
	return float64(present) / float64(optional)
}

// rankFactors aggregates per-position importances into logical field names,
// restricted to positions active in this request, ranked by weight.
func rankFactors(manifest *feature.Manifest, vec *feature.Vector, importance map[string]float64) []string {
	names := manifest.Names()
	byFactor := make(map[string]float64)
	for i, value := range vec.Values {
		if value == 0 {
			continue
		}
		weight := importance[names[i]]
		if weight == 0 {
			continue
		}
		byFactor[manifest.FactorOf(i)] += weight
	}

	factors := make([]string, 0, len(byFactor))
	for factor := range byFactor {
		factors = append(factors, factor)
	}
	sort.Slice(factors, func(i, j int) bool {
		if byFactor[factors[i]] != byFactor[factors[j]] {
			return byFactor[factors[i]] > byFactor[factors[j]]
		}
		return factors[i] < factors[j]
	})
	return factors
}

func (c *core) marketComparison(estimate float64, sup support) *MarketComparison {
	if sup.marketCount == 0 || sup.marketAverage == 0 {
		return nil
	}
	delta := (estimate - sup.marketAverage) / sup.marketAverage * 100

	trend := "in line with market"
	switch {
	case delta > 5:
		trend = "above market"
	case delta < -5:
		trend = "below market"
	}

	return &MarketComparison{
		Key:               sup.marketKey,
		HistoricalAverage: sup.marketAverage,
		DeltaPercent:      delta,
		Trend:             trend,
		Summary: c.printer.Sprintf("estimate %v vs trailing average %v for %s (%+.1f%%)",
			number.Decimal(estimate, number.MaxFractionDigits(2)),
			number.Decimal(sup.marketAverage, number.MaxFractionDigits(2)),
			sup.marketKey, delta),
	}
}

// recentFraction is the share of record dates within the recency window.
func recentFraction(dates []time.Time) float64 {
	if len(dates) == 0 {
		return 0
	}
	cutoff := time.Now().Add(-recencyWindow)
	recent := 0
	for _, d := range dates {
		if d.After(cutoff) {
			recent++
		}
	}
	return float64(recent) / float64(len(dates))
}
