package predictor

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"coffeetrade/feature"
	"coffeetrade/model"
)

func TestPricePredictKnownOrigin(t *testing.T) {
	st, reg := testHarness(t)
	seedPriceQuotes(t, st, 150)
	trainTask(t, st, reg, feature.TaskPrice, model.AlgorithmBoosted)

	svc := NewPrice(reg, st, zap.NewNop())
	result, err := svc.Predict(context.Background(), PriceRequest{
		OriginCountry: "Peru",
		Region:        "Cajamarca",
		Variety:       "Caturra",
		ProcessMethod: "washed",
		QualityGrade:  "AA",
		CuppingScore:  85.5,
		ICEPrice:      5.4,
		ForecastDate:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	if result.IntervalLow >= result.Estimate || result.Estimate >= result.IntervalHigh {
		t.Fatalf("expected strict interval around estimate: %f %f %f",
			result.IntervalLow, result.Estimate, result.IntervalHigh)
	}
	// Prices in the corpus run roughly 8.4 to 9.7 per kg.
	if result.Estimate < 7 || result.Estimate > 11 {
		t.Fatalf("estimate %f implausible for the seeded corpus", result.Estimate)
	}
	if result.Algorithm != model.AlgorithmBoosted {
		t.Fatalf("unexpected algorithm %s", result.Algorithm)
	}
	if result.SimilarRecords == 0 {
		t.Fatal("expected similar Peru Caturra quotes")
	}
	if result.Market == nil || result.Market.Key != "Peru" {
		t.Fatalf("expected origin market comparison, got %+v", result.Market)
	}

	loaded, _, err := reg.GetActive(context.Background(), feature.TaskPrice)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	importance, err := loaded.Backend.FeatureImportance()
	if err != nil {
		t.Fatalf("importance: %v", err)
	}
	total := 0.0
	for _, w := range importance {
		total += w
	}
	if math.Abs(total-1) > 1e-6 {
		t.Fatalf("importance sums to %f, expected 1", total)
	}
}

func TestPriceCertificationsAffectEncodingNotErrors(t *testing.T) {
	st, reg := testHarness(t)
	seedPriceQuotes(t, st, 100)
	trainTask(t, st, reg, feature.TaskPrice, model.AlgorithmBoosted)

	svc := NewPrice(reg, st, zap.NewNop())
	result, err := svc.Predict(context.Background(), PriceRequest{
		OriginCountry:  "Colombia",
		Variety:        "Typica",
		ProcessMethod:  "natural",
		QualityGrade:   "AB",
		CuppingScore:   83,
		ICEPrice:       5.2,
		Certifications: []string{"organic", "never-seen-cert"},
		ForecastDate:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("unknown certification must be ignored, not fatal: %v", err)
	}
	if result.Estimate <= 0 {
		t.Fatalf("expected positive price, got %f", result.Estimate)
	}
}

func TestPriceModelProvenance(t *testing.T) {
	st, reg := testHarness(t)
	seedPriceQuotes(t, st, 60)
	trainTask(t, st, reg, feature.TaskPrice, model.AlgorithmForest)

	svc := NewPrice(reg, st, zap.NewNop())
	result, err := svc.Predict(context.Background(), PriceRequest{
		OriginCountry: "Peru",
		Variety:       "Bourbon",
		ProcessMethod: "washed",
		QualityGrade:  "AA",
		CuppingScore:  86,
		ICEPrice:      5.5,
		ForecastDate:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if result.ModelVersion != "1.0.0" {
		t.Fatalf("unexpected version %s", result.ModelVersion)
	}
	if result.Confidence < confidenceFloor || result.Confidence > 1 {
		t.Fatalf("confidence out of range: %f", result.Confidence)
	}
}
