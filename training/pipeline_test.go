package training

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"coffeetrade/feature"
	"coffeetrade/model"
	"coffeetrade/registry"
	"coffeetrade/store"
)

func testHarness(t *testing.T) (*store.Store, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "corpus.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(st.DB(), filepath.Join(dir, "models"), zap.NewNop())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return st, reg
}

func seedFreight(t *testing.T, st *store.Store, n int) {
	t.Helper()
	rng := rand.New(rand.NewSource(77))
	routes := [][2]string{
		{"Callao", "Hamburg"},
		{"Santos", "Rotterdam"},
		{"Buenaventura", "Antwerp"},
	}
	now := time.Now().UTC()
	records := make([]store.FreightRecord, n)
	for i := range records {
		route := routes[i%len(routes)]
		weight := 10000 + rng.Float64()*20000
		records[i] = store.FreightRecord{
			OriginPort:      route[0],
			DestinationPort: route[1],
			ContainerType:   []string{"20ft", "40ft"}[i%2],
			WeightKG:        weight,
			DepartureDate:   now.AddDate(0, 0, -rng.Intn(300)),
			CostUSD:         1200 + weight*0.05 + rng.Float64()*100,
		}
	}
	if err := st.SeedFreight(records); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func forestOptions() Options {
	return Options{
		Algorithm: func(string) string { return model.AlgorithmForest },
		TestRatio: 0.2,
		Seed:      42,
	}
}

func TestPipelineFullCycle(t *testing.T) {
	st, reg := testHarness(t)
	seedFreight(t, st, 80)
	pipeline := NewPipeline(st, reg, forestOptions(), zap.NewNop())

	meta, err := pipeline.Run(context.Background(), feature.TaskFreight)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if meta.Status != registry.StatusActive {
		t.Fatalf("expected active status, got %s", meta.Status)
	}
	if meta.Version != "1.0.0" {
		t.Fatalf("expected first version 1.0.0, got %s", meta.Version)
	}
	if meta.SampleCount != 80 {
		t.Fatalf("expected 80 samples, got %d", meta.SampleCount)
	}
	if meta.Algorithm != model.AlgorithmForest {
		t.Fatalf("unexpected algorithm %s", meta.Algorithm)
	}
	if meta.Metrics.RMSE <= 0 {
		t.Fatalf("expected holdout RMSE above zero, got %f", meta.Metrics.RMSE)
	}

	loaded, active, err := reg.GetActive(context.Background(), feature.TaskFreight)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.Version != meta.Version {
		t.Fatalf("active version %s does not match trained %s", active.Version, meta.Version)
	}
	if loaded.Manifest == nil || loaded.Manifest.Task != feature.TaskFreight {
		t.Fatal("manifest missing from loaded artifact")
	}
}

func TestPipelineRetrainSupersedes(t *testing.T) {
	st, reg := testHarness(t)
	seedFreight(t, st, 60)
	pipeline := NewPipeline(st, reg, forestOptions(), zap.NewNop())
	reg.BindTrainer(pipeline)

	ctx := context.Background()
	first, err := reg.Retrain(ctx, feature.TaskFreight)
	if err != nil {
		t.Fatalf("first retrain: %v", err)
	}
	second, err := reg.Retrain(ctx, feature.TaskFreight)
	if err != nil {
		t.Fatalf("second retrain: %v", err)
	}
	if second.Version == first.Version {
		t.Fatal("retrain did not produce a new version")
	}

	all, err := reg.List(ctx, feature.TaskFreight)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	active := 0
	for _, m := range all {
		if m.Status == registry.StatusActive {
			active++
			if m.Version != second.Version {
				t.Fatalf("expected %s active, got %s", second.Version, m.Version)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active version, got %d", active)
	}
}

func TestPipelineEmptyCorpus(t *testing.T) {
	st, reg := testHarness(t)
	pipeline := NewPipeline(st, reg, forestOptions(), zap.NewNop())

	_, err := pipeline.Run(context.Background(), feature.TaskFreight)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestPipelineSingleRecord(t *testing.T) {
	st, reg := testHarness(t)
	seedFreight(t, st, 1)
	pipeline := NewPipeline(st, reg, forestOptions(), zap.NewNop())

	meta, err := pipeline.Run(context.Background(), feature.TaskFreight)
	if err != nil {
		t.Fatalf("single record training must succeed: %v", err)
	}
	if meta.SampleCount != 1 {
		t.Fatalf("expected 1 sample, got %d", meta.SampleCount)
	}
	if meta.Status != registry.StatusActive {
		t.Fatalf("expected active status, got %s", meta.Status)
	}
}

func TestPipelineUnknownTask(t *testing.T) {
	st, reg := testHarness(t)
	pipeline := NewPipeline(st, reg, forestOptions(), zap.NewNop())
	if _, err := pipeline.Run(context.Background(), "weather"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestPipelinePriceTask(t *testing.T) {
	st, reg := testHarness(t)
	rng := rand.New(rand.NewSource(88))
	now := time.Now().UTC()
	countries := []string{"Peru", "Colombia", "Ethiopia"}
	varieties := []string{"Caturra", "Typica", "Bourbon"}
	records := make([]store.PriceRecord, 60)
	for i := range records {
		score := 80 + rng.Float64()*10
		records[i] = store.PriceRecord{
			OriginCountry: countries[i%len(countries)],
			Variety:       varieties[i%len(varieties)],
			ProcessMethod: []string{"washed", "natural"}[i%2],
			QualityGrade:  []string{"AA", "AB"}[i%2],
			CuppingScore:  score,
			ICEPrice:      5 + rng.Float64(),
			QuoteDate:     now.AddDate(0, 0, -rng.Intn(300)),
			PricePerKG:    2 + score*0.08 + rng.Float64()*0.5,
		}
	}
	if err := st.SeedPrice(records); err != nil {
		t.Fatalf("seed: %v", err)
	}

	opts := Options{
		Algorithm: func(string) string { return model.AlgorithmBoosted },
		TestRatio: 0.2,
		Seed:      42,
	}
	pipeline := NewPipeline(st, reg, opts, zap.NewNop())

	meta, err := pipeline.Run(context.Background(), feature.TaskPrice)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if meta.Algorithm != model.AlgorithmBoosted {
		t.Fatalf("unexpected algorithm %s", meta.Algorithm)
	}
	if meta.Task != feature.TaskPrice {
		t.Fatalf("unexpected task %s", meta.Task)
	}
}
