package feature

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func freightCorpus() []Record {
	date := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	return []Record{
		{"origin_port": "Callao", "destination_port": "Hamburg", "container_type": "40ft", "weight_kg": 10000.0, "departure_date": date, "fuel_index": 80.0},
		{"origin_port": "Santos", "destination_port": "Rotterdam", "container_type": "20ft", "weight_kg": 20000.0, "departure_date": date.AddDate(0, 1, 0), "fuel_index": 90.0},
		{"origin_port": "Callao", "destination_port": "Rotterdam", "container_type": "40ft", "weight_kg": 30000.0, "departure_date": date.AddDate(0, 2, 0), "congestion_score": 0.4},
	}
}

func TestBuildManifestFreezesStats(t *testing.T) {
	manifest, err := BuildManifest(FreightSchema(), freightCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var weight FieldSpec
	for _, field := range manifest.Fields {
		if field.Name == "weight_kg" {
			weight = field
		}
	}
	if weight.Min != 10000 || weight.Max != 30000 {
		t.Fatalf("expected frozen min/max 10000/30000, got %f/%f", weight.Min, weight.Max)
	}
	if weight.Mean != 20000 {
		t.Fatalf("expected frozen mean 20000, got %f", weight.Mean)
	}

	for _, field := range manifest.Fields {
		if field.Name == "origin_port" {
			if len(field.Categories) != 2 {
				t.Fatalf("expected 2 origin categories, got %v", field.Categories)
			}
		}
	}
}

func TestEncodeIdempotent(t *testing.T) {
	corpus := freightCorpus()
	manifest, err := BuildManifest(FreightSchema(), corpus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := manifest.Encode(corpus[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := manifest.Encode(corpus[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.Values) != manifest.Width() {
		t.Fatalf("expected width %d, got %d", manifest.Width(), len(first.Values))
	}
	for i := range first.Values {
		if first.Values[i] != second.Values[i] {
			t.Fatalf("encoding not idempotent at position %d", i)
		}
	}
}

func TestEncodeNormalizesWithFrozenStats(t *testing.T) {
	manifest, err := BuildManifest(FreightSchema(), freightCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vec, err := manifest.Encode(Record{
		"origin_port":      "Callao",
		"destination_port": "Hamburg",
		"container_type":   "40ft",
		"weight_kg":        20000.0,
		"departure_date":   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := manifest.Names()
	for i, name := range names {
		if name == "weight_kg" {
			if vec.Values[i] != 0.5 {
				t.Fatalf("expected weight normalized to 0.5, got %f", vec.Values[i])
			}
		}
	}
}

func TestEncodeUnknownCategoryFallsBack(t *testing.T) {
	manifest, err := BuildManifest(FreightSchema(), freightCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vec, err := manifest.Encode(Record{
		"origin_port":      "Atlantis",
		"destination_port": "Hamburg",
		"container_type":   "40ft",
		"weight_kg":        15000.0,
		"departure_date":   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("expected graceful fallback, got error: %v", err)
	}
	if len(vec.Unknown) != 1 || vec.Unknown[0] != "origin_port" {
		t.Fatalf("expected origin_port in unknown list, got %v", vec.Unknown)
	}

	names := manifest.Names()
	found := false
	for i, name := range names {
		if name == "origin_port=<unknown>" {
			found = true
			if vec.Values[i] != 1 {
				t.Fatalf("expected unknown bucket set, got %f", vec.Values[i])
			}
		}
	}
	if !found {
		t.Fatal("manifest missing unknown bucket position")
	}
}

func TestEncodeMissingRequiredField(t *testing.T) {
	manifest, err := BuildManifest(FreightSchema(), freightCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = manifest.Encode(Record{
		"destination_port": "Hamburg",
		"container_type":   "40ft",
		"weight_kg":        15000.0,
		"departure_date":   time.Now(),
	})
	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if encErr.Field != "origin_port" {
		t.Fatalf("expected origin_port error, got %q", encErr.Field)
	}
}

func TestEncodeCyclicalSeasonality(t *testing.T) {
	manifest, err := BuildManifest(FreightSchema(), freightCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	january, err := manifest.Encode(Record{
		"origin_port":      "Callao",
		"destination_port": "Hamburg",
		"container_type":   "40ft",
		"weight_kg":        15000.0,
		"departure_date":   time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	december, err := manifest.Encode(Record{
		"origin_port":      "Callao",
		"destination_port": "Hamburg",
		"container_type":   "40ft",
		"weight_kg":        15000.0,
		"departure_date":   time.Date(2025, time.December, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	july, err := manifest.Encode(Record{
		"origin_port":      "Callao",
		"destination_port": "Hamburg",
		"container_type":   "40ft",
		"weight_kg":        15000.0,
		"departure_date":   time.Date(2025, time.July, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// December and January are adjacent on the seasonal circle; July is far
	// from both.
	adjacent := cyclicalDistance(manifest, january, december)
	opposite := cyclicalDistance(manifest, january, july)
	if adjacent >= opposite {
		t.Fatalf("expected Dec-Jan distance %f < Jan-Jul distance %f", adjacent, opposite)
	}
}

func cyclicalDistance(m *Manifest, a, b *Vector) float64 {
	total := 0.0
	for i, name := range m.Names() {
		if name == "departure_date_sin" || name == "departure_date_cos" {
			diff := a.Values[i] - b.Values[i]
			total += diff * diff
		}
	}
	return math.Sqrt(total)
}

func TestConcurrentEncodeAfterDeserialization(t *testing.T) {
	corpus := freightCorpus()
	built, err := BuildManifest(FreightSchema(), corpus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := built.Encode(corpus[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A manifest fresh off the wire has no name cache yet; concurrent first
	// encodes must still be safe and agree with the original.
	blob, err := json.Marshal(built)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var reloaded Manifest
	if err := json.Unmarshal(blob, &reloaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				vec, err := reloaded.Encode(corpus[0])
				if err != nil {
					t.Errorf("concurrent encode failed: %v", err)
					return
				}
				if len(vec.Values) != len(want.Values) {
					t.Errorf("width %d, want %d", len(vec.Values), len(want.Values))
					return
				}
				for j := range vec.Values {
					if vec.Values[j] != want.Values[j] {
						t.Errorf("position %d diverged after reload", j)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestFactorOfMapsPositionsToFields(t *testing.T) {
	manifest, err := BuildManifest(FreightSchema(), freightCorpus())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, name := range manifest.Names() {
		factor := manifest.FactorOf(i)
		if factor == "" {
			t.Fatalf("position %d (%s) has no factor", i, name)
		}
	}
	if manifest.FactorOf(0) != "origin_port" {
		t.Fatalf("expected first position to map to origin_port, got %s", manifest.FactorOf(0))
	}
}

func TestPriceSchemaCertifications(t *testing.T) {
	date := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	corpus := []Record{
		{"origin_country": "Peru", "variety": "Caturra", "process_method": "washed", "quality_grade": "AA",
			"cupping_score": 84.0, "ice_price": 5.2, "certifications": []string{"organic", "fairtrade"}, "forecast_date": date},
		{"origin_country": "Colombia", "variety": "Typica", "process_method": "natural", "quality_grade": "AB",
			"cupping_score": 86.0, "ice_price": 5.4, "certifications": []string{"organic"}, "forecast_date": date},
	}
	manifest, err := BuildManifest(PriceSchema(), corpus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vec, err := manifest.Encode(Record{
		"origin_country": "Peru", "variety": "Caturra", "process_method": "washed", "quality_grade": "AA",
		"cupping_score": 85.0, "ice_price": 5.3,
		"certifications": []string{"fairtrade", "rainforest-alliance"},
		"forecast_date":  date,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, name := range manifest.Names() {
		switch name {
		case "certifications=fairtrade":
			if vec.Values[i] != 1 {
				t.Fatalf("expected fairtrade flag set")
			}
		case "certifications=organic":
			if vec.Values[i] != 0 {
				t.Fatalf("expected organic flag unset")
			}
		}
	}
}
