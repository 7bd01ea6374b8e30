package predictor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coffeetrade/feature"
	"coffeetrade/registry"
	"coffeetrade/store"
)

// PriceRequest is one coffee-price prediction request.
type PriceRequest struct {
	OriginCountry  string
	Region         string
	Variety        string
	ProcessMethod  string
	QualityGrade   string
	CuppingScore   float64
	Certifications []string
	ICEPrice       float64
	ForecastDate   time.Time
}

func (r PriceRequest) record() feature.Record {
	rec := feature.Record{
		"origin_country": r.OriginCountry,
		"variety":        r.Variety,
		"process_method": r.ProcessMethod,
		"quality_grade":  r.QualityGrade,
		"cupping_score":  r.CuppingScore,
		"ice_price":      r.ICEPrice,
		"forecast_date":  r.ForecastDate,
	}
	if r.Region != "" {
		rec["region"] = r.Region
	}
	if len(r.Certifications) > 0 {
		rec["certifications"] = r.Certifications
	}
	return rec
}

// Price predicts price per kilogram. Similar records are quotes matching the
// exact origin country and variety.
type Price struct {
	core
	store *store.Store
}

// NewPrice creates the price predictor service.
func NewPrice(reg *registry.Registry, st *store.Store, log *zap.Logger) *Price {
	return &Price{core: newCore(feature.TaskPrice, reg, log), store: st}
}

// Predict returns the full prediction response for one price request.
func (p *Price) Predict(ctx context.Context, req PriceRequest) (*PredictionResult, error) {
	similar, err := p.store.SimilarPrice(req.OriginCountry, req.Variety)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(similar))
	for i, r := range similar {
		dates[i] = r.QuoteDate
	}

	average, count, err := p.store.PriceOriginAverage(req.OriginCountry, marketWindow)
	if err != nil {
		return nil, err
	}

	return p.predict(ctx, req.record(), support{
		similarCount:   len(similar),
		recentFraction: recentFraction(dates),
		marketKey:      req.OriginCountry,
		marketAverage:  average,
		marketCount:    count,
	})
}
