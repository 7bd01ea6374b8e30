package predictor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coffeetrade/feature"
	"coffeetrade/registry"
	"coffeetrade/store"
)

// FreightRequest is one freight-cost prediction request.
type FreightRequest struct {
	OriginPort      string
	DestinationPort string
	ContainerType   string
	WeightKG        float64
	DepartureDate   time.Time
	FuelIndex       *float64
	CongestionScore *float64
}

func (r FreightRequest) record() feature.Record {
	rec := feature.Record{
		"origin_port":      r.OriginPort,
		"destination_port": r.DestinationPort,
		"container_type":   r.ContainerType,
		"weight_kg":        r.WeightKG,
		"departure_date":   r.DepartureDate,
	}
	if r.FuelIndex != nil {
		rec["fuel_index"] = *r.FuelIndex
	}
	if r.CongestionScore != nil {
		rec["congestion_score"] = *r.CongestionScore
	}
	return rec
}

// Freight predicts shipment cost in USD. Similar records are shipments on
// the exact origin/destination route.
type Freight struct {
	core
	store *store.Store
}

// NewFreight creates the freight predictor service.
func NewFreight(reg *registry.Registry, st *store.Store, log *zap.Logger) *Freight {
	return &Freight{core: newCore(feature.TaskFreight, reg, log), store: st}
}

// Predict returns the full prediction response for one shipment request.
func (f *Freight) Predict(ctx context.Context, req FreightRequest) (*PredictionResult, error) {
	similar, err := f.store.SimilarFreight(req.OriginPort, req.DestinationPort)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(similar))
	for i, r := range similar {
		dates[i] = r.DepartureDate
	}

	average, count, err := f.store.FreightRouteAverage(req.OriginPort, req.DestinationPort, marketWindow)
	if err != nil {
		return nil, err
	}

	return f.predict(ctx, req.record(), support{
		similarCount:   len(similar),
		recentFraction: recentFraction(dates),
		marketKey:      req.OriginPort + "-" + req.DestinationPort,
		marketAverage:  average,
		marketCount:    count,
	})
}
