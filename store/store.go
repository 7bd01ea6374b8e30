// Package store reads the historical freight and price corpus from sqlite.
// The tables are owned by the surrounding CRUD layer; this package only
// queries them, plus seed helpers used by tests and local runs.
package store

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"coffeetrade/feature"
)

// FreightRecord is one historical shipment with its realized cost.
type FreightRecord struct {
	OriginPort      string
	DestinationPort string
	ContainerType   string
	WeightKG        float64
	DepartureDate   time.Time
	FuelIndex       *float64
	CongestionScore *float64
	CostUSD         float64
}

// Fields converts the record into encoder input.
func (r FreightRecord) Fields() feature.Record {
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

// PriceRecord is one historical coffee price quote.
type PriceRecord struct {
	OriginCountry  string
	Region         string
	Variety        string
	ProcessMethod  string
	QualityGrade   string
	CuppingScore   float64
	ICEPrice       float64
	Certifications []string
	QuoteDate      time.Time
	PricePerKG     float64
}

// Fields converts the record into encoder input.
func (r PriceRecord) Fields() feature.Record {
	rec := feature.Record{
		"origin_country": r.OriginCountry,
		"variety":        r.Variety,
		"process_method": r.ProcessMethod,
		"quality_grade":  r.QualityGrade,
		"cupping_score":  r.CuppingScore,
		"ice_price":      r.ICEPrice,
		"forecast_date":  r.QuoteDate,
	}
	if r.Region != "" {
		rec["region"] = r.Region
	}
	if len(r.Certifications) > 0 {
		rec["certifications"] = r.Certifications
	}
	return rec
}

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Open opens the corpus database and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so the registry can share one database.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS freight_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        origin_port VARCHAR(60) NOT NULL,
        destination_port VARCHAR(60) NOT NULL,
        container_type VARCHAR(20) NOT NULL,
        weight_kg REAL NOT NULL,
        departure_date DATETIME NOT NULL,
        fuel_index REAL,
        congestion_score REAL,
        cost_usd REAL NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_freight_route ON freight_records(origin_port, destination_port);
    CREATE TABLE IF NOT EXISTS price_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        origin_country VARCHAR(60) NOT NULL,
        region VARCHAR(60),
        variety VARCHAR(40) NOT NULL,
        process_method VARCHAR(40) NOT NULL,
        quality_grade VARCHAR(20) NOT NULL,
        cupping_score REAL NOT NULL,
        ice_price REAL NOT NULL,
        certifications TEXT,
        quote_date DATETIME NOT NULL,
        price_per_kg REAL NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_price_origin ON price_records(origin_country, variety);
    `
	_, err := s.db.Exec(query)
	return err
}

// FreightRecords returns shipments departing at or after since, oldest first.
func (s *Store) FreightRecords(since time.Time) ([]FreightRecord, error) {
	rows, err := s.db.Query(`
        SELECT origin_port, destination_port, container_type, weight_kg,
               departure_date, fuel_index, congestion_score, cost_usd
        FROM freight_records
        WHERE departure_date >= ?
        ORDER BY departure_date ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FreightRecord
	for rows.Next() {
		var r FreightRecord
		var fuel, congestion sql.NullFloat64
		if err := rows.Scan(&r.OriginPort, &r.DestinationPort, &r.ContainerType, &r.WeightKG,
			&r.DepartureDate, &fuel, &congestion, &r.CostUSD); err != nil {
			return nil, err
		}
		if fuel.Valid {
			r.FuelIndex = &fuel.Float64
		}
		if congestion.Valid {
			r.CongestionScore = &congestion.Float64
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PriceRecords returns quotes dated at or after since, oldest first.
func (s *Store) PriceRecords(since time.Time) ([]PriceRecord, error) {
	rows, err := s.db.Query(`
        SELECT origin_country, region, variety, process_method, quality_grade,
               cupping_score, ice_price, certifications, quote_date, price_per_kg
        FROM price_records
        WHERE quote_date >= ?
        ORDER BY quote_date ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PriceRecord
	for rows.Next() {
		var r PriceRecord
		var region, certs sql.NullString
		if err := rows.Scan(&r.OriginCountry, &region, &r.Variety, &r.ProcessMethod, &r.QualityGrade,
			&r.CuppingScore, &r.ICEPrice, &certs, &r.QuoteDate, &r.PricePerKG); err != nil {
			return nil, err
		}
		if region.Valid {
			r.Region = region.String
		}
		if certs.Valid && certs.String != "" {
			r.Certifications = strings.Split(certs.String, ",")
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SimilarFreight returns shipments on the exact origin/destination route,
// newest first. Similarity is exact categorical match on the route key.
func (s *Store) SimilarFreight(originPort, destinationPort string) ([]FreightRecord, error) {
	rows, err := s.db.Query(`
        SELECT origin_port, destination_port, container_type, weight_kg,
               departure_date, fuel_index, congestion_score, cost_usd
        FROM freight_records
        WHERE origin_port = ? AND destination_port = ?
        ORDER BY departure_date DESC`, originPort, destinationPort)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FreightRecord
	for rows.Next() {
		var r FreightRecord
		var fuel, congestion sql.NullFloat64
		if err := rows.Scan(&r.OriginPort, &r.DestinationPort, &r.ContainerType, &r.WeightKG,
			&r.DepartureDate, &fuel, &congestion, &r.CostUSD); err != nil {
			return nil, err
		}
		if fuel.Valid {
			r.FuelIndex = &fuel.Float64
		}
		if congestion.Valid {
			r.CongestionScore = &congestion.Float64
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SimilarPrice returns quotes for the exact origin country and variety,
// newest first.
func (s *Store) SimilarPrice(originCountry, variety string) ([]PriceRecord, error) {
	rows, err := s.db.Query(`
        SELECT origin_country, region, variety, process_method, quality_grade,
               cupping_score, ice_price, certifications, quote_date, price_per_kg
        FROM price_records
        WHERE origin_country = ? AND variety = ?
        ORDER BY quote_date DESC`, originCountry, variety)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PriceRecord
	for rows.Next() {
		var r PriceRecord
		var region, certs sql.NullString
		if err := rows.Scan(&r.OriginCountry, &region, &r.Variety, &r.ProcessMethod, &r.QualityGrade,
			&r.CuppingScore, &r.ICEPrice, &certs, &r.QuoteDate, &r.PricePerKG); err != nil {
			return nil, err
		}
		if region.Valid {
			r.Region = region.String
		}
		if certs.Valid && certs.String != "" {
			r.Certifications = strings.Split(certs.String, ",")
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// FreightRouteAverage returns the trailing-window mean cost and record count
// for a route.
func (s *Store) FreightRouteAverage(originPort, destinationPort string, window time.Duration) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	err := s.db.QueryRow(`
        SELECT AVG(cost_usd), COUNT(*)
        FROM freight_records
        WHERE origin_port = ? AND destination_port = ? AND departure_date >= ?`,
		originPort, destinationPort, time.Now().Add(-window)).Scan(&avg, &count)
	if err != nil {
		return 0, 0, err
	}
	return avg.Float64, count, nil
}

// PriceOriginAverage returns the trailing-window mean price and record count
// for an origin country.
func (s *Store) PriceOriginAverage(originCountry string, window time.Duration) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	err := s.db.QueryRow(`
        SELECT AVG(price_per_kg), COUNT(*)
        FROM price_records
        WHERE origin_country = ? AND quote_date >= ?`,
		originCountry, time.Now().Add(-window)).Scan(&avg, &count)
	if err != nil {
		return 0, 0, err
	}
	return avg.Float64, count, nil
}

// SeedFreight inserts shipments; used by tests and local bootstrapping.
func (s *Store) SeedFreight(records []FreightRecord) error {
	stmt, err := s.db.Prepare(`
        INSERT INTO freight_records (
            origin_port, destination_port, container_type, weight_kg,
            departure_date, fuel_index, congestion_score, cost_usd
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		var fuel, congestion interface{}
		if r.FuelIndex != nil {
			fuel = *r.FuelIndex
		}
		if r.CongestionScore != nil {
			congestion = *r.CongestionScore
		}
		if _, err := stmt.Exec(r.OriginPort, r.DestinationPort, r.ContainerType, r.WeightKG,
			r.DepartureDate, fuel, congestion, r.CostUSD); err != nil {
			return err
		}
	}
	return nil
}

// SeedPrice inserts quotes; used by tests and local bootstrapping.
func (s *Store) SeedPrice(records []PriceRecord) error {
	stmt, err := s.db.Prepare(`
        INSERT INTO price_records (
            origin_country, region, variety, process_method, quality_grade,
            cupping_score, ice_price, certifications, quote_date, price_per_kg
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.OriginCountry, r.Region, r.Variety, r.ProcessMethod, r.QualityGrade,
			r.CuppingScore, r.ICEPrice, strings.Join(r.Certifications, ","), r.QuoteDate, r.PricePerKG); err != nil {
			return err
		}
	}
	return nil
}
