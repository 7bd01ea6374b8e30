// Package feature turns raw freight and price records into fixed-length
// numeric vectors. All encoding statistics (category sets, min/max/mean,
// certification vocabulary) are frozen into a Manifest at training time and
// reused verbatim at prediction time.
package feature

// Kind classifies how a logical field is encoded.
type Kind int

const (
	// Categorical fields one-hot encode against the categories observed in
	// the training corpus, plus a trailing unknown bucket.
	Categorical Kind = iota
	// Numeric fields are min-max normalized with frozen training stats.
	Numeric
	// Cyclical fields decompose a date into a month-of-year sin/cos pair.
	Cyclical
	// CertSet fields encode a list of certifications as one-hot flags over
	// the vocabulary observed at training time.
	CertSet
)

// FieldSpec describes one logical field of a task schema. Categories, Min,
// Max, Mean and Vocabulary are populated by BuildManifest and frozen.
type FieldSpec struct {
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	Required   bool     `json:"required"`
	Categories []string `json:"categories,omitempty"`
	Vocabulary []string `json:"vocabulary,omitempty"`
	Min        float64  `json:"min,omitempty"`
	Max        float64  `json:"max,omitempty"`
	Mean       float64  `json:"mean,omitempty"`
}

// Schema is the ordered field list for one prediction task.
type Schema struct {
	Task   string
	Fields []FieldSpec
}

// Record is one raw input row. Values are string (categorical), float64 or
// int (numeric), time.Time (cyclical) or []string (certification set).
type Record map[string]interface{}

// Task identifiers shared across packages.
const (
	TaskFreight = "freight"
	TaskPrice   = "price"
)

// FreightSchema describes a freight-cost record.
func FreightSchema() Schema {
	return Schema{
		Task: TaskFreight,
		Fields: []FieldSpec{
			{Name: "origin_port", Kind: Categorical, Required: true},
			{Name: "destination_port", Kind: Categorical, Required: true},
			{Name: "container_type", Kind: Categorical, Required: true},
			{Name: "weight_kg", Kind: Numeric, Required: true},
			{Name: "departure_date", Kind: Cyclical, Required: true},
			{Name: "fuel_index", Kind: Numeric, Required: false},
			{Name: "congestion_score", Kind: Numeric, Required: false},
		},
	}
}

// PriceSchema describes a coffee-price record.
func PriceSchema() Schema {
	return Schema{
		Task: TaskPrice,
		Fields: []FieldSpec{
			{Name: "origin_country", Kind: Categorical, Required: true},
			{Name: "region", Kind: Categorical, Required: false},
			{Name: "variety", Kind: Categorical, Required: true},
			{Name: "process_method", Kind: Categorical, Required: true},
			{Name: "quality_grade", Kind: Categorical, Required: true},
			{Name: "cupping_score", Kind: Numeric, Required: true},
			{Name: "ice_price", Kind: Numeric, Required: true},
			{Name: "certifications", Kind: CertSet, Required: false},
			{Name: "forecast_date", Kind: Cyclical, Required: true},
		},
	}
}

// SchemaFor returns the schema for a task, defaulting to freight.
func SchemaFor(task string) Schema {
	if task == TaskPrice {
		return PriceSchema()
	}
	return FreightSchema()
}
