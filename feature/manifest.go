package feature

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EncodingError reports a malformed or missing required input field. It is a
// caller error and is never retried.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode field %q: %s", e.Field, e.Reason)
}

// Manifest is the frozen encoding scheme for one task. It is built once from
// the training corpus, serialized inside the model artifact, and reused
// unchanged for every later encode call. Vector length and ordering are fully
// determined by the manifest. Once SetLogger has been called at load time, a
// manifest is safe for concurrent Encode calls.
type Manifest struct {
	Task   string      `json:"task"`
	Fields []FieldSpec `json:"fields"`

	nameOnce sync.Once
	names    []string
	log      *zap.Logger
}

// Vector is one encoded record. Values has the manifest's width; Unknown
// lists fields whose category was not seen at training time and
// MissingOptional lists absent optional fields, both used for confidence
// scoring downstream.
type Vector struct {
	Values          []float64
	Unknown         []string
	MissingOptional []string
	Manifest        *Manifest
}

// BuildManifest fits a schema against the training corpus: observed category
// sets, certification vocabulary and min/max/mean statistics are computed
// here and never recomputed afterwards.
func BuildManifest(schema Schema, records []Record) (*Manifest, error) {
	if len(records) == 0 {
		return nil, errors.New("no records to build manifest from")
	}

	fields := make([]FieldSpec, len(schema.Fields))
	copy(fields, schema.Fields)

	for i := range fields {
		switch fields[i].Kind {
		case Categorical:
			seen := make(map[string]bool)
			for _, rec := range records {
				if v, ok := stringValue(rec[fields[i].Name]); ok && v != "" {
					seen[v] = true
				}
			}
			fields[i].Categories = sortedKeys(seen)
		case CertSet:
			seen := make(map[string]bool)
			for _, rec := range records {
				for _, cert := range listValue(rec[fields[i].Name]) {
					if cert != "" {
						seen[cert] = true
					}
				}
			}
			fields[i].Vocabulary = sortedKeys(seen)
		case Numeric:
			min, max, sum := math.Inf(1), math.Inf(-1), 0.0
			count := 0
			for _, rec := range records {
				v, ok := floatValue(rec[fields[i].Name])
				if !ok {
					continue
				}
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
				sum += v
				count++
			}
			if count == 0 {
				min, max = 0, 0
			} else {
				fields[i].Mean = sum / float64(count)
			}
			fields[i].Min, fields[i].Max = min, max
		}
	}

	return &Manifest{Task: schema.Task, Fields: fields}, nil
}

// SetLogger attaches a logger used for unknown-category warnings. Call it
// once when the manifest is built or deserialized, before sharing it across
// goroutines.
func (m *Manifest) SetLogger(log *zap.Logger) { m.log = log }

func (m *Manifest) logger() *zap.Logger {
	if m.log == nil {
		return zap.NewNop()
	}
	return m.log
}

// Names returns the ordered per-position feature names. The name cache is
// built under a sync.Once so concurrent callers on a freshly deserialized
// manifest never race.
func (m *Manifest) Names() []string {
	m.nameOnce.Do(func() {
		m.names = buildNames(m.Fields)
	})
	return m.names
}

// Width is the encoded vector length.
func (m *Manifest) Width() int { return len(m.Names()) }

// FactorOf maps a vector position back to its logical field name so feature
// importances can be reported in human-readable terms.
func (m *Manifest) FactorOf(index int) string {
	offset := 0
	for _, field := range m.Fields {
		w := fieldWidth(field)
		if index < offset+w {
			return field.Name
		}
		offset += w
	}
	return ""
}

// Encode produces the feature vector for one record. Unknown categories fall
// into the unknown bucket with a warning instead of failing; a missing
// required field fails with an EncodingError.
func (m *Manifest) Encode(rec Record) (*Vector, error) {
	out := &Vector{
		Values:   make([]float64, 0, m.Width()),
		Manifest: m,
	}

	for _, field := range m.Fields {
		switch field.Kind {
		case Categorical:
			value, ok := stringValue(rec[field.Name])
			if !ok || value == "" {
				if field.Required {
					return nil, &EncodingError{Field: field.Name, Reason: "required categorical value missing"}
				}
				out.MissingOptional = append(out.MissingOptional, field.Name)
				out.Values = append(out.Values, oneHot(field.Categories, "")...)
				continue
			}
			slot := categoryIndex(field.Categories, value)
			if slot < 0 {
				m.logger().Warn("unknown category, using unknown bucket",
					zap.String("task", m.Task),
					zap.String("field", field.Name),
					zap.String("value", value),
				)
				out.Unknown = append(out.Unknown, field.Name)
			}
			out.Values = append(out.Values, oneHot(field.Categories, value)...)

		case Numeric:
			value, ok := floatValue(rec[field.Name])
			if !ok {
				if field.Required {
					return nil, &EncodingError{Field: field.Name, Reason: "required numeric value missing"}
				}
				out.MissingOptional = append(out.MissingOptional, field.Name)
				value = field.Mean
			}
			out.Values = append(out.Values, normalize(value, field.Min, field.Max))

		case Cyclical:
			when, ok := timeValue(rec[field.Name])
			if !ok {
				if field.Required {
					return nil, &EncodingError{Field: field.Name, Reason: "required date missing"}
				}
				out.MissingOptional = append(out.MissingOptional, field.Name)
				out.Values = append(out.Values, 0, 0)
				continue
			}
			angle := 2 * math.Pi * float64(when.Month()-1) / 12
			out.Values = append(out.Values, math.Sin(angle), math.Cos(angle))

		case CertSet:
			certs := listValue(rec[field.Name])
			if certs == nil {
				out.MissingOptional = append(out.MissingOptional, field.Name)
			}
			known := make(map[string]bool, len(certs))
			for _, cert := range certs {
				if categoryIndex(field.Vocabulary, cert) < 0 {
					m.logger().Warn("unknown certification ignored",
						zap.String("task", m.Task),
						zap.String("value", cert),
					)
					continue
				}
				known[cert] = true
			}
			for _, cert := range field.Vocabulary {
				if known[cert] {
					out.Values = append(out.Values, 1)
				} else {
					out.Values = append(out.Values, 0)
				}
			}
		}
	}

	return out, nil
}

func fieldWidth(field FieldSpec) int {
	switch field.Kind {
	case Categorical:
		return len(field.Categories) + 1
	case Cyclical:
		return 2
	case CertSet:
		return len(field.Vocabulary)
	default:
		return 1
	}
}

func buildNames(fields []FieldSpec) []string {
	names := make([]string, 0)
	for _, field := range fields {
		switch field.Kind {
		case Categorical:
			for _, cat := range field.Categories {
				names = append(names, field.Name+"="+cat)
			}
			names = append(names, field.Name+"=<unknown>")
		case Cyclical:
			names = append(names, field.Name+"_sin", field.Name+"_cos")
		case CertSet:
			for _, cert := range field.Vocabulary {
				names = append(names, field.Name+"="+cert)
			}
		default:
			names = append(names, field.Name)
		}
	}
	return names
}

// oneHot encodes value against categories plus a trailing unknown bucket.
// An empty or unseen value lights the unknown slot.
func oneHot(categories []string, value string) []float64 {
	slots := make([]float64, len(categories)+1)
	idx := categoryIndex(categories, value)
	if idx < 0 {
		idx = len(categories)
	}
	slots[idx] = 1
	return slots
}

func categoryIndex(categories []string, value string) int {
	for i, cat := range categories {
		if cat == value {
			return i
		}
	}
	return -1
}

func normalize(value, min, max float64) float64 {
	if max == min {
		return 0
	}
	return (value - min) / (max - min)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func stringValue(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func timeValue(v interface{}) (time.Time, bool) {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

func listValue(v interface{}) []string {
	list, ok := v.([]string)
	if !ok {
		return nil
	}
	return list
}
