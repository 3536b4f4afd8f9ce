package core

import (
	"encoding/binary"
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Well-known catalog attribute names.
const (
	AttrTitle       = "title"
	AttrCountry     = "country"
	AttrVariety     = "variety"
	AttrPrice       = "price"
	AttrDescription = "description"
	AttrWinery      = "winery"
	AttrRegion      = "region_1"
)

// ID is a 64-bit content identifier.
type ID uint64

// IDFromContent generates a deterministic ID from content using BLAKE2b hashing.
// Identical content always produces identical IDs.
func IDFromContent(parts ...[]byte) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Vector is an embedding vector. Catalog vectors are unit-normalized by
// convention; nothing in this package enforces it.
type Vector = []float32

// Record is a single catalog entry: a set of named attributes plus the
// stable index assigned when the catalog was loaded.
//
// Attribute values are string, float64 or bool. A missing attribute means
// "unknown" and is never treated as a zero value.
type Record struct {
	Index int
	attrs map[string]any
}

// NewRecord creates a record from an attribute map. The map is copied and
// values of unsupported types are dropped.
func NewRecord(index int, attrs map[string]any) *Record {
	r := &Record{
		Index: index,
		attrs: make(map[string]any, len(attrs)),
	}
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			r.attrs[k] = val
		case bool:
			r.attrs[k] = val
		case float64:
			r.attrs[k] = val
		case float32:
			r.attrs[k] = float64(val)
		case int:
			r.attrs[k] = float64(val)
		case int64:
			r.attrs[k] = float64(val)
		}
	}
	return r
}

// Get returns the raw attribute value.
func (r *Record) Get(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.attrs[name]
	return v, ok
}

// Attributes returns a copy of the record's attributes.
func (r *Record) Attributes() map[string]any {
	return maps.Clone(r.attrs)
}

// Len returns the number of attributes present.
func (r *Record) Len() int {
	return len(r.attrs)
}

// Text returns the attribute formatted as a string. Numbers are formatted
// the shortest way that round-trips, so 10 prints as "10".
func (r *Record) Text(name string) (string, bool) {
	v, ok := r.Get(name)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}

// Number returns the attribute as a number. Numeric strings are parsed;
// anything else, including NaN, is reported as not numeric.
func (r *Record) Number(name string) (float64, bool) {
	v, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Title returns the record's title, if any.
func (r *Record) Title() string {
	s, _ := r.Text(AttrTitle)
	return s
}

// Country returns the record's country, if any.
func (r *Record) Country() string {
	s, _ := r.Text(AttrCountry)
	return s
}

// Variety returns the record's grape variety, if any.
func (r *Record) Variety() string {
	s, _ := r.Text(AttrVariety)
	return s
}

// Price returns the record's numeric price.
func (r *Record) Price() (float64, bool) {
	return r.Number(AttrPrice)
}

// MarshalJSON renders the attributes together with the stable index.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.attrs)+1)
	for k, v := range r.attrs {
		out[k] = v
	}
	out["_index"] = r.Index
	return json.Marshal(out)
}

// FilterSpec restricts which catalog entries take part in ranking.
type FilterSpec struct {
	// Country, when non-empty, keeps entries whose country matches
	// case-insensitively. Entries without a country are kept.
	Country string

	// Variety, when non-empty, keeps entries whose variety matches
	// case-insensitively. Entries without a variety are kept.
	Variety string

	// MaxPrice, when set, drops entries with a numeric price above it.
	// Entries without a numeric price are kept.
	MaxPrice *float64

	// Exclude lists indices that never appear in results.
	Exclude map[int]struct{}
}

// Excluded reports whether index i is excluded.
func (f FilterSpec) Excluded(i int) bool {
	_, ok := f.Exclude[i]
	return ok
}

// ExcludeIndices builds an exclusion set.
func ExcludeIndices(indices ...int) map[int]struct{} {
	set := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		set[i] = struct{}{}
	}
	return set
}

// Price is a convenience for building FilterSpec.MaxPrice.
func Price(v float64) *float64 {
	return &v
}

// ScoredResult pairs a record with its cosine similarity to a query.
type ScoredResult struct {
	Record *Record `json:"record"`
	Score  float64 `json:"similarity"`
}

// Snapshot is the persisted form of a catalog.
type Snapshot struct {
	Fingerprint ID
	Dimension   int
	Records     []*Record
	Vectors     []Vector
	CreatedAt   time.Time
}
