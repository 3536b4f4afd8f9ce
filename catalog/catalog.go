package catalog

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/cellar/core"
)

// Entry is a catalog position that has both a record and a vector.
type Entry struct {
	Record *core.Record
	Vector core.Vector
}

// Catalog is an immutable, index-aligned pairing of records and vectors.
type Catalog struct {
	records     []*core.Record
	vectors     []core.Vector
	dimension   int
	fingerprint core.ID
	createdAt   time.Time
	warnings    []error
}

type options struct {
	logger      *slog.Logger
	fingerprint core.ID
	createdAt   time.Time
	client      httpDoer
}

// Option configures catalog construction and loading.
type Option func(*options) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithFingerprint records the content fingerprint of the sources the
// catalog was built from.
func WithFingerprint(id core.ID) Option {
	return func(o *options) error {
		o.fingerprint = id
		return nil
	}
}

func buildOptions(opts []Option) (*options, error) {
	o := &options{
		logger: slog.Default(),
		client: defaultHTTPClient,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// New builds a catalog from parallel record and vector slices.
//
// A dimension of zero or less is inferred from the first vector. Every
// vector must have exactly that many elements. Differing record and vector
// counts are not fatal: the catalog is returned, Aligned reports false and
// the mismatch is logged and kept in Warnings. Record i is always paired
// with vector i; nothing is realigned.
func New(records []*core.Record, vectors []core.Vector, dimension int, opts ...Option) (*Catalog, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("component", "catalog")

	if len(vectors) == 0 {
		return nil, core.ErrEmptyCatalog
	}
	if dimension <= 0 {
		dimension = len(vectors[0])
	}
	if dimension == 0 {
		return nil, fmt.Errorf("%w: %w: first vector is empty", core.ErrLoad, core.ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, fmt.Errorf("%w: %w: vector %d has %d elements, expected %d",
				core.ErrLoad, core.ErrDimensionMismatch, i, len(v), dimension)
		}
	}

	c := &Catalog{
		records:     make([]*core.Record, len(records)),
		vectors:     slices.Clone(vectors),
		dimension:   dimension,
		fingerprint: o.fingerprint,
		createdAt:   o.createdAt,
	}
	if c.createdAt.IsZero() {
		c.createdAt = time.Now().UTC()
	}
	for i, r := range records {
		if r == nil {
			continue
		}
		if r.Index != i {
			r = core.NewRecord(i, r.Attributes())
		}
		c.records[i] = r
	}

	if len(records) != len(vectors) {
		warning := fmt.Errorf("%w: %d records but %d embeddings; both files must come from the same dataset",
			core.ErrDimensionMismatch, len(records), len(vectors))
		c.warnings = append(c.warnings, warning)
		logger.Warn("record and embedding counts differ",
			"records", len(records), "embeddings", len(vectors))
	}

	logger.Debug("catalog built", "records", len(records), "embeddings", len(vectors), "dimension", dimension)
	return c, nil
}

// FromSnapshot rebuilds a catalog from its persisted form.
func FromSnapshot(snap *core.Snapshot, opts ...Option) (*Catalog, error) {
	if err := core.ValidateSnapshot(snap); err != nil {
		return nil, err
	}
	opts = append([]Option{
		WithFingerprint(snap.Fingerprint),
		func(o *options) error {
			o.createdAt = snap.CreatedAt
			return nil
		},
	}, opts...)
	return New(snap.Records, snap.Vectors, snap.Dimension, opts...)
}

// Snapshot returns the persisted form of the catalog.
func (c *Catalog) Snapshot() *core.Snapshot {
	return &core.Snapshot{
		Fingerprint: c.fingerprint,
		Dimension:   c.dimension,
		Records:     slices.Clone(c.records),
		Vectors:     slices.Clone(c.vectors),
		CreatedAt:   c.createdAt,
	}
}

// Len returns the number of vectors, which bounds every scan.
func (c *Catalog) Len() int {
	return len(c.vectors)
}

// RecordCount returns the number of records.
func (c *Catalog) RecordCount() int {
	return len(c.records)
}

// Dimension returns the embedding dimension.
func (c *Catalog) Dimension() int {
	return c.dimension
}

// Fingerprint identifies the source content the catalog was built from.
func (c *Catalog) Fingerprint() core.ID {
	return c.fingerprint
}

// CreatedAt returns when the catalog content was first built.
func (c *Catalog) CreatedAt() time.Time {
	return c.createdAt
}

// Aligned reports whether record and vector counts agree.
func (c *Catalog) Aligned() bool {
	return len(c.records) == len(c.vectors)
}

// Warnings returns non-fatal problems found while building the catalog.
func (c *Catalog) Warnings() []error {
	return slices.Clone(c.warnings)
}

// Record returns the record at i, or nil.
func (c *Catalog) Record(i int) *core.Record {
	if i < 0 || i >= len(c.records) {
		return nil
	}
	return c.records[i]
}

// Vector returns the vector at i, or nil.
func (c *Catalog) Vector(i int) core.Vector {
	if i < 0 || i >= len(c.vectors) {
		return nil
	}
	return c.vectors[i]
}

// Get returns the entry at i. ok is false unless both a record and a
// vector exist at that position.
func (c *Catalog) Get(i int) (Entry, bool) {
	r, v := c.Record(i), c.Vector(i)
	if r == nil || v == nil {
		return Entry{}, false
	}
	return Entry{Record: r, Vector: v}, true
}

// Records returns the records in index order.
func (c *Catalog) Records() []*core.Record {
	return slices.Clone(c.records)
}

// Average returns the element-wise mean of the vectors at indices.
//
// Indices without a vector contribute nothing to the sum but still count
// toward the divisor, so a selection containing unknown indices yields a
// shorter vector than the mean of the known ones. Duplicates count each
// time they appear. Returns nil when indices is empty.
func (c *Catalog) Average(indices []int) core.Vector {
	if len(indices) == 0 || c.dimension == 0 {
		return nil
	}

	sum := make([]float64, c.dimension)
	for _, idx := range indices {
		v := c.Vector(idx)
		if v == nil {
			continue
		}
		for d := range sum {
			sum[d] += float64(v[d])
		}
	}

	avg := make(core.Vector, c.dimension)
	n := float64(len(indices))
	for d, s := range sum {
		avg[d] = float32(s / n)
	}
	return avg
}

// Facets lists the distinct values available for filtering.
type Facets struct {
	Countries []string `json:"countries"`
	Varieties []string `json:"varieties"`
}

// Facets collects the distinct trimmed countries and varieties in the
// catalog, sorted case-insensitively.
func (c *Catalog) Facets() Facets {
	countries := make(map[string]struct{})
	varieties := make(map[string]struct{})
	for _, r := range c.records {
		if r == nil {
			continue
		}
		if s := strings.TrimSpace(r.Country()); s != "" {
			countries[s] = struct{}{}
		}
		if s := strings.TrimSpace(r.Variety()); s != "" {
			varieties[s] = struct{}{}
		}
	}
	return Facets{
		Countries: sortedKeys(countries),
		Varieties: sortedKeys(varieties),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return keys
}
