package catalog

import "sync/atomic"

// Store holds the current catalog and swaps it atomically.
// Callers load the catalog once per query and use that value throughout.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore creates a store holding c, which may be nil.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	if c != nil {
		s.current.Store(c)
	}
	return s
}

// Current returns the catalog in effect, or ErrStoreEmpty.
func (s *Store) Current() (*Catalog, error) {
	c := s.current.Load()
	if c == nil {
		return nil, ErrStoreEmpty
	}
	return c, nil
}

// Replace installs c and returns the catalog it replaced.
func (s *Store) Replace(c *Catalog) *Catalog {
	return s.current.Swap(c)
}
