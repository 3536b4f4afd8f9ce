package core

import "fmt"

// ValidateFilterSpec checks a FilterSpec for values that can never match
// anything sensible.
//
// Validation rules:
//   - Exclude indices must not be negative
//
// Any MaxPrice is accepted. +Inf excludes nothing, -Inf excludes every
// priced record and NaN excludes nothing, as the comparisons fall out.
func ValidateFilterSpec(spec FilterSpec) error {
	for i := range spec.Exclude {
		if i < 0 {
			return fmt.Errorf("%w: negative excluded index %d", ErrInvalidFilter, i)
		}
	}
	return nil
}

// ValidateSnapshot checks that a snapshot can back a catalog.
//
// Validation rules:
//   - at least one vector
//   - positive dimension
//   - every vector has exactly Dimension elements
//
// Record and vector counts may differ; that is reported by the catalog, not here.
func ValidateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrLoad)
	}
	if len(snap.Vectors) == 0 {
		return ErrEmptyCatalog
	}
	if snap.Dimension <= 0 {
		return fmt.Errorf("%w: %w: dimension %d", ErrLoad, ErrDimensionMismatch, snap.Dimension)
	}
	for i, v := range snap.Vectors {
		if len(v) != snap.Dimension {
			return fmt.Errorf("%w: %w: vector %d has %d elements, expected %d",
				ErrLoad, ErrDimensionMismatch, i, len(v), snap.Dimension)
		}
	}
	return nil
}
