// Package table implements archetype-style row storage: a dense array of
// blittable rows addressed by entity handle, with an optional derived
// spatial index and optional LRU-based eviction when a table fills up.
package table

import "errors"

// ErrTableFull is returned by Allocate when the table has no free slot and
// no eviction policy is configured to make one.
var ErrTableFull = errors.New("table: full")

// ErrStale is returned when a handle's generation no longer matches the
// live occupant of its raw id.
var ErrStale = errors.New("table: stale handle")

// ErrOutOfBounds is returned by spatial queries whose output span has zero
// capacity.
var ErrOutOfBounds = errors.New("table: query span has no capacity")

// ErrWrongKind is returned when a handle names a different kind than the
// table it is presented to.
var ErrWrongKind = errors.New("table: handle kind mismatch")

// ErrNoSpatialIndex is returned by query operations on a table built
// without a spatial index.
var ErrNoSpatialIndex = errors.New("table: no spatial index configured")
