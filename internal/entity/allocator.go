package entity

import "errors"

// ErrStale is returned when a handle's generation no longer matches the
// live occupant of its slot.
var ErrStale = errors.New("entity: stale handle")

// ErrUnknownKind is returned when an operation names a kind the allocator
// was never told about via Allocate/RestoreKind.
var ErrUnknownKind = errors.New("entity: unknown kind")

// ErrRawIDSpaceExhausted is returned when a kind's free list is empty and
// its dense id space has reached MaxRawID.
var ErrRawIDSpaceExhausted = errors.New("entity: raw id space exhausted")

// kindBucket holds the per-kind generation counters, current locations, and
// free list. All three are plain slices indexed by raw id: every lookup is
// O(1) and never iterates a hash container.
type kindBucket struct {
	generation []uint16
	location   []int32 // row index in the kind's table; -1 if freed
	freeList   []uint32
}

// Allocator hands out and retires entity handles for a fixed set of kinds.
// It never iterates; every operation touches exactly one slot.
type Allocator struct {
	kinds []*kindBucket // indexed by kind id
}

// NewAllocator returns an empty allocator. Kinds are created lazily by the
// first Allocate call that names them.
func NewAllocator() *Allocator {
	return &Allocator{}
}

func (a *Allocator) ensureKind(kind uint16) *kindBucket {
	for len(a.kinds) <= int(kind) {
		a.kinds = append(a.kinds, nil)
	}
	if a.kinds[kind] == nil {
		a.kinds[kind] = &kindBucket{}
	}
	return a.kinds[kind]
}

func (a *Allocator) bucket(kind uint16) (*kindBucket, error) {
	if int(kind) >= len(a.kinds) || a.kinds[kind] == nil {
		return nil, ErrUnknownKind
	}
	return a.kinds[kind], nil
}

// Allocate returns a fresh handle for kind, recording initialRow as its
// current location. It reuses a freed raw id when one is available; Free
// already bumped that slot's generation, so any handle built from the
// previous occupant's generation compares stale.
func (a *Allocator) Allocate(kind uint16, initialRow int32) (Handle, error) {
	b := a.ensureKind(kind)

	var rawID uint32
	if n := len(b.freeList); n > 0 {
		rawID = b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
	} else {
		if len(b.generation) > MaxRawID {
			return Invalid, ErrRawIDSpaceExhausted
		}
		rawID = uint32(len(b.generation))
		b.generation = append(b.generation, 0)
		b.location = append(b.location, -1)
	}

	b.location[rawID] = initialRow
	return pack(0, b.generation[rawID], rawID, kind), nil
}

// Free retires handle, bumping the generation of its slot (skipping zero)
// and returning the raw id to the free list. Returns ErrStale if the
// handle's generation does not match the live occupant.
func (a *Allocator) Free(handle Handle) error {
	b, err := a.bucket(handle.Kind())
	if err != nil {
		return err
	}
	rawID := handle.RawID()
	if int(rawID) >= len(b.generation) || b.generation[rawID] != handle.Generation() {
		return ErrStale
	}

	b.location[rawID] = -1
	next := b.generation[rawID] + 1
	if next == 0 {
		next = 1 // skip zero so a fresh allocation never looks like generation 0 twice in a row
	}
	b.generation[rawID] = next
	b.freeList = append(b.freeList, rawID)
	return nil
}

// IsAlive reports whether handle still names a live entity.
func (a *Allocator) IsAlive(handle Handle) bool {
	b, err := a.bucket(handle.Kind())
	if err != nil {
		return false
	}
	rawID := handle.RawID()
	if int(rawID) >= len(b.generation) {
		return false
	}
	return b.generation[rawID] == handle.Generation() && b.location[rawID] != -1
}

// LocationOf returns the current row for handle, or ErrStale if the
// handle no longer matches its slot's generation.
func (a *Allocator) LocationOf(handle Handle) (int32, error) {
	b, err := a.bucket(handle.Kind())
	if err != nil {
		return -1, err
	}
	rawID := handle.RawID()
	if int(rawID) >= len(b.generation) || b.generation[rawID] != handle.Generation() {
		return -1, ErrStale
	}
	return b.location[rawID], nil
}

// SetLocation updates the row recorded for handle, e.g. after a table
// compaction moves it. Returns ErrStale if the handle is no longer live.
func (a *Allocator) SetLocation(handle Handle, row int32) error {
	b, err := a.bucket(handle.Kind())
	if err != nil {
		return err
	}
	rawID := handle.RawID()
	if int(rawID) >= len(b.generation) || b.generation[rawID] != handle.Generation() {
		return ErrStale
	}
	b.location[rawID] = row
	return nil
}

// Reset clears all kinds back to empty, as if newly constructed.
func (a *Allocator) Reset() {
	for _, b := range a.kinds {
		if b == nil {
			continue
		}
		b.generation = b.generation[:0]
		b.location = b.location[:0]
		b.freeList = b.freeList[:0]
	}
}

// ResetKind clears a single kind back to empty, as if newly constructed.
// Unlike Reset it does not touch other kinds sharing the allocator.
func (a *Allocator) ResetKind(kind uint16) {
	b, err := a.bucket(kind)
	if err != nil {
		return
	}
	b.generation = b.generation[:0]
	b.location = b.location[:0]
	b.freeList = b.freeList[:0]
}

// GenerationOf returns the current generation stamped on rawID within
// kind, and false if kind is unknown or rawID was never allocated.
func (a *Allocator) GenerationOf(kind uint16, rawID uint32) (uint16, bool) {
	b, err := a.bucket(kind)
	if err != nil || int(rawID) >= len(b.generation) {
		return 0, false
	}
	return b.generation[rawID], true
}

// Generations returns a copy of kind's generation table, for inclusion in
// a table's snapshot meta. Returns nil if kind is unknown.
func (a *Allocator) Generations(kind uint16) []uint16 {
	b, err := a.bucket(kind)
	if err != nil {
		return nil
	}
	out := make([]uint16, len(b.generation))
	copy(out, b.generation)
	return out
}

// FreeListSnapshot returns a copy of kind's free list, for inclusion in a
// table's snapshot meta.
func (a *Allocator) FreeListSnapshot(kind uint16) []uint32 {
	b, err := a.bucket(kind)
	if err != nil {
		return nil
	}
	out := make([]uint32, len(b.freeList))
	copy(out, b.freeList)
	return out
}

// RestoreKind replaces kind's generation, free list and location state
// wholesale, as recorded in a snapshot. location is indexed by raw id and
// uses -1 for a raw id with no live row, the same convention a row
// table's stable_id_to_row uses - the two are interchangeable.
func (a *Allocator) RestoreKind(kind uint16, generation []uint16, freeList []uint32, location []int32) {
	b := a.ensureKind(kind)
	b.generation = append(b.generation[:0], generation...)
	b.freeList = append(b.freeList[:0], freeList...)
	b.location = append(b.location[:0], location...)
}

// SetLocationByRawID updates the row recorded for a raw id directly,
// bypassing generation validation. Used by row tables to rewire the
// location of whichever live handle currently owns rawID after a
// swap-with-last compaction, without needing to reconstruct that handle.
func (a *Allocator) SetLocationByRawID(kind uint16, rawID uint32, row int32) error {
	b, err := a.bucket(kind)
	if err != nil {
		return err
	}
	if int(rawID) >= len(b.generation) {
		return ErrStale
	}
	b.location[rawID] = row
	return nil
}
