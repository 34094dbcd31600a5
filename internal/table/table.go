package table

import (
	"lockstep/internal/entity"
	"lockstep/internal/fixedpoint"
)

// PositionFunc reads the world position out of a row, for tables that carry
// a spatial index. Tables with no spatial concerns pass a nil PositionFunc
// to Options.
type PositionFunc[T any] func(row *T) fixedpoint.Fixed2

// LRUKeyFunc reads a row's declared eviction-priority field.
type LRUKeyFunc[T any] func(row *T) int64

// Options configures a Table at construction. Capacity is the only
// required field; Position and the LRU fields are opt in.
type Options[T any] struct {
	Name     string // declared table name, used in schema digests and dumps
	Kind     uint16
	Capacity int
	Position PositionFunc[T]
	Spatial  *SpatialIndex // optional, requires Position

	// EnableLRU turns TableFull into an eviction of the row with the
	// smallest LRUKey instead of a failure. LRUKey must be set when true.
	EnableLRU bool
	LRUKey    LRUKeyFunc[T]
}

// Table is a single archetype: a dense, capacity-bounded array of blittable
// rows addressed by entity.Handle, with an optional derived spatial index.
type Table[T any] struct {
	name     string
	kind     uint16
	capacity int
	count    int

	alloc *entity.Allocator

	rows          []T
	rowToStableID []uint32
	stableIDToRow []int32 // indexed by raw id; -1 if not present

	position PositionFunc[T]
	spatial  *SpatialIndex

	lru    *evictionTracker
	lruKey LRUKeyFunc[T]

	cmd CommandBuffer[T]
}

// New builds a Table sharing alloc for identity bookkeeping of opts.Kind.
// Callers that want several tables to allocate handles from disjoint kind
// spaces on the same Allocator should give each table a distinct Kind.
func New[T any](alloc *entity.Allocator, opts Options[T]) *Table[T] {
	t := &Table[T]{
		name:          opts.Name,
		kind:          opts.Kind,
		capacity:      opts.Capacity,
		alloc:         alloc,
		rows:          make([]T, opts.Capacity),
		rowToStableID: make([]uint32, opts.Capacity),
		stableIDToRow: make([]int32, 0, opts.Capacity),
		position:      opts.Position,
		spatial:       opts.Spatial,
		lruKey:        opts.LRUKey,
	}
	if opts.EnableLRU {
		t.lru = newEvictionTracker(opts.Capacity)
	}
	return t
}

// Name returns the table's declared name.
func (t *Table[T]) Name() string { return t.name }

// Count returns the number of live rows, always in 0..Capacity.
func (t *Table[T]) Count() int { return t.count }

// Capacity returns the table's fixed row capacity.
func (t *Table[T]) Capacity() int { return t.capacity }

func (t *Table[T]) growStableIDToRow(rawID uint32) {
	for uint32(len(t.stableIDToRow)) <= rawID {
		t.stableIDToRow = append(t.stableIDToRow, -1)
	}
}

// Allocate reserves the next dense row and returns a handle to it. The new
// row is zero-valued; callers populate it through Get. If the table is full
// and LRU eviction is not enabled, it fails with ErrTableFull. With LRU
// enabled, the row carrying the minimum declared LRU-key is evicted first.
func (t *Table[T]) Allocate() (entity.Handle, error) {
	if t.count >= t.capacity {
		if t.lru == nil {
			return entity.Invalid, ErrTableFull
		}
		if err := t.evictOldest(); err != nil {
			return entity.Invalid, err
		}
	}

	row := t.count
	handle, err := t.alloc.Allocate(t.kind, int32(row))
	if err != nil {
		return entity.Invalid, err
	}
	rawID := handle.RawID()

	t.growStableIDToRow(rawID)
	t.stableIDToRow[rawID] = int32(row)
	t.rowToStableID[row] = rawID
	var zero T
	t.rows[row] = zero
	t.count++

	if t.lru != nil {
		t.lru.touch(rawID)
	}
	return handle, nil
}

func (t *Table[T]) evictOldest() error {
	rawID, ok := t.lru.oldest()
	if !ok {
		return ErrTableFull
	}
	if t.lruKey != nil {
		// Keys come oldest first, so among equal LRU-keys the least
		// recently touched row is the one evicted.
		var best int64
		found := false
		for _, id := range t.lru.cache.Keys() {
			if int(id) >= len(t.stableIDToRow) || t.stableIDToRow[id] < 0 {
				continue
			}
			if k := t.lruKey(&t.rows[t.stableIDToRow[id]]); !found || k < best {
				rawID, best, found = id, k, true
			}
		}
	}
	gen, ok := t.alloc.GenerationOf(t.kind, rawID)
	if !ok {
		return ErrTableFull
	}
	return t.freeRow(entity.NewHandle(0, gen, rawID, t.kind))
}

// Free removes handle's row, swapping the last dense row into its place.
// Returns ErrStale if handle's generation no longer matches.
func (t *Table[T]) Free(handle entity.Handle) error {
	if handle.Kind() != t.kind {
		return ErrWrongKind
	}
	return t.freeRow(handle)
}

func (t *Table[T]) freeRow(handle entity.Handle) error {
	row, err := t.alloc.LocationOf(handle)
	if err == entity.ErrStale {
		return ErrStale
	}
	if err != nil {
		return err
	}
	rawID := handle.RawID()
	last := int32(t.count - 1)

	if t.lru != nil {
		t.lru.forget(rawID)
	}

	if row != last {
		t.rows[row], t.rows[last] = t.rows[last], t.rows[row]
		movedRawID := t.rowToStableID[last]
		t.rowToStableID[row] = movedRawID
		t.stableIDToRow[movedRawID] = row
		if err := t.alloc.SetLocationByRawID(t.kind, movedRawID, row); err != nil {
			return err
		}
	}

	var zero T
	t.rows[last] = zero
	t.stableIDToRow[rawID] = -1
	t.count--

	return t.alloc.Free(handle)
}

// Get returns a mutable pointer to handle's row, or ErrStale if handle's
// generation no longer matches the live occupant.
func (t *Table[T]) Get(handle entity.Handle) (*T, error) {
	if handle.Kind() != t.kind {
		return nil, ErrWrongKind
	}
	row, err := t.alloc.LocationOf(handle)
	if err == entity.ErrStale {
		return nil, ErrStale
	}
	if err != nil {
		return nil, err
	}
	return &t.rows[row], nil
}

// Touch records that handle's declared LRU-key field changed, moving it to
// the most-recently-used end of the eviction order. A no-op when LRU
// eviction is not enabled.
func (t *Table[T]) Touch(handle entity.Handle) {
	if t.lru == nil {
		return
	}
	if _, err := t.alloc.LocationOf(handle); err != nil {
		return
	}
	t.lru.touch(handle.RawID())
}

// Rows returns the live row span, 0..Count(). Callers must not retain the
// slice across a structural change.
func (t *Table[T]) Rows() []T {
	return t.rows[:t.count]
}

// HandleAt reconstructs the live handle for a dense row index. Row indices
// are only stable within a frame; callers that need a reference surviving
// structural changes keep the handle, not the row.
func (t *Table[T]) HandleAt(row int) (entity.Handle, error) {
	if row < 0 || row >= t.count {
		return entity.Invalid, ErrOutOfBounds
	}
	rawID := t.rowToStableID[row]
	gen, ok := t.alloc.GenerationOf(t.kind, rawID)
	if !ok {
		return entity.Invalid, ErrStale
	}
	return entity.NewHandle(0, gen, rawID, t.kind), nil
}

// RebuildSpatialIndex re-buckets every live row by its current position.
// Call once per frame, after movement systems run and before any query.
func (t *Table[T]) RebuildSpatialIndex() {
	if t.spatial == nil {
		return
	}
	t.spatial.Rebuild(t.count, func(row int) fixedpoint.Fixed2 {
		return t.position(&t.rows[row])
	})
}

// QueryRadius writes, in ascending cell then row order, the rows within
// radius of centre into out, returning the count written and whether the
// result was truncated because out was too small.
func (t *Table[T]) QueryRadius(centre fixedpoint.Fixed2, radius fixedpoint.Fixed, out []int32) (int, bool, error) {
	if t.spatial == nil {
		return 0, false, ErrNoSpatialIndex
	}
	return t.spatial.QueryRadius(centre, radius, func(row int) fixedpoint.Fixed2 {
		return t.position(&t.rows[row])
	}, out)
}

// QueryAABB writes, in the same deterministic order as QueryRadius, the
// rows within [min, max] into out.
func (t *Table[T]) QueryAABB(min, max fixedpoint.Fixed2, out []int32) (int, bool, error) {
	if t.spatial == nil {
		return 0, false, ErrNoSpatialIndex
	}
	return t.spatial.QueryAABB(min, max, func(row int) fixedpoint.Fixed2 {
		return t.position(&t.rows[row])
	}, out)
}

// Commands returns the table's deferred structural-change buffer. Systems
// queue allocations/frees here instead of calling Allocate/Free directly
// while rows 0..count are being iterated; the pipeline applies them via
// Playback between systems.
func (t *Table[T]) Commands() *CommandBuffer[T] {
	return &t.cmd
}

// Playback applies every queued command in FIFO order and clears the
// buffer. Called by the pipeline between systems.
func (t *Table[T]) Playback() error {
	defer t.cmd.Reset()
	for _, c := range t.cmd.commands {
		switch c.kind {
		case cmdAllocate:
			h, err := t.Allocate()
			if err != nil {
				return err
			}
			if c.init != nil {
				row, err := t.Get(h)
				if err != nil {
					return err
				}
				c.init(row)
			}
		case cmdFree:
			if err := t.Free(c.handle); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset clears every row to zero, rebuilds the free list and bumps every
// generation, so every handle issued before the reset compares stale.
func (t *Table[T]) Reset() {
	for i := range t.rows {
		var zero T
		t.rows[i] = zero
	}
	for i := range t.rowToStableID {
		t.rowToStableID[i] = 0
	}
	t.count = 0
	t.cmd.Reset()
	gens := t.alloc.Generations(t.kind)
	free := make([]uint32, len(gens))
	loc := make([]int32, len(gens))
	t.stableIDToRow = t.stableIDToRow[:0]
	for i := range gens {
		if gens[i]++; gens[i] == 0 {
			gens[i] = 1
		}
		free[len(gens)-1-i] = uint32(i) // raw id 0 is handed out first
		loc[i] = -1
		t.stableIDToRow = append(t.stableIDToRow, -1)
	}
	t.alloc.RestoreKind(t.kind, gens, free, loc)
}
