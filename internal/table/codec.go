package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Snapshotter is the interface the snapshot codec (internal/snapshot) and
// the hasher (internal/simhash) operate against. Table[T] implements it
// for every row type T without either package needing to know T.
type Snapshotter interface {
	Name() string
	Meta() []byte
	RestoreMeta(data []byte) error
	Slab() []byte
	RestoreSlab(data []byte) error
	SchemaFingerprint() uint64
	DumpJSON() ([]byte, error)
}

// ToSnapshotters narrows a slice of Handle down to Snapshotter, for
// callers (the snapshot codec, the hasher) that only need the read/
// restore surface and not command-buffer playback.
func ToSnapshotters(tables []Handle) []Snapshotter {
	out := make([]Snapshotter, len(tables))
	for i, t := range tables {
		out[i] = t
	}
	return out
}

// Handle is everything the system pipeline needs from a table it does not
// know the row type of: the snapshot/hash surface plus deferred command
// buffer playback.
type Handle interface {
	Snapshotter
	Playback() error
}

func writeUint32Slice(buf *bytes.Buffer, s []uint32) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	binary.Write(buf, binary.LittleEndian, s)
}

func writeInt32Slice(buf *bytes.Buffer, s []int32) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	binary.Write(buf, binary.LittleEndian, s)
}

func writeUint16Slice(buf *bytes.Buffer, s []uint16) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	binary.Write(buf, binary.LittleEndian, s)
}

func readUint32Slice(r *bytes.Reader) ([]uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readInt32Slice(r *bytes.Reader) ([]int32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]int32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readUint16Slice(r *bytes.Reader) ([]uint16, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Meta encodes count, the forward/reverse stable-id maps and the entity
// allocator's generation/free-list state for this table's kind. Combined
// with Slab, it is everything needed to restore the table and every
// handle into it bit-for-bit.
func (t *Table[T]) Meta() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(t.count))
	writeUint32Slice(buf, t.rowToStableID[:t.count])
	writeInt32Slice(buf, t.stableIDToRow)
	writeUint16Slice(buf, t.alloc.Generations(t.kind))
	writeUint32Slice(buf, t.alloc.FreeListSnapshot(t.kind))
	return buf.Bytes()
}

// RestoreMeta is the inverse of Meta. It restores this table's own
// bookkeeping and rewires the shared entity allocator's bucket for this
// table's kind; call RestoreSlab immediately afterward.
func (t *Table[T]) RestoreMeta(data []byte) error {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("table %q: decode count: %w", t.name, err)
	}
	t.count = int(count)

	rowToStableID, err := readUint32Slice(r)
	if err != nil {
		return fmt.Errorf("table %q: decode row_to_stable_id: %w", t.name, err)
	}
	copy(t.rowToStableID, rowToStableID)

	stableIDToRow, err := readInt32Slice(r)
	if err != nil {
		return fmt.Errorf("table %q: decode stable_id_to_row: %w", t.name, err)
	}
	t.stableIDToRow = stableIDToRow

	generation, err := readUint16Slice(r)
	if err != nil {
		return fmt.Errorf("table %q: decode generation: %w", t.name, err)
	}
	freeList, err := readUint32Slice(r)
	if err != nil {
		return fmt.Errorf("table %q: decode free_list: %w", t.name, err)
	}
	t.alloc.RestoreKind(t.kind, generation, freeList, t.stableIDToRow)

	// The spatial index is derived state: it is not touched here and
	// stays stale until the pipeline's next RebuildSpatialIndex call.
	return nil
}

// Slab encodes rows[0:count] as a flat little-endian byte span - a single
// pass over blittable data, the Go-safe equivalent of the memcpy the
// design calls for.
func (t *Table[T]) Slab() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(t.count * t.rowSize())
	binary.Write(buf, binary.LittleEndian, t.rows[:t.count])
	return buf.Bytes()
}

// RestoreSlab is the inverse of Slab. Call after RestoreMeta, which sets
// count.
func (t *Table[T]) RestoreSlab(data []byte) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, t.rows[:t.count]); err != nil {
		return fmt.Errorf("table %q: decode slab: %w", t.name, err)
	}
	return nil
}

func (t *Table[T]) rowSize() int {
	var zero T
	size, err := binarySize(zero)
	if err != nil {
		// Row types are constrained to be blittable by convention; a
		// size failure means a row type violates that contract.
		panic(fmt.Sprintf("table %q: row type is not blittable: %v", t.name, err))
	}
	return size
}

func binarySize(v any) (int, error) {
	n := binary.Size(v)
	if n < 0 {
		return 0, fmt.Errorf("type %T has no fixed binary size", v)
	}
	return n, nil
}

// SchemaFingerprint hashes the row type's field names, offsets and sizes,
// covering the (table_name, row_size, field_offsets) tuple.
// Two processes with the same Go row type always compute the same
// fingerprint; any field reordering, addition or removal changes it.
func (t *Table[T]) SchemaFingerprint() uint64 {
	var zero T
	h := xxhash.New()
	fmt.Fprintf(h, "%s|", t.name)
	typ := reflect.TypeOf(zero)
	if typ != nil {
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			fmt.Fprintf(h, "%s:%d:%d;", f.Name, f.Offset, f.Type.Size())
		}
	}
	return h.Sum64()
}
