// Package snapshot implements the variable-layout, multi-table snapshot
// codec: a fixed 32-byte header, one length-prefixed meta+slab section per
// table in declared order, and a CRC32 footer over the payload. The same
// format backs both in-memory rollback snapshots and persisted replay
// files (internal/replay).
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"

	"lockstep/internal/table"
)

// Magic identifies a snapshot payload.
const Magic uint32 = 0x534e4150 // "SNAP" as a big-endian word; written little-endian, the bytes are "PANS"

// Version is the on-disk/on-wire format version this package writes and
// expects to read.
const Version uint32 = 1

const headerSize = 32

// ErrSchemaMismatch is returned by Restore when a snapshot's embedded
// schema digest does not match the live world's tables.
var ErrSchemaMismatch = errors.New("snapshot: schema mismatch")

// ErrBadMagic is returned when a payload does not begin with Magic.
var ErrBadMagic = errors.New("snapshot: bad magic")

// ErrTruncated is returned when a payload ends before its declared
// sections are fully read.
var ErrTruncated = errors.New("snapshot: truncated payload")

// ErrCorrupt is returned when a payload's CRC32 footer does not match its
// contents.
var ErrCorrupt = errors.New("snapshot: crc32 mismatch")

// SchemaDigest combines every table's schema fingerprint, sorted by
// declared name so registration order never affects the digest, folding
// the result into the 32 bits the wire header carries.
func SchemaDigest(tables []table.Snapshotter) uint32 {
	names := make([]string, len(tables))
	byName := make(map[string]table.Snapshotter, len(tables))
	for i, tb := range tables {
		names[i] = tb.Name()
		byName[tb.Name()] = tb
	}
	sort.Strings(names)

	h := uint64(0xcbf29ce484222325) // FNV-ish seed, mixed below
	for _, name := range names {
		fp := byName[name].SchemaFingerprint()
		h ^= fp
		h *= 0x100000001b3
	}
	return uint32(h ^ (h >> 32))
}

// Save writes every table's meta and slab, in declared (registration)
// order, to a single payload: 32-byte header, per-table length-prefixed
// sections, 4-byte CRC32 footer.
func Save(tables []table.Snapshotter) []byte {
	var payload bytes.Buffer
	for _, tb := range tables {
		meta := tb.Meta()
		slab := tb.Slab()
		binary.Write(&payload, binary.LittleEndian, uint32(len(meta)))
		payload.Write(meta)
		binary.Write(&payload, binary.LittleEndian, uint32(len(slab)))
		payload.Write(slab)
	}

	var out bytes.Buffer
	out.Grow(headerSize + payload.Len() + 4)
	binary.Write(&out, binary.LittleEndian, Magic)
	binary.Write(&out, binary.LittleEndian, Version)
	binary.Write(&out, binary.LittleEndian, SchemaDigest(tables))
	binary.Write(&out, binary.LittleEndian, uint32(len(tables)))
	out.Write(make([]byte, 16)) // reserved

	out.Write(payload.Bytes())
	binary.Write(&out, binary.LittleEndian, crc32.ChecksumIEEE(payload.Bytes()))
	return out.Bytes()
}

// Header is the parsed fixed-size prefix of a snapshot payload.
type Header struct {
	Version      uint32
	SchemaDigest uint32
	TableCount   uint32
}

// Restore parses data, validates its schema digest against tables and
// magic/CRC, and restores each table (in the same declared order Save
// used) from its meta+slab section. On any error, no table is left
// partially restored with mismatched meta and slab: decoding happens in a
// first pass before any RestoreMeta/RestoreSlab call.
func Restore(data []byte, tables []table.Snapshotter) (Header, error) {
	var hdr Header
	if len(data) < headerSize+4 {
		return hdr, ErrTruncated
	}
	r := bytes.NewReader(data[:headerSize])
	var magic uint32
	binary.Read(r, binary.LittleEndian, &magic)
	if magic != Magic {
		return hdr, ErrBadMagic
	}
	binary.Read(r, binary.LittleEndian, &hdr.Version)
	binary.Read(r, binary.LittleEndian, &hdr.SchemaDigest)
	binary.Read(r, binary.LittleEndian, &hdr.TableCount)

	if hdr.SchemaDigest != SchemaDigest(tables) {
		return hdr, ErrSchemaMismatch
	}
	if int(hdr.TableCount) != len(tables) {
		return hdr, fmt.Errorf("%w: header declares %d tables, world has %d", ErrSchemaMismatch, hdr.TableCount, len(tables))
	}

	payload := data[headerSize : len(data)-4]
	wantCRC := crc32.ChecksumIEEE(payload)
	gotCRC := binary.LittleEndian.Uint32(data[len(data)-4:])
	if wantCRC != gotCRC {
		return hdr, ErrCorrupt
	}

	type section struct{ meta, slab []byte }
	sections := make([]section, len(tables))

	pr := bytes.NewReader(payload)
	for i := range tables {
		meta, err := readFramed(pr)
		if err != nil {
			return hdr, fmt.Errorf("table %d meta: %w", i, err)
		}
		slab, err := readFramed(pr)
		if err != nil {
			return hdr, fmt.Errorf("table %d slab: %w", i, err)
		}
		sections[i] = section{meta: meta, slab: slab}
	}

	for i, tb := range tables {
		if err := tb.RestoreMeta(sections[i].meta); err != nil {
			return hdr, fmt.Errorf("table %q: %w", tb.Name(), err)
		}
		if err := tb.RestoreSlab(sections[i].slab); err != nil {
			return hdr, fmt.Errorf("table %q: %w", tb.Name(), err)
		}
	}
	return hdr, nil
}

func readFramed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, ErrTruncated
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil && n > 0 {
		return nil, ErrTruncated
	}
	return buf, nil
}
