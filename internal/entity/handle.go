// Package entity implements the packed 64-bit entity handle and the
// generation-checked allocator that hands them out. A handle identifies one
// row in one row-schema table for its lifetime; reuse of the underlying
// slot bumps the generation so stale copies of the handle are detectable in
// O(1) without touching any hash container.
package entity

// Handle is a packed 64-bit entity identity: flags:8 | generation:16 |
// rawID:24 | kind:16, high bits first. Invalid is the all-zero value.
type Handle uint64

// Invalid is the handle that never refers to a live entity.
const Invalid Handle = 0

const (
	kindBits       = 16
	rawIDBits      = 24
	generationBits = 16

	kindShift       = 0
	rawIDShift      = kindShift + kindBits
	generationShift = rawIDShift + rawIDBits
	flagsShift      = generationShift + generationBits

	kindMask       = uint64(1)<<kindBits - 1
	rawIDMask      = uint64(1)<<rawIDBits - 1
	generationMask = uint64(1)<<generationBits - 1
	flagsMask      = uint64(1)<<8 - 1
)

// MaxRawID is the largest raw id the 24-bit field can represent.
const MaxRawID = 1<<rawIDBits - 1

// pack assembles a Handle from its fields.
func pack(flags uint8, generation uint16, rawID uint32, kind uint16) Handle {
	return Handle(
		uint64(flags&0xff)<<flagsShift |
			uint64(generation)<<generationShift |
			(uint64(rawID)&rawIDMask)<<rawIDShift |
			uint64(kind)<<kindShift,
	)
}

// NewHandle assembles a Handle from its fields. Exported for callers (row
// tables) that reconstruct a handle from bookkeeping they already hold,
// such as the raw id and generation recorded alongside a dense row.
func NewHandle(flags uint8, generation uint16, rawID uint32, kind uint16) Handle {
	return pack(flags, generation, rawID, kind)
}

// Kind returns the schema/table identifier this handle belongs to.
func (h Handle) Kind() uint16 {
	return uint16(uint64(h) >> kindShift & kindMask)
}

// RawID returns the stable identity slot within the handle's kind.
func (h Handle) RawID() uint32 {
	return uint32(uint64(h) >> rawIDShift & rawIDMask)
}

// Generation returns the handle's generation counter.
func (h Handle) Generation() uint16 {
	return uint16(uint64(h) >> generationShift & generationMask)
}

// Flags returns the handle's flag byte.
func (h Handle) Flags() uint8 {
	return uint8(uint64(h) >> flagsShift & flagsMask)
}

// IsValid reports whether h is anything other than the zero handle. It does
// not consult an allocator - use Allocator.IsAlive for liveness.
func (h Handle) IsValid() bool {
	return h != Invalid
}
