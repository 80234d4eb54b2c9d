// Arena allocator for the guest address space
// Hands out non-overlapping offsets inside the backing buffer
package main

// Guest memory sizing. The backing buffer is one contiguous block; segments,
// stack, heap, commpage and TLS all carve offsets out of it through the
// arena and never overlap.
const (
	MaxGuestMemory  = 256 * 1024 * 1024 // 256 MB hard ceiling
	GuestPageSize   = 4096
	ArenaOutOfSpace = HostOffset(0xFFFFFFFF) // sentinel, matches the guest's "no address"
)

// GuestArena is a bump allocator over the backing buffer. Offsets returned
// are strictly monotonic; nothing is ever reclaimed during a run.
type GuestArena struct {
	next  HostOffset
	limit HostOffset
}

// NewGuestArena creates an arena covering [0, limit).
func NewGuestArena(limit uint32) *GuestArena {
	return &GuestArena{limit: HostOffset(limit)}
}

// Allocate rounds size up to align (a page when align is 0), returns the
// cursor before the bump, and advances. Returns ArenaOutOfSpace with
// ErrResourceExhausted when the ceiling would be exceeded.
func (a *GuestArena) Allocate(size uint32, align uint32) (HostOffset, error) {
	if align == 0 {
		align = GuestPageSize
	}
	rounded := (uint64(size) + uint64(align) - 1) &^ (uint64(align) - 1)
	if uint64(a.next)+rounded > uint64(a.limit) {
		warnf("arena", "out of guest memory: requested 0x%x at offset %v (max 0x%x)",
			rounded, a.next, uint64(a.limit))
		return ArenaOutOfSpace, faultf(ErrResourceExhausted,
			"guest arena exhausted at %v (+0x%x)", a.next, rounded)
	}
	result := a.next
	a.next += HostOffset(rounded)
	debugf("arena", "allocated 0x%x bytes at %v (align 0x%x, next %v)",
		rounded, result, align, a.next)
	return result, nil
}

// CurrentOffset reports the bump cursor.
func (a *GuestArena) CurrentOffset() HostOffset {
	return a.next
}

// Reset rewinds the arena. Tests only.
func (a *GuestArena) Reset() {
	a.next = 0
}
