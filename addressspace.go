// Completion: 100% - Guest memory mapping complete
package main

import (
	"encoding/binary"
	"sort"
)

// Mapping covers a contiguous half-open guest range [Vaddr, Vaddr+Size)
// backed by a contiguous range of the host buffer starting at HostOff.
type Mapping struct {
	Vaddr   GuestAddr
	HostOff HostOffset
	Size    uint32
}

// AddressSpace is the mapping authority between guest virtual addresses and
// the host-resident backing buffer. Mappings are grow-only for the lifetime
// of a run. Reads and writes that straddle unmapped bytes fail atomically:
// no partial effect is observable.
//
// This is the direct implementation: one large contiguous host buffer, with
// mappings handing out windows into it. The capability set is
// {read, write, register_mapping, translate, tls_map}.
type AddressSpace struct {
	buf      []byte
	mappings []Mapping // sorted by Vaddr
}

// NewAddressSpace creates an address space over a backing buffer of the
// given size. The buffer starts zeroed, which doubles as BSS clearing.
func NewAddressSpace(size uint32) *AddressSpace {
	return &AddressSpace{buf: make([]byte, size)}
}

// RegisterMapping makes [vaddr, vaddr+size) visible, backed by
// [hostOff, hostOff+size) in the buffer. Overlapping an existing mapping or
// exceeding the backing buffer is a BadInput error.
func (as *AddressSpace) RegisterMapping(vaddr GuestAddr, hostOff HostOffset, size uint32) error {
	if size == 0 {
		return faultf(ErrBadInput, "empty mapping at %v", vaddr)
	}
	if uint64(vaddr)+uint64(size) > 1<<32 {
		return faultf(ErrBadInput, "mapping wraps guest space at %v (+0x%x)", vaddr, size)
	}
	if uint64(hostOff)+uint64(size) > uint64(len(as.buf)) {
		return faultf(ErrBadInput, "mapping exceeds backing buffer: %v size 0x%x", hostOff, size)
	}
	for _, m := range as.mappings {
		if uint32(vaddr) < uint32(m.Vaddr)+m.Size && uint32(m.Vaddr) < uint32(vaddr)+size {
			return faultf(ErrBadInput, "mapping %v overlaps existing mapping %v", vaddr, m.Vaddr)
		}
	}
	as.mappings = append(as.mappings, Mapping{Vaddr: vaddr, HostOff: hostOff, Size: size})
	sort.Slice(as.mappings, func(i, j int) bool {
		return as.mappings[i].Vaddr < as.mappings[j].Vaddr
	})
	debugf("addrspace", "mapped %v..0x%08x -> %v", vaddr, uint32(vaddr)+size, hostOff)
	return nil
}

// MapTLSArea reserves the per-thread region at a fixed high address.
// It is a plain mapping; the dedicated entry point exists so callers do not
// need to know where TLS host storage lives.
func (as *AddressSpace) MapTLSArea(vaddr GuestAddr, size uint32, hostOff HostOffset) error {
	return as.RegisterMapping(vaddr, hostOff, size)
}

// find returns the mapping containing addr, or nil.
func (as *AddressSpace) find(addr GuestAddr) *Mapping {
	n := sort.Search(len(as.mappings), func(i int) bool {
		m := &as.mappings[i]
		return uint32(m.Vaddr)+m.Size > uint32(addr)
	})
	if n < len(as.mappings) {
		m := &as.mappings[n]
		if uint32(addr) >= uint32(m.Vaddr) {
			return m
		}
	}
	return nil
}

// Translate resolves a guest address to its host offset. Advisory: the
// result is only valid until the next mapping registration.
func (as *AddressSpace) Translate(addr GuestAddr) (HostOffset, bool) {
	m := as.find(addr)
	if m == nil {
		return 0, false
	}
	return m.HostOff + HostOffset(uint32(addr)-uint32(m.Vaddr)), true
}

// covered checks that [addr, addr+size) is fully mapped. Mappings may be
// adjacent in guest space without being adjacent in the host buffer, so the
// walk is chunk-wise.
func (as *AddressSpace) covered(addr GuestAddr, size int) bool {
	pos := uint64(addr)
	end := uint64(addr) + uint64(size)
	if end > 1<<32 {
		return false
	}
	for pos < end {
		m := as.find(GuestAddr(pos))
		if m == nil {
			return false
		}
		pos = uint64(m.Vaddr) + uint64(m.Size)
	}
	return true
}

// Read copies len(dst) bytes from guest memory into dst. A straddling
// access (part mapped, part not) fails with ErrUnmapped without writing to
// the destination.
func (as *AddressSpace) Read(addr GuestAddr, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if !as.covered(addr, len(dst)) {
		return faultf(ErrUnmapped, "read %d bytes at %v", len(dst), addr)
	}
	pos := 0
	for pos < len(dst) {
		cur := GuestAddr(uint32(addr) + uint32(pos))
		m := as.find(cur)
		off := m.HostOff + HostOffset(uint32(cur)-uint32(m.Vaddr))
		n := copy(dst[pos:], as.buf[off:uint64(m.HostOff)+uint64(m.Size)])
		pos += n
	}
	return nil
}

// Write copies src into guest memory at addr, atomically with respect to
// mapping failures.
func (as *AddressSpace) Write(addr GuestAddr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if !as.covered(addr, len(src)) {
		return faultf(ErrUnmapped, "write %d bytes at %v", len(src), addr)
	}
	pos := 0
	for pos < len(src) {
		cur := GuestAddr(uint32(addr) + uint32(pos))
		m := as.find(cur)
		off := m.HostOff + HostOffset(uint32(cur)-uint32(m.Vaddr))
		n := copy(as.buf[off:uint64(m.HostOff)+uint64(m.Size)], src[pos:])
		pos += n
	}
	return nil
}

// ReadString copies a NUL-terminated string of at most max bytes (including
// the terminator) from guest memory. The result is always NUL-clean.
func (as *AddressSpace) ReadString(addr GuestAddr, max int) (string, error) {
	if max <= 0 {
		max = 4096
	}
	out := make([]byte, 0, 64)
	for i := 0; i < max; i++ {
		var b [1]byte
		if err := as.Read(GuestAddr(uint32(addr)+uint32(i)), b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return string(out), nil
}

// Typed accessors. Guest byte order is little endian.

func (as *AddressSpace) ReadU8(addr GuestAddr) (uint8, error) {
	var b [1]byte
	err := as.Read(addr, b[:])
	return b[0], err
}

func (as *AddressSpace) ReadU16(addr GuestAddr) (uint16, error) {
	var b [2]byte
	if err := as.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (as *AddressSpace) ReadU32(addr GuestAddr) (uint32, error) {
	var b [4]byte
	if err := as.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (as *AddressSpace) ReadU64(addr GuestAddr) (uint64, error) {
	var b [8]byte
	if err := as.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (as *AddressSpace) WriteU8(addr GuestAddr, v uint8) error {
	return as.Write(addr, []byte{v})
}

func (as *AddressSpace) WriteU16(addr GuestAddr, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return as.Write(addr, b[:])
}

func (as *AddressSpace) WriteU32(addr GuestAddr, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return as.Write(addr, b[:])
}

func (as *AddressSpace) WriteU64(addr GuestAddr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return as.Write(addr, b[:])
}
