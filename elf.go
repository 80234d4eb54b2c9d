// Completion: 100% - ELF32 primitives complete
package main

import (
	"encoding/binary"
	"fmt"
)

// ELF32 i386 constants. Only the subset the loader and dynamic linker
// consume; everything is little endian.
const (
	ElfClass32   = 1
	ElfData2LSB  = 1
	ElfMachine386 = 3

	ET_EXEC = 2
	ET_DYN  = 3

	PT_LOAD    = 1
	PT_DYNAMIC = 2
	PT_INTERP  = 3

	SHN_UNDEF = 0

	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2

	STT_NOTYPE  = 0
	STT_OBJECT  = 1
	STT_FUNC    = 2
	STT_SECTION = 3
	STT_FILE    = 4

	elfHeaderSize = 52
	phdrSize      = 32
	symEntrySize  = 16
	relEntrySize  = 8
	relaEntrySize = 12
	dynEntrySize  = 8
)

// Relocation types for EM_386.
const (
	R_386_NONE     = 0
	R_386_32       = 1
	R_386_PC32     = 2
	R_386_COPY     = 5
	R_386_GLOB_DAT = 6
	R_386_JMP_SLOT = 7
	R_386_RELATIVE = 8
)

// ElfHeader is the parsed ELF32 file header.
type ElfHeader struct {
	Type      uint16
	Machine   uint16
	Entry     GuestAddr
	Phoff     uint32
	Shoff     uint32
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// ProgHeader is one ELF32 program header.
type ProgHeader struct {
	Type   uint32
	Offset uint32
	Vaddr  GuestAddr
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

// ElfSym is one 16-byte ELF32 symbol entry.
type ElfSym struct {
	Name  uint32
	Value GuestAddr
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

// Binding extracts the symbol binding (local/global/weak).
func (s ElfSym) Binding() uint8 { return s.Info >> 4 }

// SymType extracts the symbol type (object/func/...).
func (s ElfSym) SymType() uint8 { return s.Info & 0xF }

// ElfRel is a REL entry; the addend is implicit in the target word.
type ElfRel struct {
	Offset GuestAddr
	Info   uint32
}

// Type is ELF32_R_TYPE(info).
func (r ElfRel) Type() uint32 { return r.Info & 0xFF }

// Sym is ELF32_R_SYM(info).
func (r ElfRel) Sym() uint32 { return r.Info >> 8 }

// ParseElfHeader validates the identity bytes and reads the fields the
// loader needs. Anything unexpected is BadInput.
func ParseElfHeader(data []byte) (ElfHeader, error) {
	var eh ElfHeader
	if len(data) < elfHeaderSize {
		return eh, faultf(ErrBadInput, "file too small for an ELF header (%d bytes)", len(data))
	}
	if data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return eh, faultf(ErrBadInput, "not an ELF file (magic %02x %02x %02x %02x)",
			data[0], data[1], data[2], data[3])
	}
	if data[4] != ElfClass32 {
		return eh, faultf(ErrBadInput, "not a 32-bit ELF (class %d)", data[4])
	}
	if data[5] != ElfData2LSB {
		return eh, faultf(ErrBadInput, "not little endian (data %d)", data[5])
	}
	eh.Type = binary.LittleEndian.Uint16(data[16:])
	eh.Machine = binary.LittleEndian.Uint16(data[18:])
	eh.Entry = GuestAddr(binary.LittleEndian.Uint32(data[0x18:]))
	eh.Phoff = binary.LittleEndian.Uint32(data[0x1C:])
	eh.Shoff = binary.LittleEndian.Uint32(data[0x20:])
	eh.Shstrndx = binary.LittleEndian.Uint16(data[0x32:])
	eh.Shentsize = binary.LittleEndian.Uint16(data[0x2E:])
	eh.Shnum = binary.LittleEndian.Uint16(data[0x30:])
	eh.Phentsize = binary.LittleEndian.Uint16(data[0x2A:])
	eh.Phnum = binary.LittleEndian.Uint16(data[0x2C:])
	if eh.Machine != ElfMachine386 {
		return eh, faultf(ErrBadInput, "unsupported machine %d (want i386)", eh.Machine)
	}
	if eh.Type != ET_EXEC && eh.Type != ET_DYN {
		return eh, faultf(ErrBadInput, "unsupported ELF type %d", eh.Type)
	}
	return eh, nil
}

// ParseProgHeaders reads all program headers out of the file image.
func ParseProgHeaders(data []byte, eh ElfHeader) ([]ProgHeader, error) {
	entsize := uint32(eh.Phentsize)
	if entsize == 0 {
		entsize = phdrSize
	}
	if entsize < phdrSize {
		return nil, faultf(ErrBadInput, "phentsize %d too small", entsize)
	}
	phdrs := make([]ProgHeader, 0, eh.Phnum)
	for i := uint16(0); i < eh.Phnum; i++ {
		off := uint64(eh.Phoff) + uint64(i)*uint64(entsize)
		if off+phdrSize > uint64(len(data)) {
			return nil, faultf(ErrBadInput, "program header %d outside file", i)
		}
		p := data[off:]
		phdrs = append(phdrs, ProgHeader{
			Type:   binary.LittleEndian.Uint32(p[0:]),
			Offset: binary.LittleEndian.Uint32(p[4:]),
			Vaddr:  GuestAddr(binary.LittleEndian.Uint32(p[8:])),
			Paddr:  binary.LittleEndian.Uint32(p[12:]),
			Filesz: binary.LittleEndian.Uint32(p[16:]),
			Memsz:  binary.LittleEndian.Uint32(p[20:]),
			Flags:  binary.LittleEndian.Uint32(p[24:]),
			Align:  binary.LittleEndian.Uint32(p[28:]),
		})
	}
	return phdrs, nil
}

// ReadSymbol reads symbol table entry index out of guest memory.
// The dynamic linker reads symbols through the address space because the
// tables live inside already-loaded segments, not in the file.
func ReadSymbol(space *AddressSpace, symtab GuestAddr, index uint32) (ElfSym, error) {
	var raw [symEntrySize]byte
	addr := GuestAddr(uint32(symtab) + index*symEntrySize)
	if err := space.Read(addr, raw[:]); err != nil {
		return ElfSym{}, fmt.Errorf("symbol %d at %v: %w", index, addr, err)
	}
	return ElfSym{
		Name:  binary.LittleEndian.Uint32(raw[0:]),
		Value: GuestAddr(binary.LittleEndian.Uint32(raw[4:])),
		Size:  binary.LittleEndian.Uint32(raw[8:]),
		Info:  raw[12],
		Other: raw[13],
		Shndx: binary.LittleEndian.Uint16(raw[14:]),
	}, nil
}

// ReadRel reads one REL entry (8 bytes) from guest memory.
func ReadRel(space *AddressSpace, table GuestAddr, index uint32) (ElfRel, error) {
	var raw [relEntrySize]byte
	addr := GuestAddr(uint32(table) + index*relEntrySize)
	if err := space.Read(addr, raw[:]); err != nil {
		return ElfRel{}, err
	}
	return ElfRel{
		Offset: GuestAddr(binary.LittleEndian.Uint32(raw[0:])),
		Info:   binary.LittleEndian.Uint32(raw[4:]),
	}, nil
}

// ReadRela reads one RELA entry (12 bytes, explicit addend).
func ReadRela(space *AddressSpace, table GuestAddr, index uint32) (ElfRel, int32, error) {
	var raw [relaEntrySize]byte
	addr := GuestAddr(uint32(table) + index*relaEntrySize)
	if err := space.Read(addr, raw[:]); err != nil {
		return ElfRel{}, 0, err
	}
	rel := ElfRel{
		Offset: GuestAddr(binary.LittleEndian.Uint32(raw[0:])),
		Info:   binary.LittleEndian.Uint32(raw[4:]),
	}
	addend := int32(binary.LittleEndian.Uint32(raw[8:]))
	return rel, addend, nil
}
