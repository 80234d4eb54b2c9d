// Completion: 100% - ELF program loader complete
package main

import (
	"os"
)

// Guest memory layout constants. These are stable for the whole run so that
// guest libraries may cache derived addresses.
const (
	// DefaultImageBase is the load base chosen for ET_DYN main binaries.
	DefaultImageBase GuestAddr = 0x40000000

	// StackCeiling is the top of the guest stack region; the usable stack
	// top leaves a margin below it for parameters and arguments.
	StackCeiling GuestAddr = 0xC0000000
	StackMargin            = 32 * 1024
	StackSize              = 4*1024*1024 + StackMargin
	StackGuard             = GuestPageSize
)

// LoadedImage describes one ELF image placed into guest memory: the main
// binary or a shared library.
type LoadedImage struct {
	Path   string
	Base   GuestAddr
	Size   uint32 // total span of the PT_LOAD segments
	Entry  GuestAddr
	Dyn    *DynamicInfo
	Interp string
}

// LoadSegments places all PT_LOAD segments of an ELF file at the given base.
// The whole span is allocated from the arena in one piece so segments keep
// their relative distances; file bytes are copied in and the BSS tail stays
// zero (the backing buffer starts zeroed).
func LoadSegments(file []byte, eh ElfHeader, phdrs []ProgHeader, base GuestAddr,
	space *AddressSpace, arena *GuestArena) (*LoadedImage, error) {

	minVaddr := uint32(0xFFFFFFFF)
	maxEnd := uint32(0)
	for _, p := range phdrs {
		if p.Type != PT_LOAD || p.Memsz == 0 {
			continue
		}
		if uint32(p.Vaddr) < minVaddr {
			minVaddr = uint32(p.Vaddr)
		}
		if end := uint32(p.Vaddr) + p.Memsz; end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd == 0 {
		return nil, faultf(ErrBadInput, "no PT_LOAD segments")
	}
	span := maxEnd - minVaddr

	spanOff, err := arena.Allocate(span, GuestPageSize)
	if err != nil {
		return nil, err
	}

	img := &LoadedImage{Base: base, Size: span, Entry: GuestAddr(uint32(eh.Entry) + uint32(base))}
	for _, p := range phdrs {
		if p.Type != PT_LOAD || p.Memsz == 0 {
			continue
		}
		vaddr := GuestAddr(uint32(p.Vaddr) + uint32(base))
		hostOff := spanOff + HostOffset(uint32(p.Vaddr)-minVaddr)
		if err := space.RegisterMapping(vaddr, hostOff, p.Memsz); err != nil {
			return nil, err
		}
		if p.Filesz > 0 {
			if uint64(p.Offset)+uint64(p.Filesz) > uint64(len(file)) {
				return nil, faultf(ErrBadInput, "segment at %v extends past end of file", p.Vaddr)
			}
			if err := space.Write(vaddr, file[p.Offset:p.Offset+p.Filesz]); err != nil {
				return nil, err
			}
		}
		debugf("loader", "segment %v filesz=0x%x memsz=0x%x flags=0x%x",
			vaddr, p.Filesz, p.Memsz, p.Flags)
	}
	return img, nil
}

// LoadImageFile reads and places an ELF file, parsing PT_DYNAMIC and noting
// PT_INTERP. Shared by the main-binary path and the library loader.
func LoadImageFile(path string, base GuestAddr, space *AddressSpace,
	arena *GuestArena) (*LoadedImage, error) {

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, faultf(ErrBadInput, "could not read %s", path)
	}
	eh, err := ParseElfHeader(file)
	if err != nil {
		return nil, err
	}
	if eh.Type == ET_EXEC {
		base = 0
	}
	phdrs, err := ParseProgHeaders(file, eh)
	if err != nil {
		return nil, err
	}
	img, err := LoadSegments(file, eh, phdrs, base, space, arena)
	if err != nil {
		return nil, err
	}
	img.Path = path
	for _, p := range phdrs {
		switch p.Type {
		case PT_INTERP:
			if uint64(p.Offset)+uint64(p.Filesz) <= uint64(len(file)) && p.Filesz > 1 {
				img.Interp = string(file[p.Offset : p.Offset+p.Filesz-1])
				debugf("loader", "PT_INTERP requests %s (handled in-process)", img.Interp)
			}
		case PT_DYNAMIC:
			dyn, err := ParseDynamic(space, GuestAddr(uint32(p.Vaddr)+uint32(base)), base)
			if err != nil {
				return nil, err
			}
			img.Dyn = &dyn
		}
	}
	return img, nil
}

// SetupStack allocates and maps the initial stack region, builds the
// argv/envp layout and returns the initial ESP (pointing at argc).
//
// Layout, from high to low addresses: the argument and environment strings,
// the envp pointer array (NULL terminated), the argv pointer array (NULL
// terminated), then argc at the lowest address.
func SetupStack(space *AddressSpace, arena *GuestArena, argv, envp []string) (GuestAddr, error) {
	stackOff, err := arena.Allocate(StackSize+StackGuard, GuestPageSize)
	if err != nil {
		return 0, err
	}
	stackTop := GuestAddr(uint32(StackCeiling) - StackMargin)
	stackBottom := GuestAddr(uint32(stackTop) - StackSize)
	if err := space.RegisterMapping(stackBottom, stackOff, StackSize+StackGuard); err != nil {
		return 0, err
	}
	debugf("loader", "stack %v..%v (top %v)", stackBottom, GuestAddr(uint32(stackTop)+StackGuard), stackTop)

	sp := uint32(stackTop)
	writeString := func(s string) (GuestAddr, error) {
		sp -= uint32(len(s) + 1)
		addr := GuestAddr(sp)
		if err := space.Write(addr, append([]byte(s), 0)); err != nil {
			return 0, err
		}
		return addr, nil
	}

	argvAddrs := make([]GuestAddr, len(argv))
	for i, s := range argv {
		if argvAddrs[i], err = writeString(s); err != nil {
			return 0, err
		}
	}
	envpAddrs := make([]GuestAddr, len(envp))
	for i, s := range envp {
		if envpAddrs[i], err = writeString(s); err != nil {
			return 0, err
		}
	}
	sp &^= 3 // word-align below the strings

	pushU32 := func(v uint32) error {
		sp -= 4
		return space.WriteU32(GuestAddr(sp), v)
	}
	// envp array, NULL terminated, then argv array, then argc.
	if err := pushU32(0); err != nil {
		return 0, err
	}
	for i := len(envpAddrs) - 1; i >= 0; i-- {
		if err := pushU32(uint32(envpAddrs[i])); err != nil {
			return 0, err
		}
	}
	if err := pushU32(0); err != nil {
		return 0, err
	}
	for i := len(argvAddrs) - 1; i >= 0; i-- {
		if err := pushU32(uint32(argvAddrs[i])); err != nil {
			return 0, err
		}
	}
	if err := pushU32(uint32(len(argv))); err != nil {
		return 0, err
	}
	return GuestAddr(sp), nil
}

// LoadGuestProgram performs the whole bootstrap: place the main binary,
// link its dependencies, build the stack, seed TLS and the commpage, and
// point the context at the entry point.
func LoadGuestProgram(path string, ctx *GuestContext, space *AddressSpace,
	arena *GuestArena, linker *DynamicLinker, argv, envp []string) error {

	base := DefaultImageBase
	img, err := LoadImageFile(path, base, space, arena)
	if err != nil {
		return err
	}
	ctx.ImageBase = img.Base
	debugf("loader", "loaded %s at %v, entry %v, size 0x%x", path, img.Base, img.Entry, img.Size)

	if img.Dyn != nil && linker != nil {
		if err := linker.LinkMainImage(img); err != nil {
			return err
		}
	}

	esp, err := SetupStack(space, arena, argv, envp)
	if err != nil {
		return err
	}

	if err := SetupTLS(space, arena, 1); err != nil {
		return err
	}
	ctx.TLSBase = TLSBase

	commpage, err := SetupCommpage(space, arena)
	if err != nil {
		return err
	}

	ctx.Regs = Registers{}
	ctx.Regs.ESP = uint32(esp)
	ctx.Regs.EBP = 0
	ctx.Regs.EDX = uint32(commpage) // published per guest convention
	ctx.SetEIP(uint32(img.Entry))
	return nil
}
