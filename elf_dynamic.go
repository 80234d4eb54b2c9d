// Completion: 100% - PT_DYNAMIC parsing complete
package main

// Dynamic table tags, System V ABI i386 supplement.
const (
	DT_NULL         = 0
	DT_NEEDED       = 1
	DT_PLTRELSZ     = 2
	DT_PLTGOT       = 3
	DT_HASH         = 4
	DT_STRTAB       = 5
	DT_SYMTAB       = 6
	DT_RELA         = 7
	DT_RELASZ       = 8
	DT_RELAENT      = 9
	DT_STRSZ        = 10
	DT_SYMENT       = 11
	DT_INIT         = 12
	DT_FINI         = 13
	DT_REL          = 17
	DT_RELSZ        = 18
	DT_RELENT       = 19
	DT_PLTREL       = 20
	DT_JMPREL       = 23
	DT_INIT_ARRAY   = 25
	DT_FINI_ARRAY   = 26
	DT_INIT_ARRAYSZ = 27
	DT_FINI_ARRAYSZ = 28
	DT_FLAGS        = 30

	DF_BIND_NOW = 0x8
)

// DynamicInfo is the parsed view of a PT_DYNAMIC segment. All addresses are
// guest addresses already adjusted by the image's load base.
type DynamicInfo struct {
	Symtab  GuestAddr
	Strtab  GuestAddr
	Strsz   uint32
	Hash    GuestAddr
	SymCount uint32 // recovered from the hash table's nchain

	Rel     GuestAddr
	Relsz   uint32
	Relent  uint32
	Rela    GuestAddr
	Relasz  uint32
	Relaent uint32
	JmpRel  GuestAddr
	PltRelsz uint32

	Init      GuestAddr
	Fini      GuestAddr
	InitArray GuestAddr
	InitArraySz uint32
	FiniArray GuestAddr
	FiniArraySz uint32

	PltGot  GuestAddr
	Flags   uint32
	BindNow bool

	// Needed holds DT_NEEDED strtab offsets, resolved to names later.
	Needed []uint32
}

// ParseDynamic walks the dynamic array at dynAddr (guest address, already
// base-adjusted) until DT_NULL. Pointer-valued tags get the load base added;
// size- and flag-valued tags are taken as-is.
func ParseDynamic(space *AddressSpace, dynAddr GuestAddr, base GuestAddr) (DynamicInfo, error) {
	var info DynamicInfo
	rebase := func(v uint32) GuestAddr {
		if v == 0 {
			return 0
		}
		return GuestAddr(v + uint32(base))
	}
	for i := uint32(0); ; i++ {
		entry := GuestAddr(uint32(dynAddr) + i*dynEntrySize)
		tag, err := space.ReadU32(entry)
		if err != nil {
			return info, err
		}
		val, err := space.ReadU32(GuestAddr(uint32(entry) + 4))
		if err != nil {
			return info, err
		}
		switch tag {
		case DT_NULL:
			info.BindNow = info.Flags&DF_BIND_NOW != 0
			if info.Hash != 0 {
				// hash layout: nbucket, nchain, buckets, chains;
				// nchain equals the symbol count.
				nchain, err := space.ReadU32(GuestAddr(uint32(info.Hash) + 4))
				if err == nil {
					info.SymCount = nchain
				}
			}
			return info, nil
		case DT_NEEDED:
			info.Needed = append(info.Needed, val)
		case DT_SYMTAB:
			info.Symtab = rebase(val)
		case DT_STRTAB:
			info.Strtab = rebase(val)
		case DT_STRSZ:
			info.Strsz = val
		case DT_HASH:
			info.Hash = rebase(val)
		case DT_REL:
			info.Rel = rebase(val)
		case DT_RELSZ:
			info.Relsz = val
		case DT_RELENT:
			info.Relent = val
		case DT_RELA:
			info.Rela = rebase(val)
		case DT_RELASZ:
			info.Relasz = val
		case DT_RELAENT:
			info.Relaent = val
		case DT_JMPREL:
			info.JmpRel = rebase(val)
		case DT_PLTRELSZ:
			info.PltRelsz = val
		case DT_INIT:
			info.Init = rebase(val)
		case DT_FINI:
			info.Fini = rebase(val)
		case DT_INIT_ARRAY:
			info.InitArray = rebase(val)
		case DT_INIT_ARRAYSZ:
			info.InitArraySz = val
		case DT_FINI_ARRAY:
			info.FiniArray = rebase(val)
		case DT_FINI_ARRAYSZ:
			info.FiniArraySz = val
		case DT_PLTGOT:
			info.PltGot = rebase(val)
		case DT_FLAGS:
			info.Flags = val
		}
	}
}

// NeededNames resolves the DT_NEEDED offsets against the string table.
func (d *DynamicInfo) NeededNames(space *AddressSpace) []string {
	names := make([]string, 0, len(d.Needed))
	for _, off := range d.Needed {
		name, err := space.ReadString(GuestAddr(uint32(d.Strtab)+off), 256)
		if err != nil || name == "" {
			warnf("dynlink", "unreadable DT_NEEDED name at strtab+0x%x", off)
			continue
		}
		names = append(names, name)
	}
	return names
}

// SymbolName reads the name of a symbol from the string table.
func (d *DynamicInfo) SymbolName(space *AddressSpace, sym ElfSym) string {
	if sym.Name == 0 {
		return ""
	}
	name, err := space.ReadString(GuestAddr(uint32(d.Strtab)+sym.Name), 512)
	if err != nil {
		return ""
	}
	return name
}
