// Completion: 100% - Dynamic linker complete
package main

// The dynamic linker loads DT_NEEDED dependencies transitively, builds the
// process-wide symbol table, then applies every image's relocations in one
// pass. Resolving everything before relocating anything means a library
// loaded late still satisfies references from one loaded early; no stale
// stub survives for a symbol some library does provide.

const (
	// libraryBaseGap separates the main image span from the first library.
	libraryBaseGap = 0x100000
)

// DynamicLinker drives dependency loading and relocation for one process.
type DynamicLinker struct {
	space   *AddressSpace
	arena   *GuestArena
	ctx     *GuestContext
	Symbols *SymbolTable

	libs     map[string]*LoadedImage // keyed by resolved path, load-once
	order    []*LoadedImage          // main image first, then load order
	nextBase GuestAddr
	missing  map[string]bool // DT_NEEDED names that could not be found
	skipped  map[uint32]bool // relocation types already logged
}

func NewDynamicLinker(space *AddressSpace, arena *GuestArena, ctx *GuestContext) *DynamicLinker {
	return &DynamicLinker{
		space:   space,
		arena:   arena,
		ctx:     ctx,
		Symbols: NewSymbolTable(),
		libs:    make(map[string]*LoadedImage),
		missing: make(map[string]bool),
		skipped: make(map[uint32]bool),
	}
}

// LinkMainImage links the already-loaded main image: loads dependencies,
// registers every global/weak symbol, then relocates all images.
func (dl *DynamicLinker) LinkMainImage(img *LoadedImage) error {
	dl.order = append(dl.order, img)
	next := uint32(img.Base) + img.Size + libraryBaseGap
	if next < uint32(DefaultImageBase) {
		// ET_EXEC images sit low; libraries still go above 1 GB.
		next = uint32(DefaultImageBase) + libraryBaseGap
	}
	dl.nextBase = GuestAddr((next + GuestPageSize - 1) &^ (GuestPageSize - 1))

	dl.registerImageSymbols(img)
	if err := dl.loadNeeded(img); err != nil {
		return err
	}
	dl.Symbols.SeedCommonStubs()

	for _, image := range dl.order {
		if image.Dyn == nil {
			continue
		}
		if err := dl.applyRelocations(image); err != nil {
			return err
		}
	}
	debugf("dynlink", "%d images linked, %d symbols, %d stubs",
		len(dl.order), dl.Symbols.Count(), len(dl.Symbols.Stubs.byName))
	return nil
}

// loadNeeded resolves and loads every DT_NEEDED of an image, recursively.
// Missing libraries are logged and skipped; their symbols end up stubbed.
func (dl *DynamicLinker) loadNeeded(img *LoadedImage) error {
	if img.Dyn == nil {
		return nil
	}
	for _, name := range img.Dyn.NeededNames(dl.space) {
		path, ok := FindLibrary(name)
		if !ok {
			if !dl.missing[name] {
				dl.missing[name] = true
				warnf("dynlink", "library %s not found; references will be stubbed", name)
			}
			continue
		}
		if _, loaded := dl.libs[path]; loaded {
			continue
		}
		lib, err := dl.loadLibrary(path)
		if err != nil {
			warnf("dynlink", "could not load %s: %v", path, err)
			continue
		}
		if err := dl.loadNeeded(lib); err != nil {
			return err
		}
	}
	return nil
}

// loadLibrary places a shared library at the next incremental base and
// registers its exported symbols.
func (dl *DynamicLinker) loadLibrary(path string) (*LoadedImage, error) {
	lib, err := LoadImageFile(path, dl.nextBase, dl.space, dl.arena)
	if err != nil {
		return nil, err
	}
	debugf("dynlink", "loaded %s at %v (size 0x%x)", path, lib.Base, lib.Size)
	next := uint32(lib.Base) + lib.Size + libraryBaseGap
	dl.nextBase = GuestAddr((next + GuestPageSize - 1) &^ (GuestPageSize - 1))
	dl.libs[path] = lib
	dl.order = append(dl.order, lib)
	dl.registerImageSymbols(lib)
	return lib, nil
}

// registerImageSymbols walks the dynamic symbol table of an image and
// enters every defined global or weak symbol into the process table.
func (dl *DynamicLinker) registerImageSymbols(img *LoadedImage) {
	dyn := img.Dyn
	if dyn == nil || dyn.Symtab == 0 || dyn.SymCount == 0 {
		return
	}
	registered := 0
	for i := uint32(1); i < dyn.SymCount; i++ {
		sym, err := ReadSymbol(dl.space, dyn.Symtab, i)
		if err != nil {
			warnf("dynlink", "symbol table of %s truncated at %d: %v", img.Path, i, err)
			break
		}
		if sym.Shndx == SHN_UNDEF {
			continue
		}
		binding := sym.Binding()
		if binding != STB_GLOBAL && binding != STB_WEAK {
			continue
		}
		name := dyn.SymbolName(dl.space, sym)
		if name == "" {
			continue
		}
		dl.Symbols.Define(GuestSymbol{
			Name:    name,
			Addr:    GuestAddr(uint32(sym.Value) + uint32(img.Base)),
			Size:    sym.Size,
			Binding: binding,
			Type:    sym.SymType(),
			Lib:     img.Path,
		})
		registered++
	}
	debugf("dynlink", "%s: %d exported symbols", img.Path, registered)
}

// InitFiniAddresses collects the retained init/fini entry points in image
// order. They are recorded, not called: real programs reach them through
// libroot from _start.
func (dl *DynamicLinker) InitFiniAddresses() (inits, finis []GuestAddr) {
	for _, img := range dl.order {
		if img.Dyn == nil {
			continue
		}
		if img.Dyn.Init != 0 {
			inits = append(inits, img.Dyn.Init)
		}
		if img.Dyn.Fini != 0 {
			finis = append(finis, img.Dyn.Fini)
		}
	}
	return inits, finis
}
