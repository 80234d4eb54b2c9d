package main

import "testing"

// Scenario: a WEAK definition followed by a GLOBAL one for the same name
// resolves to the GLOBAL address, in either registration order.
func TestSymbolPrecedence(t *testing.T) {
	const weakAddr, strongAddr = GuestAddr(0x1000), GuestAddr(0x2000)
	weak := GuestSymbol{Name: "sym", Addr: weakAddr, Binding: STB_WEAK, Lib: "libfoo.so"}
	strong := GuestSymbol{Name: "sym", Addr: strongAddr, Binding: STB_GLOBAL, Lib: "libbar.so"}

	t.Run("weak_then_strong", func(t *testing.T) {
		st := NewSymbolTable()
		st.Define(weak)
		st.Define(strong)
		got, ok := st.Resolve("sym")
		if !ok || got.Addr != strongAddr {
			t.Errorf("resolved %v, want %v", got.Addr, strongAddr)
		}
	})
	t.Run("strong_then_weak", func(t *testing.T) {
		st := NewSymbolTable()
		st.Define(strong)
		st.Define(weak)
		got, ok := st.Resolve("sym")
		if !ok || got.Addr != strongAddr {
			t.Errorf("resolved %v, want %v", got.Addr, strongAddr)
		}
	})
}

// Two strong definitions: the first one wins, silently for the guest.
func TestDuplicateStrongKeepsFirst(t *testing.T) {
	st := NewSymbolTable()
	st.Define(GuestSymbol{Name: "dup", Addr: 0x1000, Binding: STB_GLOBAL, Lib: "a"})
	st.Define(GuestSymbol{Name: "dup", Addr: 0x2000, Binding: STB_GLOBAL, Lib: "b"})
	got, _ := st.Resolve("dup")
	if got.Addr != 0x1000 {
		t.Errorf("second strong definition displaced the first: %v", got.Addr)
	}
}

func TestWeakDoesNotDisplaceWeak(t *testing.T) {
	st := NewSymbolTable()
	st.Define(GuestSymbol{Name: "w", Addr: 0x1000, Binding: STB_WEAK})
	st.Define(GuestSymbol{Name: "w", Addr: 0x2000, Binding: STB_WEAK})
	got, _ := st.Resolve("w")
	if got.Addr != 0x1000 {
		t.Errorf("weak displaced weak: %v", got.Addr)
	}
}

func TestStubRegion(t *testing.T) {
	s := NewStubRegion()
	a := s.AddressFor("missing_one")
	b := s.AddressFor("missing_two")
	if a == b {
		t.Fatal("distinct names share a stub address")
	}
	if s.AddressFor("missing_one") != a {
		t.Error("stub addresses must be stable per name")
	}
	if uint32(a) < uint32(StubRegionBase) ||
		uint32(b) >= uint32(StubRegionBase)+StubRegionSize {
		t.Errorf("stubs outside the reserved range: %v %v", a, b)
	}
	if uint32(b)-uint32(a) != StubEntrySize {
		t.Errorf("stub spacing %d, want %d", uint32(b)-uint32(a), StubEntrySize)
	}
	name, ok := s.NameFor(b)
	if !ok || name != "missing_two" {
		t.Errorf("NameFor = %q, %v", name, ok)
	}
	if !s.Contains(a) || s.Contains(0x1000) {
		t.Error("Contains misclassifies addresses")
	}
}

func TestResolveOrStubNeverReturnsNull(t *testing.T) {
	st := NewSymbolTable()
	addr := st.ResolveOrStub("no_such_symbol")
	if addr == 0 {
		t.Fatal("unresolved symbol produced a null address")
	}
	if !st.Stubs.Contains(addr) {
		t.Errorf("unresolved symbol address %v outside stub range", addr)
	}
	// A later definition wins over the stub.
	st.Define(GuestSymbol{Name: "no_such_symbol", Addr: 0x5000, Binding: STB_GLOBAL})
	if got := st.ResolveOrStub("no_such_symbol"); got != 0x5000 {
		t.Errorf("definition did not take precedence over stub: %v", got)
	}
}

func TestMissingLibraryIsSkipped(t *testing.T) {
	// A DT_NEEDED that cannot be found must not abort the link.
	path := writeTestImage(t, buildTestImage(t, nil))
	space := NewAddressSpace(1 << 24)
	arena := NewGuestArena(1 << 24)
	ctx := NewGuestContext(space)
	img, err := LoadImageFile(path, DefaultImageBase, space, arena)
	if err != nil {
		t.Fatal(err)
	}
	// The test image carries no string table; point one at spare image
	// bytes and declare a dependency that cannot exist.
	if err := space.Write(0x400001C0, []byte("libnowhere.so\x00")); err != nil {
		t.Fatal(err)
	}
	img.Dyn.Strtab = 0x400001C0
	img.Dyn.Needed = []uint32{0}
	if _, ok := FindLibrary("libnowhere.so"); ok {
		t.Skip("unexpected libnowhere.so present on this host")
	}
	dl := NewDynamicLinker(space, arena, ctx)
	if err := dl.LinkMainImage(img); err != nil {
		t.Fatalf("link with missing library failed: %v", err)
	}
	if !dl.missing["libnowhere.so"] {
		t.Error("missing library was not recorded")
	}
}

func TestParseDynamicStopsAtNull(t *testing.T) {
	space := NewAddressSpace(1 << 16)
	if err := space.RegisterMapping(0x1000, 0, 0x1000); err != nil {
		t.Fatal(err)
	}
	// DT_STRTAB 0x500, DT_SYMTAB 0x600, DT_FLAGS BIND_NOW, DT_NULL.
	words := []uint32{
		DT_STRTAB, 0x500,
		DT_SYMTAB, 0x600,
		DT_FLAGS, DF_BIND_NOW,
		DT_NULL, 0,
		DT_REL, 0x700, // past DT_NULL: must be ignored
	}
	for i, w := range words {
		if err := space.WriteU32(GuestAddr(0x1000+uint32(i)*4), w); err != nil {
			t.Fatal(err)
		}
	}
	info, err := ParseDynamic(space, 0x1000, 0x40000000)
	if err != nil {
		t.Fatal(err)
	}
	if info.Strtab != 0x40000500 || info.Symtab != 0x40000600 {
		t.Errorf("rebased tables: strtab %v symtab %v", info.Strtab, info.Symtab)
	}
	if !info.BindNow {
		t.Error("DF_BIND_NOW not seen")
	}
	if info.Rel != 0 {
		t.Error("entries past DT_NULL must be ignored")
	}
}
