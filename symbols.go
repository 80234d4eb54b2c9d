// Completion: 100% - Symbol table and stub region complete
package main

// StubRegionBase is a reserved range inside the high stack mapping used for
// synthetic addresses of unresolved symbols. The region is safe to read;
// the interpreter traps control transfers into it and returns to the caller
// with EAX=0 after emitting a diagnostic.
const (
	StubRegionBase GuestAddr = 0xBFFC0000
	StubEntrySize            = 16
	StubRegionSize           = 0x10000
)

// StubRegion hands out one synthetic address per unresolved name.
type StubRegion struct {
	next   uint32
	byAddr map[GuestAddr]string
	byName map[string]GuestAddr
}

func NewStubRegion() *StubRegion {
	return &StubRegion{
		next:   uint32(StubRegionBase),
		byAddr: make(map[GuestAddr]string),
		byName: make(map[string]GuestAddr),
	}
}

// AddressFor returns the stub address for a name, creating it on first use.
func (s *StubRegion) AddressFor(name string) GuestAddr {
	if addr, ok := s.byName[name]; ok {
		return addr
	}
	if s.next >= uint32(StubRegionBase)+StubRegionSize {
		warnf("dynlink", "stub region full, reusing base for %s", name)
		return StubRegionBase
	}
	addr := GuestAddr(s.next)
	s.next += StubEntrySize
	s.byAddr[addr] = name
	s.byName[name] = addr
	return addr
}

// NameFor identifies the symbol a stub address stands for.
func (s *StubRegion) NameFor(addr GuestAddr) (string, bool) {
	name, ok := s.byAddr[GuestAddr(uint32(addr)&^(StubEntrySize-1))]
	return name, ok
}

// Contains reports whether addr falls inside the stub range.
func (s *StubRegion) Contains(addr GuestAddr) bool {
	return uint32(addr) >= uint32(StubRegionBase) &&
		uint32(addr) < uint32(StubRegionBase)+StubRegionSize
}

// GuestSymbol is one entry of the process-wide symbol table.
type GuestSymbol struct {
	Name    string
	Addr    GuestAddr
	Size    uint32
	Binding uint8 // STB_*
	Type    uint8 // STT_*
	Lib     string
}

// SymbolTable maps names to symbols with the usual shadowing rules: a
// strong (GLOBAL) definition wins over WEAK, the first strong definition
// wins over later strong ones, and a WEAK definition never displaces
// anything already present.
type SymbolTable struct {
	syms  map[string]GuestSymbol
	Stubs *StubRegion
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		syms:  make(map[string]GuestSymbol),
		Stubs: NewStubRegion(),
	}
}

// Define inserts a symbol under the shadowing rules.
func (t *SymbolTable) Define(sym GuestSymbol) {
	existing, present := t.syms[sym.Name]
	if !present {
		t.syms[sym.Name] = sym
		return
	}
	if sym.Binding == STB_WEAK {
		return
	}
	if existing.Binding == STB_WEAK {
		t.syms[sym.Name] = sym
		return
	}
	// Two strong definitions: keep the first, note the duplicate.
	debugf("dynlink", "duplicate strong symbol %s (%s keeps %v, %s offered %v)",
		sym.Name, existing.Lib, existing.Addr, sym.Lib, sym.Addr)
}

// Resolve looks a name up.
func (t *SymbolTable) Resolve(name string) (GuestSymbol, bool) {
	sym, ok := t.syms[name]
	return sym, ok
}

// ResolveOrStub returns the symbol's address, or a synthetic stub address
// when the name has no definition, so relocations never leave null words.
func (t *SymbolTable) ResolveOrStub(name string) GuestAddr {
	if sym, ok := t.syms[name]; ok {
		return sym.Addr
	}
	addr := t.Stubs.AddressFor(name)
	debugf("dynlink", "unresolved symbol %s stubbed at %v", name, addr)
	return addr
}

// Count reports the number of defined symbols.
func (t *SymbolTable) Count() int {
	return len(t.syms)
}

// commonStubNames are names that Haiku guest binaries reference but that
// the bundled libraries frequently do not carry (GNU extensions mostly).
// Pre-seeding them keeps relocation logs quiet for the usual suspects.
var commonStubNames = []string{
	"program_name",
	"exit_failure",
	"error",
	"error_message_count",
	"error_one_per_line",
	"error_print_progname",
	"close_stdout",
	"version_etc_copyright",
	"xmalloc",
	"xcalloc",
	"xrealloc",
	"xalloc_die",
	"quote_n",
	"quotearg_n",
	"quotearg_char",
	"quotearg_colon",
	"set_program_name",
	"thrd_exit",
}

// SeedCommonStubs pre-registers the usual unresolved names.
func (t *SymbolTable) SeedCommonStubs() {
	for _, name := range commonStubNames {
		if _, ok := t.syms[name]; !ok {
			t.Stubs.AddressFor(name)
		}
	}
}
