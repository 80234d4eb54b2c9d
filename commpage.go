// Completion: 100% - Commpage setup complete
package main

// The commpage is a single 4 KiB page at a stable guest address, published
// to the guest in EDX at process start. libroot's syscall wrapper reads the
// entry table and jumps to the stub inside the same page.
const (
	CommpageBase GuestAddr = 0xBFFFE000
	CommpageSize           = GuestPageSize

	CommpageSignature = 0x434F4D4D // 'COMM'
	CommpageVersion   = 1

	// Entry table indices (one 32-bit slot each, from the page base).
	CommpageEntryMagic   = 0
	CommpageEntryVersion = 1
	CommpageEntrySyscall = 2

	// The syscall stub lives after the 64-entry table.
	CommpageSyscallOffset = 0x100
)

// commpageSyscallStub is int $0x63; ret.
var commpageSyscallStub = []byte{0xCD, 0x63, 0xC3}

// SetupCommpage maps the commpage, writes the magic, version and entry
// table, and installs the syscall stub. Returns the page's guest address.
func SetupCommpage(space *AddressSpace, arena *GuestArena) (GuestAddr, error) {
	off, err := arena.Allocate(CommpageSize, GuestPageSize)
	if err != nil {
		return 0, err
	}
	if err := space.RegisterMapping(CommpageBase, off, CommpageSize); err != nil {
		return 0, err
	}
	if err := space.WriteU32(CommpageBase+CommpageEntryMagic*4, CommpageSignature); err != nil {
		return 0, err
	}
	if err := space.WriteU32(CommpageBase+CommpageEntryVersion*4, CommpageVersion); err != nil {
		return 0, err
	}
	// Table entries hold offsets from the commpage base.
	if err := space.WriteU32(CommpageBase+CommpageEntrySyscall*4, CommpageSyscallOffset); err != nil {
		return 0, err
	}
	if err := space.Write(CommpageBase+CommpageSyscallOffset, commpageSyscallStub); err != nil {
		return 0, err
	}
	debugf("commpage", "commpage at %v, syscall stub at +0x%x", CommpageBase, CommpageSyscallOffset)
	return CommpageBase, nil
}
