// Completion: 100% - TLS area setup complete
package main

// Per-thread storage: one 4 KiB page at a fixed high guest address.
// FS-prefixed loads and stores resolve relative to TLSBase. The address is
// stable for the whole run so guest libraries can cache it.
const (
	TLSBase GuestAddr = 0xBFFFF000
	TLSSize           = GuestPageSize

	TLSThreadIDOffset   = 0x0   // 32-bit thread id
	TLSSelfOffset       = 0x4   // 32-bit self-pointer
	TLSErrnoPtrOffset   = 0x8   // 32-bit address of errno storage
	TLSErrnoSlotOffset  = 0x100 // 32-bit errno value
)

// SetupTLS maps the TLS page and seeds the thread id, the self pointer and
// the errno indirection.
func SetupTLS(space *AddressSpace, arena *GuestArena, threadID uint32) error {
	off, err := arena.Allocate(TLSSize, GuestPageSize)
	if err != nil {
		return err
	}
	if err := space.MapTLSArea(TLSBase, TLSSize, off); err != nil {
		return err
	}
	if err := space.WriteU32(TLSBase+TLSThreadIDOffset, threadID); err != nil {
		return err
	}
	if err := space.WriteU32(TLSBase+TLSSelfOffset, uint32(TLSBase)); err != nil {
		return err
	}
	errnoLocation := uint32(TLSBase) + TLSErrnoSlotOffset
	if err := space.WriteU32(TLSBase+TLSErrnoPtrOffset, errnoLocation); err != nil {
		return err
	}
	if err := space.WriteU32(GuestAddr(errnoLocation), 0); err != nil {
		return err
	}
	debugf("tls", "TLS at %v, thread id %d, errno slot at 0x%08x", TLSBase, threadID, errnoLocation)
	return nil
}
