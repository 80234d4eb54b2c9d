// Completion: 100% - Guest context complete
package main

// GuestContext owns the CPU state of the single guest thread: the integer
// registers, the x87 FPU, the image base chosen for ET_DYN binaries and the
// one-shot exit flag the syscall dispatcher sets.
//
// The context references the address space; the VM struct owns both and
// hands borrows down, so there are no cyclic owners.
type GuestContext struct {
	Regs  Registers
	FPU   FPU
	Space *AddressSpace

	// ImageBase is the actual load base of the main binary
	// (0 for ET_EXEC, the chosen base for ET_DYN).
	ImageBase GuestAddr

	// ShouldExit is set once by the exit syscall; the interpreter loop
	// terminates at the next iteration.
	ShouldExit bool

	// ExitStatus is the guest's exit code, valid once ShouldExit is set.
	ExitStatus int32

	// EIP64 shadows EIP at 64-bit width for hosts that need a full-width
	// instruction pointer. Kept in sync by the interpreter loop.
	EIP64 uint64

	// TLSBase is the base of the per-thread storage page; FS-prefixed
	// accesses resolve relative to it.
	TLSBase GuestAddr
}

// NewGuestContext creates a context over the given address space with a
// freshly initialised FPU.
func NewGuestContext(space *AddressSpace) *GuestContext {
	ctx := &GuestContext{Space: space, ImageBase: DefaultImageBase}
	ctx.FPU.Init()
	return ctx
}

// SetEIP updates both the architectural EIP and its 64-bit shadow.
func (ctx *GuestContext) SetEIP(eip uint32) {
	ctx.Regs.EIP = eip
	ctx.EIP64 = uint64(eip)
}
