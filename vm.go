// Completion: 100% - VM composition complete
package main

import (
	"fmt"

	"github.com/xyproto/env/v2"
)

// maxInstrBytes is the longest x86 instruction encoding.
const maxInstrBytes = 15

// DefaultInstructionLimit bounds the interpreter loop; 0 disables the cap.
var DefaultInstructionLimit = uint64(env.Int("UVM32_MAX_INSTRUCTIONS", 500_000_000))

// VM owns the whole execution substrate: the address space and its arena,
// the guest context, the dynamic linker and the syscall dispatcher.
// Everything below it borrows from here; there are no package-level
// singletons carrying run state.
type VM struct {
	Ctx        *GuestContext
	Space      *AddressSpace
	Arena      *GuestArena
	Linker     *DynamicLinker
	Dispatcher *SyscallDispatcher

	MaxInstructions uint64
	Executed        uint64
}

// NewVM wires up an empty guest process.
func NewVM() *VM {
	space := NewAddressSpace(MaxGuestMemory)
	arena := NewGuestArena(MaxGuestMemory)
	ctx := NewGuestContext(space)
	vm := &VM{
		Ctx:             ctx,
		Space:           space,
		Arena:           arena,
		MaxInstructions: DefaultInstructionLimit,
	}
	vm.Linker = NewDynamicLinker(space, arena, ctx)
	vm.Dispatcher = NewSyscallDispatcher(ctx, space, arena)
	return vm
}

// Load places the guest program and its libraries and prepares the initial
// thread state.
func (vm *VM) Load(path string, argv, envp []string) error {
	return LoadGuestProgram(path, vm.Ctx, vm.Space, vm.Arena, vm.Linker, argv, envp)
}

// fetch reads up to 15 instruction bytes at ip. Near the end of a mapping
// fewer bytes may be available; the window shrinks until the read succeeds.
// If not even one byte is mapped the access is a fault.
func (vm *VM) fetch(ip uint32) ([]byte, error) {
	for n := maxInstrBytes; n >= 1; n-- {
		buf := make([]byte, n)
		if err := vm.Space.Read(GuestAddr(ip), buf); err == nil {
			return buf, nil
		}
	}
	return nil, faultf(ErrUnmapped, "instruction fetch at 0x%08x", ip)
}

// push32 pushes a 32-bit value onto the guest stack.
func (vm *VM) push32(v uint32) error {
	vm.Ctx.Regs.ESP -= 4
	return vm.Space.WriteU32(GuestAddr(vm.Ctx.Regs.ESP), v)
}

// pop32 pops a 32-bit value off the guest stack.
func (vm *VM) pop32() (uint32, error) {
	v, err := vm.Space.ReadU32(GuestAddr(vm.Ctx.Regs.ESP))
	if err != nil {
		return 0, err
	}
	vm.Ctx.Regs.ESP += 4
	return v, nil
}

// dumpFault writes the register dump for a fatal VM fault. Always emitted,
// independent of VerboseMode.
func (vm *VM) dumpFault(reason string) {
	fmt.Fprintf(debugSink, "[vm] fatal: %s\n%s\n", reason, vm.Ctx.Regs.Dump())
}
