// Completion: 100% - Interpreter loop and full decoder complete
package main

import (
	"encoding/binary"
	"errors"
)

// instr is one instruction being decoded: the address of its first byte,
// the parsed prefixes, and the code window starting at the opcode.
type instr struct {
	start uint32 // guest address of the first prefix byte
	pre   int    // number of prefix bytes
	code  []byte // bytes from the opcode onward
	pfx   prefixes
}

// next returns the address of the following instruction given the number of
// bytes the opcode part consumed.
func (in *instr) next(n int) uint32 {
	return in.start + uint32(in.pre+n)
}

// Run is the fetch-decode-execute loop. It returns nil on a graceful guest
// exit and an error for fatal faults. Cooperative only: the exit flag set
// by the dispatcher is observed at the top of the next iteration.
func (vm *VM) Run() error {
	for {
		halted, err := vm.Step()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
}

// Step executes a single loop iteration. It reports halted=true on the
// graceful exit conditions (exit flag set, or EIP at 0).
func (vm *VM) Step() (bool, error) {
	if vm.Ctx.ShouldExit {
		debugf("interp", "guest exit with status %d after %d instructions",
			vm.Ctx.ExitStatus, vm.Executed)
		return true, nil
	}
	ip := vm.Ctx.Regs.EIP
	if ip == 0 {
		debugf("interp", "EIP reached 0, graceful exit after %d instructions", vm.Executed)
		return true, nil
	}

	// Control transferred into the stub region: an unresolved symbol was
	// called. Log it and return to the caller with EAX=0.
	if vm.Linker != nil && vm.Linker.Symbols.Stubs.Contains(GuestAddr(ip)) {
		name, _ := vm.Linker.Symbols.Stubs.NameFor(GuestAddr(ip))
		warnf("interp", "call to unresolved symbol %q at 0x%08x, returning 0", name, ip)
		ret, err := vm.pop32()
		if err != nil {
			vm.dumpFault("stack unreadable during stub return")
			return false, err
		}
		vm.Ctx.Regs.EAX = 0
		vm.Ctx.SetEIP(ret)
		return false, nil
	}

	if vm.MaxInstructions > 0 && vm.Executed >= vm.MaxInstructions {
		vm.dumpFault("instruction limit reached")
		return false, faultf(ErrInstructionLimit, "after %d instructions at 0x%08x", vm.Executed, ip)
	}
	vm.Executed++

	code, err := vm.fetch(ip)
	if err != nil {
		vm.dumpFault("memory fault at EIP")
		return false, err
	}

	pfx, pre := parsePrefixes(code)
	if pre >= len(code) {
		vm.dumpFault("instruction truncated at end of mapping")
		return false, faultf(ErrUnmapped, "prefixes ran off mapping at 0x%08x", ip)
	}
	in := &instr{start: ip, pre: pre, code: code[pre:], pfx: pfx}

	var n int
	if pre == 0 && fastHandlers[in.code[0]] != nil {
		n, err = fastHandlers[in.code[0]](vm, in)
		if err != nil && errors.Is(err, ErrUnsupported) {
			n, err = vm.execute(in)
		}
	} else {
		n, err = vm.execute(in)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrUnmapped):
		vm.dumpFault("memory fault")
		return false, err
	case errors.Is(err, ErrGuestExit):
		vm.Ctx.ShouldExit = true
		return false, nil
	default:
		vm.dumpFault(err.Error())
		return false, err
	}
	if n > 0 {
		vm.Ctx.SetEIP(in.next(n))
	} else {
		vm.Ctx.EIP64 = uint64(vm.Ctx.Regs.EIP)
	}
	return false, nil
}

// execute is the full decoder: it handles every opcode the VM understands,
// including prefixed forms, and falls back to a conservative skip for the
// rest.
func (vm *VM) execute(in *instr) (int, error) {
	op := in.code[0]

	switch {
	case op < 0x40 && op&7 <= 5 && op != 0x0F && op != 0x26 && op != 0x2E && op != 0x36 && op != 0x3E:
		// The regular ALU block: ADD/OR/ADC/SBB/AND/SUB/XOR/CMP.
		return vm.execALU(in)
	case op >= 0x40 && op <= 0x47:
		return vm.execIncReg(in)
	case op >= 0x48 && op <= 0x4F:
		return vm.execDecReg(in)
	case op >= 0x50 && op <= 0x5F:
		return vm.execPushPopReg(in)
	case op >= 0x70 && op <= 0x7F:
		return vm.execJccShort(in)
	case op >= 0x90 && op <= 0x97:
		return vm.execXchgEAX(in)
	case op >= 0xB0 && op <= 0xBF:
		return vm.execMovImmReg(in)
	}

	switch op {
	case 0x0F:
		return vm.executeTwoByte(in)
	case 0x62, 0x63: // BOUND/ARPL: not in the userland subset
		return vm.skipUnknown(in)
	case 0x68, 0x6A:
		return vm.execPushImm(in)
	case 0x69, 0x6B:
		return vm.execImulImm(in)
	case 0x80, 0x81, 0x83:
		return vm.execALUGroup(in)
	case 0x84, 0x85:
		return vm.execTest(in)
	case 0x86, 0x87:
		return vm.execXchgRM(in)
	case 0x88, 0x89, 0x8A, 0x8B:
		return vm.execMovRM(in)
	case 0x8D:
		return vm.execLea(in)
	case 0x8F:
		return vm.execPopRM(in)
	case 0x98:
		return vm.execCwde(in)
	case 0x99:
		return vm.execCdq(in)
	case 0x9C:
		return vm.execPushf(in)
	case 0x9D:
		return vm.execPopf(in)
	case 0x9E:
		return vm.execSahf(in)
	case 0x9F:
		return vm.execLahf(in)
	case 0xA0, 0xA1, 0xA2, 0xA3:
		return vm.execMovMoffs(in)
	case 0xA4, 0xA5, 0xA6, 0xA7, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF:
		return vm.execString(in)
	case 0xA8, 0xA9:
		return vm.execTestImmAcc(in)
	case 0xC0, 0xC1, 0xD0, 0xD1, 0xD2, 0xD3:
		return vm.execShiftGroup(in)
	case 0xC2, 0xC3:
		return vm.execRet(in)
	case 0xC6, 0xC7:
		return vm.execMovImmRM(in)
	case 0xC9:
		return vm.execLeave(in)
	case 0xCC:
		// INT3: treated as a diagnostic trap, then continue.
		warnf("interp", "int3 at 0x%08x", in.start)
		return 1, nil
	case 0xCD:
		return vm.execInt(in)
	case 0xD8, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE, 0xDF:
		return vm.execX87(in)
	case 0xE8:
		return vm.execCallRel(in)
	case 0xE9, 0xEB:
		return vm.execJmpRel(in)
	case 0xF4:
		// HLT in ring 3 would fault; the guests that reach it want out.
		debugf("interp", "hlt at 0x%08x, stopping", in.start)
		vm.Ctx.ShouldExit = true
		return 1, nil
	case 0xF5:
		vm.Ctx.Regs.SetFlag(FlagCF, !vm.Ctx.Regs.Flag(FlagCF))
		return 1, nil
	case 0xF6, 0xF7:
		return vm.execMulGroup(in)
	case 0xF8:
		vm.Ctx.Regs.SetFlag(FlagCF, false)
		return 1, nil
	case 0xF9:
		vm.Ctx.Regs.SetFlag(FlagCF, true)
		return 1, nil
	case 0xFC:
		vm.Ctx.Regs.SetFlag(FlagDF, false)
		return 1, nil
	case 0xFD:
		vm.Ctx.Regs.SetFlag(FlagDF, true)
		return 1, nil
	case 0xFE:
		return vm.execIncDecRM8(in)
	case 0xFF:
		return vm.execGroupFF(in)
	}
	return vm.skipUnknown(in)
}

// executeTwoByte handles the 0F escape.
func (vm *VM) executeTwoByte(in *instr) (int, error) {
	if len(in.code) < 2 {
		return 0, faultf(ErrUnmapped, "truncated 0F opcode at 0x%08x", in.start)
	}
	op2 := in.code[1]
	switch {
	case op2 >= 0x40 && op2 <= 0x4F:
		return vm.execCmov(in)
	case op2 >= 0x80 && op2 <= 0x8F:
		return vm.execJccNear(in)
	case op2 >= 0x90 && op2 <= 0x9F:
		return vm.execSetcc(in)
	case op2 >= 0xC8 && op2 <= 0xCF:
		return vm.execBswap(in)
	}
	switch op2 {
	case 0x1F: // multi-byte NOP
		_, _, n, err := vm.decodeModRM(in.code[2:], in.pfx)
		if err != nil {
			return 0, err
		}
		return 2 + n, nil
	case 0xA2: // CPUID: report a plain 486-class CPU
		vm.Ctx.Regs.EAX = 0
		vm.Ctx.Regs.EBX = 0
		vm.Ctx.Regs.ECX = 0
		vm.Ctx.Regs.EDX = 0
		return 2, nil
	case 0xA3, 0xAB, 0xB3, 0xBB, 0xBA:
		return vm.execBitTest(in)
	case 0xA4, 0xA5, 0xAC, 0xAD:
		return vm.execShiftDouble(in)
	case 0xAF:
		return vm.execImulRM(in)
	case 0xB0, 0xB1:
		return vm.execCmpxchg(in)
	case 0xB6, 0xB7:
		return vm.execMovzx(in)
	case 0xBC, 0xBD:
		return vm.execBitScan(in)
	case 0xBE, 0xBF:
		return vm.execMovsx(in)
	case 0xC0, 0xC1:
		return vm.execXadd(in)
	}
	return vm.skipUnknown(in)
}

// skipUnknown is the first tier of unknown-opcode handling: estimate the
// length (opcode plus a ModR/M group when one looks present) and continue,
// so that robustness outweighs completeness. StrictMode turns this into a
// halt, which is the mode to use when hunting regressions.
func (vm *VM) skipUnknown(in *instr) (int, error) {
	op := in.code[0]
	if StrictMode {
		return 0, faultf(ErrUnsupported, "opcode %02x at 0x%08x (strict mode)", op, in.start)
	}
	n := 1
	rest := in.code[1:]
	if op == 0x0F && len(in.code) >= 2 {
		n = 2
		rest = in.code[2:]
	}
	// Best-effort: assume a ModR/M byte follows and measure it.
	if len(rest) > 0 {
		if _, _, mn, err := vm.decodeModRM(rest, in.pfx); err == nil {
			n += mn
		}
	}
	warnf("interp", "unknown opcode %02x at 0x%08x, skipping %d bytes", op, in.start, n)
	return n, nil
}

// Misc one-off handlers that do not warrant a family file.

func (vm *VM) execCwde(in *instr) (int, error) {
	r := &vm.Ctx.Regs
	if in.pfx.opsize { // CBW
		r.Set16(RegEAX, uint16(signExtend8(uint8(r.EAX))))
	} else { // CWDE
		r.EAX = signExtend16(uint16(r.EAX))
	}
	return 1, nil
}

func (vm *VM) execCdq(in *instr) (int, error) {
	r := &vm.Ctx.Regs
	if in.pfx.opsize { // CWD
		if r.EAX&0x8000 != 0 {
			r.Set16(RegEDX, 0xFFFF)
		} else {
			r.Set16(RegEDX, 0)
		}
		return 1, nil
	}
	if r.EAX&0x80000000 != 0 {
		r.EDX = 0xFFFFFFFF
	} else {
		r.EDX = 0
	}
	return 1, nil
}

func (vm *VM) execLahf(*instr) (int, error) {
	r := &vm.Ctx.Regs
	r.Set8(4, uint8(r.EFLAGS)|0x02) // AH; bit 1 always reads set
	return 1, nil
}

func (vm *VM) execSahf(*instr) (int, error) {
	r := &vm.Ctx.Regs
	ah := uint32(r.Get8(4))
	keep := r.EFLAGS &^ uint32(FlagCF|FlagPF|FlagAF|FlagZF|FlagSF)
	r.EFLAGS = keep | ah&(FlagCF|FlagPF|FlagAF|FlagZF|FlagSF)
	return 1, nil
}

func (vm *VM) execPushf(*instr) (int, error) {
	if err := vm.push32(vm.Ctx.Regs.EFLAGS | 0x02); err != nil {
		return 0, err
	}
	return 1, nil
}

func (vm *VM) execPopf(*instr) (int, error) {
	v, err := vm.pop32()
	if err != nil {
		return 0, err
	}
	vm.Ctx.Regs.EFLAGS = v
	return 1, nil
}

func (vm *VM) execXchgEAX(in *instr) (int, error) {
	r := &vm.Ctx.Regs
	reg := int(in.code[0] & 7)
	if reg != RegEAX { // 0x90 alone is NOP
		old := r.Get(reg)
		r.Set(reg, r.EAX)
		r.EAX = old
	}
	return 1, nil
}

func (vm *VM) execXchgRM(in *instr) (int, error) {
	wide := in.code[0] == 0x87
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	if wide {
		a := vm.Ctx.Regs.Get(regField)
		b, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp32(rm, a); err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set(regField, b)
	} else {
		a := vm.Ctx.Regs.Get8(regField)
		b, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp8(rm, a); err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set8(regField, b)
	}
	return 1 + n, nil
}

// execInt dispatches software interrupts. 0x63 is the Haiku syscall gate,
// 0x80 the Linux-style one accepted for test binaries.
func (vm *VM) execInt(in *instr) (int, error) {
	if len(in.code) < 2 {
		return 0, faultf(ErrUnmapped, "truncated INT at 0x%08x", in.start)
	}
	vector := in.code[1]
	switch vector {
	case 0x63, 0x80:
		vm.Dispatcher.Dispatch()
		return 2, nil
	default:
		warnf("interp", "int 0x%02x at 0x%08x ignored", vector, in.start)
		return 2, nil
	}
}

// imm helpers over the code window.

func imm8(code []byte, off int) (uint8, error) {
	if len(code) < off+1 {
		return 0, faultf(ErrUnmapped, "truncated imm8")
	}
	return code[off], nil
}

func imm16(code []byte, off int) (uint16, error) {
	if len(code) < off+2 {
		return 0, faultf(ErrUnmapped, "truncated imm16")
	}
	return binary.LittleEndian.Uint16(code[off:]), nil
}

func imm32(code []byte, off int) (uint32, error) {
	if len(code) < off+4 {
		return 0, faultf(ErrUnmapped, "truncated imm32")
	}
	return binary.LittleEndian.Uint32(code[off:]), nil
}
