// Completion: 100% - PUSH/POP instructions complete
package main

// Stack pushes and pops: the short register forms, the immediate forms and
// POP r/m.

func (vm *VM) execPushPopReg(in *instr) (int, error) {
	op := in.code[0]
	if op < 0x58 { // PUSH r32
		if err := vm.push32(vm.Ctx.Regs.Get(int(op - 0x50))); err != nil {
			return 0, err
		}
		return 1, nil
	}
	// POP r32
	v, err := vm.pop32()
	if err != nil {
		return 0, err
	}
	vm.Ctx.Regs.Set(int(op-0x58), v)
	return 1, nil
}

func (vm *VM) execPushImm(in *instr) (int, error) {
	if in.code[0] == 0x6A { // PUSH imm8, sign extended
		v, err := imm8(in.code, 1)
		if err != nil {
			return 0, err
		}
		if err := vm.push32(signExtend8(v)); err != nil {
			return 0, err
		}
		return 2, nil
	}
	v, err := imm32(in.code, 1) // PUSH imm32
	if err != nil {
		return 0, err
	}
	if err := vm.push32(v); err != nil {
		return 0, err
	}
	return 5, nil
}

func (vm *VM) execPopRM(in *instr) (int, error) {
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	if regField != 0 {
		return 0, faultf(ErrUnsupported, "8F /%d at 0x%08x", regField, in.start)
	}
	v, err := vm.pop32()
	if err != nil {
		return 0, err
	}
	if err := vm.writeOp32(rm, v); err != nil {
		return 0, err
	}
	return 1 + n, nil
}
