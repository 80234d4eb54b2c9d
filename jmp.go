// Completion: 100% - Jump instructions complete
package main

// Unconditional and conditional jumps. Control-flow handlers set EIP
// themselves and report zero consumed bytes; the loop leaves EIP alone.

func (vm *VM) execJmpRel(in *instr) (int, error) {
	if in.code[0] == 0xEB { // JMP rel8
		d, err := imm8(in.code, 1)
		if err != nil {
			return 0, err
		}
		vm.Ctx.SetEIP(in.next(2) + signExtend8(d))
		return 0, nil
	}
	d, err := imm32(in.code, 1) // JMP rel32
	if err != nil {
		return 0, err
	}
	vm.Ctx.SetEIP(in.next(5) + d)
	return 0, nil
}

// execJccShort: 70..7F, rel8. The predicate is evaluated exactly once.
func (vm *VM) execJccShort(in *instr) (int, error) {
	cc := in.code[0] & 0x0F
	d, err := imm8(in.code, 1)
	if err != nil {
		return 0, err
	}
	if conditionHolds(&vm.Ctx.Regs, cc) {
		vm.Ctx.SetEIP(in.next(2) + signExtend8(d))
		return 0, nil
	}
	return 2, nil
}

// execJccNear: 0F 80..8F, rel32.
func (vm *VM) execJccNear(in *instr) (int, error) {
	cc := in.code[1] & 0x0F
	d, err := imm32(in.code, 2)
	if err != nil {
		return 0, err
	}
	if conditionHolds(&vm.Ctx.Regs, cc) {
		vm.Ctx.SetEIP(in.next(6) + d)
		return 0, nil
	}
	return 6, nil
}
