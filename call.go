// Completion: 100% - Call/return instructions complete
package main

// CALL, RET and LEAVE. RET popping zero leaves EIP at 0, which the loop
// treats as a graceful exit.

func (vm *VM) execCallRel(in *instr) (int, error) {
	d, err := imm32(in.code, 1)
	if err != nil {
		return 0, err
	}
	ret := in.next(5)
	if err := vm.push32(ret); err != nil {
		return 0, err
	}
	vm.Ctx.SetEIP(ret + d)
	return 0, nil
}

func (vm *VM) execRet(in *instr) (int, error) {
	var popExtra uint32
	if in.code[0] == 0xC2 { // RET imm16
		v, err := imm16(in.code, 1)
		if err != nil {
			return 0, err
		}
		popExtra = uint32(v)
	}
	target, err := vm.pop32()
	if err != nil {
		return 0, err
	}
	vm.Ctx.Regs.ESP += popExtra
	vm.Ctx.SetEIP(target)
	return 0, nil
}

func (vm *VM) execLeave(*instr) (int, error) {
	vm.Ctx.Regs.ESP = vm.Ctx.Regs.EBP
	v, err := vm.pop32()
	if err != nil {
		return 0, err
	}
	vm.Ctx.Regs.EBP = v
	return 1, nil
}

// execGroupFF: INC/DEC/CALL/JMP/PUSH through register or memory
// indirection, selected by the reg field.
func (vm *VM) execGroupFF(in *instr) (int, error) {
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	switch regField {
	case 0: // INC r/m32
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp32(rm, flagsInc(r, v, 32)); err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 1: // DEC r/m32
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp32(rm, flagsDec(r, v, 32)); err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 2: // CALL r/m32
		target, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.push32(in.next(1 + n)); err != nil {
			return 0, err
		}
		vm.Ctx.SetEIP(target)
		return 0, nil
	case 4: // JMP r/m32
		target, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		vm.Ctx.SetEIP(target)
		return 0, nil
	case 6: // PUSH r/m32
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.push32(v); err != nil {
			return 0, err
		}
		return 1 + n, nil
	default:
		return 0, faultf(ErrUnsupported, "group FF /%d at 0x%08x", regField, in.start)
	}
}
