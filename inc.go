// Completion: 100% - INC instructions complete
package main

// INC leaves CF untouched, unlike ADD 1.

func (vm *VM) execIncReg(in *instr) (int, error) {
	reg := int(in.code[0] - 0x40)
	r := &vm.Ctx.Regs
	if in.pfx.opsize {
		r.Set16(reg, uint16(flagsInc(r, uint32(r.Get16(reg)), 16)))
	} else {
		r.Set(reg, flagsInc(r, r.Get(reg), 32))
	}
	return 1, nil
}

// execIncDecRM8: group FE, INC/DEC on an 8-bit r/m.
func (vm *VM) execIncDecRM8(in *instr) (int, error) {
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	v, err := vm.readOp8(rm)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	switch regField {
	case 0:
		err = vm.writeOp8(rm, uint8(flagsInc(r, uint32(v), 8)))
	case 1:
		err = vm.writeOp8(rm, uint8(flagsDec(r, uint32(v), 8)))
	default:
		return 0, faultf(ErrUnsupported, "group FE /%d at 0x%08x", regField, in.start)
	}
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}
