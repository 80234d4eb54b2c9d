// Completion: 100% - DEC instructions complete
package main

func (vm *VM) execDecReg(in *instr) (int, error) {
	reg := int(in.code[0] - 0x48)
	r := &vm.Ctx.Regs
	if in.pfx.opsize {
		r.Set16(reg, uint16(flagsDec(r, uint32(r.Get16(reg)), 16)))
	} else {
		r.Set(reg, flagsDec(r, r.Get(reg), 32))
	}
	return 1, nil
}
