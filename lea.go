// Completion: 100% - LEA instruction complete
package main

// LEA computes the effective address without touching memory. A register
// r/m form is invalid on hardware; here it is an Unsupported diagnostic.
func (vm *VM) execLea(in *instr) (int, error) {
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	if rm.isReg {
		return 0, faultf(ErrUnsupported, "lea with register operand at 0x%08x", in.start)
	}
	vm.Ctx.Regs.Set(regField, uint32(rm.addr))
	return 1 + n, nil
}
