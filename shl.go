// Completion: 100% - Shift and rotate group complete
package main

// Shift/rotate group: C0/C1 (imm8 count), D0/D1 (count 1), D2/D3 (count in
// CL). The reg field selects ROL/ROR/RCL/RCR/SHL/SHR/SAL/SAR. Counts are
// masked to 5 bits; a zero count leaves the flags alone. CF receives the
// last bit shifted out; OF follows the single-shift definitions.

func shiftCompute(r *Registers, op int, val uint32, count uint8, width int) (uint32, bool) {
	count &= 31
	if count == 0 {
		return val, false
	}
	mask := uint32(widthMask(width))
	sign := uint32(signBit(width))
	val &= mask
	var result uint32
	var cf bool

	switch op {
	case 0: // ROL
		c := uint(count) % uint(width)
		result = (val<<c | val>>(uint(width)-c)) & mask
		cf = result&1 != 0
		r.SetFlag(FlagCF, cf)
		r.SetFlag(FlagOF, (result&sign != 0) != cf)
		return result, true
	case 1: // ROR
		c := uint(count) % uint(width)
		result = (val>>c | val<<(uint(width)-c)) & mask
		cf = result&sign != 0
		r.SetFlag(FlagCF, cf)
		r.SetFlag(FlagOF, (result&sign != 0) != (result&(sign>>1) != 0))
		return result, true
	case 2: // RCL: rotate through carry, CF entering at bit 0
		carry := r.Flag(FlagCF)
		result = val
		for i := uint8(0); i < count; i++ {
			out := result&sign != 0
			result = result << 1 & mask
			if carry {
				result |= 1
			}
			carry = out
		}
		r.SetFlag(FlagCF, carry)
		r.SetFlag(FlagOF, (result&sign != 0) != carry)
		return result, true
	case 3: // RCR: CF entering at the MSB
		carry := r.Flag(FlagCF)
		result = val
		for i := uint8(0); i < count; i++ {
			out := result&1 != 0
			result >>= 1
			if carry {
				result |= sign
			}
			carry = out
		}
		r.SetFlag(FlagCF, carry)
		r.SetFlag(FlagOF, (result&sign != 0) != (result&(sign>>1) != 0))
		return result, true
	case 4, 6: // SHL/SAL
		if uint(count) >= uint(width) {
			cf = count == uint8(width) && val&1 != 0
			result = 0
		} else {
			cf = val<<(count-1)&sign != 0
			result = val << count & mask
		}
		r.SetFlag(FlagCF, cf)
		r.SetFlag(FlagOF, (result&sign != 0) != cf)
	case 5: // SHR
		if uint(count) >= uint(width) {
			cf = count == uint8(width) && val&sign != 0
			result = 0
		} else {
			cf = val>>(count-1)&1 != 0
			result = val >> count
		}
		r.SetFlag(FlagCF, cf)
		r.SetFlag(FlagOF, val&sign != 0)
	default: // 7: SAR
		sval := int64(int32(val << (32 - uint(width)) >> (32 - uint(width))))
		if uint(count) >= uint(width) {
			if sval < 0 {
				result = mask
				cf = true
			} else {
				result = 0
				cf = false
			}
		} else {
			cf = sval>>(count-1)&1 != 0
			result = uint32(sval>>count) & mask
		}
		r.SetFlag(FlagCF, cf)
		r.SetFlag(FlagOF, false)
	}
	setResultFlags(r, uint64(result), width)
	return result, true
}

func (vm *VM) execShiftGroup(in *instr) (int, error) {
	opcode := in.code[0]
	op, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs

	byteOp := opcode == 0xC0 || opcode == 0xD0 || opcode == 0xD2
	width := 32
	if byteOp {
		width = 8
	} else if in.pfx.opsize {
		width = 16
	}

	var count uint8
	immLen := 0
	switch opcode {
	case 0xC0, 0xC1:
		count, err = imm8(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		immLen = 1
	case 0xD0, 0xD1:
		count = 1
	default: // D2, D3
		count = uint8(r.ECX)
	}

	var val uint32
	switch width {
	case 8:
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		val = uint32(v)
	case 16:
		v, err := vm.readOp16(rm)
		if err != nil {
			return 0, err
		}
		val = uint32(v)
	default:
		if val, err = vm.readOp32(rm); err != nil {
			return 0, err
		}
	}

	result, changed := shiftCompute(r, op, val, count, width)
	if changed {
		switch width {
		case 8:
			err = vm.writeOp8(rm, uint8(result))
		case 16:
			err = vm.writeOp16(rm, uint16(result))
		default:
			err = vm.writeOp32(rm, result)
		}
		if err != nil {
			return 0, err
		}
	}
	return 1 + n + immLen, nil
}
