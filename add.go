// Completion: 100% - Integer ALU family complete
package main

// The regular ALU block: eight operations laid out at op*8 in the opcode
// map, each with r/m<->r forms at both widths plus an accumulator-immediate
// form. CMP computes without writing back.
const (
	aluAdd = 0
	aluOr  = 1
	aluAdc = 2
	aluSbb = 3
	aluAnd = 4
	aluSub = 5
	aluXor = 6
	aluCmp = 7
)

var aluNames = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

// aluCompute applies one ALU operation at the given width, updating EFLAGS.
// The second result reports whether the destination is written.
func aluCompute(r *Registers, op int, dst, src uint32, width int) (uint32, bool) {
	switch op {
	case aluAdd:
		return flagsAdd(r, dst, src, false, width), true
	case aluOr:
		return flagsLogic(r, dst|src, width), true
	case aluAdc:
		return flagsAdd(r, dst, src, r.Flag(FlagCF), width), true
	case aluSbb:
		return flagsSub(r, dst, src, r.Flag(FlagCF), width), true
	case aluAnd:
		return flagsLogic(r, dst&src, width), true
	case aluSub:
		return flagsSub(r, dst, src, false, width), true
	case aluXor:
		return flagsLogic(r, dst^src, width), true
	default: // aluCmp
		flagsSub(r, dst, src, false, width)
		return dst, false
	}
}

// execALU decodes the six regular forms of one ALU row.
func (vm *VM) execALU(in *instr) (int, error) {
	opcode := in.code[0]
	op := int(opcode >> 3)
	form := int(opcode & 7)
	r := &vm.Ctx.Regs

	switch form {
	case 0: // r/m8, r8
		regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
		if err != nil {
			return 0, err
		}
		dst, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, uint32(dst), uint32(r.Get8(regField)), 8)
		if write {
			if err := vm.writeOp8(rm, uint8(res)); err != nil {
				return 0, err
			}
		}
		return 1 + n, nil

	case 1: // r/m32, r32
		regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
		if err != nil {
			return 0, err
		}
		if in.pfx.opsize {
			dst, err := vm.readOp16(rm)
			if err != nil {
				return 0, err
			}
			res, write := aluCompute(r, op, uint32(dst), uint32(r.Get16(regField)), 16)
			if write {
				if err := vm.writeOp16(rm, uint16(res)); err != nil {
					return 0, err
				}
			}
			return 1 + n, nil
		}
		dst, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, dst, r.Get(regField), 32)
		if write {
			if err := vm.writeOp32(rm, res); err != nil {
				return 0, err
			}
		}
		return 1 + n, nil

	case 2: // r8, r/m8
		regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
		if err != nil {
			return 0, err
		}
		src, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, uint32(r.Get8(regField)), uint32(src), 8)
		if write {
			r.Set8(regField, uint8(res))
		}
		return 1 + n, nil

	case 3: // r32, r/m32
		regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
		if err != nil {
			return 0, err
		}
		if in.pfx.opsize {
			src, err := vm.readOp16(rm)
			if err != nil {
				return 0, err
			}
			res, write := aluCompute(r, op, uint32(r.Get16(regField)), uint32(src), 16)
			if write {
				r.Set16(regField, uint16(res))
			}
			return 1 + n, nil
		}
		src, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, r.Get(regField), src, 32)
		if write {
			r.Set(regField, res)
		}
		return 1 + n, nil

	case 4: // AL, imm8
		v, err := imm8(in.code, 1)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, uint32(r.Get8(0)), uint32(v), 8)
		if write {
			r.Set8(0, uint8(res))
		}
		return 2, nil

	default: // 5: EAX, imm32
		if in.pfx.opsize {
			v, err := imm16(in.code, 1)
			if err != nil {
				return 0, err
			}
			res, write := aluCompute(r, op, uint32(r.Get16(RegEAX)), uint32(v), 16)
			if write {
				r.Set16(RegEAX, uint16(res))
			}
			return 3, nil
		}
		v, err := imm32(in.code, 1)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, r.EAX, v, 32)
		if write {
			r.EAX = res
		}
		return 5, nil
	}
}

// execALUGroup handles the immediate group 80/81/83: the reg field of the
// ModR/M byte selects the ALU operation.
func (vm *VM) execALUGroup(in *instr) (int, error) {
	opcode := in.code[0]
	op, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs

	switch opcode {
	case 0x80: // r/m8, imm8
		v, err := imm8(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		dst, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, uint32(dst), uint32(v), 8)
		if write {
			if err := vm.writeOp8(rm, uint8(res)); err != nil {
				return 0, err
			}
		}
		return 1 + n + 1, nil

	case 0x81: // r/m32, imm32
		if in.pfx.opsize {
			v, err := imm16(in.code, 1+n)
			if err != nil {
				return 0, err
			}
			dst, err := vm.readOp16(rm)
			if err != nil {
				return 0, err
			}
			res, write := aluCompute(r, op, uint32(dst), uint32(v), 16)
			if write {
				if err := vm.writeOp16(rm, uint16(res)); err != nil {
					return 0, err
				}
			}
			return 1 + n + 2, nil
		}
		v, err := imm32(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		dst, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, dst, v, 32)
		if write {
			if err := vm.writeOp32(rm, res); err != nil {
				return 0, err
			}
		}
		return 1 + n + 4, nil

	default: // 0x83: r/m32, sign-extended imm8
		v, err := imm8(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		if in.pfx.opsize {
			dst, err := vm.readOp16(rm)
			if err != nil {
				return 0, err
			}
			res, write := aluCompute(r, op, uint32(dst), signExtend8(v)&0xFFFF, 16)
			if write {
				if err := vm.writeOp16(rm, uint16(res)); err != nil {
					return 0, err
				}
			}
			return 1 + n + 1, nil
		}
		dst, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		res, write := aluCompute(r, op, dst, signExtend8(v), 32)
		if write {
			if err := vm.writeOp32(rm, res); err != nil {
				return 0, err
			}
		}
		return 1 + n + 1, nil
	}
}
