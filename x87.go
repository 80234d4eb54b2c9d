// Completion: 100% - x87 escape decoding complete
package main

import "math"

// The D8..DF escape range. The interpreter decodes opcode + ModR/M (with
// SIB and displacement already measured by the shared decoder) and applies
// the operation against the FPU stack. Arithmetic goes through the host's
// float64, which is exact for all representable 64-bit values.

func (vm *VM) readF32(addr GuestAddr) (float64, error) {
	bits, err := vm.Space.ReadU32(addr)
	if err != nil {
		return 0, err
	}
	return float64(math.Float32frombits(bits)), nil
}

func (vm *VM) writeF32(addr GuestAddr, v float64) error {
	return vm.Space.WriteU32(addr, math.Float32bits(float32(v)))
}

func (vm *VM) readF64(addr GuestAddr) (float64, error) {
	bits, err := vm.Space.ReadU64(addr)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func (vm *VM) writeF64(addr GuestAddr, v float64) error {
	return vm.Space.WriteU64(addr, math.Float64bits(v))
}

// fpuArith applies one of the eight x87 arithmetic/compare selectors
// (the reg field of D8/DC/DE): FADD FMUL FCOM FCOMP FSUB FSUBR FDIV FDIVR.
func (vm *VM) fpuArith(sel int, src float64, pop bool) {
	fpu := &vm.Ctx.FPU
	st0 := fpu.St(0)
	switch sel {
	case 0:
		fpu.SetSt(0, st0+src)
	case 1:
		fpu.SetSt(0, st0*src)
	case 2:
		fpu.Compare(st0, src)
	case 3:
		fpu.Compare(st0, src)
		fpu.Pop()
		return
	case 4:
		fpu.SetSt(0, st0-src)
	case 5:
		fpu.SetSt(0, src-st0)
	case 6:
		fpu.SetSt(0, st0/src)
	case 7:
		fpu.SetSt(0, src/st0)
	}
	if pop {
		fpu.Pop()
	}
}

func (vm *VM) execX87(in *instr) (int, error) {
	if len(in.code) < 2 {
		return 0, faultf(ErrUnmapped, "truncated x87 opcode at 0x%08x", in.start)
	}
	op := in.code[0]
	modrm := in.code[1]
	fpu := &vm.Ctx.FPU
	fpu.LastInstr = GuestAddr(in.start)

	if modrm>>6 == 3 {
		return vm.execX87Reg(in, op, modrm)
	}

	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	fpu.LastOperand = rm.addr
	size := 1 + n

	switch op {
	case 0xD8: // m32fp arithmetic
		v, err := vm.readF32(rm.addr)
		if err != nil {
			return 0, err
		}
		vm.fpuArith(regField, v, false)
		return size, nil

	case 0xD9:
		switch regField {
		case 0: // FLD m32fp
			v, err := vm.readF32(rm.addr)
			if err != nil {
				return 0, err
			}
			fpu.Push(v)
		case 2: // FST m32fp
			if err := vm.writeF32(rm.addr, fpu.St(0)); err != nil {
				return 0, err
			}
		case 3: // FSTP m32fp
			if err := vm.writeF32(rm.addr, fpu.St(0)); err != nil {
				return 0, err
			}
			fpu.Pop()
		case 5: // FLDCW m16
			cw, err := vm.Space.ReadU16(rm.addr)
			if err != nil {
				return 0, err
			}
			fpu.SetControl(cw)
		case 7: // FNSTCW m16
			if err := vm.Space.WriteU16(rm.addr, fpu.Control()); err != nil {
				return 0, err
			}
		default:
			return 0, faultf(ErrUnsupported, "d9 /%d at 0x%08x", regField, in.start)
		}
		return size, nil

	case 0xDA: // m32int arithmetic
		bits, err := vm.Space.ReadU32(rm.addr)
		if err != nil {
			return 0, err
		}
		vm.fpuArith(regField, float64(int32(bits)), false)
		return size, nil

	case 0xDB:
		switch regField {
		case 0: // FILD m32int
			bits, err := vm.Space.ReadU32(rm.addr)
			if err != nil {
				return 0, err
			}
			fpu.Push(float64(int32(bits)))
		case 2: // FIST m32int
			if err := vm.Space.WriteU32(rm.addr, uint32(int32(math.RoundToEven(fpu.St(0))))); err != nil {
				return 0, err
			}
		case 3: // FISTP m32int
			if err := vm.Space.WriteU32(rm.addr, uint32(int32(math.RoundToEven(fpu.St(0))))); err != nil {
				return 0, err
			}
			fpu.Pop()
		default:
			return 0, faultf(ErrUnsupported, "db /%d at 0x%08x", regField, in.start)
		}
		return size, nil

	case 0xDC: // m64fp arithmetic
		v, err := vm.readF64(rm.addr)
		if err != nil {
			return 0, err
		}
		vm.fpuArith(regField, v, false)
		return size, nil

	case 0xDD:
		switch regField {
		case 0: // FLD m64fp
			v, err := vm.readF64(rm.addr)
			if err != nil {
				return 0, err
			}
			fpu.Push(v)
		case 2: // FST m64fp
			if err := vm.writeF64(rm.addr, fpu.St(0)); err != nil {
				return 0, err
			}
		case 3: // FSTP m64fp
			if err := vm.writeF64(rm.addr, fpu.St(0)); err != nil {
				return 0, err
			}
			fpu.Pop()
		case 4: // FRSTOR
			image := make([]byte, fsaveSize)
			if err := vm.Space.Read(rm.addr, image); err != nil {
				return 0, err
			}
			if err := fpu.Restore(image); err != nil {
				return 0, err
			}
		case 6: // FNSAVE
			if err := vm.Space.Write(rm.addr, fpu.Save()); err != nil {
				return 0, err
			}
		case 7: // FNSTSW m16
			if err := vm.Space.WriteU16(rm.addr, fpu.Status()); err != nil {
				return 0, err
			}
		default:
			return 0, faultf(ErrUnsupported, "dd /%d at 0x%08x", regField, in.start)
		}
		return size, nil

	case 0xDE: // m16int arithmetic
		bits, err := vm.Space.ReadU16(rm.addr)
		if err != nil {
			return 0, err
		}
		vm.fpuArith(regField, float64(int16(bits)), false)
		return size, nil

	default: // 0xDF
		switch regField {
		case 0: // FILD m16int
			bits, err := vm.Space.ReadU16(rm.addr)
			if err != nil {
				return 0, err
			}
			fpu.Push(float64(int16(bits)))
		case 3: // FISTP m16int
			if err := vm.Space.WriteU16(rm.addr, uint16(int16(math.RoundToEven(fpu.St(0))))); err != nil {
				return 0, err
			}
			fpu.Pop()
		case 5: // FILD m64int
			bits, err := vm.Space.ReadU64(rm.addr)
			if err != nil {
				return 0, err
			}
			fpu.Push(float64(int64(bits)))
		case 7: // FISTP m64int
			if err := vm.Space.WriteU64(rm.addr, uint64(int64(math.RoundToEven(fpu.St(0))))); err != nil {
				return 0, err
			}
			fpu.Pop()
		default:
			return 0, faultf(ErrUnsupported, "df /%d at 0x%08x", regField, in.start)
		}
		return size, nil
	}
}

// execX87Reg handles the mod=3 register forms.
func (vm *VM) execX87Reg(in *instr, op, modrm uint8) (int, error) {
	fpu := &vm.Ctx.FPU
	i := int(modrm & 7)
	sel := int(modrm>>3) & 7

	switch op {
	case 0xD8: // arithmetic against ST(i)
		vm.fpuArith(sel, fpu.St(i), false)
		return 2, nil

	case 0xD9:
		switch {
		case modrm >= 0xC0 && modrm <= 0xC7: // FLD ST(i)
			fpu.Push(fpu.St(i))
		case modrm >= 0xC8 && modrm <= 0xCF: // FXCH ST(i)
			a, b := fpu.St(0), fpu.St(i)
			fpu.SetSt(0, b)
			fpu.SetSt(i, a)
		case modrm == 0xE0: // FCHS
			fpu.SetSt(0, -fpu.St(0))
		case modrm == 0xE1: // FABS
			fpu.SetSt(0, math.Abs(fpu.St(0)))
		case modrm == 0xE4: // FTST
			fpu.Compare(fpu.St(0), 0)
		case modrm == 0xE8: // FLD1
			fpu.Push(1)
		case modrm == 0xE9: // FLDL2T
			fpu.Push(math.Log2(10))
		case modrm == 0xEA: // FLDL2E
			fpu.Push(math.Log2(math.E))
		case modrm == 0xEB: // FLDPI
			fpu.Push(math.Pi)
		case modrm == 0xEC: // FLDLG2
			fpu.Push(math.Log10(2))
		case modrm == 0xED: // FLDLN2
			fpu.Push(math.Ln2)
		case modrm == 0xEE: // FLDZ
			fpu.Push(0)
		case modrm == 0xF0: // F2XM1
			fpu.SetSt(0, math.Exp2(fpu.St(0))-1)
		case modrm == 0xF1: // FYL2X: ST1 = ST1*log2(ST0), pop
			fpu.SetSt(1, fpu.St(1)*math.Log2(fpu.St(0)))
			fpu.Pop()
		case modrm == 0xF2: // FPTAN: replaces ST0 with tan, pushes 1
			fpu.SetSt(0, math.Tan(fpu.St(0)))
			fpu.Push(1)
		case modrm == 0xF3: // FPATAN: ST1 = atan2(ST1, ST0), pop
			fpu.SetSt(1, math.Atan2(fpu.St(1), fpu.St(0)))
			fpu.Pop()
		case modrm == 0xF8: // FPREM
			fpu.SetSt(0, math.Mod(fpu.St(0), fpu.St(1)))
		case modrm == 0xFA: // FSQRT
			fpu.SetSt(0, math.Sqrt(fpu.St(0)))
		case modrm == 0xFC: // FRNDINT
			fpu.SetSt(0, math.RoundToEven(fpu.St(0)))
		case modrm == 0xFE: // FSIN
			fpu.SetSt(0, math.Sin(fpu.St(0)))
		case modrm == 0xFF: // FCOS
			fpu.SetSt(0, math.Cos(fpu.St(0)))
		default:
			return 0, faultf(ErrUnsupported, "d9 %02x at 0x%08x", modrm, in.start)
		}
		return 2, nil

	case 0xDB:
		if modrm == 0xE3 { // FNINIT
			fpu.Init()
			return 2, nil
		}
		return 0, faultf(ErrUnsupported, "db %02x at 0x%08x", modrm, in.start)

	case 0xDC: // arithmetic ST(i), ST(0); the R variants swap operands
		st0 := fpu.St(0)
		sti := fpu.St(i)
		switch sel {
		case 0:
			fpu.SetSt(i, sti+st0)
		case 1:
			fpu.SetSt(i, sti*st0)
		case 4: // FSUBR
			fpu.SetSt(i, st0-sti)
		case 5: // FSUB
			fpu.SetSt(i, sti-st0)
		case 6: // FDIVR
			fpu.SetSt(i, st0/sti)
		case 7: // FDIV
			fpu.SetSt(i, sti/st0)
		default:
			return 0, faultf(ErrUnsupported, "dc %02x at 0x%08x", modrm, in.start)
		}
		return 2, nil

	case 0xDD:
		switch {
		case modrm >= 0xC0 && modrm <= 0xC7: // FFREE ST(i)
			fpu.setTag((fpu.top()+i)&7, TagEmpty)
		case modrm >= 0xD0 && modrm <= 0xD7: // FST ST(i)
			fpu.SetSt(i, fpu.St(0))
		case modrm >= 0xD8 && modrm <= 0xDF: // FSTP ST(i)
			fpu.SetSt(i, fpu.St(0))
			fpu.Pop()
		case modrm >= 0xE0 && modrm <= 0xE7: // FUCOM ST(i)
			fpu.Compare(fpu.St(0), fpu.St(i))
		case modrm >= 0xE8 && modrm <= 0xEF: // FUCOMP ST(i)
			fpu.Compare(fpu.St(0), fpu.St(i))
			fpu.Pop()
		default:
			return 0, faultf(ErrUnsupported, "dd %02x at 0x%08x", modrm, in.start)
		}
		return 2, nil

	case 0xDE:
		if modrm == 0xD9 { // FCOMPP
			fpu.Compare(fpu.St(0), fpu.St(1))
			fpu.Pop()
			fpu.Pop()
			return 2, nil
		}
		// arithmetic ST(i), ST(0) with pop: FADDP FMULP FSUBRP FSUBP FDIVRP FDIVP
		st0 := fpu.St(0)
		sti := fpu.St(i)
		switch sel {
		case 0:
			fpu.SetSt(i, sti+st0)
		case 1:
			fpu.SetSt(i, sti*st0)
		case 4:
			fpu.SetSt(i, st0-sti)
		case 5:
			fpu.SetSt(i, sti-st0)
		case 6:
			fpu.SetSt(i, st0/sti)
		case 7:
			fpu.SetSt(i, sti/st0)
		default:
			return 0, faultf(ErrUnsupported, "de %02x at 0x%08x", modrm, in.start)
		}
		fpu.Pop()
		return 2, nil

	default: // 0xDA, 0xDF register forms
		if op == 0xDF && modrm == 0xE0 { // FNSTSW AX
			vm.Ctx.Regs.Set16(RegEAX, fpu.Status())
			return 2, nil
		}
		return 0, faultf(ErrUnsupported, "%02x %02x at 0x%08x", op, modrm, in.start)
	}
}
