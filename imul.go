// Completion: 100% - Multiply/divide group complete
package main

// Group F6/F7 (TEST/NOT/NEG/MUL/IMUL/DIV/IDIV) and the two-operand and
// three-operand IMUL forms. Division by zero is a fatal VM fault with a
// register dump, like the hardware #DE would be.

func (vm *VM) execMulGroup(in *instr) (int, error) {
	wide := in.code[0] == 0xF7
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs

	if !wide {
		return vm.execMulGroup8(in, regField, rm, n)
	}

	switch regField {
	case 0, 1: // TEST r/m32, imm32
		v, err := imm32(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		dst, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		flagsLogic(r, dst&v, 32)
		return 1 + n + 4, nil
	case 2: // NOT
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp32(rm, ^v); err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 3: // NEG
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		res := flagsSub(r, 0, v, false, 32)
		r.SetFlag(FlagCF, v != 0)
		if err := vm.writeOp32(rm, res); err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 4: // MUL: EDX:EAX = EAX * r/m32
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		product := uint64(r.EAX) * uint64(v)
		r.EAX = uint32(product)
		r.EDX = uint32(product >> 32)
		overflow := r.EDX != 0
		r.SetFlag(FlagCF, overflow)
		r.SetFlag(FlagOF, overflow)
		return 1 + n, nil
	case 5: // IMUL
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		product := int64(int32(r.EAX)) * int64(int32(v))
		r.EAX = uint32(product)
		r.EDX = uint32(uint64(product) >> 32)
		overflow := product != int64(int32(product))
		r.SetFlag(FlagCF, overflow)
		r.SetFlag(FlagOF, overflow)
		return 1 + n, nil
	case 6: // DIV: EDX:EAX / r/m32
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 0, faultf(ErrBadInput, "divide by zero at 0x%08x", in.start)
		}
		dividend := uint64(r.EDX)<<32 | uint64(r.EAX)
		quotient := dividend / uint64(v)
		if quotient > 0xFFFFFFFF {
			return 0, faultf(ErrBadInput, "divide overflow at 0x%08x", in.start)
		}
		r.EAX = uint32(quotient)
		r.EDX = uint32(dividend % uint64(v))
		return 1 + n, nil
	default: // 7: IDIV
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 0, faultf(ErrBadInput, "divide by zero at 0x%08x", in.start)
		}
		dividend := int64(uint64(r.EDX)<<32 | uint64(r.EAX))
		divisor := int64(int32(v))
		quotient := dividend / divisor
		if quotient != int64(int32(quotient)) {
			return 0, faultf(ErrBadInput, "divide overflow at 0x%08x", in.start)
		}
		r.EAX = uint32(int32(quotient))
		r.EDX = uint32(int32(dividend % divisor))
		return 1 + n, nil
	}
}

func (vm *VM) execMulGroup8(in *instr, regField int, rm operand, n int) (int, error) {
	r := &vm.Ctx.Regs
	switch regField {
	case 0, 1: // TEST r/m8, imm8
		v, err := imm8(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		dst, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		flagsLogic(r, uint32(dst&v), 8)
		return 1 + n + 1, nil
	case 2: // NOT
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp8(rm, ^v); err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 3: // NEG
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		res := flagsSub(r, 0, uint32(v), false, 8)
		r.SetFlag(FlagCF, v != 0)
		if err := vm.writeOp8(rm, uint8(res)); err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 4: // MUL: AX = AL * r/m8
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		product := uint16(r.Get8(0)) * uint16(v)
		r.Set16(RegEAX, product)
		overflow := product>>8 != 0
		r.SetFlag(FlagCF, overflow)
		r.SetFlag(FlagOF, overflow)
		return 1 + n, nil
	case 5: // IMUL
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		product := int16(int8(r.Get8(0))) * int16(int8(v))
		r.Set16(RegEAX, uint16(product))
		overflow := product != int16(int8(product))
		r.SetFlag(FlagCF, overflow)
		r.SetFlag(FlagOF, overflow)
		return 1 + n, nil
	case 6: // DIV: AX / r/m8
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 0, faultf(ErrBadInput, "divide by zero at 0x%08x", in.start)
		}
		dividend := r.Get16(RegEAX)
		quotient := dividend / uint16(v)
		if quotient > 0xFF {
			return 0, faultf(ErrBadInput, "divide overflow at 0x%08x", in.start)
		}
		r.Set8(0, uint8(quotient))          // AL
		r.Set8(4, uint8(dividend%uint16(v))) // AH
		return 1 + n, nil
	default: // 7: IDIV
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 0, faultf(ErrBadInput, "divide by zero at 0x%08x", in.start)
		}
		dividend := int16(r.Get16(RegEAX))
		divisor := int16(int8(v))
		quotient := dividend / divisor
		if quotient != int16(int8(quotient)) {
			return 0, faultf(ErrBadInput, "divide overflow at 0x%08x", in.start)
		}
		r.Set8(0, uint8(int8(quotient)))
		r.Set8(4, uint8(int8(dividend%divisor)))
		return 1 + n, nil
	}
}

// execImulRM: 0F AF, IMUL r32, r/m32.
func (vm *VM) execImulRM(in *instr) (int, error) {
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	v, err := vm.readOp32(rm)
	if err != nil {
		return 0, err
	}
	product := int64(int32(r.Get(regField))) * int64(int32(v))
	r.Set(regField, uint32(product))
	overflow := product != int64(int32(product))
	r.SetFlag(FlagCF, overflow)
	r.SetFlag(FlagOF, overflow)
	return 2 + n, nil
}

// execImulImm: 69 (imm32) and 6B (sign-extended imm8), IMUL r32, r/m32, imm.
func (vm *VM) execImulImm(in *instr) (int, error) {
	short := in.code[0] == 0x6B
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	var immVal uint32
	immLen := 4
	if short {
		v, err := imm8(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		immVal = signExtend8(v)
		immLen = 1
	} else {
		if immVal, err = imm32(in.code, 1+n); err != nil {
			return 0, err
		}
	}
	v, err := vm.readOp32(rm)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	product := int64(int32(v)) * int64(int32(immVal))
	r.Set(regField, uint32(product))
	overflow := product != int64(int32(product))
	r.SetFlag(FlagCF, overflow)
	r.SetFlag(FlagOF, overflow)
	return 1 + n + immLen, nil
}
