// Completion: 100% - Two-byte bit manipulation opcodes complete
package main

// The 0F-prefixed bit operations the target compiler emits for bitfield
// code: BT/BTS/BTR/BTC, BSF/BSR, SHLD/SHRD, BSWAP, XADD and CMPXCHG.

// btBit resolves the bit-offset operand. For a memory operand the bit
// offset extends the effective address; for a register it wraps mod 32.
func (vm *VM) btBit(rm operand, bitOff uint32) (operand, uint32) {
	if rm.isReg {
		return rm, bitOff & 31
	}
	rm.addr = GuestAddr(uint32(rm.addr) + (bitOff>>5)*4)
	return rm, bitOff & 31
}

// execBitTest: 0F A3 BT, 0F AB BTS, 0F B3 BTR, 0F BB BTC (bit from r32),
// and the 0F BA group with an imm8 bit offset.
func (vm *VM) execBitTest(in *instr) (int, error) {
	op2 := in.code[1]
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs

	var action int // 0=BT 1=BTS 2=BTR 3=BTC
	var bitOff uint32
	size := 2 + n
	if op2 == 0xBA {
		imm, err := imm8(in.code, 2+n)
		if err != nil {
			return 0, err
		}
		bitOff = uint32(imm)
		size++
		switch regField {
		case 4:
			action = 0
		case 5:
			action = 1
		case 6:
			action = 2
		case 7:
			action = 3
		default:
			return 0, faultf(ErrUnsupported, "0f ba /%d at 0x%08x", regField, in.start)
		}
	} else {
		bitOff = r.Get(regField)
		switch op2 {
		case 0xA3:
			action = 0
		case 0xAB:
			action = 1
		case 0xB3:
			action = 2
		default: // 0xBB
			action = 3
		}
	}

	rm, bit := vm.btBit(rm, bitOff)
	v, err := vm.readOp32(rm)
	if err != nil {
		return 0, err
	}
	r.SetFlag(FlagCF, v&(1<<bit) != 0)
	switch action {
	case 1:
		v |= 1 << bit
	case 2:
		v &^= 1 << bit
	case 3:
		v ^= 1 << bit
	default:
		return size, nil
	}
	if err := vm.writeOp32(rm, v); err != nil {
		return 0, err
	}
	return size, nil
}

// execBitScan: 0F BC BSF and 0F BD BSR. A zero source sets ZF and leaves
// the destination alone.
func (vm *VM) execBitScan(in *instr) (int, error) {
	forward := in.code[1] == 0xBC
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	v, err := vm.readOp32(rm)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	if v == 0 {
		r.SetFlag(FlagZF, true)
		return 2 + n, nil
	}
	r.SetFlag(FlagZF, false)
	var idx uint32
	if forward {
		for v&1 == 0 {
			v >>= 1
			idx++
		}
	} else {
		for v > 1 {
			v >>= 1
			idx++
		}
	}
	r.Set(regField, idx)
	return 2 + n, nil
}

// execShiftDouble: 0F A4/A5 SHLD and 0F AC/AD SHRD, count from imm8 or CL.
func (vm *VM) execShiftDouble(in *instr) (int, error) {
	op2 := in.code[1]
	left := op2 == 0xA4 || op2 == 0xA5
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs

	var count uint8
	size := 2 + n
	if op2 == 0xA4 || op2 == 0xAC {
		count, err = imm8(in.code, 2+n)
		if err != nil {
			return 0, err
		}
		size++
	} else {
		count = uint8(r.ECX)
	}
	count &= 31
	dst, err := vm.readOp32(rm)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return size, nil
	}
	src := r.Get(regField)
	var result uint32
	var cf bool
	if left {
		wide := uint64(dst)<<32 | uint64(src)
		wide <<= count
		result = uint32(wide >> 32)
		cf = dst>>(32-count)&1 != 0
	} else {
		wide := uint64(src)<<32 | uint64(dst)
		wide >>= count
		result = uint32(wide)
		cf = dst>>(count-1)&1 != 0
	}
	r.SetFlag(FlagCF, cf)
	setResultFlags(r, uint64(result), 32)
	if err := vm.writeOp32(rm, result); err != nil {
		return 0, err
	}
	return size, nil
}

// execBswap: 0F C8+r, byte order reversal.
func (vm *VM) execBswap(in *instr) (int, error) {
	reg := int(in.code[1] - 0xC8)
	v := vm.Ctx.Regs.Get(reg)
	v = v<<24 | v<<8&0x00FF0000 | v>>8&0x0000FF00 | v>>24
	vm.Ctx.Regs.Set(reg, v)
	return 2, nil
}

// execXadd: 0F C0/C1, exchange-and-add.
func (vm *VM) execXadd(in *instr) (int, error) {
	wide := in.code[1] == 0xC1
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	if wide {
		dst, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		src := r.Get(regField)
		sum := flagsAdd(r, dst, src, false, 32)
		r.Set(regField, dst)
		if err := vm.writeOp32(rm, sum); err != nil {
			return 0, err
		}
	} else {
		dst, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		src := r.Get8(regField)
		sum := flagsAdd(r, uint32(dst), uint32(src), false, 8)
		r.Set8(regField, dst)
		if err := vm.writeOp8(rm, uint8(sum)); err != nil {
			return 0, err
		}
	}
	return 2 + n, nil
}

// execCmpxchg: 0F B0/B1. The LOCK prefix is a no-op in the single-threaded
// interpreter.
func (vm *VM) execCmpxchg(in *instr) (int, error) {
	wide := in.code[1] == 0xB1
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	if wide {
		dst, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		flagsSub(r, r.EAX, dst, false, 32)
		if r.EAX == dst {
			if err := vm.writeOp32(rm, r.Get(regField)); err != nil {
				return 0, err
			}
		} else {
			r.EAX = dst
		}
	} else {
		dst, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		al := r.Get8(0)
		flagsSub(r, uint32(al), uint32(dst), false, 8)
		if al == dst {
			if err := vm.writeOp8(rm, r.Get8(regField)); err != nil {
				return 0, err
			}
		} else {
			r.Set8(0, dst)
		}
	}
	return 2 + n, nil
}

// execCmov: 0F 40..4F, conditional register move.
func (vm *VM) execCmov(in *instr) (int, error) {
	cc := in.code[1] & 0x0F
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	// The source is read regardless of the condition, as on hardware.
	v, err := vm.readOp32(rm)
	if err != nil {
		return 0, err
	}
	if conditionHolds(&vm.Ctx.Regs, cc) {
		vm.Ctx.Regs.Set(regField, v)
	}
	return 2 + n, nil
}
