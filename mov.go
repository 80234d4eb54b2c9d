// Completion: 100% - MOV instruction family complete
package main

// MOV forms: register/memory moves (88/89/8A/8B), immediate to register
// (B0-BF), immediate to r/m (C6/C7), and the accumulator moffs forms
// (A0-A3). An FS override on the moffs forms is a TLS access: the effective
// address is TLS_BASE + moffs32.

func (vm *VM) execMovRM(in *instr) (int, error) {
	op := in.code[0]
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	switch op {
	case 0x88: // MOV r/m8, r8
		err = vm.writeOp8(rm, r.Get8(regField))
	case 0x89: // MOV r/m32, r32
		if in.pfx.opsize {
			err = vm.writeOp16(rm, r.Get16(regField))
		} else {
			err = vm.writeOp32(rm, r.Get(regField))
		}
	case 0x8A: // MOV r8, r/m8
		var v uint8
		if v, err = vm.readOp8(rm); err == nil {
			r.Set8(regField, v)
		}
	case 0x8B: // MOV r32, r/m32
		if in.pfx.opsize {
			var v uint16
			if v, err = vm.readOp16(rm); err == nil {
				r.Set16(regField, v)
			}
		} else {
			var v uint32
			if v, err = vm.readOp32(rm); err == nil {
				r.Set(regField, v)
			}
		}
	}
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

func (vm *VM) execMovImmReg(in *instr) (int, error) {
	op := in.code[0]
	if op < 0xB8 { // B0-B7: MOV r8, imm8
		v, err := imm8(in.code, 1)
		if err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set8(int(op-0xB0), v)
		return 2, nil
	}
	// B8-BF: MOV r32, imm32
	reg := int(op - 0xB8)
	if in.pfx.opsize {
		v, err := imm16(in.code, 1)
		if err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set16(reg, v)
		return 3, nil
	}
	v, err := imm32(in.code, 1)
	if err != nil {
		return 0, err
	}
	vm.Ctx.Regs.Set(reg, v)
	return 5, nil
}

func (vm *VM) execMovImmRM(in *instr) (int, error) {
	wide := in.code[0] == 0xC7
	_, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	if !wide {
		v, err := imm8(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp8(rm, v); err != nil {
			return 0, err
		}
		return 1 + n + 1, nil
	}
	if in.pfx.opsize {
		v, err := imm16(in.code, 1+n)
		if err != nil {
			return 0, err
		}
		if err := vm.writeOp16(rm, v); err != nil {
			return 0, err
		}
		return 1 + n + 2, nil
	}
	v, err := imm32(in.code, 1+n)
	if err != nil {
		return 0, err
	}
	if err := vm.writeOp32(rm, v); err != nil {
		return 0, err
	}
	return 1 + n + 4, nil
}

// execMovMoffs handles A0-A3: moves between the accumulator and a direct
// 32-bit offset, segment-adjusted. With an FS prefix this is the TLS load
// libroot uses for errno and thread data.
func (vm *VM) execMovMoffs(in *instr) (int, error) {
	op := in.code[0]
	moffs, err := imm32(in.code, 1)
	if err != nil {
		return 0, err
	}
	addr := GuestAddr(moffs + vm.segmentBase(in.pfx.seg))
	r := &vm.Ctx.Regs
	switch op {
	case 0xA0: // MOV AL, moffs8
		v, err := vm.Space.ReadU8(addr)
		if err != nil {
			return 0, err
		}
		r.Set8(0, v)
	case 0xA1: // MOV EAX, moffs32
		v, err := vm.Space.ReadU32(addr)
		if err != nil {
			return 0, err
		}
		r.EAX = v
	case 0xA2: // MOV moffs8, AL
		if err := vm.Space.WriteU8(addr, r.Get8(0)); err != nil {
			return 0, err
		}
	case 0xA3: // MOV moffs32, EAX
		if err := vm.Space.WriteU32(addr, r.EAX); err != nil {
			return 0, err
		}
	}
	return 5, nil
}

// execMovzx: 0F B6 (r32, r/m8) and 0F B7 (r32, r/m16), zero extension.
func (vm *VM) execMovzx(in *instr) (int, error) {
	wideSrc := in.code[1] == 0xB7
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	if wideSrc {
		v, err := vm.readOp16(rm)
		if err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set(regField, uint32(v))
	} else {
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set(regField, uint32(v))
	}
	return 2 + n, nil
}

// execMovsx: 0F BE (r32, r/m8) and 0F BF (r32, r/m16), sign extension.
func (vm *VM) execMovsx(in *instr) (int, error) {
	wideSrc := in.code[1] == 0xBF
	regField, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	if wideSrc {
		v, err := vm.readOp16(rm)
		if err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set(regField, signExtend16(v))
	} else {
		v, err := vm.readOp8(rm)
		if err != nil {
			return 0, err
		}
		vm.Ctx.Regs.Set(regField, signExtend8(v))
	}
	return 2 + n, nil
}
