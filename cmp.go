// Completion: 100% - TEST instructions and condition predicates complete
package main

// TEST forms (84/85, A8/A9, and the F6/F7 group handled with the multiply
// family), plus the EFLAGS condition predicates shared by Jcc and SETcc.

func (vm *VM) execTest(in *instr) (int, error) {
	wide := in.code[0] == 0x85
	regField, rm, n, err := vm.decodeModRM(in.code[1:], in.pfx)
	if err != nil {
		return 0, err
	}
	r := &vm.Ctx.Regs
	if wide {
		if in.pfx.opsize {
			v, err := vm.readOp16(rm)
			if err != nil {
				return 0, err
			}
			flagsLogic(r, uint32(v&r.Get16(regField)), 16)
			return 1 + n, nil
		}
		v, err := vm.readOp32(rm)
		if err != nil {
			return 0, err
		}
		flagsLogic(r, v&r.Get(regField), 32)
		return 1 + n, nil
	}
	v, err := vm.readOp8(rm)
	if err != nil {
		return 0, err
	}
	flagsLogic(r, uint32(v&r.Get8(regField)), 8)
	return 1 + n, nil
}

func (vm *VM) execTestImmAcc(in *instr) (int, error) {
	r := &vm.Ctx.Regs
	if in.code[0] == 0xA8 { // TEST AL, imm8
		v, err := imm8(in.code, 1)
		if err != nil {
			return 0, err
		}
		flagsLogic(r, uint32(r.Get8(0)&v), 8)
		return 2, nil
	}
	if in.pfx.opsize { // TEST AX, imm16
		v, err := imm16(in.code, 1)
		if err != nil {
			return 0, err
		}
		flagsLogic(r, uint32(r.Get16(RegEAX)&v), 16)
		return 3, nil
	}
	v, err := imm32(in.code, 1) // TEST EAX, imm32
	if err != nil {
		return 0, err
	}
	flagsLogic(r, r.EAX&v, 32)
	return 5, nil
}

// conditionHolds evaluates a 4-bit x86 condition code against EFLAGS.
// The low bit inverts; the high three bits select the predicate:
// O, B, Z, BE, S, P, L, LE.
func conditionHolds(r *Registers, cc uint8) bool {
	var result bool
	switch cc >> 1 {
	case 0: // O / NO
		result = r.Flag(FlagOF)
	case 1: // B / AE
		result = r.Flag(FlagCF)
	case 2: // Z / NZ
		result = r.Flag(FlagZF)
	case 3: // BE / A
		result = r.Flag(FlagCF) || r.Flag(FlagZF)
	case 4: // S / NS
		result = r.Flag(FlagSF)
	case 5: // P / NP
		result = r.Flag(FlagPF)
	case 6: // L / GE
		result = r.Flag(FlagSF) != r.Flag(FlagOF)
	default: // LE / G
		result = r.Flag(FlagZF) || r.Flag(FlagSF) != r.Flag(FlagOF)
	}
	if cc&1 != 0 {
		return !result
	}
	return result
}

// execSetcc: 0F 90..9F, write 0 or 1 into an 8-bit r/m.
func (vm *VM) execSetcc(in *instr) (int, error) {
	cc := in.code[1] & 0x0F
	_, rm, n, err := vm.decodeModRM(in.code[2:], in.pfx)
	if err != nil {
		return 0, err
	}
	var v uint8
	if conditionHolds(&vm.Ctx.Regs, cc) {
		v = 1
	}
	if err := vm.writeOp8(rm, v); err != nil {
		return 0, err
	}
	return 2 + n, nil
}
