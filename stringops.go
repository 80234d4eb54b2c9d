// Completion: 100% - String instructions with full REP iteration complete
package main

// String instructions honouring DF and the REP/REPE/REPNE prefixes. Each
// REP iteration performs one element transfer and decrements ECX; SCAS and
// CMPS additionally terminate on the ZF condition.

// stringDelta returns the per-element pointer adjustment for the width.
func stringDelta(r *Registers, width uint32) uint32 {
	if r.Flag(FlagDF) {
		return -width & 0xFFFFFFFF
	}
	return width
}

func (vm *VM) execString(in *instr) (int, error) {
	op := in.code[0]
	r := &vm.Ctx.Regs

	width := uint32(4)
	if op&1 == 0 { // even opcodes are the byte variants
		width = 1
	} else if in.pfx.opsize {
		width = 2
	}

	readElem := func(addr GuestAddr) (uint32, error) {
		switch width {
		case 1:
			v, err := vm.Space.ReadU8(addr)
			return uint32(v), err
		case 2:
			v, err := vm.Space.ReadU16(addr)
			return uint32(v), err
		default:
			return vm.Space.ReadU32(addr)
		}
	}
	writeElem := func(addr GuestAddr, v uint32) error {
		switch width {
		case 1:
			return vm.Space.WriteU8(addr, uint8(v))
		case 2:
			return vm.Space.WriteU16(addr, uint16(v))
		default:
			return vm.Space.WriteU32(addr, v)
		}
	}
	accumulator := func() uint32 {
		switch width {
		case 1:
			return uint32(r.Get8(0))
		case 2:
			return uint32(r.Get16(RegEAX))
		default:
			return r.EAX
		}
	}

	delta := stringDelta(r, width)
	repeated := in.pfx.rep || in.pfx.repnz
	flagTest := op == 0xA6 || op == 0xA7 || op == 0xAE || op == 0xAF // CMPS/SCAS

	// one performs a single element operation; the second result reports
	// whether a REP loop should continue.
	one := func() (bool, error) {
		switch op {
		case 0xA4, 0xA5: // MOVS
			v, err := readElem(GuestAddr(r.ESI))
			if err != nil {
				return false, err
			}
			if err := writeElem(GuestAddr(r.EDI), v); err != nil {
				return false, err
			}
			r.ESI += delta
			r.EDI += delta
		case 0xAA, 0xAB: // STOS
			if err := writeElem(GuestAddr(r.EDI), accumulator()); err != nil {
				return false, err
			}
			r.EDI += delta
		case 0xAC, 0xAD: // LODS
			v, err := readElem(GuestAddr(r.ESI))
			if err != nil {
				return false, err
			}
			switch width {
			case 1:
				r.Set8(0, uint8(v))
			case 2:
				r.Set16(RegEAX, uint16(v))
			default:
				r.EAX = v
			}
			r.ESI += delta
		case 0xAE, 0xAF: // SCAS: compare accumulator against [EDI]
			v, err := readElem(GuestAddr(r.EDI))
			if err != nil {
				return false, err
			}
			flagsSub(r, accumulator(), v, false, int(width)*8)
			r.EDI += delta
		case 0xA6, 0xA7: // CMPS: compare [ESI] against [EDI]
			a, err := readElem(GuestAddr(r.ESI))
			if err != nil {
				return false, err
			}
			b, err := readElem(GuestAddr(r.EDI))
			if err != nil {
				return false, err
			}
			flagsSub(r, a, b, false, int(width)*8)
			r.ESI += delta
			r.EDI += delta
		}
		if !flagTest {
			return true, nil
		}
		// REPE continues while ZF set; REPNE while clear.
		if in.pfx.repnz {
			return !r.Flag(FlagZF), nil
		}
		return r.Flag(FlagZF), nil
	}

	if !repeated {
		if _, err := one(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	for r.ECX != 0 {
		cont, err := one()
		if err != nil {
			return 0, err
		}
		r.ECX--
		if flagTest && !cont {
			break
		}
	}
	return 1, nil
}
