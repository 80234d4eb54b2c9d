// Completion: 100% - ModR/M and SIB decoding complete
package main

import "encoding/binary"

// Segment override indices. Only FS and GS change the effective address
// (they select the TLS base); the others are recorded and ignored, as the
// guest runs with a flat segment model.
const (
	segNone = -1
	segES   = 0
	segCS   = 1
	segSS   = 2
	segDS   = 3
	segFS   = 4
	segGS   = 5
)

// prefixes records the instruction prefixes consumed before the opcode.
type prefixes struct {
	lock   bool
	rep    bool // F3
	repnz  bool // F2
	opsize bool // 66
	seg    int
}

// parsePrefixes consumes up to four prefix bytes in any order and returns
// the prefix state plus the number of bytes eaten.
func parsePrefixes(code []byte) (prefixes, int) {
	pfx := prefixes{seg: segNone}
	n := 0
	for n < len(code) && n < 4 {
		switch code[n] {
		case 0xF0:
			pfx.lock = true
		case 0xF3:
			pfx.rep = true
		case 0xF2:
			pfx.repnz = true
		case 0x66:
			pfx.opsize = true
		case 0x26:
			pfx.seg = segES
		case 0x2E:
			pfx.seg = segCS
		case 0x36:
			pfx.seg = segSS
		case 0x3E:
			pfx.seg = segDS
		case 0x64:
			pfx.seg = segFS
		case 0x65:
			pfx.seg = segGS
		default:
			return pfx, n
		}
		n++
	}
	return pfx, n
}

// operand is the result of ModR/M decoding: either a register number or an
// effective guest address.
type operand struct {
	isReg bool
	reg   int
	addr  GuestAddr
}

// segmentBase returns the base added to effective addresses for the given
// segment override. FS and GS select the TLS page; everything else is flat.
func (vm *VM) segmentBase(seg int) uint32 {
	if seg == segFS || seg == segGS {
		return uint32(vm.Ctx.TLSBase)
	}
	return 0
}

// decodeModRM decodes the ModR/M byte at code[0] together with any SIB byte
// and displacement. It returns the reg field, the r/m operand and the
// number of bytes consumed.
func (vm *VM) decodeModRM(code []byte, pfx prefixes) (int, operand, int, error) {
	if len(code) < 1 {
		return 0, operand{}, 0, faultf(ErrBadInput, "truncated ModR/M")
	}
	modrm := code[0]
	mod := int(modrm >> 6)
	regField := int(modrm>>3) & 7
	rm := int(modrm) & 7
	n := 1

	if mod == 3 {
		return regField, operand{isReg: true, reg: rm}, n, nil
	}

	regs := &vm.Ctx.Regs
	var base uint64

	if rm == 4 {
		// SIB escape.
		if len(code) < 2 {
			return 0, operand{}, 0, faultf(ErrBadInput, "truncated SIB")
		}
		sib := code[1]
		n++
		scale := uint(sib >> 6)
		index := int(sib>>3) & 7
		sibBase := int(sib) & 7

		if sibBase == 5 && mod == 0 {
			if len(code) < n+4 {
				return 0, operand{}, 0, faultf(ErrBadInput, "truncated SIB disp32")
			}
			base = uint64(binary.LittleEndian.Uint32(code[n:]))
			n += 4
		} else {
			base = uint64(regs.Get(sibBase))
		}
		if index != 4 {
			base += uint64(regs.Get(index)) << scale
		}
	} else if mod == 0 && rm == 5 {
		// disp32 only.
		if len(code) < n+4 {
			return 0, operand{}, 0, faultf(ErrBadInput, "truncated disp32")
		}
		base = uint64(binary.LittleEndian.Uint32(code[n:]))
		n += 4
	} else {
		base = uint64(regs.Get(rm))
	}

	switch mod {
	case 1:
		if len(code) < n+1 {
			return 0, operand{}, 0, faultf(ErrBadInput, "truncated disp8")
		}
		base += uint64(signExtend8(code[n]))
		n++
	case 2:
		if len(code) < n+4 {
			return 0, operand{}, 0, faultf(ErrBadInput, "truncated disp32")
		}
		base += uint64(binary.LittleEndian.Uint32(code[n:]))
		n += 4
	}

	base += uint64(vm.segmentBase(pfx.seg))
	return regField, operand{addr: GuestAddr(uint32(base))}, n, nil
}

// Operand accessors at each width. Register operands use the encoding-order
// register numbering (8-bit operands address AL..BH).

func (vm *VM) readOp8(op operand) (uint8, error) {
	if op.isReg {
		return vm.Ctx.Regs.Get8(op.reg), nil
	}
	return vm.Space.ReadU8(op.addr)
}

func (vm *VM) writeOp8(op operand, v uint8) error {
	if op.isReg {
		vm.Ctx.Regs.Set8(op.reg, v)
		return nil
	}
	return vm.Space.WriteU8(op.addr, v)
}

func (vm *VM) readOp16(op operand) (uint16, error) {
	if op.isReg {
		return vm.Ctx.Regs.Get16(op.reg), nil
	}
	return vm.Space.ReadU16(op.addr)
}

func (vm *VM) writeOp16(op operand, v uint16) error {
	if op.isReg {
		vm.Ctx.Regs.Set16(op.reg, v)
		return nil
	}
	return vm.Space.WriteU16(op.addr, v)
}

func (vm *VM) readOp32(op operand) (uint32, error) {
	if op.isReg {
		return vm.Ctx.Regs.Get(op.reg), nil
	}
	return vm.Space.ReadU32(op.addr)
}

func (vm *VM) writeOp32(op operand, v uint32) error {
	if op.isReg {
		vm.Ctx.Regs.Set(op.reg, v)
		return nil
	}
	return vm.Space.WriteU32(op.addr, v)
}
