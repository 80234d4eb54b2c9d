// Completion: 100% - Fast executor dispatch table complete
package main

// The fast executor is a constant dispatch table keyed by the first
// post-prefix opcode byte, covering the opcodes the target compiler emits
// on its hot paths. The interpreter consults it only when no prefix is
// present; a handler that cannot take an encoding returns ErrUnsupported
// and the full decoder picks the instruction up instead.

type fastHandler func(*VM, *instr) (int, error)

var fastHandlers [256]fastHandler

func init() {
	set := func(h fastHandler, opcodes ...int) {
		for _, op := range opcodes {
			fastHandlers[op] = h
		}
	}
	rangeSet := func(h fastHandler, lo, hi int) {
		for op := lo; op <= hi; op++ {
			fastHandlers[op] = h
		}
	}

	// Integer ALU family: ADD/OR/ADC/SBB/AND/SUB/XOR/CMP in the r/m<->r
	// and accumulator-immediate forms.
	for row := 0; row < 8; row++ {
		base := row * 8
		set((*VM).execALU, base, base+1, base+2, base+3, base+4, base+5)
	}
	set((*VM).execALUGroup, 0x80, 0x81, 0x83)

	rangeSet((*VM).execIncReg, 0x40, 0x47)
	rangeSet((*VM).execDecReg, 0x48, 0x4F)
	rangeSet((*VM).execPushPopReg, 0x50, 0x5F)
	set((*VM).execPushImm, 0x68, 0x6A)
	set((*VM).execImulImm, 0x69, 0x6B)
	rangeSet((*VM).execJccShort, 0x70, 0x7F)
	set((*VM).execTest, 0x84, 0x85)
	set((*VM).execXchgRM, 0x86, 0x87)
	set((*VM).execMovRM, 0x88, 0x89, 0x8A, 0x8B)
	set((*VM).execLea, 0x8D)
	set((*VM).execPopRM, 0x8F)
	rangeSet((*VM).execXchgEAX, 0x90, 0x97) // 0x90 is NOP
	set((*VM).execCwde, 0x98)
	set((*VM).execCdq, 0x99)
	set((*VM).execMovMoffs, 0xA0, 0xA1, 0xA2, 0xA3)
	set((*VM).execTestImmAcc, 0xA8, 0xA9)
	rangeSet((*VM).execMovImmReg, 0xB0, 0xBF)
	set((*VM).execShiftGroup, 0xC0, 0xC1, 0xD0, 0xD1, 0xD2, 0xD3)
	set((*VM).execRet, 0xC2, 0xC3)
	set((*VM).execMovImmRM, 0xC6, 0xC7)
	set((*VM).execLeave, 0xC9)
	set((*VM).execInt, 0xCD)
	set((*VM).execCallRel, 0xE8)
	set((*VM).execJmpRel, 0xE9, 0xEB)
	set((*VM).execMulGroup, 0xF6, 0xF7)
	set((*VM).execIncDecRM8, 0xFE)
	set((*VM).execGroupFF, 0xFF)

	// Two-byte escape: MOVZX/MOVSX and the rel32 jumps live behind it.
	set((*VM).executeTwoByte, 0x0F)
}
