// Completion: 100% - EFLAGS computation complete
package main

import "math/bits"

// Flag computation after integer arithmetic. All operands are widened to
// 64-bit so carry and borrow fall out of plain comparisons regardless of the
// operand width (8, 16 or 32 bits).

// widthMask returns the value mask for a width in bits.
func widthMask(width int) uint64 {
	return 1<<uint(width) - 1
}

// signBit returns the MSB mask for a width in bits.
func signBit(width int) uint64 {
	return 1 << uint(width-1)
}

// setResultFlags sets ZF, SF and PF from the masked result.
func setResultFlags(r *Registers, result uint64, width int) {
	masked := result & widthMask(width)
	r.SetFlag(FlagZF, masked == 0)
	r.SetFlag(FlagSF, masked&signBit(width) != 0)
	r.SetFlag(FlagPF, bits.OnesCount8(uint8(masked))%2 == 0)
}

// flagsAdd computes a+b+carry at the given width, updates CF/OF/AF/ZF/SF/PF
// and returns the masked result.
func flagsAdd(r *Registers, a, b uint32, carry bool, width int) uint32 {
	mask := widthMask(width)
	wa, wb := uint64(a)&mask, uint64(b)&mask
	var cin uint64
	if carry {
		cin = 1
	}
	sum := wa + wb + cin
	result := sum & mask
	r.SetFlag(FlagCF, sum > mask)
	sign := signBit(width)
	r.SetFlag(FlagOF, (wa^wb)&sign == 0 && (wa^result)&sign != 0)
	r.SetFlag(FlagAF, (wa^wb^result)&0x10 != 0)
	setResultFlags(r, result, width)
	return uint32(result)
}

// flagsSub computes a-b-borrow at the given width, updates flags and returns
// the masked result. CF is the borrow condition a < b+borrow.
func flagsSub(r *Registers, a, b uint32, borrow bool, width int) uint32 {
	mask := widthMask(width)
	wa, wb := uint64(a)&mask, uint64(b)&mask
	var bin uint64
	if borrow {
		bin = 1
	}
	diff := wa - wb - bin
	result := diff & mask
	r.SetFlag(FlagCF, wa < wb+bin)
	sign := signBit(width)
	r.SetFlag(FlagOF, (wa^wb)&sign != 0 && (wa^result)&sign != 0)
	r.SetFlag(FlagAF, (wa^wb^result)&0x10 != 0)
	setResultFlags(r, result, width)
	return uint32(result)
}

// flagsLogic sets flags after AND/OR/XOR/TEST: CF and OF cleared, result
// flags from the value.
func flagsLogic(r *Registers, result uint32, width int) uint32 {
	r.SetFlag(FlagCF, false)
	r.SetFlag(FlagOF, false)
	r.SetFlag(FlagAF, false)
	setResultFlags(r, uint64(result), width)
	return uint32(uint64(result) & widthMask(width))
}

// flagsInc is INC: like add 1 but CF untouched.
func flagsInc(r *Registers, a uint32, width int) uint32 {
	cf := r.Flag(FlagCF)
	result := flagsAdd(r, a, 1, false, width)
	r.SetFlag(FlagCF, cf)
	return result
}

// flagsDec is DEC: like sub 1 but CF untouched.
func flagsDec(r *Registers, a uint32, width int) uint32 {
	cf := r.Flag(FlagCF)
	result := flagsSub(r, a, 1, false, width)
	r.SetFlag(FlagCF, cf)
	return result
}

// signExtend8 widens an 8-bit value to 32 bits.
func signExtend8(v uint8) uint32 {
	return uint32(int32(int8(v)))
}

// signExtend16 widens a 16-bit value to 32 bits.
func signExtend16(v uint16) uint32 {
	return uint32(int32(int16(v)))
}
