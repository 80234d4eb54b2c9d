package main

import "testing"

func TestBitTestInstructions(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		eax    uint32
		ebx    uint32
		wantCF bool
		wantBX uint32
	}{
		// bt ebx, eax
		{"bt_set", []byte{0x0F, 0xA3, 0xC3}, 3, 0b1000, true, 0b1000},
		{"bt_clear", []byte{0x0F, 0xA3, 0xC3}, 2, 0b1000, false, 0b1000},
		// bts ebx, eax
		{"bts", []byte{0x0F, 0xAB, 0xC3}, 1, 0, false, 0b10},
		// btr ebx, eax
		{"btr", []byte{0x0F, 0xB3, 0xC3}, 1, 0b11, true, 0b01},
		// btc ebx, eax
		{"btc", []byte{0x0F, 0xBB, 0xC3}, 0, 0b01, true, 0b00},
		// bt ebx, imm8 (group BA /4)
		{"bt_imm", []byte{0x0F, 0xBA, 0xE3, 0x04}, 0, 0x10, true, 0x10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := testVM(t)
			vm.Ctx.Regs.EAX = tt.eax
			vm.Ctx.Regs.EBX = tt.ebx
			loadCode(t, vm, tt.code)
			stepN(t, vm, 1)
			if vm.Ctx.Regs.Flag(FlagCF) != tt.wantCF {
				t.Errorf("CF = %v, want %v", vm.Ctx.Regs.Flag(FlagCF), tt.wantCF)
			}
			if vm.Ctx.Regs.EBX != tt.wantBX {
				t.Errorf("EBX = %08x, want %08x", vm.Ctx.Regs.EBX, tt.wantBX)
			}
		})
	}
}

func TestBitScan(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EBX = 0x00F0
	loadCode(t, vm, []byte{
		0x0F, 0xBC, 0xC3, // bsf eax, ebx
		0x0F, 0xBD, 0xCB, // bsr ecx, ebx
	})
	stepN(t, vm, 2)
	if vm.Ctx.Regs.EAX != 4 {
		t.Errorf("bsf = %d, want 4", vm.Ctx.Regs.EAX)
	}
	if vm.Ctx.Regs.ECX != 7 {
		t.Errorf("bsr = %d, want 7", vm.Ctx.Regs.ECX)
	}
	if vm.Ctx.Regs.Flag(FlagZF) {
		t.Error("ZF set for non-zero source")
	}
	// Zero source: ZF set, destination untouched.
	vm.Ctx.Regs.EBX = 0
	vm.Ctx.Regs.EAX = 0x1234
	loadCode(t, vm, []byte{0x0F, 0xBC, 0xC3})
	stepN(t, vm, 1)
	if !vm.Ctx.Regs.Flag(FlagZF) || vm.Ctx.Regs.EAX != 0x1234 {
		t.Errorf("bsf of zero: ZF=%v EAX=%08x", vm.Ctx.Regs.Flag(FlagZF), vm.Ctx.Regs.EAX)
	}
}

func TestShld(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = 0x80000001
	vm.Ctx.Regs.EBX = 0xF0000000
	// shld eax, ebx, 4: high bits of EBX shift into EAX from the right.
	loadCode(t, vm, []byte{0x0F, 0xA4, 0xD8, 0x04})
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EAX != 0x0000001F {
		t.Errorf("shld result %08x, want 0000001F", vm.Ctx.Regs.EAX)
	}
	if vm.Ctx.Regs.Flag(FlagCF) {
		t.Error("CF should hold the last bit shifted out (bit 28, clear)")
	}
}

func TestShrd(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = 0x00000010
	vm.Ctx.Regs.EBX = 0x00000003
	// shrd eax, ebx, 4: low bits of EBX enter EAX from the left.
	loadCode(t, vm, []byte{0x0F, 0xAC, 0xD8, 0x04})
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EAX != 0x30000001 {
		t.Errorf("shrd result %08x, want 30000001", vm.Ctx.Regs.EAX)
	}
}

func TestBswap(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EDX = 0x12345678
	loadCode(t, vm, []byte{0x0F, 0xCA}) // bswap edx
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EDX != 0x78563412 {
		t.Errorf("bswap = %08x", vm.Ctx.Regs.EDX)
	}
}

func TestCmpxchg(t *testing.T) {
	vm := testVM(t)
	scratch := GuestAddr(testStackTop - 0x100)
	vm.Space.WriteU32(scratch, 5)
	vm.Ctx.Regs.EAX = 5
	vm.Ctx.Regs.ECX = 9
	vm.Ctx.Regs.EBX = uint32(scratch)
	loadCode(t, vm, []byte{0x0F, 0xB1, 0x0B}) // cmpxchg [ebx], ecx
	stepN(t, vm, 1)
	v, _ := vm.Space.ReadU32(scratch)
	if v != 9 || !vm.Ctx.Regs.Flag(FlagZF) {
		t.Errorf("successful exchange: mem=%d ZF=%v", v, vm.Ctx.Regs.Flag(FlagZF))
	}
	// Mismatch path: EAX gets the memory value.
	vm.Space.WriteU32(scratch, 7)
	vm.Ctx.Regs.EAX = 5
	loadCode(t, vm, []byte{0x0F, 0xB1, 0x0B})
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EAX != 7 || vm.Ctx.Regs.Flag(FlagZF) {
		t.Errorf("failed exchange: EAX=%d ZF=%v", vm.Ctx.Regs.EAX, vm.Ctx.Regs.Flag(FlagZF))
	}
}

func TestXadd(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = 3
	vm.Ctx.Regs.EBX = 4
	loadCode(t, vm, []byte{0x0F, 0xC1, 0xC3}) // xadd ebx, eax
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EBX != 7 || vm.Ctx.Regs.EAX != 4 {
		t.Errorf("xadd: EBX=%d EAX=%d, want 7, 4", vm.Ctx.Regs.EBX, vm.Ctx.Regs.EAX)
	}
}

func TestCmov(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EBX = 0x1234
	vm.Ctx.Regs.EAX = 0
	vm.Ctx.Regs.SetFlag(FlagZF, true)
	loadCode(t, vm, []byte{0x0F, 0x44, 0xC3}) // cmovz eax, ebx
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EAX != 0x1234 {
		t.Errorf("cmovz taken: EAX=%08x", vm.Ctx.Regs.EAX)
	}
	vm.Ctx.Regs.SetFlag(FlagZF, false)
	vm.Ctx.Regs.EAX = 0
	loadCode(t, vm, []byte{0x0F, 0x44, 0xC3})
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EAX != 0 {
		t.Errorf("cmovz not taken must leave destination: EAX=%08x", vm.Ctx.Regs.EAX)
	}
}
