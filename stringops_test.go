package main

import (
	"bytes"
	"testing"
)

func TestRepStosd(t *testing.T) {
	vm := testVM(t)
	dst := testStackTop - 0x1000
	vm.Ctx.Regs.EDI = dst
	vm.Ctx.Regs.EAX = 0xDEADBEEF
	vm.Ctx.Regs.ECX = 5
	loadCode(t, vm, []byte{0xF3, 0xAB}) // rep stosd
	stepN(t, vm, 1)
	r := &vm.Ctx.Regs
	if r.ECX != 0 {
		t.Errorf("ECX = %d, want 0", r.ECX)
	}
	if r.EDI != dst+20 {
		t.Errorf("EDI advanced to %08x, want %08x", r.EDI, dst+20)
	}
	for i := uint32(0); i < 5; i++ {
		v, err := vm.Space.ReadU32(GuestAddr(dst + i*4))
		if err != nil || v != 0xDEADBEEF {
			t.Errorf("word %d = %08x (%v)", i, v, err)
		}
	}
	// The word after the run must be untouched.
	v, _ := vm.Space.ReadU32(GuestAddr(dst + 20))
	if v != 0 {
		t.Errorf("word past the run written: %08x", v)
	}
}

func TestRepMovsd(t *testing.T) {
	vm := testVM(t)
	src := testStackTop - 0x2000
	dst := testStackTop - 0x1000
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if err := vm.Space.Write(GuestAddr(src), want); err != nil {
		t.Fatal(err)
	}
	vm.Ctx.Regs.ESI = src
	vm.Ctx.Regs.EDI = dst
	vm.Ctx.Regs.ECX = 3
	loadCode(t, vm, []byte{0xF3, 0xA5}) // rep movsd
	stepN(t, vm, 1)
	got := make([]byte, len(want))
	if err := vm.Space.Read(GuestAddr(dst), got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("copied %x, want %x", got, want)
	}
	if vm.Ctx.Regs.ESI != src+12 || vm.Ctx.Regs.EDI != dst+12 {
		t.Errorf("pointers ESI=%08x EDI=%08x", vm.Ctx.Regs.ESI, vm.Ctx.Regs.EDI)
	}
}

func TestMovsbRespectsDirectionFlag(t *testing.T) {
	vm := testVM(t)
	src := testStackTop - 0x2000
	dst := testStackTop - 0x1000
	vm.Space.WriteU8(GuestAddr(src), 0x55)
	vm.Ctx.Regs.ESI = src
	vm.Ctx.Regs.EDI = dst
	loadCode(t, vm, []byte{
		0xFD, // std
		0xA4, // movsb
	})
	stepN(t, vm, 2)
	if vm.Ctx.Regs.ESI != src-1 || vm.Ctx.Regs.EDI != dst-1 {
		t.Errorf("DF=1 should decrement: ESI=%08x EDI=%08x", vm.Ctx.Regs.ESI, vm.Ctx.Regs.EDI)
	}
	v, _ := vm.Space.ReadU8(GuestAddr(dst))
	if v != 0x55 {
		t.Errorf("byte not copied: %02x", v)
	}
}

func TestRepneScasbFindsByte(t *testing.T) {
	vm := testVM(t)
	base := testStackTop - 0x1000
	vm.Space.Write(GuestAddr(base), []byte{'h', 'a', 'i', 'k', 'u', 0})
	vm.Ctx.Regs.EDI = base
	vm.Ctx.Regs.EAX = 0 // scan for NUL
	vm.Ctx.Regs.ECX = 0xFFFFFFFF
	loadCode(t, vm, []byte{0xF2, 0xAE}) // repne scasb
	stepN(t, vm, 1)
	// EDI stops one past the NUL at base+5.
	if vm.Ctx.Regs.EDI != base+6 {
		t.Errorf("EDI = %08x, want %08x", vm.Ctx.Regs.EDI, base+6)
	}
	if !vm.Ctx.Regs.Flag(FlagZF) {
		t.Error("ZF should be set when the byte is found")
	}
	if vm.Ctx.Regs.ECX != 0xFFFFFFFF-6 {
		t.Errorf("ECX = %08x", vm.Ctx.Regs.ECX)
	}
}

func TestLodsd(t *testing.T) {
	vm := testVM(t)
	src := testStackTop - 0x800
	vm.Space.WriteU32(GuestAddr(src), 0x12345678)
	vm.Ctx.Regs.ESI = src
	loadCode(t, vm, []byte{0xAD}) // lodsd
	stepN(t, vm, 1)
	if vm.Ctx.Regs.EAX != 0x12345678 {
		t.Errorf("EAX = %08x", vm.Ctx.Regs.EAX)
	}
	if vm.Ctx.Regs.ESI != src+4 {
		t.Errorf("ESI = %08x", vm.Ctx.Regs.ESI)
	}
}
