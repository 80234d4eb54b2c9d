package main

import (
	"math"
	"testing"
)

func TestFPUPushPopRoundTrip(t *testing.T) {
	var f FPU
	f.Init()
	values := []float64{0, 1, -1, 3.141592653589793, 1e300, -2.5}
	for _, v := range values {
		f.Push(v)
		got := f.Pop()
		if got != v {
			t.Errorf("push/pop %v returned %v", v, got)
		}
		if !f.Empty() {
			t.Errorf("stack not empty after balanced push/pop of %v", v)
		}
	}
}

func TestFPUStackOrder(t *testing.T) {
	var f FPU
	f.Init()
	f.Push(1)
	f.Push(2)
	f.Push(3)
	if f.St(0) != 3 || f.St(1) != 2 || f.St(2) != 1 {
		t.Errorf("ST order wrong: %v %v %v", f.St(0), f.St(1), f.St(2))
	}
	if f.Depth() != 3 {
		t.Errorf("depth %d", f.Depth())
	}
}

func TestFPUUnderflowSetsStackFault(t *testing.T) {
	var f FPU
	f.Init()
	v := f.Pop()
	if !math.IsNaN(v) {
		t.Errorf("underflow pop = %v, want NaN poison", v)
	}
	if f.Status()&FPUStatusSF == 0 || f.Status()&FPUStatusES == 0 {
		t.Errorf("status %04x missing SF/ES after underflow", f.Status())
	}
}

func TestFPUCompareConditionCodes(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		c3   bool
		c2   bool
		c0   bool
	}{
		{"less", 1, 2, false, false, true},
		{"equal", 2, 2, true, false, false},
		{"greater", 3, 2, false, false, false},
		{"unordered", math.NaN(), 2, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FPU
			f.Init()
			f.Compare(tt.a, tt.b)
			st := f.Status()
			if (st&FPUStatusC3 != 0) != tt.c3 || (st&FPUStatusC2 != 0) != tt.c2 || (st&FPUStatusC0 != 0) != tt.c0 {
				t.Errorf("status %04x: C3=%v C2=%v C0=%v, want %v %v %v",
					st, st&FPUStatusC3 != 0, st&FPUStatusC2 != 0, st&FPUStatusC0 != 0,
					tt.c3, tt.c2, tt.c0)
			}
		})
	}
}

func TestFPUInitState(t *testing.T) {
	var f FPU
	f.Push(1)
	f.Init()
	if f.Control() != FPUInitControl {
		t.Errorf("control %04x, want %04x", f.Control(), FPUInitControl)
	}
	if f.TagWord() != 0xFFFF {
		t.Errorf("tag word %04x, want FFFF", f.TagWord())
	}
	if f.Status() != 0 {
		t.Errorf("status %04x, want 0", f.Status())
	}
}

func TestFPUSaveRestore(t *testing.T) {
	var f FPU
	f.Init()
	f.Push(2.5)
	f.Push(-7)
	f.Compare(1, 2)
	wantStatus := f.Status()
	image := f.Save()
	if len(image) != fsaveSize {
		t.Fatalf("image size %d", len(image))
	}
	if !f.Empty() {
		t.Error("FSAVE must reinitialise the FPU")
	}
	var g FPU
	g.Init()
	if err := g.Restore(image); err != nil {
		t.Fatal(err)
	}
	if g.Status() != wantStatus {
		t.Errorf("status %04x, want %04x", g.Status(), wantStatus)
	}
	if g.St(0) != -7 || g.St(1) != 2.5 {
		t.Errorf("restored stack %v %v", g.St(0), g.St(1))
	}
}

func TestF80RoundTrip(t *testing.T) {
	values := []float64{0, math.Copysign(0, -1), 1, -1, 0.5, 1e-300, 1e300,
		math.Inf(1), math.Inf(-1), 3.141592653589793}
	var buf [10]byte
	for _, v := range values {
		encodeF80(buf[:], v)
		got := decodeF80(buf[:])
		if math.IsNaN(v) != math.IsNaN(got) ||
			(!math.IsNaN(v) && math.Float64bits(got) != math.Float64bits(v)) {
			t.Errorf("f80 round trip of %v returned %v", v, got)
		}
	}
	encodeF80(buf[:], math.NaN())
	if !math.IsNaN(decodeF80(buf[:])) {
		t.Error("NaN did not survive the f80 round trip")
	}
}

// Scenario: fld1; fstp dword [esp] leaves the 1.0f bit pattern on the stack
// and an empty FPU.
func TestFld1FstpToMemory(t *testing.T) {
	vm := testVM(t)
	loadCode(t, vm, []byte{
		0xD9, 0xE8, // fld1
		0xD9, 0x1C, 0x24, // fstp dword [esp]
	})
	stepN(t, vm, 2)
	v, err := vm.Space.ReadU32(GuestAddr(vm.Ctx.Regs.ESP))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x3F800000 {
		t.Errorf("[esp] = %08x, want 3F800000", v)
	}
	if vm.Ctx.FPU.TagWord() != 0xFFFF {
		t.Errorf("tag word %04x, want FFFF (empty)", vm.Ctx.FPU.TagWord())
	}
}

func TestX87Arithmetic(t *testing.T) {
	vm := testVM(t)
	scratch := testStackTop - 0x100
	if err := vm.Space.WriteU32(GuestAddr(scratch), math.Float32bits(2.5)); err != nil {
		t.Fatal(err)
	}
	vm.Ctx.Regs.EBX = scratch
	loadCode(t, vm, []byte{
		0xD9, 0xE8, // fld1
		0xD8, 0x03, // fadd dword [ebx]
		0xD9, 0x1B, // fstp dword [ebx]
	})
	stepN(t, vm, 3)
	bits, _ := vm.Space.ReadU32(GuestAddr(scratch))
	if got := math.Float32frombits(bits); got != 3.5 {
		t.Errorf("1 + 2.5 = %v, want 3.5", got)
	}
}

func TestFnstswAX(t *testing.T) {
	vm := testVM(t)
	loadCode(t, vm, []byte{
		0xD9, 0xE8, // fld1
		0xD9, 0xE8, // fld1
		0xD8, 0xD9, // fcomp st(1): equal -> C3
		0xDF, 0xE0, // fnstsw ax
	})
	stepN(t, vm, 4)
	if vm.Ctx.Regs.Get16(RegEAX)&FPUStatusC3 == 0 {
		t.Errorf("AX = %04x, C3 not set after equal compare", vm.Ctx.Regs.Get16(RegEAX))
	}
}
