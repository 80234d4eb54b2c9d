package main

import "testing"

// Shared builders for the interpreter tests: a VM with a small code page
// and a private stack, well away from the real guest layout.

const (
	testCodeBase  = GuestAddr(0x00001000)
	testCodeSize  = 0x1000
	testStackTop  = uint32(0x00200000)
	testStackSize = 0x10000
)

func testVM(t *testing.T) *VM {
	t.Helper()
	vm := NewVM()
	codeOff, err := vm.Arena.Allocate(testCodeSize, 0)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	if err := vm.Space.RegisterMapping(testCodeBase, codeOff, testCodeSize); err != nil {
		t.Fatalf("map code: %v", err)
	}
	stackOff, err := vm.Arena.Allocate(testStackSize, 0)
	if err != nil {
		t.Fatalf("arena: %v", err)
	}
	if err := vm.Space.RegisterMapping(GuestAddr(testStackTop-testStackSize), stackOff, testStackSize); err != nil {
		t.Fatalf("map stack: %v", err)
	}
	vm.Ctx.Regs.ESP = testStackTop - 16
	vm.MaxInstructions = 10000
	return vm
}

// loadCode writes a program at the code base and points EIP at it.
func loadCode(t *testing.T, vm *VM, code []byte) {
	t.Helper()
	if err := vm.Space.Write(testCodeBase, code); err != nil {
		t.Fatalf("write code: %v", err)
	}
	vm.Ctx.SetEIP(uint32(testCodeBase))
}

// stepN single-steps the interpreter n times, failing on any error or halt.
func stepN(t *testing.T, vm *VM, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		halted, err := vm.Step()
		if err != nil {
			t.Fatalf("step %d: %v\n%s", i, err, vm.Ctx.Regs.Dump())
		}
		if halted {
			t.Fatalf("step %d: unexpected halt", i)
		}
	}
}

func TestVMGracefulExitOnZeroEIP(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.SetEIP(0)
	if err := vm.Run(); err != nil {
		t.Fatalf("expected graceful exit, got %v", err)
	}
}

func TestVMInstructionLimit(t *testing.T) {
	vm := testVM(t)
	loadCode(t, vm, []byte{0xEB, 0xFE}) // jmp $ (spin forever)
	vm.MaxInstructions = 100
	err := vm.Run()
	if err == nil {
		t.Fatal("expected instruction limit error")
	}
}

func TestVMFetchFaultHalts(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.SetEIP(0x00700000) // nothing mapped there
	if err := vm.Run(); err == nil {
		t.Fatal("expected memory fault at EIP")
	}
}
