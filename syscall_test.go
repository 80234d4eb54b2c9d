package main

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestFDTableAllocation(t *testing.T) {
	fds := NewFDTable()
	for guest := int32(0); guest <= 2; guest++ {
		host, ok := fds.Host(guest)
		if !ok || host != int(guest) {
			t.Errorf("standard fd %d -> %d, %v", guest, host, ok)
		}
	}
	g1, err := fds.Register(10)
	if err != nil || g1 != 3 {
		t.Errorf("first allocation = %d (%v), want 3", g1, err)
	}
	g2, _ := fds.Register(11)
	if g2 != 4 {
		t.Errorf("second allocation = %d, want 4", g2)
	}
	// Closing frees the lowest slot for reuse.
	if host, ok := fds.Close(3); !ok || host != 10 {
		t.Errorf("close returned %d, %v", host, ok)
	}
	g3, _ := fds.Register(12)
	if g3 != 3 {
		t.Errorf("reused slot = %d, want 3", g3)
	}
}

func TestTranslateOpenFlags(t *testing.T) {
	tests := []struct {
		name  string
		guest uint32
		want  int
	}{
		{"rdonly", 0, unix.O_RDONLY},
		{"wronly", 1, unix.O_WRONLY},
		{"rdwr", 2, unix.O_RDWR},
		{"creat_trunc", 2 | guestOCreat | guestOTrunc, unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC},
		{"append", 1 | guestOAppend, unix.O_WRONLY | unix.O_APPEND},
		{"excl", 1 | guestOCreat | guestOExcl, unix.O_WRONLY | unix.O_CREAT | unix.O_EXCL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := translateOpenFlags(tt.guest); got != tt.want {
				t.Errorf("flags %x -> %x, want %x", tt.guest, got, tt.want)
			}
		})
	}
}

func TestSyscallExit(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = sysExit
	vm.Ctx.Regs.EBX = 5
	vm.Dispatcher.Dispatch()
	if !vm.Ctx.ShouldExit {
		t.Fatal("exit flag not set")
	}
	if vm.Ctx.ExitStatus != 5 {
		t.Errorf("exit status %d", vm.Ctx.ExitStatus)
	}
	if vm.Ctx.Regs.EAX != 0 {
		t.Errorf("EAX = %d, want 0", vm.Ctx.Regs.EAX)
	}
}

func TestSyscallUnknownReturnsSuccess(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = 499
	vm.Dispatcher.Dispatch()
	if vm.Ctx.Regs.EAX != 0 {
		t.Errorf("unknown syscall returned %d", int32(vm.Ctx.Regs.EAX))
	}
	if vm.Ctx.ShouldExit {
		t.Error("unknown syscall must not stop the guest")
	}
}

func TestSyscallWriteThroughPipe(t *testing.T) {
	vm := testVM(t)
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])
	guestFd, err := vm.Dispatcher.fds.Register(p[1])
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hello from the guest\n")
	bufAddr := GuestAddr(testStackTop - 0x400)
	if err := vm.Space.Write(bufAddr, msg); err != nil {
		t.Fatal(err)
	}
	vm.Ctx.Regs.EAX = sysWrite
	vm.Ctx.Regs.EBX = uint32(guestFd)
	vm.Ctx.Regs.ECX = uint32(bufAddr)
	vm.Ctx.Regs.EDX = uint32(len(msg))
	vm.Dispatcher.Dispatch()
	if int32(vm.Ctx.Regs.EAX) != int32(len(msg)) {
		t.Fatalf("write returned %d", int32(vm.Ctx.Regs.EAX))
	}
	got := make([]byte, 64)
	n, err := unix.Read(p[0], got)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[:n]) != string(msg) {
		t.Errorf("pipe read %q", got[:n])
	}
}

func TestSyscallReadBadFd(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = sysRead
	vm.Ctx.Regs.EBX = 99
	vm.Ctx.Regs.ECX = uint32(testStackTop - 0x400)
	vm.Ctx.Regs.EDX = 16
	vm.Dispatcher.Dispatch()
	if int32(vm.Ctx.Regs.EAX) != -int32(unix.EBADF) {
		t.Errorf("read on bad fd returned %d, want %d", int32(vm.Ctx.Regs.EAX), -int32(unix.EBADF))
	}
}

func TestSyscallWriteBadPointer(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = sysWrite
	vm.Ctx.Regs.EBX = 1
	vm.Ctx.Regs.ECX = 0x00900000 // unmapped
	vm.Ctx.Regs.EDX = 16
	vm.Dispatcher.Dispatch()
	if int32(vm.Ctx.Regs.EAX) != -int32(unix.EFAULT) {
		t.Errorf("write with bad pointer returned %d", int32(vm.Ctx.Regs.EAX))
	}
}

func TestSyscallBrk(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = sysBrk
	vm.Ctx.Regs.EBX = 0
	vm.Dispatcher.Dispatch()
	base := vm.Ctx.Regs.EAX
	if base == 0 {
		t.Fatal("brk(0) returned 0")
	}
	// Grow the break and confirm the region is writable guest memory.
	vm.Ctx.Regs.EAX = sysBrk
	vm.Ctx.Regs.EBX = base + 0x2000
	vm.Dispatcher.Dispatch()
	if vm.Ctx.Regs.EAX != base+0x2000 {
		t.Fatalf("brk grow returned %08x", vm.Ctx.Regs.EAX)
	}
	if err := vm.Space.WriteU32(GuestAddr(base), 0xFEEDFACE); err != nil {
		t.Errorf("heap not writable: %v", err)
	}
}

func TestSyscallGetpid(t *testing.T) {
	vm := testVM(t)
	vm.Ctx.Regs.EAX = sysGetpid
	vm.Dispatcher.Dispatch()
	if int32(vm.Ctx.Regs.EAX) != int32(unix.Getpid()) {
		t.Errorf("getpid = %d, want %d", int32(vm.Ctx.Regs.EAX), unix.Getpid())
	}
}
