package main

import (
	"bytes"
	"testing"
)

func testSpace(t *testing.T) *AddressSpace {
	t.Helper()
	as := NewAddressSpace(1 << 20)
	if err := as.RegisterMapping(0x1000, 0, 0x1000); err != nil {
		t.Fatalf("map: %v", err)
	}
	return as
}

func TestReadWriteRoundTrip(t *testing.T) {
	as := testSpace(t)
	tests := []struct {
		name string
		addr GuestAddr
		data []byte
	}{
		{"single_byte", 0x1000, []byte{0xAB}},
		{"word", 0x1004, []byte{1, 2, 3, 4}},
		{"span", 0x1100, bytes.Repeat([]byte{0x5A}, 256)},
		{"at_end", 0x1FFC, []byte{9, 8, 7, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := as.Write(tt.addr, tt.data); err != nil {
				t.Fatalf("write: %v", err)
			}
			got := make([]byte, len(tt.data))
			if err := as.Read(tt.addr, got); err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("round trip mismatch: wrote %x, read %x", tt.data, got)
			}
		})
	}
}

func TestStraddlingAccessFailsAtomically(t *testing.T) {
	as := testSpace(t)
	// [0x1000,0x2000) mapped; a read crossing 0x2000 must fail without
	// touching the destination.
	dst := []byte{0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE}
	if err := as.Read(0x1FFC, dst); err == nil {
		t.Fatal("expected straddling read to fail")
	}
	for i, b := range dst {
		if b != 0xEE {
			t.Errorf("byte %d of destination modified on failed read", i)
		}
	}
	if err := as.Write(0x1FFE, []byte{1, 2, 3, 4}); err == nil {
		t.Fatal("expected straddling write to fail")
	}
	var got [2]byte
	if err := as.Read(0x1FFE, got[:]); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got != [2]byte{} {
		t.Errorf("failed write left partial data: %x", got)
	}
}

func TestAdjacentMappingsReadAcross(t *testing.T) {
	as := NewAddressSpace(1 << 20)
	// Two guest-adjacent mappings backed by non-adjacent host ranges.
	if err := as.RegisterMapping(0x1000, 0x0000, 0x1000); err != nil {
		t.Fatal(err)
	}
	if err := as.RegisterMapping(0x2000, 0x8000, 0x1000); err != nil {
		t.Fatal(err)
	}
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := as.Write(0x1FFC, data); err != nil {
		t.Fatalf("write across boundary: %v", err)
	}
	got := make([]byte, 8)
	if err := as.Read(0x1FFC, got); err != nil {
		t.Fatalf("read across boundary: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("cross-mapping round trip: wrote %x, read %x", data, got)
	}
}

func TestOverlappingMappingRejected(t *testing.T) {
	as := testSpace(t)
	if err := as.RegisterMapping(0x1800, 0x4000, 0x1000); err == nil {
		t.Fatal("expected overlap to be rejected")
	}
	if err := as.RegisterMapping(0x2000, 0x4000, 0x1000); err != nil {
		t.Fatalf("adjacent mapping should be fine: %v", err)
	}
}

func TestReadString(t *testing.T) {
	as := testSpace(t)
	if err := as.Write(0x1200, []byte("libroot.so\x00garbage")); err != nil {
		t.Fatal(err)
	}
	s, err := as.ReadString(0x1200, 64)
	if err != nil {
		t.Fatalf("read string: %v", err)
	}
	if s != "libroot.so" {
		t.Errorf("got %q, want %q", s, "libroot.so")
	}
	// Unterminated within cap: capped result, no error.
	s, err = as.ReadString(0x1200, 4)
	if err != nil {
		t.Fatalf("capped read: %v", err)
	}
	if s != "libr" {
		t.Errorf("capped read got %q", s)
	}
	// Unmapped start fails.
	if _, err := as.ReadString(0x9000, 16); err == nil {
		t.Fatal("expected unmapped string read to fail")
	}
}

func TestTranslate(t *testing.T) {
	as := testSpace(t)
	off, ok := as.Translate(0x1234)
	if !ok || off != 0x234 {
		t.Errorf("translate 0x1234 = %v, %v; want 0x234, true", off, ok)
	}
	if _, ok := as.Translate(0x5000); ok {
		t.Error("translate of unmapped address should fail")
	}
}

func TestTypedAccessors(t *testing.T) {
	as := testSpace(t)
	if err := as.WriteU32(0x1010, 0xCAFEBABE); err != nil {
		t.Fatal(err)
	}
	v, err := as.ReadU32(0x1010)
	if err != nil || v != 0xCAFEBABE {
		t.Errorf("ReadU32 = %08x, %v", v, err)
	}
	lo, _ := as.ReadU16(0x1010)
	if lo != 0xBABE {
		t.Errorf("little endian violated: low half %04x", lo)
	}
}
