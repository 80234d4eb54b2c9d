// address_types.go - Strongly typed addresses to prevent mixing guest addresses and host offsets
package main

import "fmt"

// GuestAddr is an address in the guest's flat 32-bit virtual space.
// It must never be mixed with host pointers by value; translation to a host
// offset is an explicit operation on the AddressSpace.
type GuestAddr uint32

// HostOffset is an offset into the host-resident backing buffer.
// 64-bit so that arithmetic on a 64-bit host never truncates.
type HostOffset uint64

func (a GuestAddr) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

func (o HostOffset) String() string {
	return fmt.Sprintf("host:0x%x", uint64(o))
}
