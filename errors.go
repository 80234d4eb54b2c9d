// Completion: 100% - Error handling complete, closed taxonomy
package main

import (
	"errors"
	"fmt"
)

// The VM uses a small closed set of error categories. Everything that can go
// wrong is one of these, possibly wrapped with context via fmt.Errorf("%w").
var (
	// ErrBadInput covers malformed ELF images, bad parameters and
	// out-of-range integers handed to the VM.
	ErrBadInput = errors.New("bad input")

	// ErrUnmapped is a guest access to an address with no mapping.
	// Fatal for the current instruction.
	ErrUnmapped = errors.New("unmapped guest address")

	// ErrUnsupported marks an opcode or relocation type the VM chooses
	// not to implement. The interpreter skips conservatively and continues.
	ErrUnsupported = errors.New("unsupported")

	// ErrIoError is a host-side failure inside the syscall dispatcher.
	ErrIoError = errors.New("host i/o error")

	// ErrResourceExhausted: allocator ceiling hit or fd table full.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrGuestExit is not an error: the guest requested termination.
	// The interpreter observes it and shuts down cleanly.
	ErrGuestExit = errors.New("guest exit")

	// ErrInstructionLimit is raised when the per-run instruction budget
	// is exceeded. A liveness escape hatch for runaway guests.
	ErrInstructionLimit = errors.New("instruction limit exceeded")
)

// faultf wraps a category error with a formatted message.
func faultf(category error, format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, category)...)
}
