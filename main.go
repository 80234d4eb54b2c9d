// Completion: 100% - CLI interface complete, all flags working
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
)

// A userland VM that runs unmodified Haiku x86-32 ELF binaries on a 64-bit
// POSIX host: loads the executable and its bundled libraries, links them in
// guest memory and interprets the machine code, forwarding syscalls.

const versionString = "uvm32 1.0.0"

func main() {
	// NOTE: Go's flag package stops parsing at the first non-flag
	// argument, so flags must come BEFORE the guest binary:
	// uvm32 -v program.elf arg1 arg2
	var verbose = flag.Bool("v", false, "verbose mode (show loader, linker and syscall diagnostics)")
	var verboseLong = flag.Bool("verbose", false, "verbose mode (show loader, linker and syscall diagnostics)")
	var strict = flag.Bool("strict", false, "halt on any unsupported opcode instead of skipping")
	var quiet = flag.Bool("q", false, "quiet mode (suppress warnings)")
	var sysroot = flag.String("sysroot", "", "directory holding the guest shared libraries")
	var logfile = flag.String("logfile", env.Str("UVM32_LOG"), "redirect diagnostics to a file instead of stderr")
	var limit = flag.Uint64("limit", DefaultInstructionLimit, "instruction budget, 0 for unlimited")
	var versionShort = flag.Bool("V", false, "print version information and exit")
	var version = flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version || *versionShort {
		fmt.Println(versionString)
		os.Exit(0)
	}

	// Flags win over the environment defaults.
	VerboseMode = VerboseMode || *verbose || *verboseLong
	StrictMode = StrictMode || *strict
	QuietMode = *quiet
	SysrootFlag = *sysroot

	if err := SetDebugSink(*logfile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: uvm32 [flags] program.elf [args...]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	status, err := run(args[0], args, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uvm32: %v\n", err)
		os.Exit(1)
	}
	os.Exit(status)
}

// run loads and executes one guest program, returning its exit status.
func run(path string, argv []string, limit uint64) (int, error) {
	vm := NewVM()
	vm.MaxInstructions = limit

	if err := vm.Load(path, argv, os.Environ()); err != nil {
		return 0, fmt.Errorf("could not load %s: %w", path, err)
	}
	debugf("main", "starting at eip=0x%08x esp=0x%08x", vm.Ctx.Regs.EIP, vm.Ctx.Regs.ESP)

	if err := vm.Run(); err != nil {
		if errors.Is(err, ErrGuestExit) {
			return int(vm.Ctx.ExitStatus), nil
		}
		return 0, err
	}
	return int(vm.Ctx.ExitStatus), nil
}
