// Completion: 100% - Debug sink and global modes complete
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/xyproto/env/v2"
)

// Global modes, settable by flags and by environment variables.
// Flags win over the environment.
var (
	VerboseMode = env.Bool("UVM32_VERBOSE")
	StrictMode  = env.Bool("UVM32_STRICT")
	QuietMode   bool
)

// debugSink is where all diagnostic output goes. Defaults to stderr,
// redirectable with -logfile or UVM32_LOG.
var debugSink io.Writer = os.Stderr

// SetDebugSink redirects diagnostics to the given file. An empty path keeps
// the current sink.
func SetDebugSink(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("could not open log file %s: %w", path, err)
	}
	debugSink = f
	return nil
}

// debugf prints a diagnostic line when VerboseMode is enabled.
// The component tag goes first: debugf("loader", "mapped segment ...").
func debugf(component, format string, args ...interface{}) {
	if !VerboseMode {
		return
	}
	fmt.Fprintf(debugSink, "[%s] "+format+"\n", append([]interface{}{component}, args...)...)
}

// warnf prints regardless of VerboseMode. Used for diagnostics the user
// should see even in quiet runs: unresolved symbols, skipped relocations,
// unknown syscall numbers.
func warnf(component, format string, args ...interface{}) {
	if QuietMode {
		return
	}
	fmt.Fprintf(debugSink, "[%s] "+format+"\n", append([]interface{}{component}, args...)...)
}
