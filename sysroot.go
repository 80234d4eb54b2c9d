// Completion: 100% - Sysroot library lookup complete
package main

import (
	"os"
	"path/filepath"

	"github.com/xyproto/env/v2"
)

// SysrootFlag is the -sysroot value; empty means use the environment or the
// built-in defaults.
var SysrootFlag string

// librarySearchPaths returns the ordered directory chain used to resolve
// DT_NEEDED names. The -sysroot flag wins, then UVM32_SYSROOT, then the
// conventional locations next to the working directory.
func librarySearchPaths() []string {
	var paths []string
	if SysrootFlag != "" {
		paths = append(paths, filepath.Join(SysrootFlag, "lib"), SysrootFlag)
	}
	if dir := env.Str("UVM32_SYSROOT"); dir != "" {
		paths = append(paths, filepath.Join(dir, "lib"), dir)
	}
	paths = append(paths,
		filepath.Join(".", "sysroot", "haiku32", "lib"),
		filepath.Join(".", "lib"),
	)
	return paths
}

// FindLibrary locates a shared library by DT_NEEDED name. Opening succeeds
// with the exact name or with a ".0" suffix appended, matching how Haiku
// packages version their sonames.
func FindLibrary(name string) (string, bool) {
	for _, dir := range librarySearchPaths() {
		for _, candidate := range []string{name, name + ".0"} {
			path := filepath.Join(dir, candidate)
			if st, err := os.Stat(path); err == nil && !st.IsDir() {
				debugf("sysroot", "resolved %s -> %s", name, path)
				return path, true
			}
		}
	}
	debugf("sysroot", "library %s not found in %v", name, librarySearchPaths())
	return "", false
}
