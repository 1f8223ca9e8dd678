//go:build !linux

package dio

import "os"

// openDirect falls back to a plain open on platforms without O_DIRECT
// (spec.md treats direct I/O as the Linux-specific mechanism it is; other
// platforms still get correct, just not bypass-page-cache, reads).
func openDirect(name string, alignmentBytes int) (File, error) {
	return OpenPlain(name, alignmentBytes)
}

// PageSize returns the platform's memory page size.
func PageSize() int {
	return os.Getpagesize()
}
