package dio

import "unsafe"

// sliceAddr returns the address of buf's backing array as a uint64, used
// only to compute the padding needed to reach an alignment boundary.
func sliceAddr(buf []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}
