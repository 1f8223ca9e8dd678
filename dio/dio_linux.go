//go:build linux

package dio

import (
	"golang.org/x/sys/unix"
)

// openDirect opens name read-only with O_DIRECT, per spec.md §6 ("the file
// must be opened with direct-I/O semantics"). Reads must then be aligned
// to the platform's direct-I/O alignment (alignmentBytes) both in offset
// and in buffer address, which is why the load engine only ever reads
// into buffers obtained from AlignedBuffer.
func openDirect(name string, alignmentBytes int) (File, error) {
	fd, err := unix.Open(name, unix.O_RDONLY|unix.O_DIRECT, 0)
	if err != nil {
		return nil, err
	}
	return &directFile{fd: fd}, nil
}

type directFile struct {
	fd int
}

func (d *directFile) ReadAt(buf []byte, offset int64) (int, error) {
	return unix.Pread(d.fd, buf, offset)
}

func (d *directFile) Close() error {
	return unix.Close(d.fd)
}

// PageSize returns the platform's memory page size, used as the default
// host-buffer alignment (spec.md invariant 8).
func PageSize() int {
	return unix.Getpagesize()
}
