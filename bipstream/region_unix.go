//go:build unix

package bipstream

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapRegion is a Region backed by a file-mapped shared mmap mapping.
// It gives the compute/host split-process demo (see the compute and
// host binaries) a genuine cross-process shared-memory region instead
// of a heap slice shared only within one process — the literal
// reading of spec.md §1's "shared memory region" for the case where
// compute and host are separate OS processes joined by a unix-socket
// dial rather than goroutines sharing an address space. An anonymous
// mapping (MAP_ANON) cannot serve this role: it is only inheritable
// across fork(), not attachable by a second, independently-dialed
// process, so the mapping here is backed by a real file path instead.
type mmapRegion struct {
	buf  []byte
	path string
}

// NewMmapRegion maps the region file at path, sized headerSize+capacity+1
// bytes, as a shared mapping. capacity > 0 creates (or truncates) the
// file — the creating side of a handshake, which then calls New to
// initialize the header. capacity == 0 attaches to a file another
// process already created — the file's existing size determines the
// mapping size, and the caller uses Attach rather than New so it does
// not re-zero indices the creator may have already advanced.
func NewMmapRegion(path string, capacity int) (Region, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("bipstream: capacity must not be negative, got %d", capacity)
	}

	flags := os.O_RDWR
	if capacity > 0 {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("bipstream: open region file %s: %w", path, err)
	}
	defer f.Close()

	size := headerSize + capacity + 1
	if capacity > 0 {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("bipstream: truncate region file %s: %w", path, err)
		}
	} else {
		fi, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("bipstream: stat region file %s: %w", path, err)
		}
		if fi.Size() <= headerSize {
			return nil, fmt.Errorf("bipstream: region file %s is too small (%d bytes)", path, fi.Size())
		}
		size = int(fi.Size())
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("bipstream: mmap %s: %w", path, err)
	}
	return &mmapRegion{buf: buf, path: path}, nil
}

func (r *mmapRegion) Bytes() []byte { return r.buf }

func (r *mmapRegion) Close() error {
	if r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	return err
}
