//go:build !unix

package bipstream

import "fmt"

// NewMmapRegion is unavailable off unix: it always returns an error,
// so the host demo binary cannot allocate its shared region there.
// NewHeapRegion still works for single-process use. Platform split
// mirrors the teacher's own
// generic/rawcopy_unix.go vs generic/rawcopy_windows.go.
func NewMmapRegion(path string, capacity int) (Region, error) {
	return nil, fmt.Errorf("bipstream: mmap-backed regions are not supported on this platform (path=%s, capacity=%d)", path, capacity)
}
