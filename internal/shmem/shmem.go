// Package shmem maps the shared-memory window each device model exchanges
// request payloads through. On a real deployment the window is a physical
// region handed out by the hypervisor and reached through /dev/mem; the
// anonymous variant backs tests and the loopback daemon mode.
package shmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is one mapped shared-memory window.
type Region struct {
	base uint64
	data []byte
	fd   int
}

// Map maps size bytes of physical memory starting at base.
func Map(base, size uint64) (*Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("shmem: zero-sized region at %#x", base)
	}
	fd, err := unix.Open("/dev/mem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("shmem: open /dev/mem: %w", err)
	}
	data, err := unix.Mmap(fd, int64(base), int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmem: mmap %#x+%#x: %w", base, size, err)
	}
	return &Region{base: base, data: data, fd: fd}, nil
}

// MapAnonymous maps size bytes of zeroed private memory, pretending it
// lives at base.
func MapAnonymous(base, size uint64) (*Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("shmem: zero-sized region at %#x", base)
	}
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("shmem: anonymous mmap %#x: %w", size, err)
	}
	return &Region{base: base, data: data, fd: -1}, nil
}

// Base returns the region's guest-physical base address.
func (r *Region) Base() uint64 { return r.base }

// Size returns the mapped length in bytes.
func (r *Region) Size() uint64 { return uint64(len(r.data)) }

// Bytes returns the mapped window. The slice is invalid after Unmap.
func (r *Region) Bytes() []byte { return r.data }

// Unmap releases the mapping. The Region must not be used afterwards.
func (r *Region) Unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if r.fd >= 0 {
		if cerr := unix.Close(r.fd); err == nil {
			err = cerr
		}
		r.fd = -1
	}
	if err != nil {
		return fmt.Errorf("shmem: unmap %#x: %w", r.base, err)
	}
	return nil
}
