//go:build linux

package mmio

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/host/v3/pmem"
)

// Region is a register block mapped from physical memory.
type Region struct {
	view  *pmem.View
	words []uint32
}

// Map maps size bytes of physical memory at base. It requires
// access to /dev/mem.
func Map(base uint64, size int) (*Region, error) {
	if base%4 != 0 || size%4 != 0 {
		return nil, fmt.Errorf("mmio: unaligned region %#x+%#x", base, size)
	}
	v, err := pmem.Map(base, size)
	if err != nil {
		return nil, fmt.Errorf("mmio: %#x: %w", base, err)
	}
	return &Region{view: v, words: v.Uint32()}, nil
}

// Load reads the register at off. Atomic access keeps the compiler
// from merging or eliding device accesses.
func (r *Region) Load(off uint32) uint32 {
	return atomic.LoadUint32(&r.words[off/4])
}

func (r *Region) Store(off uint32, v uint32) {
	atomic.StoreUint32(&r.words[off/4], v)
}

// PhysAddr returns the physical base address of the region.
func (r *Region) PhysAddr() uint64 {
	return r.view.PhysAddr()
}

func (r *Region) Close() error {
	return r.view.Close()
}
