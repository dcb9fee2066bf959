// Package cache describes data cache maintenance around DMA
// transfers.
package cache

import "sync"

// Maintainer performs data cache maintenance on physical address
// ranges. Implementations operate on whole lines; see [Lines].
type Maintainer interface {
	// CleanRegion writes dirty lines back to memory before a device
	// reads the region.
	CleanRegion(addr, n uint32)
	// InvalidateRegion discards cached lines after a device wrote
	// the region.
	InvalidateRegion(addr, n uint32)
}

// Lines returns the range of whole cache lines covering n bytes at
// addr. The line size must be a power of two.
func Lines(addr, n, line uint32) (start, size uint32) {
	if n == 0 {
		return addr &^ (line - 1), 0
	}
	start = addr &^ (line - 1)
	end := uint64(addr) + uint64(n) + uint64(line) - 1
	end &^= uint64(line) - 1
	return start, uint32(end - uint64(start))
}

// Op is a recorded maintenance operation.
type Op struct {
	Clean      bool
	Addr, Size uint32
}

// Recorder records line aligned maintenance operations.
type Recorder struct {
	Line uint32

	mu  sync.Mutex
	ops []Op
}

func (r *Recorder) CleanRegion(addr, n uint32) {
	r.record(true, addr, n)
}

func (r *Recorder) InvalidateRegion(addr, n uint32) {
	r.record(false, addr, n)
}

func (r *Recorder) record(clean bool, addr, n uint32) {
	start, size := Lines(addr, n, r.Line)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Clean: clean, Addr: start, Size: size})
}

// Ops returns the recorded operations.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}
