// Package mmio abstracts access to memory-mapped peripheral
// registers.
package mmio

import "sync"

// Bus reads and writes 32-bit registers at byte offsets from the
// base of a register block.
type Bus interface {
	Load(off uint32) uint32
	Store(off uint32, v uint32)
}

// File is a plain register file with no side effects. The zero
// value is ready to use.
type File struct {
	mu   sync.Mutex
	regs map[uint32]uint32
	// Writes records every store in order.
	Writes []Write
}

// Write is a recorded store.
type Write struct {
	Off, Val uint32
}

func (f *File) Load(off uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[off]
}

func (f *File) Store(off uint32, v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.regs == nil {
		f.regs = make(map[uint32]uint32)
	}
	f.regs[off] = v
	f.Writes = append(f.Writes, Write{off, v})
}
