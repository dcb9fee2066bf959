// Package transfer decomposes DMA transfer lengths into the
// microblock and block counts accepted by the XDMAC length
// registers.
package transfer

import (
	"errors"
	"fmt"
)

// Limits describes the width of the length registers.
type Limits struct {
	// MaxMicroblock is the largest number of elements a single
	// microblock can move.
	MaxMicroblock uint32
	// MaxBlocks is the largest number of microblocks in a block
	// transfer.
	MaxBlocks uint32
}

// XDMAC are the limits of the SAMA5D2 XDMAC: a 24-bit UBLEN
// field and a 12-bit BLEN field holding blen-1.
var XDMAC = Limits{
	MaxMicroblock: 0xffffff,
	MaxBlocks:     1 << 12,
}

// Size is a decomposed transfer length.
type Size struct {
	Microblock uint32
	Blocks     uint32
}

// ErrUnsupported is returned for lengths that cannot be
// expressed in a single channel programming.
var ErrUnsupported = errors.New("unsupported DMA transfer size")

// Elements returns the number of elements moved.
func (s Size) Elements() uint64 {
	return uint64(s.Microblock) * uint64(s.Blocks)
}

// Max returns the largest length that may be expressible.
func (l Limits) Max() uint64 {
	return uint64(l.MaxMicroblock) * uint64(l.MaxBlocks)
}

func (l Limits) valid() bool {
	return l.MaxMicroblock > 0 && l.MaxBlocks > 0
}

// Split decomposes n elements into a microblock length and a block
// count whose product is n. Lengths up to MaxMicroblock use a single
// microblock. Longer lengths are split by trying microblock lengths
// MaxMicroblock/i for ascending i and picking the first that divides
// n into at most MaxBlocks microblocks. The search order is fixed, so
// the result for a given n never changes.
func Split(n uint32, lim Limits) (Size, error) {
	if !lim.valid() {
		return Size{}, fmt.Errorf("transfer: invalid limits %+v", lim)
	}
	if n == 0 {
		return Size{}, fmt.Errorf("transfer: zero length: %w", ErrUnsupported)
	}
	if n <= lim.MaxMicroblock {
		return Size{Microblock: n, Blocks: 1}, nil
	}
	if uint64(n) > lim.Max() {
		return Size{}, fmt.Errorf("transfer: length %d: %w", n, ErrUnsupported)
	}
	for i := uint32(1); i <= lim.MaxMicroblock; i++ {
		div := lim.MaxMicroblock / i
		blocks := n / div
		if blocks > lim.MaxBlocks {
			// div never grows with i, so neither does the
			// chance of fitting.
			break
		}
		if n%div != 0 {
			continue
		}
		return Size{Microblock: div, Blocks: blocks}, nil
	}
	return Size{}, fmt.Errorf("transfer: length %d: %w", n, ErrUnsupported)
}
