// Package board describes the DMA topology of a system: its
// controllers, their register windows and interrupt lines, and the
// limits of their length registers.
package board

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"xdmac.dev/driver/xdmac"
	"xdmac.dev/transfer"
)

type Board struct {
	Name        string       `cbor:"1,keyasint"`
	Controllers []Controller `cbor:"2,keyasint"`
	// MaxMicroblock and MaxBlocks bound the transfer length
	// registers.
	MaxMicroblock uint32 `cbor:"3,keyasint"`
	MaxBlocks     uint32 `cbor:"4,keyasint"`
	// PMCBase is the physical address of the power management
	// controller.
	PMCBase   uint64 `cbor:"5,keyasint"`
	CacheLine uint32 `cbor:"6,keyasint"`
}

type Controller struct {
	// ID is the peripheral identifier, both interrupt source and
	// clock gate.
	ID       uint32 `cbor:"1,keyasint"`
	Base     uint64 `cbor:"2,keyasint"`
	Channels int    `cbor:"3,keyasint"`
	// UIO is the userspace I/O device delivering the controller
	// interrupt on Linux.
	UIO string `cbor:"4,keyasint,omitempty"`
}

// SAMA5D2 is the Microchip SAMA5D2 with both XDMAC instances.
var SAMA5D2 = Board{
	Name: "sama5d2",
	Controllers: []Controller{
		{ID: 6, Base: 0xf0010000, Channels: 16, UIO: "/dev/uio0"},
		{ID: 7, Base: 0xf0004000, Channels: 16, UIO: "/dev/uio1"},
	},
	MaxMicroblock: transfer.XDMAC.MaxMicroblock,
	MaxBlocks:     transfer.XDMAC.MaxBlocks,
	PMCBase:       0xf0014000,
	CacheLine:     32,
}

// Limits returns the transfer length limits of the board.
func (b *Board) Limits() transfer.Limits {
	return transfer.Limits{MaxMicroblock: b.MaxMicroblock, MaxBlocks: b.MaxBlocks}
}

// Channels returns the total channel count.
func (b *Board) Channels() int {
	n := 0
	for _, c := range b.Controllers {
		n += c.Channels
	}
	return n
}

func (b *Board) Validate() error {
	if len(b.Controllers) == 0 {
		return errors.New("board: no controllers")
	}
	ids := make(map[uint32]bool)
	bases := make(map[uint64]bool)
	for i, c := range b.Controllers {
		if c.Channels < 1 || c.Channels > xdmac.MaxChannels {
			return fmt.Errorf("board: controller %d: invalid channel count %d", i, c.Channels)
		}
		if ids[c.ID] {
			return fmt.Errorf("board: controller %d: duplicate id %d", i, c.ID)
		}
		if bases[c.Base] {
			return fmt.Errorf("board: controller %d: duplicate base %#x", i, c.Base)
		}
		ids[c.ID] = true
		bases[c.Base] = true
	}
	if b.MaxMicroblock == 0 || b.MaxBlocks == 0 {
		return errors.New("board: zero transfer limits")
	}
	if l := b.CacheLine; l == 0 || l&(l-1) != 0 {
		return fmt.Errorf("board: cache line %d is not a power of two", l)
	}
	return nil
}

// Encode returns the deterministic CBOR encoding of b.
func (b *Board) Encode() ([]byte, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	data, err := enc.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	return data, nil
}

// Decode parses and validates a CBOR board description. Unknown
// fields are rejected.
func Decode(data []byte) (*Board, error) {
	mode, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("board: failed to initialize decoder: %w", err)
	}
	b := new(Board)
	if err := mode.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
