// Package xdmac implements register access for the Microchip
// SAMA5 extensible DMA controller (XDMAC).
package xdmac

import (
	"xdmac.dev/driver/mmio"
)

// MaxChannels is the number of channels covered by the global
// registers.
const MaxChannels = 16

// Global register offsets.
const (
	regGTYPE = 0x00
	regGCFG  = 0x04
	regGWAC  = 0x08
	regGIE   = 0x0c
	regGID   = 0x10
	regGIM   = 0x14
	regGIS   = 0x18
	regGE    = 0x1c
	regGD    = 0x20
	regGS    = 0x24
	regGRS   = 0x28
	regGWS   = 0x2c
	regGRWS  = 0x30
	regGRWR  = 0x34
	regGSWR  = 0x38
	regGSWS  = 0x3c
	regGSWF  = 0x40
)

// Channel register offsets, relative to the channel block.
const (
	chanBase   = 0x50
	chanStride = 0x40

	regCIE  = 0x00
	regCID  = 0x04
	regCIM  = 0x08
	regCIS  = 0x0c
	regCSA  = 0x10
	regCDA  = 0x14
	regCNDA = 0x18
	regCNDC = 0x1c
	regCUBC = 0x20
	regCBC  = 0x24
	regCC   = 0x28
)

// Size is the size of the register window of one controller.
const Size = chanBase + MaxChannels*chanStride

const (
	ublenMask   = 0xffffff
	blenMask    = 0xfff
	gtypeNBChan = 0b11111
)

// Controller drives the registers of one XDMAC instance.
type Controller struct {
	bus mmio.Bus
}

func New(bus mmio.Bus) *Controller {
	return &Controller{bus: bus}
}

func chanReg(ch int, reg uint32) uint32 {
	return chanBase + uint32(ch)*chanStride + reg
}

// NumChannels reports the channel count from the GTYPE register.
func (c *Controller) NumChannels() int {
	return int(c.bus.Load(regGTYPE)&gtypeNBChan) + 1
}

// GlobalInterruptStatus returns the GIS register, one bit per
// channel with an enabled interrupt pending.
func (c *Controller) GlobalInterruptStatus() uint32 {
	return c.bus.Load(regGIS)
}

// EnableGlobalInterrupt routes the channel's interrupts to the
// controller interrupt line.
func (c *Controller) EnableGlobalInterrupt(ch int) {
	c.bus.Store(regGIE, 0b1<<ch)
}

func (c *Controller) DisableGlobalInterrupt(ch int) {
	c.bus.Store(regGID, 0b1<<ch)
}

// ChannelInterruptStatus reads and thereby clears the latched
// interrupt status of a channel.
func (c *Controller) ChannelInterruptStatus(ch int) Flags {
	return Flags(c.bus.Load(chanReg(ch, regCIS)))
}

// ChannelInterruptMask returns the enabled interrupt sources of a
// channel.
func (c *Controller) ChannelInterruptMask(ch int) Flags {
	return Flags(c.bus.Load(chanReg(ch, regCIM)))
}

func (c *Controller) EnableChannelInterrupts(ch int, f Flags) {
	c.bus.Store(chanReg(ch, regCIE), uint32(f&AllFlags))
}

func (c *Controller) DisableChannelInterrupts(ch int, f Flags) {
	c.bus.Store(chanReg(ch, regCID), uint32(f&AllFlags))
}

// EnableChannel starts the programmed transfer.
func (c *Controller) EnableChannel(ch int) {
	c.bus.Store(regGE, 0b1<<ch)
}

// DisableChannel aborts any transfer in flight and waits for the
// channel to stop.
func (c *Controller) DisableChannel(ch int) {
	c.bus.Store(regGD, 0b1<<ch)
	for c.Busy(ch) {
	}
}

// Busy reports whether the channel is enabled.
func (c *Controller) Busy(ch int) bool {
	return c.bus.Load(regGS)&(0b1<<ch) != 0
}

func (c *Controller) SetSource(ch int, addr uint32) {
	c.bus.Store(chanReg(ch, regCSA), addr)
}

func (c *Controller) SetDestination(ch int, addr uint32) {
	c.bus.Store(chanReg(ch, regCDA), addr)
}

// SetMicroblockLength sets the number of data elements in a
// microblock.
func (c *Controller) SetMicroblockLength(ch int, n uint32) {
	c.bus.Store(chanReg(ch, regCUBC), n&ublenMask)
}

// SetBlockLength sets the number of microblocks in a block. The
// register holds the count minus one.
func (c *Controller) SetBlockLength(ch int, blocks uint32) {
	c.bus.Store(chanReg(ch, regCBC), (blocks-1)&blenMask)
}

// Configure writes a channel configuration.
func (c *Controller) Configure(ch int, conf Config) {
	c.bus.Store(chanReg(ch, regCC), conf.Encode())
	// Linked list descriptors are not used.
	c.bus.Store(chanReg(ch, regCNDC), 0)
}
