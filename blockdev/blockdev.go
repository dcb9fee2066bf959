// Package blockdev implements a block store in bus memory whose
// reads and writes are copied by DMA.
package blockdev

import (
	"context"
	"errors"
	"fmt"

	"xdmac.dev/cache"
	"xdmac.dev/dma"
	"xdmac.dev/driver/xdmac"
	"xdmac.dev/transfer"
)

var (
	ErrBusy  = errors.New("blockdev: no DMA channel available")
	ErrRange = errors.New("blockdev: request out of range")

	errAborted = errors.New("blockdev: transfer aborted")
)

// Device is a store of Blocks blocks of BlockSize bytes at bus
// address Base.
type Device struct {
	DMA *dma.Registry
	// Cache is maintained around transfers if not nil.
	Cache     cache.Maintainer
	Base      uint32
	BlockSize uint32
	Blocks    uint32
	Priority  uint8
}

// wordSize is the transfer element size.
const wordSize = 4

// ReadBlocks copies n blocks starting at lba to the buffer at bus
// address buf.
func (d *Device) ReadBlocks(ctx context.Context, lba, buf, n uint32) error {
	addr, words, err := d.locate(lba, buf, n)
	if err != nil || words == 0 {
		return err
	}
	return d.copy(ctx, addr, buf, words)
}

// WriteBlocks copies n blocks from the buffer at bus address buf to
// the store starting at lba.
func (d *Device) WriteBlocks(ctx context.Context, lba, buf, n uint32) error {
	addr, words, err := d.locate(lba, buf, n)
	if err != nil || words == 0 {
		return err
	}
	return d.copy(ctx, buf, addr, words)
}

func (d *Device) locate(lba, buf, n uint32) (addr, words uint32, err error) {
	if d.BlockSize == 0 || d.BlockSize%wordSize != 0 {
		return 0, 0, fmt.Errorf("blockdev: invalid block size %d", d.BlockSize)
	}
	if buf%wordSize != 0 {
		return 0, 0, fmt.Errorf("blockdev: unaligned buffer %#x", buf)
	}
	if uint64(lba)+uint64(n) > uint64(d.Blocks) {
		return 0, 0, fmt.Errorf("blockdev: blocks %d+%d of %d: %w", lba, n, d.Blocks, ErrRange)
	}
	// Transfer lengths and both address ranges must stay within the
	// 32-bit bus.
	const bus = 1 << 32
	bytes := uint64(n) * uint64(d.BlockSize)
	start := uint64(d.Base) + uint64(lba)*uint64(d.BlockSize)
	if bytes >= bus || start+bytes > bus || uint64(buf)+bytes > bus {
		return 0, 0, fmt.Errorf("blockdev: %d blocks at %d: %w", n, lba, ErrRange)
	}
	return uint32(start), uint32(bytes / wordSize), nil
}

// channel is the part of the registry API used to program a
// transfer, both from the caller and from the completion callback.
type channel interface {
	SetSource(h dma.Handle, addr uint32) error
	SetDestination(h dma.Handle, addr uint32) error
	SetTransferSize(h dma.Handle, n uint32) error
	Enable(h dma.Handle) error
}

type request struct {
	h        dma.Handle
	lim      transfer.Limits
	src, dst uint32
	// left counts the words not yet programmed.
	left uint32
	done chan error
}

func (d *Device) copy(ctx context.Context, src, dst, words uint32) error {
	n := words * wordSize
	if d.Cache != nil {
		d.Cache.CleanRegion(src, n)
		d.Cache.InvalidateRegion(dst, n)
	}
	req := &request{
		lim:  d.DMA.Limits(),
		src:  src,
		dst:  dst,
		left: words,
		done: make(chan error, 1),
	}
	h, ok := d.DMA.Allocate(d.Priority, req.complete)
	if !ok {
		return ErrBusy
	}
	req.h = h
	err := d.DMA.Configure(h, xdmac.Config{
		SoftwareRequest: true,
		Width:           xdmac.Word,
		Source:          xdmac.Incremented,
		Dest:            xdmac.Incremented,
	})
	if err == nil {
		// Complete on the last microblock, not on every block.
		err = d.DMA.EnableInterrupts(h, xdmac.LastMicroblock|xdmac.BusErrors)
	}
	if err == nil {
		err = req.next(d.DMA)
	}
	if err != nil {
		d.DMA.Release(h)
		return err
	}
	select {
	case err = <-req.done:
	case <-ctx.Done():
		if d.DMA.Abort(h) {
			return ctx.Err()
		}
		// Lost the race with completion.
		err = <-req.done
	}
	if err == nil && d.Cache != nil {
		d.Cache.InvalidateRegion(dst, n)
	}
	return err
}

// next programs and starts the following chunk: all that is left if
// it can be expressed in one programming, else one maximal
// microblock.
//
// The request belongs to the completion callback once the channel is
// enabled, so Enable is the last access.
func (r *request) next(c channel) error {
	chunk := r.left
	if _, err := transfer.Split(chunk, r.lim); err != nil {
		chunk = min(r.left, r.lim.MaxMicroblock)
	}
	if err := c.SetSource(r.h, r.src); err != nil {
		return err
	}
	if err := c.SetDestination(r.h, r.dst); err != nil {
		return err
	}
	if err := c.SetTransferSize(r.h, chunk); err != nil {
		return err
	}
	r.src += chunk * wordSize
	r.dst += chunk * wordSize
	r.left -= chunk
	return c.Enable(r.h)
}

func (r *request) complete(isr dma.ISR, flags xdmac.Flags) {
	err := flags.Err()
	if err == nil && flags&xdmac.Disabled != 0 {
		err = errAborted
	}
	if err == nil && r.left > 0 {
		if err = r.next(isr); err == nil {
			return
		}
	}
	isr.Release(r.h)
	r.done <- err
}
