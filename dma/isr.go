package dma

import (
	"fmt"
	"time"

	"xdmac.dev/driver/xdmac"
	"xdmac.dev/transfer"
)

// ISR operates on the registry from a running callback, where the
// registry lock is already held. An ISR is only valid for the
// duration of the callback it is passed to.
type ISR struct {
	r *Registry
}

// Allocate is like [Registry.Allocate].
func (isr ISR) Allocate(prio uint8, cb Callback) (Handle, bool) {
	r := isr.r
	if !r.init {
		panic("dma: Allocate before Init")
	}
	for i := range r.chans {
		c := &r.chans[i]
		if c.state != free {
			continue
		}
		c.state = allocated
		c.gen++
		if c.gen == 0 {
			c.gen = 1
		}
		c.cb = cb
		c.since = r.now()
		ctl := c.ctl
		ctl.allocated++
		if ctl.allocated == 1 {
			r.clk.EnableClock(ctl.ID)
		}
		regs := ctl.Regs
		// Drop status latched during a previous allocation.
		regs.ChannelInterruptStatus(c.num)
		regs.EnableChannelInterrupts(c.num, xdmac.EndOfBlock)
		regs.EnableGlobalInterrupt(c.num)
		r.irq.SetPriority(ctl.ID, prio)
		r.irq.Enable(ctl.ID)
		return Handle{idx: int32(i), gen: c.gen}, true
	}
	return Handle{}, false
}

// Release is like [Registry.Release]. A callback may release its
// own channel.
func (isr ISR) Release(h Handle) error {
	r := isr.r
	c, err := r.lookup(h)
	if err != nil {
		return err
	}
	ctl := c.ctl
	if ctl.allocated == 1 {
		r.irq.Disable(ctl.ID)
	}
	regs := ctl.Regs
	regs.DisableGlobalInterrupt(c.num)
	regs.DisableChannelInterrupts(c.num, xdmac.AllFlags)
	regs.DisableChannel(c.num)
	c.state = free
	c.cb = nil
	c.since = time.Time{}
	ctl.allocated--
	return nil
}

func (isr ISR) SetTransferSize(h Handle, n uint32) error {
	r := isr.r
	c, err := r.lookup(h)
	if err != nil {
		return err
	}
	size, err := transfer.Split(n, r.lim)
	if err != nil {
		return fmt.Errorf("dma: %v: %w", h, err)
	}
	c.ctl.Regs.SetMicroblockLength(c.num, size.Microblock)
	c.ctl.Regs.SetBlockLength(c.num, size.Blocks)
	return nil
}

func (isr ISR) SetSource(h Handle, addr uint32) error {
	c, err := isr.r.lookup(h)
	if err != nil {
		return err
	}
	c.ctl.Regs.SetSource(c.num, addr)
	return nil
}

func (isr ISR) SetDestination(h Handle, addr uint32) error {
	c, err := isr.r.lookup(h)
	if err != nil {
		return err
	}
	c.ctl.Regs.SetDestination(c.num, addr)
	return nil
}

func (isr ISR) Configure(h Handle, conf xdmac.Config) error {
	c, err := isr.r.lookup(h)
	if err != nil {
		return err
	}
	c.ctl.Regs.Configure(c.num, conf)
	return nil
}

// EnableInterrupts enables additional interrupt sources of the
// channel. Enabling LastMicroblock suppresses callbacks for
// intermediate block completions.
func (isr ISR) EnableInterrupts(h Handle, f xdmac.Flags) error {
	c, err := isr.r.lookup(h)
	if err != nil {
		return err
	}
	c.ctl.Regs.EnableChannelInterrupts(c.num, f)
	return nil
}

func (isr ISR) DisableInterrupts(h Handle, f xdmac.Flags) error {
	c, err := isr.r.lookup(h)
	if err != nil {
		return err
	}
	c.ctl.Regs.DisableChannelInterrupts(c.num, f)
	return nil
}

func (isr ISR) Enable(h Handle) error {
	c, err := isr.r.lookup(h)
	if err != nil {
		return err
	}
	c.ctl.Regs.EnableChannel(c.num)
	return nil
}

func (isr ISR) Disable(h Handle) error {
	c, err := isr.r.lookup(h)
	if err != nil {
		return err
	}
	c.ctl.Regs.DisableChannel(c.num)
	return nil
}

func (isr ISR) Busy(h Handle) (bool, error) {
	c, err := isr.r.lookup(h)
	if err != nil {
		return false, err
	}
	return c.ctl.Regs.Busy(c.num), nil
}

func (isr ISR) Locate(h Handle) (ctl, ch int, err error) {
	c, err := isr.r.lookup(h)
	if err != nil {
		return 0, 0, err
	}
	return isr.r.ctlIndex(c.ctl), c.num, nil
}
