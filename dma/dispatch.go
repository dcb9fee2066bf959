package dma

import "xdmac.dev/driver/xdmac"

// HandleInterrupt services the interrupt lines of all controllers.
// It is installed by Init as the handler of every controller line
// and may be called directly when lines are shared.
//
// Every channel with pending status has its status read and thereby
// cleared. The owner's callback is invoked when the status reports
// completion, an abort or a bus error. Status of free channels is
// left alone.
func (r *Registry) HandleInterrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Interrupts++
	pending := false
	for i := range r.ctls {
		ctl := &r.ctls[i]
		gis := ctl.Regs.GlobalInterruptStatus() & (1<<ctl.Channels - 1)
		if gis == 0 {
			continue
		}
		pending = true
		for ch := range ctl.Channels {
			if gis&(0b1<<ch) == 0 {
				continue
			}
			c := &r.chans[ctl.first+ch]
			if c.state == free {
				r.stats.Ignored++
				continue
			}
			flags := ctl.Regs.ChannelInterruptStatus(ch)
			if c.cb == nil || !significant(flags, ctl.Regs.ChannelInterruptMask(ch)) {
				r.stats.Insignificant++
				continue
			}
			r.stats.Dispatched++
			c.cb(ISR{r}, flags)
		}
	}
	if !pending {
		r.stats.Spurious++
	}
	r.irq.Acknowledge()
}

// significant reports whether a channel status is worth a callback.
// End of block counts only for channels not waiting for their last
// microblock.
func significant(flags, mask xdmac.Flags) bool {
	if flags&xdmac.EndOfBlock != 0 && mask&xdmac.LastMicroblock == 0 {
		return true
	}
	return flags&(xdmac.LastMicroblock|xdmac.Disabled|xdmac.BusErrors) != 0
}
