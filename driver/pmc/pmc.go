// Package pmc drives the peripheral clock gates of the SAMA5 power
// management controller.
package pmc

import (
	"sync"

	"xdmac.dev/driver/mmio"
)

const (
	regPCER0 = 0x10
	regPCDR0 = 0x14
	regPCSR0 = 0x18
	regPCER1 = 0x100
	regPCDR1 = 0x104
	regPCSR1 = 0x108
)

// Size is the size of the PMC register window.
const Size = 0x200

// Controller gates peripheral clocks through the PCERx registers.
type Controller struct {
	bus mmio.Bus
}

func New(bus mmio.Bus) *Controller {
	return &Controller{bus: bus}
}

// EnableClock enables the clock of the peripheral with the given
// identifier.
func (c *Controller) EnableClock(id uint32) {
	if id < 32 {
		c.bus.Store(regPCER0, 0b1<<id)
	} else {
		c.bus.Store(regPCER1, 0b1<<(id-32))
	}
}

// ClockEnabled reports the PCSRx status of a peripheral clock.
func (c *Controller) ClockEnabled(id uint32) bool {
	if id < 32 {
		return c.bus.Load(regPCSR0)&(0b1<<id) != 0
	}
	return c.bus.Load(regPCSR1)&(0b1<<(id-32)) != 0
}

// Recorder counts clock enable requests.
type Recorder struct {
	mu     sync.Mutex
	counts map[uint32]int
}

func (r *Recorder) EnableClock(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[uint32]int)
	}
	r.counts[id]++
}

// Count returns the number of EnableClock calls for id.
func (r *Recorder) Count(id uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id]
}
