package xdmac

import (
	"fmt"
	"sync"
)

// Memory is simulated bus memory, shared by the controllers of a
// system. Bus addresses are offsets into it.
type Memory struct {
	mu sync.Mutex
	b  []byte
}

func NewMemory(size int) *Memory {
	return &Memory{b: make([]byte, size)}
}

func (m *Memory) Size() int {
	return len(m.b)
}

// Write copies b into memory at addr.
func (m *Memory) Write(addr uint32, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(addr)+uint64(len(b)) > uint64(len(m.b)) {
		return fmt.Errorf("xdmac: write %#x+%d out of range", addr, len(b))
	}
	copy(m.b[addr:], b)
	return nil
}

// Read returns a copy of n bytes of memory at addr.
func (m *Memory) Read(addr uint32, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(addr)+uint64(n) > uint64(len(m.b)) {
		return nil, fmt.Errorf("xdmac: read %#x+%d out of range", addr, n)
	}
	return append([]byte(nil), m.b[addr:int(addr)+n]...), nil
}

// Sim simulates the registers and memory-to-memory transfers of an
// XDMAC instance.
type Sim struct {
	mu     sync.Mutex
	mem    *Memory
	nchan  int
	gim    uint32
	gs     uint32
	queued uint32
	chans  [MaxChannels]simChannel
	irq    func()

	work    chan struct{}
	closing chan struct{}
	done    chan struct{}
}

type simChannel struct {
	cim, cis        uint32
	csa, cda, cnda  uint32
	cndc, cubc, cbc uint32
	cc              uint32
	transfers       int
}

// NewSim returns a simulated controller with nchan channels
// transferring within mem. Close must be called to stop it.
func NewSim(nchan int, mem *Memory) *Sim {
	if nchan < 1 || nchan > MaxChannels {
		panic("invalid channel count")
	}
	if mem == nil {
		mem = NewMemory(0)
	}
	s := &Sim{
		mem:     mem,
		nchan:   nchan,
		work:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// SetInterrupt sets the function called when the controller
// interrupt line is asserted. It is called from the simulator
// goroutine.
func (s *Sim) SetInterrupt(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq = f
}

func (s *Sim) Close() {
	close(s.closing)
	<-s.done
}

// Latch sets status flags of a channel as if the hardware had
// raised them. It does not assert the interrupt line.
func (s *Sim) Latch(ch int, f Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chans[ch].cis |= uint32(f)
}

// Raise asserts the interrupt line if any enabled condition is
// pending.
func (s *Sim) Raise() {
	s.wake()
}

// Transfers returns the number of completed transfers of a channel.
func (s *Sim) Transfers(ch int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chans[ch].transfers
}

func (s *Sim) chanMask() uint32 {
	return 1<<s.nchan - 1
}

func (s *Sim) Load(off uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off >= chanBase {
		ch, reg := s.decode(off)
		if ch < 0 {
			return 0
		}
		c := &s.chans[ch]
		switch reg {
		case regCIM:
			return c.cim
		case regCIS:
			v := c.cis
			c.cis = 0
			return v
		case regCSA:
			return c.csa
		case regCDA:
			return c.cda
		case regCNDA:
			return c.cnda
		case regCNDC:
			return c.cndc
		case regCUBC:
			return c.cubc
		case regCBC:
			return c.cbc
		case regCC:
			return c.cc
		}
		return 0
	}
	switch off {
	case regGTYPE:
		return uint32(s.nchan - 1)
	case regGIM:
		return s.gim
	case regGIS:
		return s.gisLocked()
	case regGS:
		return s.gs
	}
	return 0
}

func (s *Sim) Store(off uint32, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off >= chanBase {
		ch, reg := s.decode(off)
		if ch < 0 {
			return
		}
		c := &s.chans[ch]
		switch reg {
		case regCIE:
			c.cim |= v & uint32(AllFlags)
			s.wakeIfPending()
		case regCID:
			c.cim &^= v
		case regCSA:
			c.csa = v
		case regCDA:
			c.cda = v
		case regCNDA:
			c.cnda = v
		case regCNDC:
			c.cndc = v
		case regCUBC:
			c.cubc = v & ublenMask
		case regCBC:
			c.cbc = v & blenMask
		case regCC:
			c.cc = v
		}
		return
	}
	v &= s.chanMask()
	switch off {
	case regGIE:
		s.gim |= v
		s.wakeIfPending()
	case regGID:
		s.gim &^= v
	case regGE:
		start := v &^ s.gs
		s.gs |= start
		s.queued |= start
		if start != 0 {
			s.wake()
		}
	case regGD:
		stop := v & s.gs
		s.gs &^= stop
		s.queued &^= stop
		for ch := range s.nchan {
			if stop&(0b1<<ch) != 0 {
				s.chans[ch].cis |= uint32(Disabled)
			}
		}
		s.wakeIfPending()
	}
}

func (s *Sim) decode(off uint32) (int, uint32) {
	rel := off - chanBase
	ch := int(rel / chanStride)
	if ch >= s.nchan {
		return -1, 0
	}
	return ch, rel % chanStride
}

// gisLocked computes the global interrupt status: channels with a
// latched condition that is enabled both per channel and globally.
func (s *Sim) gisLocked() uint32 {
	var gis uint32
	for ch := range s.nchan {
		c := &s.chans[ch]
		if s.gim&(0b1<<ch) != 0 && c.cis&c.cim != 0 {
			gis |= 0b1 << ch
		}
	}
	return gis
}

func (s *Sim) wake() {
	select {
	case s.work <- struct{}{}:
	default:
	}
}

func (s *Sim) wakeIfPending() {
	if s.gisLocked() != 0 {
		s.wake()
	}
}

func (s *Sim) run() {
	defer close(s.done)
	for {
		select {
		case <-s.closing:
			return
		case <-s.work:
		}
		s.mu.Lock()
		queued := s.queued
		s.queued = 0
		for ch := range s.nchan {
			if queued&(0b1<<ch) != 0 {
				s.transferLocked(ch)
			}
		}
		pending := s.gisLocked() != 0
		irq := s.irq
		s.mu.Unlock()
		if pending && irq != nil {
			irq()
		}
	}
}

// transferLocked executes the programmed transfer of a channel
// and latches its completion status.
func (s *Sim) transferLocked(ch int) {
	c := &s.chans[ch]
	defer func() {
		s.gs &^= 0b1 << ch
		c.transfers++
	}()
	conf := DecodeConfig(c.cc)
	w := uint64(conf.Width.Bytes())
	n := uint64(c.cubc) * (uint64(c.cbc) + 1)
	if conf.Peripheral || n == 0 {
		c.cis |= uint32(EndOfBlock | LastMicroblock)
		return
	}
	span := func(addr uint32, mode AddressMode) uint64 {
		if mode == Fixed {
			return uint64(addr) + w
		}
		return uint64(addr) + n*w
	}
	m := s.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	if span(c.csa, conf.Source) > uint64(len(m.b)) {
		c.cis |= uint32(ReadBusError)
		return
	}
	if span(c.cda, conf.Dest) > uint64(len(m.b)) {
		c.cis |= uint32(WriteBusError)
		return
	}
	if conf.Source == Incremented && conf.Dest == Incremented {
		copy(m.b[c.cda:uint64(c.cda)+n*w], m.b[c.csa:uint64(c.csa)+n*w])
	} else {
		src, dst := uint64(c.csa), uint64(c.cda)
		for range n {
			copy(m.b[dst:dst+w], m.b[src:src+w])
			if conf.Source == Incremented {
				src += w
			}
			if conf.Dest == Incremented {
				dst += w
			}
		}
	}
	c.cis |= uint32(EndOfBlock | LastMicroblock)
}
