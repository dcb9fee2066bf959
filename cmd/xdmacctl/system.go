package main

import (
	"errors"

	"xdmac.dev/board"
	"xdmac.dev/dma"
	"xdmac.dev/driver/aic"
	"xdmac.dev/driver/pmc"
	"xdmac.dev/driver/xdmac"
)

// system is a channel registry with the controllers behind it.
type system struct {
	board *board.Board
	reg   *dma.Registry
	// mem is the simulated bus memory, nil on hardware.
	mem   *xdmac.Memory
	close func() error
}

func (s *system) Close() error {
	return s.close()
}

func openSystem(b *board.Board, opts *options) (*system, error) {
	if opts.hw {
		return openHardware(b, opts)
	}
	return openSim(b, opts)
}

// openSim runs the registry on simulated controllers sharing one
// memory.
func openSim(b *board.Board, opts *options) (*system, error) {
	if opts.memSize <= 0 {
		return nil, errors.New("invalid simulated memory size")
	}
	irq := aic.NewSim()
	mem := xdmac.NewMemory(opts.memSize)
	conf := registryConfig(b, opts)
	conf.Interrupts = irq
	conf.Clocks = new(pmc.Recorder)
	var sims []*xdmac.Sim
	closeSims := func() error {
		for _, s := range sims {
			s.Close()
		}
		return nil
	}
	for _, c := range b.Controllers {
		s := xdmac.NewSim(c.Channels, mem)
		s.SetInterrupt(func() { irq.Raise(c.ID) })
		sims = append(sims, s)
		conf.Controllers = append(conf.Controllers, dma.Controller{
			ID:       c.ID,
			Regs:     xdmac.New(s),
			Channels: c.Channels,
		})
	}
	reg, err := dma.New(conf)
	if err != nil {
		closeSims()
		return nil, err
	}
	if err := reg.Init(); err != nil {
		closeSims()
		return nil, err
	}
	return &system{board: b, reg: reg, mem: mem, close: closeSims}, nil
}
