//go:build linux

// Package sama5 drives the XDMAC controllers of a SAMA5 SoC from
// Linux userspace. Registers are mapped through /dev/mem and
// controller interrupts are received through userspace I/O devices.
//
// The package registers a periph driver that is loaded by host.Init.
package sama5

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/host/v3/distro"
	"xdmac.dev/board"
	"xdmac.dev/dma"
	"xdmac.dev/driver/aic"
	"xdmac.dev/driver/mmio"
	"xdmac.dev/driver/pmc"
	"xdmac.dev/driver/xdmac"
)

// Compatible is the device tree compatible string of the SoC.
const Compatible = "atmel,sama5d2"

type driver struct {
	mu      sync.Mutex
	loaded  bool
	regions map[uint64]*mmio.Region
}

var drv driver

func init() {
	driverreg.MustRegister(&drv)
}

func (d *driver) String() string {
	return "sama5-xdmac"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

// Init detects the SoC and maps the register windows of the
// built-in board description.
func (d *driver) Init() (bool, error) {
	if !slices.Contains(distro.DTCompatible(), Compatible) {
		return false, errors.New("sama5: not a SAMA5D2")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regions = make(map[uint64]*mmio.Region)
	b := board.SAMA5D2
	for _, c := range b.Controllers {
		r, err := d.mapLocked(c.Base, xdmac.Size)
		if err != nil {
			return true, err
		}
		if n := xdmac.New(r).NumChannels(); n != c.Channels {
			return true, fmt.Errorf("sama5: controller %d has %d channels, want %d", c.ID, n, c.Channels)
		}
	}
	if _, err := d.mapLocked(b.PMCBase, pmc.Size); err != nil {
		return true, err
	}
	d.loaded = true
	return true, nil
}

func (d *driver) mapLocked(base uint64, size int) (*mmio.Region, error) {
	if r, ok := d.regions[base]; ok {
		return r, nil
	}
	r, err := mmio.Map(base, size)
	if err != nil {
		return nil, fmt.Errorf("sama5: %w", err)
	}
	d.regions[base] = r
	return r, nil
}

// System is a DMA registry running on the hardware.
type System struct {
	DMA *dma.Registry
	// IRQ delivers controller interrupts; run its Serve method to
	// dispatch them.
	IRQ *aic.UIO
}

// Open assembles a registry for the controllers of b. The driver
// must have been loaded by host.Init.
func Open(b *board.Board, logger *log.Logger) (*System, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	drv.mu.Lock()
	defer drv.mu.Unlock()
	if !drv.loaded {
		return nil, errors.New("sama5: driver not loaded")
	}
	clk, err := drv.mapLocked(b.PMCBase, pmc.Size)
	if err != nil {
		return nil, err
	}
	devs := make(map[uint32]string)
	conf := dma.Config{
		Clocks: pmc.New(clk),
		Limits: b.Limits(),
		Log:    logger,
	}
	for _, c := range b.Controllers {
		r, err := drv.mapLocked(c.Base, xdmac.Size)
		if err != nil {
			return nil, err
		}
		if c.UIO == "" {
			return nil, fmt.Errorf("sama5: controller %d: no interrupt device", c.ID)
		}
		devs[c.ID] = c.UIO
		conf.Controllers = append(conf.Controllers, dma.Controller{
			ID:       c.ID,
			Regs:     xdmac.New(r),
			Channels: c.Channels,
		})
	}
	irq, err := aic.OpenUIO(devs)
	if err != nil {
		return nil, fmt.Errorf("sama5: %w", err)
	}
	conf.Interrupts = irq
	reg, err := dma.New(conf)
	if err != nil {
		irq.Close()
		return nil, err
	}
	if err := reg.Init(); err != nil {
		irq.Close()
		return nil, err
	}
	return &System{DMA: reg, IRQ: irq}, nil
}

// Close stops interrupt delivery. Mapped registers stay mapped for
// the lifetime of the process.
func (s *System) Close() error {
	return s.IRQ.Close()
}
