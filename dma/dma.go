// Package dma shares the channels of the platform's DMA controllers
// between drivers and dispatches channel interrupts to their owners.
//
// A driver allocates a channel with a completion callback, programs
// and enables it, and releases it when done. The interrupt line of
// every controller is served by [Registry.HandleInterrupt], which
// invokes the owner's callback for completed or failed transfers.
//
// All registry state is guarded by one lock, held by the dispatcher
// for the duration of an interrupt. Callbacks therefore run with the
// lock held and must use the [ISR] they are passed, not the
// Registry, to operate on channels.
package dma

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"xdmac.dev/driver/xdmac"
	"xdmac.dev/transfer"
)

// InterruptController is the platform interrupt controller.
type InterruptController interface {
	SetHandler(source uint32, handler func())
	SetPriority(source uint32, prio uint8)
	Enable(source uint32)
	Disable(source uint32)
	// Acknowledge signals the end of interrupt handling.
	Acknowledge()
}

// ClockController gates peripheral clocks.
type ClockController interface {
	EnableClock(id uint32)
}

// Controller describes one DMA controller.
type Controller struct {
	// ID is the peripheral identifier of the controller, used both
	// as interrupt source and clock gate.
	ID       uint32
	Regs     *xdmac.Controller
	Channels int
}

type Config struct {
	Controllers []Controller
	Interrupts  InterruptController
	Clocks      ClockController
	// Limits of the transfer length registers. The zero value
	// means transfer.XDMAC.
	Limits transfer.Limits
	// Debug turns misuse of channel handles into panics.
	Debug bool
	// Log receives diagnostics. Nil disables logging.
	Log *log.Logger
	// Now overrides time.Now for allocation timestamps.
	Now func() time.Time
}

// Callback is called from interrupt context with the raw channel
// status. It must not block.
type Callback func(isr ISR, flags xdmac.Flags)

var (
	// ErrNotAllocated is returned for operations on a handle that
	// doesn't own its channel: released, reallocated or invalid.
	ErrNotAllocated = errors.New("dma: channel not allocated")
	ErrInitialized  = errors.New("dma: already initialized")
)

// Handle identifies an allocated channel. Handles are invalidated by
// release; the zero Handle is never valid.
type Handle struct {
	idx int32
	gen uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("dma#%d.%d", h.idx, h.gen)
}

type state uint8

const (
	free state = iota
	allocated
)

type channel struct {
	ctl   *controller
	num   int
	state state
	// gen is bumped on every allocation.
	gen   uint32
	cb    Callback
	since time.Time
}

type controller struct {
	Controller
	first     int
	allocated int
}

// Registry owns the channels of a set of controllers.
type Registry struct {
	mu    sync.Mutex
	ctls  []controller
	chans []channel
	irq   InterruptController
	clk   ClockController
	lim   transfer.Limits
	debug bool
	log   *log.Logger
	now   func() time.Time
	init  bool
	stats Stats
}

// Stats counts dispatcher activity.
type Stats struct {
	// Interrupts is the number of dispatcher invocations.
	Interrupts uint64
	// Spurious counts invocations finding no pending status.
	Spurious uint64
	// Dispatched counts callback invocations.
	Dispatched uint64
	// Ignored counts events on free channels.
	Ignored uint64
	// Insignificant counts events with nothing to report.
	Insignificant uint64
}

// Allocation describes an allocated channel.
type Allocation struct {
	Handle     Handle
	Controller int
	Channel    int
	Since      time.Time
}

func New(conf Config) (*Registry, error) {
	if len(conf.Controllers) == 0 {
		return nil, errors.New("dma: no controllers")
	}
	if conf.Interrupts == nil || conf.Clocks == nil {
		return nil, errors.New("dma: missing interrupt or clock controller")
	}
	r := &Registry{
		irq:   conf.Interrupts,
		clk:   conf.Clocks,
		lim:   conf.Limits,
		debug: conf.Debug,
		log:   conf.Log,
		now:   conf.Now,
		ctls:  make([]controller, len(conf.Controllers)),
	}
	if r.lim == (transfer.Limits{}) {
		r.lim = transfer.XDMAC
	}
	if r.now == nil {
		r.now = time.Now
	}
	ids := make(map[uint32]bool)
	n := 0
	for i, c := range conf.Controllers {
		if c.Regs == nil {
			return nil, fmt.Errorf("dma: controller %d: no registers", i)
		}
		if c.Channels < 1 || c.Channels > xdmac.MaxChannels {
			return nil, fmt.Errorf("dma: controller %d: invalid channel count %d", i, c.Channels)
		}
		if ids[c.ID] {
			return nil, fmt.Errorf("dma: controller %d: duplicate id %d", i, c.ID)
		}
		ids[c.ID] = true
		r.ctls[i] = controller{Controller: c, first: n}
		n += c.Channels
	}
	r.chans = make([]channel, n)
	for i := range r.ctls {
		ctl := &r.ctls[i]
		for ch := range ctl.Channels {
			r.chans[ctl.first+ch] = channel{ctl: ctl, num: ch}
		}
	}
	return r, nil
}

// Init clears status left over in the hardware and installs the
// interrupt handler of every controller. It must be called once,
// before any other method.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.init {
		return r.misuse(ErrInitialized)
	}
	for i := range r.chans {
		c := &r.chans[i]
		c.state = free
		c.cb = nil
		c.ctl.Regs.ChannelInterruptStatus(c.num)
	}
	for i := range r.ctls {
		r.irq.SetHandler(r.ctls[i].ID, r.HandleInterrupt)
	}
	r.init = true
	r.logf("dma: %d controllers, %d channels", len(r.ctls), len(r.chans))
	return nil
}

// Channels returns the size of the channel pool.
func (r *Registry) Channels() int {
	return len(r.chans)
}

// Limits returns the transfer length limits.
func (r *Registry) Limits() transfer.Limits {
	return r.lim
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Allocate claims the first free channel, installs cb as its
// completion callback and enables its interrupt at priority prio.
// It reports false if every channel is in use.
func (r *Registry) Allocate(prio uint8, cb Callback) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.Allocate(prio, cb)
}

// Release aborts any transfer on the channel and returns it to the
// pool. The callback is not called after Release returns.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.Release(h)
}

// SetTransferSize programs the length of the next transfer in
// elements. Lengths without a decomposition into microblocks and
// blocks return an error wrapping transfer.ErrUnsupported.
func (r *Registry) SetTransferSize(h Handle, n uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.SetTransferSize(h, n)
}

func (r *Registry) SetSource(h Handle, addr uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.SetSource(h, addr)
}

func (r *Registry) SetDestination(h Handle, addr uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.SetDestination(h, addr)
}

func (r *Registry) Configure(h Handle, conf xdmac.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.Configure(h, conf)
}

func (r *Registry) EnableInterrupts(h Handle, f xdmac.Flags) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.EnableInterrupts(h, f)
}

func (r *Registry) DisableInterrupts(h Handle, f xdmac.Flags) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.DisableInterrupts(h, f)
}

// Enable starts the programmed transfer.
func (r *Registry) Enable(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.Enable(h)
}

// Disable aborts the transfer in flight, keeping the channel.
func (r *Registry) Disable(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.Disable(h)
}

func (r *Registry) Busy(h Handle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.Busy(h)
}

// Abort releases h if it still owns its channel and reports whether
// it did. Unlike Release, a released handle is not a misuse; Abort
// serves owners racing their own completion callback.
func (r *Registry) Abort(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.owns(h) {
		return false
	}
	if err := (ISR{r}).Release(h); err != nil {
		// Unreachable: h is owned.
		panic(err)
	}
	return true
}

// Locate returns the controller and channel index of h.
func (r *Registry) Locate(h Handle) (ctl, ch int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ISR{r}.Locate(h)
}

// Outstanding lists the allocated channels. Channels are never
// reclaimed; an owner that doesn't release keeps its channel.
func (r *Registry) Outstanding() []Allocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var allocs []Allocation
	for i := range r.chans {
		c := &r.chans[i]
		if c.state != allocated {
			continue
		}
		allocs = append(allocs, Allocation{
			Handle:     Handle{idx: int32(i), gen: c.gen},
			Controller: r.ctlIndex(c.ctl),
			Channel:    c.num,
			Since:      c.since,
		})
	}
	return allocs
}

// Leaked lists the channels allocated for at least age.
func (r *Registry) Leaked(age time.Duration) []Allocation {
	now := r.now()
	var leaks []Allocation
	for _, a := range r.Outstanding() {
		if now.Sub(a.Since) >= age {
			leaks = append(leaks, a)
		}
	}
	return leaks
}

func (r *Registry) ctlIndex(ctl *controller) int {
	for i := range r.ctls {
		if &r.ctls[i] == ctl {
			return i
		}
	}
	panic("unknown controller")
}

func (r *Registry) owns(h Handle) bool {
	if h.gen == 0 || h.idx < 0 || int(h.idx) >= len(r.chans) {
		return false
	}
	c := &r.chans[h.idx]
	return c.state == allocated && c.gen == h.gen
}

// lookup returns the channel owned by h.
func (r *Registry) lookup(h Handle) (*channel, error) {
	if !r.owns(h) {
		return nil, r.misuse(fmt.Errorf("%w: %v", ErrNotAllocated, h))
	}
	return &r.chans[h.idx], nil
}

// misuse reports a programming error.
func (r *Registry) misuse(err error) error {
	r.logf("%v", err)
	if r.debug {
		panic(err)
	}
	return err
}

func (r *Registry) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf(format, args...)
	}
}
