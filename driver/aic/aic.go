// Package aic implements interrupt controllers delivering
// peripheral interrupt lines to handlers.
package aic

import "sync"

// Sim simulates an advanced interrupt controller. Handlers run one
// at a time, as interrupts of the same priority level don't preempt
// each other. A line raised while disabled stays pending until it is
// enabled.
type Sim struct {
	mu       sync.Mutex
	handlers map[uint32]func()
	prio     map[uint32]uint8
	enabled  map[uint32]bool
	pending  map[uint32]bool
	acks     int
	raised   map[uint32]int

	// dispatch serializes handlers.
	dispatch sync.Mutex
}

func NewSim() *Sim {
	return &Sim{
		handlers: make(map[uint32]func()),
		prio:     make(map[uint32]uint8),
		enabled:  make(map[uint32]bool),
		pending:  make(map[uint32]bool),
		raised:   make(map[uint32]int),
	}
}

func (a *Sim) SetHandler(src uint32, h func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[src] = h
}

func (a *Sim) SetPriority(src uint32, prio uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prio[src] = prio
}

// Enable unmasks a line. A pending interrupt is delivered from a new
// goroutine, because the caller may hold locks the handler needs.
func (a *Sim) Enable(src uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled[src] = true
	if a.pending[src] {
		delete(a.pending, src)
		go a.Raise(src)
	}
}

func (a *Sim) Disable(src uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled[src] = false
}

func (a *Sim) Acknowledge() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
}

// Raise asserts a line and runs its handler if the line is enabled.
func (a *Sim) Raise(src uint32) {
	a.mu.Lock()
	h := a.handlers[src]
	if !a.enabled[src] || h == nil {
		a.pending[src] = true
		a.mu.Unlock()
		return
	}
	a.raised[src]++
	a.mu.Unlock()
	a.dispatch.Lock()
	defer a.dispatch.Unlock()
	h()
}

// Enabled reports whether a line is unmasked.
func (a *Sim) Enabled(src uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled[src]
}

func (a *Sim) Priority(src uint32) uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prio[src]
}

// Acks returns the number of acknowledged interrupts.
func (a *Sim) Acks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks
}

// Delivered returns the number of times the handler of a line ran.
func (a *Sim) Delivered(src uint32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raised[src]
}
