//go:build linux

package aic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

// UIO delivers interrupt lines exposed by the Linux userspace I/O
// framework. Every line is a /dev/uioN device; the kernel masks the
// line when it fires and writing 1 unmasks it again.
type UIO struct {
	mu    sync.Mutex
	lines map[uint32]*uioLine
	// err is the first failure to mask or unmask a line.
	err error

	dispatch sync.Mutex
}

type uioLine struct {
	path    string
	fd      int
	handler func()
	enabled bool
	prio    uint8
}

// OpenUIO opens the devices of the given interrupt sources.
func OpenUIO(devs map[uint32]string) (*UIO, error) {
	u := &UIO{lines: make(map[uint32]*uioLine)}
	for src, path := range devs {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("aic: %s: %w", path, err)
		}
		u.lines[src] = &uioLine{path: path, fd: fd}
	}
	return u, nil
}

func (u *UIO) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var errs []error
	for _, l := range u.lines {
		if err := unix.Close(l.fd); err != nil {
			errs = append(errs, fmt.Errorf("aic: %s: %w", l.path, err))
		}
	}
	u.lines = nil
	return errors.Join(errs...)
}

func (u *UIO) SetHandler(src uint32, h func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.lines[src]; ok {
		l.handler = h
	}
}

// SetPriority records the priority. Priorities of UIO lines are
// configured by the kernel.
func (u *UIO) SetPriority(src uint32, prio uint8) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.lines[src]; ok {
		l.prio = prio
	}
}

func (u *UIO) Enable(src uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.lines[src]; ok {
		l.enabled = true
		u.arm(l, 1)
	}
}

func (u *UIO) Disable(src uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.lines[src]; ok {
		l.enabled = false
		u.arm(l, 0)
	}
}

// Acknowledge unmasks every enabled line.
func (u *UIO) Acknowledge() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, l := range u.lines {
		if l.enabled {
			u.arm(l, 1)
		}
	}
}

// arm writes v to the line. A failed write leaves the line in its
// previous state and is reported by Err.
func (u *UIO) arm(l *uioLine, v uint32) {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], v)
	if _, err := unix.Write(l.fd, buf[:]); err != nil && u.err == nil {
		u.err = fmt.Errorf("aic: %s: write %d: %w", l.path, v, err)
	}
}

// Err returns and clears the first failure to mask or unmask a line
// since the previous call.
func (u *UIO) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	err := u.err
	u.err = nil
	return err
}

// Serve waits for interrupts and runs their handlers until ctx is
// done.
func (u *UIO) Serve(ctx context.Context) error {
	u.mu.Lock()
	var srcs []uint32
	for src := range u.lines {
		srcs = append(srcs, src)
	}
	sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
	fds := make([]unix.PollFd, len(srcs))
	for i, src := range srcs {
		fds[i] = unix.PollFd{Fd: int32(u.lines[src].fd), Events: unix.POLLIN}
	}
	u.mu.Unlock()
	var buf [4]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A line that can't be unmasked never fires again.
		if err := u.Err(); err != nil {
			return err
		}
		const timeoutMS = 100
		n, err := unix.Poll(fds, timeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("aic: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		for i := range fds {
			if fds[i].Revents&unix.POLLIN == 0 {
				continue
			}
			// The read returns the interrupt count and
			// consumes the event.
			if _, err := unix.Read(int(fds[i].Fd), buf[:]); err != nil {
				return fmt.Errorf("aic: read: %w", err)
			}
			u.mu.Lock()
			h := u.lines[srcs[i]].handler
			u.mu.Unlock()
			if h != nil {
				u.dispatch.Lock()
				h()
				u.dispatch.Unlock()
			}
		}
	}
}
