package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"
	"golang.org/x/term"
	"xdmac.dev/dma"
	"xdmac.dev/driver/xdmac"
	"xdmac.dev/transfer"
)

var shellCommands = []struct {
	name, args, help string
}{
	{"alloc", "[prio]", "allocate a channel"},
	{"release", "id", "release a channel"},
	{"size", "id n", "set the transfer length in elements"},
	{"copy", "id src dst n", "copy n bytes between bus addresses"},
	{"wait", "id [timeout]", "wait for a completion"},
	{"events", "", "show and clear completions"},
	{"write", "addr text", "store text in simulated memory"},
	{"read", "addr n", "show simulated memory"},
	{"irq", "", "run the interrupt dispatcher"},
	{"list", "", "list allocated channels"},
	{"leaks", "[age]", "list channels allocated for at least age"},
	{"stats", "", "show dispatcher statistics"},
	{"help", "", "show commands"},
	{"quit", "", "leave the shell"},
}

// lineReader reads shell commands.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// linerReader edits lines in a terminal.
type linerReader struct {
	*liner.State
}

func (l linerReader) Prompt(prompt string) (string, error) {
	line, err := l.State.Prompt(prompt)
	if err == nil && strings.TrimSpace(line) != "" {
		l.AppendHistory(line)
	}
	return line, err
}

type scanReader struct {
	s *bufio.Scanner
}

func (r scanReader) Prompt(string) (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r scanReader) Close() error {
	return nil
}

func newLineReader(stdin io.Reader) lineReader {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)
		l.SetCompleter(completeCommand)
		return linerReader{l}
	}
	return scanReader{bufio.NewScanner(stdin)}
}

func completeCommand(line string) []string {
	var c []string
	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd.name, line) {
			c = append(c, cmd.name)
		}
	}
	return c
}

type event struct {
	id    int
	flags xdmac.Flags
}

// shell is an interactive console over a channel registry. Channels
// are named by small integers.
type shell struct {
	out io.Writer
	sys *system

	handles map[int]dma.Handle
	next    int

	// mu guards events, appended by completion callbacks.
	mu     sync.Mutex
	events []event
}

func shellCmd(stdout io.Writer, stdin io.Reader, sys *system, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("shell: unexpected arguments: %v", args)
	}
	sh := &shell{out: stdout, sys: sys, handles: make(map[int]dma.Handle)}
	r := newLineReader(stdin)
	defer r.Close()
	for {
		line, err := r.Prompt("xdmac> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("shell: %w", err)
		}
		quit, err := sh.exec(strings.Fields(line))
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *shell) exec(args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	reg := sh.sys.reg
	cmd, args := args[0], args[1:]
	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		for _, c := range shellCommands {
			fmt.Fprintf(sh.out, "%-8s %-14s %s\n", c.name, c.args, c.help)
		}
	case "alloc":
		prio := uint64(1)
		if len(args) > 0 {
			p, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return false, err
			}
			prio = p
		}
		sh.next++
		id := sh.next
		h, ok := reg.Allocate(uint8(prio), func(_ dma.ISR, f xdmac.Flags) {
			sh.mu.Lock()
			defer sh.mu.Unlock()
			sh.events = append(sh.events, event{id: id, flags: f})
		})
		if !ok {
			return false, errors.New("no free channel")
		}
		sh.handles[id] = h
		ctl, ch, _ := reg.Locate(h)
		fmt.Fprintf(sh.out, "channel %d: controller %d channel %d\n", id, ctl, ch)
	case "release":
		id, h, err := sh.handle(args)
		if err != nil {
			return false, err
		}
		delete(sh.handles, id)
		return false, reg.Release(h)
	case "size":
		if len(args) != 2 {
			return false, errors.New("usage: size id n")
		}
		_, h, err := sh.handle(args)
		if err != nil {
			return false, err
		}
		n, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return false, err
		}
		if err := reg.SetTransferSize(h, uint32(n)); err != nil {
			return false, err
		}
		s, _ := transfer.Split(uint32(n), reg.Limits())
		fmt.Fprintf(sh.out, "%d: %d x %d\n", n, s.Microblock, s.Blocks)
	case "copy":
		if len(args) != 4 {
			return false, errors.New("usage: copy id src dst n")
		}
		_, h, err := sh.handle(args)
		if err != nil {
			return false, err
		}
		var v [3]uint32
		for i, a := range args[1:] {
			x, err := strconv.ParseUint(a, 0, 32)
			if err != nil {
				return false, err
			}
			v[i] = uint32(x)
		}
		return false, sh.copy(h, v[0], v[1], v[2])
	case "wait":
		return false, sh.wait(args)
	case "events":
		sh.mu.Lock()
		evs := sh.events
		sh.events = nil
		sh.mu.Unlock()
		for _, e := range evs {
			sh.printEvent(e)
		}
	case "write":
		if len(args) < 2 {
			return false, errors.New("usage: write addr text")
		}
		mem, err := sh.memory()
		if err != nil {
			return false, err
		}
		addr, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return false, err
		}
		return false, mem.Write(uint32(addr), []byte(strings.Join(args[1:], " ")))
	case "read":
		if len(args) != 2 {
			return false, errors.New("usage: read addr n")
		}
		mem, err := sh.memory()
		if err != nil {
			return false, err
		}
		addr, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return false, err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return false, err
		}
		b, err := mem.Read(uint32(addr), n)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "%#x: %q\n", addr, b)
	case "irq":
		reg.HandleInterrupt()
	case "list":
		sh.printAllocations(reg.Outstanding())
	case "leaks":
		age := time.Duration(0)
		if len(args) > 0 {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return false, err
			}
			age = d
		}
		sh.printAllocations(reg.Leaked(age))
	case "stats":
		st := reg.Stats()
		fmt.Fprintf(sh.out, "interrupts %d\nspurious %d\ndispatched %d\nignored %d\ninsignificant %d\n",
			st.Interrupts, st.Spurious, st.Dispatched, st.Ignored, st.Insignificant)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

func (sh *shell) handle(args []string) (int, dma.Handle, error) {
	if len(args) == 0 {
		return 0, dma.Handle{}, errors.New("missing channel")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, dma.Handle{}, err
	}
	h, ok := sh.handles[id]
	if !ok {
		return 0, dma.Handle{}, fmt.Errorf("no channel %d", id)
	}
	return id, h, nil
}

func (sh *shell) memory() (*xdmac.Memory, error) {
	if sh.sys.mem == nil {
		return nil, errors.New("no simulated memory")
	}
	return sh.sys.mem, nil
}

// copy starts a software triggered memory to memory copy of n bytes.
func (sh *shell) copy(h dma.Handle, src, dst, n uint32) error {
	reg := sh.sys.reg
	steps := []func() error{
		func() error {
			return reg.Configure(h, xdmac.Config{
				SoftwareRequest: true,
				Width:           xdmac.Byte,
				Source:          xdmac.Incremented,
				Dest:            xdmac.Incremented,
			})
		},
		func() error { return reg.SetSource(h, src) },
		func() error { return reg.SetDestination(h, dst) },
		func() error { return reg.SetTransferSize(h, n) },
		func() error { return reg.EnableInterrupts(h, xdmac.LastMicroblock|xdmac.BusErrors) },
		func() error { return reg.Enable(h) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (sh *shell) wait(args []string) error {
	id, _, err := sh.handle(args)
	if err != nil {
		return err
	}
	timeout := 5 * time.Second
	if len(args) > 1 {
		if timeout, err = time.ParseDuration(args[1]); err != nil {
			return err
		}
	}
	deadline := time.Now().Add(timeout)
	for {
		sh.mu.Lock()
		for i, e := range sh.events {
			if e.id == id {
				sh.events = append(sh.events[:i], sh.events[i+1:]...)
				sh.mu.Unlock()
				sh.printEvent(e)
				return nil
			}
		}
		sh.mu.Unlock()
		if time.Now().After(deadline) {
			return fmt.Errorf("channel %d: no completion within %v", id, timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func (sh *shell) printEvent(e event) {
	fmt.Fprintf(sh.out, "channel %d: %v", e.id, e.flags)
	if err := e.flags.Err(); err != nil {
		fmt.Fprintf(sh.out, " (%v)", err)
	}
	fmt.Fprintln(sh.out)
}

func (sh *shell) printAllocations(allocs []dma.Allocation) {
	ids := make(map[dma.Handle]int)
	for id, h := range sh.handles {
		ids[h] = id
	}
	sort.Slice(allocs, func(i, j int) bool {
		return allocs[i].Since.Before(allocs[j].Since)
	})
	now := time.Now()
	for _, a := range allocs {
		name := "-"
		if id, ok := ids[a.Handle]; ok {
			name = strconv.Itoa(id)
		}
		fmt.Fprintf(sh.out, "%s\tcontroller %d channel %d\t%v\n",
			name, a.Controller, a.Channel, now.Sub(a.Since).Round(time.Millisecond))
	}
}
