package xdmac

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"xdmac.dev/driver/mmio"
)

func TestConfigEncode(t *testing.T) {
	tests := []struct {
		conf Config
		want uint32
	}{
		{Config{}, 0},
		{Config{Peripheral: true}, 0b1},
		{Config{Burst: Burst16}, 0b11 << 1},
		{Config{ToPeripheral: true}, 0b1 << 4},
		{Config{SoftwareRequest: true}, 0b1 << 6},
		{Config{Chunk: Chunk16}, 0b100 << 8},
		{Config{Width: Word}, 0b10 << 11},
		{Config{SourceInterface: 1}, 0b1 << 13},
		{Config{DestInterface: 1}, 0b1 << 14},
		{Config{Source: Incremented}, 0b01 << 16},
		{Config{Dest: Incremented}, 0b01 << 18},
		{Config{PeripheralID: 0x7f}, 0x7f << 24},
	}
	for _, test := range tests {
		if got := test.conf.Encode(); got != test.want {
			t.Errorf("%+v.Encode() = %#x, want %#x", test.conf, got, test.want)
		}
		if got := DecodeConfig(test.want); got != test.conf {
			t.Errorf("DecodeConfig(%#x) = %+v, want %+v", test.want, got, test.conf)
		}
	}
}

func TestControllerRegisters(t *testing.T) {
	f := new(mmio.File)
	c := New(f)
	c.EnableGlobalInterrupt(3)
	c.SetMicroblockLength(3, 0x1234567)
	c.SetBlockLength(3, 4096)
	c.SetBlockLength(4, 1)
	c.EnableChannelInterrupts(5, EndOfBlock|0x80000000)
	want := []mmio.Write{
		{Off: regGIE, Val: 0b1 << 3},
		{Off: 0x50 + 3*0x40 + 0x20, Val: 0x234567},
		{Off: 0x50 + 3*0x40 + 0x24, Val: 0xfff},
		{Off: 0x50 + 4*0x40 + 0x24, Val: 0},
		{Off: 0x50 + 5*0x40 + 0x00, Val: 0b1},
	}
	if len(f.Writes) != len(want) {
		t.Fatalf("got %d writes, want %d", len(f.Writes), len(want))
	}
	for i, w := range want {
		if f.Writes[i] != w {
			t.Errorf("write %d = %+v, want %+v", i, f.Writes[i], w)
		}
	}
}

func TestFlags(t *testing.T) {
	if err := (EndOfBlock | LastMicroblock).Err(); err != nil {
		t.Errorf("completion flags reported %v", err)
	}
	err := (LastMicroblock | WriteBusError | RequestOverflow).Err()
	if !errors.Is(err, ErrWriteBus) || !errors.Is(err, ErrRequestOverflow) || errors.Is(err, ErrReadBus) {
		t.Errorf("unexpected error %v", err)
	}
	if got, want := (EndOfBlock | Disabled).String(), "BI|DI"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSimReadToClear(t *testing.T) {
	s := NewSim(4, nil)
	defer s.Close()
	c := New(s)
	if n := c.NumChannels(); n != 4 {
		t.Errorf("NumChannels() = %d, want 4", n)
	}
	s.Latch(2, EndOfBlock)
	if gis := c.GlobalInterruptStatus(); gis != 0 {
		t.Errorf("GIS = %#b with interrupts disabled", gis)
	}
	c.EnableChannelInterrupts(2, EndOfBlock)
	c.EnableGlobalInterrupt(2)
	if gis := c.GlobalInterruptStatus(); gis != 0b100 {
		t.Errorf("GIS = %#b, want %#b", gis, 0b100)
	}
	if f := c.ChannelInterruptStatus(2); f != EndOfBlock {
		t.Errorf("CIS = %v, want %v", f, EndOfBlock)
	}
	if f := c.ChannelInterruptStatus(2); f != 0 {
		t.Errorf("CIS = %v after read", f)
	}
	if gis := c.GlobalInterruptStatus(); gis != 0 {
		t.Errorf("GIS = %#b after clear", gis)
	}
}

func TestSimTransfer(t *testing.T) {
	mem := NewMemory(1024)
	s := NewSim(2, mem)
	defer s.Close()
	irq := make(chan struct{}, 1)
	s.SetInterrupt(func() {
		select {
		case irq <- struct{}{}:
		default:
		}
	})
	payload := []byte("0123456789abcdef0123456789abcdef")
	if err := mem.Write(0x100, payload); err != nil {
		t.Fatal(err)
	}
	c := New(s)
	c.Configure(1, Config{Width: Word, Source: Incremented, Dest: Incremented})
	c.SetSource(1, 0x100)
	c.SetDestination(1, 0x200)
	c.SetMicroblockLength(1, 4)
	c.SetBlockLength(1, 2)
	c.EnableChannelInterrupts(1, LastMicroblock)
	c.EnableGlobalInterrupt(1)
	c.EnableChannel(1)
	select {
	case <-irq:
	case <-time.After(5 * time.Second):
		t.Fatal("no interrupt")
	}
	if c.Busy(1) {
		t.Error("channel busy after completion")
	}
	if f := c.ChannelInterruptStatus(1); f != EndOfBlock|LastMicroblock {
		t.Errorf("CIS = %v", f)
	}
	got, err := mem.Read(0x200, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("copied %q, want %q", got, payload)
	}
	if n := s.Transfers(1); n != 1 {
		t.Errorf("%d transfers, want 1", n)
	}
}

func TestSimBusError(t *testing.T) {
	s := NewSim(1, NewMemory(64))
	defer s.Close()
	done := make(chan struct{}, 1)
	s.SetInterrupt(func() {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	c := New(s)
	c.Configure(0, Config{Width: Byte, Source: Incremented, Dest: Incremented})
	c.SetSource(0, 0)
	c.SetDestination(0, 60)
	c.SetMicroblockLength(0, 8)
	c.SetBlockLength(0, 1)
	c.EnableChannelInterrupts(0, AllFlags)
	c.EnableGlobalInterrupt(0)
	c.EnableChannel(0)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no interrupt")
	}
	if f := c.ChannelInterruptStatus(0); !errors.Is(f.Err(), ErrWriteBus) {
		t.Errorf("CIS = %v, want write bus error", f)
	}
}

func TestSimDisableLatchesStatus(t *testing.T) {
	s := NewSim(1, nil)
	defer s.Close()
	c := New(s)
	c.DisableChannel(0)
	if f := c.ChannelInterruptStatus(0); f != 0 {
		t.Errorf("disabling an idle channel latched %v", f)
	}
	// Queue a transfer and abort it before the simulator runs it.
	s.mu.Lock()
	s.gs |= 0b1
	s.mu.Unlock()
	c.DisableChannel(0)
	if f := c.ChannelInterruptStatus(0); f != Disabled {
		t.Errorf("CIS = %v, want %v", f, Disabled)
	}
}
