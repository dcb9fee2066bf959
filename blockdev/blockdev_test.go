package blockdev

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"xdmac.dev/cache"
	"xdmac.dev/dma"
	"xdmac.dev/driver/aic"
	"xdmac.dev/driver/pmc"
	"xdmac.dev/driver/xdmac"
	"xdmac.dev/transfer"
)

const (
	blockSize = 512
	blocks    = 16
	// bufBase is the address of the transfer buffer, after the
	// store.
	bufBase = blocks * blockSize
	memSize = bufBase + 4*blockSize
)

type fixture struct {
	dev   *Device
	sim   *xdmac.Sim
	mem   *xdmac.Memory
	cache *cache.Recorder
}

func newFixture(t *testing.T, channels int, lim transfer.Limits, wire bool) *fixture {
	t.Helper()
	mem := xdmac.NewMemory(memSize)
	sim := xdmac.NewSim(channels, mem)
	t.Cleanup(sim.Close)
	irq := aic.NewSim()
	if wire {
		sim.SetInterrupt(func() { irq.Raise(6) })
	}
	reg, err := dma.New(dma.Config{
		Controllers: []dma.Controller{{ID: 6, Regs: xdmac.New(sim), Channels: channels}},
		Interrupts:  irq,
		Clocks:      new(pmc.Recorder),
		Limits:      lim,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Init(); err != nil {
		t.Fatal(err)
	}
	rec := &cache.Recorder{Line: 32}
	return &fixture{
		dev: &Device{
			DMA:       reg,
			Cache:     rec,
			BlockSize: blockSize,
			Blocks:    blocks,
		},
		sim:   sim,
		mem:   mem,
		cache: rec,
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		lim    transfer.Limits
		chunks int
	}{
		{"single", transfer.XDMAC, 1},
		// 384 words: three chunks of 100 words, then 84.
		{"chunked", transfer.Limits{MaxMicroblock: 100, MaxBlocks: 2}, 4},
		// 384 words = 128 x 3.
		{"blocks", transfer.Limits{MaxMicroblock: 128, MaxBlocks: 4}, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, 2, test.lim, true)
			ctx := context.Background()
			data := bytes.Repeat([]byte("0123456789abcdef"), 3*blockSize/16)
			if err := f.mem.Write(bufBase, data); err != nil {
				t.Fatal(err)
			}
			if err := f.dev.WriteBlocks(ctx, 5, bufBase, 3); err != nil {
				t.Fatal(err)
			}
			stored, _ := f.mem.Read(5*blockSize, len(data))
			if !bytes.Equal(stored, data) {
				t.Fatal("store doesn't hold the written blocks")
			}
			if n := f.sim.Transfers(0); n != test.chunks {
				t.Errorf("%d transfers, want %d", n, test.chunks)
			}
			if err := f.mem.Write(bufBase, make([]byte, len(data))); err != nil {
				t.Fatal(err)
			}
			if err := f.dev.ReadBlocks(ctx, 5, bufBase, 3); err != nil {
				t.Fatal(err)
			}
			got, _ := f.mem.Read(bufBase, len(data))
			if !bytes.Equal(got, data) {
				t.Error("read back different data")
			}
			if n := len(f.dev.DMA.Outstanding()); n != 0 {
				t.Errorf("%d channels outstanding", n)
			}
			want := []cache.Op{
				{Clean: true, Addr: bufBase, Size: 3 * blockSize},
				{Clean: false, Addr: 5 * blockSize, Size: 3 * blockSize},
				{Clean: false, Addr: 5 * blockSize, Size: 3 * blockSize},
			}
			ops := f.cache.Ops()
			if len(ops) != 6 {
				t.Fatalf("cache operations %v", ops)
			}
			for i, op := range want {
				if ops[i] != op {
					t.Errorf("cache operation %d = %+v, want %+v", i, ops[i], op)
				}
			}
		})
	}
}

func TestChunkedRepeated(t *testing.T) {
	// Completions race the caller programming the first chunk.
	f := newFixture(t, 2, transfer.Limits{MaxMicroblock: 100, MaxBlocks: 2}, true)
	ctx := context.Background()
	for i := range 200 {
		data := bytes.Repeat([]byte{byte(i), byte(i >> 8), 0x5a, 0xa5}, 3*blockSize/4)
		if err := f.mem.Write(bufBase, data); err != nil {
			t.Fatal(err)
		}
		lba := uint32(i % (blocks - 2))
		if err := f.dev.WriteBlocks(ctx, lba, bufBase, 3); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		stored, _ := f.mem.Read(lba*blockSize, len(data))
		if !bytes.Equal(stored, data) {
			t.Fatalf("write %d: store doesn't hold the written blocks", i)
		}
		if n, want := f.sim.Transfers(0), 4*(i+1); n != want {
			t.Fatalf("write %d: %d transfers, want %d", i, n, want)
		}
	}
	if n := len(f.dev.DMA.Outstanding()); n != 0 {
		t.Errorf("%d channels outstanding", n)
	}
}

func TestBusRange(t *testing.T) {
	f := newFixture(t, 1, transfer.XDMAC, true)
	ctx := context.Background()
	tests := []struct {
		name      string
		base      uint32
		blockSize uint32
		blocks    uint32
		lba, buf  uint32
		n         uint32
	}{
		{"length", 0, 4096, 1 << 20, 0, bufBase, 1 << 20},
		{"store end", 0xffff0000, blockSize, 256, 127, bufBase, 2},
		{"buffer end", 0, blockSize, blocks, 0, 0xfffffe00, 2},
	}
	for _, test := range tests {
		f.dev.Base = test.base
		f.dev.BlockSize = test.blockSize
		f.dev.Blocks = test.blocks
		if err := f.dev.ReadBlocks(ctx, test.lba, test.buf, test.n); !errors.Is(err, ErrRange) {
			t.Errorf("%s: got %v, want %v", test.name, err, ErrRange)
		}
	}
	// The last block below the top of the bus is in range.
	f.dev.Base, f.dev.BlockSize, f.dev.Blocks = 0xffff0000, blockSize, 128
	if _, _, err := f.dev.locate(127, bufBase, 1); err != nil {
		t.Errorf("last block: %v", err)
	}
	if n := f.sim.Transfers(0); n != 0 {
		t.Errorf("%d transfers started", n)
	}
}

func TestErrors(t *testing.T) {
	f := newFixture(t, 1, transfer.XDMAC, true)
	ctx := context.Background()
	if err := f.dev.ReadBlocks(ctx, 15, bufBase, 2); !errors.Is(err, ErrRange) {
		t.Errorf("read past the end: %v, want %v", err, ErrRange)
	}
	if err := f.dev.ReadBlocks(ctx, 0, bufBase+2, 1); err == nil {
		t.Error("unaligned buffer accepted")
	}
	if err := f.dev.ReadBlocks(ctx, 3, bufBase, 0); err != nil {
		t.Errorf("empty read: %v", err)
	}
	h, _ := f.dev.DMA.Allocate(1, func(dma.ISR, xdmac.Flags) {})
	if err := f.dev.WriteBlocks(ctx, 0, bufBase, 1); !errors.Is(err, ErrBusy) {
		t.Errorf("write without free channels: %v, want %v", err, ErrBusy)
	}
	f.dev.DMA.Release(h)
}

func TestBusError(t *testing.T) {
	f := newFixture(t, 1, transfer.XDMAC, true)
	f.dev.Base = memSize - blockSize
	err := f.dev.ReadBlocks(context.Background(), 0, bufBase, 2)
	if !errors.Is(err, xdmac.ErrReadBus) {
		t.Errorf("read beyond memory: %v, want %v", err, xdmac.ErrReadBus)
	}
	if n := len(f.dev.DMA.Outstanding()); n != 0 {
		t.Errorf("%d channels outstanding", n)
	}
}

func TestCancel(t *testing.T) {
	// Completion interrupts are never delivered.
	f := newFixture(t, 1, transfer.XDMAC, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.dev.WriteBlocks(ctx, 0, bufBase, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want %v", err, context.DeadlineExceeded)
	}
	if n := len(f.dev.DMA.Outstanding()); n != 0 {
		t.Errorf("%d channels outstanding after cancel", n)
	}
}
