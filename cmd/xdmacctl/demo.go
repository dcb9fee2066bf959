package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sync"
	"time"

	"xdmac.dev/blockdev"
	"xdmac.dev/cache"
)

const demoBlockSize = 512

// demoCmd runs concurrent block device round trips on simulated
// memory and verifies the copies.
func demoCmd(stdout io.Writer, sys *system, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	requests := fs.Int("requests", 64, "round trips per worker")
	workers := fs.Int("workers", 8, "concurrent workers")
	perWorker := fs.Int("blocks", 8, "store blocks per worker")
	timeout := fs.Duration("timeout", 30*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if sys.mem == nil {
		return errors.New("demo: requires simulated memory")
	}
	if *workers < 1 || *perWorker < 1 || *requests < 0 {
		return errors.New("demo: invalid parameters")
	}
	// The store is followed by one buffer per worker, each large
	// enough for a worker's whole partition.
	span := uint32(*perWorker) * demoBlockSize
	storeBlocks := uint32(*workers * *perWorker)
	need := uint64(storeBlocks)*demoBlockSize + uint64(*workers)*uint64(span)
	if need > uint64(sys.mem.Size()) {
		return fmt.Errorf("demo: needs %d bytes of memory, have %d", need, sys.mem.Size())
	}
	dev := &blockdev.Device{
		DMA:       sys.reg,
		Cache:     &cache.Recorder{Line: sys.board.CacheLine},
		BlockSize: demoBlockSize,
		Blocks:    storeBlocks,
		Priority:  4,
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		verified uint64
		busy     int
	)
	for w := range *workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first := uint32(w * *perWorker)
			buf := storeBlocks*demoBlockSize + uint32(w)*span
			for i := range *requests {
				n := uint32(1 + (w+i)%*perWorker)
				lba := first + uint32(i*7)%(uint32(*perWorker)-n+1)
				size := int(n * demoBlockSize)
				pattern := bytes.Repeat([]byte{byte(w), byte(i), byte(n)}, size/3+1)[:size]
				retries, err := roundTrip(ctx, sys, dev, lba, buf, n, pattern)
				mu.Lock()
				busy += retries
				if err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("demo: worker %d request %d: %w", w, i, err)
					}
					mu.Unlock()
					cancel()
					return
				}
				verified += uint64(size)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	st := sys.reg.Stats()
	fmt.Fprintf(stdout, "demo: %d workers, %d bytes verified, %d busy retries\n", *workers, verified, busy)
	fmt.Fprintf(stdout, "demo: %d interrupts, %d callbacks, %d spurious, %d ignored\n",
		st.Interrupts, st.Dispatched, st.Spurious, st.Ignored)
	if leaks := sys.reg.Outstanding(); len(leaks) > 0 {
		return fmt.Errorf("demo: %d channels not released", len(leaks))
	}
	return nil
}

// roundTrip writes pattern through the device and reads it back,
// retrying while every channel is in use.
func roundTrip(ctx context.Context, sys *system, dev *blockdev.Device, lba, buf, n uint32, pattern []byte) (int, error) {
	retries := 0
	retry := func(op func() error) error {
		for {
			err := op()
			if !errors.Is(err, blockdev.ErrBusy) {
				return err
			}
			retries++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	if err := sys.mem.Write(buf, pattern); err != nil {
		return retries, err
	}
	if err := retry(func() error { return dev.WriteBlocks(ctx, lba, buf, n) }); err != nil {
		return retries, err
	}
	if err := sys.mem.Write(buf, make([]byte, len(pattern))); err != nil {
		return retries, err
	}
	if err := retry(func() error { return dev.ReadBlocks(ctx, lba, buf, n) }); err != nil {
		return retries, err
	}
	got, err := sys.mem.Read(buf, len(pattern))
	if err != nil {
		return retries, err
	}
	if !bytes.Equal(got, pattern) {
		return retries, fmt.Errorf("blocks %d+%d read back corrupted", lba, n)
	}
	return retries, nil
}
