package main

import (
	"context"
	"errors"
	"log"

	"periph.io/x/host/v3"
	"xdmac.dev/board"
	"xdmac.dev/driver/sama5"
)

func openHardware(b *board.Board, opts *options) (*system, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	var logger *log.Logger
	if opts.verbose {
		logger = log.Default()
	}
	s, err := sama5.Open(b, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.IRQ.Serve(ctx)
	}()
	return &system{
		board: b,
		reg:   s.DMA,
		close: func() error {
			cancel()
			err := <-done
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return errors.Join(err, s.Close())
		},
	}, nil
}
