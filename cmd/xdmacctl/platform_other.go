//go:build !linux

package main

import (
	"errors"

	"xdmac.dev/board"
)

func openHardware(b *board.Board, opts *options) (*system, error) {
	return nil, errors.New("hardware access requires Linux")
}
