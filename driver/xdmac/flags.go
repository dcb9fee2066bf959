package xdmac

import (
	"errors"
	"strings"
)

// Flags is a set of channel interrupt conditions. The same bit
// layout is used by the CIE, CID, CIM and CIS registers.
type Flags uint32

const (
	// EndOfBlock is raised when a block transfer completes.
	EndOfBlock Flags = 0b1 << iota
	// LastMicroblock is raised at the end of the last microblock
	// of the transfer.
	LastMicroblock
	// Disabled is raised when a channel disable completes.
	Disabled
	// Flushed is raised when a flush request completes.
	Flushed
	ReadBusError
	WriteBusError
	RequestOverflow

	AllFlags = EndOfBlock | LastMicroblock | Disabled | Flushed |
		ReadBusError | WriteBusError | RequestOverflow
	// BusErrors are the conditions reporting a failed transfer.
	BusErrors = ReadBusError | WriteBusError | RequestOverflow
)

var (
	ErrReadBus         = errors.New("xdmac: read bus error")
	ErrWriteBus        = errors.New("xdmac: write bus error")
	ErrRequestOverflow = errors.New("xdmac: request overflow")
)

// Err returns the error reported by the flags, if any.
func (f Flags) Err() error {
	var errs []error
	if f&ReadBusError != 0 {
		errs = append(errs, ErrReadBus)
	}
	if f&WriteBusError != 0 {
		errs = append(errs, ErrWriteBus)
	}
	if f&RequestOverflow != 0 {
		errs = append(errs, ErrRequestOverflow)
	}
	return errors.Join(errs...)
}

var flagNames = []string{"BI", "LI", "DI", "FI", "RBEI", "WBEI", "ROI"}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var names []string
	for i, n := range flagNames {
		if f&(0b1<<i) != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, "|")
}
