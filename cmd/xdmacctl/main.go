// Command xdmacctl inspects and exercises the XDMAC channel
// manager, against simulated controllers or, on Linux, the
// hardware.
//
// Usage:
//
//	xdmacctl [flags] split [-ublen n] [-blocks n] length...
//	xdmacctl [flags] board [-i file] [-o file]
//	xdmacctl [flags] demo [-requests n] [-workers n]
//	xdmacctl [flags] shell
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/tarm/serial"
	"xdmac.dev/board"
	"xdmac.dev/dma"
	"xdmac.dev/transfer"
)

func main() {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if err := run(os.Stdout, os.Stdin, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "xdmacctl: %v\n", err)
		os.Exit(2)
	}
}

// options are the flags common to all commands.
type options struct {
	board   string
	hw      bool
	serial  string
	baud    int
	verbose bool
	debug   bool
	memSize int
}

func run(stdout io.Writer, stdin io.Reader, args []string) error {
	var opts options
	fs := flag.NewFlagSet("xdmacctl", flag.ContinueOnError)
	fs.StringVar(&opts.board, "board", "", "CBOR board description (default SAMA5D2)")
	fs.BoolVar(&opts.hw, "hw", false, "use the hardware instead of simulated controllers")
	fs.StringVar(&opts.serial, "serial", "", "mirror the log to a serial port")
	fs.IntVar(&opts.baud, "baud", 115200, "serial port baud rate")
	fs.BoolVar(&opts.verbose, "v", false, "log channel registry diagnostics")
	fs.BoolVar(&opts.debug, "debug", false, "panic on channel misuse")
	fs.IntVar(&opts.memSize, "mem", 1<<20, "simulated memory size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing command (split, board, demo, shell)")
	}
	if opts.serial != "" {
		port, err := serial.OpenPort(&serial.Config{Name: opts.serial, Baud: opts.baud})
		if err != nil {
			return fmt.Errorf("serial: %w", err)
		}
		defer port.Close()
		prev := log.Writer()
		log.SetOutput(io.MultiWriter(prev, port))
		defer log.SetOutput(prev)
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "split":
		return splitCmd(stdout, args)
	case "board":
		return boardCmd(stdout, &opts, args)
	case "demo", "shell":
		b, err := loadBoard(opts.board)
		if err != nil {
			return err
		}
		sys, err := openSystem(b, &opts)
		if err != nil {
			return err
		}
		if cmd == "demo" {
			err = demoCmd(stdout, sys, args)
		} else {
			err = shellCmd(stdout, stdin, sys, args)
		}
		return errors.Join(err, sys.Close())
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func splitCmd(stdout io.Writer, args []string) error {
	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	ublen := fs.Uint("ublen", uint(transfer.XDMAC.MaxMicroblock), "maximum microblock length")
	blocks := fs.Uint("blocks", uint(transfer.XDMAC.MaxBlocks), "maximum block count")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("split: missing length")
	}
	lim := transfer.Limits{MaxMicroblock: uint32(*ublen), MaxBlocks: uint32(*blocks)}
	for _, arg := range fs.Args() {
		n, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return fmt.Errorf("split: %w", err)
		}
		s, err := transfer.Split(uint32(n), lim)
		switch {
		case errors.Is(err, transfer.ErrUnsupported):
			fmt.Fprintf(stdout, "%d: unsupported\n", n)
		case err != nil:
			return fmt.Errorf("split: %w", err)
		default:
			fmt.Fprintf(stdout, "%d: %d x %d\n", n, s.Microblock, s.Blocks)
		}
	}
	return nil
}

func boardCmd(stdout io.Writer, opts *options, args []string) error {
	fs := flag.NewFlagSet("board", flag.ContinueOnError)
	in := fs.String("i", opts.board, "read the description from file")
	out := fs.String("o", "", "write the description to file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := loadBoard(*in)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d controllers, %d channels, limits %d x %d, cache line %d\n",
		b.Name, len(b.Controllers), b.Channels(), b.MaxMicroblock, b.MaxBlocks, b.CacheLine)
	for _, c := range b.Controllers {
		fmt.Fprintf(stdout, "\tid %d @ %#x: %d channels", c.ID, c.Base, c.Channels)
		if c.UIO != "" {
			fmt.Fprintf(stdout, " (%s)", c.UIO)
		}
		fmt.Fprintln(stdout)
	}
	if *out == "" {
		return nil
	}
	data, err := b.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

func loadBoard(path string) (*board.Board, error) {
	if path == "" {
		b := board.SAMA5D2
		return &b, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return board.Decode(data)
}

func registryConfig(b *board.Board, opts *options) dma.Config {
	conf := dma.Config{
		Limits: b.Limits(),
		Debug:  opts.debug,
	}
	if opts.verbose {
		conf.Log = log.Default()
	}
	return conf
}
