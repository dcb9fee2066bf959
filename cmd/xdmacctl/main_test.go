package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdmac.dev/board"
)

func TestSplit(t *testing.T) {
	out := exec(t, "", "split -ublen 65536 -blocks 4096 5000 65536 196608 65537")
	want := "5000: 5000 x 1\n65536: 65536 x 1\n196608: 65536 x 3\n65537: unsupported\n"
	if out != want {
		t.Errorf("split printed\n%s\nwant\n%s", out, want)
	}
	if _, err := execErr("", "split"); err == nil {
		t.Error("split without lengths succeeded")
	}
	if _, err := execErr("", "split x"); err == nil {
		t.Error("split of a non-number succeeded")
	}
}

func TestBoard(t *testing.T) {
	file := filepath.Join(t.TempDir(), "board.cbor")
	out := exec(t, "", "board -o %s", file)
	if !strings.HasPrefix(out, "sama5d2: 2 controllers, 32 channels") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	// The written description reads back identically.
	again := exec(t, "", "-board %s board", file)
	if again != out {
		t.Errorf("board read back as\n%s\nwant\n%s", again, out)
	}
	if _, err := execErr("", "board -i "+filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing board file accepted")
	}
}

func TestDemo(t *testing.T) {
	out := exec(t, "", "demo -workers 40 -requests 10 -blocks 4")
	if !strings.Contains(out, "40 workers, ") || !strings.Contains(out, "bytes verified") {
		t.Errorf("unexpected demo output:\n%s", out)
	}
}

func TestDemoSmallBoard(t *testing.T) {
	b := board.SAMA5D2
	b.Controllers = []board.Controller{b.Controllers[0]}
	b.Controllers[0].Channels = 2
	b.MaxMicroblock = 100
	b.MaxBlocks = 2
	data, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "small.cbor")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatal(err)
	}
	out := exec(t, "", "-board %s demo -workers 4 -requests 5", file)
	if !strings.Contains(out, "bytes verified") {
		t.Errorf("unexpected demo output:\n%s", out)
	}
}

func TestShell(t *testing.T) {
	script := strings.Join([]string{
		"alloc 3",
		"write 0 hello world",
		"copy 1 0 256 11",
		"wait 1",
		"read 256 11",
		"size 1 65537",
		"release 1",
		"release 1",
		"bogus",
		"stats",
		"quit",
		"alloc",
	}, "\n")
	out := exec(t, script, "shell")
	for _, want := range []string{
		"channel 1: controller 0 channel 0",
		"channel 1: BI|LI",
		`0x100: "hello world"`,
		"65537: 65537 x 1",
		"no channel 1",
		`unknown command "bogus"`,
		"dispatched 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("shell output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "channel 2") {
		t.Error("shell kept reading after quit")
	}
}

func TestShellLeaks(t *testing.T) {
	out := exec(t, "alloc\nalloc\nrelease 1\nleaks\n", "shell")
	if !strings.Contains(out, "2\tcontroller 0 channel 1") {
		t.Errorf("leak report lacks channel 2:\n%s", out)
	}
	if strings.Contains(out, "1\tcontroller 0 channel 0") {
		t.Errorf("leak report lists a released channel:\n%s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := execErr("", "frobnicate"); err == nil {
		t.Error("unknown command accepted")
	}
	if _, err := execErr("", ""); err == nil {
		t.Error("missing command accepted")
	}
}

func exec(t *testing.T, stdin string, cmd string, args ...any) string {
	t.Helper()
	cmdline := fmt.Sprintf(cmd, args...)
	stdout, err := execErr(stdin, cmdline)
	if err != nil {
		t.Fatalf("'xdmacctl %s' reported '%v'", cmdline, err)
	}
	return stdout
}

func execErr(stdin, cmd string) (string, error) {
	stdout := new(bytes.Buffer)
	err := run(stdout, strings.NewReader(stdin), strings.Fields(cmd))
	return stdout.String(), err
}
