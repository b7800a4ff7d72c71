// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hexdump

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"periph.io/x/rmi4/conn/rmi4"
)

const bytesPerRow = 16

// Dumper renders labeled register dumps, one line per up-to-16 bytes, in
// the "R 0xNNNN: ..." / "W 0xNNNN: ..." shape the original plugin logs at
// debug level on every register exchange.
type Dumper struct {
	w     io.Writer
	color bool
}

// New returns a Dumper writing to stdout, colorized if stdout is a real
// terminal.
func New() *Dumper {
	f := os.Stdout
	return &Dumper{
		w:     colorable.NewColorable(f),
		color: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
	}
}

// NewWriter returns a Dumper over an arbitrary writer, with color forced
// on or off explicitly. Used in tests, and for writers that are not a
// console (files, pipes).
func NewWriter(w io.Writer, color bool) *Dumper {
	return &Dumper{w: w, color: color}
}

// Dump writes one labeled dump of data, read from or written to addr.
// verb is "R" or "W", matching the original plugin's debug log prefix.
func (d *Dumper) Dump(verb string, addr rmi4.RmiAddress, data []byte) {
	fmt.Fprintf(d.w, "%s 0x%04x:\n", verb, uint16(addr))
	for off := 0; off < len(data); off += bytesPerRow {
		end := off + bytesPerRow
		if end > len(data) {
			end = len(data)
		}
		d.dumpRow(off, data[off:end])
	}
}

func (d *Dumper) dumpRow(off int, row []byte) {
	fmt.Fprintf(d.w, "  %04x  ", off)
	for _, b := range row {
		if d.color {
			io.WriteString(d.w, d.colorByte(b))
		} else {
			fmt.Fprintf(d.w, "%02x ", b)
		}
	}
	for i := len(row); i < bytesPerRow; i++ {
		io.WriteString(d.w, "   ")
	}
	io.WriteString(d.w, " ")
	for _, b := range row {
		if b >= 0x20 && b < 0x7f {
			d.w.Write([]byte{b})
		} else {
			io.WriteString(d.w, ".")
		}
	}
	io.WriteString(d.w, "\n")
}

// colorByte renders b as a two-digit hex byte, shaded by its own value
// via the 256-color ramp: 0x00 stays dim, 0xff is brightest.
func (d *Dumper) colorByte(b byte) string {
	block := ansi256.Default.Block(color.NRGBA{R: b, G: b, B: b, A: 255})
	return fmt.Sprintf("%s\033[0m%02x ", block, b)
}
