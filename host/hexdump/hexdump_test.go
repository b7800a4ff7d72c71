// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hexdump

import (
	"bytes"
	"strings"
	"testing"

	"periph.io/x/rmi4/conn/rmi4"
)

func TestDumpWritesLabelAndOffset(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriter(&buf, false)
	d.Dump("R", rmi4.RmiAddress(0x0412), []byte{0x00, 0x01, 0x02})

	out := buf.String()
	if !strings.HasPrefix(out, "R 0x0412:\n") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "00 01 02") {
		t.Fatalf("expected hex bytes in output, got %q", out)
	}
}

func TestDumpWrapsAtSixteenBytesPerRow(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriter(&buf, false)
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	d.Dump("W", rmi4.RmiAddress(0x0000), data)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// header + 2 rows (16 bytes, then 4 bytes).
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
	}
}

func TestDumpRendersPrintableAsciiColumn(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriter(&buf, false)
	d.Dump("R", rmi4.RmiAddress(0x0000), []byte("Hi!\x00"))

	if !strings.Contains(buf.String(), "Hi!.") {
		t.Fatalf("expected ascii column with a dot for the non-printable byte, got %q", buf.String())
	}
}

func TestDumpColorModeEmitsResetCodes(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriter(&buf, true)
	d.Dump("R", rmi4.RmiAddress(0x0000), []byte{0xFF})

	if !strings.Contains(buf.String(), "\033[0m") {
		t.Fatalf("expected an ANSI reset code in colorized output, got %q", buf.String())
	}
}
