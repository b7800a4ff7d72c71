// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioctlgw

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"periph.io/x/rmi4/conn/rmi4"
)

type fixedFd struct{ fd int }

func (f fixedFd) Fd() int { return f.fd }

func TestExecuteOnNonHIDFdFails(t *testing.T) {
	f, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer f.Close()

	gw := New(fixedFd{fd: int(f.Fd())})
	buf := []byte{0x0F, 0x01}
	err = gw.Execute(buf, time.Second, FlagNone)
	if err == nil {
		t.Fatalf("expected an error against a non-HID fd")
	}
	if !rmi4.Is(err, rmi4.KindIO) {
		t.Fatalf("expected KindIO, got %v", err)
	}
}

func TestClassifyErrnoPermissionDenied(t *testing.T) {
	for _, errno := range []unix.Errno{unix.EACCES, unix.EPERM} {
		if got := classifyErrno(errno); got != rmi4.KindPermissionDenied {
			t.Fatalf("classifyErrno(%v) = %v, want KindPermissionDenied", errno, got)
		}
	}
}

func TestClassifyErrnoOtherIsIO(t *testing.T) {
	if got := classifyErrno(unix.ENOTTY); got != rmi4.KindIO {
		t.Fatalf("classifyErrno(ENOTTY) = %v, want KindIO", got)
	}
}

func TestIocCmdMatchesHIDIOCSFEATURE2(t *testing.T) {
	// HIDIOCSFEATURE(2) per the Linux kernel's hidraw ABI is 0xc0024806
	// for a 2-byte buffer.
	got := hidiocSFeature(2)
	const want = 0xc0024806
	if got != want {
		t.Fatalf("hidiocSFeature(2) = %#x, want %#x", got, uintptr(want))
	}
}
