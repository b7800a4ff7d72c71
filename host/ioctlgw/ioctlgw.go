// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioctlgw

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/rmi4/conn/rmi4"
)

// Linux _IOC() direction bits, mirrored here because no ioctl-number
// library is a dependency of this module; see DESIGN.md.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// iocCmd computes the Linux ioctl command code for the given direction,
// type character, request number and payload size, per the standard
// _IOC() encoding used throughout linux/ioctl.h.
func iocCmd(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// HIDIOCSFEATURE is the "set feature report" ioctl for a hidraw device,
// parameterized by the report buffer's size.
func hidiocSFeature(size int) uintptr {
	return iocCmd(iocWrite|iocRead, 'H', 0x06, uintptr(size))
}

// Flags mirrors iochannel.Flags for the single flag ioctlgw understands.
type Flags uint8

const (
	// FlagNone requests default behavior.
	FlagNone Flags = 0
)

// fder is the subset of *iochannel.Channel that ioctlgw needs. Declared
// locally so ioctlgw does not import iochannel, keeping the two host/
// packages independent the way hidtransport composes them.
type fder interface {
	Fd() int
}

// Gateway executes ioctls against one open character device.
type Gateway struct {
	ch fder
}

// New wraps an open channel-like fd source.
func New(ch fder) *Gateway {
	return &Gateway{ch: ch}
}

// classifyErrno maps an ioctl(2) errno to its rmi4.Kind: EACCES/EPERM
// mean the caller lost access to the device (e.g. it already detached
// ahead of a replug), everything else is an opaque I/O failure.
func classifyErrno(errno unix.Errno) rmi4.Kind {
	if errno == unix.EACCES || errno == unix.EPERM {
		return rmi4.KindPermissionDenied
	}
	return rmi4.KindIO
}

// Execute runs HIDIOCSFEATURE with buf as the report payload (buf[0] is
// the report id), bounded by timeout. buf is mutated in place by the
// kernel driver on return, mirroring ioctl(2) semantics.
func (g *Gateway) Execute(buf []byte, timeout time.Duration, flags Flags) error {
	cmd := hidiocSFeature(len(buf))
	done := make(chan error, 1)
	go func() {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(g.ch.Fd()), cmd, uintptr(unsafe.Pointer(&buf[0])))
		if errno != 0 {
			done <- rmi4.WrapError(classifyErrno(errno), "ioctlgw: HIDIOCSFEATURE", errno)
			return
		}
		done <- nil
	}()
	if timeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return rmi4.NewError(rmi4.KindTimedOut, "ioctlgw: HIDIOCSFEATURE")
	}
}
