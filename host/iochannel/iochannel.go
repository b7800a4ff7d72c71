// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package iochannel

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"periph.io/x/rmi4/conn/rmi4"
)

// Flags is a small closed bitset controlling how a Channel operation
// behaves.
type Flags uint8

const (
	// FlagNone requests default behavior: loop until want bytes are
	// accumulated, using non-blocking I/O bounded by timeout.
	FlagNone Flags = 0
	// FlagSingleShot performs exactly one syscall and returns whatever it
	// read or wrote, rather than looping to fill the caller's buffer.
	FlagSingleShot Flags = 1 << 0
	// FlagUseBlockingIO temporarily clears O_NONBLOCK for the duration of
	// the operation.
	FlagUseBlockingIO Flags = 1 << 1
	// FlagFlushInput drains any pending input before a write.
	FlagFlushInput Flags = 1 << 2
)

// Has reports whether f is set in flags.
func (flags Flags) Has(f Flags) bool {
	return flags&f != 0
}

// Channel is a synchronous byte pipe over one open character device. It is
// not safe for concurrent use; per spec, the core is single-threaded and
// the caller serializes access to one device.
type Channel struct {
	mu   sync.Mutex
	fd   int
	path string
}

// Open opens path read/write, non-blocking by default.
func Open(path string) (*Channel, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, rmi4.WrapError(rmi4.KindIO, "iochannel: open "+path, err)
	}
	return &Channel{fd: fd, path: path}, nil
}

// newChannel wraps an already-open, non-blocking fd. Used directly by
// tests against pipe fds in lieu of a real character device.
func newChannel(fd int, path string) *Channel {
	return &Channel{fd: fd, path: path}
}

// Fd returns the underlying file descriptor, for use by host/ioctlgw.
func (c *Channel) Fd() int {
	return c.fd
}

// String identifies the channel by device path.
func (c *Channel) String() string {
	return "iochannel(" + c.path + ")"
}

// Close closes the underlying file descriptor.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return rmi4.WrapError(rmi4.KindIO, "iochannel: close "+c.path, err)
}

// waitReadable blocks up to timeout for the fd to become readable. A
// zero-or-negative timeout waits forever.
func (c *Channel) waitReadable(timeout time.Duration) error {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return rmi4.WrapError(rmi4.KindIO, "iochannel: poll", err)
		}
		if n == 0 {
			return rmi4.NewError(rmi4.KindTimedOut, "iochannel: read")
		}
		return nil
	}
}

// withBlockingIO runs fn with O_NONBLOCK cleared if flags requests it,
// restoring the previous mode afterward.
func (c *Channel) withBlockingIO(flags Flags, fn func() error) error {
	if !flags.Has(FlagUseBlockingIO) {
		return fn()
	}
	if err := unix.SetNonblock(c.fd, false); err != nil {
		return rmi4.WrapError(rmi4.KindIO, "iochannel: set blocking", err)
	}
	defer unix.SetNonblock(c.fd, true)
	return fn()
}

// drainInput reads and discards any input currently queued, without
// blocking.
func (c *Channel) drainInput() error {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return rmi4.WrapError(rmi4.KindIO, "iochannel: drain", err)
		}
		if n <= 0 {
			return nil
		}
	}
}

// ReadRaw reads into buf, accumulating up to want bytes (or, with
// FlagSingleShot, whatever one read syscall returns) within timeout. It
// returns the number of bytes actually read.
func (c *Channel) ReadRaw(buf []byte, want int, timeout time.Duration, flags Flags) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if want > len(buf) {
		want = len(buf)
	}
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	total := 0
	err := c.withBlockingIO(flags, func() error {
		for total < want {
			remaining := timeout
			if !deadline.IsZero() {
				remaining = time.Until(deadline)
				if remaining <= 0 {
					return rmi4.NewError(rmi4.KindTimedOut, "iochannel: read")
				}
			}
			if err := c.waitReadable(remaining); err != nil {
				return err
			}
			n, rerr := unix.Read(c.fd, buf[total:want])
			if rerr != nil {
				if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
					continue
				}
				return rmi4.WrapError(rmi4.KindIO, "iochannel: read", rerr)
			}
			total += n
			if flags.Has(FlagSingleShot) {
				return nil
			}
			if n == 0 {
				return rmi4.NewError(rmi4.KindIO, "iochannel: read: eof")
			}
		}
		return nil
	})
	return total, err
}

// Read is ReadRaw into a freshly allocated buffer of exactly want bytes on
// success.
func (c *Channel) Read(want int, timeout time.Duration, flags Flags) ([]byte, error) {
	buf := make([]byte, want)
	n, err := c.ReadRaw(buf, want, timeout, flags)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write writes all of data within timeout. If flags requests FlagFlushInput,
// pending input is drained first.
func (c *Channel) Write(data []byte, timeout time.Duration, flags Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if flags.Has(FlagFlushInput) {
		if err := c.drainInput(); err != nil {
			return err
		}
	}
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	return c.withBlockingIO(flags, func() error {
		total := 0
		for total < len(data) {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return rmi4.NewError(rmi4.KindTimedOut, "iochannel: write")
			}
			n, err := unix.Write(c.fd, data[total:])
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					continue
				}
				return rmi4.WrapError(rmi4.KindIO, "iochannel: write", err)
			}
			total += n
			if flags.Has(FlagSingleShot) {
				return nil
			}
		}
		return nil
	})
}
