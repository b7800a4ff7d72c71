// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package iochannel implements a thin synchronous byte pipe over a
// character device file descriptor, with a per-operation timeout, an
// optional temporary switch to blocking I/O, and an optional "drain
// pending input before writing" flag.
//
// It is the lowest layer of the RMI4 transport stack: both host/
// hidtransport and host/ps2transport read and write their device nodes
// exclusively through a *Channel.
package iochannel
