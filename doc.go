// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rmi4 is for documentation only.
//
// rmi4 implements the transport-and-framing core used to talk to Synaptics
// RMI4 touch devices over two physical buses: HID (hidraw) and PS/2
// (psmouse/serio_raw). It does not scan the device's Page Description
// Table, does not implement the F34 flash programming algorithm, and does
// not enumerate devices; those concerns belong to a consumer built on top
// of the conn/rmi4 interfaces.
//
// Package layout
//
// conn/rmi4 declares the register-level contract (RmiTransport) and the
// shared data model (RmiAddress, TransportFlags, Device, errors).
//
// host/iochannel, host/ioctlgw, host/hidtransport, host/ps2transport and
// host/sysfsrebind implement that contract and its supporting plumbing over
// Linux character devices and sysfs.
//
// host/hexdump renders register dumps for interactive use.
//
// cmd/rmi4ctl is a small command line tool exercising the library against a
// real device node, in the style of periph's cmd/d2xx.
package rmi4
