// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rmi4 declares the register-level contract a Synaptics RMI4
// transport must implement, and the data model shared by the HID and PS/2
// implementations in host/hidtransport and host/ps2transport.
package rmi4

import (
	"time"

	"periph.io/x/periph/conn"
)

// RmiAddress is a 16-bit RMI register address. The high byte selects the
// page (0..=MaxPage); the low byte is the in-page offset.
type RmiAddress uint16

// Page returns the page-select byte for this address, i.e. a >> 8.
func (a RmiAddress) Page() byte {
	return byte(a >> 8)
}

// Offset returns the in-page offset byte for this address.
func (a RmiAddress) Offset() byte {
	return byte(a)
}

// Well-known RMI addresses reused across both buses.
const (
	// PageSelectRegister is the in-page register used to switch pages.
	PageSelectRegister RmiAddress = 0x00FF
	// BusSelectRegister is the RMI address used by write_bus_select.
	BusSelectRegister RmiAddress = 0x00FE
)

// TransportFlags is a small closed bitset passed per-call to transport
// operations.
type TransportFlags uint8

const (
	// FlagNone requests default behavior.
	FlagNone TransportFlags = 0
	// FlagAllowFailure suppresses an ACK-exhausted error; used for RESET,
	// which intentionally yields no ACK.
	FlagAllowFailure TransportFlags = 1 << 0
	// FlagForce bypasses the "already in IEP mode" short-circuit.
	FlagForce TransportFlags = 1 << 1
)

// Has reports whether f is set in flags.
func (flags TransportFlags) Has(f TransportFlags) bool {
	return flags&f != 0
}

// DeviceFlags are the capability/state flags carried on Device.
type DeviceFlags uint32

const (
	// FlagIsBootloader marks a PS/2 device currently bound to serio_raw
	// rather than psmouse.
	FlagIsBootloader DeviceFlags = 1 << iota
	// FlagWaitForReplug is set immediately before an unbind, so the
	// consuming shell can suspend teardown until the replug event
	// arrives.
	FlagWaitForReplug
	// FlagInternal marks an internal (non-removable) device.
	FlagInternal
)

// RmiFunction describes one RMI function discovered via the PDT by the
// consumer of this package. number is e.g. 0x01 (control) or 0x34 (flash).
type RmiFunction struct {
	Number          uint8
	FunctionVersion uint8
	ControlBase     RmiAddress
	DataBase        RmiAddress
	QueryBase       RmiAddress
	CommandBase     RmiAddress
}

// FunctionTable resolves RMI functions discovered during PDT scan. PDT scan
// itself is out of scope for this module; a consumer populates and owns
// one, and RmiTransport implementations take a borrowed reference.
type FunctionTable interface {
	// Function returns the descriptor for the given function number, or
	// an error if it is not present on the device.
	Function(number uint8) (*RmiFunction, error)
}

// FlashStateMachine is the F34 v5/v7 flash programming state machine. It is
// out of scope for this module: the transport only dispatches to it by F34
// function version, per spec.
type FlashStateMachine interface {
	// Detach begins the flash-mode handshake on the device side, reporting
	// progress through sink.
	Detach(sink ProgressSink) error
	// QueryStatus asks the flash state machine to report its status,
	// surfacing any flash-side error.
	QueryStatus() error
}

// ProgressSink receives the transport's standard progress-step layout. The
// transport does not measure progress, only publishes the weights below;
// measuring and rendering is a consumer concern.
type ProgressSink interface {
	Step(name string, percent int)
}

// DiscardProgress is a ProgressSink that discards every step, for callers
// that do not care to observe progress.
var DiscardProgress ProgressSink = discardProgress{}

type discardProgress struct{}

func (discardProgress) Step(string, int) {}

// ProgressWeights is the standard progress-step layout published by the
// transport to the update pipeline. The numbers are percentage points of
// the overall firmware update, and sum to 100.
var ProgressWeights = []struct {
	Name    string
	Percent int
}{
	{"prepare-fw", 0},
	{"detach", 3},
	{"write", 88},
	{"attach", 7},
	{"reload", 2},
}

// MaxPage values, per transport.
const (
	HidMaxPage RmiAddress = 0xFF
	Ps2MaxPage RmiAddress = 0x01
)

// RmiTransport is the register-level contract consumed by the function
// layer above it. Implementations are HidTransport and Ps2Transport. All
// operations are synchronous; the transport takes no lock of its own (the
// caller serializes operations on one device) and performs no internal
// retries beyond those documented on the implementing type.
//
// RmiTransport embeds conn.Resource so it composes with periph's
// lifecycle conventions: String identifies the underlying device node and
// Halt releases it best-effort (there is no in-flight cancellation; Halt
// is equivalent to Close).
type RmiTransport interface {
	conn.Resource

	// Read returns exactly reqSz bytes read starting at addr, or an
	// error. reqSz > 0xFFFF is always an error.
	Read(addr RmiAddress, reqSz int) ([]byte, error)
	// ReadPacketRegister behaves like Read but does not reissue the
	// per-register addressing sequence between bytes (used for
	// contiguous packet registers).
	ReadPacketRegister(addr RmiAddress, reqSz int) ([]byte, error)
	// Write delivers data at addr. With FlagAllowFailure on PS/2, a
	// write that exhausts its ACK retries still returns nil.
	Write(addr RmiAddress, data []byte, flags TransportFlags) error
	// SetPage selects the register page. Callers must not pass page >
	// MaxPage(); behavior is undefined if they do.
	SetPage(page byte) error
	// WaitForAttention blocks (PS/2: merely sleeps) until an attention
	// report carrying one of the bits in sourceMask arrives, or timeout
	// elapses.
	WaitForAttention(sourceMask byte, timeout time.Duration) error
	// EnterIEPMode is a no-op if device.IEPMode() is already true, unless
	// FlagForce is set; on success over PS/2 it sets device's iepmode true.
	// HID has no IEP mode: its EnterIEPMode returns nil and leaves iepmode
	// unchanged.
	EnterIEPMode(device *Device, flags TransportFlags) error
	// WriteBusSelect writes one byte at BusSelectRegister.
	WriteBusSelect(bus byte) error
	// QueryBuildID returns the firmware build id (low 24 bits of the
	// folded status response). It clears device's iepmode.
	QueryBuildID(device *Device) (uint32, error)
	// QueryProductSubID returns the product sub-id (byte 1 of the
	// folded READ_CAPABILITIES response).
	QueryProductSubID() (uint8, error)
	// QueryStatus dispatches to the flash state machine's QueryStatus by
	// F34 version.
	QueryStatus(functions FunctionTable, fsm FlashStateMachine) error
	// DisableSleep sets NOSLEEP and clears the sleep-mode bits.
	DisableSleep(functions FunctionTable) error
	// SetMaxPage overrides the transport's page ceiling. Used in tests;
	// production transports set it at construction.
	SetMaxPage(page RmiAddress)
	// MaxPage returns the transport's current page ceiling.
	MaxPage() RmiAddress

	// Detach dispatches to the flash state machine by F34 version, then
	// forces re-enumeration (Rebind on HID; drvctl switch on PS/2). sink
	// is passed through to fsm.Detach; the transport itself reports no
	// progress steps to it. device's IS_BOOTLOADER/WAIT_FOR_REPLUG flags are updated as the
	// transition proceeds.
	Detach(device *Device, functions FunctionTable, fsm FlashStateMachine, sink ProgressSink) error
	// Attach reverses Detach, returning the device to its runtime mode.
	// It is a no-op unless device.IsBootloader().
	Attach(device *Device, functions FunctionTable, fsm FlashStateMachine, sink ProgressSink) error
}

// DispatchF34 looks up the F34 flash function and validates that its
// reported version is one this module knows how to dispatch for (0 or 1
// for the v5 flash state machine, 2 for v7). The actual v5-vs-v7 behavior
// lives entirely in the caller-supplied FlashStateMachine; DispatchF34
// only performs the version check spec to both transports' query_status
// and detach paths.
func DispatchF34(functions FunctionTable) (version uint8, err error) {
	f, ferr := functions.Function(0x34)
	if ferr != nil {
		return 0, WrapError(KindNotSupported, "dispatch f34", ferr)
	}
	switch f.FunctionVersion {
	case 0, 1, 2:
		return f.FunctionVersion, nil
	default:
		return f.FunctionVersion, NewError(KindNotSupported, "dispatch f34: unknown function version")
	}
}

// Device is a concrete touch device bound to one transport. It owns the
// transport by composition; the function layer above it receives only a
// borrowed *Device, never ownership.
type Device struct {
	Name        string
	VendorID    uint16
	RemoveDelay time.Duration
	Transport   RmiTransport

	flags   DeviceFlags
	iepmode bool
}

// NewDevice wraps transport with the given name/vendor id/remove-delay
// hint. The returned Device owns transport; callers must not use
// transport directly after handing it to NewDevice.
func NewDevice(name string, vendorID uint16, removeDelay time.Duration, transport RmiTransport) *Device {
	return &Device{Name: name, VendorID: vendorID, RemoveDelay: removeDelay, Transport: transport}
}

// HasFlag reports whether f is set.
func (d *Device) HasFlag(f DeviceFlags) bool {
	return d.flags&f != 0
}

// SetFlag sets f.
func (d *Device) SetFlag(f DeviceFlags) {
	d.flags |= f
}

// ClearFlag clears f.
func (d *Device) ClearFlag(f DeviceFlags) {
	d.flags &^= f
}

// IEPMode reports whether the device is currently in Intelligent
// Entry-Point mode. Meaningful only on PS/2; HidTransport never sets it.
func (d *Device) IEPMode() bool {
	return d.iepmode
}

// SetIEPMode sets the iepmode bit directly. Per spec, an explicit
// set_iepmode(false) is only permitted before a reset or a build-id query;
// RmiTransport implementations call this rather than callers reaching in
// directly.
func (d *Device) SetIEPMode(v bool) {
	d.iepmode = v
}

// IsBootloader reports whether the device is currently bound to its
// bootloader-mode driver (serio_raw on PS/2; HID has no equivalent kernel
// driver swap and never carries this flag).
func (d *Device) IsBootloader() bool {
	return d.HasFlag(FlagIsBootloader)
}

// Close releases the underlying transport.
func (d *Device) Close() error {
	return d.Transport.Halt()
}

// EnterIEPMode asks the transport to enter IEP mode, passing itself so the
// transport can consult and update d's iepmode bit.
func (d *Device) EnterIEPMode(flags TransportFlags) error {
	return d.Transport.EnterIEPMode(d, flags)
}

// QueryBuildID asks the transport for the firmware build id.
func (d *Device) QueryBuildID() (uint32, error) {
	return d.Transport.QueryBuildID(d)
}

// Detach asks the transport to hand the device to the flash state machine
// and force re-enumeration into bootloader mode.
func (d *Device) Detach(functions FunctionTable, fsm FlashStateMachine, sink ProgressSink) error {
	return d.Transport.Detach(d, functions, fsm, sink)
}

// Attach asks the transport to return the device to runtime mode.
func (d *Device) Attach(functions FunctionTable, fsm FlashStateMachine, sink ProgressSink) error {
	return d.Transport.Attach(d, functions, fsm, sink)
}
