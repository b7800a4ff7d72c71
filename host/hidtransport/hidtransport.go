// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hidtransport

import (
	"time"

	"periph.io/x/rmi4/conn/rmi4"
	"periph.io/x/rmi4/host/iochannel"
	"periph.io/x/rmi4/host/ioctlgw"
	"periph.io/x/rmi4/host/sysfsrebind"
)

// frameSize is the fixed HID report envelope size used by every exchange.
const frameSize = 21

// Report ids, per the 0x09..0x0F HID report family this transport speaks.
const (
	reportWrite    = 0x09
	reportReadAddr = 0x0A
	reportReadData = 0x0B
	reportAttn     = 0x0C
	reportSetMode  = 0x0F
)

// Mode is the value carried by the 0x0F set-mode feature report.
type Mode uint8

// Mode values understood by the device's feature report.
const (
	ModeMouse               Mode = 0
	ModeAttnReports         Mode = 1
	ModeNoPackedAttnReports Mode = 2
)

const (
	defaultTimeout = 2 * time.Second
	ioctlTimeout   = 5 * time.Second
)

// channel is the subset of *iochannel.Channel this package depends on, so
// tests can substitute a fake.
type channel interface {
	Read(want int, timeout time.Duration, flags iochannel.Flags) ([]byte, error)
	Write(data []byte, timeout time.Duration, flags iochannel.Flags) error
	Close() error
	String() string
	Fd() int
}

// gateway is the subset of *ioctlgw.Gateway this package depends on.
type gateway interface {
	Execute(buf []byte, timeout time.Duration, flags ioctlgw.Flags) error
}

// rebinder is the subset of *sysfsrebind.Rebind this package depends on.
type rebinder interface {
	Rebind() error
}

// Transport implements rmi4.RmiTransport over a hidraw character device.
type Transport struct {
	ch     channel
	gw     gateway
	rebind rebinder

	maxPage rmi4.RmiAddress
}

// Open opens the hidraw device at path and switches it into
// attention-report mode.
func Open(path string) (*Transport, error) {
	ch, err := iochannel.Open(path)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		ch:      ch,
		gw:      ioctlgw.New(ch),
		rebind:  sysfsrebind.New(path),
		maxPage: rmi4.HidMaxPage,
	}
	if err := t.setMode(ModeAttnReports); err != nil {
		ch.Close()
		return nil, rmi4.WrapError(rmi4.KindInternal, "hidtransport: open", err)
	}
	return t, nil
}

// newForTest builds a Transport over fakes, bypassing Open's device-path
// handling, for use by the package's own tests.
func newForTest(ch channel, gw gateway, rb rebinder) *Transport {
	return &Transport{ch: ch, gw: gw, rebind: rb, maxPage: rmi4.HidMaxPage}
}

// String identifies the underlying device node.
func (t *Transport) String() string {
	return t.ch.String()
}

// Halt restores runtime mouse mode and closes the device. A
// PERMISSION_DENIED failure restoring mouse mode is swallowed: it means the
// device already detached ahead of a replug.
func (t *Transport) Halt() error {
	err := t.setMode(ModeMouse)
	if err != nil && !rmi4.Is(err, rmi4.KindPermissionDenied) {
		t.ch.Close()
		return err
	}
	return t.ch.Close()
}

func (t *Transport) setMode(mode Mode) error {
	buf := []byte{reportSetMode, byte(mode)}
	return t.gw.Execute(buf, ioctlTimeout, ioctlgw.FlagNone)
}

// MaxPage returns the transport's page ceiling (0xFF for HID).
func (t *Transport) MaxPage() rmi4.RmiAddress {
	return t.maxPage
}

// SetMaxPage overrides the page ceiling; used in tests.
func (t *Transport) SetMaxPage(page rmi4.RmiAddress) {
	t.maxPage = page
}

// SetPage writes page at the page-select register.
func (t *Transport) SetPage(page byte) error {
	return t.Write(rmi4.PageSelectRegister, []byte{page}, rmi4.FlagNone)
}

// Write packs data into a 21-byte write report (0x09) and writes it. No ACK
// is read; a device response, if any, arrives as a later attention report.
func (t *Transport) Write(addr rmi4.RmiAddress, data []byte, flags rmi4.TransportFlags) error {
	if len(data) > 0xFF {
		return rmi4.NewError(rmi4.KindInternal, "hidtransport: write: payload too large")
	}
	req := make([]byte, frameSize)
	req[0] = reportWrite
	req[1] = byte(len(data))
	req[2] = addr.Offset()
	req[3] = addr.Page()
	copy(req[4:], data)
	return t.ch.Write(req, defaultTimeout, iochannel.FlagNone)
}

// WriteBusSelect writes bus at BusSelectRegister.
func (t *Transport) WriteBusSelect(bus byte) error {
	return t.Write(rmi4.BusSelectRegister, []byte{bus}, rmi4.FlagNone)
}

// Read builds a read-request report (0x0A), then accumulates reqSz payload
// bytes from 0x0B input reports. Reports with a different id are skipped,
// not treated as errors.
func (t *Transport) Read(addr rmi4.RmiAddress, reqSz int) ([]byte, error) {
	if reqSz > 0xFFFF {
		return nil, rmi4.NewError(rmi4.KindInternal, "hidtransport: read: reqSz too large")
	}
	req := make([]byte, frameSize)
	req[0] = reportReadAddr
	req[1] = 0x00
	req[2] = addr.Offset()
	req[3] = addr.Page()
	req[4] = byte(reqSz)
	req[5] = byte(reqSz >> 8)
	if err := t.ch.Write(req, defaultTimeout, iochannel.FlagNone); err != nil {
		return nil, rmi4.WrapError(rmi4.KindIO, "hidtransport: read request", err)
	}

	out := make([]byte, 0, reqSz)
	for len(out) < reqSz {
		resp, err := t.ch.Read(frameSize, defaultTimeout, iochannel.FlagSingleShot)
		if err != nil {
			return nil, err
		}
		if len(resp) == 0 || resp[0] != reportReadData {
			continue
		}
		if len(resp) < 2 {
			return nil, rmi4.NewError(rmi4.KindInternal, "hidtransport: read: short report")
		}
		count := int(resp[1])
		if count == 0 {
			return nil, rmi4.NewError(rmi4.KindInternal, "hidtransport: read: zero length response")
		}
		if count+2 > len(resp) {
			return nil, rmi4.NewError(rmi4.KindInternal, "hidtransport: read: underflow")
		}
		need := reqSz - len(out)
		if count > need {
			count = need
		}
		out = append(out, resp[2:2+count]...)
	}
	return out, nil
}

// ReadPacketRegister is identical to Read on HID: a single exchange already
// returns contiguous bytes, so there is no separate packet-register
// sequencing to do (unlike PS/2).
func (t *Transport) ReadPacketRegister(addr rmi4.RmiAddress, reqSz int) ([]byte, error) {
	return t.Read(addr, reqSz)
}

// WaitForAttention polls for an attention report (0x0C) carrying one of the
// bits in sourceMask, within the given overall budget.
func (t *Transport) WaitForAttention(sourceMask byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return rmi4.NewError(rmi4.KindNotSupported, "hidtransport: wait_for_attention: no attr report, timed out")
		}
		resp, err := t.ch.Read(frameSize, remaining, iochannel.FlagSingleShot)
		if err != nil {
			if rmi4.Is(err, rmi4.KindTimedOut) {
				continue
			}
			return err
		}
		if len(resp) < 2 || resp[0] != reportAttn {
			continue
		}
		if resp[1]&sourceMask != 0 {
			return nil
		}
	}
}

// EnterIEPMode is a no-op on HID: the HID report family already addresses
// the full register space directly, with no PS/2-style back door to open.
func (t *Transport) EnterIEPMode(device *rmi4.Device, flags rmi4.TransportFlags) error {
	return nil
}

// QueryBuildID is not meaningful over HID: identification happens through
// the PDT and HID descriptor, both out of scope for this transport.
func (t *Transport) QueryBuildID(device *rmi4.Device) (uint32, error) {
	return 0, rmi4.NewError(rmi4.KindNotSupported, "hidtransport: query_build_id")
}

// QueryProductSubID is not meaningful over HID; see QueryBuildID.
func (t *Transport) QueryProductSubID() (uint8, error) {
	return 0, rmi4.NewError(rmi4.KindNotSupported, "hidtransport: query_product_sub_id")
}

// QueryStatus validates the F34 function version, then asks fsm to report
// status.
func (t *Transport) QueryStatus(functions rmi4.FunctionTable, fsm rmi4.FlashStateMachine) error {
	if _, err := rmi4.DispatchF34(functions); err != nil {
		return err
	}
	return fsm.QueryStatus()
}

// DisableSleep sets NOSLEEP and clears the sleep-mode bits on F01's control
// byte 0.
//
// It also looks up F34 and fails if F34 is absent, although the register
// it reads and writes is F01's: the original plugin does the same, and
// that behavior is preserved here rather than "fixed" against the
// datasheet (open question: disable_sleep bug).
func (t *Transport) DisableSleep(functions rmi4.FunctionTable) error {
	if _, err := functions.Function(0x34); err != nil {
		return rmi4.WrapError(rmi4.KindNotSupported, "hidtransport: disable_sleep", err)
	}
	f01, err := functions.Function(0x01)
	if err != nil {
		return rmi4.WrapError(rmi4.KindNotSupported, "hidtransport: disable_sleep", err)
	}
	addr := f01.ControlBase
	cur, err := t.Read(addr, 1)
	if err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "hidtransport: disable_sleep: read", err)
	}
	const noSleepBit = 1 << 2
	const sleepModeMask = 0x03
	const sleepModeNormal = 0x00
	v := cur[0]
	v |= noSleepBit
	v = (v &^ sleepModeMask) | sleepModeNormal
	return t.Write(addr, []byte{v}, rmi4.FlagNone)
}

// Detach dispatches to the flash state machine by F34 version, then forces
// re-enumeration of the device's bus parent via host/sysfsrebind, which
// sets FlagWaitForReplug on device before the unbind.
func (t *Transport) Detach(device *rmi4.Device, functions rmi4.FunctionTable, fsm rmi4.FlashStateMachine, sink rmi4.ProgressSink) error {
	if _, err := rmi4.DispatchF34(functions); err != nil {
		return err
	}
	if err := fsm.Detach(sink); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "hidtransport: detach", err)
	}
	if rb, ok := t.rebind.(*sysfsrebind.Rebind); ok {
		rb.BindDevice(device)
	}
	return t.rebind.Rebind()
}

// Attach is a no-op unless the device is in bootloader mode, in which case
// it issues an RMI reset and invokes Rebind.
func (t *Transport) Attach(device *rmi4.Device, functions rmi4.FunctionTable, fsm rmi4.FlashStateMachine, sink rmi4.ProgressSink) error {
	if !device.IsBootloader() {
		return nil
	}
	f01, err := functions.Function(0x01)
	if err != nil {
		return rmi4.WrapError(rmi4.KindNotSupported, "hidtransport: attach", err)
	}
	const deviceResetCommand = 0x01
	if err := t.Write(f01.CommandBase, []byte{deviceResetCommand}, rmi4.FlagAllowFailure); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "hidtransport: attach: reset", err)
	}
	return t.rebind.Rebind()
}
