// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ps2transport

import (
	"os"
	"time"

	"periph.io/x/rmi4/conn/rmi4"
	"periph.io/x/rmi4/host/iochannel"
)

// PS/2 auxiliary command bytes this transport speaks.
const (
	cmdDisable            = 0xF5
	cmdReset              = 0xFF
	cmdSetScaling1To1     = 0xE6
	cmdSetScaling2To1     = 0xE7
	cmdSetResolution      = 0xE8
	cmdStatusRequest      = 0xE9
	cmdSetSampleRate      = 0xF3
	cmdIBMReadSecondaryID = 0xE1
)

// Data-port status bytes classifying a write_byte acknowledgment.
const (
	ackAcknowledge = 0xFA
	ackResend      = 0xFE
	ackError       = 0xFC
)

// Status-request arguments and sample-rate parameters. These select which
// query the resolution-sequence/status-request pair addresses; only their
// relative identity matters on the wire.
const (
	argIdentifySynaptics      = 0x00
	argReadCapabilities       = 0x02
	argReadExtraCapabilities2 = 0x09
	argFullRMIBackDoor        = 0x01
	paramSetModeByte2         = 0x28
)

// Synaptics "stick" device identifiers returned by IBM_READ_SECONDARY_ID,
// and the ESD response byte that marks a touch pad.
const (
	stickDeviceJYTSyna     = 0x01
	stickDeviceSynaptics   = 0x47
	deviceResponseTouchPad = 0x01
)

const resetBannerTimeout = 500 * time.Millisecond

// Backoff durations used by the write_byte/read_ack handshake. Declared
// as vars, not consts, so tests can shrink them instead of paying the
// real device timing.
var (
	ackRetryDelay = time.Millisecond
	resendBackoff = time.Second
	errorBackoff  = 10 * time.Millisecond
	otherBackoff  = 10 * time.Millisecond
)

// channel is the subset of *iochannel.Channel this package depends on, so
// tests can substitute a fake.
type channel interface {
	Read(want int, timeout time.Duration, flags iochannel.Flags) ([]byte, error)
	Write(data []byte, timeout time.Duration, flags iochannel.Flags) error
	Close() error
	String() string
}

// Config bundles the inputs that live outside this transport's register-
// level concern: device-node discovery and the drvctl sysfs attribute
// that switches the serio port between psmouse and serio_raw. Device
// enumeration and topology discovery are out of scope for this module;
// Reopen is how a caller plugs that concern back in.
type Config struct {
	// Reopen returns the device node to (re)open. It is called once at
	// construction and again after every drvctl switch, since psmouse
	// exposes no character device at all and serio_raw may enumerate
	// under a different node than the one most recently closed.
	Reopen func() (string, error)
	// DrvctlPath is the sysfs drvctl attribute of the serio port, written
	// "serio_raw" or "psmouse" to force the kernel to rebind.
	DrvctlPath string
}

// Transport implements rmi4.RmiTransport over a PS/2 aux port.
type Transport struct {
	ch      channel
	cfg     Config
	device  *rmi4.Device
	maxPage rmi4.RmiAddress
}

// Probe reports whether driverName names the PS/2 bootloader driver. A
// caller invokes this against the currently bound kernel driver before
// constructing the transport, and threads the result into Open and the
// wrapping Device's IS_BOOTLOADER flag.
func Probe(driverName string) bool {
	return driverName == "serio_raw"
}

// Open opens the device node cfg.Reopen names. If isBootloader, it runs
// the bootloader-mode banner check before returning.
func Open(cfg Config, isBootloader bool) (*Transport, error) {
	path, err := cfg.Reopen()
	if err != nil {
		return nil, rmi4.WrapError(rmi4.KindIO, "ps2transport: open", err)
	}
	ch, err := iochannel.Open(path)
	if err != nil {
		return nil, err
	}
	t := &Transport{ch: ch, cfg: cfg, maxPage: rmi4.Ps2MaxPage}
	if isBootloader {
		if err := t.openBootloaderBanner(); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return t, nil
}

// newForTest builds a Transport over a fake channel, bypassing Open's
// device-path handling, for use by the package's own tests.
func newForTest(ch channel, cfg Config, device *rmi4.Device) *Transport {
	return &Transport{ch: ch, cfg: cfg, device: device, maxPage: rmi4.Ps2MaxPage}
}

// BindDevice associates d with this transport so the register-level
// operations that have no *rmi4.Device parameter of their own (SetPage,
// Read, Write, WriteBusSelect) can still thread iepmode state through
// EnterIEPMode. It must be called once, after d has been constructed
// around this transport via rmi4.NewDevice, and before any of those
// operations are used.
func (t *Transport) BindDevice(d *rmi4.Device) {
	t.device = d
}

func (t *Transport) openBootloaderBanner() error {
	for i := 0; i < 0xFFFF; i++ {
		if _, err := t.readByte(20 * time.Millisecond); err != nil {
			break
		}
	}
	if err := t.writeByte(cmdReset, 600*time.Millisecond, rmi4.FlagNone); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: open: reset", err)
	}
	b0, err := t.readByte(resetBannerTimeout)
	if err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: open: banner", err)
	}
	b1, err := t.readByte(resetBannerTimeout)
	if err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: open: banner", err)
	}
	if b0 != 0xAA || b1 != 0x00 {
		return rmi4.NewError(rmi4.KindInvalidData, "ps2transport: open: unexpected reset banner")
	}
	return t.writeByte(cmdDisable, 50*time.Millisecond, rmi4.FlagNone)
}

// String identifies the underlying device node.
func (t *Transport) String() string {
	return t.ch.String()
}

// Halt closes the device. There is no mode to restore on PS/2: the
// psmouse/serio_raw choice is driven entirely by drvctl, not a feature
// report.
func (t *Transport) Halt() error {
	return t.ch.Close()
}

// MaxPage returns the transport's page ceiling (0x01 for PS/2).
func (t *Transport) MaxPage() rmi4.RmiAddress {
	return t.maxPage
}

// SetMaxPage overrides the page ceiling; used in tests.
func (t *Transport) SetMaxPage(page rmi4.RmiAddress) {
	t.maxPage = page
}

// readAck reads a single acknowledgment byte, retrying up to 60 times at
// 1 ms intervals while the read itself keeps timing out.
func (t *Transport) readAck() (byte, error) {
	for i := 0; i < 60; i++ {
		b, err := t.ch.Read(1, 10*time.Millisecond, iochannel.FlagUseBlockingIO)
		if err != nil {
			if rmi4.Is(err, rmi4.KindTimedOut) {
				time.Sleep(ackRetryDelay)
				continue
			}
			return 0, err
		}
		if len(b) == 0 {
			time.Sleep(ackRetryDelay)
			continue
		}
		return b[0], nil
	}
	return 0, rmi4.NewError(rmi4.KindTimedOut, "ps2transport: read_ack: timed out")
}

// readByte reads a single byte with no ack classification, used outside
// the write_byte handshake (status-request responses, the reset banner,
// the bootloader input drain).
func (t *Transport) readByte(timeout time.Duration) (byte, error) {
	b, err := t.ch.Read(1, timeout, iochannel.FlagNone)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, rmi4.NewError(rmi4.KindInternal, "ps2transport: read_byte: empty read")
	}
	return b[0], nil
}

// writeByte writes b and classifies the acknowledgment. ACK succeeds.
// RESEND (after a 1 s backoff) and ERROR (after 10 ms) re-send the byte,
// up to 3 failed attempts. Any other response is re-read after a 10 ms
// backoff without re-sending, and does not count against the attempt
// budget. After 3 failed attempts, FlagAllowFailure tolerates the
// missing ACK (e.g. the RMI device-reset command written from Attach);
// otherwise the write fails NOT_SUPPORTED.
func (t *Transport) writeByte(b byte, timeout time.Duration, flags rmi4.TransportFlags) error {
	doWrite := true
	for i := 0; ; i++ {
		if doWrite {
			wflags := iochannel.FlagFlushInput | iochannel.FlagUseBlockingIO
			if err := t.ch.Write([]byte{b}, timeout, wflags); err != nil {
				return rmi4.WrapError(rmi4.KindIO, "ps2transport: write_byte", err)
			}
		}
		doWrite = false

		for {
			ack, err := t.readAck()
			if err != nil {
				if i > 3 {
					return rmi4.WrapError(rmi4.KindTimedOut, "ps2transport: write_byte: read ack failed", err)
				}
				break
			}
			switch ack {
			case ackAcknowledge:
				return nil
			case ackResend:
				doWrite = true
				time.Sleep(resendBackoff)
			case ackError:
				doWrite = true
				time.Sleep(errorBackoff)
			default:
				time.Sleep(otherBackoff)
				continue
			}
			break
		}

		if i >= 2 {
			if flags.Has(rmi4.FlagAllowFailure) {
				return nil
			}
			return rmi4.NewError(rmi4.KindNotSupported, "ps2transport: write_byte: cannot write byte after retries")
		}
	}
}

// resolutionSequence encodes arg as four 2-bit digits via SET_RESOLUTION,
// optionally preceded by a doubled SET_SCALING_1_TO_1.
func (t *Transport) resolutionSequence(arg byte, sendE6s bool) error {
	reps := 1
	if sendE6s {
		reps = 2
	}
	for i := 0; i < reps; i++ {
		if err := t.writeByte(cmdSetScaling1To1, 50*time.Millisecond, rmi4.FlagNone); err != nil {
			return err
		}
	}
	for i := 3; i >= 0; i-- {
		if err := t.writeByte(cmdSetResolution, 50*time.Millisecond, rmi4.FlagNone); err != nil {
			return err
		}
		twoBits := (arg >> uint(i*2)) & 0x3
		if err := t.writeByte(twoBits, 50*time.Millisecond, rmi4.FlagNone); err != nil {
			return err
		}
	}
	return nil
}

// statusRequest sends the resolution sequence for arg followed by
// STATUS_REQUEST, then folds the three-byte big-endian response into a
// u32. The command phase gets up to 3 retries.
func (t *Transport) statusRequest(arg byte) (uint32, error) {
	ok := false
	for i := 0; i < 4; i++ {
		if err := t.resolutionSequence(arg, false); err != nil {
			continue
		}
		if err := t.writeByte(cmdStatusRequest, 10*time.Millisecond, rmi4.FlagNone); err != nil {
			continue
		}
		ok = true
		break
	}
	if !ok {
		return 0, rmi4.NewError(rmi4.KindInternal, "ps2transport: status_request: failed")
	}
	var buf uint32
	for i := 0; i < 3; i++ {
		b, err := t.readByte(10 * time.Millisecond)
		if err != nil {
			return 0, rmi4.WrapError(rmi4.KindInternal, "ps2transport: status_request: read byte", err)
		}
		buf = (buf << 8) | uint32(b)
	}
	return buf, nil
}

// sampleRate issues a parameterized mode change: resolution_sequence(arg),
// SET_SAMPLE_RATE, param. Up to 3 retries; after the first retry the
// doubled SET_SCALING_1_TO_1 is always sent.
func (t *Transport) sampleRate(param, arg byte, sendE6s bool) error {
	var lastErr error
	for i := 0; ; i++ {
		if i > 0 {
			sendE6s = true
		}
		err := t.resolutionSequence(arg, sendE6s)
		if err == nil {
			err = t.writeByte(cmdSetSampleRate, 50*time.Millisecond, rmi4.FlagNone)
		}
		if err == nil {
			err = t.writeByte(param, 50*time.Millisecond, rmi4.FlagNone)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if i >= 3 {
			return lastErr
		}
	}
}

// detectSynapticsStyk probes via IBM_READ_SECONDARY_ID for one of the two
// known Synaptics "stick" device identifiers.
func (t *Transport) detectSynapticsStyk() (bool, error) {
	if err := t.writeByte(cmdIBMReadSecondaryID, 10*time.Millisecond, rmi4.FlagNone); err != nil {
		return false, rmi4.WrapError(rmi4.KindInternal, "ps2transport: detect_synaptics_styk: write", err)
	}
	b, err := t.readByte(10 * time.Millisecond)
	if err != nil {
		return false, rmi4.WrapError(rmi4.KindInternal, "ps2transport: detect_synaptics_styk: read", err)
	}
	return b == stickDeviceJYTSyna || b == stickDeviceSynaptics, nil
}

// addressSequence is the four-write command prefix shared by
// readRmiRegister and readRmiPacketRegister: select the RMI back door,
// address addr, then ask for the response via STATUS_REQUEST.
func (t *Transport) addressSequence(addr byte, timeout time.Duration) error {
	if err := t.writeByte(cmdSetScaling2To1, timeout, rmi4.FlagNone); err != nil {
		return err
	}
	if err := t.writeByte(cmdSetSampleRate, timeout, rmi4.FlagNone); err != nil {
		return err
	}
	if err := t.writeByte(addr, timeout, rmi4.FlagNone); err != nil {
		return err
	}
	return t.writeByte(cmdStatusRequest, timeout, rmi4.FlagNone)
}

// EnterIEPMode opens the PS/2 back door into the full RMI register space.
// A no-op if already open, unless FlagForce is set.
func (t *Transport) EnterIEPMode(device *rmi4.Device, flags rmi4.TransportFlags) error {
	if device.IEPMode() && !flags.Has(rmi4.FlagForce) {
		return nil
	}
	if err := t.writeByte(cmdDisable, 50*time.Millisecond, rmi4.FlagNone); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: enter_iep_mode: disable", err)
	}
	if err := t.sampleRate(paramSetModeByte2, argFullRMIBackDoor, false); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: enter_iep_mode: sample_rate", err)
	}
	device.SetIEPMode(true)
	return nil
}

// writeRmiRegister enters IEP mode, then writes data at addr through the
// SET_SCALING_2_TO_1 / SET_SAMPLE_RATE escape pair, one SET_SAMPLE_RATE
// per payload byte.
func (t *Transport) writeRmiRegister(device *rmi4.Device, addr byte, data []byte, timeout time.Duration, flags rmi4.TransportFlags) error {
	if err := t.EnterIEPMode(device, rmi4.FlagNone); err != nil {
		return err
	}
	if err := t.writeByte(cmdSetScaling2To1, timeout, flags); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: write_rmi_register: scaling2to1", err)
	}
	if err := t.writeByte(cmdSetSampleRate, timeout, flags); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: write_rmi_register: sample_rate", err)
	}
	if err := t.writeByte(addr, timeout, flags); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: write_rmi_register: address", err)
	}
	for _, b := range data {
		if err := t.writeByte(cmdSetSampleRate, timeout, flags); err != nil {
			return rmi4.WrapError(rmi4.KindInternal, "ps2transport: write_rmi_register: byte", err)
		}
		if err := t.writeByte(b, timeout, flags); err != nil {
			return rmi4.WrapError(rmi4.KindInternal, "ps2transport: write_rmi_register: byte", err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

// readRmiRegister enters IEP mode, then reads one byte at addr. The
// command phase is not retried on failure; a failed final read_byte gets
// up to 3 additional retries of the whole exchange.
func (t *Transport) readRmiRegister(device *rmi4.Device, addr byte) (byte, error) {
	if err := t.EnterIEPMode(device, rmi4.FlagNone); err != nil {
		return 0, err
	}
	for retries := 0; ; retries++ {
		if err := t.addressSequence(addr, 50*time.Millisecond); err != nil {
			return 0, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read_rmi_register: command", err)
		}
		b, err := t.readByte(10 * time.Millisecond)
		if err != nil {
			if retries > 2 {
				return 0, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read_rmi_register: read byte", err)
			}
			continue
		}
		time.Sleep(20 * time.Millisecond)
		return b, nil
	}
}

// readRmiPacketRegister enters IEP mode, issues the address sequence once,
// then reads reqSz contiguous bytes without re-addressing between them.
func (t *Transport) readRmiPacketRegister(device *rmi4.Device, addr byte, reqSz int) ([]byte, error) {
	if err := t.EnterIEPMode(device, rmi4.FlagNone); err != nil {
		return nil, err
	}
	if err := t.addressSequence(addr, 50*time.Millisecond); err != nil {
		return nil, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read_rmi_packet_register: command", err)
	}
	buf := make([]byte, 0, reqSz)
	for i := 0; i < reqSz; i++ {
		b, err := t.readByte(10 * time.Millisecond)
		if err != nil {
			return nil, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read_rmi_packet_register: read byte", err)
		}
		buf = append(buf, b)
	}
	time.Sleep(20 * time.Millisecond)
	return buf, nil
}

// SetPage writes one byte at PageSelectRegister.
func (t *Transport) SetPage(page byte) error {
	return t.writeRmiRegister(t.device, byte(rmi4.PageSelectRegister), []byte{page}, 20*time.Millisecond, rmi4.FlagNone)
}

// Read selects addr's page, then reads reqSz single registers at
// (addr&0xFF)+i. If the accumulated length does not match reqSz, the
// whole loop is retried up to 3 times before failing INVALID_DATA.
func (t *Transport) Read(addr rmi4.RmiAddress, reqSz int) ([]byte, error) {
	if err := t.SetPage(addr.Page()); err != nil {
		return nil, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read: set page", err)
	}
	for retries := 0; ; retries++ {
		buf := make([]byte, 0, reqSz)
		for i := 0; i < reqSz; i++ {
			b, err := t.readRmiRegister(t.device, addr.Offset()+byte(i))
			if err != nil {
				return nil, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read: register", err)
			}
			buf = append(buf, b)
		}
		if len(buf) != reqSz {
			if retries > 2 {
				return nil, rmi4.NewError(rmi4.KindInvalidData, "ps2transport: read: buffer length mismatch")
			}
			continue
		}
		return buf, nil
	}
}

// ReadPacketRegister selects addr's page, then reads reqSz contiguous
// bytes from one packet register.
func (t *Transport) ReadPacketRegister(addr rmi4.RmiAddress, reqSz int) ([]byte, error) {
	if err := t.SetPage(addr.Page()); err != nil {
		return nil, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read_packet_register: set page", err)
	}
	buf, err := t.readRmiPacketRegister(t.device, addr.Offset(), reqSz)
	if err != nil {
		return nil, rmi4.WrapError(rmi4.KindInternal, "ps2transport: read_packet_register", err)
	}
	return buf, nil
}

// Write selects addr's page, then writes data through writeRmiRegister
// with a 1 s per-byte timeout.
func (t *Transport) Write(addr rmi4.RmiAddress, data []byte, flags rmi4.TransportFlags) error {
	if err := t.SetPage(addr.Page()); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: write: set page", err)
	}
	return t.writeRmiRegister(t.device, addr.Offset(), data, time.Second, flags)
}

// WriteBusSelect writes one byte at BusSelectRegister.
func (t *Transport) WriteBusSelect(bus byte) error {
	return t.Write(rmi4.BusSelectRegister, []byte{bus}, rmi4.FlagNone)
}

// WaitForAttention has no attention channel on PS/2: it simply sleeps for
// the requested budget and returns success. sourceMask is meaningless
// here and ignored.
func (t *Transport) WaitForAttention(sourceMask byte, timeout time.Duration) error {
	time.Sleep(timeout)
	return nil
}

// QueryBuildID issues an IDENTIFY_SYNAPTICS status request; if the
// response's ESD byte marks a touch pad, or a secondary Synaptics "stick"
// id is detected, follows up with READ_EXTRA_CAPABILITIES2 and returns
// its folded value (the low 24 bits are the firmware build id).
// device's iepmode is always cleared.
func (t *Transport) QueryBuildID(device *rmi4.Device) (uint32, error) {
	resp, err := t.statusRequest(argIdentifySynaptics)
	if err != nil {
		return 0, rmi4.WrapError(rmi4.KindInternal, "ps2transport: query_build_id: identify", err)
	}
	esdr := byte((resp & 0xFF00) >> 8)
	styk, err := t.detectSynapticsStyk()
	if err != nil {
		return 0, rmi4.WrapError(rmi4.KindInternal, "ps2transport: query_build_id: styk", err)
	}
	device.SetIEPMode(false)
	if esdr != deviceResponseTouchPad && !styk {
		return 0, nil
	}
	buildID, err := t.statusRequest(argReadExtraCapabilities2)
	if err != nil {
		return 0, rmi4.WrapError(rmi4.KindInternal, "ps2transport: query_build_id: extra_capabilities2", err)
	}
	return buildID, nil
}

// QueryProductSubID issues a READ_CAPABILITIES status request; the
// sub-id is byte 1 of the folded response.
func (t *Transport) QueryProductSubID() (uint8, error) {
	resp, err := t.statusRequest(argReadCapabilities)
	if err != nil {
		return 0, rmi4.WrapError(rmi4.KindInternal, "ps2transport: query_product_sub_id", err)
	}
	return byte((resp >> 8) & 0xFF), nil
}

// QueryStatus validates the F34 function version, then asks fsm to report
// status. Identical to hidtransport's: the dispatch is transport-agnostic.
func (t *Transport) QueryStatus(functions rmi4.FunctionTable, fsm rmi4.FlashStateMachine) error {
	if _, err := rmi4.DispatchF34(functions); err != nil {
		return err
	}
	return fsm.QueryStatus()
}

// DisableSleep sets NOSLEEP and clears the sleep-mode bits on F01's
// control byte 0, through this transport's own Read/Write.
//
// It also looks up F34 and fails if F34 is absent, although the register
// it reads and writes is F01's; this mirrors hidtransport: the logic lives
// once in the device's common base and is identical regardless of which
// transport carries the register traffic (open question: disable_sleep
// bug, preserved here too).
func (t *Transport) DisableSleep(functions rmi4.FunctionTable) error {
	if _, err := functions.Function(0x34); err != nil {
		return rmi4.WrapError(rmi4.KindNotSupported, "ps2transport: disable_sleep", err)
	}
	f01, err := functions.Function(0x01)
	if err != nil {
		return rmi4.WrapError(rmi4.KindNotSupported, "ps2transport: disable_sleep", err)
	}
	addr := f01.ControlBase
	cur, err := t.Read(addr, 1)
	if err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: disable_sleep: read", err)
	}
	const noSleepBit = 1 << 2
	const sleepModeMask = 0x03
	const sleepModeNormal = 0x00
	v := cur[0]
	v |= noSleepBit
	v = (v &^ sleepModeMask) | sleepModeNormal
	return t.Write(addr, []byte{v}, rmi4.FlagNone)
}

// writeDrvctl writes driver ("psmouse" or "serio_raw") to the serio
// port's drvctl sysfs attribute, forcing a driver rebind.
func (t *Transport) writeDrvctl(driver string) error {
	f, err := os.OpenFile(t.cfg.DrvctlPath, os.O_WRONLY, 0)
	if err != nil {
		return rmi4.WrapError(rmi4.KindInvalidFile, "ps2transport: drvctl: "+t.cfg.DrvctlPath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(driver); err != nil {
		return rmi4.WrapError(rmi4.KindInvalidFile, "ps2transport: drvctl: "+t.cfg.DrvctlPath, err)
	}
	return nil
}

// Detach is a no-op if already in bootloader mode. Otherwise it switches
// drvctl to serio_raw, closes and reopens the device node, dispatches to
// the flash state machine by F34 version, forces IEP mode, and queries
// status once more to confirm the transition landed.
func (t *Transport) Detach(device *rmi4.Device, functions rmi4.FunctionTable, fsm rmi4.FlashStateMachine, sink rmi4.ProgressSink) error {
	if device.IsBootloader() {
		return nil
	}
	if err := t.writeDrvctl("serio_raw"); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: detach: drvctl", err)
	}
	if err := t.ch.Close(); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: detach: close", err)
	}
	path, err := t.cfg.Reopen()
	if err != nil {
		return rmi4.WrapError(rmi4.KindIO, "ps2transport: detach: rescan", err)
	}
	ch, err := iochannel.Open(path)
	if err != nil {
		return err
	}
	t.ch = ch

	if _, err := rmi4.DispatchF34(functions); err != nil {
		return err
	}
	if err := fsm.Detach(sink); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: detach: flash state machine", err)
	}

	if err := t.EnterIEPMode(device, rmi4.FlagForce); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: detach: enter_iep_mode", err)
	}
	if err := t.QueryStatus(functions, fsm); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: detach: query_status", err)
	}
	device.SetFlag(rmi4.FlagIsBootloader)
	return nil
}

// Attach is a no-op unless the device is in bootloader mode. Otherwise it
// clears iepmode, issues the RMI reset, switches drvctl back to psmouse,
// and rescans.
func (t *Transport) Attach(device *rmi4.Device, functions rmi4.FunctionTable, fsm rmi4.FlashStateMachine, sink rmi4.ProgressSink) error {
	if !device.IsBootloader() {
		return nil
	}
	device.SetIEPMode(false)
	time.Sleep(2 * time.Second)

	if err := t.EnterIEPMode(device, rmi4.FlagNone); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: attach: enter_iep_mode", err)
	}
	f01, err := functions.Function(0x01)
	if err != nil {
		return rmi4.WrapError(rmi4.KindNotSupported, "ps2transport: attach: f01", err)
	}
	const deviceResetCommand = 0x01
	if err := t.Write(f01.CommandBase, []byte{deviceResetCommand}, rmi4.FlagAllowFailure); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: attach: reset", err)
	}
	time.Sleep(5 * time.Second)

	if err := t.writeDrvctl("psmouse"); err != nil {
		return rmi4.WrapError(rmi4.KindInternal, "ps2transport: attach: drvctl", err)
	}
	if _, err := t.cfg.Reopen(); err != nil {
		return rmi4.WrapError(rmi4.KindIO, "ps2transport: attach: rescan", err)
	}
	device.ClearFlag(rmi4.FlagIsBootloader)
	return nil
}
