// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ps2transport

import (
	"bytes"
	"testing"
	"time"

	"periph.io/x/rmi4/conn/rmi4"
	"periph.io/x/rmi4/host/iochannel"
)

// fakeChannel replays a scripted sequence of reads and records every
// write. Each queued read entry is returned whole regardless of the
// requested count, matching how the real byte-stream device behaves for
// these single-byte-at-a-time exchanges.
type fakeChannel struct {
	writes [][]byte
	reads  [][]byte

	// drainImmediately makes the first Read call fail regardless of
	// queued reads, modeling an input queue with nothing stale pending
	// before the real exchange starts.
	drainImmediately bool
}

func (f *fakeChannel) Write(data []byte, timeout time.Duration, flags iochannel.Flags) error {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeChannel) Read(want int, timeout time.Duration, flags iochannel.Flags) ([]byte, error) {
	if f.drainImmediately {
		f.drainImmediately = false
		return nil, rmi4.NewError(rmi4.KindTimedOut, "fakeChannel: read")
	}
	if len(f.reads) == 0 {
		return nil, rmi4.NewError(rmi4.KindTimedOut, "fakeChannel: read")
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	return r, nil
}

func (f *fakeChannel) Close() error   { return nil }
func (f *fakeChannel) String() string { return "fake" }

func newDevice(tr rmi4.RmiTransport) *rmi4.Device {
	return rmi4.NewDevice("TouchStyk", 0x06CB, 0, tr)
}

func TestWriteByteSucceedsOnFirstAck(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{{ackAcknowledge}}}
	tr := newForTest(ch, Config{}, nil)
	if err := tr.writeByte(cmdDisable, 50*time.Millisecond, rmi4.FlagNone); err != nil {
		t.Fatalf("writeByte: %v", err)
	}
	if len(ch.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(ch.writes))
	}
}

// TestWriteByteRecoversAfterTwoResends is the boundary case: ACK arrives
// after 2 RESEND responses, succeeding within the 3-attempt budget.
func TestWriteByteRecoversAfterTwoResends(t *testing.T) {
	old := resendBackoff
	resendBackoff = time.Microsecond
	defer func() { resendBackoff = old }()

	ch := &fakeChannel{reads: [][]byte{{ackResend}, {ackResend}, {ackAcknowledge}}}
	tr := newForTest(ch, Config{}, nil)

	if err := tr.writeByte(cmdDisable, 50*time.Millisecond, rmi4.FlagNone); err != nil {
		t.Fatalf("writeByte: %v", err)
	}
	if len(ch.writes) != 3 {
		t.Fatalf("expected 3 writes (original + 2 resends), got %d", len(ch.writes))
	}
}

func TestWriteByteOtherResponseRereadsWithoutResend(t *testing.T) {
	ch := &fakeChannel{reads: [][]byte{{0x00}, {ackAcknowledge}}}
	tr := newForTest(ch, Config{}, nil)
	if err := tr.writeByte(cmdDisable, 50*time.Millisecond, rmi4.FlagNone); err != nil {
		t.Fatalf("writeByte: %v", err)
	}
	if len(ch.writes) != 1 {
		t.Fatalf("expected exactly one write (no resend for an unrecognized response), got %d", len(ch.writes))
	}
}

func TestWriteByteExhaustedWithAllowFailureSucceeds(t *testing.T) {
	old := ackRetryDelay
	ackRetryDelay = 0
	defer func() { ackRetryDelay = old }()

	ch := &fakeChannel{} // every ack read times out
	tr := newForTest(ch, Config{}, nil)
	if err := tr.writeByte(cmdReset, time.Millisecond, rmi4.FlagAllowFailure); err != nil {
		t.Fatalf("writeByte with FlagAllowFailure: %v", err)
	}
}

func TestWriteByteExhaustedWithoutAllowFailureFails(t *testing.T) {
	old := ackRetryDelay
	ackRetryDelay = 0
	defer func() { ackRetryDelay = old }()

	ch := &fakeChannel{}
	tr := newForTest(ch, Config{}, nil)
	err := tr.writeByte(cmdDisable, time.Millisecond, rmi4.FlagNone)
	if !rmi4.Is(err, rmi4.KindNotSupported) {
		t.Fatalf("expected KindNotSupported, got %v", err)
	}
}

// TestEnterIEPModeSkipsWhenAlreadyInMode checks that EnterIEPMode without
// FlagForce emits no bytes once the device is already in IEP mode.
func TestEnterIEPModeSkipsWhenAlreadyInMode(t *testing.T) {
	ch := &fakeChannel{}
	tr := newForTest(ch, Config{}, nil)
	dev := newDevice(tr)
	dev.SetIEPMode(true)

	if err := tr.EnterIEPMode(dev, rmi4.FlagNone); err != nil {
		t.Fatalf("EnterIEPMode: %v", err)
	}
	if len(ch.writes) != 0 {
		t.Fatalf("expected no writes, got %d", len(ch.writes))
	}
}

func TestEnterIEPModeForceReentersWhenAlreadyInMode(t *testing.T) {
	ch := &fakeChannel{reads: ackSequence(12)} // disable(1) + sampleRate(9 resolution-sequence + rate + param)
	tr := newForTest(ch, Config{}, nil)
	dev := newDevice(tr)
	dev.SetIEPMode(true)

	if err := tr.EnterIEPMode(dev, rmi4.FlagForce); err != nil {
		t.Fatalf("EnterIEPMode with FlagForce: %v", err)
	}
	if !dev.IEPMode() {
		t.Fatalf("expected iepmode still true")
	}
	if len(ch.writes) == 0 {
		t.Fatalf("expected EnterIEPMode to actually run the sequence under FlagForce")
	}
}

// ackSequence returns n single-byte ACK reads.
func ackSequence(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{ackAcknowledge}
	}
	return out
}

func TestResolutionSequenceEncodesFourTwoBitDigits(t *testing.T) {
	ch := &fakeChannel{reads: ackSequence(9)} // 1 scaling + 4 * (SET_RESOLUTION, digit)
	tr := newForTest(ch, Config{}, nil)

	if err := tr.resolutionSequence(0xB4, false); err != nil {
		t.Fatalf("resolutionSequence: %v", err)
	}
	// 0xB4 == 0b10_11_01_00 -> digits 2,3,1,0 high to low.
	want := [][]byte{
		{cmdSetScaling1To1},
		{cmdSetResolution}, {0x2},
		{cmdSetResolution}, {0x3},
		{cmdSetResolution}, {0x1},
		{cmdSetResolution}, {0x0},
	}
	if len(ch.writes) != len(want) {
		t.Fatalf("got %d writes, want %d", len(ch.writes), len(want))
	}
	for i := range want {
		if !bytes.Equal(ch.writes[i], want[i]) {
			t.Fatalf("write %d = % x, want % x", i, ch.writes[i], want[i])
		}
	}
}

func TestStatusRequestFoldsThreeBytesBigEndian(t *testing.T) {
	ch := &fakeChannel{
		// resolutionSequence (9 acks) + STATUS_REQUEST (1 ack), then the
		// three raw response bytes.
		reads: append(ackSequence(10), []byte{0x47}, []byte{0x18}, []byte{0xBB}),
	}
	tr := newForTest(ch, Config{}, nil)

	got, err := tr.statusRequest(argIdentifySynaptics)
	if err != nil {
		t.Fatalf("statusRequest: %v", err)
	}
	if got != 0x004718BB {
		t.Fatalf("got %#x, want %#x", got, 0x004718BB)
	}
}

func TestOpenBootloaderBannerSucceeds(t *testing.T) {
	// drain finds nothing pending; RESET gets one ACK; banner is 0xAA 0x00;
	// the trailing DISABLE gets its own ACK.
	ch := &fakeChannel{
		drainImmediately: true,
		reads:            [][]byte{{ackAcknowledge}, {0xAA}, {0x00}, {ackAcknowledge}},
	}
	tr := newForTest(ch, Config{}, nil)

	if err := tr.openBootloaderBanner(); err != nil {
		t.Fatalf("openBootloaderBanner: %v", err)
	}
}

func TestOpenBootloaderBannerMismatchIsInvalidData(t *testing.T) {
	ch := &fakeChannel{
		drainImmediately: true,
		reads:            [][]byte{{ackAcknowledge}, {0x11}, {0x22}},
	}
	tr := newForTest(ch, Config{}, nil)

	err := tr.openBootloaderBanner()
	if !rmi4.Is(err, rmi4.KindInvalidData) {
		t.Fatalf("expected KindInvalidData, got %v", err)
	}
}

func TestProbeRecognizesSerioRaw(t *testing.T) {
	if !Probe("serio_raw") {
		t.Fatalf("expected serio_raw to probe as bootloader")
	}
	if Probe("psmouse") {
		t.Fatalf("expected psmouse to probe as runtime")
	}
}

func TestWaitForAttentionSleeps(t *testing.T) {
	tr := newForTest(&fakeChannel{}, Config{}, nil)
	start := time.Now()
	if err := tr.WaitForAttention(0xFF, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitForAttention: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("expected WaitForAttention to sleep for the full timeout")
	}
}

type fakeFunctionTable map[uint8]*rmi4.RmiFunction

func (f fakeFunctionTable) Function(number uint8) (*rmi4.RmiFunction, error) {
	fn, ok := f[number]
	if !ok {
		return nil, rmi4.NewError(rmi4.KindNotSupported, "fakeFunctionTable: no such function")
	}
	return fn, nil
}

type fakeFlashStateMachine struct {
	detachCalled bool
	statusErr    error
}

func (f *fakeFlashStateMachine) Detach(sink rmi4.ProgressSink) error {
	f.detachCalled = true
	return nil
}

func (f *fakeFlashStateMachine) QueryStatus() error {
	return f.statusErr
}

func TestAttachNoOpWhenNotBootloader(t *testing.T) {
	tr := newForTest(&fakeChannel{}, Config{}, nil)
	dev := newDevice(tr)
	if err := tr.Attach(dev, fakeFunctionTable{}, &fakeFlashStateMachine{}, rmi4.DiscardProgress); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if len(tr.ch.(*fakeChannel).writes) != 0 {
		t.Fatalf("expected no writes when not in bootloader mode")
	}
}

func TestDetachNoOpWhenAlreadyBootloader(t *testing.T) {
	tr := newForTest(&fakeChannel{}, Config{}, nil)
	dev := newDevice(tr)
	dev.SetFlag(rmi4.FlagIsBootloader)
	if err := tr.Detach(dev, fakeFunctionTable{}, &fakeFlashStateMachine{}, rmi4.DiscardProgress); err != nil {
		t.Fatalf("Detach: %v", err)
	}
}
