// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// rmi4ctl reads and writes RMI4 registers directly against a hidraw or
// PS/2 device node, for bring-up and debugging. It does not discover
// devices, scan the PDT, or drive a flash update: those are left to
// whatever shell embeds this module, per the RmiTransport/FunctionTable/
// FlashStateMachine seams in conn/rmi4.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"periph.io/x/periph/host"
	"periph.io/x/rmi4/conn/rmi4"
	"periph.io/x/rmi4/host/hexdump"
	"periph.io/x/rmi4/host/hidtransport"
	"periph.io/x/rmi4/host/ps2transport"
)

func parseAddr(s string) (rmi4.RmiAddress, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register address %q: %w", s, err)
	}
	return rmi4.RmiAddress(v), nil
}

func parseData(s string) ([]byte, error) {
	fields := strings.Split(s, ",")
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(f, "0x")), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid data byte %q: %w", f, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func openTransport(hidPath, ps2Path, drvctl string, bootloader bool) (rmi4.RmiTransport, error) {
	switch {
	case hidPath != "":
		return hidtransport.Open(hidPath)
	case ps2Path != "":
		cfg := ps2transport.Config{
			Reopen:     func() (string, error) { return ps2Path, nil },
			DrvctlPath: drvctl,
		}
		return ps2transport.Open(cfg, bootloader)
	default:
		return nil, errors.New("must pass either -hid or -ps2")
	}
}

func mainImpl() error {
	hidPath := flag.String("hid", "", "hidraw device node, e.g. /dev/hidraw0")
	ps2Path := flag.String("ps2", "", "PS/2 aux device node, e.g. /dev/serio_raw0")
	drvctl := flag.String("drvctl", "", "serio drvctl sysfs attribute (PS/2 only)")
	bootloader := flag.Bool("bootloader", false, "device is currently bound to its bootloader driver (PS/2 only)")
	readAddr := flag.String("read", "", "register address to read, e.g. 0x0412")
	readSize := flag.Int("size", 1, "number of bytes to read")
	writeAddr := flag.String("write", "", "register address to write, e.g. 0x0412")
	writeData := flag.String("data", "", "comma-separated hex bytes to write, e.g. 0x01,0x02")
	buildID := flag.Bool("build-id", false, "query the firmware build id (PS/2 only)")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	if _, err := host.Init(); err != nil {
		return err
	}

	tr, err := openTransport(*hidPath, *ps2Path, *drvctl, *bootloader)
	if err != nil {
		return err
	}
	defer tr.Halt()

	// PS/2 register access threads iepmode through a bound Device.
	var dev *rmi4.Device
	if p2, ok := tr.(*ps2transport.Transport); ok {
		dev = rmi4.NewDevice("rmi4ctl", 0, 0, p2)
		p2.BindDevice(dev)
	}

	dump := hexdump.New()

	if *readAddr != "" {
		addr, err := parseAddr(*readAddr)
		if err != nil {
			return err
		}
		data, err := tr.Read(addr, *readSize)
		if err != nil {
			return err
		}
		dump.Dump("R", addr, data)
	}

	if *writeAddr != "" {
		addr, err := parseAddr(*writeAddr)
		if err != nil {
			return err
		}
		data, err := parseData(*writeData)
		if err != nil {
			return err
		}
		if err := tr.Write(addr, data, rmi4.FlagNone); err != nil {
			return err
		}
		dump.Dump("W", addr, data)
	}

	if *buildID {
		if dev == nil {
			return errors.New("-build-id is only meaningful over -ps2")
		}
		id, err := dev.QueryBuildID()
		if err != nil {
			return err
		}
		fmt.Printf("build id: %d (0x%06x)\n", id, id)
	}

	if err := tr.WaitForAttention(0xFF, 10*time.Millisecond); err != nil && !rmi4.Is(err, rmi4.KindTimedOut) {
		log.Printf("wait_for_attention: %v", err)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "rmi4ctl: %s.\n", err)
		os.Exit(1)
	}
}
