// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ps2transport

import (
	"os"
	"runtime"

	"periph.io/x/periph"
)

// driver implements periph.Driver. It probes for the serio bus subsystem
// this transport rides on (psmouse/serio_raw), not for any specific
// device: which serio port carries an RMI touchpad is a topology question
// this module leaves to its caller.
type driver struct {
	busDir string
}

func (d *driver) String() string {
	return "rmi4-ps2transport"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

// Init reports whether the host exposes the serio bus subsystem.
func (d *driver) Init() (bool, error) {
	if runtime.GOOS != "linux" {
		return false, nil
	}
	if _, err := os.Stat(d.busDir); err != nil {
		return false, nil
	}
	return true, nil
}

func init() {
	periph.MustRegister(&driver{busDir: "/sys/bus/serio"})
}
