// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hidtransport

import (
	"os"
	"runtime"

	"periph.io/x/periph"
)

// driver implements periph.Driver. Unlike hostextra/d2xx's driver, which
// enumerates and opens every attached device at Init time, this one only
// probes that the host OS exposes the hidraw character-device class this
// package depends on. Finding and opening a specific device node is out of
// this module's scope; a caller does that and calls Open directly.
type driver struct {
	devDir string
}

func (d *driver) String() string {
	return "rmi4-hidtransport"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

// Init reports whether the host looks capable of hosting a hidraw
// transport: Linux, with a /dev directory present. It does not look for any
// particular device node.
func (d *driver) Init() (bool, error) {
	if runtime.GOOS != "linux" {
		return false, nil
	}
	if _, err := os.Stat(d.devDir); err != nil {
		return false, nil
	}
	return true, nil
}

func init() {
	periph.MustRegister(&driver{devDir: "/dev"})
}
