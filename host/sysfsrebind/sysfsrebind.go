// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfsrebind

import (
	"fmt"
	"os"
	"path/filepath"

	"periph.io/x/rmi4/conn/rmi4"
)

// sysClassHidraw and sysBusDir are overridable by tests.
var (
	sysClassHidraw = "/sys/class/hidraw"
	sysBusDir      = "/sys/bus"
)

// subsystems is the ordered list of bus subsystems a hid device's
// grandparent is searched under, per fu_synaptics_rmi_hid_device's
// rebind_driver().
var subsystems = []string{"i2c", "usb"}

// Rebind performs "unbind then bind" of the hid device's bus parent at
// devPath (a /dev/hidrawN node), forcing the kernel to re-enumerate it.
type Rebind struct {
	devPath string
	device  *rmi4.Device
}

// New returns a Rebind helper for the hidraw node at devPath.
func New(devPath string) *Rebind {
	return &Rebind{devPath: devPath}
}

// BindDevice associates d with this helper so Rebind sets
// FlagWaitForReplug on it immediately before unbinding.
func (r *Rebind) BindDevice(d *rmi4.Device) {
	r.device = d
}

// hidDevicePath resolves devPath's hid-subsystem device directory via
// /sys/class/hidraw/<node>/device.
func (r *Rebind) hidDevicePath() (string, error) {
	base := filepath.Base(r.devPath)
	link := filepath.Join(sysClassHidraw, base, "device")
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", rmi4.WrapError(rmi4.KindInvalidFile, "sysfsrebind: "+link, err)
	}
	return target, nil
}

// grandparent returns the bus subsystem, bound driver name and physical id
// (its own sysfs leaf name) of the i2c or usb ancestor that sits directly
// above the hid device in the device tree.
func (r *Rebind) grandparent(hidDevice string) (subsystem, driver, physID string, err error) {
	parent := filepath.Dir(hidDevice)
	for _, subsys := range subsystems {
		subsysLink := filepath.Join(parent, "subsystem")
		target, lerr := filepath.EvalSymlinks(subsysLink)
		if lerr != nil {
			continue
		}
		if filepath.Base(target) != subsys {
			continue
		}
		driverLink := filepath.Join(parent, "driver")
		driverTarget, derr := filepath.EvalSymlinks(driverLink)
		if derr != nil {
			return "", "", "", rmi4.WrapError(rmi4.KindInvalidFile, "sysfsrebind: "+driverLink, derr)
		}
		return subsys, filepath.Base(driverTarget), filepath.Base(parent), nil
	}
	return "", "", "", rmi4.NewError(rmi4.KindInvalidFile, "sysfsrebind: no i2c or usb parent at "+parent)
}

// Rebind writes the grandparent's physical id to its driver's unbind file,
// then to its bind file, forcing re-enumeration. If a bound Device was
// supplied via BindDevice, FlagWaitForReplug is set on it before the
// unbind is issued.
func (r *Rebind) Rebind() error {
	hidDev, err := r.hidDevicePath()
	if err != nil {
		return err
	}
	subsys, driver, physID, err := r.grandparent(hidDev)
	if err != nil {
		return err
	}
	if r.device != nil {
		r.device.SetFlag(rmi4.FlagWaitForReplug)
	}
	driversDir := fmt.Sprintf("%s/%s/drivers/%s", sysBusDir, subsys, driver)
	if err := writeSysfsAttr(filepath.Join(driversDir, "unbind"), physID); err != nil {
		return err
	}
	return writeSysfsAttr(filepath.Join(driversDir, "bind"), physID)
}

func writeSysfsAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return rmi4.WrapError(rmi4.KindInvalidFile, "sysfsrebind: "+path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return rmi4.WrapError(rmi4.KindInvalidFile, "sysfsrebind: "+path, err)
	}
	return nil
}
