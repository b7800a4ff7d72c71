// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sysfsrebind forces a Linux driver to detach and reattach from a
// device by writing the device's physical id to the owning bus driver's
// sysfs unbind and bind files. It walks from a hidraw device node to its
// hid-subsystem parent, then to the i2c or usb grandparent that actually
// owns the bind/unbind files.
package sysfsrebind
