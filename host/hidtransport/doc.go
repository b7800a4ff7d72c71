// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hidtransport implements rmi4.RmiTransport over HID reports
// 0x09/0x0A/0x0B/0x0C/0x0F on a hidraw character device. It owns the
// mode feature-report (runtime mouse mode vs. attention-report mode) and,
// on detach, the driver-rebind sequence in host/sysfsrebind.
package hidtransport
