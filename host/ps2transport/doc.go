// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ps2transport implements rmi4.RmiTransport over the legacy PS/2
// byte protocol, piggy-backing RMI register access on Set-Resolution and
// Set-Sample-Rate escape sequences with an ACK/RESEND/ERROR handshake.
// Flash-mode transitions switch the kernel driver bound to the port
// between psmouse (runtime) and serio_raw (bootloader) through a drvctl
// sysfs attribute, then close and reopen the device node.
package ps2transport
