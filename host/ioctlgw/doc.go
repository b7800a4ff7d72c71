// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ioctlgw executes feature-report ioctls on HID character devices:
// a payload buffer, a command code, and a timeout. It is used only by
// host/hidtransport, for the HIDIOCSFEATURE mode-change request.
package ioctlgw
