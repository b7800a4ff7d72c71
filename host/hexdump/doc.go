// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hexdump renders register reads and writes as labeled hex dumps,
// the same debug aid the original plugin calls on every RmiTransport
// register exchange. Output is colorized per byte value (zero bytes dim,
// everything else in a 256-color ramp) when writing to a real terminal.
package hexdump
