// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ps2transport

import "testing"

func TestDriverInitRequiresBusDir(t *testing.T) {
	d := &driver{busDir: t.TempDir()}
	ok, err := d.Init()
	if !ok || err != nil {
		t.Fatalf("Init() = %t, %v", ok, err)
	}
}

func TestDriverInitMissingBusDir(t *testing.T) {
	d := &driver{busDir: "/nonexistent/path/for/ps2transport-test"}
	ok, err := d.Init()
	if ok || err != nil {
		t.Fatalf("Init() = %t, %v", ok, err)
	}
}

func TestDriverString(t *testing.T) {
	d := &driver{}
	if d.String() != "rmi4-ps2transport" {
		t.Fatalf("unexpected name %q", d.String())
	}
}
