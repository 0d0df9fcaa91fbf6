// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package accessor implements the accessor bridge: an indirection table
// the core uses to call back into the host filesystem's own device
// accessors (SD, NAND, GC) for non-redirected paths, modeled as an
// explicit interface over the FFI boundary.
package accessor

import (
	"github.com/lulle2007200/emummc/config"
	"github.com/pkg/errors"
)

// Ops is the host filesystem's per-device accessor vtable {open, close,
// read_write}.
type Ops interface {
	Open() error
	Close() error
	ReadWrite(sector uint32, count uint32, buf []byte, write bool) error
}

// Bridge caches the host's three device accessors, captured at startup
//.
type Bridge struct {
	SD, NAND, GC Ops
}

// Get returns the accessor for device, or an error for an invalid id or an
// unregistered accessor (the caller turns it into a fatal abort).
func (b *Bridge) Get(device config.Device) (Ops, error) {
	switch device {
	case config.DeviceSD:
		if b.SD == nil {
			return nil, errors.New("accessor: no SD accessor registered")
		}
		return b.SD, nil
	case config.DeviceEMMC:
		if b.NAND == nil {
			return nil, errors.New("accessor: no NAND accessor registered")
		}
		return b.NAND, nil
	case config.DeviceGC:
		if b.GC == nil {
			return nil, errors.New("accessor: no GC accessor registered")
		}
		return b.GC, nil
	default:
		return nil, errors.Errorf("accessor: invalid device %v", device)
	}
}
