// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fake provides a deterministic in-memory storage.Driver used by
// dispatcher and lifecycle tests, standing in for a real controller the
// way a test board would stub github.com/f-secure-foundry/tamago's
// imx6/usdhc.USDHC.
package fake

import (
	"sync"

	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// Driver is a storage.Driver backed by a plain byte slice.
type Driver struct {
	mu sync.Mutex

	data     []byte
	sel      *storage.Selector
	power    bool
	initErr  error
	initCnt  int
	ended    bool
	setPartErrs map[storage.Partition]error
}

// New returns a Driver with capacity sectors of storage, sharing sel as the
// hardware-partition selector it updates on SetPartition.
func New(sectors uint64, sel *storage.Selector) *Driver {
	return &Driver{
		data:  make([]byte, sectors*storage.SectorSize),
		sel:   sel,
		power: true,
	}
}

// FailInit makes the next Init call return err; later calls succeed.
func (d *Driver) FailInit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initErr = err
}

// SetPowerEnabled simulates the boot sysmodule killing/restoring SD power.
func (d *Driver) SetPowerEnabled(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.power = v
}

// FailSetPartition makes SetPartition(p) fail with err.
func (d *Driver) FailSetPartition(p storage.Partition, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setPartErrs == nil {
		d.setPartErrs = make(map[storage.Partition]error)
	}
	d.setPartErrs[p] = err
}

func (d *Driver) Init(force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initCnt++
	if d.initErr != nil {
		err := d.initErr
		d.initErr = nil
		return err
	}
	d.power = true
	d.ended = false
	return nil
}

func (d *Driver) End() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ended = true
	return nil
}

func (d *Driver) Read(lba uint64, count uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off, n, err := d.bounds(lba, count, len(dst))
	if err != nil {
		return err
	}
	copy(dst, d.data[off:off+n])
	return nil
}

func (d *Driver) Write(lba uint64, count uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off, n, err := d.bounds(lba, count, len(src))
	if err != nil {
		return err
	}
	copy(d.data[off:off+n], src[:n])
	return nil
}

func (d *Driver) bounds(lba uint64, count uint32, bufLen int) (off, n uint64, err error) {
	off = lba * storage.SectorSize
	n = uint64(count) * storage.SectorSize
	if lba+uint64(count) > d.Sectors() {
		return 0, 0, storage.ErrOutOfBounds
	}
	if uint64(bufLen) < n {
		return 0, 0, errors.Errorf("fake: buffer too small: have %d, need %d", bufLen, n)
	}
	return off, n, nil
}

func (d *Driver) SetPartition(p storage.Partition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setPartErrs[p]; err != nil {
		return err
	}
	if d.sel != nil {
		d.sel.Store(p)
	}
	return nil
}

func (d *Driver) Sectors() uint64 {
	return uint64(len(d.data)) / storage.SectorSize
}

func (d *Driver) PowerEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

// InitCount returns how many times Init has been called, for lifecycle
// retry assertions.
func (d *Driver) InitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initCnt
}

// Ended reports whether End has been called since the last Init.
func (d *Driver) Ended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ended
}
