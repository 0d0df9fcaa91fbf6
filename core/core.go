// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package core implements the request dispatcher: the public
// read/write/controller_open/controller_close entry points that translate a
// host filesystem request into the correct sequence of lock acquisition,
// lazy initialization, partition switching, and I/O against either a
// redirected backing store or the host's own device accessor.
//
// Core collects the process-wide collaborators the original scatters as
// file-scope globals into a single process-wide state record owned by a
// top-level initializer.
package core

import (
	"github.com/lulle2007200/emummc/accessor"
	"github.com/lulle2007200/emummc/config"
	"github.com/lulle2007200/emummc/fatal"
	"github.com/lulle2007200/emummc/hwpartition"
	"github.com/lulle2007200/emummc/lifecycle"
	"github.com/lulle2007200/emummc/lockset"
	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// Code is the host-ABI result of a read/write/controller entry point: 0
// on success, FS_READ_WRITE_ERROR (a non-zero sentinel) on failure.
type Code uint32

const (
	CodeSuccess        Code = 0
	CodeReadWriteError Code = 1
)

// Core is the top-level process-wide state record: the validated
// topology, the two physical drivers the core itself owns for redirected
// I/O, and the collaborators built from the other packages.
type Core struct {
	topology *config.Topology
	selector *storage.Selector

	sdDriver   storage.Driver
	emmcDriver storage.Driver

	locks *lockset.Composer
	hw    *hwpartition.Coordinator
	life  *lifecycle.Manager
	bridge *accessor.Bridge

	sink fatal.Sink

	// customDriver mirrors the host's "custom driver" flag:
	// whether the core, rather than the host filesystem, owns sd_mutex.
	customDriver bool
}

// New returns a Core wiring the given topology and collaborators together.
// sink may be nil (fatal.DefaultSink is used).
func New(
	topology *config.Topology,
	selector *storage.Selector,
	sdDriver, emmcDriver storage.Driver,
	locks *lockset.Composer,
	hw *hwpartition.Coordinator,
	life *lifecycle.Manager,
	bridge *accessor.Bridge,
	sink fatal.Sink,
	customDriver bool,
) *Core {
	return &Core{
		topology:     topology,
		selector:     selector,
		sdDriver:     sdDriver,
		emmcDriver:   emmcDriver,
		locks:        locks,
		hw:           hw,
		life:         life,
		bridge:       bridge,
		sink:         sink,
		customDriver: customDriver,
	}
}

func (c *Core) fatalAbort(reason fatal.Reason, cause error) {
	fatal.Abort(c.sink, reason, cause)
}

func (c *Core) driverFor(device config.Device) storage.Driver {
	switch device {
	case config.DeviceSD:
		return c.sdDriver
	case config.DeviceEMMC:
		return c.emmcDriver
	default:
		c.fatalAbort(fatal.ReasonInvalidAccessor, errors.Errorf("core: no storage driver for device %v", device))
		return nil
	}
}

// targetPartition is the rule for which hardware partition a
// redirected request needs: partition- or file-backed redirections always
// need GPP, passthrough preserves whatever the host already had selected.
func targetPartition(red config.Redirection, current storage.Partition) storage.Partition {
	if red.Type == config.RedirNone {
		return current
	}
	return storage.PartitionGPP
}

// partitionIndex maps the active hardware partition to its boot-partition
// multiplexing index.
func partitionIndex(p storage.Partition) (uint64, error) {
	switch p {
	case storage.PartitionBOOT0:
		return 0, nil
	case storage.PartitionBOOT1:
		return 1, nil
	case storage.PartitionGPP:
		return 2, nil
	default:
		return 0, errors.Errorf("core: invalid active partition %v", p)
	}
}

// forward hands a request straight to the host's own device accessor,
// for GC always and for SD/EMMC when their redirection is RedirNone.
// RedirNone does not apply to EMMC (EMMC is always core-dispatched) but
// does apply to SD.
func (c *Core) forward(device config.Device, sector uint64, count uint32, buf []byte, write bool) Code {
	ops, err := c.bridge.Get(device)
	if err != nil {
		if write {
			c.fatalAbort(fatal.ReasonWriteNoAccessor, err)
		} else {
			c.fatalAbort(fatal.ReasonReadNoAccessor, err)
		}
		return CodeReadWriteError
	}
	if err := ops.ReadWrite(uint32(sector), count, buf, write); err != nil {
		return CodeReadWriteError
	}
	return CodeSuccess
}

// ControllerOpen forwards to the host accessor, taking the full composite
// lock around SD open only: this ensures no redirected I/O can race with
// the host filesystem's own controller re-init.
func (c *Core) ControllerOpen(device config.Device) Code {
	ops, err := c.bridge.Get(device)
	if err != nil {
		c.fatalAbort(fatal.ReasonOpenAccessor, err)
		return CodeReadWriteError
	}

	if device == config.DeviceSD {
		mask := lockset.NAND
		if c.customDriver {
			mask |= lockset.SD
		}
		c.locks.Lock(mask)
		defer c.locks.Unlock(mask)
	}

	if err := ops.Open(); err != nil {
		return CodeReadWriteError
	}
	return CodeSuccess
}

// ControllerClose drops file-backed handles via lifecycle.CloseController
// (which does not unmount volumes), deferring the actual accessor close if
// the other redirection still needs the physical device: closing EMMC when
// it redirects to SD also closes SD, eMMC's own accessor last.
func (c *Core) ControllerClose(device config.Device) Code {
	ops, err := c.bridge.Get(device)
	if err != nil {
		c.fatalAbort(fatal.ReasonCloseAccessor, err)
		return CodeReadWriteError
	}

	switch device {
	case config.DeviceSD:
		emmcOnSD := c.topology.EMMC.Type != config.RedirNone && c.topology.EMMC.Device == config.DeviceSD
		if err := c.life.CloseController(config.DeviceSD, emmcOnSD); err != nil {
			return CodeReadWriteError
		}
		if emmcOnSD {
			return CodeSuccess
		}
		if err := ops.Close(); err != nil {
			return CodeReadWriteError
		}
		return CodeSuccess

	case config.DeviceEMMC:
		if err := c.life.CloseController(config.DeviceEMMC, false); err != nil {
			return CodeReadWriteError
		}
		if c.topology.EMMC.Type != config.RedirNone && c.topology.EMMC.Device == config.DeviceSD {
			if sdOps, err := c.bridge.Get(config.DeviceSD); err == nil {
				_ = sdOps.Close()
				_ = c.life.CloseController(config.DeviceSD, false)
			}
		}
		if err := ops.Close(); err != nil {
			return CodeReadWriteError
		}
		return CodeSuccess

	default:
		if err := ops.Close(); err != nil {
			return CodeReadWriteError
		}
		return CodeSuccess
	}
}
