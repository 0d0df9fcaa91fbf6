// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package lockset implements the mutex composer: deriving the
// correct lock acquisition set from the current redirection topology so
// that the two host-provided mutexes (sd_mutex, nand_mutex) are always
// acquired in the fixed global order sd < nand, and released in reverse.
//
// The table here is a direct transcription of the original
// mutex_lock_handler/mutex_unlock_handler (emuMMC/emummc.c): a static table
// keyed by (requested device, sd_target, emmc_target, custom_driver)
// yielding a bitmask of {SD, NAND} to acquire.
package lockset

import (
	"sync"

	"github.com/lulle2007200/emummc/config"
)

// Bit is a bitmask of which physical mutexes to take.
type Bit uint8

const (
	SD Bit = 1 << iota
	NAND
)

// Composer owns the two host-provided mutexes and acquires/releases them in
// the fixed global order sd_mutex < nand_mutex.
type Composer struct {
	sd   *sync.Mutex
	nand *sync.Mutex
}

// New returns a Composer over the host's two physical mutexes.
func New(sdMutex, nandMutex *sync.Mutex) *Composer {
	return &Composer{sd: sdMutex, nand: nandMutex}
}

// Lock acquires the mutexes named in mask, sd before nand.
func (c *Composer) Lock(mask Bit) {
	if mask&SD != 0 {
		c.sd.Lock()
	}
	if mask&NAND != 0 {
		c.nand.Lock()
	}
}

// Unlock releases the mutexes named in mask, nand before sd (reverse
// order).
func (c *Composer) Unlock(mask Bit) {
	if mask&NAND != 0 {
		c.nand.Unlock()
	}
	if mask&SD != 0 {
		c.sd.Unlock()
	}
}

// Acquisition returns the lock mask to take for a request on reqDevice,
// given where the logical SD and eMMC devices currently redirect
// (sdTarget/emmcTarget, each one of config.DeviceSD/DeviceEMMC) and whether
// the core owns sd_mutex itself (customDriver,: "a custom driver
// flag indicates that the core, not the host filesystem, owns the
// sd_mutex").
//
// This reproduces the original's mutex_lock_handler matrix exactly,
// including its asymmetry (e.g. FS_SDMMC_EMMC with sd_target==SD &&
// emmc_target==SD takes sd_mutex only when customDriver, same as
// FS_SDMMC_SD with the same targets).
func Acquisition(reqDevice config.Device, sdTarget, emmcTarget config.Device, customDriver bool) Bit {
	sdToSD := sdTarget == config.DeviceSD
	emmcToSD := emmcTarget == config.DeviceSD

	switch reqDevice {
	case config.DeviceEMMC:
		switch {
		case sdToSD && emmcToSD:
			return sdIf(customDriver) | NAND
		case sdToSD && !emmcToSD:
			return sdIf(false) | nandIf(customDriver)
		case !sdToSD && emmcToSD:
			return sdIf(customDriver) | NAND
		default: // !sdToSD && !emmcToSD
			return SD | nandIf(customDriver)
		}
	case config.DeviceSD:
		switch {
		case sdToSD && emmcToSD:
			return sdIf(customDriver) | NAND
		case sdToSD && !emmcToSD:
			return sdIf(customDriver)
		case !sdToSD && emmcToSD:
			return SD | nandIf(customDriver)
		default: // !sdToSD && !emmcToSD
			return SD | nandIf(customDriver)
		}
	default:
		return 0
	}
}

func sdIf(take bool) Bit {
	if take {
		return SD
	}
	return 0
}

func nandIf(take bool) Bit {
	if take {
		return NAND
	}
	return 0
}
