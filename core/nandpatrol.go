// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package core

import (
	"github.com/lulle2007200/emummc/backing"
	"github.com/lulle2007200/emummc/config"
	"github.com/lulle2007200/emummc/storage"
)

// nandPatrolSector is the sector offset of the nand-patrol sanity record
// within whichever store backs it.
// The real platform value is firmware-specific and out of this module's
// scope; this is a placeholder the caller can override by
// constructing the store directly and calling lifecycle.Manager's check.
const nandPatrolSector = 0

// EnsureNandPatrolIntegrity runs the once-per-lifetime nand-patrol sanity
// check: BOOT0 for
// eMMC passthrough, the GPP store (raw or split-file, whichever backs the
// redirection) when eMMC is redirected.
func (c *Core) EnsureNandPatrolIntegrity() {
	red := c.topology.EMMC

	switch red.Type {
	case config.RedirNone:
		store := &backing.Raw{Driver: c.emmcDriver, Base: 0, Sectors: storage.BootPartitionSectors}
		c.life.NandPatrolEnsureIntegrity(store, nandPatrolSector, c.emmcDriver.Sectors())

	case config.RedirFileEMMC, config.RedirFileSD:
		files := c.life.EMMCFiles()
		if files == nil || files.GPP == nil {
			return
		}
		c.life.NandPatrolEnsureIntegrity(files.GPP, nandPatrolSector, files.GPP.Size())

	case config.RedirPartitionSD, config.RedirPartitionEMMC:
		driver := c.driverFor(red.Device)
		base := red.StartSector + 2*storage.BootPartitionSectors
		store := &backing.Raw{Driver: driver, Base: base, Sectors: driver.Sectors()}
		c.life.NandPatrolEnsureIntegrity(store, nandPatrolSector, driver.Sectors())
	}
}
