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
	"github.com/lulle2007200/emummc/fatal"
	"github.com/lulle2007200/emummc/filesystem"
	"github.com/lulle2007200/emummc/lockset"
	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// Read services a host read request.
//
// The original has a commented-out path that, after the first raw-based SD
// redirected read, stops using the core's own SD driver and permanently
// defers to the host's own FS driver instead, releasing sd_mutex for good.
// It stays disabled here too: every SD read keeps going through the core.
func (c *Core) Read(device config.Device, sector uint64, count uint32, buf []byte) Code {
	return c.rw(device, sector, count, buf, false)
}

// Write services a host write request.
func (c *Core) Write(device config.Device, sector uint64, count uint32, buf []byte) Code {
	return c.rw(device, sector, count, buf, true)
}

// rw is the shared dispatch path for Read/Write: GC always forwards
// straight through; SD with no redirection forwards through
// with no lock held at all; everything else takes the
// lock set Acquisition computes, lazily initializes, runs the
// once-per-lifetime nand-patrol sanity check, and dispatches to the
// redirected or passthrough I/O path.
func (c *Core) rw(device config.Device, sector uint64, count uint32, buf []byte, write bool) Code {
	switch device {
	case config.DeviceGC:
		return c.forward(config.DeviceGC, sector, count, buf, write)
	case config.DeviceSD:
		if c.topology.SD.Type == config.RedirNone {
			return c.forward(config.DeviceSD, sector, count, buf, write)
		}
	case config.DeviceEMMC:
		// Always core-dispatched, even when EMMC.Type == RedirNone: the
		// core still multiplexes BOOT0/BOOT1/GPP by active partition for
		// passthrough.
	default:
		c.fatalAbort(fatal.ReasonInvalidEnum, errors.Errorf("core: invalid device %v", device))
		return CodeReadWriteError
	}

	mask := lockset.Acquisition(device, c.topology.SD.Device, c.topology.EMMC.Device, c.customDriver)
	c.locks.Lock(mask)
	defer c.locks.Unlock(mask)

	if err := c.life.EnsureInitialized(device); err != nil {
		return CodeReadWriteError
	}
	c.EnsureNandPatrolIntegrity()

	var ok bool
	switch device {
	case config.DeviceEMMC:
		ok = c.readWriteEMMC(sector, count, buf, write)
	case config.DeviceSD:
		ok = c.readWriteSD(sector, count, buf, write)
	}
	if !ok {
		return CodeReadWriteError
	}
	return CodeSuccess
}

func (c *Core) readWriteEMMC(sector uint64, count uint32, buf []byte, write bool) bool {
	red := c.topology.EMMC
	active := c.selector.Load()

	switch red.Type {
	case config.RedirNone, config.RedirPartitionSD, config.RedirPartitionEMMC:
		return c.rawEMMC(red, active, sector, count, buf, write)
	case config.RedirFileSD, config.RedirFileEMMC:
		return c.fileEMMC(red, active, sector, count, buf, write)
	default:
		c.fatalAbort(fatal.ReasonInvalidEnum, errors.Errorf("core: invalid EMMC redirection type %v", red.Type))
		return false
	}
}

// rawEMMC dispatches a raw (partition-backed or passthrough) eMMC request.
// A redirected request adds the boot-partition multiplexing offset
// (active_partition_index * BOOT_PARTITION_SIZE); passthrough never does,
// since the host already addresses its own device directly. Bounds
// violations are fatal only when the physical device ultimately touched is
// SD; any other physical device soft-zero-returns (can only happen with
// nand patrol if the backing store was resized).
func (c *Core) rawEMMC(red config.Redirection, active storage.Partition, sector uint64, count uint32, buf []byte, write bool) bool {
	driver := c.driverFor(red.Device)

	s := sector
	if red.Type != config.RedirNone {
		idx, err := partitionIndex(active)
		if err != nil {
			c.fatalAbort(fatal.ReasonInvalidPartition, err)
			return false
		}
		s = sector + red.StartSector + idx*storage.BootPartitionSectors
	}

	if s+uint64(count) > driver.Sectors() {
		if red.Device == config.DeviceSD {
			c.fatalAbort(fatal.ReasonOOB, errors.Errorf("core: out-of-bounds eMMC-on-SD access sector=%d count=%d", s, count))
			return false
		}
		return false
	}

	if err := c.hw.Ensure(targetPartition(red, active)); err != nil {
		c.fatalAbort(fatal.ReasonPartitionSwitchFail, err)
		return false
	}
	var err error
	if write {
		err = driver.Write(s, count, buf)
	} else {
		err = driver.Read(s, count, buf)
	}
	if rerr := c.hw.Restore(); rerr != nil {
		c.fatalAbort(fatal.ReasonPartitionSwitchFail, rerr)
		return false
	}
	return err == nil
}

// fileEMMC dispatches a file-backed eMMC request. The active hardware
// partition (captured before the bracketing Ensure/Restore forces it to
// GPP) selects which file set serves the request: BOOT0/BOOT1 as single
// files, GPP as the split-file set. File-path bounds violations
// always soft-zero-return ((ii)), independent of which physical
// device the backing files live on.
func (c *Core) fileEMMC(red config.Redirection, active storage.Partition, sector uint64, count uint32, buf []byte, write bool) bool {
	files := c.life.EMMCFiles()
	if files == nil {
		c.fatalAbort(fatal.ReasonInvalidAccessor, errors.New("core: file-backed eMMC requested before its handles were opened"))
		return false
	}

	if err := c.hw.Ensure(targetPartition(red, active)); err != nil {
		c.fatalAbort(fatal.ReasonPartitionSwitchFail, err)
		return false
	}
	defer func() {
		if rerr := c.hw.Restore(); rerr != nil {
			c.fatalAbort(fatal.ReasonPartitionSwitchFail, rerr)
		}
	}()

	switch active {
	case storage.PartitionBOOT0:
		return fileIO(files.Boot0, sector, count, buf, write)
	case storage.PartitionBOOT1:
		return fileIO(files.Boot1, sector, count, buf, write)
	case storage.PartitionGPP:
		return splitIO(files.GPP, sector, count, buf, write)
	default:
		c.fatalAbort(fatal.ReasonInvalidPartition, errors.Errorf("core: invalid active partition %v", active))
		return false
	}
}

func (c *Core) readWriteSD(sector uint64, count uint32, buf []byte, write bool) bool {
	red := c.topology.SD
	active := c.selector.Load()

	switch red.Type {
	case config.RedirPartitionSD, config.RedirPartitionEMMC:
		return c.rawSD(red, active, sector, count, buf, write)
	case config.RedirFileSD, config.RedirFileEMMC:
		return c.fileSD(red, active, sector, count, buf, write)
	default:
		c.fatalAbort(fatal.ReasonInvalidEnum, errors.Errorf("core: invalid SD redirection type %v", red.Type))
		return false
	}
}

// rawSD dispatches a raw SD request. Unlike eMMC, SD redirection never
// multiplexes by boot-partition index (there is no BOOT0/BOOT1 concept on
// the logical SD device); any out-of-bounds access is always fatal.
func (c *Core) rawSD(red config.Redirection, active storage.Partition, sector uint64, count uint32, buf []byte, write bool) bool {
	driver := c.driverFor(red.Device)
	s := sector + red.StartSector

	if s+uint64(count) > driver.Sectors() {
		c.fatalAbort(fatal.ReasonOOB, errors.Errorf("core: out-of-bounds SD access sector=%d count=%d", s, count))
		return false
	}

	if err := c.hw.Ensure(targetPartition(red, active)); err != nil {
		c.fatalAbort(fatal.ReasonPartitionSwitchFail, err)
		return false
	}
	var err error
	if write {
		err = driver.Write(s, count, buf)
	} else {
		err = driver.Read(s, count, buf)
	}
	if rerr := c.hw.Restore(); rerr != nil {
		c.fatalAbort(fatal.ReasonPartitionSwitchFail, rerr)
		return false
	}
	return err == nil
}

// fileSD dispatches a file-backed SD request (legal only via direct
// Topology construction, rejects SD_Type File_Sd/File_Emmc — kept
// for robustness and tests).
func (c *Core) fileSD(red config.Redirection, active storage.Partition, sector uint64, count uint32, buf []byte, write bool) bool {
	split := c.life.SDFiles()
	if split == nil {
		c.fatalAbort(fatal.ReasonInvalidAccessor, errors.New("core: file-backed SD requested before its handles were opened"))
		return false
	}

	if err := c.hw.Ensure(targetPartition(red, active)); err != nil {
		c.fatalAbort(fatal.ReasonPartitionSwitchFail, err)
		return false
	}
	defer func() {
		if rerr := c.hw.Restore(); rerr != nil {
			c.fatalAbort(fatal.ReasonPartitionSwitchFail, rerr)
		}
	}()

	return splitIO(split, sector, count, buf, write)
}

func fileIO(f filesystem.File, sector uint64, count uint32, buf []byte, write bool) bool {
	size := int(count) * storage.SectorSize
	if size > len(buf) {
		return false
	}
	if err := f.Seek(int64(sector) * storage.SectorSize); err != nil {
		return false
	}
	if write {
		n, err := f.WriteAt(buf[:size])
		return err == nil && n == size
	}
	n, err := f.ReadAt(buf[:size])
	return err == nil && n == size
}

func splitIO(s *backing.Split, sector uint64, count uint32, buf []byte, write bool) bool {
	var err error
	if write {
		err = s.Write(sector, count, buf)
	} else {
		err = s.Read(sector, count, buf)
	}
	return err == nil
}
