// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package lifecycle implements the lifecycle manager: lazy
// SD/eMMC initialization (with retry and power-loss reinitialization),
// refcounted filesystem volume mount/unmount, split-file set opening, and
// the once-per-lifetime nand-patrol sanity check.
//
// The process-wide flag set and the two refcounts are collected into a
// single Manager, a process-wide state record owned by a top-level
// initializer, rather than the file-scope mutables the original uses.
package lifecycle

import (
	"github.com/lulle2007200/emummc/backing"
	"github.com/lulle2007200/emummc/config"
	"github.com/lulle2007200/emummc/fatal"
	"github.com/lulle2007200/emummc/filesystem"
	"github.com/lulle2007200/emummc/internal/bitword"
	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

const (
	flagSDInitialized = iota
	flagEMMCInitialized
	flagSDFirstInitDone
	flagSDReinitDone
	flagFileSDOpen
	flagFileEMMCOpen
	flagDASAttached
	flagNandPatrolChecked
)

// busModePos/busModeMask locate the current eMMC bus-mode rung inside the
// same flags word, in the bits.Get/SetN bit-position-and-mask idiom.
const (
	busModePos  = 8
	busModeMask = 0x3
)

// sdInitRetries is the number of sd_init attempts before SD init is fatal.
const sdInitRetries = 3

// maxPartsEMMC/maxPartsSD bound the split-file indexer loop
// (EMUMMC_FILE_MAX_PARTS/EMUSD_FILE_MAX_PARTS in the original); the exact
// original values are platform/build-configuration constants outside this
// module's scope, so these are documented stand-ins sized for
// the largest GPP/SD partitions the on-disk layout expects.
// clusterMapEntries is the per-part cluster-link-map accelerator size
// (CLMT_COUNT in the original), same caveat.
const (
	maxPartsEMMC      = 8
	maxPartsSD        = 8
	clusterMapEntries = 64
)

// DASAttacher models the device-address-space attach-once call the
// original issues lazily on first SD/NAND access. Real DAS attachment is
// platform IPC, out of this module's scope; a no-op implementation is
// correct for hosted tests.
type DASAttacher interface {
	Attach() error
}

// NopDASAttacher is a DASAttacher that does nothing, for configurations or
// tests that don't exercise the device address space.
type NopDASAttacher struct{}

func (NopDASAttacher) Attach() error { return nil }

// Manager owns the process-wide lifecycle state: initialization flags,
// mount refcounts, and the open file-backing handles ("Lifecycle
// flags" and "Mount refcounts").
type Manager struct {
	flags uint32

	topology *config.Topology

	sdDriver   storage.Driver
	emmcDriver storage.Driver
	emmcBus    BusModeDriver // non-nil if emmcDriver also implements the bus-mode ladder

	fs  filesystem.FS
	das DASAttacher

	mountSys, mountSDMC int

	emmcFiles *EMMCFileBacking
	sdFiles   *backing.Split

	sink fatal.Sink
}

// New returns a Manager for the given topology and collaborators. sink may
// be nil, in which case fatal.DefaultSink is used.
func New(topology *config.Topology, sdDriver, emmcDriver storage.Driver, fs filesystem.FS, das DASAttacher, sink fatal.Sink) *Manager {
	m := &Manager{
		topology:   topology,
		sdDriver:   sdDriver,
		emmcDriver: emmcDriver,
		fs:         fs,
		das:        das,
		sink:       sink,
	}
	if bm, ok := emmcDriver.(BusModeDriver); ok {
		m.emmcBus = bm
	}
	if m.das == nil {
		m.das = NopDASAttacher{}
	}
	return m
}

func (m *Manager) fatal(reason fatal.Reason, cause error) {
	fatal.Abort(m.sink, reason, cause)
}

func (m *Manager) ensureDASAttached() error {
	if bitword.Get(&m.flags, flagDASAttached, 1) != 0 {
		return nil
	}
	if err := m.das.Attach(); err != nil {
		return errors.Wrap(err, "lifecycle: attach device address space")
	}
	bitword.Set(&m.flags, flagDASAttached)
	return nil
}

// EnsureInitialized dispatches to the per-device initializer, a no-op for
// config.DeviceGC (: "GC requests always pass through... without
// any core involvement").
func (m *Manager) EnsureInitialized(device config.Device) error {
	switch device {
	case config.DeviceSD:
		return m.EnsureSDInitialized()
	case config.DeviceEMMC:
		return m.EnsureEMMCInitialized()
	case config.DeviceGC:
		return nil
	default:
		return errors.Errorf("lifecycle: invalid device %v", device)
	}
}

// EnsureSDInitialized is idempotent. On first call it retries
// the driver's Init up to sdInitRetries times, fatal on exhaustion. On
// later calls it detects power loss via PowerEnabled and reinitializes
// exactly once per lifetime. If the topology needs file-backed SD or
// file-backed eMMC living on SD, it also mounts the SD volume (refcounted)
// and opens the relevant split-file set(s).
func (m *Manager) EnsureSDInitialized() error {
	if err := m.ensureDASAttached(); err != nil {
		return err
	}

	if bitword.Get(&m.flags, flagSDInitialized, 1) == 0 {
		var err error
		for attempt := 0; attempt < sdInitRetries; attempt++ {
			if err = m.sdDriver.Init(false); err == nil {
				break
			}
		}
		if err != nil {
			m.fatal(fatal.ReasonInitSD, err)
			return err
		}
		bitword.Set(&m.flags, flagSDInitialized)
	} else if bitword.Get(&m.flags, flagSDReinitDone, 1) == 0 {
		if !m.sdDriver.PowerEnabled() {
			if err := m.sdDriver.End(); err != nil {
				m.fatal(fatal.ReasonInitSD, err)
				return err
			}
			if err := m.sdDriver.Init(true); err != nil {
				m.fatal(fatal.ReasonInitSD, err)
				return err
			}
			bitword.Set(&m.flags, flagSDReinitDone)
		}
	}

	// EMMC.Type == RedirFileSD means the eMMC redirection's backing files
	// live under the SD card's own filesystem.
	// SD.Type == RedirFileSD is legal only on an unvalidated Topology
	// (config.Validate rejects it); support it anyway for direct Topology
	// construction in tests.
	needEMMCOnSD := m.topology.EMMC.Type == config.RedirFileSD
	needSDOnSD := m.topology.SD.Type == config.RedirFileSD
	if !needEMMCOnSD && !needSDOnSD {
		return nil
	}

	if err := m.mountLocked(filesystem.VolumeSDMC); err != nil {
		return err
	}

	if needEMMCOnSD && bitword.Get(&m.flags, flagFileEMMCOpen, 1) == 0 {
		files, err := openEMMCFileBacking(m.fs, backing.IndexOptions{
			Volume:            filesystem.VolumeSDMC,
			Dir:               m.topology.EMMC.PathPrefix + "/eMMC/",
			MaxParts:          maxPartsEMMC,
			ClusterMapEntries: clusterMapEntries,
		})
		if err != nil {
			m.fatal(fatal.ReasonFatfsFileOpen, err)
			return err
		}
		m.emmcFiles = files
		bitword.Set(&m.flags, flagFileEMMCOpen)
	}

	if needSDOnSD && bitword.Get(&m.flags, flagFileSDOpen, 1) == 0 {
		split, err := backing.OpenSplit(m.fs, backing.IndexOptions{
			Volume:            filesystem.VolumeSDMC,
			Dir:               m.topology.SD.PathPrefix + "/SD/",
			MaxParts:          maxPartsSD,
			ClusterMapEntries: clusterMapEntries,
		})
		if err != nil {
			m.fatal(fatal.ReasonFatfsFileOpen, err)
			return err
		}
		m.sdFiles = split
		bitword.Set(&m.flags, flagFileSDOpen)
	}

	return nil
}

// EnsureEMMCInitialized walks the adaptive bus-mode ladder:
// HS400, HS200, 8-bit HS52, 1-bit HS52, each attempt power-cycling the
// controller, until one succeeds or the floor is reached (fatal). If the
// driver doesn't implement BusModeDriver, a single plain Init stands in
// for the ladder (e.g. storage/fake in tests that don't care about bus
// mode). It also opens file-backed eMMC handles living on the eMMC's own
// filesystem.
func (m *Manager) EnsureEMMCInitialized() error {
	if err := m.ensureDASAttached(); err != nil {
		return err
	}

	if bitword.Get(&m.flags, flagEMMCInitialized, 1) == 0 {
		if err := m.climbBusModeLadder(); err != nil {
			m.fatal(fatal.ReasonInitMMC, err)
			return err
		}
		bitword.Set(&m.flags, flagEMMCInitialized)
	}

	needEMMCOnEMMC := m.topology.EMMC.Type == config.RedirFileEMMC
	if !needEMMCOnEMMC {
		return nil
	}

	if err := m.mountLocked(filesystem.VolumeSys); err != nil {
		return err
	}

	if bitword.Get(&m.flags, flagFileEMMCOpen, 1) != 0 {
		return nil
	}
	files, err := openEMMCFileBacking(m.fs, backing.IndexOptions{
		Volume:            filesystem.VolumeSys,
		Dir:               m.topology.EMMC.PathPrefix + "/eMMC/",
		MaxParts:          maxPartsEMMC,
		ClusterMapEntries: clusterMapEntries,
	})
	if err != nil {
		m.fatal(fatal.ReasonFatfsFileOpen, err)
		return err
	}
	m.emmcFiles = files
	bitword.Set(&m.flags, flagFileEMMCOpen)
	return nil
}

func (m *Manager) climbBusModeLadder() error {
	if m.emmcBus == nil {
		return m.emmcDriver.Init(false)
	}

	mode := BusMode(bitword.Get(&m.flags, busModePos, busModeMask))
	var lastErr error
	for {
		if lastErr = m.emmcBus.InitAtMode(mode); lastErr == nil {
			bitword.SetN(&m.flags, busModePos, busModeMask, uint32(mode))
			return nil
		}
		next, ok := mode.next()
		if !ok {
			return errors.Wrapf(lastErr, "lifecycle: bus mode ladder exhausted at %s", mode)
		}
		mode = next
	}
}

// NandPatrolEnsureIntegrity performs the once-per-lifetime sanity check:
// it reads the nand-patrol record at sector from store, and if the
// record's recorded offset exceeds currentSize (sectors), zeroes the
// record in place. Failures are swallowed, matching the original.
// Device-specific store/sector selection (GPP for any redirected eMMC
// mode, BOOT0 for passthrough) is the caller's responsibility.
func (m *Manager) NandPatrolEnsureIntegrity(store backing.Store, sector uint64, currentSize uint64) {
	if bitword.Get(&m.flags, flagNandPatrolChecked, 1) != 0 {
		return
	}
	bitword.Set(&m.flags, flagNandPatrolChecked)

	var buf [storage.SectorSize]byte
	if err := store.Read(sector, 1, buf[:]); err != nil {
		return
	}
	rec, err := parseNandPatrolRecord(buf[:])
	if err != nil {
		return
	}
	if rec.Offset <= currentSize {
		return
	}
	rec.Offset = 0
	packed, err := rec.pack()
	if err != nil {
		return
	}
	_ = store.Write(sector, 1, packed)
}

// mountLocked increments the refcount for vol, mounting on the 0→1
// transition.
func (m *Manager) mountLocked(vol filesystem.Volume) error {
	count := m.refcount(vol)
	if *count == 0 {
		if err := m.fs.Mount(vol); err != nil {
			m.fatal(fatal.ReasonFatfsMount, err)
			return err
		}
	}
	*count++
	return nil
}

// Unmount decrements the refcount for vol, unmounting on the 1→0
// transition. A decrement from 0 is fatal.
func (m *Manager) Unmount(vol filesystem.Volume) error {
	count := m.refcount(vol)
	if *count == 0 {
		err := errors.Errorf("lifecycle: unmount underflow on %s", vol)
		m.fatal(fatal.ReasonMountUnderflow, err)
		return err
	}
	*count--
	if *count == 0 {
		if err := m.fs.Unmount(vol); err != nil {
			return errors.Wrap(err, "lifecycle: unmount")
		}
	}
	return nil
}

// Mount is the exported counterpart to mountLocked, for callers that need
// to mount a volume outside of EnsureSDInitialized/EnsureEMMCInitialized
// (e.g. a dispatcher reopening a closed controller).
func (m *Manager) Mount(vol filesystem.Volume) error {
	return m.mountLocked(vol)
}

func (m *Manager) refcount(vol filesystem.Volume) *int {
	if vol == filesystem.VolumeSys {
		return &m.mountSys
	}
	return &m.mountSDMC
}

// EMMCFiles returns the open file-backing handles for a file-backed eMMC
// redirection, or nil if none is configured or opened yet.
func (m *Manager) EMMCFiles() *EMMCFileBacking { return m.emmcFiles }

// SDFiles returns the open split-file set for a file-backed SD
// redirection, or nil if none is configured or opened yet.
func (m *Manager) SDFiles() *backing.Split { return m.sdFiles }

// CloseController drops the Manager's file-backed handles for device,
// deferring everything if the other redirection still needs the same
// physical device. It does not close the dropped files and does not
// unmount any volume: the mount refcounts are left as they are.
//
// stillNeeded reports, for the physical device the core is about to stop
// using, whether the other logical redirection still depends on it; the
// caller (the request dispatcher, which knows both redirections) supplies
// this.
//
// Closing SD also drops flagSDInitialized/flagSDReinitDone: a later
// controller_open must run EnsureSDInitialized's full retry-Init path again
// rather than believing SD is still initialized from before the close.
func (m *Manager) CloseController(device config.Device, stillNeeded bool) error {
	if stillNeeded {
		return nil
	}

	switch device {
	case config.DeviceSD:
		if m.sdFiles != nil {
			bitword.Clear(&m.flags, flagFileSDOpen)
			m.sdFiles = nil
		}
		bitword.Clear(&m.flags, flagSDInitialized)
		bitword.Clear(&m.flags, flagSDReinitDone)
		if err := m.sdDriver.End(); err != nil {
			return errors.Wrap(err, "lifecycle: end SD controller")
		}
	case config.DeviceEMMC:
		if m.emmcFiles != nil {
			bitword.Clear(&m.flags, flagFileEMMCOpen)
			m.emmcFiles = nil
		}
	}

	return nil
}
