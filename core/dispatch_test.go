// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package core

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/lulle2007200/emummc/accessor"
	"github.com/lulle2007200/emummc/config"
	"github.com/lulle2007200/emummc/filesystem"
	"github.com/lulle2007200/emummc/filesystem/memfs"
	"github.com/lulle2007200/emummc/hwpartition"
	"github.com/lulle2007200/emummc/lifecycle"
	"github.com/lulle2007200/emummc/lockset"
	"github.com/lulle2007200/emummc/storage"
	"github.com/lulle2007200/emummc/storage/fake"
)

type fakeOps struct {
	name    string
	log     *[]string
	openErr error
	closeErr error
	rwErr   error
	rwCalls int
}

func (f *fakeOps) Open() error {
	if f.log != nil {
		*f.log = append(*f.log, f.name+":open")
	}
	return f.openErr
}

func (f *fakeOps) Close() error {
	if f.log != nil {
		*f.log = append(*f.log, f.name+":close")
	}
	return f.closeErr
}

func (f *fakeOps) ReadWrite(sector, count uint32, buf []byte, write bool) error {
	f.rwCalls++
	if f.rwErr == nil && !write {
		for i := range buf {
			buf[i] = 0xAB
		}
	}
	return f.rwErr
}

func newTestCore(sel *storage.Selector, topo *config.Topology, sd, emmc storage.Driver, fs filesystem.FS, bridge *accessor.Bridge) *Core {
	locks := lockset.New(&sync.Mutex{}, &sync.Mutex{})
	hw := hwpartition.New(emmc, sel)
	life := lifecycle.New(topo, sd, emmc, fs, nil, nil)
	if bridge == nil {
		bridge = &accessor.Bridge{}
	}
	return New(topo, sel, sd, emmc, locks, hw, life, bridge, nil, false)
}

func passthroughTopology() *config.Topology {
	return &config.Topology{
		EMMC: config.Redirection{Type: config.RedirNone, Device: config.DeviceEMMC},
		SD:   config.Redirection{Type: config.RedirNone, Device: config.DeviceSD},
	}
}

func TestReadEMMCPassthroughDoesNotForcePartition(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(storage.BootPartitionSectors*3+100, sel)
	sd := fake.New(100, nil)
	c := newTestCore(sel, passthroughTopology(), sd, emmc, memfs.New(), nil)

	buf := make([]byte, storage.SectorSize)
	if code := c.Read(config.DeviceEMMC, 0, 1, buf); code != CodeSuccess {
		t.Fatalf("Read = %v, want CodeSuccess", code)
	}
	if sel.Load() != storage.PartitionBOOT0 {
		t.Fatalf("selector = %v, want unchanged BOOT0 (passthrough must not force GPP)", sel.Load())
	}
}

func TestReadEMMCRedirectedForcesGPPAndAppliesBootIndex(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT1)
	emmc := fake.New(storage.BootPartitionSectors*3+100, sel)
	sd := fake.New(100, nil)
	topo := &config.Topology{
		EMMC: config.Redirection{Type: config.RedirPartitionEMMC, Device: config.DeviceEMMC, StartSector: 10},
		SD:   config.Redirection{Type: config.RedirNone, Device: config.DeviceSD},
	}
	c := newTestCore(sel, topo, sd, emmc, memfs.New(), nil)

	// With BOOT1 active, sector 0 maps to StartSector + 1*BootPartitionSectors.
	marker := make([]byte, storage.SectorSize)
	marker[0] = 0x5A
	if err := emmc.Write(10+storage.BootPartitionSectors, 1, marker); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	buf := make([]byte, storage.SectorSize)
	if code := c.Read(config.DeviceEMMC, 0, 1, buf); code != CodeSuccess {
		t.Fatalf("Read = %v, want CodeSuccess", code)
	}
	if buf[0] != 0x5A {
		t.Fatalf("buf[0] = %#x, want 0x5a (boot index offset not applied)", buf[0])
	}
	// Ensure/Restore must leave the selector back at the host's own choice.
	if sel.Load() != storage.PartitionBOOT1 {
		t.Fatalf("selector after Restore = %v, want BOOT1", sel.Load())
	}
}

func TestReadEMMCOnSDOutOfBoundsIsFatal(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(100, sel)
	sd := fake.New(10, nil)
	topo := &config.Topology{
		EMMC: config.Redirection{Type: config.RedirPartitionSD, Device: config.DeviceSD, StartSector: 1},
		SD:   config.Redirection{Type: config.RedirNone, Device: config.DeviceSD},
	}
	c := newTestCore(sel, topo, sd, emmc, memfs.New(), nil)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: eMMC redirected onto SD must fatal on out-of-bounds")
		}
	}()
	buf := make([]byte, storage.SectorSize*20)
	_ = c.Read(config.DeviceEMMC, 0, 20, buf)
	t.Fatal("unreachable")
}

func TestReadEMMCOnEMMCOutOfBoundsIsSoft(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(10, sel)
	sd := fake.New(100, nil)
	topo := &config.Topology{
		EMMC: config.Redirection{Type: config.RedirPartitionEMMC, Device: config.DeviceEMMC, StartSector: 1},
		SD:   config.Redirection{Type: config.RedirNone, Device: config.DeviceSD},
	}
	c := newTestCore(sel, topo, sd, emmc, memfs.New(), nil)

	buf := make([]byte, storage.SectorSize*20)
	code := c.Read(config.DeviceEMMC, 0, 20, buf)
	if code != CodeReadWriteError {
		t.Fatalf("Read = %v, want CodeReadWriteError (soft failure, no panic)", code)
	}
}

func TestReadSDOutOfBoundsIsFatal(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(100, sel)
	sd := fake.New(10, nil)
	topo := &config.Topology{
		EMMC: config.Redirection{Type: config.RedirNone, Device: config.DeviceEMMC},
		SD:   config.Redirection{Type: config.RedirPartitionEMMC, Device: config.DeviceEMMC, StartSector: 1},
	}
	c := newTestCore(sel, topo, sd, emmc, memfs.New(), nil)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: raw SD out-of-bounds is always fatal")
		}
	}()
	buf := make([]byte, storage.SectorSize*200)
	_ = c.Read(config.DeviceSD, 0, 200, buf)
	t.Fatal("unreachable")
}

func TestReadSDPassthroughForwardsWithoutCoreLock(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(100, sel)
	sd := fake.New(100, nil)
	sdOps := &fakeOps{name: "sd"}
	bridge := &accessor.Bridge{SD: sdOps, NAND: &fakeOps{name: "nand"}, GC: &fakeOps{name: "gc"}}
	c := newTestCore(sel, passthroughTopology(), sd, emmc, memfs.New(), bridge)

	buf := make([]byte, storage.SectorSize)
	if code := c.Read(config.DeviceSD, 0, 1, buf); code != CodeSuccess {
		t.Fatalf("Read = %v, want CodeSuccess", code)
	}
	if sdOps.rwCalls != 1 {
		t.Fatalf("host SD accessor ReadWrite called %d times, want 1", sdOps.rwCalls)
	}
	if buf[0] != 0xAB {
		t.Fatal("forwarded read did not come back through the host accessor")
	}
}

func TestReadGCAlwaysForwards(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(100, sel)
	sd := fake.New(100, nil)
	gcOps := &fakeOps{name: "gc"}
	bridge := &accessor.Bridge{SD: &fakeOps{name: "sd"}, NAND: &fakeOps{name: "nand"}, GC: gcOps}
	c := newTestCore(sel, passthroughTopology(), sd, emmc, memfs.New(), bridge)

	buf := make([]byte, storage.SectorSize)
	if code := c.Read(config.DeviceGC, 0, 1, buf); code != CodeSuccess {
		t.Fatalf("Read = %v, want CodeSuccess", code)
	}
	if gcOps.rwCalls != 1 {
		t.Fatalf("GC accessor ReadWrite called %d times, want 1", gcOps.rwCalls)
	}
}

func fileEMMCGPPTopology() *config.Topology {
	return &config.Topology{
		EMMC: config.Redirection{Type: config.RedirFileEMMC, Device: config.DeviceEMMC, PathPrefix: "emummc"},
		SD:   config.Redirection{Type: config.RedirNone, Device: config.DeviceSD},
	}
}

func TestFileEMMCGPPCrossPartRoundTrip(t *testing.T) {
	fs := memfs.New()
	fs.Put(filesystem.VolumeSys, "emummc/eMMC/BOOT0", make([]byte, 4*1024*1024))
	fs.Put(filesystem.VolumeSys, "emummc/eMMC/BOOT1", make([]byte, 4*1024*1024))
	fs.Put(filesystem.VolumeSys, "emummc/eMMC/00", make([]byte, 4*storage.SectorSize))
	fs.Put(filesystem.VolumeSys, "emummc/eMMC/01", make([]byte, 4*storage.SectorSize))

	sel := storage.NewSelector(storage.PartitionGPP)
	emmc := fake.New(10, sel)
	sd := fake.New(10, nil)
	c := newTestCore(sel, fileEMMCGPPTopology(), sd, emmc, fs, nil)

	want := make([]byte, 4*storage.SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	// Sectors [2,6) straddle part "00" (sectors 0-3) and part "01" (sectors 0-3).
	if code := c.Write(config.DeviceEMMC, 2, 4, want); code != CodeSuccess {
		t.Fatalf("Write = %v, want CodeSuccess", code)
	}

	got := make([]byte, 4*storage.SectorSize)
	if code := c.Read(config.DeviceEMMC, 2, 4, got); code != CodeSuccess {
		t.Fatalf("Read = %v, want CodeSuccess", code)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x (cross-part round trip corrupted)", i, got[i], want[i])
		}
	}
	if sel.Load() != storage.PartitionGPP {
		t.Fatalf("selector after Restore = %v, want GPP", sel.Load())
	}
}

func TestControllerOpenSDTakesCompositeLockWhenCustomDriver(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(10, sel)
	sd := fake.New(10, nil)
	var log []string
	sdOps := &fakeOps{name: "sd", log: &log}
	bridge := &accessor.Bridge{SD: sdOps, NAND: &fakeOps{name: "nand"}, GC: &fakeOps{name: "gc"}}

	locks := lockset.New(&sync.Mutex{}, &sync.Mutex{})
	hw := hwpartition.New(emmc, sel)
	life := lifecycle.New(passthroughTopology(), sd, emmc, memfs.New(), nil, nil)
	c := New(passthroughTopology(), sel, sd, emmc, locks, hw, life, bridge, nil, true)

	if code := c.ControllerOpen(config.DeviceSD); code != CodeSuccess {
		t.Fatalf("ControllerOpen = %v, want CodeSuccess", code)
	}
	if len(log) != 1 || log[0] != "sd:open" {
		t.Fatalf("open calls = %v, want [sd:open]", log)
	}
}

func TestControllerCloseEMMCOnSDClosesSDFirst(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(10, sel)
	sd := fake.New(10, nil)

	var log []string
	sdOps := &fakeOps{name: "sd", log: &log}
	nandOps := &fakeOps{name: "nand", log: &log}
	bridge := &accessor.Bridge{SD: sdOps, NAND: nandOps, GC: &fakeOps{name: "gc"}}

	topo := &config.Topology{
		EMMC: config.Redirection{Type: config.RedirPartitionSD, Device: config.DeviceSD, StartSector: 1},
		SD:   config.Redirection{Type: config.RedirNone, Device: config.DeviceSD},
	}
	c := newTestCore(sel, topo, sd, emmc, memfs.New(), bridge)

	if code := c.ControllerClose(config.DeviceEMMC); code != CodeSuccess {
		t.Fatalf("ControllerClose(EMMC) = %v, want CodeSuccess", code)
	}
	if len(log) != 2 || log[0] != "sd:close" || log[1] != "nand:close" {
		t.Fatalf("close order = %v, want [sd:close nand:close]", log)
	}
	if !sd.Ended() {
		t.Fatal("closing eMMC-on-SD must also end the SD controller driver")
	}
}

func TestControllerCloseEMMCStandaloneClosesOnlyNAND(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	emmc := fake.New(10, sel)
	sd := fake.New(10, nil)

	var log []string
	sdOps := &fakeOps{name: "sd", log: &log}
	nandOps := &fakeOps{name: "nand", log: &log}
	bridge := &accessor.Bridge{SD: sdOps, NAND: nandOps, GC: &fakeOps{name: "gc"}}

	c := newTestCore(sel, passthroughTopology(), sd, emmc, memfs.New(), bridge)

	if code := c.ControllerClose(config.DeviceEMMC); code != CodeSuccess {
		t.Fatalf("ControllerClose(EMMC) = %v, want CodeSuccess", code)
	}
	if len(log) != 1 || log[0] != "nand:close" {
		t.Fatalf("close calls = %v, want [nand:close] only", log)
	}
}

// TestReadRunsNandPatrolIntegrityCheck verifies rw() actually wires in the
// once-per-lifetime nand-patrol sanity check rather than leaving
// EnsureNandPatrolIntegrity uncalled: a stale record (recorded offset past
// the current eMMC size) planted at the passthrough check sector must be
// zeroed by the very first dispatched read.
func TestReadRunsNandPatrolIntegrityCheck(t *testing.T) {
	sel := storage.NewSelector(storage.PartitionBOOT0)
	sectors := uint64(storage.BootPartitionSectors * 3)
	emmc := fake.New(sectors, sel)
	sd := fake.New(100, nil)
	c := newTestCore(sel, passthroughTopology(), sd, emmc, memfs.New(), nil)

	var stale [storage.SectorSize]byte
	binary.LittleEndian.PutUint64(stale[:8], sectors+1)
	if err := emmc.Write(0, 1, stale[:]); err != nil {
		t.Fatalf("seed stale nand-patrol record: %v", err)
	}

	buf := make([]byte, storage.SectorSize)
	if code := c.Read(config.DeviceEMMC, 5, 1, buf); code != CodeSuccess {
		t.Fatalf("Read = %v, want CodeSuccess", code)
	}

	var got [storage.SectorSize]byte
	if err := emmc.Read(0, 1, got[:]); err != nil {
		t.Fatalf("read back nand-patrol record: %v", err)
	}
	if offset := binary.LittleEndian.Uint64(got[:8]); offset != 0 {
		t.Fatalf("nand-patrol record offset = %d, want 0 (zeroed by dispatch)", offset)
	}
}
