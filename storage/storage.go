// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package storage defines the storage-driver collaborator: the
// low-level SD/MMC host-controller driver that the core redirects to or
// forwards through to. Its internals (register pokes, clock trees,
// command sequencing) are not part of this module — see
// github.com/f-secure-foundry/tamago/soc/nxp/usdhc for what a real
// implementation looks like. Driver mirrors that package's public method
// shape (Init/Detect/ReadBlocks/WriteBlocks/Info, an embeddable mutex)
// narrowed to the surface the core needs.
package storage

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// SectorSize is the fixed sector size assumed throughout the core.
const SectorSize = 512

// Partition is the hardware eMMC partition selector value.
type Partition uint32

const (
	PartitionBOOT0 Partition = iota
	PartitionBOOT1
	PartitionGPP
	PartitionInvalid
)

func (p Partition) String() string {
	switch p {
	case PartitionBOOT0:
		return "BOOT0"
	case PartitionBOOT1:
		return "BOOT1"
	case PartitionGPP:
		return "GPP"
	default:
		return "INVALID"
	}
}

// Valid reports whether p is one of BOOT0/BOOT1/GPP.
func (p Partition) Valid() bool {
	return p == PartitionBOOT0 || p == PartitionBOOT1 || p == PartitionGPP
}

// BootPartitionSectors is the size, in sectors, of each of BOOT0/BOOT1
// (4 MiB).
const BootPartitionSectors = (4 * 1024 * 1024) / SectorSize

// ErrOutOfBounds is returned by a Driver (and by the backing stores) when
// the requested range exceeds the addressable sector count. The dispatcher
// does not inspect it: it checks raw bounds itself before calling the
// driver, and treats any file-path error as a plain failure.
var ErrOutOfBounds = errors.New("storage: request out of bounds")

// Driver is the host-controller collaborator: reads, writes, partition
// switches, and the lifecycle operations the lifecycle manager drives.
type Driver interface {
	// Init performs (or re-performs) controller initialization. force
	// requests a full re-init even if the driver believes it is already
	// initialized, mirroring the original's sd_init(false)/power-loss path.
	Init(force bool) error
	// End finalizes the controller.
	End() error
	// Read reads count sectors starting at lba into dst.
	Read(lba uint64, count uint32, dst []byte) error
	// Write writes count sectors starting at lba from src.
	Write(lba uint64, count uint32, src []byte) error
	// SetPartition switches the active hardware eMMC partition. Only
	// meaningful for the eMMC controller; SD drivers may no-op.
	SetPartition(p Partition) error
	// Sectors returns the total addressable sector count of the device.
	Sectors() uint64
	// PowerEnabled reports whether the controller currently has power
	// (used to detect the boot sysmodule killing SD power).
	PowerEnabled() bool
}

// Selector is the shared, word-sized hardware-partition selector: read
// without a lock, written only by a Driver.SetPartition implementation
// under the nand mutex. atomic.Uint32 gives the torn-read freedom the
// original assumes of the host.
type Selector struct {
	word atomic.Uint32
}

// NewSelector returns a Selector initialized to the given partition.
func NewSelector(initial Partition) *Selector {
	s := &Selector{}
	s.word.Store(uint32(initial))
	return s
}

// Load reads the current partition. Lock-free by design.
func (s *Selector) Load() Partition {
	return Partition(s.word.Load())
}

// Store sets the current partition. Callers must hold the nand mutex
//; in production this call lives inside a real Driver's
// SetPartition implementation, after the hardware switch succeeds.
func (s *Selector) Store(p Partition) {
	s.word.Store(uint32(p))
}
