// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package backing implements the backing-store handles: a tagged
// Raw/Split variant rather than virtual dispatch internally, though both
// satisfy the same Store interface so the dispatcher can hold either
// without a type switch on the hot path.
package backing

import (
	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// Store is a backing store: a contiguous logical sector range that Read and
// Write translate into the underlying raw device or split-file set.
type Store interface {
	Read(lba uint64, n uint32, dst []byte) error
	Write(lba uint64, n uint32, src []byte) error
	// Size returns the total addressable sector count.
	Size() uint64
}

// Raw is a backing store living on a contiguous region of a physical
// device.
type Raw struct {
	Driver  storage.Driver
	Base    uint64
	Sectors uint64
}

var _ Store = (*Raw)(nil)

func (r *Raw) Size() uint64 { return r.Sectors }

func (r *Raw) bounds(lba uint64, n uint32) (uint64, error) {
	if uint64(n) > r.Sectors || lba > r.Sectors-uint64(n) {
		return 0, storage.ErrOutOfBounds
	}
	return r.Base + lba, nil
}

func (r *Raw) Read(lba uint64, n uint32, dst []byte) error {
	abs, err := r.bounds(lba, n)
	if err != nil {
		return err
	}
	return r.Driver.Read(abs, n, dst)
}

func (r *Raw) Write(lba uint64, n uint32, src []byte) error {
	abs, err := r.bounds(lba, n)
	if err != nil {
		return err
	}
	return r.Driver.Write(abs, n, src)
}

// part is one file backing a contiguous slice of a Split store's logical
// address space.
type part struct {
	file    SeekReadWriter
	sectors uint64
}

// SeekReadWriter is the subset of filesystem.File the split-store I/O path
// needs; kept narrow so backing does not import package filesystem for its
// full surface.
type SeekReadWriter interface {
	Seek(offset int64) error
	ReadAt(buf []byte) (int, error)
	WriteAt(buf []byte) (int, error)
}

// Split is a backing store striped across an ordered sequence of files
//.
//
// PartSize == 0 is the single-file sentinel from: the indexer
// sets it when exactly one part file exists, and Read/Write take the fast
// path of addressing parts[0] directly without the modulo/fragmentation
// logic below.
type Split struct {
	parts         []part
	PartSize      uint64
	TotalSectors  uint64
}

var _ Store = (*Split)(nil)

func (s *Split) Size() uint64 { return s.TotalSectors }

// NumParts reports how many distinct part files back the store (1 even
// when PartSize's single-file sentinel is set).
func (s *Split) NumParts() int { return len(s.parts) }

func (s *Split) Read(lba uint64, n uint32, dst []byte) error {
	return s.io(lba, n, dst, false)
}

func (s *Split) Write(lba uint64, n uint32, src []byte) error {
	return s.io(lba, n, src, true)
}

func (s *Split) io(lba uint64, n uint32, buf []byte, write bool) error {
	if uint64(n) > s.TotalSectors || lba > s.TotalSectors-uint64(n) {
		return storage.ErrOutOfBounds
	}

	// Single-file fast path.
	if s.PartSize == 0 {
		return s.ioOnePart(&s.parts[0], lba, n, buf, write)
	}

	partIdx := lba / s.PartSize
	sub := lba % s.PartSize

	if sub+uint64(n) <= s.PartSize {
		return s.ioOnePart(&s.parts[partIdx], sub, n, buf, write)
	}

	// Cross-part fragmentation: loop, copying at most
	// part_size - suboffset sectors from the current part each iteration.
	remaining := n
	off := 0
	for remaining > 0 {
		if partIdx >= uint64(len(s.parts)) {
			return storage.ErrOutOfBounds
		}

		curSectors := uint32(s.PartSize - sub)
		if curSectors > remaining {
			curSectors = remaining
		}

		curBuf := buf[off : off+int(curSectors)*storage.SectorSize]
		if err := s.ioOnePart(&s.parts[partIdx], sub, curSectors, curBuf, write); err != nil {
			// No rollback on a torn write.
			return err
		}

		off += int(curSectors) * storage.SectorSize
		remaining -= curSectors
		sub = 0
		partIdx++
	}

	return nil
}

func (s *Split) ioOnePart(p *part, sub uint64, n uint32, buf []byte, write bool) error {
	if sub+uint64(n) > p.sectors {
		return storage.ErrOutOfBounds
	}
	if err := p.file.Seek(int64(sub) * storage.SectorSize); err != nil {
		return errors.Wrap(err, "backing: seek")
	}
	size := int(n) * storage.SectorSize
	if write {
		written, err := p.file.WriteAt(buf[:size])
		if err != nil {
			return errors.Wrap(err, "backing: write")
		}
		if written != size {
			return errors.New("backing: short write")
		}
		return nil
	}
	read, err := p.file.ReadAt(buf[:size])
	if err != nil {
		return errors.Wrap(err, "backing: read")
	}
	if read != size {
		return errors.New("backing: short read")
	}
	return nil
}
