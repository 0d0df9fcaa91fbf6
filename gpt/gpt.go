// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gpt is a small byte-view accessor over a GUID Partition Table
//: a 512-byte LBA header at LBA 1 followed by 128-byte partition
// entries, used only to locate the "BCPKG2-1-Normal-Main" partition on a
// partition-backed or whole-device backing store. It is not a GPT library;
// it exposes just the fields the core needs.
package gpt

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// Signature is "EFI PART" read as a little-endian u64.
const Signature uint64 = 0x5452415020494645

const (
	headerSize      = 92
	entrySize       = 128
	entryNameOffset = 56
	entryNameLen    = 72 // bytes, 36 UTF-16 code units
)

// HeaderLBA is the fixed LBA of the primary GPT header.
const HeaderLBA = 1

// Header is a read-only view over a 92-byte (or larger, padded to 512)
// GPT header sector.
type Header struct {
	data []byte
}

// ToHeader wraps a >=headerSize byte slice (typically a full 512-byte
// sector read) as a Header.
func ToHeader(sector []byte) (Header, error) {
	if len(sector) < headerSize {
		return Header{}, errors.New("gpt: header sector too short")
	}
	return Header{data: sector[:headerSize:headerSize]}, nil
}

func (h Header) sig() uint64 { return binary.LittleEndian.Uint64(h.data[0:8]) }

// Valid reports whether the header's signature matches "EFI PART".
func (h Header) Valid() bool { return h.sig() == Signature }

// PartitionEntryLBA is the LBA of the start of the partition entry array
// (usually 2).
func (h Header) PartitionEntryLBA() int64 {
	return int64(binary.LittleEndian.Uint64(h.data[72:80]))
}

// NumberOfPartitionEntries is the entry count in the array.
func (h Header) NumberOfPartitionEntries() uint32 {
	return binary.LittleEndian.Uint32(h.data[80:84])
}

// SizeOfPartitionEntry is the size, in bytes, of each entry (usually 128).
func (h Header) SizeOfPartitionEntry() uint32 {
	return binary.LittleEndian.Uint32(h.data[84:88])
}

// Entry is a read-only view over one partition entry.
type Entry struct {
	data []byte
}

// ToEntry wraps a >=entrySize byte slice as an Entry.
func ToEntry(raw []byte) (Entry, error) {
	if len(raw) < entrySize {
		return Entry{}, errors.New("gpt: partition entry too short")
	}
	return Entry{data: raw[:entrySize:entrySize]}, nil
}

// InUse reports whether the entry's type GUID is non-zero (an all-zero
// type GUID marks an unused slot).
func (e Entry) InUse() bool {
	for _, b := range e.data[0:16] {
		if b != 0 {
			return true
		}
	}
	return false
}

// FirstLBA is the first LBA of the partition.
func (e Entry) FirstLBA() int64 { return int64(binary.LittleEndian.Uint64(e.data[32:40])) }

// LastLBA is the last LBA of the partition, inclusive.
func (e Entry) LastLBA() int64 { return int64(binary.LittleEndian.Uint64(e.data[40:48])) }

// Name decodes the entry's UTF-16LE partition name as a Go string.
func (e Entry) Name() string {
	raw := e.data[entryNameOffset : entryNameOffset+entryNameLen]
	units := make([]uint16, 0, entryNameLen/2)
	for i := 0; i+1 < len(raw); i += 2 {
		u := binary.LittleEndian.Uint16(raw[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// Reader is the narrow sector-read surface gpt.Find needs: a backing
// store or raw driver, read by absolute LBA.
type Reader interface {
	Read(lba uint64, n uint32, dst []byte) error
}

// Find reads the primary GPT header and partition entry array from r and
// returns the entry whose name matches want (: "the core uses it
// only to locate the BCPKG2-1-Normal-Main partition"). It returns an error
// if the header signature doesn't match or no entry matches.
func Find(r Reader, want string) (Entry, error) {
	var sector [storage.SectorSize]byte
	if err := r.Read(HeaderLBA, 1, sector[:]); err != nil {
		return Entry{}, errors.Wrap(err, "gpt: read header")
	}
	h, err := ToHeader(sector[:])
	if err != nil {
		return Entry{}, err
	}
	if !h.Valid() {
		return Entry{}, errors.New("gpt: bad signature")
	}

	entrySize := h.SizeOfPartitionEntry()
	if entrySize == 0 {
		return Entry{}, errors.New("gpt: zero entry size")
	}
	entriesPerSector := storage.SectorSize / int(entrySize)
	if entriesPerSector == 0 {
		entriesPerSector = 1
	}

	n := h.NumberOfPartitionEntries()
	lba := uint64(h.PartitionEntryLBA())

	var buf [storage.SectorSize]byte
	for read := uint32(0); read < n; read += uint32(entriesPerSector) {
		if err := r.Read(lba, 1, buf[:]); err != nil {
			return Entry{}, errors.Wrap(err, "gpt: read partition entries")
		}
		for i := 0; i < entriesPerSector && read+uint32(i) < n; i++ {
			off := i * int(entrySize)
			if off+int(entrySize) > len(buf) {
				break
			}
			e, err := ToEntry(buf[off : off+int(entrySize)])
			if err != nil {
				continue
			}
			if e.InUse() && e.Name() == want {
				return e, nil
			}
		}
		lba++
	}

	return Entry{}, errors.Errorf("gpt: no partition named %q", want)
}
