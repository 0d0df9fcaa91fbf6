// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config holds the parsed, validated redirection topology that the
// core is constructed with. It owns the on-disk 0x200-byte configuration
// record layout and the validation rules.
package config

import (
	"bytes"
	"encoding/binary"

	"github.com/go-restruct/restruct"
	"github.com/pkg/errors"
)

// Magic is the required value of Record.Magic ('EFS0').
const Magic uint32 = 0x30534645

// RecordSize is the fixed on-disk size of Record, in bytes.
const RecordSize = 0x200

// pathFieldSize is the size of the NUL-terminated ASCII path fields.
const pathFieldSize = 0x81

// RedirType enumerates the redirection kind for one logical device.
type RedirType uint32

const (
	RedirNone         RedirType = 0
	RedirPartitionSD  RedirType = 1
	RedirFileSD       RedirType = 2
	RedirPartitionEMMC RedirType = 3
	RedirFileEMMC     RedirType = 4
)

func (t RedirType) String() string {
	switch t {
	case RedirNone:
		return "None"
	case RedirPartitionSD:
		return "Partition_Sd"
	case RedirFileSD:
		return "File_Sd"
	case RedirPartitionEMMC:
		return "Partition_Emmc"
	case RedirFileEMMC:
		return "File_Emmc"
	default:
		return "Invalid"
	}
}

func (t RedirType) isFile() bool {
	return t == RedirFileSD || t == RedirFileEMMC
}

func (t RedirType) isPartition() bool {
	return t == RedirPartitionSD || t == RedirPartitionEMMC
}

// Device identifies a physical device a redirection's bytes can live on.
type Device int

const (
	DeviceSD Device = iota
	DeviceEMMC
	DeviceGC
)

func (d Device) String() string {
	switch d {
	case DeviceSD:
		return "SD"
	case DeviceEMMC:
		return "EMMC"
	case DeviceGC:
		return "GC"
	default:
		return "?"
	}
}

// FSVersion selects the host filesystem ABI variant the record targets.
type FSVersion uint32

// Record is the in-memory layout of the 0x200-byte configuration record
//. Field order and sizes match the original layout; Pad brings
// the struct up to RecordSize so restruct round-trips the full record.
type Record struct {
	Magic        uint32
	ID           uint32
	FSVersion    FSVersion
	EMMCType     RedirType
	SDType       RedirType
	EMMCStart    uint64
	SDStart      uint64
	Path         [pathFieldSize]byte
	NintendoPath [pathFieldSize]byte
	Pad          [RecordSize - 4*5 - 8*2 - pathFieldSize*2]byte
}

// ParseRecord unpacks a RecordSize-byte buffer into a Record.
func ParseRecord(raw []byte) (Record, error) {
	var rec Record

	if len(raw) != RecordSize {
		return rec, errors.Errorf("config: record must be %#x bytes, got %#x", RecordSize, len(raw))
	}

	if err := restruct.Unpack(raw, binary.LittleEndian, &rec); err != nil {
		return rec, errors.Wrap(err, "config: unpack record")
	}

	return rec, nil
}

// Pack serializes the Record back to its RecordSize-byte on-disk form.
func (r Record) Pack() ([]byte, error) {
	buf, err := restruct.Pack(binary.LittleEndian, &r)
	if err != nil {
		return nil, errors.Wrap(err, "config: pack record")
	}
	return buf, nil
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// PathPrefix returns Path as a Go string, truncated at the first NUL.
func (r Record) PathPrefix() string {
	return cstr(r.Path[:])
}

// NintendoPathPrefix returns NintendoPath as a Go string, truncated at the
// first NUL.
func (r Record) NintendoPathPrefix() string {
	return cstr(r.NintendoPath[:])
}

// Redirection describes one logical device's redirection.
type Redirection struct {
	Type RedirType
	// Device is the physical device the redirected bytes live on.
	// Meaningless when Type == RedirNone.
	Device Device
	// StartSector is the base sector of the backing region, partition
	// variants only.
	StartSector uint64
	// PathPrefix is the backing directory, file variants only.
	PathPrefix string
}

// Topology is the immutable, validated pair of redirections the core is
// constructed with.
type Topology struct {
	EMMC Redirection
	SD   Redirection

	FSVersion    FSVersion
	NintendoPath string
}

// DirExists reports whether the directory exists on the given device's
// filesystem. Validate calls this for File-backed variants.
type DirExists func(device Device, prefix string) bool

// deviceFor maps a non-None redirection type to the physical device its
// backing bytes live on (the _Sd/_Emmc suffix in the type name).
func deviceFor(t RedirType) (Device, error) {
	switch t {
	case RedirPartitionEMMC, RedirFileEMMC:
		return DeviceEMMC, nil
	case RedirPartitionSD, RedirFileSD:
		return DeviceSD, nil
	default:
		return 0, errors.Errorf("config: invalid redirection type %d", t)
	}
}

// Validate checks the record against and produces a Topology.
// dirExists may be nil if no File-backed redirection is configured.
func (r Record) Validate(dirExists DirExists) (*Topology, error) {
	if r.Magic != Magic {
		return nil, errors.Errorf("config: bad magic %#x, want %#x", r.Magic, Magic)
	}

	if r.EMMCType > RedirFileEMMC {
		return nil, errors.Errorf("config: invalid EMMC_Type %d", r.EMMCType)
	}

	if r.SDType != RedirNone && r.SDType != RedirPartitionEMMC {
		return nil, errors.Errorf("config: invalid SD_Type %d (only None or Partition_Emmc allowed)", r.SDType)
	}

	emmc, err := buildRedirection(r.EMMCType, DeviceEMMC, r.EMMCStart, r.PathPrefix(), dirExists)
	if err != nil {
		return nil, errors.Wrap(err, "config: EMMC redirection")
	}

	sd, err := buildRedirection(r.SDType, DeviceSD, r.SDStart, r.PathPrefix(), dirExists)
	if err != nil {
		return nil, errors.Wrap(err, "config: SD redirection")
	}

	return &Topology{
		EMMC:         emmc,
		SD:           sd,
		FSVersion:    r.FSVersion,
		NintendoPath: r.NintendoPathPrefix(),
	}, nil
}

// buildRedirection validates one logical slot's redirection. self is the
// slot's own intrinsic physical device (DeviceEMMC for the EMMC_Type
// field, DeviceSD for the SD_Type field) — RedirNone means "passthrough to
// self", not "no device".
func buildRedirection(t RedirType, self Device, start uint64, prefix string, dirExists DirExists) (Redirection, error) {
	red := Redirection{Type: t}

	if t == RedirNone {
		red.Device = self
		return red, nil
	}

	dev, err := deviceFor(t)
	if err != nil {
		return red, err
	}
	red.Device = dev

	switch {
	case t.isPartition():
		if start == 0 {
			return red, errors.New("config: partition-backed redirection requires start_sector > 0")
		}
		red.StartSector = start
	case t.isFile():
		if prefix == "" {
			return red, errors.New("config: file-backed redirection requires a path prefix")
		}
		if dirExists != nil && !dirExists(dev, prefix) {
			return red, errors.Errorf("config: backing directory %q does not exist on %s", prefix, dev)
		}
		red.PathPrefix = prefix
	default:
		return red, errors.Errorf("config: unhandled redirection type %d", t)
	}

	return red, nil
}
