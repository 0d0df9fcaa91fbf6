// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package backing

import (
	"bytes"
	"testing"

	"github.com/lulle2007200/emummc/filesystem"
	"github.com/lulle2007200/emummc/filesystem/memfs"
	"github.com/lulle2007200/emummc/storage"
	"github.com/lulle2007200/emummc/storage/fake"
)

func TestRawReadWriteRoundTrip(t *testing.T) {
	driver := fake.New(100, nil)
	r := &Raw{Driver: driver, Base: 10, Sectors: 20}

	data := bytes.Repeat([]byte{0xAB}, 4*storage.SectorSize)
	if err := r.Write(0, 4, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, 4*storage.SectorSize)
	if err := r.Read(0, 4, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("read back data does not match what was written")
	}

	// The base offset must actually be applied: reading through the
	// driver directly at the base sector should see the same data.
	direct := make([]byte, 4*storage.SectorSize)
	if err := driver.Read(10, 4, direct); err != nil {
		t.Fatalf("direct Read: %v", err)
	}
	if !bytes.Equal(direct, data) {
		t.Fatal("Raw did not honor Base offset")
	}
}

func TestRawOutOfBounds(t *testing.T) {
	driver := fake.New(100, nil)
	r := &Raw{Driver: driver, Base: 0, Sectors: 10}

	buf := make([]byte, 2*storage.SectorSize)
	if err := r.Read(9, 2, buf); err != storage.ErrOutOfBounds {
		t.Fatalf("Read at boundary: got %v, want ErrOutOfBounds", err)
	}
}

func seedParts(fs *memfs.FS, vol filesystem.Volume, dir string, partSectors []int) {
	for i, sectors := range partSectors {
		name := dir
		switch i {
		case 0:
			name += "00"
		case 1:
			name += "01"
		case 2:
			name += "02"
		default:
			name += "03"
		}
		fs.Put(vol, name, make([]byte, sectors*storage.SectorSize))
	}
}

func TestOpenSplitSingleFileSentinel(t *testing.T) {
	fs := memfs.New()
	seedParts(fs, filesystem.VolumeSDMC, "SD/", []int{8})

	s, err := OpenSplit(fs, IndexOptions{Volume: filesystem.VolumeSDMC, Dir: "SD/", MaxParts: 8, ClusterMapEntries: 4})
	if err != nil {
		t.Fatalf("OpenSplit: %v", err)
	}
	if s.PartSize != 0 {
		t.Fatalf("PartSize = %d, want 0 (single-file sentinel)", s.PartSize)
	}
	if s.NumParts() != 1 {
		t.Fatalf("NumParts() = %d, want 1", s.NumParts())
	}
	if s.Size() != 8 {
		t.Fatalf("Size() = %d, want 8", s.Size())
	}
}

func TestSplitCrossPartReadWrite(t *testing.T) {
	fs := memfs.New()
	seedParts(fs, filesystem.VolumeSys, "eMMC/", []int{4, 4, 4})

	s, err := OpenSplit(fs, IndexOptions{Volume: filesystem.VolumeSys, Dir: "eMMC/", MaxParts: 8, ClusterMapEntries: 4})
	if err != nil {
		t.Fatalf("OpenSplit: %v", err)
	}
	if s.PartSize != 4 || s.NumParts() != 3 || s.Size() != 12 {
		t.Fatalf("unexpected split layout: PartSize=%d NumParts=%d Size=%d", s.PartSize, s.NumParts(), s.Size())
	}

	// Write a range spanning part 0's last sector into part 1's first two
	// sectors.
	data := bytes.Repeat([]byte{0xCD}, 3*storage.SectorSize)
	if err := s.Write(3, 3, data); err != nil {
		t.Fatalf("Write across parts: %v", err)
	}

	got := make([]byte, 3*storage.SectorSize)
	if err := s.Read(3, 3, got); err != nil {
		t.Fatalf("Read across parts: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("cross-part read does not match what was written")
	}
}

func TestSplitOutOfBoundsNoPartialTransfer(t *testing.T) {
	fs := memfs.New()
	seedParts(fs, filesystem.VolumeSys, "eMMC/", []int{4, 4, 4, 4})

	s, err := OpenSplit(fs, IndexOptions{Volume: filesystem.VolumeSys, Dir: "eMMC/", MaxParts: 8, ClusterMapEntries: 4})
	if err != nil {
		t.Fatalf("OpenSplit: %v", err)
	}

	// Last sector of part 3, plus one OOB sector.
	buf := make([]byte, 2*storage.SectorSize)
	if err := s.Read(15, 2, buf); err != storage.ErrOutOfBounds {
		t.Fatalf("Read spanning end of store: got %v, want ErrOutOfBounds", err)
	}
}

func TestOpenSplitFirstPartMissing(t *testing.T) {
	fs := memfs.New()
	if _, err := OpenSplit(fs, IndexOptions{Volume: filesystem.VolumeSys, Dir: "eMMC/", MaxParts: 8, ClusterMapEntries: 4}); err == nil {
		t.Fatal("expected error when part 00 is missing")
	}
}
