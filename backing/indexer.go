// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package backing

import (
	"fmt"

	"github.com/lulle2007200/emummc/filesystem"
	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// IndexOptions configures OpenSplit.
type IndexOptions struct {
	// Volume and Dir name the FAT directory ("<prefix>/eMMC/" or
	// "<prefix>/SD/") containing "00", "01", ... part files.
	Volume filesystem.Volume
	Dir    string
	// MaxParts bounds the loop (EMUMMC_FILE_MAX_PARTS / EMUSD_FILE_MAX_PARTS
	// in the original).
	MaxParts int
	// ClusterMapEntries is the accelerator size passed to
	// File.RegisterClusterMap for each opened part (CLMT_COUNT in the
	// original).
	ClusterMapEntries int
}

// partName formats a part file's name, "00", "01", ... as the original's
// _file_based_update_filename does.
func partName(idx int) string {
	return fmt.Sprintf("%02d", idx)
}

// OpenSplit opens the ordered sequence of part files under opts.Dir,
// computing total logical sector count and installing a cluster-link-map
// on each part. The first open failure terminates the loop; if only one
// part was found, PartSize is set to 0 as the single-file sentinel — the
// caller is responsible for falling back to the right part set, not this
// function.
func OpenSplit(fs filesystem.FS, opts IndexOptions) (*Split, error) {
	if opts.MaxParts < 1 {
		return nil, errors.New("backing: MaxParts must be >= 1")
	}

	s := &Split{}

	for i := 0; i < opts.MaxParts; i++ {
		path := opts.Dir + partName(i)

		f, err := fs.Open(opts.Volume, path)
		if err != nil {
			if i == 0 {
				return nil, errors.Wrapf(err, "backing: open first part %q", path)
			}
			break
		}

		if err := f.RegisterClusterMap(opts.ClusterMapEntries); err != nil {
			return nil, errors.Wrapf(err, "backing: register cluster map for %q", path)
		}

		size := f.Size()
		if size <= 0 || size%storage.SectorSize != 0 {
			return nil, errors.Errorf("backing: part %q has invalid size %d", path, size)
		}
		sectors := uint64(size) / storage.SectorSize

		if i == 0 {
			s.PartSize = sectors
		} else if sectors > s.PartSize {
			return nil, errors.Errorf("backing: part %q (%d sectors) exceeds part size %d", path, sectors, s.PartSize)
		}

		s.parts = append(s.parts, part{file: f, sectors: sectors})
		s.TotalSectors += sectors
	}

	if len(s.parts) == 0 {
		return nil, errors.New("backing: no parts found")
	}

	if len(s.parts) == 1 {
		// Single file, no striping logic needed: sentinel.
		s.PartSize = 0
	}

	return s, nil
}
