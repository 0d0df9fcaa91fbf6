// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package lifecycle

import (
	"github.com/lulle2007200/emummc/backing"
	"github.com/lulle2007200/emummc/filesystem"
)

// EMMCFileBacking holds the three file handles a file-backed eMMC
// redirection opens: BOOT0 and BOOT1 as single files, GPP as a split-file
// set.
type EMMCFileBacking struct {
	Boot0, Boot1 filesystem.File
	GPP          *backing.Split
}

// boot0Name/boot1Name name the fixed single-file BOOT0/BOOT1 paths under an
// eMMC file-backing directory (: "BOOT0 (4 MiB), BOOT1 (4 MiB)").
const (
	boot0Name = "BOOT0"
	boot1Name = "BOOT1"
)

func openEMMCFileBacking(fs filesystem.FS, opts backing.IndexOptions) (*EMMCFileBacking, error) {
	boot0, err := fs.Open(opts.Volume, opts.Dir+boot0Name)
	if err != nil {
		return nil, err
	}
	boot1, err := fs.Open(opts.Volume, opts.Dir+boot1Name)
	if err != nil {
		return nil, err
	}
	gpp, err := backing.OpenSplit(fs, opts)
	if err != nil {
		return nil, err
	}
	return &EMMCFileBacking{Boot0: boot0, Boot1: boot1, GPP: gpp}, nil
}
