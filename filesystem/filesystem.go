// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package filesystem defines the FAT filesystem collaborator:
// mount/open/read_at/write_at/seek/size/sync plus the cluster-link-map
// accelerator the file-backed fast path depends on. The surface mirrors
// github.com/soypat/fat's
// FS/File/BlockDevice API (Mount, OpenFile, Read/Write/Sync/Close), which is
// itself a Go port of FatFs; RegisterClusterMap plays the role of FatFs's
// f_expand_cltbl.
package filesystem

import "github.com/pkg/errors"

// Volume identifies one of the two FAT volumes the core mounts (:
// mount_count_sys / mount_count_sdmc).
type Volume int

const (
	VolumeSys   Volume = iota // "sys:" — eMMC-backed volume
	VolumeSDMC                // "sdmc:" — SD-backed volume
)

func (v Volume) String() string {
	if v == VolumeSys {
		return "sys:"
	}
	return "sdmc:"
}

// ErrNotExist is returned by FS.Open/FS.Exists-style lookups for a missing
// path, and by File operations against a path that no longer exists.
var ErrNotExist = errors.New("filesystem: no such file or directory")

// File is one open file on a mounted volume.
type File interface {
	// Seek positions the next ReadAt/WriteAt at a byte offset from the
	// start of the file.
	Seek(offset int64) error
	// ReadAt reads len(buf) bytes from the current seek position.
	ReadAt(buf []byte) (int, error)
	// WriteAt writes len(buf) bytes at the current seek position.
	WriteAt(buf []byte) (int, error)
	// Size returns the file size in bytes.
	Size() int64
	// Sync commits unwritten data.
	Sync() error
	// Close releases the file handle.
	Close() error
	// RegisterClusterMap installs a pre-built cluster-link-map of up to
	// maxEntries entries so that subsequent Seek/ReadAt/WriteAt calls are
	// O(1) regardless of file size, the way FatFs's f_expand_cltbl works.
	// A filesystem that cannot or need not accelerate seeks (e.g. an
	// in-memory test double) may treat this as a no-op.
	RegisterClusterMap(maxEntries int) error
}

// FS is a mounted-filesystem collaborator: one instance serves both
// volumes, distinguished by the Volume argument.
type FS interface {
	// Mount mounts vol. Idempotent mount/unmount refcounting is the
	// caller's responsibility.
	Mount(vol Volume) error
	// Unmount unmounts vol.
	Unmount(vol Volume) error
	// Open opens path for read/write on vol, creating intermediate state
	// as needed; it does not create the file itself.
	Open(vol Volume, path string) (File, error)
	// Exists reports whether path is a directory on vol, used by
	// config.Validate for File-backed redirections.
	Exists(vol Volume, path string) bool
}
