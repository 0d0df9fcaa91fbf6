// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package memfs is an in-memory filesystem.FS used by the split-file
// indexer's and dispatcher's round-trip tests. It is a test double for the
// out-of-scope FAT collaborator, not a FAT implementation — real deployments
// use the actual on-device FAT driver (see package filesystem's doc comment
// for the shape it mirrors).
package memfs

import (
	"sync"

	"github.com/lulle2007200/emummc/filesystem"
	"github.com/pkg/errors"
)

// FS is an in-memory filesystem.FS. The zero value is ready to use.
type FS struct {
	mu      sync.Mutex
	mounted map[filesystem.Volume]int
	files   map[filesystem.Volume]map[string]*buffer
}

// New returns an empty FS.
func New() *FS {
	return &FS{
		mounted: make(map[filesystem.Volume]int),
		files:   make(map[filesystem.Volume]map[string]*buffer),
	}
}

// Put seeds a file at path on vol with the given contents before mounting,
// the way a test would pre-populate a split-file set.
func (fs *FS) Put(vol filesystem.Volume, path string, contents []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ensureVolumeLocked(vol)
	b := make([]byte, len(contents))
	copy(b, contents)
	fs.files[vol][path] = &buffer{data: b}
}

func (fs *FS) ensureVolumeLocked(vol filesystem.Volume) {
	if fs.files[vol] == nil {
		fs.files[vol] = make(map[string]*buffer)
	}
}

func (fs *FS) Mount(vol filesystem.Volume) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ensureVolumeLocked(vol)
	fs.mounted[vol]++
	return nil
}

func (fs *FS) Unmount(vol filesystem.Volume) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.mounted[vol] == 0 {
		return errors.New("memfs: unmount of unmounted volume")
	}
	fs.mounted[vol]--
	return nil
}

func (fs *FS) Open(vol filesystem.Volume, path string) (filesystem.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.ensureVolumeLocked(vol)
	b, ok := fs.files[vol][path]
	if !ok {
		return nil, filesystem.ErrNotExist
	}
	return &file{buf: b}, nil
}

func (fs *FS) Exists(vol filesystem.Volume, path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[vol][path]
	return ok
}

type buffer struct {
	mu   sync.Mutex
	data []byte
}

type file struct {
	buf *buffer
	pos int64
}

func (f *file) Seek(offset int64) error {
	if offset < 0 {
		return errors.New("memfs: negative seek offset")
	}
	f.pos = offset
	return nil
}

func (f *file) ReadAt(dst []byte) (int, error) {
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()

	if f.pos > int64(len(f.buf.data)) {
		return 0, errors.New("memfs: read past end of file")
	}
	n := copy(dst, f.buf.data[f.pos:])
	if n < len(dst) {
		return n, errors.New("memfs: short read")
	}
	f.pos += int64(n)
	return n, nil
}

func (f *file) WriteAt(src []byte) (int, error) {
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()

	end := f.pos + int64(len(src))
	if end > int64(len(f.buf.data)) {
		return 0, errors.New("memfs: write past end of file")
	}
	n := copy(f.buf.data[f.pos:end], src)
	f.pos += int64(n)
	return n, nil
}

func (f *file) Size() int64 {
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()
	return int64(len(f.buf.data))
}

func (f *file) Sync() error { return nil }
func (f *file) Close() error { return nil }

// RegisterClusterMap is a no-op: memfs has O(1) seeks already.
func (f *file) RegisterClusterMap(maxEntries int) error { return nil }
