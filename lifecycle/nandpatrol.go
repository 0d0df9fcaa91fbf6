// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package lifecycle

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// nandPatrolRecord is the on-disk sanity record the nand-patrol check
// reads once per lifetime. Offset
// is the position the background health-check last recorded, compared
// against the backing store's size in sectors; if it now exceeds that
// size (the store was shrunk or replaced),
// the record is stale and gets zeroed.
type nandPatrolRecord struct {
	Offset uint64
	Pad    [storage.SectorSize - 8]byte
}

func parseNandPatrolRecord(raw []byte) (nandPatrolRecord, error) {
	var rec nandPatrolRecord
	if len(raw) != storage.SectorSize {
		return rec, errors.Errorf("lifecycle: nand-patrol record must be %d bytes, got %d", storage.SectorSize, len(raw))
	}
	if err := restruct.Unpack(raw, binary.LittleEndian, &rec); err != nil {
		return rec, errors.Wrap(err, "lifecycle: unpack nand-patrol record")
	}
	return rec, nil
}

func (r nandPatrolRecord) pack() ([]byte, error) {
	buf, err := restruct.Pack(binary.LittleEndian, &r)
	if err != nil {
		return nil, errors.Wrap(err, "lifecycle: pack nand-patrol record")
	}
	return buf, nil
}
