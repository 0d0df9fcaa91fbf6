// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bitword provides the Get/Set/SetN bitfield idiom used by this
// module's lifecycle flag set (the hardware-partition selector is a plain
// atomic word and does not use it), in the style of tamago's bits package (see
// github.com/f-secure-foundry/tamago/bits, as used by imx6/usdhc).
package bitword

// Get returns the value at a specific bit position with a bitmask applied.
func Get(word *uint32, pos int, mask uint32) uint32 {
	return (*word >> pos) & mask
}

// Set sets an individual bit.
func Set(word *uint32, pos int) {
	*word |= 1 << pos
}

// Clear clears an individual bit.
func Clear(word *uint32, pos int) {
	*word &^= 1 << pos
}

// SetTo sets or clears an individual bit depending on val.
func SetTo(word *uint32, pos int, val bool) {
	if val {
		Set(word, pos)
	} else {
		Clear(word, pos)
	}
}

// SetN sets a masked field at a bit position to val.
func SetN(word *uint32, pos int, mask uint32, val uint32) {
	*word = (*word &^ (mask << pos)) | ((val & mask) << pos)
}
