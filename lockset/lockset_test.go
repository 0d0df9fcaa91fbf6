// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package lockset

import (
	"sync"
	"testing"

	"github.com/lulle2007200/emummc/config"
)

func TestAcquisitionMatrix(t *testing.T) {
	cases := []struct {
		name                  string
		reqDevice             config.Device
		sdTarget, emmcTarget  config.Device
		customDriver          bool
		want                  Bit
	}{
		{"emmc, sd->sd, emmc->sd, custom", config.DeviceEMMC, config.DeviceSD, config.DeviceSD, true, SD | NAND},
		{"emmc, sd->sd, emmc->sd, !custom", config.DeviceEMMC, config.DeviceSD, config.DeviceSD, false, NAND},
		{"emmc, sd->sd, emmc->emmc, custom", config.DeviceEMMC, config.DeviceSD, config.DeviceEMMC, true, NAND},
		{"emmc, sd->sd, emmc->emmc, !custom", config.DeviceEMMC, config.DeviceSD, config.DeviceEMMC, false, 0},
		{"emmc, sd->emmc, emmc->sd, custom", config.DeviceEMMC, config.DeviceEMMC, config.DeviceSD, true, SD | NAND},
		{"emmc, sd->emmc, emmc->sd, !custom", config.DeviceEMMC, config.DeviceEMMC, config.DeviceSD, false, NAND},
		{"emmc, sd->emmc, emmc->emmc, custom", config.DeviceEMMC, config.DeviceEMMC, config.DeviceEMMC, true, SD | NAND},
		{"emmc, sd->emmc, emmc->emmc, !custom", config.DeviceEMMC, config.DeviceEMMC, config.DeviceEMMC, false, SD},

		{"sd, sd->sd, emmc->sd, custom", config.DeviceSD, config.DeviceSD, config.DeviceSD, true, SD | NAND},
		{"sd, sd->sd, emmc->sd, !custom", config.DeviceSD, config.DeviceSD, config.DeviceSD, false, NAND},
		{"sd, sd->sd, emmc->emmc, custom", config.DeviceSD, config.DeviceSD, config.DeviceEMMC, true, SD},
		{"sd, sd->sd, emmc->emmc, !custom", config.DeviceSD, config.DeviceSD, config.DeviceEMMC, false, 0},
		{"sd, sd->emmc, emmc->sd, custom", config.DeviceSD, config.DeviceEMMC, config.DeviceSD, true, SD | NAND},
		{"sd, sd->emmc, emmc->sd, !custom", config.DeviceSD, config.DeviceEMMC, config.DeviceSD, false, SD},
		{"sd, sd->emmc, emmc->emmc, custom", config.DeviceSD, config.DeviceEMMC, config.DeviceEMMC, true, SD | NAND},
		{"sd, sd->emmc, emmc->emmc, !custom", config.DeviceSD, config.DeviceEMMC, config.DeviceEMMC, false, SD},

		{"gc always takes nothing", config.DeviceGC, config.DeviceSD, config.DeviceEMMC, true, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Acquisition(tc.reqDevice, tc.sdTarget, tc.emmcTarget, tc.customDriver)
			if got != tc.want {
				t.Errorf("Acquisition(%v, %v, %v, %v) = %v, want %v", tc.reqDevice, tc.sdTarget, tc.emmcTarget, tc.customDriver, got, tc.want)
			}
		})
	}
}

func TestComposerLockOrder(t *testing.T) {
	var sd, nand sync.Mutex
	c := New(&sd, &nand)

	c.Lock(SD | NAND)
	if sd.TryLock() {
		sd.Unlock()
		t.Fatal("sd_mutex should be held")
	}
	if nand.TryLock() {
		nand.Unlock()
		t.Fatal("nand_mutex should be held")
	}
	c.Unlock(SD | NAND)

	if !sd.TryLock() {
		t.Fatal("sd_mutex should be released")
	}
	sd.Unlock()
	if !nand.TryLock() {
		t.Fatal("nand_mutex should be released")
	}
	nand.Unlock()
}

func TestComposerPartialMask(t *testing.T) {
	var sd, nand sync.Mutex
	c := New(&sd, &nand)

	c.Lock(NAND)
	if !sd.TryLock() {
		t.Fatal("sd_mutex should not have been taken")
	}
	sd.Unlock()
	if nand.TryLock() {
		nand.Unlock()
		t.Fatal("nand_mutex should be held")
	}
	c.Unlock(NAND)
}
