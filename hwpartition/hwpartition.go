// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hwpartition implements the partition-state coordinator:
// ensure/restore around a redirected request, switching the shared eMMC
// controller to the correct hardware partition and switching it back.
package hwpartition

import (
	"sync"

	"github.com/lulle2007200/emummc/storage"
	"github.com/pkg/errors"
)

// Coordinator is single-state: ensure/restore pairs must not nest (the
// outermost pair wins). Nested calls are detected and rejected rather
// than silently misbehaving.
type Coordinator struct {
	mu sync.Mutex

	driver   storage.Driver
	selector *storage.Selector

	active        bool
	shouldRestore bool
	previous      storage.Partition
}

// New returns a Coordinator driving driver's partition switches and
// observing sel as the shared selector word.
func New(driver storage.Driver, sel *storage.Selector) *Coordinator {
	return &Coordinator{driver: driver, selector: sel}
}

// Ensure switches to target if it isn't already active, recording whether a
// restore will be needed. set_partition failure is fatal at the
// call site; Ensure returns the error and lets the caller decide
// how to abort, since fatal handling is not this package's concern.
func (c *Coordinator) Ensure(target storage.Partition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return errors.New("hwpartition: Ensure called while already active (nesting unsupported)")
	}
	c.active = true

	current := c.selector.Load()
	if current == target {
		c.shouldRestore = false
		return nil
	}

	if err := c.driver.SetPartition(target); err != nil {
		c.active = false
		return errors.Wrap(err, "hwpartition: set partition")
	}

	c.previous = current
	c.shouldRestore = true
	return nil
}

// Restore switches back to the partition captured at Ensure time, if a
// switch actually happened.
func (c *Coordinator) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return errors.New("hwpartition: Restore called without a matching Ensure")
	}
	c.active = false

	if !c.shouldRestore {
		return nil
	}
	c.shouldRestore = false

	if err := c.driver.SetPartition(c.previous); err != nil {
		return errors.Wrap(err, "hwpartition: restore partition")
	}
	return nil
}
