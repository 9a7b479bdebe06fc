// This file is part of mojoedk, a message-passing runtime in Go.
// Copyright (C) 2026 The mojoedk Authors
//
// mojoedk is free software: you can redistribute it and/or modify it under
// the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// mojoedk is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public
// License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package core implements the handle table and the public entry points
// built on top of it: message building, Wait/WaitMany, and Watch/CancelWatch
// wired through a per-caller RequestContext.
package core

import (
	"sync"

	"mojoedk/dispatcher"
	"mojoedk/util"
)

// Handle is an opaque reference into the handle table. The zero value
// never names a live dispatcher.
type Handle uint32

// InvalidHandle is the reserved sentinel returned on failure.
const InvalidHandle Handle = 0

// handleTable maps Handle to its owning dispatcher. Every operation is
// O(1) amortized; the lock is the outermost in the lock-ordering
// hierarchy (handle table first).
type handleTable struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]dispatcher.Dispatcher
}

func newHandleTable() *handleTable {
	return &handleTable{next: 1, entries: make(map[Handle]dispatcher.Dispatcher)}
}

func (t *handleTable) add(d dispatcher.Dispatcher) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.entries[h] = d
	return h
}

func (t *handleTable) get(h Handle) (dispatcher.Dispatcher, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.entries[h]
	return d, ok
}

// remove takes ownership of the handle's dispatcher away from the table
// without closing it -- used when a dispatcher is handed off into transit.
func (t *handleTable) remove(h Handle) (dispatcher.Dispatcher, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	return d, ok
}

// tbl is the process-wide handle table, mirroring the singleton Core of
// exactly one handle table exists per process, shared by every
// dispatcher that lives in it.
var tbl = newHandleTable()

// Close closes h's dispatcher and removes it from the table. It does not
// check whether the dispatcher is in transit: an in-transit dispatcher is
// closed at once, like any other, not when its transit completes or is
// cancelled.
func Close(h Handle) error {
	d, ok := tbl.remove(h)
	if !ok {
		return util.ErrInvalidArgument
	}
	return d.Close()
}

// GetHandleSignalsState reports h's current signal state without blocking.
func GetHandleSignalsState(h Handle) (dispatcher.SignalsState, error) {
	d, ok := tbl.get(h)
	if !ok {
		return dispatcher.SignalsState{}, util.ErrInvalidArgument
	}
	return d.GetHandleSignalsState(), nil
}

func lookup(h Handle) (dispatcher.Dispatcher, error) {
	d, ok := tbl.get(h)
	if !ok {
		return nil, util.ErrInvalidArgument
	}
	return d, nil
}
