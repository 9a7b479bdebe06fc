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

package dispatcher

import "mojoedk/util"

// HandleKind enumerates the OS-to-logical handle types a
// WrappedPlatformHandleDispatcher can carry.
type HandleKind int

const (
	HandleKindFileDescriptor HandleKind = iota
	HandleKindWindowsHandle
	HandleKindMachPort
)

// WrappedPlatformHandleDispatcher is a trivial carrier for one OS handle,
// used by the public wrap/unwrap API.
type WrappedPlatformHandleDispatcher struct {
	envelope
	fd   int
	kind HandleKind
}

// WrapPlatformHandle creates a dispatcher around an already-owned OS
// handle (e.g. an open file descriptor).
func WrapPlatformHandle(fd int, kind HandleKind) *WrappedPlatformHandleDispatcher {
	return &WrappedPlatformHandleDispatcher{envelope: newEnvelope(TypeWrappedPlatformHandle), fd: fd, kind: kind}
}

func wrapReceivedPlatformHandle(fd int, kind HandleKind) *WrappedPlatformHandleDispatcher {
	return WrapPlatformHandle(fd, kind)
}

// Unwrap returns the underlying OS handle, consuming the dispatcher (the
// caller now owns the fd directly and must close it themselves).
func (d *WrappedPlatformHandleDispatcher) Unwrap() (int, HandleKind, error) {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return 0, 0, util.ErrInvalidArgument
	}
	notifyClosed(woken, watched)
	return d.fd, d.kind, nil
}

func (d *WrappedPlatformHandleDispatcher) GetHandleSignalsState() SignalsState { return SignalsState{} }

func (d *WrappedPlatformHandleDispatcher) AddAwakable(a Awakable, signals SignalSet, context uint64) error {
	return d.envelope.addAwakable(a, signals, context, SignalsState{})
}
func (d *WrappedPlatformHandleDispatcher) RemoveAwakable(a Awakable, context uint64) {
	d.envelope.removeAwakable(a, context)
}
func (d *WrappedPlatformHandleDispatcher) Watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error {
	return d.envelope.watch(signals, cb, context, sched)
}
func (d *WrappedPlatformHandleDispatcher) CancelWatch(context uint64) {
	d.envelope.cancelWatch(context)
}

func (d *WrappedPlatformHandleDispatcher) Close() error {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return util.ErrInvalidArgument
	}
	notifyClosed(woken, watched)
	return nil
}

func (d *WrappedPlatformHandleDispatcher) StartSerialize() (int, int, int) { return 0, 0, 1 }

func (d *WrappedPlatformHandleDispatcher) EndSerialize() ([]byte, []util.PortName, []int, error) {
	return nil, nil, []int{d.fd}, nil
}

func (d *WrappedPlatformHandleDispatcher) BeginTransit() error {
	if d.IsClosed() {
		return util.ErrInvalidArgument
	}
	d.envelope.mu.Lock()
	d.envelope.inTransit = true
	d.envelope.mu.Unlock()
	return nil
}

func (d *WrappedPlatformHandleDispatcher) CancelTransit() {
	d.envelope.mu.Lock()
	d.envelope.inTransit = false
	d.envelope.mu.Unlock()
}

func (d *WrappedPlatformHandleDispatcher) CompleteTransitAndClose() {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return
	}
	notifyClosed(woken, watched)
}
