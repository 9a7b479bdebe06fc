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

import (
	"mojoedk/util"

	"github.com/bfix/gospel/data"
)

// MapFlags controls MapBuffer; reserved for future extension.
type MapFlags uint32

// DuplicateFlags controls DuplicateBufferHandle.
type DuplicateFlags uint32

const DuplicateReadOnly DuplicateFlags = 1 << 0

// SharedBufferDispatcher wraps a platform shared-memory segment.
type SharedBufferDispatcher struct {
	envelope

	fd       int
	numBytes int
	readOnly bool
}

// NewSharedBuffer allocates a fresh anonymous shared-memory segment.
func NewSharedBuffer(numBytes int) (*SharedBufferDispatcher, error) {
	seg, err := createSegment(numBytes)
	if err != nil {
		return nil, err
	}
	return &SharedBufferDispatcher{envelope: newEnvelope(TypeSharedBuffer), fd: seg.fd, numBytes: numBytes}, nil
}

func wrapReceivedSharedBuffer(state SharedBufferState, fd int) *SharedBufferDispatcher {
	return &SharedBufferDispatcher{
		envelope: newEnvelope(TypeSharedBuffer),
		fd:       fd,
		numBytes: int(state.NumBytes),
		readOnly: state.Flags&1 != 0,
	}
}

// CreateRawSharedSegment allocates a fresh anonymous shared-memory segment
// and returns its raw OS handle rather than a dispatcher, for a caller (a
// buffer broker) that hands the descriptor to another process instead of
// mapping it itself.
func CreateRawSharedSegment(numBytes int) (int, error) {
	seg, err := createSegment(numBytes)
	if err != nil {
		return -1, err
	}
	return seg.fd, nil
}

// CloseRawSegment closes a handle obtained from CreateRawSharedSegment once
// it has been handed off over the wire and is no longer needed locally.
func CloseRawSegment(fd int) error {
	return closeSegment(fd)
}

// WrapReceivedSharedBuffer wraps fd, an OS shared-memory handle obtained
// from another process (for instance a broker's BufferResponse), as a
// dispatcher of the given size.
func WrapReceivedSharedBuffer(numBytes int, readOnly bool, fd int) *SharedBufferDispatcher {
	flags := uint32(0)
	if readOnly {
		flags |= 1
	}
	return wrapReceivedSharedBuffer(SharedBufferState{NumBytes: uint64(numBytes), Flags: flags}, fd)
}

// DuplicateBufferHandle returns a new dispatcher over the same segment.
// A read-only duplicate always succeeds even from a writable original: a
// fresh OS handle is always derived via duplicateSegmentFD, since this
// module only ships the POSIX/Linux backing.
func (d *SharedBufferDispatcher) DuplicateBufferHandle(flags DuplicateFlags) (*SharedBufferDispatcher, error) {
	if d.IsClosed() {
		return nil, util.ErrInvalidArgument
	}
	newFd, err := duplicateSegmentFD(d.fd)
	if err != nil {
		return nil, err
	}
	ro := d.readOnly || flags&DuplicateReadOnly != 0
	return &SharedBufferDispatcher{envelope: newEnvelope(TypeSharedBuffer), fd: newFd, numBytes: d.numBytes, readOnly: ro}, nil
}

// MapBuffer validates the requested range and returns the mapping.
func (d *SharedBufferDispatcher) MapBuffer(offset, length int, flags MapFlags) ([]byte, error) {
	if d.IsClosed() {
		return nil, util.ErrInvalidArgument
	}
	if offset < 0 || length < 0 || offset+length > d.numBytes {
		return nil, util.ErrOutOfRange
	}
	return mapSegment(d.fd, offset, length, !d.readOnly)
}

func (d *SharedBufferDispatcher) GetHandleSignalsState() SignalsState { return SignalsState{} }

func (d *SharedBufferDispatcher) AddAwakable(a Awakable, signals SignalSet, context uint64) error {
	return d.envelope.addAwakable(a, signals, context, SignalsState{})
}
func (d *SharedBufferDispatcher) RemoveAwakable(a Awakable, context uint64) {
	d.envelope.removeAwakable(a, context)
}
func (d *SharedBufferDispatcher) Watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error {
	return d.envelope.watch(signals, cb, context, sched)
}
func (d *SharedBufferDispatcher) CancelWatch(context uint64) { d.envelope.cancelWatch(context) }

func (d *SharedBufferDispatcher) Close() error {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return util.ErrInvalidArgument
	}
	notifyClosed(woken, watched)
	return nil
}

func (d *SharedBufferDispatcher) StartSerialize() (int, int, int) { return 16, 0, 1 }

func (d *SharedBufferDispatcher) EndSerialize() ([]byte, []util.PortName, []int, error) {
	flags := uint32(0)
	if d.readOnly {
		flags |= 1
	}
	st := SharedBufferState{NumBytes: uint64(d.numBytes), Flags: flags}
	b, err := data.Marshal(&st)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, nil, []int{d.fd}, nil
}

func (d *SharedBufferDispatcher) BeginTransit() error {
	if d.IsClosed() {
		return util.ErrInvalidArgument
	}
	d.envelope.mu.Lock()
	d.envelope.inTransit = true
	d.envelope.mu.Unlock()
	return nil
}

func (d *SharedBufferDispatcher) CancelTransit() {
	d.envelope.mu.Lock()
	d.envelope.inTransit = false
	d.envelope.mu.Unlock()
}

func (d *SharedBufferDispatcher) CompleteTransitAndClose() {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return
	}
	notifyClosed(woken, watched)
}
