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

// Package dispatcher implements the handle-backed primitive objects:
// message pipes, data pipe producer/consumer, shared buffers, wrapped
// platform handles, and wait sets, plus the waiter/watcher notification
// core that every one of them shares.
package dispatcher

import "mojoedk/util"

// Type tags a dispatcher's concrete kind.
type Type int

const (
	TypeMessagePipe Type = iota
	TypeDataPipeProducer
	TypeDataPipeConsumer
	TypeSharedBuffer
	TypeWrappedPlatformHandle
	TypeWaitSet
)

func (t Type) String() string {
	switch t {
	case TypeMessagePipe:
		return "MessagePipe"
	case TypeDataPipeProducer:
		return "DataPipeProducer"
	case TypeDataPipeConsumer:
		return "DataPipeConsumer"
	case TypeSharedBuffer:
		return "SharedBuffer"
	case TypeWrappedPlatformHandle:
		return "WrappedPlatformHandle"
	case TypeWaitSet:
		return "WaitSet"
	default:
		return "?"
	}
}

// Signal is a bit in a SignalSet.
type Signal uint32

const (
	SignalReadable Signal = 1 << iota
	SignalWritable
	SignalPeerClosed
)

// SignalSet is a bitmask of Signal values.
type SignalSet uint32

func (s SignalSet) Has(sig Signal) bool { return s&SignalSet(sig) != 0 }

// SignalsState is what AddAwakable/GetHandleSignalsState report: which
// signals are currently satisfied, and which could ever become satisfied.
type SignalsState struct {
	Satisfied   SignalSet
	Satisfiable SignalSet
}

// Dispatcher is the superclass contract common to all handle-backed
// objects.
type Dispatcher interface {
	GetType() Type
	Close() error
	IsClosed() bool

	GetHandleSignalsState() SignalsState

	AddAwakable(a Awakable, signals SignalSet, context uint64) error
	RemoveAwakable(a Awakable, context uint64)

	Watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error
	CancelWatch(context uint64)

	// Serialization triple.
	StartSerialize() (numBytes, numPorts, numPlatformHandles int)
	EndSerialize() (bytes []byte, ports []util.PortName, handles []int, err error)
	BeginTransit() error
	CompleteTransitAndClose()
	CancelTransit()
}

// Awakable is a one-shot waiter attached to a dispatcher. Wake is
// called with the dispatcher locked released; it must not block.
type Awakable interface {
	Wake(context uint64, result error, state SignalsState)
}

// WatchCallback is the async notification hook. flagsFromSystem
// reports whether the wake arose from internal system activity.
type WatchCallback func(context uint64, result error, state SignalsState, flagsFromSystem bool)

// Scheduler defers a callback until the current core operation has
// unwound and released every lock it held.
// core.RequestContext implements this; it is passed down to the
// dispatcher layer rather than recovered from thread-local state, since
// Go has no goroutine-local storage to hang an implicit context from.
type Scheduler interface {
	Schedule(f func())
	ScheduleCancellation(f func())
}

// immediateScheduler runs callbacks synchronously; used when a caller has
// no request context of its own (e.g. tests).
type immediateScheduler struct{}

func (immediateScheduler) Schedule(f func())             { f() }
func (immediateScheduler) ScheduleCancellation(f func()) { f() }

// Immediate is the zero-ceremony Scheduler for callers outside the Core
// API surface.
var Immediate Scheduler = immediateScheduler{}
