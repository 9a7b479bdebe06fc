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

package core

import (
	"mojoedk/dispatcher"
	"mojoedk/ports"
	"mojoedk/util"
)

//----------------------------------------------------------------------
// Message pipes
//----------------------------------------------------------------------

// CreateMessagePipe returns a connected pair of message pipe handles.
func CreateMessagePipe(node *ports.Node) (a, b Handle) {
	da, db := dispatcher.NewMessagePipePair(node)
	return tbl.add(da), tbl.add(db)
}

// WriteMessage sends payload over h, transferring the dispatchers behind
// attached. On success every handle in attached is removed from the table
// (ownership moved into the message); on failure none are.
func WriteMessage(h Handle, payload []byte, attached []Handle) error {
	d, err := lookup(h)
	if err != nil {
		return err
	}
	mp, ok := d.(*dispatcher.MessagePipeDispatcher)
	if !ok {
		return util.ErrInvalidArgument
	}

	disps := make([]dispatcher.Dispatcher, len(attached))
	for i, ah := range attached {
		ad, ok := tbl.get(ah)
		if !ok {
			return util.ErrInvalidArgument
		}
		disps[i] = ad
	}
	if err := mp.WriteMessage(payload, disps); err != nil {
		return err
	}
	for _, ah := range attached {
		tbl.remove(ah)
	}
	return nil
}

// ReadMessage dequeues h's head message, allocating a fresh handle for
// every dispatcher that arrived attached to it.
func ReadMessage(h Handle, maxBytes, maxHandles int, flags dispatcher.ReadFlags) ([]byte, []Handle, error) {
	d, err := lookup(h)
	if err != nil {
		return nil, nil, err
	}
	mp, ok := d.(*dispatcher.MessagePipeDispatcher)
	if !ok {
		return nil, nil, util.ErrInvalidArgument
	}
	body, disps, err := mp.ReadMessage(maxBytes, maxHandles, flags)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Handle, len(disps))
	for i, disp := range disps {
		out[i] = tbl.add(disp)
	}
	return body, out, nil
}

//----------------------------------------------------------------------
// Data pipes
//----------------------------------------------------------------------

// CreateDataPipe returns a connected producer/consumer handle pair.
func CreateDataPipe(node *ports.Node, elementNumBytes, capacityNumBytes int) (producer, consumer Handle, err error) {
	p, c, err := dispatcher.NewDataPipe(node, elementNumBytes, capacityNumBytes)
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	return tbl.add(p), tbl.add(c), nil
}

func producerOf(h Handle) (*dispatcher.DataPipeProducerDispatcher, error) {
	d, err := lookup(h)
	if err != nil {
		return nil, err
	}
	p, ok := d.(*dispatcher.DataPipeProducerDispatcher)
	if !ok {
		return nil, util.ErrInvalidArgument
	}
	return p, nil
}

func consumerOf(h Handle) (*dispatcher.DataPipeConsumerDispatcher, error) {
	d, err := lookup(h)
	if err != nil {
		return nil, err
	}
	c, ok := d.(*dispatcher.DataPipeConsumerDispatcher)
	if !ok {
		return nil, util.ErrInvalidArgument
	}
	return c, nil
}

// WriteData writes elements to the data pipe named by h.
func WriteData(h Handle, elements []byte, flags dispatcher.WriteFlags) (int, error) {
	p, err := producerOf(h)
	if err != nil {
		return 0, err
	}
	return p.WriteData(elements, flags)
}

// BeginWriteData / EndWriteData expose the two-phase write API.
func BeginWriteData(h Handle) ([]byte, error) {
	p, err := producerOf(h)
	if err != nil {
		return nil, err
	}
	return p.BeginWriteData()
}

func EndWriteData(h Handle, numBytesWritten int) error {
	p, err := producerOf(h)
	if err != nil {
		return err
	}
	return p.EndWriteData(numBytesWritten)
}

// ReadData reads from the data pipe named by h.
func ReadData(h Handle, out []byte, flags dispatcher.ReadDataFlags) (int, error) {
	c, err := consumerOf(h)
	if err != nil {
		return 0, err
	}
	return c.ReadData(out, flags)
}

// BeginReadData / EndReadData expose the two-phase read API.
func BeginReadData(h Handle) ([]byte, error) {
	c, err := consumerOf(h)
	if err != nil {
		return nil, err
	}
	return c.BeginReadData()
}

func EndReadData(h Handle, numBytesRead int) error {
	c, err := consumerOf(h)
	if err != nil {
		return err
	}
	return c.EndReadData(numBytesRead)
}

//----------------------------------------------------------------------
// Shared buffers
//----------------------------------------------------------------------

// BufferBroker centralizes shared-memory segment creation at one process
// (the node controller's broker) instead of letting every process create
// its own memfd. A process installs one with SetBufferBroker during
// startup; the broker process installs an implementation that serves the
// request locally, a non-broker process one that round-trips a
// BufferRequest/BufferResponse frame pair to its broker.
type BufferBroker interface {
	RequestSharedBuffer(numBytes int) (fd int, err error)
}

var bufferBroker BufferBroker

// SetBufferBroker installs the controller responsible for centralizing
// shared-buffer allocation. There is no local fast path once one is
// installed: every CreateSharedBuffer call, including the broker's own,
// goes through it.
func SetBufferBroker(b BufferBroker) { bufferBroker = b }

// CreateSharedBuffer obtains a fresh anonymous shared-memory segment from
// the installed BufferBroker. With no broker installed (a bare dispatcher
// table used outside the node controller, e.g. in package tests) it falls
// back to allocating the segment locally.
func CreateSharedBuffer(numBytes int) (Handle, error) {
	if bufferBroker != nil {
		fd, err := bufferBroker.RequestSharedBuffer(numBytes)
		if err != nil {
			return InvalidHandle, err
		}
		return tbl.add(dispatcher.WrapReceivedSharedBuffer(numBytes, false, fd)), nil
	}
	d, err := dispatcher.NewSharedBuffer(numBytes)
	if err != nil {
		return InvalidHandle, err
	}
	return tbl.add(d), nil
}

// DuplicateBufferHandle returns a new handle over the same segment as h.
func DuplicateBufferHandle(h Handle, flags dispatcher.DuplicateFlags) (Handle, error) {
	d, err := lookup(h)
	if err != nil {
		return InvalidHandle, err
	}
	sb, ok := d.(*dispatcher.SharedBufferDispatcher)
	if !ok {
		return InvalidHandle, util.ErrInvalidArgument
	}
	dup, err := sb.DuplicateBufferHandle(flags)
	if err != nil {
		return InvalidHandle, err
	}
	return tbl.add(dup), nil
}

// MapBuffer maps [offset, offset+length) of h's segment into this process.
func MapBuffer(h Handle, offset, length int, flags dispatcher.MapFlags) ([]byte, error) {
	d, err := lookup(h)
	if err != nil {
		return nil, err
	}
	sb, ok := d.(*dispatcher.SharedBufferDispatcher)
	if !ok {
		return nil, util.ErrInvalidArgument
	}
	return sb.MapBuffer(offset, length, flags)
}

//----------------------------------------------------------------------
// Wrapped platform handles
//----------------------------------------------------------------------

// WrapPlatformHandle wraps an already-owned OS handle as a dispatcher.
func WrapPlatformHandle(fd int, kind dispatcher.HandleKind) Handle {
	return tbl.add(dispatcher.WrapPlatformHandle(fd, kind))
}

// UnwrapPlatformHandle consumes h and returns the OS handle it carried.
func UnwrapPlatformHandle(h Handle) (int, dispatcher.HandleKind, error) {
	d, ok := tbl.remove(h)
	if !ok {
		return 0, 0, util.ErrInvalidArgument
	}
	wh, ok := d.(*dispatcher.WrappedPlatformHandleDispatcher)
	if !ok {
		return 0, 0, util.ErrInvalidArgument
	}
	return wh.Unwrap()
}

//----------------------------------------------------------------------
// Wait sets
//----------------------------------------------------------------------

// CreateWaitSet creates an empty wait set and returns its handle.
func CreateWaitSet() Handle {
	return tbl.add(dispatcher.NewWaitSet())
}

func waitSetOf(h Handle) (*dispatcher.WaitSetDispatcher, error) {
	d, err := lookup(h)
	if err != nil {
		return nil, err
	}
	ws, ok := d.(*dispatcher.WaitSetDispatcher)
	if !ok {
		return nil, util.ErrInvalidArgument
	}
	return ws, nil
}

// AddWaitingDispatcher registers member's dispatcher on the wait set named
// by waitSet under cookie.
func AddWaitingDispatcher(waitSet, member Handle, signals dispatcher.SignalSet, cookie uint64) error {
	ws, err := waitSetOf(waitSet)
	if err != nil {
		return err
	}
	md, err := lookup(member)
	if err != nil {
		return err
	}
	return ws.AddWaitingDispatcher(md, signals, cookie)
}

// RemoveWaitingDispatcher undoes a prior AddWaitingDispatcher.
func RemoveWaitingDispatcher(waitSet Handle, cookie uint64) error {
	ws, err := waitSetOf(waitSet)
	if err != nil {
		return err
	}
	return ws.RemoveWaitingDispatcher(cookie)
}

// GetReadyDispatchers drains waitSet's ready queue.
func GetReadyDispatchers(waitSet Handle) ([]uint64, []error, error) {
	ws, err := waitSetOf(waitSet)
	if err != nil {
		return nil, nil, err
	}
	cookies, results := ws.GetReadyDispatchers()
	return cookies, results, nil
}

//----------------------------------------------------------------------
// Watch / CancelWatch
//----------------------------------------------------------------------

// Watch arms an asynchronous callback on h that fires at most once per
// arming. If signals are already satisfied at registration time, the watch
// is removed again (as by CancelWatch) and one callback, with
// fromSystem=false, is queued on rc to run at its next Unwind, instead of
// waiting for the next state change.
func Watch(h Handle, signals dispatcher.SignalSet, cb dispatcher.WatchCallback, context uint64, rc *RequestContext) error {
	d, err := lookup(h)
	if err != nil {
		return err
	}
	if err := d.Watch(signals, cb, context, rc); err != nil {
		return err
	}
	state := d.GetHandleSignalsState()
	if state.Satisfied&signals != 0 {
		d.CancelWatch(context)
		rc.Schedule(func() { cb(context, nil, state, false) })
	}
	return nil
}

// CancelWatch disarms a previously registered watch.
func CancelWatch(h Handle, context uint64) error {
	d, err := lookup(h)
	if err != nil {
		return err
	}
	d.CancelWatch(context)
	return nil
}
