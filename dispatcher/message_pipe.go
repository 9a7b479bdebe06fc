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
	"encoding/binary"

	"mojoedk/ports"
	"mojoedk/util"

	"github.com/bfix/gospel/data"
	"github.com/google/uuid"
)

// ReadFlags controls ReadMessage's overflow behavior.
type ReadFlags uint32

const (
	ReadNone       ReadFlags = 0
	ReadMayDiscard ReadFlags = 1 << 0
	ReadAnySize    ReadFlags = 1 << 1
)

// portCarrier is implemented by every dispatcher variant that owns exactly
// one Ports port, letting WriteMessage find the ports.Port to hand to
// Node.SendMessage without leaking that detail into the public Dispatcher
// interface.
type portCarrier interface {
	transitPort() *ports.Port
}

// MessagePipeDispatcher wraps a single Ports port as a
// byte+handle message channel.
type MessagePipeDispatcher struct {
	envelope

	node     *ports.Node
	port     *ports.Port
	pipeID   uint64
	endpoint int8
}

// NewMessagePipePair creates two connected message pipe dispatchers, the
// Go-level equivalent of MojoCreateMessagePipe's pair of endpoints.
func NewMessagePipePair(node *ports.Node) (a, b *MessagePipeDispatcher) {
	pa, pb := node.CreatePortPair()
	u := uuid.New()
	id := binary.BigEndian.Uint64(u[:8])
	a = newMessagePipe(node, pa, id, 0)
	b = newMessagePipe(node, pb, id, 1)
	return
}

func newMessagePipe(node *ports.Node, p *ports.Port, pipeID uint64, endpoint int8) *MessagePipeDispatcher {
	d := &MessagePipeDispatcher{envelope: newEnvelope(TypeMessagePipe), node: node, port: p, pipeID: pipeID, endpoint: endpoint}
	node.SetUserData(p.Name, d)
	return d
}

// wrapReceivedMessagePipe wraps an already-materialized remote port as a
// local dispatcher after it arrived inside a message.
func wrapReceivedMessagePipe(node *ports.Node, name util.PortName, state MessagePipeState) *MessagePipeDispatcher {
	// the port record itself was created by Node.AcceptMessage; we only
	// need to remember which one it is.
	d := &MessagePipeDispatcher{envelope: newEnvelope(TypeMessagePipe), node: node, pipeID: state.PipeID, endpoint: state.Endpoint}
	d.port = &ports.Port{Name: name}
	node.SetUserData(name, d)
	return d
}

func (d *MessagePipeDispatcher) transitPort() *ports.Port { return d.port }

//----------------------------------------------------------------------
// ports.UserData
//----------------------------------------------------------------------

// OnPortStatusChanged implements ports.UserData: it is invoked by the
// Ports layer, with no Ports-layer lock held, whenever the port's head
// message or peer-closed flag may have changed.
func (d *MessagePipeDispatcher) OnPortStatusChanged() {
	d.envelope.refresh(d.signals(), true)
}

func (d *MessagePipeDispatcher) signals() SignalsState {
	st, err := d.node.GetStatus(d.port.Name)
	if err != nil {
		return SignalsState{}
	}
	var s SignalsState
	if st.HasMessages {
		s.Satisfied |= SignalSet(SignalReadable)
	}
	if !st.PeerClosed {
		s.Satisfied |= SignalSet(SignalWritable)
		s.Satisfiable |= SignalSet(SignalReadable) | SignalSet(SignalWritable)
	} else {
		s.Satisfied |= SignalSet(SignalPeerClosed)
		s.Satisfiable |= SignalSet(SignalPeerClosed)
		if st.HasMessages {
			s.Satisfiable |= SignalSet(SignalReadable)
		}
	}
	return s
}

func (d *MessagePipeDispatcher) GetHandleSignalsState() SignalsState { return d.signals() }

func (d *MessagePipeDispatcher) AddAwakable(a Awakable, signals SignalSet, context uint64) error {
	return d.envelope.addAwakable(a, signals, context, d.signals())
}

func (d *MessagePipeDispatcher) RemoveAwakable(a Awakable, context uint64) {
	d.envelope.removeAwakable(a, context)
}

func (d *MessagePipeDispatcher) Watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error {
	return d.envelope.watch(signals, cb, context, sched)
}

func (d *MessagePipeDispatcher) CancelWatch(context uint64) { d.envelope.cancelWatch(context) }

func (d *MessagePipeDispatcher) Close() error {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return util.ErrInvalidArgument
	}
	d.node.ClosePort(d.port.Name)
	notifyClosed(woken, watched)
	return nil
}

//----------------------------------------------------------------------
// WriteMessage / ReadMessage
//----------------------------------------------------------------------

// WriteMessage sends payload, transferring the listed dispatchers along
// with it. Each attached dispatcher is frozen via BeginTransit, serialized
// then closed locally once the send succeeds.
func (d *MessagePipeDispatcher) WriteMessage(payload []byte, attached []Dispatcher) error {
	if d.IsClosed() {
		return util.ErrInvalidArgument
	}

	for i, disp := range attached {
		if err := disp.BeginTransit(); err != nil {
			for _, prev := range attached[:i] {
				prev.CancelTransit()
			}
			return err
		}
	}
	rollback := func() {
		for _, disp := range attached {
			disp.CancelTransit()
		}
	}

	mh := MessageHeader{NumDispatchers: uint32(len(attached))}
	var headerBlocks [][]byte
	var stateBlocks [][]byte
	var attachedPorts []*ports.Port
	var handles []any

	for _, disp := range attached {
		nb, _, _ := disp.StartSerialize()
		bytes, pnames, hs, err := disp.EndSerialize()
		if err != nil {
			rollback()
			return err
		}
		if len(bytes) != nb {
			rollback()
			return util.ErrInternal
		}
		dh := DispatcherHeader{
			Type:               int32(disp.GetType()),
			NumBytes:           uint32(len(bytes)),
			NumPorts:           uint32(len(pnames)),
			NumPlatformHandles: uint32(len(hs)),
		}
		hb, err := data.Marshal(&dh)
		if err != nil {
			rollback()
			return err
		}
		headerBlocks = append(headerBlocks, hb)
		stateBlocks = append(stateBlocks, bytes)
		for _, h := range hs {
			handles = append(handles, h)
		}
		if pc, ok := disp.(portCarrier); ok && len(pnames) > 0 {
			attachedPorts = append(attachedPorts, pc.transitPort())
		}
	}

	mhb, err := data.Marshal(&mh)
	if err != nil {
		rollback()
		return err
	}
	headerSize := len(mhb)
	for _, hb := range headerBlocks {
		headerSize += len(hb)
	}
	for _, sb := range stateBlocks {
		headerSize += len(sb)
	}
	mh.HeaderSize = uint32(headerSize)
	mhb, _ = data.Marshal(&mh)

	buf := make([]byte, 0, headerSize+len(payload))
	buf = append(buf, mhb...)
	for i := range headerBlocks {
		buf = append(buf, headerBlocks[i]...)
		buf = append(buf, stateBlocks[i]...)
	}
	buf = append(buf, payload...)

	msg := ports.NewUserMessage(util.InvalidPortName, buf)
	msg.AttachedHandles = handles

	if err := d.node.SendMessage(d.port.Name, msg, attachedPorts); err != nil {
		rollback()
		return err
	}
	for _, disp := range attached {
		disp.CompleteTransitAndClose()
	}
	return nil
}

// ReadMessage dequeues and parses the head message, reconstructing any
// dispatchers that were transferred along with it.
func (d *MessagePipeDispatcher) ReadMessage(maxBytes, maxHandles int, flags ReadFlags) ([]byte, []Dispatcher, error) {
	msg, err := d.node.GetMessage(d.port.Name, nil)
	if err != nil {
		return nil, nil, err
	}

	var mh MessageHeader
	if err := data.Unmarshal(&mh, msg.Payload[:8]); err != nil {
		return nil, nil, util.ErrDataLoss
	}
	offset := 8
	var outDispatchers []Dispatcher
	portIdx, handleIdx := 0, 0
	for i := 0; i < int(mh.NumDispatchers); i++ {
		var dh DispatcherHeader
		if err := data.Unmarshal(&dh, msg.Payload[offset:offset+16]); err != nil {
			return nil, nil, util.ErrDataLoss
		}
		offset += 16
		state := msg.Payload[offset : offset+int(dh.NumBytes)]
		offset += int(dh.NumBytes)

		switch Type(dh.Type) {
		case TypeMessagePipe:
			var mps MessagePipeState
			data.Unmarshal(&mps, state)
			name := msg.Ports[portIdx].PortName
			portIdx++
			outDispatchers = append(outDispatchers, wrapReceivedMessagePipe(d.node, name, mps))
		case TypeSharedBuffer:
			var sbs SharedBufferState
			data.Unmarshal(&sbs, state)
			h, _ := msg.AttachedHandles[handleIdx].(int)
			handleIdx++
			outDispatchers = append(outDispatchers, wrapReceivedSharedBuffer(sbs, h))
		case TypeWrappedPlatformHandle:
			h, _ := msg.AttachedHandles[handleIdx].(int)
			handleIdx++
			outDispatchers = append(outDispatchers, wrapReceivedPlatformHandle(h, HandleKindFileDescriptor))
		case TypeDataPipeProducer, TypeDataPipeConsumer:
			var dps DataPipeState
			data.Unmarshal(&dps, state)
			name := msg.Ports[portIdx].PortName
			portIdx++
			h, _ := msg.AttachedHandles[handleIdx].(int)
			handleIdx++
			outDispatchers = append(outDispatchers, wrapReceivedDataPipeEnd(d.node, name, dps, h, Type(dh.Type)))
		}
	}

	body := msg.Payload[mh.HeaderSize:]
	if len(outDispatchers) > maxHandles && maxHandles > 0 {
		if flags&ReadMayDiscard == 0 {
			return nil, nil, util.ErrResourceExhausted
		}
		outDispatchers = nil
	}
	if maxBytes > 0 && len(body) > maxBytes {
		if flags&ReadMayDiscard == 0 {
			return nil, nil, util.ErrResourceExhausted
		}
		return nil, nil, util.ErrShouldWait
	}
	return body, outDispatchers, nil
}

// Fuse merges two local, still-uninitialized message pipe endpoints by
// splicing their peers together and closing both.
func (d *MessagePipeDispatcher) Fuse(other *MessagePipeDispatcher) error {
	err := d.node.MergeLocalPorts(d.port.Name, other.port.Name)
	d.Close()
	other.Close()
	return err
}

//----------------------------------------------------------------------
// Transit
//----------------------------------------------------------------------

func (d *MessagePipeDispatcher) StartSerialize() (int, int, int) {
	return 16, 1, 0 // MessagePipeState is 16 bytes: 8 + 1 + 7 padding
}

func (d *MessagePipeDispatcher) EndSerialize() ([]byte, []util.PortName, []int, error) {
	st := MessagePipeState{PipeID: d.pipeID, Endpoint: d.endpoint}
	b, err := data.Marshal(&st)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, []util.PortName{d.port.Name}, nil, nil
}

func (d *MessagePipeDispatcher) BeginTransit() error {
	if d.IsClosed() {
		return util.ErrInvalidArgument
	}
	d.envelope.mu.Lock()
	d.envelope.inTransit = true
	d.envelope.mu.Unlock()
	return nil
}

func (d *MessagePipeDispatcher) CancelTransit() {
	d.envelope.mu.Lock()
	d.envelope.inTransit = false
	d.envelope.mu.Unlock()
}

func (d *MessagePipeDispatcher) CompleteTransitAndClose() {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return
	}
	notifyClosed(woken, watched)
}
