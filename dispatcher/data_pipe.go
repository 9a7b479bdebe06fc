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
	"sync"

	"mojoedk/ports"
	"mojoedk/util"

	"github.com/bfix/gospel/data"
)

// WriteFlags controls WriteData.
type WriteFlags uint32

const WriteAllOrNone WriteFlags = 1 << 0

// ReadDataFlags controls ReadData.
type ReadDataFlags uint32

const (
	ReadDataPeek      ReadDataFlags = 1 << 0
	ReadDataDiscard   ReadDataFlags = 1 << 1
	ReadDataQuery     ReadDataFlags = 1 << 2
	ReadDataAllOrNone ReadDataFlags = 1 << 3
)

const defaultCapacityNumBytes = 64 * 1024

// control-message opcodes exchanged over each endpoint's bookkeeping port.
const (
	opDataWasWritten byte = 0
	opDataWasRead    byte = 1
)

// dataPipeCore is the state shared by a data pipe's producer/consumer
// halves: a fixed-capacity ring of stride-aligned bytes, plus a control
// port used purely for the two bookkeeping messages.
// Both endpoint dispatchers embed one of these and an envelope.
type dataPipeCore struct {
	node *ports.Node
	port *ports.Port

	fd          int
	mem         []byte
	elementSize int
	capacity    int

	mu           sync.Mutex
	writeOffset  int
	readOffset   int
	available    int // bytes written, not yet read
	peerClosed   bool
	twoPhaseOpen bool
}

func (c *dataPipeCore) transitPort() *ports.Port { return c.port }

func (c *dataPipeCore) sendControl(op byte, n int) error {
	buf := make([]byte, 5)
	buf[0] = op
	binary.BigEndian.PutUint32(buf[1:], uint32(n))
	msg := ports.NewUserMessage(util.InvalidPortName, buf)
	return c.node.SendMessage(c.port.Name, msg, nil)
}

// drainControl pulls every pending control message and applies it. Called
// from OnPortStatusChanged, i.e. whenever the Ports layer notices a new
// head message on the control port.
func (c *dataPipeCore) drainControl() {
	for {
		msg, err := c.node.GetMessage(c.port.Name, nil)
		if err != nil {
			if err == util.ErrFailedPrecondition {
				c.mu.Lock()
				c.peerClosed = true
				c.mu.Unlock()
			}
			return
		}
		if len(msg.Payload) < 5 {
			continue
		}
		op := msg.Payload[0]
		n := int(binary.BigEndian.Uint32(msg.Payload[1:]))
		c.mu.Lock()
		switch op {
		case opDataWasWritten:
			// consumer side: more bytes became available.
			c.available += n
			if c.available > c.capacity {
				// protocol violation: producer claims more than fits.
				c.peerClosed = true
			}
		case opDataWasRead:
			// producer side: capacity was freed up.
			c.available -= n
			if c.available < 0 {
				c.peerClosed = true
			}
		}
		c.mu.Unlock()
	}
}

//----------------------------------------------------------------------
// Producer
//----------------------------------------------------------------------

// DataPipeProducerDispatcher implements the producer half of a data pipe.
type DataPipeProducerDispatcher struct {
	envelope
	core *dataPipeCore
}

// DataPipeConsumerDispatcher implements the consumer half of a data pipe.
type DataPipeConsumerDispatcher struct {
	envelope
	core *dataPipeCore
}

// NewDataPipe creates a connected producer/consumer pair backed by a fresh
// shared-memory ring of the given stride and capacity (rounded up to a
// multiple of stride, default 64 KiB).
func NewDataPipe(node *ports.Node, elementNumBytes, capacityNumBytes int) (*DataPipeProducerDispatcher, *DataPipeConsumerDispatcher, error) {
	if elementNumBytes <= 0 {
		elementNumBytes = 1
	}
	if capacityNumBytes <= 0 {
		capacityNumBytes = defaultCapacityNumBytes
	}
	if r := capacityNumBytes % elementNumBytes; r != 0 {
		capacityNumBytes += elementNumBytes - r
	}
	seg, err := createSegment(capacityNumBytes)
	if err != nil {
		return nil, nil, err
	}
	mem, err := mapSegment(seg.fd, 0, capacityNumBytes, true)
	if err != nil {
		return nil, nil, err
	}
	pp, pc := node.CreatePortPair()

	prodCore := &dataPipeCore{node: node, port: pp, fd: seg.fd, mem: mem, elementSize: elementNumBytes, capacity: capacityNumBytes, available: 0}
	consCore := &dataPipeCore{node: node, port: pc, fd: seg.fd, mem: mem, elementSize: elementNumBytes, capacity: capacityNumBytes, available: 0}

	prod := &DataPipeProducerDispatcher{envelope: newEnvelope(TypeDataPipeProducer), core: prodCore}
	cons := &DataPipeConsumerDispatcher{envelope: newEnvelope(TypeDataPipeConsumer), core: consCore}
	node.SetUserData(pp.Name, prodUserData{prod})
	node.SetUserData(pc.Name, consUserData{cons})
	return prod, cons, nil
}

// wrapReceivedDataPipeEnd reconstructs one endpoint after it arrived inside
// a message: the mapping is re-established on the relayed fd, and
// bookkeeping counters seed from the descriptor's Offset/Available fields.
func wrapReceivedDataPipeEnd(node *ports.Node, name util.PortName, state DataPipeState, fd int, typ Type) Dispatcher {
	mem, err := mapSegment(fd, 0, int(state.CapacityNumBytes), true)
	if err != nil {
		mem = nil
	}
	core := &dataPipeCore{
		node: node, port: &ports.Port{Name: name}, fd: fd, mem: mem,
		elementSize: int(state.ElementNumBytes), capacity: int(state.CapacityNumBytes),
		available: int(state.Available), peerClosed: state.Flags&1 != 0,
	}
	if typ == TypeDataPipeProducer {
		core.writeOffset = int(state.Offset)
		d := &DataPipeProducerDispatcher{envelope: newEnvelope(TypeDataPipeProducer), core: core}
		node.SetUserData(name, prodUserData{d})
		return d
	}
	core.readOffset = int(state.Offset)
	d := &DataPipeConsumerDispatcher{envelope: newEnvelope(TypeDataPipeConsumer), core: core}
	node.SetUserData(name, consUserData{d})
	return d
}

type prodUserData struct{ d *DataPipeProducerDispatcher }

func (u prodUserData) OnPortStatusChanged() {
	u.d.core.drainControl()
	u.d.envelope.refresh(u.d.signals(), true)
}

type consUserData struct{ d *DataPipeConsumerDispatcher }

func (u consUserData) OnPortStatusChanged() {
	u.d.core.drainControl()
	u.d.envelope.refresh(u.d.signals(), true)
}

func (d *DataPipeProducerDispatcher) signals() SignalsState {
	d.core.mu.Lock()
	defer d.core.mu.Unlock()
	var s SignalsState
	avail := d.core.capacity - d.core.available
	if avail > 0 && !d.core.twoPhaseOpen {
		s.Satisfied |= SignalSet(SignalWritable)
	}
	if d.core.peerClosed {
		s.Satisfied |= SignalSet(SignalPeerClosed)
		s.Satisfiable |= SignalSet(SignalPeerClosed)
	} else {
		s.Satisfiable |= SignalSet(SignalWritable) | SignalSet(SignalPeerClosed)
	}
	return s
}

// WriteData copies up to the available ring capacity.
func (d *DataPipeProducerDispatcher) WriteData(elements []byte, flags WriteFlags) (int, error) {
	c := d.core
	c.mu.Lock()
	if c.twoPhaseOpen {
		c.mu.Unlock()
		return 0, util.ErrBusy
	}
	if c.peerClosed {
		c.mu.Unlock()
		return 0, util.ErrFailedPrecondition
	}
	n := len(elements)
	if c.elementSize > 0 {
		n -= n % c.elementSize
	}
	availCap := c.capacity - c.available
	if n > availCap {
		if flags&WriteAllOrNone != 0 {
			c.mu.Unlock()
			return 0, util.ErrOutOfRange
		}
		n = availCap - availCap%c.elementSize
	}
	if n <= 0 {
		c.mu.Unlock()
		return 0, util.ErrShouldWait
	}
	d.copyIn(elements[:n])
	c.available += n
	c.mu.Unlock()
	return n, c.sendControl(opDataWasWritten, n)
}

func (d *DataPipeProducerDispatcher) copyIn(data []byte) {
	c := d.core
	for len(data) > 0 {
		chunk := c.capacity - c.writeOffset
		if chunk > len(data) {
			chunk = len(data)
		}
		copy(c.mem[c.writeOffset:c.writeOffset+chunk], data[:chunk])
		c.writeOffset = (c.writeOffset + chunk) % c.capacity
		data = data[chunk:]
	}
}

// BeginWriteData opens a two-phase write, returning the writable span
// starting at the current write offset (may be shorter than the full
// available capacity if it would wrap).
func (d *DataPipeProducerDispatcher) BeginWriteData() ([]byte, error) {
	c := d.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.twoPhaseOpen {
		return nil, util.ErrBusy
	}
	if c.peerClosed {
		return nil, util.ErrFailedPrecondition
	}
	availCap := c.capacity - c.available
	span := c.capacity - c.writeOffset
	if span > availCap {
		span = availCap
	}
	c.twoPhaseOpen = true
	return c.mem[c.writeOffset : c.writeOffset+span], nil
}

// EndWriteData commits n bytes of a previously opened two-phase write.
func (d *DataPipeProducerDispatcher) EndWriteData(n int) error {
	c := d.core
	c.mu.Lock()
	if !c.twoPhaseOpen {
		c.mu.Unlock()
		return util.ErrInvalidArgument
	}
	c.writeOffset = (c.writeOffset + n) % c.capacity
	c.available += n
	c.twoPhaseOpen = false
	c.mu.Unlock()
	return c.sendControl(opDataWasWritten, n)
}

func (d *DataPipeProducerDispatcher) GetHandleSignalsState() SignalsState { return d.signals() }
func (d *DataPipeProducerDispatcher) AddAwakable(a Awakable, signals SignalSet, context uint64) error {
	return d.envelope.addAwakable(a, signals, context, d.signals())
}
func (d *DataPipeProducerDispatcher) RemoveAwakable(a Awakable, context uint64) {
	d.envelope.removeAwakable(a, context)
}
func (d *DataPipeProducerDispatcher) Watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error {
	return d.envelope.watch(signals, cb, context, sched)
}
func (d *DataPipeProducerDispatcher) CancelWatch(context uint64) { d.envelope.cancelWatch(context) }

func (d *DataPipeProducerDispatcher) Close() error {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return util.ErrInvalidArgument
	}
	d.core.node.ClosePort(d.core.port.Name)
	notifyClosed(woken, watched)
	return nil
}

func (d *DataPipeProducerDispatcher) transitPort() *ports.Port { return d.core.transitPort() }

func (d *DataPipeProducerDispatcher) StartSerialize() (int, int, int) { return 28, 1, 1 }

func (d *DataPipeProducerDispatcher) EndSerialize() ([]byte, []util.PortName, []int, error) {
	d.core.mu.Lock()
	st := DataPipeState{
		ElementNumBytes: uint32(d.core.elementSize), CapacityNumBytes: uint32(d.core.capacity),
		Offset: uint32(d.core.writeOffset), Available: uint32(d.core.available),
	}
	if d.core.peerClosed {
		st.Flags = 1
	}
	d.core.mu.Unlock()
	b, err := data.Marshal(&st)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, []util.PortName{d.core.port.Name}, []int{d.core.fd}, nil
}

func (d *DataPipeProducerDispatcher) BeginTransit() error {
	if d.IsClosed() {
		return util.ErrInvalidArgument
	}
	d.envelope.mu.Lock()
	d.envelope.inTransit = true
	d.envelope.mu.Unlock()
	return nil
}
func (d *DataPipeProducerDispatcher) CancelTransit() {
	d.envelope.mu.Lock()
	d.envelope.inTransit = false
	d.envelope.mu.Unlock()
}
func (d *DataPipeProducerDispatcher) CompleteTransitAndClose() {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return
	}
	notifyClosed(woken, watched)
}

//----------------------------------------------------------------------
// Consumer
//----------------------------------------------------------------------

func (d *DataPipeConsumerDispatcher) signals() SignalsState {
	d.core.mu.Lock()
	defer d.core.mu.Unlock()
	var s SignalsState
	if d.core.available > 0 && !d.core.twoPhaseOpen {
		s.Satisfied |= SignalSet(SignalReadable)
	}
	if d.core.peerClosed {
		s.Satisfied |= SignalSet(SignalPeerClosed)
		s.Satisfiable |= SignalSet(SignalPeerClosed)
		if d.core.available > 0 {
			s.Satisfiable |= SignalSet(SignalReadable)
		}
	} else {
		s.Satisfiable |= SignalSet(SignalReadable) | SignalSet(SignalPeerClosed)
	}
	return s
}

// ReadData copies up to len(out) bytes, or just reports how many are
// available when flags carries ReadDataQuery.
func (d *DataPipeConsumerDispatcher) ReadData(out []byte, flags ReadDataFlags) (int, error) {
	c := d.core
	c.mu.Lock()
	if flags&ReadDataQuery != 0 {
		n := c.available
		c.mu.Unlock()
		return n, nil
	}
	if c.twoPhaseOpen {
		c.mu.Unlock()
		return 0, util.ErrBusy
	}
	n := len(out)
	if n > c.available {
		if flags&ReadDataAllOrNone != 0 {
			c.mu.Unlock()
			return 0, util.ErrOutOfRange
		}
		n = c.available
	}
	if n == 0 {
		peerClosed := c.peerClosed
		c.mu.Unlock()
		if peerClosed {
			return 0, util.ErrFailedPrecondition
		}
		return 0, util.ErrShouldWait
	}
	if flags&ReadDataPeek == 0 {
		d.copyOut(out[:n])
	} else {
		d.peekOut(out[:n])
	}
	// a plain read always consumes; a peek only consumes when paired with
	// Discard (peek-and-drop, for callers that want to skip bytes unread).
	if flags&ReadDataPeek == 0 || flags&ReadDataDiscard != 0 {
		c.available -= n
		c.readOffset = (c.readOffset + n) % c.capacity
		c.mu.Unlock()
		return n, c.sendControl(opDataWasRead, n)
	}
	c.mu.Unlock()
	return n, nil
}

func (d *DataPipeConsumerDispatcher) copyOut(out []byte) { d.peekOut(out) }

func (d *DataPipeConsumerDispatcher) peekOut(out []byte) {
	c := d.core
	off := c.readOffset
	for len(out) > 0 {
		chunk := c.capacity - off
		if chunk > len(out) {
			chunk = len(out)
		}
		copy(out[:chunk], c.mem[off:off+chunk])
		off = (off + chunk) % c.capacity
		out = out[chunk:]
	}
}

// BeginReadData opens a two-phase read over the currently available,
// contiguous span.
func (d *DataPipeConsumerDispatcher) BeginReadData() ([]byte, error) {
	c := d.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.twoPhaseOpen {
		return nil, util.ErrBusy
	}
	if c.available == 0 {
		if c.peerClosed {
			return nil, util.ErrFailedPrecondition
		}
		return nil, util.ErrShouldWait
	}
	span := c.capacity - c.readOffset
	if span > c.available {
		span = c.available
	}
	c.twoPhaseOpen = true
	return c.mem[c.readOffset : c.readOffset+span], nil
}

// EndReadData commits n consumed bytes of a previously opened two-phase
// read.
func (d *DataPipeConsumerDispatcher) EndReadData(n int) error {
	c := d.core
	c.mu.Lock()
	if !c.twoPhaseOpen {
		c.mu.Unlock()
		return util.ErrInvalidArgument
	}
	c.readOffset = (c.readOffset + n) % c.capacity
	c.available -= n
	c.twoPhaseOpen = false
	c.mu.Unlock()
	return c.sendControl(opDataWasRead, n)
}

func (d *DataPipeConsumerDispatcher) GetHandleSignalsState() SignalsState { return d.signals() }
func (d *DataPipeConsumerDispatcher) AddAwakable(a Awakable, signals SignalSet, context uint64) error {
	return d.envelope.addAwakable(a, signals, context, d.signals())
}
func (d *DataPipeConsumerDispatcher) RemoveAwakable(a Awakable, context uint64) {
	d.envelope.removeAwakable(a, context)
}
func (d *DataPipeConsumerDispatcher) Watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error {
	return d.envelope.watch(signals, cb, context, sched)
}
func (d *DataPipeConsumerDispatcher) CancelWatch(context uint64) { d.envelope.cancelWatch(context) }

func (d *DataPipeConsumerDispatcher) Close() error {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return util.ErrInvalidArgument
	}
	d.core.node.ClosePort(d.core.port.Name)
	notifyClosed(woken, watched)
	return nil
}

func (d *DataPipeConsumerDispatcher) transitPort() *ports.Port { return d.core.transitPort() }

func (d *DataPipeConsumerDispatcher) StartSerialize() (int, int, int) { return 28, 1, 1 }

func (d *DataPipeConsumerDispatcher) EndSerialize() ([]byte, []util.PortName, []int, error) {
	d.core.mu.Lock()
	st := DataPipeState{
		ElementNumBytes: uint32(d.core.elementSize), CapacityNumBytes: uint32(d.core.capacity),
		Offset: uint32(d.core.readOffset), Available: uint32(d.core.available),
	}
	if d.core.peerClosed {
		st.Flags = 1
	}
	d.core.mu.Unlock()
	b, err := data.Marshal(&st)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, []util.PortName{d.core.port.Name}, []int{d.core.fd}, nil
}

func (d *DataPipeConsumerDispatcher) BeginTransit() error {
	if d.IsClosed() {
		return util.ErrInvalidArgument
	}
	d.envelope.mu.Lock()
	d.envelope.inTransit = true
	d.envelope.mu.Unlock()
	return nil
}
func (d *DataPipeConsumerDispatcher) CancelTransit() {
	d.envelope.mu.Lock()
	d.envelope.inTransit = false
	d.envelope.mu.Unlock()
}
func (d *DataPipeConsumerDispatcher) CompleteTransitAndClose() {
	woken, watched, already := d.envelope.lockedClose()
	if already {
		return
	}
	notifyClosed(woken, watched)
}
