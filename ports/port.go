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

package ports

import (
	"sort"
	"sync"

	"mojoedk/util"
)

// State is a port's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReceived
	StateReceiving
	StateBuffering
	StateProxying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReceived:
		return "received"
	case StateReceiving:
		return "receiving"
	case StateBuffering:
		return "buffering"
	case StateProxying:
		return "proxying"
	case StateClosed:
		return "closed"
	default:
		return "?"
	}
}

// UserData is the opaque dispatcher back-reference attached to a port.
// It is a narrow function-object hook rather than an interface with
// many methods, matching the small single-purpose callback types used
// elsewhere for port status notification.
type UserData interface {
	// OnPortStatusChanged is invoked (without any Ports-layer lock held)
	// whenever the port's observable status may have changed: a new head
	// message arrived, or the peer closed.
	OnPortStatusChanged()
}

// Port is the unit of routing. Every field is guarded by mu except
// Name, which is immutable after construction.
type Port struct {
	mu sync.Mutex

	Name util.PortName
	Peer util.PortRef

	queue []*Message // ordered by SequenceNum, may contain gaps (buffered)

	NextSequenceToSend uint64
	NextSequenceToRecv uint64
	LastSequenceToRecv uint64 // valid only once PeerClosed
	PeerClosed         bool

	State State

	ProxyTo        util.PortRef
	ProxyAcked     bool   // true once ObserveProxyAck received
	ProxyAckedUpTo uint64 // last_seq from the ack

	Referring util.PortRef // port this one was transferred on behalf of

	Data UserData
}

// NewPort allocates a port in the given initial state.
func NewPort(name util.PortName, state State) *Port {
	return &Port{
		Name:               name,
		State:              state,
		NextSequenceToSend: 1,
		NextSequenceToRecv: 1,
	}
}

// Lock/Unlock expose the per-port lock to the Node, which must take it after
// the node-wide lock per the lock ordering hierarchy.
func (p *Port) Lock()   { p.mu.Lock() }
func (p *Port) Unlock() { p.mu.Unlock() }

// enqueue inserts msg into the receive queue in sequence-number order.
// Caller must hold p.mu. Returns true if msg became the new head (i.e. the
// port's observable status may have changed).
func (p *Port) enqueue(msg *Message) (becameHead bool) {
	if p.LastSequenceToRecv != 0 && msg.SequenceNum > p.LastSequenceToRecv {
		// peer closure already observed at an earlier sequence number;
		// drop messages that arrive after it.
		return false
	}
	wasEmpty := len(p.queue) == 0 || p.queue[0].SequenceNum != p.NextSequenceToRecv
	i := sort.Search(len(p.queue), func(i int) bool { return p.queue[i].SequenceNum >= msg.SequenceNum })
	if i < len(p.queue) && p.queue[i].SequenceNum == msg.SequenceNum {
		return false // duplicate, drop
	}
	p.queue = append(p.queue, nil)
	copy(p.queue[i+1:], p.queue[i:])
	p.queue[i] = msg
	nowReady := len(p.queue) > 0 && p.queue[0].SequenceNum == p.NextSequenceToRecv
	return wasEmpty && nowReady
}

// headReady reports whether the queue's head message is the next one to
// deliver (no gap).
func (p *Port) headReady() bool {
	return len(p.queue) > 0 && p.queue[0].SequenceNum == p.NextSequenceToRecv
}

// dequeue pops and returns the head message if it is ready to deliver.
func (p *Port) dequeue() *Message {
	if !p.headReady() {
		return nil
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]
	p.NextSequenceToRecv++
	return msg
}

// drain removes and returns every queued message, regardless of ordering
// (used by ClosePort).
func (p *Port) drain() []*Message {
	msgs := p.queue
	p.queue = nil
	return msgs
}

// readable mirrors the message-pipe READABLE signal rule: present
// iff there is a ready head message.
func (p *Port) readable() bool { return p.headReady() }

// readableSatisfiable mirrors "not peer-closed or queue non-empty".
func (p *Port) readableSatisfiable() bool { return !p.PeerClosed || len(p.queue) > 0 }
