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

import "mojoedk/util"

// EventType is the header's event discriminator.
type EventType int

const (
	EventUser EventType = iota
	EventPortAccepted
	EventObserveProxy
	EventObserveProxyAck
	EventObserveClosure
	EventMergePort
)

func (t EventType) String() string {
	switch t {
	case EventUser:
		return "User"
	case EventPortAccepted:
		return "PortAccepted"
	case EventObserveProxy:
		return "ObserveProxy"
	case EventObserveProxyAck:
		return "ObserveProxyAck"
	case EventObserveClosure:
		return "ObserveClosure"
	case EventMergePort:
		return "MergePort"
	default:
		return "Unknown"
	}
}

// PortDescriptor carries everything needed to reconstitute a port on the
// receiving side of a transfer.
type PortDescriptor struct {
	PortName           util.PortName
	PeerNodeName       util.NodeName
	PeerPortName       util.PortName
	ReferringNodeName  util.NodeName
	ReferringPortName  util.PortName
	NextSequenceToSend uint64
	NextSequenceToRecv uint64
	LastSequenceToRecv uint64 // valid only if PeerClosed
	PeerClosed         bool
}

// Header is the system-defined section of a Message.
type Header struct {
	Type       EventType
	TargetPort util.PortName

	// event-specific fields, populated according to Type.
	ProxyTarget  util.PortRef // ObserveProxy: new route for the peer to use
	LastSequence uint64       // ObserveProxyAck / ObserveClosure
	NewPortName  util.PortName
	MergeFrom    PortDescriptor // MergePort: descriptor of the freshly-arriving port
}

// Message is an in-flight Ports-layer unit: header, zero or more transferred
// ports, and an opaque payload. SequenceNum is stamped by the sending
// port and is not part of the wire header proper (it lives on the port) but is carried here so AcceptMessage can order it without reaching
// back into the sender.
type Message struct {
	Header      Header
	Ports       []PortDescriptor
	Payload     []byte
	SequenceNum uint64

	// AttachedHandles is opaque to the Ports layer: it is threaded through
	// untouched so the node controller and channel layer can carry OS
	// handles alongside the byte payload.
	AttachedHandles []any
}

// NewUserMessage builds a User-event message bound for target.
func NewUserMessage(target util.PortName, payload []byte) *Message {
	return &Message{
		Header:  Header{Type: EventUser, TargetPort: target},
		Payload: payload,
	}
}
