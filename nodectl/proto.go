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

package nodectl

import (
	"encoding/binary"

	"mojoedk/ports"
	"mojoedk/util"

	"github.com/bfix/gospel/data"
)

// frame message types carried over a channel.Frame's MessageType field.
const (
	frameHello          uint16 = 1 // child/peer -> acceptor: "here is who I am"
	frameWelcome        uint16 = 2 // acceptor -> child/peer: "you are now known as X, I am Y"
	framePorts          uint16 = 3 // relayed ports.Message
	frameIntroduce      uint16 = 4 // broker -> two clients: "node X exists" (logged only; traffic stays relayed)
	frameLostPeer       uint16 = 5 // broker -> clients: "node X is gone"
	frameShutdown       uint16 = 6 // either side: "I am going away"
	frameBufferRequest  uint16 = 7 // child -> broker: "allocate me a shared buffer"
	frameBufferResponse uint16 = 8 // broker -> child: the allocated segment (or failure)
)

// helloWire and welcomeWire are small enough to be ordinary fixed-size
// structs for gospel/data (mirrors how the dispatcher package marshals its
// own fixed per-type state).
type helloWire struct {
	Name  [16]byte
	Token [16]byte // child connection token, zero if none was assigned
}

type welcomeWire struct {
	AssignedName [16]byte
	BrokerName   [16]byte
}

func marshalHello(name util.NodeName, token [16]byte) []byte {
	w := helloWire{Name: toArray(name.Bytes()), Token: token}
	b, _ := data.Marshal(&w)
	return b
}

func unmarshalHello(b []byte) (util.NodeName, [16]byte, error) {
	var w helloWire
	if err := data.Unmarshal(&w, b); err != nil {
		return util.InvalidNodeName, [16]byte{}, err
	}
	return util.NodeNameFromBytes(w.Name[:]), w.Token, nil
}

func marshalWelcome(assigned, broker util.NodeName) []byte {
	w := welcomeWire{AssignedName: toArray(assigned.Bytes()), BrokerName: toArray(broker.Bytes())}
	b, _ := data.Marshal(&w)
	return b
}

func unmarshalWelcome(b []byte) (assigned, broker util.NodeName, err error) {
	var w welcomeWire
	if err = data.Unmarshal(&w, b); err != nil {
		return
	}
	assigned = util.NodeNameFromBytes(w.AssignedName[:])
	broker = util.NodeNameFromBytes(w.BrokerName[:])
	return
}

func toArray(b []byte) (a [16]byte) {
	copy(a[:], b)
	return
}

// marshalIntroduce tells a broker client about a peer: the peer's name
// followed by a length-prefixed spec string, since gospel/data only covers
// fixed-size structs. Receivers log the introduction and do not dial.
func marshalIntroduce(peer util.NodeName, spec string) []byte {
	buf := make([]byte, 16+4+len(spec))
	copy(buf, peer.Bytes())
	binary.BigEndian.PutUint32(buf[16:], uint32(len(spec)))
	copy(buf[20:], spec)
	return buf
}

func unmarshalIntroduce(b []byte) (util.NodeName, string, error) {
	if len(b) < 20 {
		return util.InvalidNodeName, "", util.ErrDataLoss
	}
	n := binary.BigEndian.Uint32(b[16:20])
	if len(b) < 20+int(n) {
		return util.InvalidNodeName, "", util.ErrDataLoss
	}
	return util.NodeNameFromBytes(b[:16]), string(b[20 : 20+n]), nil
}

//----------------------------------------------------------------------
// ports.Message relay wire format
//----------------------------------------------------------------------

// relayHeader is the fixed prefix of a relayed ports message: everything
// except the variable-length port descriptor array and payload.
type relayHeader struct {
	DestNode     [16]byte // final node this message is addressed to; lets a broker relay sibling traffic instead of only accepting it for itself
	EventType    int32    `order:"big"`
	TargetPort   [16]byte
	ProxyNode    [16]byte
	ProxyPort    [16]byte
	LastSequence uint64 `order:"big"`
	NewPortName  [16]byte
	SequenceNum  uint64 `order:"big"`

	MFPortName      [16]byte
	MFPeerNode      [16]byte
	MFPeerPort      [16]byte
	MFReferringNode [16]byte
	MFReferringPort [16]byte
	MFNextSend      uint64 `order:"big"`
	MFNextRecv      uint64 `order:"big"`
	MFLastRecv      uint64 `order:"big"`
	MFPeerClosed    uint8
	_pad            [7]byte

	NumPorts   uint32 `order:"big"`
	PayloadLen uint32 `order:"big"`
}

// descriptorWire is the fixed-size wire form of one ports.PortDescriptor.
type descriptorWire struct {
	PortName         [16]byte
	PeerNode         [16]byte
	PeerPort         [16]byte
	ReferringNode    [16]byte
	ReferringPort    [16]byte
	NextSequenceSend uint64 `order:"big"`
	NextSequenceRecv uint64 `order:"big"`
	LastSequenceRecv uint64 `order:"big"`
	PeerClosed       uint8
	_pad             [7]byte
}

func encodeDescriptor(d ports.PortDescriptor) []byte {
	w := descriptorWire{
		PortName:         toArray(d.PortName.Bytes()),
		PeerNode:         toArray(d.PeerNodeName.Bytes()),
		PeerPort:         toArray(d.PeerPortName.Bytes()),
		ReferringNode:    toArray(d.ReferringNodeName.Bytes()),
		ReferringPort:    toArray(d.ReferringPortName.Bytes()),
		NextSequenceSend: d.NextSequenceToSend,
		NextSequenceRecv: d.NextSequenceToRecv,
		LastSequenceRecv: d.LastSequenceToRecv,
	}
	if d.PeerClosed {
		w.PeerClosed = 1
	}
	b, _ := data.Marshal(&w)
	return b
}

func decodeDescriptor(b []byte) (ports.PortDescriptor, error) {
	var w descriptorWire
	if err := data.Unmarshal(&w, b); err != nil {
		return ports.PortDescriptor{}, err
	}
	return ports.PortDescriptor{
		PortName:           util.PortNameFromBytes(w.PortName[:]),
		PeerNodeName:       util.NodeNameFromBytes(w.PeerNode[:]),
		PeerPortName:       util.PortNameFromBytes(w.PeerPort[:]),
		ReferringNodeName:  util.NodeNameFromBytes(w.ReferringNode[:]),
		ReferringPortName:  util.PortNameFromBytes(w.ReferringPort[:]),
		NextSequenceToSend: w.NextSequenceSend,
		NextSequenceToRecv: w.NextSequenceRecv,
		LastSequenceToRecv: w.LastSequenceRecv,
		PeerClosed:         w.PeerClosed != 0,
	}, nil
}

const descriptorWireSize = 16*5 + 8*3 + 1 + 7 // = 112

// encodeRelayMessage renders msg, addressed to destNode, as a frame
// payload. destNode travels with the message itself (not just implied by
// which link carries it) so a broker receiving it from one child can tell
// whether to accept it locally or relay it on to the child that actually
// owns it. The dispatcher-level OS handles inside msg.AttachedHandles
// travel separately, in the channel.Frame's Handles slice; the relay
// header does not record them, and their count is the frame header's
// NumHandles.
func encodeRelayMessage(destNode util.NodeName, msg *ports.Message) []byte {
	h := relayHeader{
		DestNode:     toArray(destNode.Bytes()),
		EventType:    int32(msg.Header.Type),
		TargetPort:   toArray(msg.Header.TargetPort.Bytes()),
		ProxyNode:    toArray(msg.Header.ProxyTarget.Node.Bytes()),
		ProxyPort:    toArray(msg.Header.ProxyTarget.Port.Bytes()),
		LastSequence: msg.Header.LastSequence,
		NewPortName:  toArray(msg.Header.NewPortName.Bytes()),
		SequenceNum:  msg.SequenceNum,

		MFPortName:      toArray(msg.Header.MergeFrom.PortName.Bytes()),
		MFPeerNode:      toArray(msg.Header.MergeFrom.PeerNodeName.Bytes()),
		MFPeerPort:      toArray(msg.Header.MergeFrom.PeerPortName.Bytes()),
		MFReferringNode: toArray(msg.Header.MergeFrom.ReferringNodeName.Bytes()),
		MFReferringPort: toArray(msg.Header.MergeFrom.ReferringPortName.Bytes()),
		MFNextSend:      msg.Header.MergeFrom.NextSequenceToSend,
		MFNextRecv:      msg.Header.MergeFrom.NextSequenceToRecv,
		MFLastRecv:      msg.Header.MergeFrom.LastSequenceToRecv,

		NumPorts:   uint32(len(msg.Ports)),
		PayloadLen: uint32(len(msg.Payload)),
	}
	if msg.Header.MergeFrom.PeerClosed {
		h.MFPeerClosed = 1
	}
	hb, _ := data.Marshal(&h)

	buf := make([]byte, 0, len(hb)+len(msg.Ports)*descriptorWireSize+len(msg.Payload))
	buf = append(buf, hb...)
	for _, d := range msg.Ports {
		buf = append(buf, encodeDescriptor(d)...)
	}
	buf = append(buf, msg.Payload...)
	return buf
}

// relayHeaderSize is relayHeader's fixed wire size: ten sixteen-byte name
// fields (including the destination node), five uint64 sequence fields,
// one int32, two uint32 counts, one flag byte and its 7 bytes of padding.
const relayHeaderSize = 220

func decodeRelayMessage(b []byte, handleFDs []int) (*ports.Message, util.NodeName, error) {
	var h relayHeader
	if len(b) < relayHeaderSize {
		return nil, util.InvalidNodeName, util.ErrDataLoss
	}
	if err := data.Unmarshal(&h, b[:relayHeaderSize]); err != nil {
		return nil, util.InvalidNodeName, err
	}
	off := relayHeaderSize
	descs := make([]ports.PortDescriptor, 0, h.NumPorts)
	for i := uint32(0); i < h.NumPorts; i++ {
		if len(b) < off+descriptorWireSize {
			return nil, util.InvalidNodeName, util.ErrDataLoss
		}
		d, err := decodeDescriptor(b[off : off+descriptorWireSize])
		if err != nil {
			return nil, util.InvalidNodeName, err
		}
		descs = append(descs, d)
		off += descriptorWireSize
	}
	if len(b) < off+int(h.PayloadLen) {
		return nil, util.InvalidNodeName, util.ErrDataLoss
	}
	payload := b[off : off+int(h.PayloadLen)]

	var attached []any
	for _, fd := range handleFDs {
		attached = append(attached, fd)
	}

	msg := &ports.Message{
		Header: ports.Header{
			Type:         ports.EventType(h.EventType),
			TargetPort:   util.PortNameFromBytes(h.TargetPort[:]),
			ProxyTarget:  util.PortRef{Node: util.NodeNameFromBytes(h.ProxyNode[:]), Port: util.PortNameFromBytes(h.ProxyPort[:])},
			LastSequence: h.LastSequence,
			NewPortName:  util.PortNameFromBytes(h.NewPortName[:]),
			MergeFrom: ports.PortDescriptor{
				PortName:           util.PortNameFromBytes(h.MFPortName[:]),
				PeerNodeName:       util.NodeNameFromBytes(h.MFPeerNode[:]),
				PeerPortName:       util.PortNameFromBytes(h.MFPeerPort[:]),
				ReferringNodeName:  util.NodeNameFromBytes(h.MFReferringNode[:]),
				ReferringPortName:  util.PortNameFromBytes(h.MFReferringPort[:]),
				NextSequenceToSend: h.MFNextSend,
				NextSequenceToRecv: h.MFNextRecv,
				LastSequenceToRecv: h.MFLastRecv,
				PeerClosed:         h.MFPeerClosed != 0,
			},
		},
		Ports:           descs,
		Payload:         payload,
		SequenceNum:     h.SequenceNum,
		AttachedHandles: attached,
	}
	return msg, util.NodeNameFromBytes(h.DestNode[:]), nil
}

//----------------------------------------------------------------------
// Broker-served shared buffers
//----------------------------------------------------------------------

// bufferRequestWire is a child's request for the broker to allocate a
// shared-memory segment on its behalf. requestID correlates the eventual
// bufferResponseWire, since a single link can carry several concurrent
// requests.
type bufferRequestWire struct {
	RequestID uint64 `order:"big"`
	NumBytes  uint64 `order:"big"`
}

type bufferResponseWire struct {
	RequestID uint64 `order:"big"`
	Ok        uint8
	_pad      [7]byte
}

func marshalBufferRequest(requestID uint64, numBytes uint64) []byte {
	w := bufferRequestWire{RequestID: requestID, NumBytes: numBytes}
	b, _ := data.Marshal(&w)
	return b
}

func unmarshalBufferRequest(b []byte) (requestID uint64, numBytes uint64, err error) {
	var w bufferRequestWire
	if err = data.Unmarshal(&w, b); err != nil {
		return
	}
	return w.RequestID, w.NumBytes, nil
}

func marshalBufferResponse(requestID uint64, ok bool) []byte {
	w := bufferResponseWire{RequestID: requestID}
	if ok {
		w.Ok = 1
	}
	b, _ := data.Marshal(&w)
	return b
}

func unmarshalBufferResponse(b []byte) (requestID uint64, ok bool, err error) {
	var w bufferResponseWire
	if err = data.Unmarshal(&w, b); err != nil {
		return
	}
	return w.RequestID, w.Ok != 0, nil
}
