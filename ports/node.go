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

// Package ports implements the routed, ordered, at-most-once message
// delivery fabric: an overlay graph of nodes
// connected by ports, with transparent proxy rewriting on port transfer.
// The package is pure logic -- it never touches the network; a Forwarder
// is handed in by the node controller to reach other nodes.
package ports

import (
	"bytes"
	"fmt"
	"sync"

	"mojoedk/util"

	"github.com/bfix/gospel/logger"
)

// Forwarder hands a message addressed to a remote node off to the node
// controller, which will encode it as a channel frame.
type Forwarder interface {
	ForwardToNode(dest util.NodeName, msg *Message) error
}

// Node owns a name->Port map under a single lock.
type Node struct {
	name util.NodeName

	mu    sync.Mutex // ports_lock: always acquired before any per-port lock
	ports map[util.PortName]*Port

	fwd Forwarder
}

// NewNode creates a ports node with the given local identity.
func NewNode(name util.NodeName, fwd Forwarder) *Node {
	return &Node{
		name:  name,
		ports: make(map[util.PortName]*Port),
		fwd:   fwd,
	}
}

// Name returns this node's identity.
func (n *Node) Name() util.NodeName { return n.name }

func (n *Node) lookup(name util.PortName) *Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ports[name]
}

// CreateUninitializedPort allocates a port record with no peer yet bound.
func (n *Node) CreateUninitializedPort() *Port {
	p := NewPort(util.NewPortName(), StateUninitialized)
	n.mu.Lock()
	n.ports[p.Name] = p
	n.mu.Unlock()
	return p
}

// InitializePort binds peer on a previously uninitialized port (its
// sequence counters keep the values NewPort gave them) and marks it
// receiving.
func (n *Node) InitializePort(p *Port, peer util.PortRef) {
	p.Lock()
	defer p.Unlock()
	p.Peer = peer
	p.State = StateReceiving
}

// CreatePortPair creates two local ports that are each other's peer.
func (n *Node) CreatePortPair() (a, b *Port) {
	a = n.CreateUninitializedPort()
	b = n.CreateUninitializedPort()
	n.InitializePort(a, util.PortRef{Node: n.name, Port: b.Name})
	n.InitializePort(b, util.PortRef{Node: n.name, Port: a.Name})
	return
}

// GetUserData returns the opaque dispatcher back-reference for a port.
func (n *Node) GetUserData(name util.PortName) UserData {
	p := n.lookup(name)
	if p == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	return p.Data
}

// SetUserData installs the opaque dispatcher back-reference for a port.
func (n *Node) SetUserData(name util.PortName, data UserData) {
	p := n.lookup(name)
	if p == nil {
		return
	}
	p.Lock()
	p.Data = data
	p.Unlock()
}

// Status is the snapshot returned by GetStatus.
type Status struct {
	HasMessages bool
	PeerClosed  bool
	State       State
}

// GetStatus reports a port's observable status.
func (n *Node) GetStatus(name util.PortName) (Status, error) {
	p := n.lookup(name)
	if p == nil {
		return Status{}, util.ErrInvalidArgument
	}
	p.Lock()
	defer p.Unlock()
	return Status{HasMessages: p.readable(), PeerClosed: p.PeerClosed, State: p.State}, nil
}

// MessageFilter lets GetMessage select which head messages to accept; nil
// accepts any.
type MessageFilter func(*Message) bool

// GetMessage dequeues the head message of port name if one is ready.
func (n *Node) GetMessage(name util.PortName, filter MessageFilter) (*Message, error) {
	p := n.lookup(name)
	if p == nil {
		return nil, util.ErrInvalidArgument
	}
	p.Lock()
	defer p.Unlock()
	if p.State == StateClosed {
		return nil, util.ErrInvalidArgument
	}
	if !p.headReady() {
		if p.PeerClosed {
			return nil, util.ErrFailedPrecondition
		}
		return nil, util.ErrShouldWait
	}
	if filter != nil && !filter(p.queue[0]) {
		return nil, util.ErrShouldWait
	}
	return p.dequeue(), nil
}

//----------------------------------------------------------------------
// Sending a user message
//----------------------------------------------------------------------

// SendMessage sends msg from port name to its peer. attach lists the local
// ports being transferred inside msg; SendMessage drives WillSendPort for
// each of them and fills in msg.Ports before handing the message to the
// local or remote destination.
func (n *Node) SendMessage(name util.PortName, msg *Message, attach []*Port) error {
	p := n.lookup(name)
	if p == nil {
		return util.ErrInvalidArgument
	}
	p.Lock()
	if p.State == StateClosed {
		p.Unlock()
		return util.ErrInvalidArgument
	}
	if p.PeerClosed {
		p.Unlock()
		return util.ErrFailedPrecondition
	}
	peer := p.Peer
	msg.Header.TargetPort = peer.Port
	msg.Header.Type = EventUser

	// Step 2: transfer any attached ports.
	descs := make([]PortDescriptor, 0, len(attach))
	for _, q := range attach {
		d, err := n.willSendPort(q, peer.Node)
		if err != nil {
			p.Unlock()
			return err
		}
		descs = append(descs, d)
	}
	msg.Ports = descs

	// Step 3: assign outbound sequence number.
	seq := p.NextSequenceToSend
	p.NextSequenceToSend++
	msg.SequenceNum = seq
	p.Unlock()

	// Step 4: local vs. remote delivery.
	if peer.Node == n.name {
		return n.ForwardMessage(peer.Node, msg)
	}
	if n.fwd == nil {
		return util.ErrUnavailable
	}
	return n.fwd.ForwardToNode(peer.Node, msg)
}

// ForwardMessage re-enters AcceptMessage for local delivery, or hands off
// to the Forwarder for a remote destination.
func (n *Node) ForwardMessage(dest util.NodeName, msg *Message) error {
	if dest == n.name {
		return n.AcceptMessage(msg)
	}
	if n.fwd == nil {
		return util.ErrUnavailable
	}
	return n.fwd.ForwardToNode(dest, msg)
}

//----------------------------------------------------------------------
// Transferring a port (WillSendPort)
//----------------------------------------------------------------------

// willSendPort converts q into a proxy pointed at a freshly-named port on
// destNode and returns the descriptor needed to reconstitute it there.
func (n *Node) willSendPort(q *Port, destNode util.NodeName) (PortDescriptor, error) {
	q.Lock()

	if q.State != StateReceiving {
		q.Unlock()
		return PortDescriptor{}, util.ErrInvalidArgument
	}

	newName := util.NewPortName()
	desc := PortDescriptor{
		PortName:           newName,
		PeerNodeName:       q.Peer.Node,
		PeerPortName:       q.Peer.Port,
		ReferringNodeName:  n.name,
		ReferringPortName:  q.Name,
		NextSequenceToSend: q.NextSequenceToSend,
		NextSequenceToRecv: q.NextSequenceToRecv,
		LastSequenceToRecv: q.LastSequenceToRecv,
		PeerClosed:         q.PeerClosed,
	}

	q.State = StateProxying
	q.ProxyTo = util.PortRef{Node: destNode, Port: newName}

	// Step 3: anything already queued here (received locally but not yet
	// dequeued by the owner) must follow the port to its new home instead
	// of being silently dropped -- splice it onward exactly as acceptUser
	// does for messages that arrive after the proxy conversion. Forwarding
	// can re-enter the node, so it happens after q unlocks.
	queued := q.queue
	q.queue = nil
	q.Unlock()

	for _, qmsg := range queued {
		fwd := &Message{
			Header:          Header{Type: EventUser, TargetPort: newName},
			Ports:           qmsg.Ports,
			Payload:         qmsg.Payload,
			SequenceNum:     qmsg.SequenceNum,
			AttachedHandles: qmsg.AttachedHandles,
		}
		if err := n.ForwardMessage(destNode, fwd); err != nil {
			logger.Printf(logger.WARN, "[ports] %s: re-homing queued msg seq=%d toward proxy failed: %s", newName, qmsg.SequenceNum, err)
		}
	}
	return desc, nil
}

//----------------------------------------------------------------------
// Accepting a message
//----------------------------------------------------------------------

// AcceptMessage is the entry point for inbound routing, whether the
// message originated locally or arrived from a remote node via the
// controller.
func (n *Node) AcceptMessage(msg *Message) error {
	switch msg.Header.Type {
	case EventUser:
		return n.acceptUser(msg)
	case EventPortAccepted:
		return n.acceptPortAccepted(msg)
	case EventObserveProxy:
		return n.acceptObserveProxy(msg)
	case EventObserveProxyAck:
		return n.acceptObserveProxyAck(msg)
	case EventObserveClosure:
		return n.acceptObserveClosure(msg)
	case EventMergePort:
		return n.acceptMergePort(msg)
	default:
		return fmt.Errorf("ports: unknown event type %v", msg.Header.Type)
	}
}

func (n *Node) acceptUser(msg *Message) error {
	p := n.lookup(msg.Header.TargetPort)
	if p == nil {
		// target already closed locally; peer will observe closure.
		logger.Printf(logger.DBG, "[ports] dropping User message for unknown port %s", msg.Header.TargetPort)
		return nil
	}
	p.Lock()

	if p.State == StateProxying {
		// splice-join: re-emit toward the proxy target with the sequence
		// number preserved end-to-end.
		target := p.ProxyTo
		p.Unlock()
		fwd := &Message{Header: Header{Type: EventUser, TargetPort: target.Port}, Ports: msg.Ports, Payload: msg.Payload, SequenceNum: msg.SequenceNum, AttachedHandles: msg.AttachedHandles}
		return n.ForwardMessage(target.Node, fwd)
	}

	becameHead := p.enqueue(msg)

	// materialize any transferred ports.
	for _, d := range msg.Ports {
		n.materializePort(d)
	}
	var data UserData
	changed := becameHead
	if changed {
		data = p.Data
	}
	p.Unlock()

	// emit PortAccepted back toward each transferred port's referring port.
	for _, d := range msg.Ports {
		n.sendPortAccepted(d)
	}

	if data != nil {
		data.OnPortStatusChanged()
	}
	return nil
}

// materializePort creates the local port named by d in the received state.
// Caller must NOT hold n.mu or any port lock with differing order; this
// takes n.mu internally.
func (n *Node) materializePort(d PortDescriptor) {
	n.mu.Lock()
	if _, exists := n.ports[d.PortName]; exists {
		n.mu.Unlock()
		return
	}
	p := &Port{
		Name:               d.PortName,
		Peer:               util.PortRef{Node: d.PeerNodeName, Port: d.PeerPortName},
		NextSequenceToSend: d.NextSequenceToSend,
		NextSequenceToRecv: d.NextSequenceToRecv,
		LastSequenceToRecv: d.LastSequenceToRecv,
		PeerClosed:         d.PeerClosed,
		State:              StateReceived,
		Referring:          util.PortRef{Node: d.ReferringNodeName, Port: d.ReferringPortName},
	}
	n.ports[p.Name] = p
	n.mu.Unlock()
}

func (n *Node) sendPortAccepted(d PortDescriptor) {
	msg := &Message{Header: Header{Type: EventPortAccepted, TargetPort: d.ReferringPortName, NewPortName: d.PortName}}
	if err := n.ForwardMessage(d.ReferringNodeName, msg); err != nil {
		logger.Printf(logger.WARN, "[ports] PortAccepted to %s failed: %s", d.ReferringPortName, err)
	}
}

func (n *Node) acceptPortAccepted(msg *Message) error {
	p := n.lookup(msg.Header.TargetPort)
	if p == nil {
		return nil
	}
	p.Lock()
	if p.State != StateProxying {
		p.Unlock()
		return nil
	}
	// State stays StateProxying: messages already begin splicing through
	// in acceptUser. What changes here is that the peer now learns where
	// to route next.
	proxyTo := p.ProxyTo
	peer := p.Peer
	p.Unlock()

	// send ObserveProxy to the peer informing it of the new route.
	obs := &Message{Header: Header{Type: EventObserveProxy, TargetPort: peer.Port, ProxyTarget: proxyTo}}
	return n.ForwardMessage(peer.Node, obs)
}

func (n *Node) acceptObserveProxy(msg *Message) error {
	p := n.lookup(msg.Header.TargetPort)
	if p == nil {
		return nil
	}
	p.Lock()
	oldPeer := p.Peer
	p.Peer = msg.Header.ProxyTarget
	lastSeq := p.NextSequenceToSend - 1
	p.Unlock()

	logger.Printf(logger.DBG, "[ports] %s: rewired peer %s -> %s", p.Name, oldPeer, p.Peer)

	ack := &Message{Header: Header{Type: EventObserveProxyAck, TargetPort: msg.Header.ProxyTarget.Port, LastSequence: lastSeq}}
	return n.ForwardMessage(msg.Header.ProxyTarget.Node, ack)
}

func (n *Node) acceptObserveProxyAck(msg *Message) error {
	p := n.lookup(msg.Header.TargetPort)
	if p == nil {
		return nil
	}
	p.Lock()
	p.ProxyAcked = true
	p.ProxyAckedUpTo = msg.Header.LastSequence
	shouldClose := p.State == StateProxying && p.NextSequenceToSend-1 >= p.ProxyAckedUpTo
	p.Unlock()

	if shouldClose {
		n.retireProxy(p.Name)
	}
	return nil
}

// retireProxy removes a fully-drained proxy (garbage collection).
func (n *Node) retireProxy(name util.PortName) {
	n.mu.Lock()
	p, ok := n.ports[name]
	if !ok {
		n.mu.Unlock()
		return
	}
	p.Lock()
	if p.State == StateProxying && p.NextSequenceToSend-1 <= p.ProxyAckedUpTo {
		p.State = StateClosed
		delete(n.ports, name)
	}
	p.Unlock()
	n.mu.Unlock()
}

func (n *Node) acceptObserveClosure(msg *Message) error {
	p := n.lookup(msg.Header.TargetPort)
	if p == nil {
		return nil
	}
	p.Lock()
	p.PeerClosed = true
	p.LastSequenceToRecv = msg.Header.LastSequence
	// drop anything queued past the announced last sequence number.
	kept := p.queue[:0]
	for _, m := range p.queue {
		if m.SequenceNum <= p.LastSequenceToRecv {
			kept = append(kept, m)
		}
	}
	p.queue = kept
	isProxy := p.State == StateProxying
	target := p.ProxyTo
	data := p.Data
	p.Unlock()

	if isProxy {
		fwd := &Message{Header: Header{Type: EventObserveClosure, TargetPort: target.Port, LastSequence: msg.Header.LastSequence}}
		return n.ForwardMessage(target.Node, fwd)
	}
	if data != nil {
		data.OnPortStatusChanged()
	}
	return nil
}

func (n *Node) acceptMergePort(msg *Message) error {
	n.materializePort(msg.Header.MergeFrom)
	return n.MergeLocalPorts(msg.Header.MergeFrom.PortName, msg.Header.TargetPort)
}

//----------------------------------------------------------------------
// Port merge
//----------------------------------------------------------------------

// MergeLocalPorts splices two local ports together: each one's peer is
// rewired to the other's peer, then both are closed. Precondition: neither
// port has sent or received anything yet.
func (n *Node) MergeLocalPorts(a, b util.PortName) error {
	pa := n.lookup(a)
	pb := n.lookup(b)
	if pa == nil || pb == nil {
		return util.ErrInvalidArgument
	}
	// lock order: by name, to avoid deadlocking symmetric merges.
	first, second := pa, pb
	if bytes.Compare(b.Bytes(), a.Bytes()) < 0 {
		first, second = pb, pa
	}
	first.Lock()
	second.Lock()

	fresh := func(p *Port) bool {
		return p.NextSequenceToSend == 1 && p.NextSequenceToRecv == 1 && len(p.queue) == 0
	}
	if !fresh(pa) || !fresh(pb) {
		second.Unlock()
		first.Unlock()
		n.ClosePort(a)
		n.ClosePort(b)
		return util.ErrFailedPrecondition
	}

	peerA, peerB := pa.Peer, pb.Peer
	// unbind so the ClosePort calls below do not send ObserveClosure to the
	// peers that are being spliced together.
	pa.Peer, pb.Peer = util.PortRef{}, util.PortRef{}
	second.Unlock()
	first.Unlock()

	rewire := func(target util.PortRef, newPeer util.PortRef) error {
		if target.Node == n.name {
			tp := n.lookup(target.Port)
			if tp == nil {
				return nil
			}
			tp.Lock()
			tp.Peer = newPeer
			tp.Unlock()
			return nil
		}
		obs := &Message{Header: Header{Type: EventObserveProxy, TargetPort: target.Port, ProxyTarget: newPeer}}
		return n.ForwardMessage(target.Node, obs)
	}

	err1 := rewire(peerA, peerB)
	err2 := rewire(peerB, peerA)

	n.ClosePort(a)
	n.ClosePort(b)

	if err1 != nil || err2 != nil {
		return util.ErrAborted
	}
	return nil
}

// MergePorts merges a local port with a port named on a remote node,
// identified only by name (the remote side supplies the descriptor via a
// MergePort event once it materializes its end).
func (n *Node) MergePorts(local util.PortName, remoteNode util.NodeName, remotePort util.PortName) error {
	p := n.lookup(local)
	if p == nil {
		return util.ErrInvalidArgument
	}
	p.Lock()
	desc := PortDescriptor{
		PortName:           p.Name,
		PeerNodeName:       p.Peer.Node,
		PeerPortName:       p.Peer.Port,
		NextSequenceToSend: p.NextSequenceToSend,
		NextSequenceToRecv: p.NextSequenceToRecv,
		PeerClosed:         p.PeerClosed,
	}
	p.Unlock()

	msg := &Message{Header: Header{Type: EventMergePort, TargetPort: remotePort, MergeFrom: desc}}
	return n.ForwardMessage(remoteNode, msg)
}

//----------------------------------------------------------------------
// Closure
//----------------------------------------------------------------------

// ClosePort closes P locally, draining its queue and notifying its peer.
func (n *Node) ClosePort(name util.PortName) error {
	n.mu.Lock()
	p, ok := n.ports[name]
	if !ok {
		n.mu.Unlock()
		return util.ErrInvalidArgument
	}
	delete(n.ports, name)
	n.mu.Unlock()

	p.Lock()
	if p.State == StateClosed {
		p.Unlock()
		return util.ErrInvalidArgument
	}
	p.State = StateClosed
	peer := p.Peer
	lastSeq := p.NextSequenceToSend - 1
	dropped := p.drain()
	p.Unlock()

	for _, m := range dropped {
		for _, d := range m.Ports {
			n.ClosePort(d.PortName)
		}
	}

	if !peer.IsValid() {
		return nil
	}
	closure := &Message{Header: Header{Type: EventObserveClosure, TargetPort: peer.Port, LastSequence: lastSeq}}
	return n.ForwardMessage(peer.Node, closure)
}

//----------------------------------------------------------------------
// Node loss
//----------------------------------------------------------------------

// LostConnectionToNode synthesizes ObserveClosure for every local port
// whose peer lived on the now-unreachable node.
func (n *Node) LostConnectionToNode(dead util.NodeName) {
	n.mu.Lock()
	affected := make([]*Port, 0)
	for _, p := range n.ports {
		p.Lock()
		if p.Peer.Node == dead || (p.State == StateProxying && p.ProxyTo.Node == dead) {
			affected = append(affected, p)
		}
		p.Unlock()
	}
	n.mu.Unlock()

	for _, p := range affected {
		p.Lock()
		if p.PeerClosed {
			p.Unlock()
			continue
		}
		p.PeerClosed = true
		p.LastSequenceToRecv = p.NextSequenceToRecv - 1
		data := p.Data
		p.Unlock()
		if data != nil {
			data.OnPortStatusChanged()
		}
		logger.Printf(logger.WARN, "[ports] %s: peer on lost node %s marked closed", p.Name, dead)
	}
}
