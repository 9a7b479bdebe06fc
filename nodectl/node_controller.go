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

// Package nodectl implements the node controller layer: it owns a Channel
// to each reachable peer, relays serialized Ports messages across them, and
// drives the connection lifecycle (broker accepting children, a node
// dialing its broker) that the pure-logic ports package never sees.
//
// Every node in this implementation talks to exactly one broker process;
// a node never dials another node directly. The broker relays between its
// connected children, so the Ports-level "remote node" address space forms
// a star rather than an arbitrary mesh: a message between two siblings
// always makes two hops, child-to-broker then broker-to-child, with the
// broker's readLoop re-forwarding anything not addressed to its own ports
// node. This trades away direct peer-to-peer shortcuts for a controller
// simple enough to reason about -- a deliberate simplification, not an
// oversight (see the design notes).
package nodectl

import (
	"crypto/rand"
	"sync"

	"mojoedk/channel"
	"mojoedk/dispatcher"
	"mojoedk/ports"
	"mojoedk/util"

	"github.com/bfix/gospel/concurrent"
	"github.com/bfix/gospel/logger"
)

// peerLink is one connected Channel and the node name on its far end.
type peerLink struct {
	name   util.NodeName
	ch     channel.Channel
	sig    *concurrent.Signaller
	sendMu sync.Mutex
}

func (l *peerLink) send(msgType uint16, payload []byte, handles []channel.Handle) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return l.ch.WriteFrame(&channel.Frame{MessageType: msgType, Payload: payload, Handles: handles}, l.sig)
}

// bufferWaiter is how RequestSharedBuffer blocks for a broker's response to
// a frameBufferRequest it sent.
type bufferWaiter chan bufferResult

type bufferResult struct {
	fd  int
	err error
}

// Controller wires a ports.Node to one or more Channels. A broker accepts
// connections from children; a plain node dials exactly one broker.
type Controller struct {
	node     *ports.Node
	isBroker bool

	mu         sync.Mutex
	peers      map[util.NodeName]*peerLink
	pending    map[util.NodeName][]*ports.Message // queued while a named peer isn't linked yet
	reserved   map[[16]byte]*ports.Port           // launch tokens -> pre-created local port
	brokerLink *peerLink                          // non-broker only: the single link every relay, direct or not, travels over
	shutdown   bool
	shutdownCh chan struct{}

	bufReqSeq  uint64
	bufWaiters map[uint64]bufferWaiter

	servers []channel.Server
}

// NewBroker creates a controller that will accept connections from child
// nodes. name is the broker's own Ports node identity.
func NewBroker(name util.NodeName) *Controller {
	c := &Controller{
		isBroker:   true,
		peers:      make(map[util.NodeName]*peerLink),
		pending:    make(map[util.NodeName][]*ports.Message),
		reserved:   make(map[[16]byte]*ports.Port),
		bufWaiters: make(map[uint64]bufferWaiter),
		shutdownCh: make(chan struct{}),
	}
	c.node = ports.NewNode(name, c)
	return c
}

// NewNode creates a controller for a non-broker process that will dial a
// broker via ConnectToParent.
func NewNode(name util.NodeName) *Controller {
	c := &Controller{
		isBroker:   false,
		peers:      make(map[util.NodeName]*peerLink),
		pending:    make(map[util.NodeName][]*ports.Message),
		reserved:   make(map[[16]byte]*ports.Port),
		bufWaiters: make(map[uint64]bufferWaiter),
		shutdownCh: make(chan struct{}),
	}
	c.node = ports.NewNode(name, c)
	return c
}

// Node returns the Ports-layer node this controller drives.
func (c *Controller) Node() *ports.Node { return c.node }

//----------------------------------------------------------------------
// ports.Forwarder
//----------------------------------------------------------------------

// ForwardToNode implements ports.Forwarder: it relays msg to dest over
// dest's Channel if one is directly linked (a broker's child, or this
// node's broker when dest happens to be it). Otherwise, for a non-broker
// node, it hands msg to its single broker link for onward relay -- the
// broker's own readLoop will re-relay it to the sibling that owns dest once
// it arrives, since every cross-child message makes two hops over this
// star topology. A broker with no direct link for dest queues the message
// (bounded) until a later AcceptChild links that name.
func (c *Controller) ForwardToNode(dest util.NodeName, msg *ports.Message) error {
	c.mu.Lock()
	if link, ok := c.peers[dest]; ok {
		c.mu.Unlock()
		return c.relaySend(dest, link, msg)
	}
	if !c.isBroker && c.brokerLink != nil {
		link := c.brokerLink
		c.mu.Unlock()
		return c.relaySend(dest, link, msg)
	}
	if len(c.pending[dest]) >= 256 {
		c.mu.Unlock()
		return util.ErrResourceExhausted
	}
	c.pending[dest] = append(c.pending[dest], msg)
	c.mu.Unlock()
	return nil
}

func (c *Controller) relaySend(dest util.NodeName, link *peerLink, msg *ports.Message) error {
	payload := encodeRelayMessage(dest, msg)
	handles := make([]channel.Handle, 0, len(msg.AttachedHandles))
	for _, h := range msg.AttachedHandles {
		if fd, ok := h.(int); ok {
			handles = append(handles, channel.Handle(fd))
		}
	}
	return link.send(framePorts, payload, handles)
}

func (c *Controller) flushPending(name util.NodeName, link *peerLink) {
	c.mu.Lock()
	queued := c.pending[name]
	delete(c.pending, name)
	c.mu.Unlock()
	for _, msg := range queued {
		if err := c.relaySend(name, link, msg); err != nil {
			logger.Printf(logger.WARN, "[nodectl] dropped queued message to %s: %s", name, err)
		}
	}
}

//----------------------------------------------------------------------
// Broker side: accepting children
//----------------------------------------------------------------------

// ListenForChildren starts a channel server at spec and links every
// incoming connection after it completes the Hello/Welcome handshake.
func (c *Controller) ListenForChildren(spec string) error {
	accepted := make(chan channel.Channel, 8)
	srv, err := channel.NewServer(spec, accepted)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.servers = append(c.servers, srv)
	c.mu.Unlock()
	go func() {
		for ch := range accepted {
			if err := c.acceptChild(ch); err != nil {
				logger.Printf(logger.WARN, "[nodectl] child handshake failed: %s", err)
				ch.Close()
			}
		}
	}()
	return nil
}

// ReserveChildPort pre-creates a local port and a one-time launch token a
// not-yet-spawned child can present in its Hello. acceptChild consumes a
// presented token and drops the reservation; the reserved port is not
// merged with or handed to anything on the child's side.
func (c *Controller) ReserveChildPort() (*ports.Port, [16]byte) {
	p := c.node.CreateUninitializedPort()
	var token [16]byte
	rand.Read(token[:])
	c.mu.Lock()
	c.reserved[token] = p
	c.mu.Unlock()
	return p, token
}

func (c *Controller) consumeToken(token [16]byte) (*ports.Port, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.reserved[token]
	if ok {
		delete(c.reserved, token)
	}
	return p, ok
}

func (c *Controller) acceptChild(ch channel.Channel) error {
	f, err := ch.ReadFrame(nil)
	if err != nil {
		return err
	}
	if f.MessageType != frameHello {
		return util.ErrInvalidArgument
	}
	proposed, token, err := unmarshalHello(f.Payload)
	if err != nil {
		return err
	}
	name := proposed
	if !name.IsValid() {
		name = util.NewNodeName()
	}
	if token != ([16]byte{}) {
		if _, ok := c.consumeToken(token); !ok {
			logger.Printf(logger.WARN, "[nodectl] child presented unknown launch token")
		}
	}

	link := &peerLink{name: name, ch: ch, sig: concurrent.NewSignaller()}
	c.mu.Lock()
	c.peers[name] = link
	c.mu.Unlock()

	if err := link.send(frameWelcome, marshalWelcome(name, c.node.Name()), nil); err != nil {
		return err
	}
	go c.readLoop(link)
	c.flushPending(name, link)
	logger.Printf(logger.INFO, "[nodectl] child %s connected", name)
	return nil
}

//----------------------------------------------------------------------
// Node side: connecting to a broker
//----------------------------------------------------------------------

// ConnectToParent dials spec, announces this node's identity (with an
// optional launch token) and blocks until the broker's Welcome arrives.
func (c *Controller) ConnectToParent(spec string, token [16]byte) error {
	ch, err := channel.New(spec)
	if err != nil {
		return err
	}
	link := &peerLink{ch: ch, sig: concurrent.NewSignaller()}
	if err := link.send(frameHello, marshalHello(c.node.Name(), token), nil); err != nil {
		ch.Close()
		return err
	}
	f, err := ch.ReadFrame(nil)
	if err != nil {
		ch.Close()
		return err
	}
	if f.MessageType != frameWelcome {
		ch.Close()
		return util.ErrInvalidArgument
	}
	_, brokerName, err := unmarshalWelcome(f.Payload)
	if err != nil {
		ch.Close()
		return err
	}
	link.name = brokerName
	c.mu.Lock()
	c.peers[brokerName] = link
	c.brokerLink = link
	c.mu.Unlock()
	go c.readLoop(link)
	logger.Printf(logger.INFO, "[nodectl] connected to broker %s", brokerName)
	return nil
}

//----------------------------------------------------------------------
// Shared read loop
//----------------------------------------------------------------------

func (c *Controller) readLoop(link *peerLink) {
	defer c.onPeerLost(link)
	for {
		f, err := link.ch.ReadFrame(link.sig)
		if err != nil {
			return
		}
		switch f.MessageType {
		case framePorts:
			fds := make([]int, len(f.Handles))
			for i, h := range f.Handles {
				fds[i] = int(h)
			}
			msg, dest, err := decodeRelayMessage(f.Payload, fds)
			if err != nil {
				logger.Printf(logger.WARN, "[nodectl] malformed relay message from %s: %s", link.name, err)
				continue
			}
			c.routeRelayed(link, dest, msg)
		case frameIntroduce:
			peer, _, err := unmarshalIntroduce(f.Payload)
			if err == nil {
				logger.Printf(logger.DBG, "[nodectl] introduced to %s (relayed via %s)", peer, link.name)
			}
		case frameLostPeer:
			dead, _, err := unmarshalIntroduce(f.Payload)
			if err == nil {
				c.node.LostConnectionToNode(dead)
			}
		case frameBufferRequest:
			reqID, numBytes, err := unmarshalBufferRequest(f.Payload)
			if err != nil {
				logger.Printf(logger.WARN, "[nodectl] malformed buffer request from %s: %s", link.name, err)
				continue
			}
			c.serveBufferRequest(link, reqID, int(numBytes))
		case frameBufferResponse:
			reqID, ok, err := unmarshalBufferResponse(f.Payload)
			if err != nil {
				logger.Printf(logger.WARN, "[nodectl] malformed buffer response from %s: %s", link.name, err)
				continue
			}
			c.completeBufferWait(reqID, ok, f.Handles)
		case frameShutdown:
			return
		}
	}
}

// routeRelayed dispatches a message that just arrived over link to its
// final destination. A dest that names this controller's own ports node
// (or carries no destination at all, which only happens on direct
// node-to-node links that predate the broker-relay protocol) is delivered
// locally; anything else is handed back to ForwardToNode so a broker can
// relay it on to the sibling that actually owns it.
func (c *Controller) routeRelayed(link *peerLink, dest util.NodeName, msg *ports.Message) {
	if !dest.IsValid() || dest == c.node.Name() {
		if err := c.node.AcceptMessage(msg); err != nil {
			logger.Printf(logger.WARN, "[nodectl] AcceptMessage from %s: %s", link.name, err)
		}
		return
	}
	if err := c.ForwardToNode(dest, msg); err != nil {
		logger.Printf(logger.WARN, "[nodectl] relay from %s to %s failed: %s", link.name, dest, err)
	}
}

func (c *Controller) onPeerLost(link *peerLink) {
	c.mu.Lock()
	if c.peers[link.name] == link {
		delete(c.peers, link.name)
	}
	c.mu.Unlock()
	if link.name.IsValid() {
		c.node.LostConnectionToNode(link.name)
		logger.Printf(logger.WARN, "[nodectl] lost peer %s", link.name)
		if c.isBroker {
			c.notifyPeersOfLoss(link.name)
		}
	}
}

// notifyPeersOfLoss tells every other connected child that a node is gone,
// so their locally proxied ports can be retired instead of waiting on a
// message that will never arrive.
func (c *Controller) notifyPeersOfLoss(dead util.NodeName) {
	c.mu.Lock()
	links := make([]*peerLink, 0, len(c.peers))
	for _, l := range c.peers {
		links = append(links, l)
	}
	c.mu.Unlock()
	payload := marshalIntroduce(dead, "")
	for _, l := range links {
		if err := l.send(frameLostPeer, payload, nil); err != nil {
			logger.Printf(logger.WARN, "[nodectl] failed to tell %s about lost peer %s: %s", l.name, dead, err)
		}
	}
}

//----------------------------------------------------------------------
// Introduce / shutdown
//----------------------------------------------------------------------

// Introduce lets two of the broker's children learn each other's node
// name. Message delivery between them still flows through the broker's
// relay; this only seeds application-level peer discovery.
func (c *Controller) Introduce(a, b util.NodeName) error {
	c.mu.Lock()
	la, oka := c.peers[a]
	lb, okb := c.peers[b]
	c.mu.Unlock()
	if !oka || !okb {
		return util.ErrNotFound
	}
	if err := la.send(frameIntroduce, marshalIntroduce(b, ""), nil); err != nil {
		return err
	}
	return lb.send(frameIntroduce, marshalIntroduce(a, ""), nil)
}

// RequestShutdown tells every linked peer this controller is going away,
// then closes its channels and servers.
func (c *Controller) RequestShutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	links := make([]*peerLink, 0, len(c.peers))
	for _, l := range c.peers {
		links = append(links, l)
	}
	servers := c.servers
	c.mu.Unlock()

	for _, l := range links {
		l.send(frameShutdown, nil, nil)
		l.ch.Close()
	}
	for _, s := range servers {
		s.Close()
	}
	close(c.shutdownCh)
}

// Done is closed once RequestShutdown has run.
func (c *Controller) Done() <-chan struct{} { return c.shutdownCh }

//----------------------------------------------------------------------
// Broker-served shared buffers (core.BufferBroker)
//----------------------------------------------------------------------

// RequestSharedBuffer implements core.BufferBroker. The broker serves the
// request directly out of its own dispatcher package; every other node
// round-trips a frameBufferRequest/frameBufferResponse pair over its single
// broker link, since SPEC_FULL's broker-served buffer design gives no node
// a local fast path.
func (c *Controller) RequestSharedBuffer(numBytes int) (int, error) {
	if c.isBroker {
		seg, err := dispatcher.CreateRawSharedSegment(numBytes)
		if err != nil {
			return 0, err
		}
		return seg, nil
	}

	c.mu.Lock()
	link := c.brokerLink
	if link == nil {
		c.mu.Unlock()
		return 0, util.ErrFailedPrecondition
	}
	c.bufReqSeq++
	reqID := c.bufReqSeq
	wait := make(bufferWaiter, 1)
	c.bufWaiters[reqID] = wait
	c.mu.Unlock()

	if err := link.send(frameBufferRequest, marshalBufferRequest(reqID, uint64(numBytes)), nil); err != nil {
		c.mu.Lock()
		delete(c.bufWaiters, reqID)
		c.mu.Unlock()
		return 0, err
	}

	res := <-wait
	return res.fd, res.err
}

// serveBufferRequest is the broker side of RequestSharedBuffer: it creates
// a fresh segment, hands its fd across link, and closes its own copy once
// sent -- the segment lives on in the requester's duplicated descriptor,
// the broker keeps no reference to it.
func (c *Controller) serveBufferRequest(link *peerLink, reqID uint64, numBytes int) {
	fd, err := dispatcher.CreateRawSharedSegment(numBytes)
	if err != nil {
		logger.Printf(logger.WARN, "[nodectl] buffer request from %s failed: %s", link.name, err)
		if sendErr := link.send(frameBufferResponse, marshalBufferResponse(reqID, false), nil); sendErr != nil {
			logger.Printf(logger.WARN, "[nodectl] failed to tell %s about failed buffer request: %s", link.name, sendErr)
		}
		return
	}
	err = link.send(frameBufferResponse, marshalBufferResponse(reqID, true), []channel.Handle{channel.Handle(fd)})
	if err != nil {
		logger.Printf(logger.WARN, "[nodectl] failed to deliver shared buffer to %s: %s", link.name, err)
	}
	if err := dispatcher.CloseRawSegment(fd); err != nil {
		logger.Printf(logger.WARN, "[nodectl] closing served buffer fd: %s", err)
	}
}

// completeBufferWait resolves the RequestSharedBuffer call blocked on reqID
// with the broker's response.
func (c *Controller) completeBufferWait(reqID uint64, ok bool, handles []channel.Handle) {
	c.mu.Lock()
	wait, found := c.bufWaiters[reqID]
	delete(c.bufWaiters, reqID)
	c.mu.Unlock()
	if !found {
		logger.Printf(logger.WARN, "[nodectl] buffer response for unknown request %d", reqID)
		return
	}
	if !ok || len(handles) == 0 {
		wait <- bufferResult{err: util.ErrFailedPrecondition}
		return
	}
	wait <- bufferResult{fd: int(handles[0])}
}
