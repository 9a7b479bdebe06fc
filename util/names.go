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

// Package util holds small, dependency-light helpers shared across the
// ports, node controller, dispatcher and core layers.
package util

import (
	"github.com/google/uuid"
)

// NodeName identifies a single Ports node (one per process). It is a
// 128-bit value drawn from a cryptographically random source; the all-zero
// value is reserved as the invalid sentinel.
type NodeName uuid.UUID

// PortName identifies a port within its owning node. Same shape and same
// sentinel rules as NodeName.
type PortName uuid.UUID

// InvalidNodeName is the reserved all-zero sentinel.
var InvalidNodeName = NodeName(uuid.Nil)

// InvalidPortName is the reserved all-zero sentinel.
var InvalidPortName = PortName(uuid.Nil)

// NewNodeName draws a fresh random node name.
func NewNodeName() NodeName {
	return NodeName(uuid.New())
}

// NewPortName draws a fresh random port name.
func NewPortName() PortName {
	return PortName(uuid.New())
}

// IsValid reports whether n is not the invalid sentinel.
func (n NodeName) IsValid() bool { return n != InvalidNodeName }

// IsValid reports whether p is not the invalid sentinel.
func (p PortName) IsValid() bool { return p != InvalidPortName }

func (n NodeName) String() string { return uuid.UUID(n).String() }
func (p PortName) String() string { return uuid.UUID(p).String() }

// Bytes returns the 16-byte wire representation.
func (n NodeName) Bytes() []byte { b := uuid.UUID(n); return b[:] }

// Bytes returns the 16-byte wire representation.
func (p PortName) Bytes() []byte { b := uuid.UUID(p); return b[:] }

// NodeNameFromBytes parses a 16-byte wire representation.
func NodeNameFromBytes(b []byte) (n NodeName) {
	var u uuid.UUID
	copy(u[:], b)
	return NodeName(u)
}

// PortNameFromBytes parses a 16-byte wire representation.
func PortNameFromBytes(b []byte) (p PortName) {
	var u uuid.UUID
	copy(u[:], b)
	return PortName(u)
}

// PortRef names a port on a specific node: the (node, port) pair used
// throughout the Ports layer to address a peer, a proxy target or a
// referring port.
type PortRef struct {
	Node NodeName
	Port PortName
}

// IsValid reports whether both the node and port names are non-sentinel.
func (r PortRef) IsValid() bool { return r.Node.IsValid() && r.Port.IsValid() }

func (r PortRef) String() string {
	return r.Node.String() + "/" + r.Port.String()
}
