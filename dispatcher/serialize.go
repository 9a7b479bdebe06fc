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

// MessageHeader is the fixed prefix of a message payload that carries
// dispatchers.
type MessageHeader struct {
	NumDispatchers uint32 `order:"big"`
	HeaderSize     uint32 `order:"big"`
}

// DispatcherHeader describes one serialized dispatcher within a message
// payload.
type DispatcherHeader struct {
	Type               int32  `order:"big"`
	NumBytes           uint32 `order:"big"`
	NumPorts           uint32 `order:"big"`
	NumPlatformHandles uint32 `order:"big"`
}

// MessagePipeState is the per-type serialized state of a message pipe
// dispatcher: one port, no handles.
type MessagePipeState struct {
	PipeID   uint64 `order:"big"`
	Endpoint int8
	_pad     [7]byte
}

// DataPipeState is the per-type serialized state shared by producer and
// consumer dispatchers: one port, one platform handle.
type DataPipeState struct {
	ElementNumBytes  uint32 `order:"big"`
	CapacityNumBytes uint32 `order:"big"`
	PipeID           uint64 `order:"big"`
	Offset           uint32 `order:"big"` // read_offset (consumer) or write_offset (producer)
	Available        uint32 `order:"big"` // bytes_available or available_capacity
	Flags            uint8  // bit 0: peer_closed
	_pad             [3]byte
}

// SharedBufferState is the per-type serialized state of a shared buffer
// dispatcher: zero ports, one platform handle.
type SharedBufferState struct {
	NumBytes uint64 `order:"big"`
	Flags    uint32 `order:"big"` // bit 0: read_only
	_pad     uint32 `order:"big"`
}
