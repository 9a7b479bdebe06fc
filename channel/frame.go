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

package channel

import (
	"github.com/bfix/gospel/data"
)

// FrameHeader is the fixed-size prefix of every channel frame:
// "{ size, num_handles, message_type, num_payload_bytes, payload[],
// handle_metadata[] }". Every frame starts on an 8-byte boundary and
// num_payload_bytes is always a multiple of 8 (padding appended by the
// sender, stripped by the receiver).
type FrameHeader struct {
	Size            uint32 `order:"big"` // total frame size, header included
	NumHandles      uint16 `order:"big"`
	MessageType     uint16 `order:"big"`
	NumPayloadBytes uint32 `order:"big"`
	_pad            uint32 `order:"big"` // keeps the header itself 16 bytes / 8-byte aligned
}

const frameHeaderSize = 16

// Frame is a single boundary-preserving unit exchanged over a Channel.
type Frame struct {
	MessageType uint16
	Payload     []byte
	Handles     []Handle
}

func padLen(n int) int {
	if r := n % 8; r != 0 {
		return n + (8 - r)
	}
	return n
}

// Encode renders f into a byte slice ready to write to the wire (handles
// are carried out-of-band by the caller, not in this byte slice).
func (f *Frame) Encode() ([]byte, error) {
	padded := padLen(len(f.Payload))
	hdr := FrameHeader{
		Size:            uint32(frameHeaderSize + padded),
		NumHandles:      uint16(len(f.Handles)),
		MessageType:     f.MessageType,
		NumPayloadBytes: uint32(padded),
	}
	hb, err := data.Marshal(&hdr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(hb)+padded)
	copy(buf, hb)
	copy(buf[len(hb):], f.Payload)
	return buf, nil
}

// DecodeHeader parses a FrameHeader from its fixed-size wire encoding.
func DecodeHeader(b []byte) (*FrameHeader, error) {
	if len(b) < frameHeaderSize {
		return nil, ErrInterrupted
	}
	hdr := new(FrameHeader)
	if err := data.Unmarshal(hdr, b[:frameHeaderSize]); err != nil {
		return nil, err
	}
	return hdr, nil
}
