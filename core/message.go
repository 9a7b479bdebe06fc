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

package core

import "mojoedk/util"

// dispatcherHeaderSize mirrors dispatcher.DispatcherHeader's wire size:
// type, num_bytes, num_ports, num_platform_handles, each a 4-byte field.
const dispatcherHeaderSize = 16

// MessageForTransit stages an outgoing message before it is committed to a
// pipe: a payload buffer the caller fills in directly via GetMessageBuffer,
// plus the handles that will travel with it. AllocMessage/FreeMessage/
// GetMessageBuffer give callers a single object to build a message into
// instead of assembling a byte slice and a handle slice by hand.
type MessageForTransit struct {
	buf     []byte
	handles []Handle
	spent   bool
}

// AllocMessage reserves numBytes of payload capacity, plus the per-
// dispatcher serialization header overhead every handle in handles will
// need once committed, and records handles as the message's attachments.
// It does not remove handles from the table: they remain owned by the
// caller until a successful WriteMessageForTransit.
func AllocMessage(numBytes int, handles []Handle) (*MessageForTransit, error) {
	reserve := numBytes
	for _, h := range handles {
		d, ok := tbl.get(h)
		if !ok {
			return nil, util.ErrInvalidArgument
		}
		nb, _, _ := d.StartSerialize()
		reserve += nb + dispatcherHeaderSize
	}
	return &MessageForTransit{
		buf:     make([]byte, numBytes, reserve),
		handles: append([]Handle(nil), handles...),
	}, nil
}

// GetMessageBuffer returns the payload bytes for the caller to fill in.
// The returned slice aliases m's internal buffer; callers must not hold
// onto it past FreeMessage or a successful WriteMessageForTransit.
func (m *MessageForTransit) GetMessageBuffer() []byte {
	return m.buf
}

// FreeMessage discards a staged message that was never committed. The
// handles it would have attached were never removed from the table, so
// they remain valid and owned by the caller.
func FreeMessage(m *MessageForTransit) {
	m.spent = true
	m.buf = nil
	m.handles = nil
}

// WriteMessageForTransit commits m to the message pipe named by h: the
// payload and every attached dispatcher move into transit atomically, and
// on success each handle in m's attachment list is removed from the
// table. On failure m is untouched and every attached handle remains
// owned by the caller.
func WriteMessageForTransit(h Handle, m *MessageForTransit) error {
	if m.spent {
		return util.ErrInvalidArgument
	}
	if err := WriteMessage(h, m.buf, m.handles); err != nil {
		return err
	}
	m.spent = true
	return nil
}
