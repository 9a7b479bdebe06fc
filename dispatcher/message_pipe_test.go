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
	"testing"

	"mojoedk/ports"
	"mojoedk/util"
)

type noopForwarder struct{}

func (noopForwarder) ForwardToNode(dest util.NodeName, msg *ports.Message) error {
	return util.ErrUnavailable
}

func newTestNode() *ports.Node {
	return ports.NewNode(util.NewNodeName(), noopForwarder{})
}

func TestMessagePipeEcho(t *testing.T) {
	node := newTestNode()
	a, b := NewMessagePipePair(node)

	if err := a.WriteMessage([]byte("hello"), nil); err != nil {
		t.Fatalf("WriteMessage: %s", err)
	}
	body, attached, err := b.ReadMessage(0, 0, ReadNone)
	if err != nil {
		t.Fatalf("ReadMessage: %s", err)
	}
	if string(body) != "hello" {
		t.Fatalf("got body %q, want %q", body, "hello")
	}
	if len(attached) != 0 {
		t.Fatalf("got %d attached dispatchers, want 0", len(attached))
	}

	if _, _, err := b.ReadMessage(0, 0, ReadNone); err != util.ErrShouldWait {
		t.Fatalf("second read: got %v, want ErrShouldWait", err)
	}
}

func TestMessagePipeTransfersHandle(t *testing.T) {
	node := newTestNode()
	a, b := NewMessagePipePair(node)
	passenger1, passenger2 := NewMessagePipePair(node)

	if err := a.WriteMessage([]byte("carrying a pipe"), []Dispatcher{passenger1}); err != nil {
		t.Fatalf("WriteMessage: %s", err)
	}
	body, attached, err := b.ReadMessage(0, 0, ReadNone)
	if err != nil {
		t.Fatalf("ReadMessage: %s", err)
	}
	if string(body) != "carrying a pipe" {
		t.Fatalf("unexpected body %q", body)
	}
	if len(attached) != 1 {
		t.Fatalf("got %d attached dispatchers, want 1", len(attached))
	}
	received, ok := attached[0].(*MessagePipeDispatcher)
	if !ok {
		t.Fatalf("attached dispatcher is %T, want *MessagePipeDispatcher", attached[0])
	}

	if err := passenger2.WriteMessage([]byte("ping"), nil); err != nil {
		t.Fatalf("WriteMessage via transferred pipe: %s", err)
	}
	pingBody, _, err := received.ReadMessage(0, 0, ReadNone)
	if err != nil {
		t.Fatalf("ReadMessage on received endpoint: %s", err)
	}
	if string(pingBody) != "ping" {
		t.Fatalf("got %q, want %q", pingBody, "ping")
	}
}

func TestMessagePipeWriteAfterCloseFails(t *testing.T) {
	node := newTestNode()
	a, b := NewMessagePipePair(node)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	if err := a.WriteMessage([]byte("x"), nil); err != util.ErrInvalidArgument {
		t.Fatalf("WriteMessage after close: got %v, want ErrInvalidArgument", err)
	}
	_ = b
}

func TestMessagePipeReadMayDiscardOnOversizedPayload(t *testing.T) {
	node := newTestNode()
	a, b := NewMessagePipePair(node)

	if err := a.WriteMessage([]byte("0123456789"), nil); err != nil {
		t.Fatalf("WriteMessage: %s", err)
	}
	if _, _, err := b.ReadMessage(4, 0, ReadNone); err != util.ErrResourceExhausted {
		t.Fatalf("got %v, want ErrResourceExhausted", err)
	}

	if err := a.WriteMessage([]byte("0123456789"), nil); err != nil {
		t.Fatalf("WriteMessage: %s", err)
	}
	if _, _, err := b.ReadMessage(4, 0, ReadMayDiscard); err != util.ErrShouldWait {
		t.Fatalf("got %v, want ErrShouldWait", err)
	}
}
