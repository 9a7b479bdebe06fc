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

	"mojoedk/util"
)

func TestWaitSetReportsReadyOnWrite(t *testing.T) {
	node := newTestNode()
	a, b := NewMessagePipePair(node)

	ws := NewWaitSet()
	if err := ws.AddWaitingDispatcher(b, SignalSet(SignalReadable), 42); err != nil {
		t.Fatalf("AddWaitingDispatcher: %s", err)
	}

	if cookies, _ := ws.GetReadyDispatchers(); len(cookies) != 0 {
		t.Fatalf("got %d ready before any write, want 0", len(cookies))
	}

	if err := a.WriteMessage([]byte("wake up"), nil); err != nil {
		t.Fatalf("WriteMessage: %s", err)
	}

	cookies, results := ws.GetReadyDispatchers()
	if len(cookies) != 1 || cookies[0] != 42 {
		t.Fatalf("got cookies %v, want [42]", cookies)
	}
	if results[0] != nil {
		t.Fatalf("got result %v, want nil", results[0])
	}

	// the ready queue drains on read; a second call with nothing new
	// queued since reports nothing.
	if cookies, _ := ws.GetReadyDispatchers(); len(cookies) != 0 {
		t.Fatalf("got %d ready after drain, want 0", len(cookies))
	}
}

func TestWaitSetRemoveWaitingDispatcher(t *testing.T) {
	node := newTestNode()
	_, b := NewMessagePipePair(node)
	ws := NewWaitSet()

	if err := ws.AddWaitingDispatcher(b, SignalSet(SignalReadable), 1); err != nil {
		t.Fatalf("AddWaitingDispatcher: %s", err)
	}
	if err := ws.RemoveWaitingDispatcher(1); err != nil {
		t.Fatalf("RemoveWaitingDispatcher: %s", err)
	}
	if err := ws.RemoveWaitingDispatcher(1); err != util.ErrNotFound {
		t.Fatalf("double remove: got %v, want ErrNotFound", err)
	}
}

func TestWaitSetRejectsDuplicateCookie(t *testing.T) {
	node := newTestNode()
	_, b := NewMessagePipePair(node)
	c, _ := NewMessagePipePair(node)
	ws := NewWaitSet()

	if err := ws.AddWaitingDispatcher(b, SignalSet(SignalReadable), 7); err != nil {
		t.Fatalf("AddWaitingDispatcher: %s", err)
	}
	if err := ws.AddWaitingDispatcher(c, SignalSet(SignalReadable), 7); err != util.ErrAlreadyExists {
		t.Fatalf("duplicate cookie: got %v, want ErrAlreadyExists", err)
	}
}

func TestWaitSetAddAlreadySatisfiedMarksReadyImmediately(t *testing.T) {
	node := newTestNode()
	a, b := NewMessagePipePair(node)
	if err := a.WriteMessage([]byte("already here"), nil); err != nil {
		t.Fatalf("WriteMessage: %s", err)
	}

	ws := NewWaitSet()
	if err := ws.AddWaitingDispatcher(b, SignalSet(SignalReadable), 99); err != nil {
		t.Fatalf("AddWaitingDispatcher: %s", err)
	}
	cookies, _ := ws.GetReadyDispatchers()
	if len(cookies) != 1 || cookies[0] != 99 {
		t.Fatalf("got cookies %v, want [99] (already-satisfied member should be instantly ready)", cookies)
	}
}
