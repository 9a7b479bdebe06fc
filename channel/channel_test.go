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
	"fmt"
	"os"
	"testing"
	"time"
)

func TestUnixChannelRoundTrip(t *testing.T) {
	sock := fmt.Sprintf("/tmp/mojoedk-test-%d.sock", os.Getpid())
	defer os.Remove(sock)

	accepted := make(chan Channel, 1)
	srv, err := NewServer("unix+"+sock, accepted)
	if err != nil {
		t.Fatalf("NewServer: %s", err)
	}
	defer srv.Close()

	cli, err := New("unix+" + sock)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer cli.Close()

	var peer Channel
	select {
	case peer = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted connection")
	}
	defer peer.Close()

	want := &Frame{MessageType: 7, Payload: []byte("hello mojo")}
	if err := cli.WriteFrame(want, nil); err != nil {
		t.Fatalf("WriteFrame: %s", err)
	}
	got, err := peer.ReadFrame(nil)
	if err != nil {
		t.Fatalf("ReadFrame: %s", err)
	}
	if got.MessageType != want.MessageType || string(got.Payload) != string(want.Payload) {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}
}

func TestTCPChannelRejectsHandles(t *testing.T) {
	accepted := make(chan Channel, 1)
	srv, err := NewServer("tcp+127.0.0.1:0", accepted)
	if err != nil {
		t.Fatalf("NewServer: %s", err)
	}
	defer srv.Close()

	f := &Frame{Handles: []Handle{3}}
	c := &tcpChannel{conn: nil}
	if err := c.WriteFrame(f, nil); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen on unopened channel, got %v", err)
	}
	_ = c

	cli, err := New("tcp+" + srv.(*tcpServer).ln.Addr().String())
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	defer cli.Close()
	if err := cli.WriteFrame(f, nil); err != ErrNoHandles {
		t.Fatalf("expected ErrNoHandles on open tcp channel, got %v", err)
	}
}

func TestFrameEncodePadding(t *testing.T) {
	f := &Frame{MessageType: 1, Payload: []byte("abc")}
	buf, err := f.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if (len(buf)-frameHeaderSize)%8 != 0 {
		t.Fatalf("payload not padded to 8 bytes: len=%d", len(buf))
	}
	hdr, err := DecodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.MessageType != 1 {
		t.Fatalf("message type mismatch: %d", hdr.MessageType)
	}
}
