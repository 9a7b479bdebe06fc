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
	"net"
	"strings"

	"github.com/bfix/gospel/concurrent"
)

func init() {
	Register("tcp", func() Channel { return &tcpChannel{} })
	RegisterServer("tcp", func() Server { return &tcpServer{} })
}

// tcpChannel is a stream-socket Channel used once two nodes have been
// introduced. It cannot carry attached handles (handle relay is a
// same-host/broker concern); WriteFrame rejects a frame with handles.
type tcpChannel struct {
	conn net.Conn
}

func newTCPChannelFromConn(c net.Conn) *tcpChannel { return &tcpChannel{conn: c} }

func (c *tcpChannel) Open(spec string) error {
	parts := strings.Split(spec, "+")
	if parts[0] != "tcp" {
		return ErrNotImplemented
	}
	conn, err := net.Dial("tcp", parts[1])
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *tcpChannel) Close() error {
	if c.conn == nil {
		return ErrNotOpen
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *tcpChannel) IsOpen() bool          { return c.conn != nil }
func (c *tcpChannel) CanCarryHandles() bool { return false }

func (c *tcpChannel) ReadFrame(sig *concurrent.Signaller) (*Frame, error) {
	if c.conn == nil {
		return nil, ErrNotOpen
	}
	result := make(chan readResult, 1)
	go func() {
		hdrBuf := make([]byte, frameHeaderSize)
		if _, err := readFullConn(c.conn, hdrBuf); err != nil {
			result <- readResult{nil, err}
			return
		}
		hdr, err := DecodeHeader(hdrBuf)
		if err != nil {
			result <- readResult{nil, err}
			return
		}
		payload := make([]byte, hdr.NumPayloadBytes)
		if _, err := readFullConn(c.conn, payload); err != nil {
			result <- readResult{nil, err}
			return
		}
		result <- readResult{&Frame{MessageType: hdr.MessageType, Payload: payload}, nil}
	}()

	if sig == nil {
		r := <-result
		return r.f, r.err
	}
	listener := sig.Listen()
	defer sig.Drop(listener)
	for {
		select {
		case x := <-listener:
			if v, ok := x.(bool); ok && v {
				c.conn.Close()
				return nil, ErrInterrupted
			}
		case r := <-result:
			return r.f, r.err
		}
	}
}

func (c *tcpChannel) WriteFrame(f *Frame, sig *concurrent.Signaller) error {
	if c.conn == nil {
		return ErrNotOpen
	}
	if len(f.Handles) > 0 {
		return ErrNoHandles
	}
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	result := make(chan error, 1)
	go func() {
		_, err := c.conn.Write(buf)
		result <- err
	}()
	if sig == nil {
		return <-result
	}
	listener := sig.Listen()
	defer sig.Drop(listener)
	for {
		select {
		case x := <-listener:
			if v, ok := x.(bool); ok && v {
				c.conn.Close()
				return ErrInterrupted
			}
		case err := <-result:
			return err
		}
	}
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

//----------------------------------------------------------------------
// tcpServer
//----------------------------------------------------------------------

type tcpServer struct {
	ln net.Listener
}

func (s *tcpServer) Open(spec string, hdlr chan<- Channel) error {
	parts := strings.Split(spec, "+")
	if parts[0] != "tcp" {
		return ErrNotImplemented
	}
	ln, err := net.Listen("tcp", parts[1])
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			hdlr <- newTCPChannelFromConn(conn)
		}
	}()
	return nil
}

func (s *tcpServer) Close() error {
	if s.ln == nil {
		return ErrNotOpen
	}
	return s.ln.Close()
}
