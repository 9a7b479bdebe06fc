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
	"os"
	"strconv"
	"strings"

	"github.com/bfix/gospel/concurrent"
	"github.com/bfix/gospel/logger"
	"golang.org/x/sys/unix"
)

func init() {
	Register("unix", func() Channel { return &unixChannel{} })
	RegisterServer("unix", func() Server { return &unixServer{} })
}

// unixChannel is a stream-socket Channel that can carry attached file
// descriptors as ancillary SCM_RIGHTS data, the concrete realization of the
// "handles attached out-of-band" contract for same-host transport.
type unixChannel struct {
	conn *net.UnixConn
}

// newUnixChannelFromConn wraps an already-accepted connection.
func newUnixChannelFromConn(c *net.UnixConn) *unixChannel { return &unixChannel{conn: c} }

func (c *unixChannel) Open(spec string) error {
	parts := strings.Split(spec, "+")
	if parts[0] != "unix" {
		return ErrNotImplemented
	}
	raddr, err := net.ResolveUnixAddr("unix", parts[1])
	if err != nil {
		return err
	}
	conn, err := net.DialUnix("unix", nil, raddr)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *unixChannel) Close() error {
	if c.conn == nil {
		return ErrNotOpen
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *unixChannel) IsOpen() bool { return c.conn != nil }

func (c *unixChannel) CanCarryHandles() bool { return true }

type readResult struct {
	f   *Frame
	err error
}

func (c *unixChannel) ReadFrame(sig *concurrent.Signaller) (*Frame, error) {
	if c.conn == nil {
		return nil, ErrNotOpen
	}
	result := make(chan readResult, 1)
	go func() {
		f, err := c.readFrameBlocking()
		result <- readResult{f, err}
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

func (c *unixChannel) readFrameBlocking() (*Frame, error) {
	hdrBuf := make([]byte, frameHeaderSize)
	if _, err := readFull(c.conn, hdrBuf); err != nil {
		return nil, err
	}
	hdr, err := DecodeHeader(hdrBuf)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, hdr.NumPayloadBytes)

	var handles []Handle
	if hdr.NumHandles > 0 {
		oob := make([]byte, unix.CmsgSpace(int(hdr.NumHandles)*4))
		n, oobn, err := readFromUnixWithOOB(c.conn, payload, oob)
		if err != nil {
			return nil, err
		}
		payload = payload[:n]
		fds, err := parseFDs(oob[:oobn])
		if err != nil {
			return nil, err
		}
		for _, fd := range fds {
			handles = append(handles, Handle(fd))
		}
	} else {
		if _, err := readFull(c.conn, payload); err != nil {
			return nil, err
		}
	}
	return &Frame{MessageType: hdr.MessageType, Payload: payload, Handles: handles}, nil
}

func (c *unixChannel) WriteFrame(f *Frame, sig *concurrent.Signaller) error {
	if c.conn == nil {
		return ErrNotOpen
	}
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	result := make(chan error, 1)
	go func() {
		result <- c.writeFrameBlocking(buf, f.Handles)
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

func (c *unixChannel) writeFrameBlocking(buf []byte, handles []Handle) error {
	if len(handles) == 0 {
		_, err := c.conn.Write(buf)
		return err
	}
	fds := make([]int, len(handles))
	for i, h := range handles {
		fds[i] = int(h)
	}
	oob := unix.UnixRights(fds...)
	return writeToUnixWithOOB(c.conn, buf, oob)
}

func readFull(conn *net.UnixConn, buf []byte) (int, error) {
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

func parseFDs(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			return nil, err
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

//----------------------------------------------------------------------
// unixServer
//----------------------------------------------------------------------

type unixServer struct {
	ln *net.UnixListener
}

func (s *unixServer) Open(spec string, hdlr chan<- Channel) error {
	parts := strings.Split(spec, "+")
	if parts[0] != "unix" {
		return ErrNotImplemented
	}
	addr, err := net.ResolveUnixAddr("unix", parts[1])
	if err != nil {
		return err
	}
	_ = os.Remove(parts[1])
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	for _, param := range parts[2:] {
		frag := strings.SplitN(param, "=", 2)
		if frag[0] == "perm" && len(frag) == 2 {
			if perm, err := strconv.ParseInt(frag[1], 8, 32); err == nil {
				if err := os.Chmod(parts[1], os.FileMode(perm)); err != nil {
					logger.Printf(logger.ERROR, "[channel] chmod failed: %s", err)
				}
			}
		}
	}

	go func() {
		for {
			conn, err := ln.AcceptUnix()
			if err != nil {
				return
			}
			hdlr <- newUnixChannelFromConn(conn)
		}
	}()
	return nil
}

func (s *unixServer) Close() error {
	if s.ln == nil {
		return ErrNotOpen
	}
	return s.ln.Close()
}
