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

// Package channel implements the bidirectional byte+handle transport
// between two node processes: a framed, boundary-preserving stream with
// OS handles attached out-of-band. The Channel interface and its protocol
// registry follow a pluggable-transport-factory design, so new protocols
// register themselves via Register/RegisterServer instead of the package
// hard-coding a fixed set.
package channel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bfix/gospel/concurrent"
)

// Errors returned by channel operations.
var (
	ErrNotImplemented = fmt.Errorf("channel: protocol not implemented")
	ErrNotOpen        = fmt.Errorf("channel: not open")
	ErrInterrupted    = fmt.Errorf("channel: interrupted")
	ErrNoHandles      = fmt.Errorf("channel: this transport cannot carry handles")
)

// Handle is a transport-opaque OS resource attached to a frame: on POSIX it
// wraps a file descriptor; other platforms would wrap their own primitive.
// Kept as an int to stay allocation-free; ownership transfers to the
// receiver once a frame is delivered.
type Handle int

// Channel is a bidirectional transport carrying framed messages with
// attached handles. Implementations are platform-specific; this package
// ships "unix" (stream socket, handle-capable via SCM_RIGHTS) and "tcp"
// (stream socket, not handle-capable).
type Channel interface {
	Open(spec string) error
	Close() error
	IsOpen() bool

	// ReadFrame blocks for the next frame. sig lets callers interrupt a
	// blocked read (mirrors transport.NetworkChannel.Read's cancellation).
	ReadFrame(sig *concurrent.Signaller) (*Frame, error)
	// WriteFrame sends a complete frame, attached handles included.
	WriteFrame(f *Frame, sig *concurrent.Signaller) error

	// CanCarryHandles reports whether WriteFrame honors f.Handles.
	CanCarryHandles() bool
}

// Factory instantiates a Channel implementation.
type Factory func() Channel

var (
	mu       sync.Mutex
	registry = map[string]Factory{}
)

// Register adds a channel implementation under a protocol prefix ("unix",
// "tcp", ...). Called from each transport's init().
func Register(proto string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[proto] = f
}

// New creates and opens a client channel to spec ("proto+address", e.g.
// "unix+/tmp/mojo.sock" or "tcp+127.0.0.1:9000").
func New(spec string) (Channel, error) {
	proto, _, _ := splitSpec(spec)
	mu.Lock()
	f, ok := registry[proto]
	mu.Unlock()
	if !ok {
		return nil, ErrNotImplemented
	}
	ch := f()
	if err := ch.Open(spec); err != nil {
		return nil, err
	}
	return ch, nil
}

// Server listens for inbound channels and hands each accepted connection to
// hdlr as it is established.
type Server interface {
	Open(spec string, hdlr chan<- Channel) error
	Close() error
}

// ServerFactory instantiates a Server implementation.
type ServerFactory func() Server

var serverRegistry = map[string]ServerFactory{}

// RegisterServer adds a channel server implementation under a protocol
// prefix.
func RegisterServer(proto string, f ServerFactory) {
	mu.Lock()
	defer mu.Unlock()
	serverRegistry[proto] = f
}

// NewServer starts listening per spec and delivers accepted channels on
// hdlr.
func NewServer(spec string, hdlr chan<- Channel) (Server, error) {
	proto, _, _ := splitSpec(spec)
	mu.Lock()
	f, ok := serverRegistry[proto]
	mu.Unlock()
	if !ok {
		return nil, ErrNotImplemented
	}
	s := f()
	if err := s.Open(spec, hdlr); err != nil {
		return nil, err
	}
	return s, nil
}

func splitSpec(spec string) (proto, addr string, rest []string) {
	parts := strings.Split(spec, "+")
	proto = parts[0]
	if len(parts) > 1 {
		addr = parts[1]
	}
	if len(parts) > 2 {
		rest = parts[2:]
	}
	return
}
