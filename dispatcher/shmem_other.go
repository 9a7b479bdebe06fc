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

//go:build !linux

package dispatcher

import (
	"sync"

	"mojoedk/util"
)

// Non-Linux fallback: memfd_create has no portable equivalent in the
// standard POSIX surface this module targets, so off-Linux we back a
// shared buffer with a process-local byte slice keyed by a synthetic
// handle. This only shares memory within one process (good enough for
// tests and for same-process dispatcher duplication); this module has no
// Mach or Win32 backing, so there is no cross-process sharing on macOS or
// Windows.
var (
	fakeMu   sync.Mutex
	fakeNext int = 1
	fakeSegs     = map[int][]byte{}
)

func platformCreateSegment(numBytes int) (*segment, error) {
	fakeMu.Lock()
	defer fakeMu.Unlock()
	fd := fakeNext
	fakeNext++
	fakeSegs[fd] = make([]byte, numBytes)
	return &segment{fd: fd, numBytes: numBytes}, nil
}

func platformDuplicateFD(fd int) (int, error) {
	fakeMu.Lock()
	defer fakeMu.Unlock()
	buf, ok := fakeSegs[fd]
	if !ok {
		return 0, util.ErrNotFound
	}
	newFd := fakeNext
	fakeNext++
	fakeSegs[newFd] = buf
	return newFd, nil
}

func platformMap(fd int, offset, length int, writable bool) ([]byte, error) {
	fakeMu.Lock()
	defer fakeMu.Unlock()
	buf, ok := fakeSegs[fd]
	if !ok {
		return nil, util.ErrNotFound
	}
	if offset+length > len(buf) {
		return nil, util.ErrOutOfRange
	}
	return buf[offset : offset+length], nil
}

func platformCloseSegment(fd int) error {
	fakeMu.Lock()
	defer fakeMu.Unlock()
	delete(fakeSegs, fd)
	return nil
}
