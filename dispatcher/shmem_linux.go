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

//go:build linux

package dispatcher

import "golang.org/x/sys/unix"

// platformCreateSegment backs a shared buffer dispatcher with an anonymous
// memfd (no seals applied), the real shared-memory primitive on Linux (a shared
// "platform shared memory segment").
func platformCreateSegment(numBytes int) (*segment, error) {
	fd, err := unix.MemfdCreate("mojoedk-shared-buffer", 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Ftruncate(fd, int64(numBytes)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &segment{fd: fd, numBytes: numBytes}, nil
}

func platformDuplicateFD(fd int) (int, error) {
	return unix.Dup(fd)
}

func platformMap(fd int, offset, length int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(fd, int64(offset), length, prot, unix.MAP_SHARED)
}

func platformCloseSegment(fd int) error {
	return unix.Close(fd)
}
