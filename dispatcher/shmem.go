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

// segment is a platform shared-memory mapping: a single OS handle (an fd on
// POSIX) plus the bytes it backs. The platformCreateSegment/
// platformDuplicateFD/platformMap/platformCloseSegment functions behind the
// helpers below are implemented per-GOOS.
type segment struct {
	fd       int
	numBytes int
}

// createSegment allocates a fresh anonymous shared-memory segment of the
// given size.
func createSegment(numBytes int) (*segment, error) {
	return platformCreateSegment(numBytes)
}

// duplicateSegmentFD returns a new OS handle referring to the same
// underlying segment.
func duplicateSegmentFD(fd int) (int, error) {
	return platformDuplicateFD(fd)
}

// mapSegment maps [offset, offset+length) of the segment behind fd.
func mapSegment(fd int, offset, length int, writable bool) ([]byte, error) {
	return platformMap(fd, offset, length, writable)
}

// closeSegment releases a raw segment handle that was handed off to
// another process instead of being wrapped in a dispatcher here.
func closeSegment(fd int) error {
	return platformCloseSegment(fd)
}
