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

import "net"

// readFromUnixWithOOB reads payload bytes plus any ancillary (SCM_RIGHTS)
// data attached to the same datagram/stream chunk.
func readFromUnixWithOOB(conn *net.UnixConn, payload, oob []byte) (n, oobn int, err error) {
	n, oobn, _, _, err = conn.ReadMsgUnix(payload, oob)
	return
}

// writeToUnixWithOOB writes payload bytes with attached ancillary data in a
// single message so handles and bytes arrive atomically together.
func writeToUnixWithOOB(conn *net.UnixConn, payload, oob []byte) error {
	_, _, err := conn.WriteMsgUnix(payload, oob, nil)
	return err
}
