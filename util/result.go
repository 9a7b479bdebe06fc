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

package util

import "errors"

// Result is a Mojo-style result code, modeled as a Go sentinel error rather
// than a numeric constant, for named, comparable error values that callers
// can compare with errors.Is instead of decoding an integer.
type Result struct {
	name string
}

func (r *Result) Error() string { return r.name }

// Well-known result codes.
var (
	OK                    error = nil
	ErrCancelled                = &Result{"cancelled"}
	ErrUnknown                  = &Result{"unknown"}
	ErrInvalidArgument          = &Result{"invalid_argument"}
	ErrDeadlineExceeded         = &Result{"deadline_exceeded"}
	ErrNotFound                 = &Result{"not_found"}
	ErrAlreadyExists            = &Result{"already_exists"}
	ErrPermissionDenied         = &Result{"permission_denied"}
	ErrResourceExhausted        = &Result{"resource_exhausted"}
	ErrFailedPrecondition       = &Result{"failed_precondition"}
	ErrAborted                  = &Result{"aborted"}
	ErrOutOfRange               = &Result{"out_of_range"}
	ErrUnimplemented            = &Result{"unimplemented"}
	ErrInternal                 = &Result{"internal"}
	ErrUnavailable              = &Result{"unavailable"}
	ErrDataLoss                 = &Result{"data_loss"}
	ErrBusy                     = &Result{"busy"}
	ErrShouldWait               = &Result{"should_wait"}
)

// Is lets errors.Is match against the package-level sentinels even when a
// Result has been wrapped with extra context via fmt.Errorf("...: %w", ...).
func (r *Result) Is(target error) bool {
	var other *Result
	if errors.As(target, &other) {
		return other.name == r.name
	}
	return false
}
