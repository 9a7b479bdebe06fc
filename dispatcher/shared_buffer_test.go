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

func TestSharedBufferMapAndWrite(t *testing.T) {
	sb, err := NewSharedBuffer(4096)
	if err != nil {
		t.Fatalf("NewSharedBuffer: %s", err)
	}
	mem, err := sb.MapBuffer(0, 4096, 0)
	if err != nil {
		t.Fatalf("MapBuffer: %s", err)
	}
	copy(mem, []byte("shared payload"))

	if _, err := sb.MapBuffer(4000, 200, 0); err != util.ErrOutOfRange {
		t.Fatalf("out-of-range map: got %v, want ErrOutOfRange", err)
	}
}

func TestSharedBufferDuplicateSeesSameContent(t *testing.T) {
	sb, err := NewSharedBuffer(4096)
	if err != nil {
		t.Fatalf("NewSharedBuffer: %s", err)
	}
	mem, err := sb.MapBuffer(0, 4096, 0)
	if err != nil {
		t.Fatalf("MapBuffer: %s", err)
	}
	copy(mem, []byte("original"))

	dup, err := sb.DuplicateBufferHandle(0)
	if err != nil {
		t.Fatalf("DuplicateBufferHandle: %s", err)
	}
	dupMem, err := dup.MapBuffer(0, 4096, 0)
	if err != nil {
		t.Fatalf("MapBuffer on duplicate: %s", err)
	}
	if string(dupMem[:8]) != "original" {
		t.Fatalf("duplicate sees %q, want %q", dupMem[:8], "original")
	}

	copy(dupMem, []byte("mutated!"))
	if string(mem[:8]) != "mutated!" {
		t.Fatalf("original does not observe duplicate's write: got %q", mem[:8])
	}
}

func TestSharedBufferDuplicateReadOnlyIsMarkedReadOnly(t *testing.T) {
	sb, err := NewSharedBuffer(4096)
	if err != nil {
		t.Fatalf("NewSharedBuffer: %s", err)
	}
	roDup, err := sb.DuplicateBufferHandle(DuplicateReadOnly)
	if err != nil {
		t.Fatalf("DuplicateBufferHandle: %s", err)
	}
	if !roDup.readOnly {
		t.Fatal("duplicate should be marked read-only")
	}
}

func TestSharedBufferCloseRejectsFurtherUse(t *testing.T) {
	sb, err := NewSharedBuffer(4096)
	if err != nil {
		t.Fatalf("NewSharedBuffer: %s", err)
	}
	if err := sb.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	if _, err := sb.MapBuffer(0, 10, 0); err != util.ErrInvalidArgument {
		t.Fatalf("MapBuffer after close: got %v, want ErrInvalidArgument", err)
	}
	if err := sb.Close(); err != util.ErrInvalidArgument {
		t.Fatalf("double close: got %v, want ErrInvalidArgument", err)
	}
}
