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

package core

import (
	"context"

	"mojoedk/dispatcher"
	"mojoedk/util"
)

// waitSignal is what a waiter's Wake call delivers onto its channel.
type waitSignal struct {
	index  int
	result error
	state  dispatcher.SignalsState
}

// waiter is a one-shot dispatcher.Awakable used only for the lifetime of
// one Wait/WaitMany call; context doubles as the index into the caller's
// handle slice.
type waiter struct {
	ch chan waitSignal
}

func (w *waiter) Wake(context uint64, result error, state dispatcher.SignalsState) {
	w.ch <- waitSignal{index: int(context), result: result, state: state}
}

// Wait blocks until h's dispatcher satisfies signals, becomes permanently
// unable to (FAILED_PRECONDITION), is closed (CANCELLED), or ctx is done
// (DEADLINE_EXCEEDED). Pass context.Background() for INDEFINITE.
func Wait(ctx context.Context, h Handle, signals dispatcher.SignalSet) (dispatcher.SignalsState, error) {
	_, state, err := WaitMany(ctx, []Handle{h}, []dispatcher.SignalSet{signals})
	return state, err
}

// WaitMany blocks on every handle in hs simultaneously and returns the
// index of the first one to wake, alongside its signals state. A
// dispatcher whose signals are already satisfied (or already
// unsatisfiable) wins immediately without blocking.
func WaitMany(ctx context.Context, hs []Handle, sigs []dispatcher.SignalSet) (int, dispatcher.SignalsState, error) {
	if len(hs) == 0 || len(hs) != len(sigs) {
		return -1, dispatcher.SignalsState{}, util.ErrInvalidArgument
	}
	disps := make([]dispatcher.Dispatcher, len(hs))
	for i, h := range hs {
		d, err := lookup(h)
		if err != nil {
			return -1, dispatcher.SignalsState{}, err
		}
		disps[i] = d
	}

	w := &waiter{ch: make(chan waitSignal, len(hs))}
	registered := make([]bool, len(hs))
	cleanup := func() {
		for i, ok := range registered {
			if ok {
				disps[i].RemoveAwakable(w, uint64(i))
			}
		}
	}

	firstIdx := -1
	var firstErr error
	var firstState dispatcher.SignalsState
	for i, d := range disps {
		err := d.AddAwakable(w, sigs[i], uint64(i))
		switch err {
		case nil:
			registered[i] = true
		case util.ErrAlreadyExists:
			if firstIdx == -1 {
				firstIdx, firstErr, firstState = i, nil, d.GetHandleSignalsState()
			}
		default:
			if firstIdx == -1 {
				firstIdx, firstErr = i, err
			}
		}
	}
	if firstIdx != -1 {
		cleanup()
		return firstIdx, firstState, firstErr
	}

	select {
	case <-ctx.Done():
		cleanup()
		return -1, dispatcher.SignalsState{}, util.ErrDeadlineExceeded
	case sig := <-w.ch:
		cleanup()
		return sig.index, sig.state, sig.result
	}
}
