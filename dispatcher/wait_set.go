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
	"sync"

	"mojoedk/util"
)

// waitSetEntry tracks one dispatcher added to a wait set alongside the
// signals the caller cares about and the cookie it supplied to find it
// again later.
type waitSetEntry struct {
	d       Dispatcher
	signals SignalSet
	cookie  uint64
}

// WaitSetDispatcher lets a caller block on many dispatchers at once instead
// of issuing one Wait per handle. It is itself an Awakable: it registers on
// every member via AddAwakable and forwards wakes into its own ready queue.
//
// A wait set cannot be transferred: BeginTransit always fails, since the
// member dispatchers are only known by Go pointer here, not by anything a
// remote peer could reconstruct.
type WaitSetDispatcher struct {
	envelope

	mu      sync.Mutex
	members map[uint64]waitSetEntry
	ready   []uint64 // cookies currently signaled, FIFO
	inReady map[uint64]bool
}

// NewWaitSet creates an empty wait set.
func NewWaitSet() *WaitSetDispatcher {
	return &WaitSetDispatcher{
		envelope: newEnvelope(TypeWaitSet),
		members:  make(map[uint64]waitSetEntry),
		inReady:  make(map[uint64]bool),
	}
}

// AddWaitingDispatcher registers d under cookie, waking on any of signals.
// Rejects a cookie that is already in use, the wait set itself (no
// self-add), and a closed member.
func (ws *WaitSetDispatcher) AddWaitingDispatcher(d Dispatcher, signals SignalSet, cookie uint64) error {
	if d == Dispatcher(ws) {
		return util.ErrInvalidArgument
	}
	if d.IsClosed() {
		return util.ErrInvalidArgument
	}
	ws.mu.Lock()
	if _, exists := ws.members[cookie]; exists {
		ws.mu.Unlock()
		return util.ErrAlreadyExists
	}
	ws.members[cookie] = waitSetEntry{d: d, signals: signals, cookie: cookie}
	ws.mu.Unlock()

	err := d.AddAwakable(ws, signals, cookie)
	if err == nil {
		return nil
	}
	if err == util.ErrAlreadyExists {
		// the member's signals are already satisfied: treat as instantly
		// ready rather than a registration failure.
		ws.markReady(cookie, nil, d.GetHandleSignalsState())
		return nil
	}
	ws.mu.Lock()
	delete(ws.members, cookie)
	ws.mu.Unlock()
	return err
}

// RemoveWaitingDispatcher undoes a prior AddWaitingDispatcher.
func (ws *WaitSetDispatcher) RemoveWaitingDispatcher(cookie uint64) error {
	ws.mu.Lock()
	entry, exists := ws.members[cookie]
	if !exists {
		ws.mu.Unlock()
		return util.ErrNotFound
	}
	delete(ws.members, cookie)
	wasReady := ws.inReady[cookie]
	delete(ws.inReady, cookie)
	if wasReady {
		kept := ws.ready[:0]
		for _, c := range ws.ready {
			if c != cookie {
				kept = append(kept, c)
			}
		}
		ws.ready = kept
	}
	ws.mu.Unlock()

	entry.d.RemoveAwakable(ws, cookie)
	return nil
}

// GetReadyDispatchers drains the FIFO of members whose watched signals are
// currently satisfied (or permanently unsatisfiable), returning their
// cookies and a result for each computed from the member's current state
// (nil when satisfied, ErrFailedPrecondition when unsatisfiable); the
// result a member's wake delivered is not kept.
func (ws *WaitSetDispatcher) GetReadyDispatchers() (cookies []uint64, results []error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, cookie := range ws.ready {
		entry, ok := ws.members[cookie]
		delete(ws.inReady, cookie)
		if !ok {
			continue
		}
		state := entry.d.GetHandleSignalsState()
		var res error
		switch {
		case state.Satisfied&entry.signals != 0:
			res = nil
		case state.Satisfiable&entry.signals == 0:
			res = util.ErrFailedPrecondition
		default:
			continue // spurious: still not actually ready
		}
		cookies = append(cookies, cookie)
		results = append(results, res)
	}
	ws.ready = nil
	return
}

func (ws *WaitSetDispatcher) markReady(cookie uint64, result error, state SignalsState) {
	ws.mu.Lock()
	if _, exists := ws.members[cookie]; !exists {
		ws.mu.Unlock()
		return
	}
	if !ws.inReady[cookie] {
		ws.inReady[cookie] = true
		ws.ready = append(ws.ready, cookie)
	}
	ws.mu.Unlock()
	ws.envelope.refresh(ws.signals(), true)
}

// Wake implements Awakable: a member's wait fired, so queue its cookie and
// wake the wait set's own waiters/watchers now that it is readable.
func (ws *WaitSetDispatcher) Wake(context uint64, result error, state SignalsState) {
	ws.markReady(context, result, state)
}

func (ws *WaitSetDispatcher) signals() SignalsState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var s SignalsState
	s.Satisfiable |= SignalSet(SignalReadable)
	if len(ws.ready) > 0 {
		s.Satisfied |= SignalSet(SignalReadable)
	}
	return s
}

func (ws *WaitSetDispatcher) GetHandleSignalsState() SignalsState { return ws.signals() }

func (ws *WaitSetDispatcher) AddAwakable(a Awakable, signals SignalSet, context uint64) error {
	return ws.envelope.addAwakable(a, signals, context, ws.signals())
}
func (ws *WaitSetDispatcher) RemoveAwakable(a Awakable, context uint64) {
	ws.envelope.removeAwakable(a, context)
}
func (ws *WaitSetDispatcher) Watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error {
	return ws.envelope.watch(signals, cb, context, sched)
}
func (ws *WaitSetDispatcher) CancelWatch(context uint64) { ws.envelope.cancelWatch(context) }

func (ws *WaitSetDispatcher) Close() error {
	woken, watched, already := ws.envelope.lockedClose()
	if already {
		return util.ErrInvalidArgument
	}
	ws.mu.Lock()
	members := ws.members
	ws.members = nil
	ws.ready = nil
	ws.inReady = nil
	ws.mu.Unlock()
	for cookie, entry := range members {
		entry.d.RemoveAwakable(ws, cookie)
	}
	notifyClosed(woken, watched)
	return nil
}

// A wait set is not itself a transferable resource: it carries no wire
// representation, and BeginTransit rejects the attempt outright so
// WriteMessage fails fast instead of silently dropping its membership.
func (ws *WaitSetDispatcher) StartSerialize() (int, int, int) { return 0, 0, 0 }

func (ws *WaitSetDispatcher) EndSerialize() ([]byte, []util.PortName, []int, error) {
	return nil, nil, nil, util.ErrUnimplemented
}

func (ws *WaitSetDispatcher) BeginTransit() error      { return util.ErrInvalidArgument }
func (ws *WaitSetDispatcher) CancelTransit()           {}
func (ws *WaitSetDispatcher) CompleteTransitAndClose() {}
