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

type awakableEntry struct {
	a       Awakable
	signals SignalSet
	context uint64
}

type watcherEntry struct {
	cb      WatchCallback
	signals SignalSet
	context uint64
	sched   Scheduler
	armed   bool
}

// envelope carries the state and bookkeeping shared by every dispatcher
// variant: the closed/transit flags, the awakable list and the watcher
// set. Concrete dispatchers embed it and pass their current SignalsState
// into addAwakable (to evaluate AddAwakable's preconditions) and refresh
// (to wake waiters and fire armed watchers). Watch registration performs
// no precondition check.
type envelope struct {
	mu        sync.Mutex // dispatcher instance lock
	closed    bool
	inTransit bool

	typ Type

	awMu      sync.Mutex // awakable_list_lock, innermost in the hierarchy
	awakables []awakableEntry
	watchers  []watcherEntry
}

func newEnvelope(t Type) envelope {
	return envelope{typ: t}
}

func (e *envelope) GetType() Type { return e.typ }

func (e *envelope) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// lockedClose marks the envelope closed and returns the awakables/watchers
// to notify; it does not itself compute a SignalsState (callers know their
// own closed-state signals, typically the zero set with PEER_CLOSED maybe
// set depending on type).
func (e *envelope) lockedClose() (woken []awakableEntry, watched []watcherEntry, already bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil, true
	}
	e.closed = true
	e.mu.Unlock()

	e.awMu.Lock()
	woken = e.awakables
	watched = e.watchers
	e.awakables = nil
	e.watchers = nil
	e.awMu.Unlock()
	return woken, watched, false
}

// notifyClosed wakes every waiter with CANCELLED and fires every watcher's
// cancellation finalizer: cancellation finalizers
// always run before notification finalizers, which for a closed dispatcher
// means the watcher never gets an ordinary fire after this point.
func notifyClosed(woken []awakableEntry, watched []watcherEntry) {
	zero := SignalsState{}
	for _, w := range woken {
		w.a.Wake(w.context, util.ErrCancelled, zero)
	}
	for _, w := range watched {
		cb, ctx := w.cb, w.context
		w.sched.ScheduleCancellation(func() {
			cb(ctx, util.ErrCancelled, zero, false)
		})
	}
}

// addAwakable implements AddAwakable's contract given the dispatcher's
// current signals state.
func (e *envelope) addAwakable(a Awakable, signals SignalSet, context uint64, current SignalsState) error {
	if current.Satisfied&signals != 0 {
		return util.ErrAlreadyExists
	}
	if current.Satisfiable&signals == 0 {
		return util.ErrFailedPrecondition
	}
	e.awMu.Lock()
	e.awakables = append(e.awakables, awakableEntry{a, signals, context})
	e.awMu.Unlock()
	return nil
}

func (e *envelope) removeAwakable(a Awakable, context uint64) {
	e.awMu.Lock()
	defer e.awMu.Unlock()
	kept := e.awakables[:0]
	for _, w := range e.awakables {
		if w.a == a && w.context == context {
			continue
		}
		kept = append(kept, w)
	}
	e.awakables = kept
}

func (e *envelope) watch(signals SignalSet, cb WatchCallback, context uint64, sched Scheduler) error {
	if sched == nil {
		sched = Immediate
	}
	e.awMu.Lock()
	for _, w := range e.watchers {
		if w.context == context {
			e.awMu.Unlock()
			return util.ErrAlreadyExists
		}
	}
	e.watchers = append(e.watchers, watcherEntry{cb: cb, signals: signals, context: context, sched: sched, armed: true})
	e.awMu.Unlock()
	return nil
}

func (e *envelope) cancelWatch(context uint64) {
	e.awMu.Lock()
	defer e.awMu.Unlock()
	kept := e.watchers[:0]
	for _, w := range e.watchers {
		if w.context != context {
			kept = append(kept, w)
		}
	}
	e.watchers = kept
}

// refresh re-evaluates state against every registered awakable/watcher and
// wakes/fires the ones that now match. Matched waiters are removed (one-
// shot); matched watchers disarm themselves (level-triggered re-arm is the
// caller's job, via a fresh Watch call) except they stay registered so
// CancelWatch still finds them, matching the "fires at most once per
// arming, re-arms only when the caller re-watches" contract.
func (e *envelope) refresh(state SignalsState, fromSystem bool) {
	e.awMu.Lock()
	var fireWaiters []awakableEntry
	keptA := e.awakables[:0]
	for _, w := range e.awakables {
		if state.Satisfied&w.signals != 0 {
			fireWaiters = append(fireWaiters, w)
			continue
		}
		if state.Satisfiable&w.signals == 0 {
			fireWaiters = append(fireWaiters, w) // unsatisfiable forever: woken below with FAILED_PRECONDITION
			continue
		}
		keptA = append(keptA, w)
	}
	e.awakables = keptA

	var fireWatchers []watcherEntry
	for i := range e.watchers {
		w := &e.watchers[i]
		if !w.armed {
			continue
		}
		if state.Satisfied&w.signals != 0 {
			w.armed = false
			fireWatchers = append(fireWatchers, *w)
		}
	}
	e.awMu.Unlock()

	for _, w := range fireWaiters {
		if state.Satisfied&w.signals != 0 {
			w.a.Wake(w.context, nil, state)
		} else {
			w.a.Wake(w.context, util.ErrFailedPrecondition, state)
		}
	}
	for _, w := range fireWatchers {
		cb, ctx, sched := w.cb, w.context, w.sched
		sched.Schedule(func() {
			cb(ctx, nil, state, fromSystem)
		})
	}
}
