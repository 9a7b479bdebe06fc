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

import "sync"

// RequestContext batches watcher finalizers so they never run with a
// dispatcher lock held. It implements
// dispatcher.Scheduler. Unlike the original design's stack-scoped,
// thread-local context, this implementation has the caller own one
// explicitly and call Unwind at the point their own event loop is safe to
// re-enter the Core API -- Go has no implicit per-goroutine request-local
// storage to hang the original "destructor runs finalizers" trick from.
type RequestContext struct {
	mu     sync.Mutex
	notify []func()
	cancel []func()
}

// NewRequestContext creates an empty, ready-to-use context. Callers that
// register watches typically keep one of these per long-lived worker
// goroutine and Unwind it once per iteration of their own event loop.
func NewRequestContext() *RequestContext {
	return &RequestContext{}
}

// Schedule implements dispatcher.Scheduler: queue f as a notification
// finalizer.
func (rc *RequestContext) Schedule(f func()) {
	rc.mu.Lock()
	rc.notify = append(rc.notify, f)
	rc.mu.Unlock()
}

// ScheduleCancellation implements dispatcher.Scheduler: queue f as a
// cancellation finalizer. Cancellations always run before notifications
// on Unwind, preserving "a cancelled watch never fires".
func (rc *RequestContext) ScheduleCancellation(f func()) {
	rc.mu.Lock()
	rc.cancel = append(rc.cancel, f)
	rc.mu.Unlock()
}

// Unwind runs every finalizer queued since the last Unwind, cancellations
// first. Finalizers may themselves call back into the Core API: each runs
// with this context already drained, so a reentrant Schedule/
// ScheduleCancellation call lands in the next Unwind rather than being
// lost or recursing.
func (rc *RequestContext) Unwind() {
	rc.mu.Lock()
	cancels, notifies := rc.cancel, rc.notify
	rc.cancel, rc.notify = nil, nil
	rc.mu.Unlock()
	for _, f := range cancels {
		f()
	}
	for _, f := range notifies {
		f()
	}
}
