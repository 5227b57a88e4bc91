// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package async implements a single-shot completion signal: an Event observed by any number of
// goroutines, resolved exactly once by the matching Promise.
//
// The producer side (Promise) is kept by whoever runs the work, and only the Event is handed
// out, so observers can wait, poll or chain on it, but never resolve it.
package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/nanort/pkg/support/xsync"
	"github.com/pkg/errors"
)

// State of an Event. Completed and Failed are terminal.
type State int32

const (
	// Pending is the state from creation until the work is picked by a worker.
	Pending State = iota

	// Running means a worker started the work.
	Running

	// Completed means the work finished successfully.
	Completed

	// Failed means the work finished with an error, see Event.Err.
	Failed
)

var stateNames = [...]string{"Pending", "Running", "Completed", "Failed"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal returns whether s is Completed or Failed.
func (s State) IsTerminal() bool { return s == Completed || s == Failed }

// Event is the observer side of a single-shot completion signal.
// All methods are safe for concurrent use.
type Event struct {
	state atomic.Int32
	done  *xsync.Latch

	// mu protects continuations. err is written once before done is triggered, and
	// only read after.
	mu            sync.Mutex
	err           error
	continuations []func(err error)
}

// Promise is the producer side of an Event.
type Promise struct {
	event *Event
}

// NewPromise returns a Promise whose Event is Pending.
func NewPromise() *Promise {
	return &Promise{event: &Event{done: xsync.NewLatch()}}
}

// Event returns the Event resolved by this Promise.
func (p *Promise) Event() *Event { return p.event }

// SetRunning moves the Event from Pending to Running.
// It returns false (and does nothing) if the event was not Pending.
func (p *Promise) SetRunning() bool {
	return p.event.state.CompareAndSwap(int32(Pending), int32(Running))
}

// Complete resolves the Event as Completed.
// It returns false if the Event had already been resolved, in which case it is a no-op.
func (p *Promise) Complete() bool {
	return p.event.resolve(nil)
}

// Fail resolves the Event as Failed with err. A nil err is replaced by a generic error, so a
// Failed event always carries one.
// It returns false if the Event had already been resolved, in which case it is a no-op.
func (p *Promise) Fail(err error) bool {
	if err == nil {
		err = errors.New("async: failed with no error given")
	}
	return p.event.resolve(err)
}

// resolve sets the terminal state, wakes up waiters and runs the continuations, in the order
// they were attached, on the calling goroutine.
func (e *Event) resolve(err error) bool {
	e.mu.Lock()
	if State(e.state.Load()).IsTerminal() {
		e.mu.Unlock()
		return false
	}
	e.err = err
	if err == nil {
		e.state.Store(int32(Completed))
	} else {
		e.state.Store(int32(Failed))
	}
	continuations := e.continuations
	e.continuations = nil
	e.done.Trigger()
	e.mu.Unlock()

	for _, fn := range continuations {
		fn(err)
	}
	return true
}

// State returns the current state. It never goes back once terminal.
func (e *Event) State() State { return State(e.state.Load()) }

// IsReady returns whether the Event reached a terminal state, the same as State().IsTerminal().
// It never blocks.
func (e *Event) IsReady() bool { return e.State().IsTerminal() }

// Done returns a channel closed when the Event reaches a terminal state. It may be closed an
// instant after State and IsReady report it.
func (e *Event) Done() <-chan struct{} { return e.done.WaitChan() }

// Err returns the error of a Failed event. It returns nil while the event is not ready, or
// if it Completed: use IsReady or State to tell those apart.
func (e *Event) Err() error {
	// err is set before the terminal state is stored.
	if !e.State().IsTerminal() {
		return nil
	}
	return e.err
}

// Wait blocks until the Event is resolved and returns its error (nil if Completed).
func (e *Event) Wait() error {
	e.done.Wait()
	return e.err
}

// WaitContext is like Wait, but it returns ctx.Err() if ctx is done first.
// Giving up waiting has no effect on the work being waited on.
func (e *Event) WaitContext(ctx context.Context) error {
	select {
	case <-e.done.WaitChan():
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AndThen attaches a continuation, called with the Event's error (nil if Completed) once it
// is resolved. If the Event is already resolved, fn is called immediately on the calling
// goroutine. Otherwise, it is called by the goroutine resolving the Event, so fn should not block.
func (e *Event) AndThen(fn func(err error)) {
	e.mu.Lock()
	if !e.done.Test() {
		e.continuations = append(e.continuations, fn)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn(e.err)
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	state := e.State()
	if state == Failed {
		return fmt.Sprintf("Event(%s: %v)", state, e.err)
	}
	return fmt.Sprintf("Event(%s)", state)
}

// ReadyEvent returns an Event already Completed.
func ReadyEvent() *Event {
	p := NewPromise()
	p.Complete()
	return p.Event()
}

// FailedEvent returns an Event already Failed with err.
func FailedEvent(err error) *Event {
	p := NewPromise()
	p.Fail(err)
	return p.Event()
}

// WaitAll waits for all events and returns the first error, in the order given, of the ones
// that failed. nil events are ignored.
func WaitAll(events ...*Event) error {
	var firstErr error
	for _, e := range events {
		if e == nil {
			continue
		}
		if err := e.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
