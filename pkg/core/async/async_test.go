// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_Lifecycle(t *testing.T) {
	p := NewPromise()
	e := p.Event()
	require.Equal(t, Pending, e.State())
	require.False(t, e.IsReady())
	require.NoError(t, e.Err())

	require.True(t, p.SetRunning())
	require.False(t, p.SetRunning(), "Running can only be set from Pending")
	require.Equal(t, Running, e.State())
	require.False(t, e.IsReady())

	require.True(t, p.Complete())
	require.Equal(t, Completed, e.State())
	require.True(t, e.IsReady())
	require.NoError(t, e.Wait())

	// Terminal states never change.
	require.False(t, p.Fail(errors.New("too late")))
	require.False(t, p.Complete())
	require.False(t, p.SetRunning())
	require.Equal(t, Completed, e.State())
	require.NoError(t, e.Err())
}

func TestPromise_Fail(t *testing.T) {
	p := NewPromise()
	cause := errors.New("boom")
	require.True(t, p.Fail(cause))
	e := p.Event()
	require.Equal(t, Failed, e.State())
	require.ErrorIs(t, e.Wait(), cause)
	require.ErrorIs(t, e.Err(), cause)
	require.Contains(t, e.String(), "boom")

	// A nil error still results in a Failed state with an error.
	p = NewPromise()
	p.Fail(nil)
	require.Equal(t, Failed, p.Event().State())
	require.Error(t, p.Event().Wait())
}

func TestEvent_ConcurrentObservers(t *testing.T) {
	p := NewPromise()
	e := p.Event()
	cause := errors.New("failure")

	const numObservers = 16
	results := make([]error, numObservers)
	states := make([]State, numObservers)
	var wg sync.WaitGroup
	for ii := range numObservers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[ii] = e.Wait()
			for range 10 {
				// Reading repeatedly must always give the same answer.
				assert.Equal(t, results[ii], e.Err())
			}
			states[ii] = e.State()
		}()
	}
	p.SetRunning()
	p.Fail(cause)
	wg.Wait()
	for ii := range numObservers {
		assert.ErrorIs(t, results[ii], cause)
		assert.Equal(t, Failed, states[ii])
	}
}

func TestEvent_AndThen(t *testing.T) {
	p := NewPromise()
	e := p.Event()

	var order []int
	e.AndThen(func(err error) {
		require.NoError(t, err)
		order = append(order, 1)
	})
	e.AndThen(func(err error) { order = append(order, 2) })
	require.Empty(t, order)
	p.Complete()
	require.Equal(t, []int{1, 2}, order)

	// Attaching after resolution runs immediately.
	e.AndThen(func(err error) { order = append(order, 3) })
	require.Equal(t, []int{1, 2, 3}, order)

	// Chaining: a continuation resolving the next promise.
	next := NewPromise()
	first := NewPromise()
	first.Event().AndThen(func(err error) {
		if err != nil {
			next.Fail(err)
			return
		}
		next.Complete()
	})
	first.Fail(errors.New("first failed"))
	require.Error(t, next.Event().Wait())
}

func TestEvent_WaitContext(t *testing.T) {
	p := NewPromise()
	e := p.Event()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.WaitContext(ctx), context.DeadlineExceeded)

	// Abandoning the wait doesn't affect the event.
	require.Equal(t, Pending, e.State())
	p.Complete()
	require.NoError(t, e.WaitContext(context.Background()))

	select {
	case <-e.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestWaitAll(t *testing.T) {
	cause := errors.New("second")
	require.NoError(t, WaitAll(ReadyEvent(), nil, ReadyEvent()))
	require.ErrorIs(t, WaitAll(ReadyEvent(), FailedEvent(cause), FailedEvent(errors.New("third"))), cause)
	require.Equal(t, "Pending", Pending.String())
	require.Equal(t, "State(7)", State(7).String())
}

func TestEvent_ConsistentObservations(t *testing.T) {
	cause := errors.New("failure")
	for range 200 {
		p := NewPromise()
		e := p.Event()
		observed := make(chan struct{})
		go func() {
			defer close(observed)
			for {
				state := e.State()
				if state == Failed {
					assert.ErrorIs(t, e.Err(), cause, "a Failed event must carry its error")
				}
				if state.IsTerminal() {
					assert.True(t, e.IsReady(), "an event in a terminal state must be ready")
					return
				}
			}
		}()
		p.SetRunning()
		p.Fail(cause)
		<-observed
	}
}
