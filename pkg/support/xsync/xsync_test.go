// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	latch := NewLatch()
	require.False(t, latch.Test())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			latch.Wait()
		}()
	}
	require.True(t, latch.Trigger())
	require.False(t, latch.Trigger(), "second trigger must be a no-op")
	wg.Wait()
	require.True(t, latch.Test())

	select {
	case <-latch.WaitChan():
	default:
		t.Fatal("WaitChan should be closed after Trigger")
	}
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Zero count returns immediately.

	wg.Add(1)
	done := NewLatch()
	go func() {
		wg.Wait()
		done.Trigger()
	}()

	// Add more while someone is waiting.
	wg.Add(1)
	wg.Done()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, done.Test())
	wg.Done()

	select {
	case <-done.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the count reached zero")
	}
	require.Zero(t, wg.Count())
	require.Panics(t, func() { wg.Done() })
	require.Zero(t, wg.Count(), "a failed Add must not change the counter")
}
