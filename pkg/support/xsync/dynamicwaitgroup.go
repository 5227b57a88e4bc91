// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is a WaitGroup-like synchronization primitive that allows the count
// to be changed (new values added) while someone is waiting for it.
//
// It uses sync.Cond to coordinate changes.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	wg := &DynamicWaitGroup{}
	wg.cond = sync.NewCond(&wg.mu)
	return wg
}

// Add changes the DynamicWaitGroup counter by the given delta.
// If the counter becomes zero, it broadcasts to all waiting goroutines.
// It panics if the counter would go negative.
func (wg *DynamicWaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()

	if wg.count+int64(delta) < 0 {
		panic(errors.Errorf("DynamicWaitGroup: negative counter"))
	}
	wg.count += int64(delta)

	// Waiters re-check the count upon waking, so additions after reaching zero are fine.
	if wg.count == 0 {
		wg.cond.Broadcast()
	}
}

// Done decrements the DynamicWaitGroup counter by one.
func (wg *DynamicWaitGroup) Done() {
	wg.Add(-1)
}

// Count returns the current value of the counter.
func (wg *DynamicWaitGroup) Count() int {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	return int(wg.count)
}

// Wait blocks until the DynamicWaitGroup counter is zero.
func (wg *DynamicWaitGroup) Wait() {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	for wg.count > 0 {
		wg.cond.Wait()
	}
}
