// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"sync"

	"github.com/gomlx/nanort/pkg/support/workerspool"
	"github.com/pkg/errors"
)

// Invocation is the slot table of one execution, as seen by the Program while it runs: for each of
// the allocations of the program, the memory of the view bound to it, if any.
//
// It is only valid while Program.Run is executing: afterward every access fails with
// ErrInvocationReleased, so nothing is written to the caller's buffers once the execution is over.
// A program must not keep the slices it got from the Invocation after Run returns.
type Invocation struct {
	id    string
	table *AllocationTable
	pool  *workerspool.Pool

	// mu protects slots and released: Run may access the Invocation from several goroutines.
	mu       sync.RWMutex
	slots    [][]byte
	bound    []bool
	released bool
}

// newInvocation binds the views to the slots defined by table. Views are assumed validated.
func newInvocation(id string, table *AllocationTable, pool *workerspool.Pool,
	arguments []Argument, results []Result, temp PreallocatedTemp) *Invocation {
	inv := &Invocation{
		id:    id,
		table: table,
		pool:  pool,
		slots: make([][]byte, table.NumAllocations()),
		bound: make([]bool, table.NumAllocations()),
	}
	bind := func(idx int, data []byte) {
		// Views larger than the slot are narrowed to the slot: the program never sees past it.
		inv.slots[idx] = narrow(data, table.SlotSize(idx))
		inv.bound[idx] = true
	}
	for ii, arg := range arguments {
		bind(table.ArgumentAllocation(ii), arg.Data())
	}
	for ii, result := range results {
		bind(table.ResultAllocation(ii), result.Data())
	}
	if idx, ok := table.TempAllocation(); ok {
		bind(idx, temp)
	}
	return inv
}

// ID uniquely identifies the execution.
func (inv *Invocation) ID() string { return inv.id }

// NumSlots returns the number of allocations of the program.
func (inv *Invocation) NumSlots() int { return len(inv.slots) }

// Pool returns the workers pool the execution is running on.
//
// Programs with internal parallelism can use it to start extra workers, see workerspool.Pool.StartIfAvailable.
func (inv *Invocation) Pool() *workerspool.Pool { return inv.pool }

// Slot returns the memory bound to the slot idx, for reading.
//
// The memory of argument slots belongs to the caller and must not be changed, see MutableSlot.
func (inv *Invocation) Slot(idx int) ([]byte, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.lockedSlot(idx)
}

// MutableSlot returns the memory bound to the slot idx, for writing.
// Only result and temp slots are writable, argument slots fail with ErrReadOnlySlot.
func (inv *Invocation) MutableSlot(idx int) ([]byte, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	data, err := inv.lockedSlot(idx)
	if err != nil {
		return nil, err
	}
	if inv.table.SlotKind(idx) == AllocationParameter {
		return nil, errors.Wrapf(ErrReadOnlySlot, "slot #%d holds an argument", idx)
	}
	return data, nil
}

// lockedSlot must be called with mu acquired.
func (inv *Invocation) lockedSlot(idx int) ([]byte, error) {
	if inv.released {
		return nil, errors.Wrapf(ErrInvocationReleased, "slot #%d of execution %s", idx, inv.id)
	}
	if idx < 0 || idx >= len(inv.slots) {
		return nil, errors.Errorf("slot #%d out of range, program has %d allocations", idx, len(inv.slots))
	}
	if !inv.bound[idx] {
		return nil, errors.Wrapf(ErrUnboundSlot, "slot #%d (%s) of execution %s", idx, inv.table.SlotKind(idx), inv.id)
	}
	return inv.slots[idx], nil
}

// release drops all references to the caller's memory.
func (inv *Invocation) release() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.released = true
	clear(inv.slots)
}
