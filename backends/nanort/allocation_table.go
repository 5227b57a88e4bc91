// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// NoTempAllocation is the temp allocation index of tables with no scratch slot.
const NoTempAllocation = -1

// UnknownSize is the SlotSize of slots whose size is not known: views bound to them are not size checked.
const UnknownSize = -1

// AllocationTable maps arguments, results and the temp scratch space to the slots of a compiled program.
//
// It is built once, when the Executable is created, and it is immutable: it is safely shared by any
// number of concurrent executions.
type AllocationTable struct {
	numAllocations int

	// argumentToAllocation and resultToAllocation map the argument/result index to the index of the
	// corresponding allocation (defined by the program's buffer assignment).
	argumentToAllocation []int
	resultToAllocation   []int

	// tempAllocation is the index of the temp allocation, or NoTempAllocation.
	tempAllocation int

	// slotSizes in bytes, indexed by allocation. UnknownSize if not known.
	slotSizes []int

	// slotKinds indexed by allocation.
	slotKinds []AllocationKind
}

// NewAllocationTable creates a table with numAllocations slots, where argument ii is bound to
// slot argumentToAllocation[ii] and result ii to resultToAllocation[ii].
// tempAllocation is the slot of the scratch space, or NoTempAllocation.
//
// slotSizes gives the size in bytes of each slot, it can be nil if not known.
//
// Every index must be in range, and no slot can be used twice: it fails with ErrMalformedExecutable otherwise.
func NewAllocationTable(numAllocations int, argumentToAllocation, resultToAllocation []int,
	tempAllocation int, slotSizes []int) (*AllocationTable, error) {
	if numAllocations < 0 {
		return nil, errors.Wrapf(ErrMalformedExecutable, "negative number of allocations (%d)", numAllocations)
	}
	t := &AllocationTable{
		numAllocations:       numAllocations,
		argumentToAllocation: slices.Clone(argumentToAllocation),
		resultToAllocation:   slices.Clone(resultToAllocation),
		tempAllocation:       tempAllocation,
		slotKinds:            make([]AllocationKind, numAllocations),
	}
	if slotSizes == nil {
		t.slotSizes = slices.Repeat([]int{UnknownSize}, numAllocations)
	} else {
		if len(slotSizes) != numAllocations {
			return nil, errors.Wrapf(ErrMalformedExecutable, "%d slot sizes given for %d allocations",
				len(slotSizes), numAllocations)
		}
		for idx, size := range slotSizes {
			if size < 0 && size != UnknownSize {
				return nil, errors.Wrapf(ErrMalformedExecutable, "allocation #%d has invalid size %d", idx, size)
			}
		}
		t.slotSizes = slices.Clone(slotSizes)
	}

	used := make([]bool, numAllocations)
	assign := func(kind AllocationKind, number, idx int) error {
		if idx < 0 || idx >= numAllocations {
			return errors.Wrapf(ErrMalformedExecutable, "%s #%d mapped to allocation #%d, out of range for %d allocations",
				kind, number, idx, numAllocations)
		}
		if used[idx] {
			return errors.Wrapf(ErrMalformedExecutable, "%s #%d mapped to allocation #%d, already used as %s",
				kind, number, idx, t.slotKinds[idx])
		}
		used[idx] = true
		t.slotKinds[idx] = kind
		return nil
	}
	for ii, idx := range t.argumentToAllocation {
		if err := assign(AllocationParameter, ii, idx); err != nil {
			return nil, err
		}
	}
	for ii, idx := range t.resultToAllocation {
		if err := assign(AllocationResult, ii, idx); err != nil {
			return nil, err
		}
	}
	if tempAllocation != NoTempAllocation {
		if err := assign(AllocationTemp, 0, tempAllocation); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// BuildAllocationTable validates the buffer assignment and builds the corresponding AllocationTable.
//
// Every declared parameter and result must have exactly one allocation, and there can be at most one
// temp allocation. It fails with ErrMalformedExecutable otherwise.
func BuildAllocationTable(assignment *BufferAssignment) (*AllocationTable, error) {
	if assignment == nil {
		return nil, errors.Wrap(ErrMalformedExecutable, "missing buffer assignment")
	}
	if assignment.NumParameters < 0 || assignment.NumResults < 0 {
		return nil, errors.Wrapf(ErrMalformedExecutable, "invalid number of parameters (%d) or results (%d)",
			assignment.NumParameters, assignment.NumResults)
	}
	numAllocations := len(assignment.Allocations)
	argumentToAllocation := slices.Repeat([]int{-1}, assignment.NumParameters)
	resultToAllocation := slices.Repeat([]int{-1}, assignment.NumResults)
	tempAllocation := NoTempAllocation
	slotSizes := make([]int, numAllocations)

	for idx, alloc := range assignment.Allocations {
		size, err := alloc.ByteSize()
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedExecutable, "allocation #%d: %v", idx, err)
		}
		slotSizes[idx] = size
		if size < 0 {
			return nil, errors.Wrapf(ErrMalformedExecutable, "allocation #%d (%s) has negative size", idx, alloc)
		}
		var mapping []int
		switch alloc.Kind {
		case AllocationParameter:
			mapping = argumentToAllocation
		case AllocationResult:
			mapping = resultToAllocation
		case AllocationTemp:
			if tempAllocation != NoTempAllocation {
				return nil, errors.Wrapf(ErrMalformedExecutable,
					"more than one temp allocation: allocations #%d and #%d", tempAllocation, idx)
			}
			tempAllocation = idx
			continue
		case AllocationInternal:
			continue
		default:
			return nil, errors.Wrapf(ErrMalformedExecutable, "allocation #%d has unknown kind %s", idx, alloc.Kind)
		}
		if alloc.Number < 0 || alloc.Number >= len(mapping) {
			return nil, errors.Wrapf(ErrMalformedExecutable, "allocation #%d is for %s #%d, but only %d declared",
				idx, alloc.Kind, alloc.Number, len(mapping))
		}
		if mapping[alloc.Number] != -1 {
			return nil, errors.Wrapf(ErrMalformedExecutable, "%s #%d has more than one allocation: #%d and #%d",
				alloc.Kind, alloc.Number, mapping[alloc.Number], idx)
		}
		mapping[alloc.Number] = idx
	}
	for ii, idx := range argumentToAllocation {
		if idx == -1 {
			return nil, errors.Wrapf(ErrMalformedExecutable, "no allocation for parameter #%d", ii)
		}
	}
	for ii, idx := range resultToAllocation {
		if idx == -1 {
			return nil, errors.Wrapf(ErrMalformedExecutable, "no allocation for result #%d", ii)
		}
	}
	return NewAllocationTable(numAllocations, argumentToAllocation, resultToAllocation, tempAllocation, slotSizes)
}

// NumAllocations returns the number of slots of the program.
func (t *AllocationTable) NumAllocations() int { return t.numAllocations }

// NumArguments returns the number of arguments the program takes.
func (t *AllocationTable) NumArguments() int { return len(t.argumentToAllocation) }

// NumResults returns the number of results the program produces.
func (t *AllocationTable) NumResults() int { return len(t.resultToAllocation) }

// ArgumentAllocation returns the slot of the argument ii.
func (t *AllocationTable) ArgumentAllocation(ii int) int { return t.argumentToAllocation[ii] }

// ResultAllocation returns the slot of the result ii.
func (t *AllocationTable) ResultAllocation(ii int) int { return t.resultToAllocation[ii] }

// TempAllocation returns the slot of the temp scratch space, and whether there is one.
func (t *AllocationTable) TempAllocation() (idx int, ok bool) {
	return t.tempAllocation, t.tempAllocation != NoTempAllocation
}

// SlotSize returns the size in bytes of the slot idx, or UnknownSize.
func (t *AllocationTable) SlotSize(idx int) int { return t.slotSizes[idx] }

// SlotKind returns the role of the slot idx. Slots not bound to argument, result or temp are AllocationInternal.
func (t *AllocationTable) SlotKind(idx int) AllocationKind { return t.slotKinds[idx] }

// String implements fmt.Stringer, listing the slots.
func (t *AllocationTable) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "AllocationTable(%d allocations, %d arguments, %d results):",
		t.numAllocations, t.NumArguments(), t.NumResults())
	numbers := make([]int, t.numAllocations)
	for ii, idx := range t.argumentToAllocation {
		numbers[idx] = ii
	}
	for ii, idx := range t.resultToAllocation {
		numbers[idx] = ii
	}
	for idx := range t.numAllocations {
		_, _ = fmt.Fprintf(&sb, "\n\t#%d: %s", idx, t.slotKinds[idx])
		if kind := t.slotKinds[idx]; kind == AllocationParameter || kind == AllocationResult {
			_, _ = fmt.Fprintf(&sb, " #%d", numbers[idx])
		}
		if size := t.slotSizes[idx]; size != UnknownSize {
			_, _ = fmt.Fprintf(&sb, " (%s)", humanize.IBytes(uint64(size)))
		}
	}
	return sb.String()
}
