// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"math"
	"os"
	"sort"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nanort/backends/interpreter"
	"github.com/gomlx/nanort/backends/nanort"
	"github.com/gomlx/nanort/pkg/core/shapes"
	"github.com/pkg/errors"
)

// programBuilders maps the name of the built-in programs to their constructor.
// Each takes the number of float32 elements of its arguments.
var programBuilders = map[string]func(size int) (nanort.Program, error){
	"saxpy": newSaxpy,
	"copy":  func(size int) (nanort.Program, error) { return newCopy(copyAssignment(size)), nil },
	"add":   newInterpretedAdd,
}

// programNames returns the sorted names of the built-in programs.
func programNames() []string {
	names := make([]string, 0, len(programBuilders))
	for name := range programBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildProgram returns the built-in program name, or, if planPath is given, a copy program
// with the buffer assignment read from the YAML file.
func buildProgram(name, planPath string, size int) (nanort.Program, error) {
	if planPath != "" {
		f, err := os.Open(planPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open plan %q", planPath)
		}
		defer func() { _ = f.Close() }()
		assignment, err := nanort.LoadBufferAssignment(f)
		if err != nil {
			return nil, errors.WithMessagef(err, "plan %q", planPath)
		}
		return newCopy(assignment), nil
	}
	builder, found := programBuilders[name]
	if !found {
		return nil, errors.Errorf("unknown program %q, valid programs are %v", name, programNames())
	}
	return builder(size)
}

// Slots of the saxpy program. The order is arbitrary, as a compiler would leave it.
const (
	saxpyX = iota
	saxpyA
	saxpyTemp
	saxpyY
	saxpyOut
	saxpyNumSlots
)

// newSaxpy returns a program computing out = a*x + y, with x and y of the given size and a a scalar.
// a*x is stored in the temp slot.
func newSaxpy(size int) (nanort.Program, error) {
	if size <= 0 {
		return nil, errors.Errorf("saxpy: invalid size %d", size)
	}
	vector := shapes.Make(dtypes.Float32, size)
	allocations := make([]nanort.Allocation, saxpyNumSlots)
	allocations[saxpyX] = nanort.Allocation{Kind: nanort.AllocationParameter, Number: 0, Shape: vector}
	allocations[saxpyA] = nanort.Allocation{Kind: nanort.AllocationParameter, Number: 1, Shape: shapes.Scalar[float32]()}
	allocations[saxpyTemp] = nanort.Allocation{Kind: nanort.AllocationTemp, Shape: vector}
	allocations[saxpyY] = nanort.Allocation{Kind: nanort.AllocationParameter, Number: 2, Shape: vector}
	allocations[saxpyOut] = nanort.Allocation{Kind: nanort.AllocationResult, Number: 0, Shape: vector}
	assignment := &nanort.BufferAssignment{NumParameters: 3, NumResults: 1, Allocations: allocations}

	return nanort.NewFuncProgram("saxpy", assignment, func(inv *nanort.Invocation) error {
		x, err := inv.Slot(saxpyX)
		if err != nil {
			return err
		}
		aBytes, err := inv.Slot(saxpyA)
		if err != nil {
			return err
		}
		y, err := inv.Slot(saxpyY)
		if err != nil {
			return err
		}
		temp, err := inv.MutableSlot(saxpyTemp)
		if err != nil {
			return err
		}
		out, err := inv.MutableSlot(saxpyOut)
		if err != nil {
			return err
		}
		a := getFloat32(aBytes, 0)
		for ii := range size {
			putFloat32(temp, ii, a*getFloat32(x, ii))
		}
		for ii := range size {
			putFloat32(out, ii, getFloat32(temp, ii)+getFloat32(y, ii))
		}
		return nil
	}), nil
}

func getFloat32(data []byte, ii int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[ii*4:]))
}

func putFloat32(data []byte, ii int, v float32) {
	binary.LittleEndian.PutUint32(data[ii*4:], math.Float32bits(v))
}

// copyAssignment has one parameter and one result of size float32 elements, and an internal slot.
func copyAssignment(size int) *nanort.BufferAssignment {
	vector := shapes.Make(dtypes.Float32, size)
	return &nanort.BufferAssignment{
		NumParameters: 1,
		NumResults:    1,
		Allocations: []nanort.Allocation{
			{Kind: nanort.AllocationInternal, Size: 64},
			{Kind: nanort.AllocationResult, Number: 0, Shape: vector},
			{Kind: nanort.AllocationParameter, Number: 0, Shape: vector},
		},
	}
}

// newCopy returns a program that copies argument #i into result #i (as much as fits), for every
// result that has a corresponding argument, and zeroes the rest of the results and the temp slot.
func newCopy(assignment *nanort.BufferAssignment) nanort.Program {
	return nanort.NewFuncProgram("copy", assignment, func(inv *nanort.Invocation) error {
		arguments := make(map[int][]byte)
		for idx, alloc := range assignment.Allocations {
			if alloc.Kind != nanort.AllocationParameter {
				continue
			}
			data, err := inv.Slot(idx)
			if err != nil {
				return err
			}
			arguments[alloc.Number] = data
		}
		for idx, alloc := range assignment.Allocations {
			if alloc.Kind != nanort.AllocationResult && alloc.Kind != nanort.AllocationTemp {
				continue
			}
			data, err := inv.MutableSlot(idx)
			if err != nil {
				return err
			}
			n := 0
			if alloc.Kind == nanort.AllocationResult {
				n = copy(data, arguments[alloc.Number])
			}
			clear(data[n:])
		}
		return nil
	})
}

// newInterpretedAdd returns an interpreted program adding two vectors.
func newInterpretedAdd(size int) (nanort.Program, error) {
	if size <= 0 {
		return nil, errors.Errorf("add: invalid size %d", size)
	}
	vector := shapes.Make(dtypes.Float32, size)
	program, err := interpreter.NewProgram("add", []shapes.Shape{vector, vector}, []shapes.Shape{vector},
		interpreter.NewElementwise(func(a, b float32) float32 { return a + b }))
	if err != nil {
		return nil, err
	}
	return program, nil
}
