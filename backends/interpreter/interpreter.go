// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interpreter implements a nanort.Program that, instead of running compiled code, delegates the
// computation to an Evaluator.
//
// It is the fallback for computations that were not compiled ahead of time. Evaluators are stateful
// (they track the visit state of the computation graph), so evaluations of one Program are serialized:
// concurrent executions are accepted, but only one evaluates at a time.
package interpreter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/nanort/backends/nanort"
	"github.com/gomlx/nanort/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Evaluator of a computation, given the raw bytes of its arguments and results.
type Evaluator interface {
	// ResetVisitStates clears any state left by a previous evaluation. It is called before every Evaluate.
	ResetVisitStates()

	// Evaluate the computation, reading arguments and writing results.
	// There is one entry per parameter shape and result shape, each with ShapeSizeBytes bytes.
	Evaluate(arguments [][]byte, results [][]byte) error
}

// Program implements nanort.Program using an Evaluator.
type Program struct {
	name            string
	parameterShapes []shapes.Shape
	resultShapes    []shapes.Shape
	assignment      *nanort.BufferAssignment

	// evaluatorMu serializes the use of evaluator.
	evaluatorMu    sync.Mutex
	evaluator      Evaluator
	numEvaluations atomic.Int64
}

var _ nanort.Program = (*Program)(nil)

// NewProgram creates an interpreted Program with the given parameters and results, evaluated by evaluator.
//
// The buffer assignment has one allocation per parameter, followed by one per result, and no temp allocation.
func NewProgram(name string, parameterShapes, resultShapes []shapes.Shape, evaluator Evaluator) (*Program, error) {
	if evaluator == nil {
		return nil, errors.Errorf("interpreter.NewProgram(%q): nil evaluator", name)
	}
	assignment := &nanort.BufferAssignment{
		NumParameters: len(parameterShapes),
		NumResults:    len(resultShapes),
		Allocations:   make([]nanort.Allocation, 0, len(parameterShapes)+len(resultShapes)),
	}
	for ii, shape := range parameterShapes {
		if !shape.Ok() {
			return nil, errors.Errorf("interpreter.NewProgram(%q): invalid shape for parameter #%d", name, ii)
		}
		if _, err := shape.ByteSize(); err != nil {
			return nil, errors.WithMessagef(err, "interpreter.NewProgram(%q): parameter #%d", name, ii)
		}
		assignment.Allocations = append(assignment.Allocations, nanort.Allocation{
			Kind: nanort.AllocationParameter, Number: ii, Shape: shape, Size: ShapeSizeBytes(shape)})
	}
	for ii, shape := range resultShapes {
		if !shape.Ok() {
			return nil, errors.Errorf("interpreter.NewProgram(%q): invalid shape for result #%d", name, ii)
		}
		if _, err := shape.ByteSize(); err != nil {
			return nil, errors.WithMessagef(err, "interpreter.NewProgram(%q): result #%d", name, ii)
		}
		assignment.Allocations = append(assignment.Allocations, nanort.Allocation{
			Kind: nanort.AllocationResult, Number: ii, Shape: shape, Size: ShapeSizeBytes(shape)})
	}
	return &Program{
		name:            name,
		parameterShapes: cloneShapes(parameterShapes),
		resultShapes:    cloneShapes(resultShapes),
		assignment:      assignment,
		evaluator:       evaluator,
	}, nil
}

func cloneShapes(list []shapes.Shape) []shapes.Shape {
	out := make([]shapes.Shape, len(list))
	for ii, shape := range list {
		out[ii] = shape.Clone()
	}
	return out
}

// ShapeSizeBytes returns the number of bytes used by a value of the given shape.
// Tuples are stored as one pointer per element.
func ShapeSizeBytes(shape shapes.Shape) int {
	if shape.IsTuple() {
		return shape.TupleSize() * int(unsafe.Sizeof(uintptr(0)))
	}
	return int(shape.Memory())
}

// Name implements nanort.Program.
func (p *Program) Name() string { return p.name }

// BufferAssignment implements nanort.Program.
func (p *Program) BufferAssignment() *nanort.BufferAssignment { return p.assignment }

// ParameterShapes returns the shapes of the parameters. The returned slice must not be changed.
func (p *Program) ParameterShapes() []shapes.Shape { return p.parameterShapes }

// ResultShapes returns the shapes of the results. The returned slice must not be changed.
func (p *Program) ResultShapes() []shapes.Shape { return p.resultShapes }

// NumEvaluations returns the number of evaluations started so far.
func (p *Program) NumEvaluations() int64 { return p.numEvaluations.Load() }

// String implements fmt.Stringer.
func (p *Program) String() string {
	return fmt.Sprintf("interpreter.Program(%q, parameters=%v, results=%v)", p.name, p.parameterShapes, p.resultShapes)
}

// Run implements nanort.Program. It waits for any other evaluation of the Program to finish.
func (p *Program) Run(inv *nanort.Invocation) error {
	arguments := make([][]byte, len(p.parameterShapes))
	results := make([][]byte, len(p.resultShapes))
	var err error
	for ii := range arguments {
		arguments[ii], err = inv.Slot(ii)
		if err != nil {
			return errors.WithMessagef(err, "%q: parameter #%d", p.name, ii)
		}
	}
	for ii := range results {
		results[ii], err = inv.MutableSlot(len(arguments) + ii)
		if err != nil {
			return errors.WithMessagef(err, "%q: result #%d", p.name, ii)
		}
	}

	p.evaluatorMu.Lock()
	defer p.evaluatorMu.Unlock()
	p.numEvaluations.Add(1)
	if klog.V(2).Enabled() {
		klog.Infof("interpreter: evaluating %q, execution %s", p.name, inv.ID())
	}
	p.evaluator.ResetVisitStates()
	if err = p.evaluator.Evaluate(arguments, results); err != nil {
		return errors.WithMessagef(err, "%q: evaluation failed", p.name)
	}
	return nil
}
