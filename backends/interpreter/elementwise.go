// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Elementwise is an Evaluator of one binary operation applied elementwise to two parameters
// of the same shape, producing one result of that shape.
//
// It is not safe for concurrent use: Program serializes its evaluations.
type Elementwise[T dtypes.Number] struct {
	op func(a, b T) T

	// visited is set during an evaluation, and cleared by ResetVisitStates.
	visited bool
}

var _ Evaluator = (*Elementwise[float32])(nil)

// NewElementwise returns an Evaluator that computes op(a[i], b[i]) for each element.
func NewElementwise[T dtypes.Number](op func(a, b T) T) *Elementwise[T] {
	return &Elementwise[T]{op: op}
}

// ResetVisitStates implements Evaluator.
func (e *Elementwise[T]) ResetVisitStates() { e.visited = false }

// Evaluate implements Evaluator.
func (e *Elementwise[T]) Evaluate(arguments [][]byte, results [][]byte) error {
	if e.visited {
		return errors.New("Elementwise evaluated twice without ResetVisitStates")
	}
	e.visited = true
	if len(arguments) != 2 || len(results) != 1 {
		return errors.Errorf("Elementwise takes 2 arguments and 1 result, got %d and %d", len(arguments), len(results))
	}
	a, b, out := flatOf[T](arguments[0]), flatOf[T](arguments[1]), flatOf[T](results[0])
	if len(a) != len(b) || len(a) != len(out) {
		return errors.Errorf("Elementwise operands have %d, %d and %d elements", len(a), len(b), len(out))
	}
	for ii := range out {
		out[ii] = e.op(a[ii], b[ii])
	}
	return nil
}

// flatOf reinterprets data as a slice of T. Trailing bytes that don't fill a whole element are ignored.
func flatOf[T dtypes.Number](data []byte) []T {
	var t T
	n := len(data) / int(unsafe.Sizeof(t))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n)
}
