// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nanort/backends/nanort"
	"github.com/gomlx/nanort/pkg/core/async"
	"github.com/gomlx/nanort/pkg/core/shapes"
	"github.com/gomlx/nanort/pkg/support/workerspool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeSizeBytes(t *testing.T) {
	require.Equal(t, 12, ShapeSizeBytes(shapes.Make(dtypes.Float32, 3)))
	require.Equal(t, 8, ShapeSizeBytes(shapes.Make(dtypes.Int64)))
	require.Equal(t, 6, ShapeSizeBytes(shapes.Make(dtypes.Bool, 2, 3)))
	tuple := shapes.MakeTuple([]shapes.Shape{shapes.Make(dtypes.Float32, 3), shapes.Make(dtypes.Int8)})
	require.Equal(t, 2*8, ShapeSizeBytes(tuple))
}

func TestNewProgram(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 4)
	program, err := NewProgram("add", []shapes.Shape{shape, shape}, []shapes.Shape{shape},
		NewElementwise(func(a, b float32) float32 { return a + b }))
	require.NoError(t, err)
	require.Equal(t, "add", program.Name())
	assignment := program.BufferAssignment()
	require.Equal(t, 2, assignment.NumParameters)
	require.Equal(t, 1, assignment.NumResults)
	require.Len(t, assignment.Allocations, 3)
	require.Equal(t, nanort.AllocationResult, assignment.Allocations[2].Kind)
	require.Equal(t, 16, assignment.Allocations[2].Size)

	huge := shapes.Make(dtypes.Float32, 1<<31, 1<<31, 4)
	_, err = NewProgram("overflow", []shapes.Shape{huge}, nil, NewElementwise(func(a, b float32) float32 { return a }))
	require.Error(t, err)

	_, err = NewProgram("nil", nil, nil, nil)
	require.Error(t, err)
	_, err = NewProgram("invalid", []shapes.Shape{shapes.Invalid()}, nil, NewElementwise(func(a, b int32) int32 { return a }))
	require.Error(t, err)
}

func TestExecute(t *testing.T) {
	shape := shapes.Make(dtypes.Int32, 3)
	program, err := NewProgram("mul", []shapes.Shape{shape, shape}, []shapes.Shape{shape},
		NewElementwise(func(a, b int32) int32 { return a * b }))
	require.NoError(t, err)
	pool := workerspool.New()
	exec, err := nanort.Create(program, pool)
	require.NoError(t, err)

	out := make([]int32, 3)
	require.NoError(t, exec.Run(
		[]nanort.Argument{nanort.NewArgument([]int32{1, 2, 3}), nanort.NewArgument([]int32{4, 5, 6})},
		[]nanort.Result{nanort.NewResult(out)}, nil))
	require.Equal(t, []int32{4, 10, 18}, out)

	// The Elementwise evaluator fails if ResetVisitStates is not called between evaluations.
	require.NoError(t, exec.Run(
		[]nanort.Argument{nanort.NewArgument([]int32{1, 1, 1}), nanort.NewArgument([]int32{7, 8, 9})},
		[]nanort.Result{nanort.NewResult(out)}, nil))
	require.Equal(t, []int32{7, 8, 9}, out)
	require.Equal(t, int64(2), program.NumEvaluations())

	// Wrong size is caught by the executable, before evaluating.
	_, err = exec.Execute(
		[]nanort.Argument{nanort.NewArgument([]int32{1, 1}), nanort.NewArgument([]int32{7, 8, 9})},
		[]nanort.Result{nanort.NewResult(out)}, nil)
	require.ErrorIs(t, err, nanort.ErrShapeMismatch)
}

// recordingEvaluator records concurrent use and resets.
type recordingEvaluator struct {
	active, maxActive, resets, evaluations atomic.Int32
	fail                                   error
}

func (e *recordingEvaluator) ResetVisitStates() { e.resets.Add(1) }

func (e *recordingEvaluator) Evaluate(arguments [][]byte, results [][]byte) error {
	active := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		current := e.maxActive.Load()
		if active <= current || e.maxActive.CompareAndSwap(current, active) {
			break
		}
	}
	e.evaluations.Add(1)
	time.Sleep(time.Millisecond)
	if e.fail != nil {
		return e.fail
	}
	copy(results[0], arguments[0])
	return nil
}

func TestSerializedEvaluation(t *testing.T) {
	evaluator := &recordingEvaluator{}
	shape := shapes.Make(dtypes.Uint8, 8)
	program, err := NewProgram("copy", []shapes.Shape{shape}, []shapes.Shape{shape}, evaluator)
	require.NoError(t, err)
	pool := workerspool.New()
	pool.SetMaxParallelism(4)
	exec, err := nanort.Create(program, pool)
	require.NoError(t, err)

	const numExecutions = 16
	events := make([]*async.Event, numExecutions)
	outputs := make([][]uint8, numExecutions)
	var wg sync.WaitGroup
	for ii := range numExecutions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			input := make([]uint8, 8)
			for jj := range input {
				input[jj] = uint8(ii)
			}
			outputs[ii] = make([]uint8, 8)
			var err error
			events[ii], err = exec.Execute([]nanort.Argument{nanort.NewArgument(input)},
				[]nanort.Result{nanort.NewResult(outputs[ii])}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NoError(t, async.WaitAll(events...))
	require.Equal(t, int32(1), evaluator.maxActive.Load(), "evaluations must not run concurrently")
	require.Equal(t, int32(numExecutions), evaluator.resets.Load())
	require.Equal(t, int32(numExecutions), evaluator.evaluations.Load())
	for ii, output := range outputs {
		for _, v := range output {
			require.Equal(t, uint8(ii), v)
		}
	}
}

func TestEvaluationFailure(t *testing.T) {
	cause := errors.New("unsupported op")
	evaluator := &recordingEvaluator{fail: cause}
	shape := shapes.Make(dtypes.Float64, 2)
	program, err := NewProgram("failing", []shapes.Shape{shape}, []shapes.Shape{shape}, evaluator)
	require.NoError(t, err)
	exec, err := nanort.Create(program, workerspool.New())
	require.NoError(t, err)

	err = exec.Run([]nanort.Argument{nanort.NewArgument([]float64{1, 2})},
		[]nanort.Result{nanort.NewResult(make([]float64, 2))}, nil)
	require.ErrorIs(t, err, nanort.ErrExecutionFailure)
	require.ErrorIs(t, err, cause)
	var execErr *nanort.ExecutionError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, "failing", execErr.Program)
}
