// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nanort/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBufferAssignment(t *testing.T) {
	plan := `
parameters: 2
results: 1
allocations:
  - {kind: parameter, number: 1, dtype: float32, dimensions: [4]}
  - {kind: internal, size: 100}
  - {kind: parameter, number: 0, size: 16}
  - {kind: temp, size: 64}
  - {kind: Result, number: 0, dtype: int8, dimensions: [2, 8]}
`
	assignment, err := ParseBufferAssignment([]byte(plan))
	require.NoError(t, err)
	require.Equal(t, 2, assignment.NumParameters)
	require.Equal(t, 1, assignment.NumResults)
	require.Len(t, assignment.Allocations, 5)
	assert.Equal(t, AllocationParameter, assignment.Allocations[0].Kind)
	assert.True(t, assignment.Allocations[0].Shape.Equal(shapes.Make(dtypes.Float32, 4)))
	size, err := assignment.Allocations[0].ByteSize()
	require.NoError(t, err)
	assert.Equal(t, 16, size)
	assert.Equal(t, AllocationInternal, assignment.Allocations[1].Kind)
	assert.Equal(t, AllocationResult, assignment.Allocations[4].Kind)
	size, err = assignment.Allocations[4].ByteSize()
	require.NoError(t, err)
	assert.Equal(t, 16, size)
	assert.Contains(t, assignment.Allocations[4].String(), "result #0")

	table, err := BuildAllocationTable(assignment)
	require.NoError(t, err)
	require.Equal(t, 2, table.ArgumentAllocation(0))
	require.Equal(t, 0, table.ArgumentAllocation(1))
	require.Equal(t, 4, table.ResultAllocation(0))
}

func TestParseBufferAssignment_Errors(t *testing.T) {
	for name, plan := range map[string]string{
		"unknown kind":        "allocations: [{kind: scratch}]",
		"unknown field":       "allocations: [{kind: temp, bytes: 10}]",
		"unknown dtype":       "allocations: [{kind: temp, dtype: float7, dimensions: [2]}]",
		"dimensions no dtype": "allocations: [{kind: temp, dimensions: [2]}]",
		"invalid yaml":        "allocations: [",
	} {
		_, err := ParseBufferAssignment([]byte(plan))
		assert.Error(t, err, "case %q", name)
	}
}

func TestAllocationKind(t *testing.T) {
	for _, kind := range []AllocationKind{AllocationInternal, AllocationParameter, AllocationResult, AllocationTemp} {
		parsed, err := AllocationKindString(kind.String())
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}
	require.Equal(t, "AllocationKind(9)", AllocationKind(9).String())
}
