// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
)

// Argument is a non-owning read-only view into the memory of an argument of an execution.
//
// The caller keeps ownership of the memory: it must not be changed until the execution is over.
type Argument struct {
	data []byte
}

// NewArgument returns an Argument viewing the memory of flat. No data is copied.
func NewArgument[T dtypes.Supported](flat []T) Argument {
	return Argument{data: bytesOf(flat)}
}

// ArgumentFromBytes returns an Argument viewing data.
func ArgumentFromBytes(data []byte) Argument {
	return Argument{data: data}
}

// Data returns the bytes viewed, the caller must not change them.
func (a Argument) Data() []byte { return a.data }

// Len returns the size of the view in bytes.
func (a Argument) Len() int { return len(a.data) }

// Result is a non-owning writable view into the memory where an execution stores one of its results.
//
// The caller keeps ownership of the memory: it must not be read or changed until the execution is over.
type Result struct {
	data []byte
}

// NewResult returns a Result viewing the memory of flat. No data is copied.
func NewResult[T dtypes.Supported](flat []T) Result {
	return Result{data: bytesOf(flat)}
}

// ResultFromBytes returns a Result viewing data.
func ResultFromBytes(data []byte) Result {
	return Result{data: data}
}

// Data returns the bytes viewed.
func (r Result) Data() []byte { return r.data }

// Len returns the size of the view in bytes.
func (r Result) Len() int { return len(r.data) }

// PreallocatedTemp is a non-owning writable view into the memory used by an execution to store
// intermediate values. It must be at least as large as the temp allocation of the program.
type PreallocatedTemp []byte

// bytesOf returns the memory of flat as a byte slice.
func bytesOf[T dtypes.Supported](flat []T) []byte {
	if len(flat) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(t)))
}

// overlaps returns whether the memory of the two byte slices overlap. Empty slices never overlap.
func overlaps(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return aStart < bStart+uintptr(len(b)) && bStart < aStart+uintptr(len(a))
}
