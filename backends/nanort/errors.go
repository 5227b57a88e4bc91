// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by the package. Returned errors wrap them with details, use errors.Is to test for them.
var (
	// ErrMalformedExecutable is returned by Create when the buffer assignment of the program cannot be
	// mapped to its declared arguments and results.
	ErrMalformedExecutable = errors.New("malformed executable")

	// ErrShapeMismatch is returned by Executable.Execute, before anything is scheduled, when the views given
	// don't match the allocation table.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrExecutionFailure is matched by the errors reported by the completion Event of executions that
	// failed while running. See ExecutionError.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrFinalized is returned by Executable.Execute after Executable.Finalize was called.
	ErrFinalized = errors.New("executable finalized")

	// ErrUnboundSlot is returned by Invocation accessors for slots with no view bound.
	ErrUnboundSlot = errors.New("slot not bound")

	// ErrReadOnlySlot is returned by Invocation.MutableSlot for argument slots.
	ErrReadOnlySlot = errors.New("slot is read-only")

	// ErrInvocationReleased is returned by Invocation accessors once the execution is over.
	ErrInvocationReleased = errors.New("invocation released")
)

// ExecutionError is the error carried by the Event of a failed execution.
//
// It matches ErrExecutionFailure with errors.Is, and unwraps to the error returned (or panicked) by the program.
type ExecutionError struct {
	// Program is the name of the program that failed.
	Program string

	// ExecutionID identifies the failed execution, see Invocation.ID.
	ExecutionID string

	// Err is the cause of the failure.
	Err error
}

// Error implements error.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s of program %q (execution %s): %v", ErrExecutionFailure, e.Program, e.ExecutionID, e.Err)
}

// Unwrap returns the cause of the failure.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Is makes ExecutionError match ErrExecutionFailure.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailure }
