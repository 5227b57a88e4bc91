// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nanort runs ahead-of-time compiled programs on caller-provided memory.
//
// A Program is produced by a compiler together with its BufferAssignment: the list of memory slots
// (allocations) it uses, and which ones hold its arguments, its results and its scratch space.
// Create validates the assignment once and builds the Executable, which can then be executed any number
// of times, concurrently, on a shared workerspool.Pool:
//
//	exec, err := nanort.Create(program, pool)
//	...
//	event, err := exec.Execute(
//		[]nanort.Argument{nanort.NewArgument(x), nanort.NewArgument(y)},
//		[]nanort.Result{nanort.NewResult(out)},
//		temp)
//	if err != nil { ... } // Invalid views, nothing was scheduled.
//	...
//	err = event.Wait() // Or poll with event.IsReady(), or chain with event.AndThen().
//
// nanort never allocates or copies the buffers: views only alias the caller's memory. It is the caller's
// responsibility to keep the buffers untouched until the Event is ready, and to never give overlapping
// writable views to concurrent executions: this is not detected, and results in data races.
// Executable.Run executes and waits, for callers that don't need the asynchronous form.
package nanort

// Program is a compiled program, the input of Create.
//
// Run must be safe for concurrent use: concurrent executions call it with different Invocations.
type Program interface {
	// Name of the program, used in logs and errors.
	Name() string

	// BufferAssignment returns the compiler's plan for the program memory.
	// It is read once by Create and must not change afterward.
	BufferAssignment() *BufferAssignment

	// Run executes the program against the slots of the Invocation.
	// Errors (and panics) are reported as failures of the execution.
	Run(inv *Invocation) error
}

// FuncProgram is a Program implemented by a Go function.
type FuncProgram struct {
	name       string
	assignment *BufferAssignment
	fn         func(inv *Invocation) error
}

var _ Program = (*FuncProgram)(nil)

// NewFuncProgram creates a Program named name, with the given buffer assignment, run by fn.
func NewFuncProgram(name string, assignment *BufferAssignment, fn func(inv *Invocation) error) *FuncProgram {
	return &FuncProgram{name: name, assignment: assignment, fn: fn}
}

// Name implements Program.
func (p *FuncProgram) Name() string { return p.name }

// BufferAssignment implements Program.
func (p *FuncProgram) BufferAssignment() *BufferAssignment { return p.assignment }

// Run implements Program.
func (p *FuncProgram) Run(inv *Invocation) error { return p.fn(inv) }
