// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nanort/pkg/core/async"
	"github.com/gomlx/nanort/pkg/support/workerspool"
	"github.com/gomlx/nanort/pkg/support/xsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executable binds a Program to its AllocationTable, ready to be executed on a workers pool.
//
// It is immutable after Create, and safe for concurrent use: each call to Execute is an independent
// execution with its own Event.
type Executable struct {
	program Program
	name    string
	pool    *workerspool.Pool
	table   *AllocationTable
	config  Config

	// muFinalize protects finalized and the registration of new executions in inFlight.
	muFinalize sync.RWMutex
	finalized  bool
	inFlight   *xsync.DynamicWaitGroup

	numExecutions atomic.Int64
}

// Create an Executable for program, to be executed on pool, with the DefaultConfig.
//
// The pool is not owned by the Executable: it can be shared with other executables.
//
// It validates the program's buffer assignment and builds its AllocationTable: it fails with
// ErrMalformedExecutable if the assignment cannot be mapped to the program's arguments and results.
func Create(program Program, pool *workerspool.Pool) (*Executable, error) {
	return CreateWithConfig(program, pool, DefaultConfig())
}

// CreateWithConfig is like Create, but uses the given configuration. Config.MaxParallelism is ignored,
// it only applies to NewPool.
func CreateWithConfig(program Program, pool *workerspool.Pool, config Config) (*Executable, error) {
	if program == nil {
		return nil, errors.Wrap(ErrMalformedExecutable, "Create: nil program")
	}
	if pool == nil {
		return nil, errors.Errorf("Create(%q): nil workers pool", program.Name())
	}
	if config.SizeCheck != SizeCheckExact && config.SizeCheck != SizeCheckBound {
		return nil, errors.Errorf("Create(%q): invalid size check %s", program.Name(), config.SizeCheck)
	}
	table, err := BuildAllocationTable(program.BufferAssignment())
	if err != nil {
		return nil, errors.WithMessagef(err, "Create(%q)", program.Name())
	}
	return newExecutable(program, pool, config, table), nil
}

// newExecutable with an already validated table.
func newExecutable(program Program, pool *workerspool.Pool, config Config, table *AllocationTable) *Executable {
	e := &Executable{
		program:  program,
		name:     program.Name(),
		pool:     pool,
		table:    table,
		config:   config,
		inFlight: xsync.NewDynamicWaitGroup(),
	}
	if klog.V(2).Enabled() {
		klog.Infof("nanort: created executable %q, %s", e.name, table)
	}
	return e
}

// Name of the program.
func (e *Executable) Name() string { return e.name }

// Program returns the compiled program executed.
func (e *Executable) Program() Program { return e.program }

// AllocationTable used to bind the views to the program slots.
func (e *Executable) AllocationTable() *AllocationTable { return e.table }

// Config returns the configuration given at creation.
func (e *Executable) Config() Config { return e.config }

// NumInFlight returns the number of executions scheduled or running.
func (e *Executable) NumInFlight() int { return e.inFlight.Count() }

// NumExecutions returns the number of executions scheduled so far.
func (e *Executable) NumExecutions() int64 { return e.numExecutions.Load() }

// String implements fmt.Stringer.
func (e *Executable) String() string {
	return fmt.Sprintf("Executable(%q, %d arguments, %d results, %d allocations)",
		e.name, e.table.NumArguments(), e.table.NumResults(), e.table.NumAllocations())
}

// Execute schedules one execution of the program with the given views, and returns immediately
// with the Event that is resolved when the execution finishes.
//
// The number of arguments and results must match the AllocationTable, the size of each view must match
// the size of its slot (see SizeCheck), temp must be at least the size of the temp allocation, and writable
// views (results and temp) can't overlap any other view. Otherwise, it fails with ErrShapeMismatch and
// nothing is scheduled. After Finalize, it fails with ErrFinalized.
//
// Failures of the program while running are only reported by the Event, with an ExecutionError.
//
// The memory viewed by arguments, results and temp must not be mutated (or, for results, read) by the
// caller until the Event is ready.
func (e *Executable) Execute(arguments []Argument, results []Result, temp PreallocatedTemp) (*async.Event, error) {
	if err := e.checkViews(arguments, results, temp); err != nil {
		return nil, err
	}

	e.muFinalize.RLock()
	if e.finalized {
		e.muFinalize.RUnlock()
		return nil, errors.Wrapf(ErrFinalized, "Execute(%q)", e.name)
	}
	e.inFlight.Add(1)
	e.muFinalize.RUnlock()

	inv := newInvocation(uuid.NewString(), e.table, e.pool, arguments, results, temp)
	promise := async.NewPromise()
	e.numExecutions.Add(1)
	if klog.V(2).Enabled() {
		klog.Infof("nanort: scheduling execution %s of %q", inv.ID(), e.name)
	}
	e.pool.Schedule(func() { e.run(inv, promise) })
	return promise.Event(), nil
}

// Run executes the program with the given views and waits for it to finish.
//
// The views are only borrowed for the duration of the call. See Execute for details.
func (e *Executable) Run(arguments []Argument, results []Result, temp PreallocatedTemp) error {
	event, err := e.Execute(arguments, results, temp)
	if err != nil {
		return err
	}
	return event.Wait()
}

// Finalize waits for the executions in flight to finish, and makes further calls to Execute fail.
//
// It is safe to call it more than once, and from an Event continuation: continuations run after the
// execution released its worker, so queued executions can still start.
func (e *Executable) Finalize() {
	e.muFinalize.Lock()
	e.finalized = true
	e.muFinalize.Unlock()
	e.inFlight.Wait()
	klog.V(1).Infof("nanort: finalized executable %q after %d executions", e.name, e.numExecutions.Load())
}

// run is the task executed by a worker, for one execution.
//
// The Event is resolved on a separate goroutine, once the worker is released: continuations may block
// (e.g. on Finalize) without starving the pool of the workers the queued executions need.
func (e *Executable) run(inv *Invocation, promise *async.Promise) {
	promise.SetRunning()
	err := e.runProgram(inv)
	inv.release()
	e.inFlight.Done()
	go e.resolve(inv.ID(), promise, err)
}

// resolve the Event of the execution id with the result of the program.
func (e *Executable) resolve(id string, promise *async.Promise, err error) {
	if err != nil {
		execErr := &ExecutionError{Program: e.name, ExecutionID: id, Err: err}
		klog.V(1).Infof("nanort: %v", execErr)
		promise.Fail(execErr)
		return
	}
	if klog.V(2).Enabled() {
		klog.Infof("nanort: execution %s of %q completed", id, e.name)
	}
	promise.Complete()
}

// runProgram runs the program, converting panics to errors.
func (e *Executable) runProgram(inv *Invocation) (err error) {
	exception := exceptions.Try(func() { err = e.program.Run(inv) })
	if exception != nil {
		if panicErr, ok := exception.(error); ok {
			return errors.WithMessage(panicErr, "program panicked")
		}
		return errors.Errorf("program panicked: %v", exception)
	}
	return err
}

// checkViews validates the views given to Execute against the allocation table.
func (e *Executable) checkViews(arguments []Argument, results []Result, temp PreallocatedTemp) error {
	t := e.table
	if len(arguments) != t.NumArguments() {
		return errors.Wrapf(ErrShapeMismatch, "Execute(%q): expected %d arguments, got %d",
			e.name, t.NumArguments(), len(arguments))
	}
	if len(results) != t.NumResults() {
		return errors.Wrapf(ErrShapeMismatch, "Execute(%q): expected %d results, got %d",
			e.name, t.NumResults(), len(results))
	}

	// views holds the bytes that will be bound, and writable marks the ones of results and temp.
	views := make([][]byte, 0, len(arguments)+len(results)+1)
	writable := make([]bool, 0, cap(views))
	for ii, arg := range arguments {
		size := t.SlotSize(t.ArgumentAllocation(ii))
		if err := e.checkSize("argument", ii, arg.Len(), size); err != nil {
			return err
		}
		views = append(views, narrow(arg.Data(), size))
		writable = append(writable, false)
	}
	for ii, result := range results {
		size := t.SlotSize(t.ResultAllocation(ii))
		if err := e.checkSize("result", ii, result.Len(), size); err != nil {
			return err
		}
		views = append(views, narrow(result.Data(), size))
		writable = append(writable, true)
	}
	if idx, ok := t.TempAllocation(); ok {
		size := t.SlotSize(idx)
		if size != UnknownSize && len(temp) < size {
			return errors.Wrapf(ErrShapeMismatch, "Execute(%q): temp buffer has %d bytes, program requires %d",
				e.name, len(temp), size)
		}
		views = append(views, narrow(temp, size))
		writable = append(writable, true)
	}

	for ii := range views {
		if !writable[ii] {
			continue
		}
		for jj := range views {
			if jj == ii || (writable[jj] && jj < ii) {
				continue
			}
			if overlaps(views[ii], views[jj]) {
				return errors.Wrapf(ErrShapeMismatch, "Execute(%q): writable %s overlaps %s",
					e.name, e.describeView(ii), e.describeView(jj))
			}
		}
	}
	return nil
}

// checkSize of one argument or result view.
func (e *Executable) checkSize(role string, ii, length, size int) error {
	if size == UnknownSize {
		return nil
	}
	if length == size || (e.config.SizeCheck == SizeCheckBound && length > size) {
		return nil
	}
	return errors.Wrapf(ErrShapeMismatch, "Execute(%q): %s #%d has %d bytes, program expects %d",
		e.name, role, ii, length, size)
}

// describeView for error messages, with ii an index in the views collected by checkViews.
func (e *Executable) describeView(ii int) string {
	numArgs, numResults := e.table.NumArguments(), e.table.NumResults()
	switch {
	case ii < numArgs:
		return fmt.Sprintf("argument #%d", ii)
	case ii < numArgs+numResults:
		return fmt.Sprintf("result #%d", ii-numArgs)
	default:
		return "temp buffer"
	}
}

// narrow data to at most size bytes, if size is known.
func narrow(data []byte, size int) []byte {
	if size != UnknownSize && len(data) > size {
		return data[:size:size]
	}
	return data
}
