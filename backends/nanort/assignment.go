// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gomlx/nanort/pkg/core/shapes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AllocationKind is the role of an allocation in a BufferAssignment.
type AllocationKind int

const (
	// AllocationInternal is an allocation that is neither argument, result nor temp: the compiler
	// folded it elsewhere, and no view is ever bound to it.
	AllocationInternal AllocationKind = iota

	// AllocationParameter holds the argument Allocation.Number.
	AllocationParameter

	// AllocationResult holds the result Allocation.Number.
	AllocationResult

	// AllocationTemp is the scratch space, bound to the PreallocatedTemp given to Execute.
	AllocationTemp
)

var allocationKindNames = [...]string{"internal", "parameter", "result", "temp"}

// String implements fmt.Stringer.
func (k AllocationKind) String() string {
	if k < 0 || int(k) >= len(allocationKindNames) {
		return fmt.Sprintf("AllocationKind(%d)", int(k))
	}
	return allocationKindNames[k]
}

// AllocationKindString converts the name of an AllocationKind (case-insensitive) to its value.
func AllocationKindString(name string) (AllocationKind, error) {
	lower := strings.ToLower(name)
	for ii, kindName := range allocationKindNames {
		if kindName == lower {
			return AllocationKind(ii), nil
		}
	}
	return AllocationInternal, errors.Errorf("unknown allocation kind %q, valid values are %q", name, allocationKindNames)
}

// Allocation is one slot of a BufferAssignment.
type Allocation struct {
	Kind AllocationKind

	// Number is the parameter number for AllocationParameter, the result index for AllocationResult,
	// and ignored otherwise.
	Number int

	// Size in bytes. If 0, it is taken from Shape.
	Size int

	// Shape is optional. If both Size and Shape are given, they must agree, except for tuples, whose
	// size is always taken from Size.
	Shape shapes.Shape
}

// ByteSize returns the size in bytes of the allocation.
// It fails if the size of the Shape overflows, or if it disagrees with Size.
func (a Allocation) ByteSize() (int, error) {
	if !a.Shape.Ok() || a.Shape.IsTuple() {
		return a.Size, nil
	}
	shapeSize, err := a.Shape.ByteSize()
	if err != nil {
		return 0, err
	}
	if a.Size != 0 && a.Size != shapeSize {
		return 0, errors.Errorf("size %d bytes doesn't match shape %s (%d bytes)", a.Size, a.Shape, shapeSize)
	}
	return shapeSize, nil
}

// String implements fmt.Stringer.
func (a Allocation) String() string {
	var parts []string
	switch a.Kind {
	case AllocationParameter:
		parts = append(parts, fmt.Sprintf("parameter #%d", a.Number))
	case AllocationResult:
		parts = append(parts, fmt.Sprintf("result #%d", a.Number))
	default:
		parts = append(parts, a.Kind.String())
	}
	if a.Shape.Ok() {
		parts = append(parts, a.Shape.String())
	}
	if size, err := a.ByteSize(); err == nil {
		parts = append(parts, fmt.Sprintf("%d bytes", size))
	} else {
		parts = append(parts, "invalid size")
	}
	return strings.Join(parts, ", ")
}

// BufferAssignment is the compiler's static plan of the memory a program uses:
// allocation ii is the slot ii seen by the program during an execution.
//
// It is inbound data produced by the compiler: nanort only validates it, see BuildAllocationTable.
type BufferAssignment struct {
	// NumParameters and NumResults are the number of arguments and results declared by the program.
	NumParameters, NumResults int

	Allocations []Allocation
}

// allocationDescription is the YAML form of an Allocation.
type allocationDescription struct {
	Kind       string `yaml:"kind"`
	Number     int    `yaml:"number,omitempty"`
	Size       int    `yaml:"size,omitempty"`
	DType      string `yaml:"dtype,omitempty"`
	Dimensions []int  `yaml:"dimensions,omitempty"`
}

// bufferAssignmentDescription is the YAML form of a BufferAssignment.
type bufferAssignmentDescription struct {
	Parameters  int                     `yaml:"parameters"`
	Results     int                     `yaml:"results"`
	Allocations []allocationDescription `yaml:"allocations"`
}

// LoadBufferAssignment reads a BufferAssignment described in YAML. Example:
//
//	parameters: 2
//	results: 1
//	allocations:
//	  - {kind: parameter, number: 0, dtype: float32, dimensions: [1024]}
//	  - {kind: parameter, number: 1, dtype: float32, dimensions: [1024]}
//	  - {kind: temp, size: 4096}
//	  - {kind: result, number: 0, dtype: float32, dimensions: [1024]}
//
// The plan is only decoded here, it is validated when building the AllocationTable.
func LoadBufferAssignment(r io.Reader) (*BufferAssignment, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var desc bufferAssignmentDescription
	if err := decoder.Decode(&desc); err != nil {
		return nil, errors.Wrap(err, "failed to decode buffer assignment")
	}
	assignment := &BufferAssignment{
		NumParameters: desc.Parameters,
		NumResults:    desc.Results,
		Allocations:   make([]Allocation, 0, len(desc.Allocations)),
	}
	for ii, allocDesc := range desc.Allocations {
		kind, err := AllocationKindString(allocDesc.Kind)
		if err != nil {
			return nil, errors.WithMessagef(err, "allocation #%d", ii)
		}
		alloc := Allocation{Kind: kind, Number: allocDesc.Number, Size: allocDesc.Size}
		if allocDesc.DType != "" {
			alloc.Shape, err = shapes.FromDescription(allocDesc.DType, allocDesc.Dimensions)
			if err != nil {
				return nil, errors.WithMessagef(err, "allocation #%d", ii)
			}
		} else if len(allocDesc.Dimensions) > 0 {
			return nil, errors.Errorf("allocation #%d has dimensions %v but no dtype", ii, allocDesc.Dimensions)
		}
		assignment.Allocations = append(assignment.Allocations, alloc)
	}
	return assignment, nil
}

// ParseBufferAssignment is LoadBufferAssignment from a byte slice.
func ParseBufferAssignment(data []byte) (*BufferAssignment, error) {
	return LoadBufferAssignment(bytes.NewReader(data))
}
