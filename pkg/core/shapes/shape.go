// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dtype and dimensions of the data held in one buffer slot.
//
// A compiled program describes each of its allocations either by a byte size or by a Shape,
// from which the byte size is derived with Shape.Memory.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of an array.
//   - Axis: is the index of a dimension on a multidimensional array.
//   - Dimension: the size of a multi-dimensions array in one of its axes.
//   - DType: the data type of the unit element. Enumeration defined in github.com/gomlx/gopjrt/dtypes
//   - Scalar: is a shape where there are no axes (or dimensions), only a single value
//     of the associated DType.
//
// Example: `[][]int32{{0, 1, 2}, {3, 4, 5}}` has shape `(Int32)[2 3]`, created with
// `shapes.Make(dtypes.Int32, 2, 3)`, and it takes 24 bytes.
package shapes

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of the value stored in one allocation.
//
// Use Make to create a new shape.
type Shape struct {
	DType       dtypes.DType
	Dimensions  []int
	TupleShapes []Shape // Shapes of the tuple, if this is a tuple.
}

// Make returns a Shape structure filled with the values given.
// See MakeTuple for tuple shapes.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// FromDescription is the error-returning version of Make, used for shapes read from
// a plan description: dtype is given by its name (e.g.: "float32", case-insensitive).
func FromDescription(dtypeName string, dimensions []int) (Shape, error) {
	dtype, err := dtypes.DTypeString(dtypeName)
	if err != nil {
		if dtype, err = dtypes.DTypeString(capitalize(dtypeName)); err != nil {
			return Invalid(), errors.Wrapf(err, "unknown dtype %q", dtypeName)
		}
	}
	if dtype == dtypes.InvalidDType {
		return Invalid(), errors.Errorf("invalid dtype %q", dtypeName)
	}
	for axis, dim := range dimensions {
		if dim <= 0 {
			return Invalid(), errors.Errorf("invalid dimension %d for axis %d of shape (%s)%v",
				dim, axis, dtype, dimensions)
		}
	}
	shape := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	if _, err := shape.ByteSize(); err != nil {
		return Invalid(), err
	}
	return shape, nil
}

func capitalize(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + strings.ToLower(name[1:])
}

// Scalar returns a scalar Shape for the given type.
func Scalar[T dtypes.Number]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType || len(s.TupleShapes) > 0 }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.TupleSize() > 0 {
		parts := make([]string, 0, s.TupleSize())
		for _, tuple := range s.TupleShapes {
			parts = append(parts, tuple.String())
		}
		return fmt.Sprintf("Tuple<%s>", strings.Join(parts, ", "))
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
//
// Tuples have no memory of their own: see interpreter.ShapeSizeBytes for the size of their index tables.
func (s Shape) Memory() uintptr {
	if s.IsTuple() {
		return 0
	}
	return s.DType.Memory() * uintptr(s.Size())
}

// ByteSize is like Memory, but it fails if the size in bytes overflows an int.
// Tuples have no memory of their own, and return 0.
func (s Shape) ByteSize() (int, error) {
	if s.IsTuple() {
		return 0, nil
	}
	size := int(s.DType.Memory())
	for axis, dim := range s.Dimensions {
		if dim < 0 {
			return 0, errors.Errorf("shape %s has negative dimension for axis %d", s, axis)
		}
		if dim != 0 && size > math.MaxInt/dim {
			return 0, errors.Errorf("shape %s size in bytes overflows at axis %d", s, axis)
		}
		size *= dim
	}
	return size, nil
}

// MakeTuple returns a shape representing a tuple of elements with the given shapes.
func MakeTuple(elements []Shape) Shape {
	return Shape{DType: dtypes.InvalidDType, Dimensions: nil, TupleShapes: elements}
}

// IsTuple returns whether the shape represents a tuple.
func (s Shape) IsTuple() bool {
	return s.DType == dtypes.InvalidDType
}

// TupleSize returns the number of elements in the tuple, if it is a tuple.
func (s Shape) TupleSize() int {
	return len(s.TupleShapes)
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	if s.IsTuple() {
		if s.TupleSize() != s2.TupleSize() {
			return false
		}
		for ii, element := range s.TupleShapes {
			if !element.Equal(s2.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	if s.Rank() != s2.Rank() {
		return false
	}
	if s.IsScalar() {
		return true
	}
	// For normal shapes just compare dimensions.
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	if s.TupleSize() > 0 {
		s2.TupleShapes = make([]Shape, 0, len(s.TupleShapes))
		for _, subShape := range s.TupleShapes {
			s2.TupleShapes = append(s2.TupleShapes, subShape.Clone())
		}
	}
	return
}
