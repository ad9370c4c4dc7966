package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/contract/pkg/core/dtype"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/core/tensor"
)

func TestNewF32RejectsWrongElementCount(t *testing.T) {
	_, err := tensor.NewF32(shapes.Make(2, 3), []float32{1, 2, 3})
	require.Error(t, err)
}

func TestNewF32AccessorsAndFact(t *testing.T) {
	tn, err := tensor.NewF32(shapes.Make(2, 2), []float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, dtype.F32Type(), tn.DType())
	require.True(t, tn.Shape().Equal(shapes.Make(2, 2)))
	require.Equal(t, []float32{1, 2, 3, 4}, tn.F32())
}

func TestF32PanicsOnWrongKind(t *testing.T) {
	tn, err := tensor.NewI32(shapes.Make(2), []int32{1, 2})
	require.NoError(t, err)
	require.Panics(t, func() { tn.F32() })
}

func TestAsF32WidensEveryKind(t *testing.T) {
	i32, err := tensor.NewI32(shapes.Make(2), []int32{1, -2})
	require.NoError(t, err)
	w, err := i32.AsF32()
	require.NoError(t, err)
	require.Equal(t, []float32{1, -2}, w)

	u8, err := tensor.NewU8(dtype.U8Type(), shapes.Make(3), []uint8{1, 2, 3})
	require.NoError(t, err)
	w, err = u8.AsF32()
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, w)

	i8, err := tensor.NewI8(dtype.I8Type(), shapes.Make(2), []int8{-1, 5})
	require.NoError(t, err)
	w, err = i8.AsF32()
	require.NoError(t, err)
	require.Equal(t, []float32{-1, 5}, w)
}

func TestNewTensorRejectsSymbolicShape(t *testing.T) {
	shape := shapes.Shape{shapes.NewSymbolicDim("N")}
	_, err := tensor.NewF32(shape, nil)
	require.Error(t, err)
}
