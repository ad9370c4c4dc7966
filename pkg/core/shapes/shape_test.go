package shapes_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/contract/pkg/core/shapes"
)

func TestMatMulShapesScenario1(t *testing.T) {
	a := shapes.Make(4, 3)
	b := shapes.Make(3, 5)
	normA, normB, out, err := shapes.MatMulShapes(a, b)
	require.NoError(t, err)
	require.True(t, normA.Equal(a))
	require.True(t, normB.Equal(b))
	require.True(t, out.Equal(shapes.Make(4, 5)))
}

func TestMatMulShapesScenario2Broadcast(t *testing.T) {
	a := shapes.Make(2, 1, 3, 4)
	b := shapes.Make(1, 5, 4, 2)
	_, _, out, err := shapes.MatMulShapes(a, b)
	require.NoError(t, err)
	require.True(t, out.Equal(shapes.Make(2, 5, 3, 2)))
}

func TestMatMulShapesZeroK(t *testing.T) {
	a := shapes.Make(4, 0)
	b := shapes.Make(0, 3)
	_, _, out, err := shapes.MatMulShapes(a, b)
	require.NoError(t, err)
	require.True(t, out.Equal(shapes.Make(4, 3)))
}

func TestMatMulShapesContractionMismatch(t *testing.T) {
	a := shapes.Make(4, 3)
	b := shapes.Make(7, 5)
	_, _, _, err := shapes.MatMulShapes(a, b)
	require.Error(t, err)
}

func TestMatMulShapesRankPadding(t *testing.T) {
	// a row vector (rank 1) gets padded to [1, K].
	a := shapes.Make(4)
	b := shapes.Make(4, 5)
	normA, _, out, err := shapes.MatMulShapes(a, b)
	require.NoError(t, err)
	require.Equal(t, 2, normA.Rank())
	require.True(t, out.Equal(shapes.Make(1, 5)))
}

func TestBroadcastDim(t *testing.T) {
	one := shapes.NewConcreteDim(1)
	five := shapes.NewConcreteDim(5)

	d, err := shapes.BroadcastDim(one, five)
	require.NoError(t, err)
	require.True(t, d.Equal(five))

	d, err = shapes.BroadcastDim(five, one)
	require.NoError(t, err)
	require.True(t, d.Equal(five))

	_, err = shapes.BroadcastDim(five, shapes.NewConcreteDim(3))
	require.Error(t, err)
}

func TestDimLessIndeterminate(t *testing.T) {
	sym := shapes.NewSymbolicDim("N")
	_, decided := sym.Less(shapes.NewConcreteDim(4))
	require.False(t, decided)

	same, decided := sym.Less(shapes.NewSymbolicDim("N"))
	require.True(t, decided)
	require.False(t, same)
}

func TestDimIsOne(t *testing.T) {
	require.True(t, shapes.NewConcreteDim(1).IsOne())
	require.False(t, shapes.NewConcreteDim(2).IsOne())
	require.False(t, shapes.NewSymbolicDim("N").IsOne())
}
