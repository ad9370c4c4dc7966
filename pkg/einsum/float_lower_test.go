package einsum_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/contract/pkg/core/dtype"
	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/einsum"
	"github.com/gomlx/contract/pkg/kernel"
)

func TestLowerFloatCleanMKNEmitsLirMatMul(t *testing.T) {
	mapping := ikKjMapping()
	aShape := shapes.Make(4, 3)
	bShape := shapes.Make(3, 5)
	model, node := newEinsumModel(mapping, aShape, bShape)

	mkn, patch, err := einsum.Resolve(model, node)
	require.NoError(t, err)
	require.Nil(t, patch)

	lowerPatch, err := einsum.LowerFloat(model, node, mkn, kernel.Ops())
	require.NoError(t, err)
	require.NoError(t, lowerPatch.Apply())

	final := model.Nodes[len(model.Nodes)-1]
	require.Equal(t, "LirMatMul", final.Op.OpName())
	require.True(t, final.OutputFacts[0].Shape.Equal(shapes.Make(4, 5)))
}

func TestLowerFloatSwapsWhenMLessThanN(t *testing.T) {
	// Scenario 6: a_shape=[2,100], b_shape=[100,2000]: M=2 < N=2000.
	mapping := ikKjMapping()
	aShape := shapes.Make(2, 100)
	bShape := shapes.Make(100, 2000)
	model, node := newEinsumModel(mapping, aShape, bShape)

	mkn, patch, err := einsum.Resolve(model, node)
	require.NoError(t, err)
	require.Nil(t, patch)

	lowerPatch, err := einsum.LowerFloat(model, node, mkn, kernel.Ops())
	require.NoError(t, err)
	require.NoError(t, lowerPatch.Apply())

	final := model.Nodes[len(model.Nodes)-1]
	require.True(t, final.OutputFacts[0].Shape.Equal(shapes.Make(2, 2000)))
}

func TestLowerFloatRejectsQuantized(t *testing.T) {
	mapping := ikKjMapping()
	model, node := newEinsumModel(mapping, shapes.Make(4, 3), shapes.Make(3, 5))
	op := node.Op.(*graph.EinSumOp)
	op.QParams = &graph.QuantOutputParams{DType: dtype.QU8WithParams(dtype.QuantParams{})}

	_, err := einsum.LowerFloat(model, node, &einsum.MKN{M: 'i', K: 'k', N: 'j'}, kernel.Ops())
	require.Error(t, err)
}
