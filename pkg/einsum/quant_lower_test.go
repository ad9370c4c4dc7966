package einsum_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/dtype"
	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/core/tensor"
	"github.com/gomlx/contract/pkg/einsum"
	"github.com/gomlx/contract/pkg/kernel"
)

// newQuantEinsumModel builds the 9-source-plus-einsum model spec.md §6
// requires for a quantized einsum: [a,b,bias,a0,a_scale,b0,b_scale,c0,c_scale].
func newQuantEinsumModel(mapping *axes.AxesMapping, aDT, bDT dtype.DatumType, outDT dtype.DatumType) (*graph.Model, *graph.Node) {
	m := &graph.Model{}
	scalar := tensor.Fact{DType: dtype.F32Type(), Shape: shapes.Shape{}}
	zpScalar := tensor.Fact{DType: dtype.I32Type(), Shape: shapes.Shape{}}

	aShape := shapes.Make(2, 2)
	bShape := shapes.Make(2, 2)
	biasShape := shapes.Make(2, 2)

	add := func(name string, fact tensor.Fact) graph.OutletID {
		n := &graph.Node{ID: len(m.Nodes), Name: name, OutputFacts: []tensor.Fact{fact}}
		m.Nodes = append(m.Nodes, n)
		return graph.OutletID{NodeID: n.ID, Slot: 0}
	}

	aOut := add("a", tensor.Fact{DType: aDT, Shape: aShape})
	bOut := add("b", tensor.Fact{DType: bDT, Shape: bShape})
	biasOut := add("bias", tensor.Fact{DType: dtype.I32Type(), Shape: biasShape})
	a0Out := add("a0", zpScalar)
	aScaleOut := add("a_scale", scalar)
	b0Out := add("b0", zpScalar)
	bScaleOut := add("b_scale", scalar)
	c0Out := add("c0", zpScalar)
	cScaleOut := add("c_scale", scalar)

	op := &graph.EinSumOp{
		Axes:        mapping,
		OperatingDT: dtype.I32Type(),
		QParams:     &graph.QuantOutputParams{DType: outDT},
	}
	n := &graph.Node{
		ID:     len(m.Nodes),
		Name:   "qeinsum",
		Op:     op,
		Inputs: []graph.OutletID{aOut, bOut, biasOut, a0Out, aScaleOut, b0Out, bScaleOut, c0Out, cScaleOut},
		OutputFacts: []tensor.Fact{{
			DType: outDT,
			Shape: shapes.Make(2, 2),
		}},
	}
	m.Nodes = append(m.Nodes, n)
	return m, n
}

// ikKjQuantMapping builds "ik,kj->ij" over the 9 quantized inputs: a
// carries i,k and b carries k,j as in ikKjMapping, bias carries i,j,
// and the six scalar zero-point/scale inputs carry no axes.
func ikKjQuantMapping() *axes.AxesMapping {
	in := func(a, b, bias []int) [][]int {
		out := make([][]int, 9)
		out[0], out[1], out[2] = a, b, bias
		return out
	}
	mp := axes.New(9)
	mp.AddAxis(axes.Axis{Label: 'i', Inputs: in([]int{0}, nil, []int{0}), Outputs: []int{0}})
	mp.AddAxis(axes.Axis{Label: 'k', Inputs: in([]int{1}, []int{0}, nil), Outputs: nil})
	mp.AddAxis(axes.Axis{Label: 'j', Inputs: in(nil, []int{1}, []int{1}), Outputs: []int{1}})
	return mp
}

func hasNodeNamed(m *graph.Model, suffix string) bool {
	for _, n := range m.Nodes {
		if len(n.Name) >= len(suffix) && n.Name[len(n.Name)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

func TestLowerQuantScenario5U8MatMul(t *testing.T) {
	// Scenario 5: a=[[1,2],[3,4]], b=[[5,6],[7,8]] -> [[19,22],[43,50]],
	// quantized 8-bit matmul, structurally checked (no execution).
	mapping := ikKjQuantMapping()
	model, node := newQuantEinsumModel(mapping, dtype.U8Type(), dtype.U8Type(), dtype.QU8WithParams(dtype.QuantParams{ZeroPoint: 0, Scale: 1}))

	mkn, patch, err := einsum.Resolve(model, node)
	require.NoError(t, err)
	require.Nil(t, patch)
	require.NotNil(t, mkn)

	quantPatch, err := einsum.LowerQuant(model, node, mkn, kernel.Ops())
	require.NoError(t, err)
	require.NoError(t, quantPatch.Apply())

	// u8 inputs must be offset-fixed to i8 before anything else touches them.
	require.True(t, hasNodeNamed(model, ".a.u8_as_i8"))
	require.True(t, hasNodeNamed(model, ".b.u8_as_i8"))
	// the raw float/int matmul over just the two operand axes.
	require.True(t, hasNodeNamed(model, ".raw_matmul"))
	// K-axis reductions for zero-point compensation.
	require.True(t, hasNodeNamed(model, ".sum_a"))
	require.True(t, hasNodeNamed(model, ".sum_b"))
	require.True(t, hasNodeNamed(model, ".abc_scale"))
	require.True(t, hasNodeNamed(model, ".with_bias"))
	require.True(t, hasNodeNamed(model, ".compensated"))
	require.True(t, hasNodeNamed(model, ".requant"))

	final := model.Nodes[node.ID]
	require.Equal(t, "Identity", final.Op.OpName())
	require.True(t, final.OutputFacts[0].Shape.Equal(shapes.Make(2, 2)))
}

func TestLowerQuantPassesThroughNonU8Operands(t *testing.T) {
	// Already-signed i8 operands need no offset fix step.
	mapping := ikKjQuantMapping()
	model, node := newQuantEinsumModel(mapping, dtype.I8Type(), dtype.I8Type(), dtype.QI8WithParams(dtype.QuantParams{ZeroPoint: 0, Scale: 1}))

	mkn, patch, err := einsum.Resolve(model, node)
	require.NoError(t, err)
	require.Nil(t, patch)

	quantPatch, err := einsum.LowerQuant(model, node, mkn, kernel.Ops())
	require.NoError(t, err)
	require.NoError(t, quantPatch.Apply())

	require.False(t, hasNodeNamed(model, ".a.u8_as_i8"))
	require.False(t, hasNodeNamed(model, ".b.u8_as_i8"))
	require.True(t, hasNodeNamed(model, ".requant"))
}

func TestLowerQuantRejectsNonQuantizedEinsum(t *testing.T) {
	mapping := ikKjMapping()
	model, node := newEinsumModel(mapping, shapes.Make(4, 3), shapes.Make(3, 5))

	mkn, _, err := einsum.Resolve(model, node)
	require.NoError(t, err)

	_, err = einsum.LowerQuant(model, node, mkn, kernel.Ops())
	require.Error(t, err)
}
