package einsum_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/einsum"
	"github.com/gomlx/contract/pkg/kernel"
)

func TestCodegenCleanMKNSinglePass(t *testing.T) {
	mapping := ikKjMapping()
	model, node := newEinsumModel(mapping, shapes.Make(4, 3), shapes.Make(3, 5))

	resultID, err := einsum.Codegen(model, node.ID, kernel.Ops())
	require.NoError(t, err)
	require.Equal(t, node.ID, resultID)

	final := model.Nodes[resultID]
	require.Equal(t, "Identity", final.Op.OpName())
	require.True(t, final.OutputFacts[0].Shape.Equal(shapes.Make(4, 5)))
}

func TestCodegenInjectsKThenLowers(t *testing.T) {
	// "i,j->ij", no shared axis: K must be injected before lowering can
	// proceed, exercising the multi-pass resolve/inject loop.
	mapping := axes.New(2)
	mapping.AddAxis(axes.Axis{Label: 'i', Inputs: [][]int{{0}, nil}, Outputs: []int{0}})
	mapping.AddAxis(axes.Axis{Label: 'j', Inputs: [][]int{nil, {0}}, Outputs: []int{1}})
	model, node := newEinsumModel(mapping, shapes.Make(4), shapes.Make(5))

	resultID, err := einsum.Codegen(model, node.ID, kernel.Ops())
	require.NoError(t, err)

	final := model.Nodes[resultID]
	require.Equal(t, "Identity", final.Op.OpName())
	require.True(t, final.OutputFacts[0].Shape.Equal(shapes.Make(4, 5)))
}

func TestCodegenInjectsNThenSqueezesOutput(t *testing.T) {
	// "ik,k->i", a matrix-vector product: M=i resolves cleanly (present
	// once in input0, absent from input1, single output occurrence),
	// but no axis qualifies as N, so InjectMOrN's no-quasi-found branch
	// fires and the output must come back at rank 1, not 2 — the path
	// the maintainer review found untested.
	mapping := axes.New(2)
	mapping.AddAxis(axes.Axis{Label: 'i', Inputs: [][]int{{0}, nil}, Outputs: []int{0}})
	mapping.AddAxis(axes.Axis{Label: 'k', Inputs: [][]int{{1}, {0}}, Outputs: nil})
	model, node := newEinsumModel(mapping, shapes.Make(4, 3), shapes.Make(3))

	resultID, err := einsum.Codegen(model, node.ID, kernel.Ops())
	require.NoError(t, err)

	final := model.Nodes[resultID]
	require.Equal(t, "Identity", final.Op.OpName())
	require.True(t, final.OutputFacts[0].Shape.Equal(shapes.Make(4)), "got shape %s, want [4] with no spurious leading axis", final.OutputFacts[0].Shape)
}

func TestCodegenPropagatesResolveError(t *testing.T) {
	mapping := axes.New(2)
	mapping.AddAxis(axes.Axis{Label: 'k', Inputs: [][]int{{0}, {0}}, Outputs: nil})
	mapping.AddAxis(axes.Axis{Label: 'l', Inputs: [][]int{{1}, {1}}, Outputs: nil})
	model, node := newEinsumModel(mapping, shapes.Make(3, 5), shapes.Make(3, 5))

	_, err := einsum.Codegen(model, node.ID, kernel.Ops())
	require.Error(t, err)
}
