// Package einsum is the einsum-to-matmul lowering core: the MKN
// resolver, axis injection, the float and quantized lowerers, and the
// top-level codegen entrypoint that ties them together.
package einsum

import (
	"github.com/pkg/errors"

	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/core/shapes"
)

// MKN names the three canonical matmul axes the resolver classifies.
type MKN struct {
	M, K, N rune
}

// asEinSumOp asserts node.Op is an EinSumOp, the only kind the
// resolver operates on.
func asEinSumOp(n *graph.Node) (*graph.EinSumOp, error) {
	op, ok := n.Op.(*graph.EinSumOp)
	if !ok {
		return nil, errors.Errorf("einsum: node %s is not an EinSum operator", n.Name)
	}
	return op, nil
}

// Resolve classifies the M, K, N axes of the einsum at node, per
// spec.md §4.1. It returns exactly one of: a resolved MKN triple, a
// rewrite patch to apply and re-resolve, or an error.
func Resolve(model *graph.Model, node *graph.Node) (*MKN, *graph.Patch, error) {
	op, err := asEinSumOp(node)
	if err != nil {
		return nil, nil, err
	}
	facts, err := model.NodeInputFacts(node.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(facts) != 2 && op.QParams == nil {
		return nil, nil, errors.Errorf("einsum: float einsum %s expects 2 inputs, got %d", node.Name, len(facts))
	}
	if op.QParams != nil && len(facts) != 9 {
		return nil, nil, errors.Errorf("einsum: quantized einsum %s expects 9 inputs, got %d", node.Name, len(facts))
	}
	aShape, bShape := facts[0].Shape, facts[1].Shape
	inShapes := []shapes.Shape{aShape, bShape}

	kLabel, kPatch, err := resolveK(model, node, op, inShapes)
	if err != nil {
		return nil, nil, err
	}
	if kPatch != nil {
		return nil, kPatch, nil
	}

	mLabel, mPatch, err := resolveM(model, node, op, inShapes)
	if err != nil {
		return nil, nil, err
	}
	if mPatch != nil {
		return nil, mPatch, nil
	}

	nLabel, nPatch, err := resolveN(model, node, op, inShapes)
	if err != nil {
		return nil, nil, err
	}
	if nPatch != nil {
		return nil, nPatch, nil
	}

	return &MKN{M: mLabel, K: kLabel, N: nLabel}, nil, nil
}

// axisDim resolves an axis's effective Dim across whichever inputs it
// occupies, preferring a non-1 occurrence (broadcast semantics: a
// size-1 occurrence yields to a larger one elsewhere).
func axisDim(ax axes.Axis, inShapes []shapes.Shape) (shapes.Dim, bool) {
	var result shapes.Dim
	has := false
	for i, positions := range ax.Inputs {
		if i >= len(inShapes) {
			continue
		}
		for _, p := range positions {
			if p < 0 || p >= len(inShapes[i]) {
				continue
			}
			d := inShapes[i][p]
			if !has {
				result, has = d, true
			} else if result.IsOne() && !d.IsOne() {
				result = d
			}
		}
	}
	return result, has
}

func resolveK(model *graph.Model, node *graph.Node, op *graph.EinSumOp, inShapes []shapes.Shape) (rune, *graph.Patch, error) {
	var candidates []axes.Axis
	for _, ax := range op.Axes.IterAllAxes() {
		posA, okA := occursOnceInInput(ax, 0)
		posB, okB := occursOnceInInput(ax, 1)
		if !okA || !okB {
			continue
		}
		if len(ax.Outputs) != 0 {
			continue
		}
		dA := inShapes[0][posA]
		dB := inShapes[1][posB]
		if !dA.Equal(dB) {
			continue
		}
		candidates = append(candidates, ax)
	}
	if len(candidates) == 0 {
		p, err := InjectK(model, node, op, inShapes)
		if err != nil {
			return 0, nil, withContext(err, "Injecting K axis")
		}
		return 0, p, nil
	}
	var nonTrivial []axes.Axis
	for _, c := range candidates {
		d, _ := axisDim(c, inShapes)
		if !d.IsOne() {
			nonTrivial = append(nonTrivial, c)
		}
	}
	if len(nonTrivial) > 1 {
		return 0, nil, errors.New("einsum: multiple K candidates")
	}
	if len(nonTrivial) == 1 {
		return nonTrivial[0].Label, nil, nil
	}
	return candidates[0].Label, nil, nil
}

func occursOnceInInput(ax axes.Axis, input int) (int, bool) {
	p := ax.Inputs[input]
	if len(p) != 1 {
		return 0, false
	}
	return p[0], true
}

func resolveM(model *graph.Model, node *graph.Node, op *graph.EinSumOp, inShapes []shapes.Shape) (rune, *graph.Patch, error) {
	label, patch, err := resolveMorN(model, node, op, inShapes, false)
	return label, patch, err
}

func resolveN(model *graph.Model, node *graph.Node, op *graph.EinSumOp, inShapes []shapes.Shape) (rune, *graph.Patch, error) {
	label, patch, err := resolveMorN(model, node, op, inShapes, true)
	return label, patch, err
}

// resolveMorN implements spec.md §4.1 steps 4-5: for M, target=input0,
// other=input1; for N (isN=true) target=input1, other=input0.
func resolveMorN(model *graph.Model, node *graph.Node, op *graph.EinSumOp, inShapes []shapes.Shape, isN bool) (rune, *graph.Patch, error) {
	target, other := 0, 1
	if isN {
		target, other = 1, 0
	}
	var best axes.Axis
	var bestDim shapes.Dim
	found := false
	for _, ax := range op.Axes.IterAllAxes() {
		tPos, ok := occursOnceInInput(ax, target)
		if !ok {
			continue
		}
		otherPositions := ax.Inputs[other]
		okOther := len(otherPositions) == 0
		if !okOther && len(otherPositions) >= 1 {
			// absent-or-size-1 at the other input's first occurrence
			d := inShapes[other][otherPositions[0]]
			okOther = d.IsOne()
		}
		if !okOther {
			continue
		}
		if len(ax.Outputs) != 1 {
			continue
		}
		d := inShapes[target][tPos]
		if !found {
			best, bestDim, found = ax, d, true
			continue
		}
		if less, decided := bestDim.Less(d); decided && less {
			best, bestDim = ax, d
		}
	}
	if !found {
		p, err := InjectMOrN(model, node, op, inShapes, isN, nil)
		if err != nil {
			phase := "Injecting M axis"
			if isN {
				phase = "Injecting N axis"
			}
			return 0, nil, withContext(err, phase)
		}
		return 0, p, nil
	}
	return best.Label, nil, nil
}
