package einsum

import (
	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/core/tensor"
	"github.com/gomlx/contract/pkg/kernel"
	"github.com/gomlx/contract/pkg/xlog"
)

// LowerFloat implements spec.md §4.2: given a resolved MKN triple and a
// non-quantized einsum with two inputs, emit a patch computing the
// same result via the packed-matmul kernel.
func LowerFloat(model *graph.Model, node *graph.Node, mkn *MKN, reg *kernel.Registry) (*graph.Patch, error) {
	op, err := asEinSumOp(node)
	if err != nil {
		return nil, err
	}
	if op.QParams != nil {
		return nil, withContext(errBadArity("float lowering requires a non-quantized einsum"), "Translating to LirMatMul")
	}
	facts, err := model.NodeInputFacts(node.ID)
	if err != nil {
		return nil, err
	}
	if len(facts) != 2 {
		return nil, withContext(errBadArity("float einsum expects exactly 2 inputs"), "Translating to LirMatMul")
	}
	aFact, bFact := facts[0], facts[1]

	mAxis, _ := op.Axes.Find(mkn.M)
	nAxis, _ := op.Axes.Find(mkn.N)
	mPos, _ := occursOnceInInput(mAxis, 0)
	nPos, _ := occursOnceInInput(nAxis, 1)
	mDim := aFact.Shape[mPos]
	nDim := bFact.Shape[nPos]

	swap := false
	if less, decided := mDim.Less(nDim); decided && less {
		swap = true
	}

	workingOp := op
	workingA, workingB := aFact, bFact
	aOutlet, bOutlet := node.Inputs[0], node.Inputs[1]
	if swap {
		workingOp = &graph.EinSumOp{Axes: swapInputs(op.Axes), OperatingDT: op.OperatingDT}
		workingA, workingB = bFact, aFact
		aOutlet, bOutlet = node.Inputs[1], node.Inputs[0]
	}

	// Swapping inputs[0]/inputs[1] on every axis also swaps which label
	// now occupies the row position of the new input-0: the old N axis
	// moves into input-0 and the old M axis moves into input-1.
	mLabel, nLabel := mkn.M, mkn.N
	if swap {
		mLabel, nLabel = mkn.N, mkn.M
	}
	mAxis, _ = workingOp.Axes.Find(mLabel)
	kAxis, _ := workingOp.Axes.Find(mkn.K)
	nAxis, _ = workingOp.Axes.Find(nLabel)
	mPos, _ = occursOnceInInput(mAxis, 0)
	kPosA, _ := occursOnceInInput(kAxis, 0)
	kPosB, _ := occursOnceInInput(kAxis, 1)
	nPos, _ = occursOnceInInput(nAxis, 1)

	m, mOK := workingA.Shape[mPos].AsUsize()
	k, kOK := workingA.Shape[kPosA].AsUsize()
	n, nOK := workingB.Shape[nPos].AsUsize()
	if !mOK || !kOK || !nOK {
		return nil, withContext(errBadArity("M, K, N must be statically known for kernel selection"), "Translating to LirMatMul")
	}

	kern, err := reg.MMM(workingA.DType, workingB.DType, workingOp.OperatingDT, &m, &k, &n)
	if err != nil {
		return nil, withContext(err, "Translating to LirMatMul")
	}
	xlog.KernelSelectf(workingA.DType.String(), workingB.DType.String(), workingOp.OperatingDT.String(), m, k, n)

	outShape, err := deriveOutputShape(workingOp.Axes, []shapes.Shape{workingA.Shape, workingB.Shape})
	if err != nil {
		return nil, withContext(err, "Translating to LirMatMul")
	}

	patch := graph.NewPatch(model, "float_lower:"+node.Name)
	aTap, err := patch.TapModel(aOutlet)
	if err != nil {
		return nil, err
	}
	bTap, err := patch.TapModel(bOutlet)
	if err != nil {
		return nil, err
	}

	packedAFact := tensor.Fact{DType: workingA.DType, Shape: shapes.Make(int64(m), int64(k))}
	packedBFact := tensor.Fact{DType: workingB.DType, Shape: shapes.Make(int64(k), int64(n))}
	packA, err := patch.WireNode(node.Name+".pack_a", lirPackOp{kern: kern, isA: true, m: m, k: k, n: n}, []graph.OutletID{aTap}, packedAFact)
	if err != nil {
		return nil, err
	}
	packB, err := patch.WireNode(node.Name+".pack_b", lirPackOp{kern: kern, isA: false, m: m, k: k, n: n}, []graph.OutletID{bTap}, packedBFact)
	if err != nil {
		return nil, err
	}

	cToA, cToB := nonMKNAxisMapping(workingOp.Axes, mkn, []int{mPos, kPosA}, []int{kPosB, nPos}, workingA.Shape, workingB.Shape)
	lirOp := lirMatMulOp{
		kern:       kern,
		m:          m,
		k:          k,
		n:          n,
		cToAAxes:   cToA,
		cToBAxes:   cToB,
	}
	outFact := tensor.Fact{DType: outputDType(workingOp), Shape: outShape}
	out, err := patch.WireNode(node.Name+".lir_matmul", lirOp, []graph.OutletID{packA, packB}, outFact)
	if err != nil {
		return nil, withContext(err, "Translating to LirMatMul")
	}
	patch.ShuntOutside(node.ID, out)
	return patch, nil
}

// swapInputs exchanges input-0 and input-1 on every axis of a mapping,
// per spec.md §4.2's M<N orientation fix.
func swapInputs(m *axes.AxesMapping) *axes.AxesMapping {
	out := m.Clone()
	for i, a := range out.Axes {
		a.Inputs[0], a.Inputs[1] = a.Inputs[1], a.Inputs[0]
		out.Axes[i] = a
	}
	return out
}

// nonMKNAxisMapping computes, for every axis other than M/K/N, the
// (c_pos, operand_pos) correspondence the LIR node's fused store uses,
// per spec.md §4.2: only axes with a single output position and a
// single input position on that side, whose input Dim isn't 1,
// contribute; the operand position is adjusted down by one for every
// MKN position it follows (pack removes those positions).
func nonMKNAxisMapping(mapping *axes.AxesMapping, mkn *MKN, mknPosA, mknPosB []int, aShape, bShape shapes.Shape) (cToA, cToB []axes.AxisPosPair) {
	adjust := func(pos int, mknPos []int) int {
		adj := pos
		for _, p := range mknPos {
			if p < pos {
				adj--
			}
		}
		return adj
	}
	for _, ax := range mapping.IterAllAxes() {
		if ax.Label == mkn.M || ax.Label == mkn.K || ax.Label == mkn.N {
			continue
		}
		cPos, okC := ax.OccursOnceAtOutput()
		if !okC {
			continue
		}
		if aPos, ok := ax.OccursOnceAtInput(0); ok && !aShape[aPos].IsOne() {
			cToA = append(cToA, axes.AxisPosPair{CPos: cPos, OperandPos: adjust(aPos, mknPosA)})
		}
		if bPos, ok := ax.OccursOnceAtInput(1); ok && !bShape[bPos].IsOne() {
			cToB = append(cToB, axes.AxisPosPair{CPos: cPos, OperandPos: adjust(bPos, mknPosB)})
		}
	}
	return cToA, cToB
}

type errBadArity string

func (e errBadArity) Error() string { return string(e) }
