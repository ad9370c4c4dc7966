package einsum

import (
	"github.com/pkg/errors"

	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/dtype"
	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/core/tensor"
	"github.com/gomlx/contract/pkg/kernel"
)

// quantInputs names the 9 positional inputs spec.md §6 mandates for a
// quantized EinSum node.
type quantInputs struct {
	a, b, bias, a0, aScale, b0, bScale, c0, cScale graph.OutletID
}

func splitQuantInputs(node *graph.Node) (quantInputs, error) {
	if len(node.Inputs) != 9 {
		return quantInputs{}, errors.Errorf("einsum: quantized einsum %s expects 9 inputs [a,b,bias,a0,a_scale,b0,b_scale,c0,c_scale], got %d", node.Name, len(node.Inputs))
	}
	in := node.Inputs
	return quantInputs{a: in[0], b: in[1], bias: in[2], a0: in[3], aScale: in[4], b0: in[5], bScale: in[6], c0: in[7], cScale: in[8]}, nil
}

// LowerQuant implements spec.md §4.3: given a resolved MKN triple and
// the 9 quantized inputs, emit a patch computing
// requant(bias + a·b + zero_point_compensation, combined_scale, c0).
func LowerQuant(model *graph.Model, node *graph.Node, mkn *MKN, reg *kernel.Registry) (*graph.Patch, error) {
	op, err := asEinSumOp(node)
	if err != nil {
		return nil, err
	}
	if op.QParams == nil {
		return nil, withContext(errBadArity("quant lowering requires a quantized einsum"), "Dequantizing output")
	}
	qin, err := splitQuantInputs(node)
	if err != nil {
		return nil, withContext(err, "Dequantizing output")
	}
	facts, err := model.NodeInputFacts(node.ID)
	if err != nil {
		return nil, err
	}
	aFact, bFact, biasFact := facts[0], facts[1], facts[2]

	patch := graph.NewPatch(model, "quant_lower:"+node.Name)
	aTap, err := patch.TapModel(qin.a)
	if err != nil {
		return nil, err
	}
	bTap, err := patch.TapModel(qin.b)
	if err != nil {
		return nil, err
	}
	a0Tap, err := patch.TapModel(qin.a0)
	if err != nil {
		return nil, err
	}
	b0Tap, err := patch.TapModel(qin.b0)
	if err != nil {
		return nil, err
	}

	// Step 1: u8 -> i8 offset fix on a and b.
	aFixed, a0Fixed, aFact, err := wireOffsetFix(patch, node.Name+".a", aTap, a0Tap, aFact)
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}
	bFixed, b0Fixed, bFact, err := wireOffsetFix(patch, node.Name+".b", bTap, b0Tap, bFact)
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}

	// Step 2: float matmul over just the two operand axes.
	floatAxes := op.Axes.ExtractSubMapping([]int{0, 1}, []int{0})
	floatOp := &graph.EinSumOp{Axes: floatAxes, OperatingDT: op.OperatingDT}
	accShape, err := deriveOutputShape(floatAxes, []shapes.Shape{aFact.Shape, bFact.Shape})
	if err != nil {
		return nil, withContext(err, "Translating to LirMatMul")
	}
	accFact := tensor.Fact{DType: op.OperatingDT, Shape: accShape}
	accOutlet, err := patch.WireNode(node.Name+".raw_matmul", floatOp, []graph.OutletID{aFixed, bFixed}, accFact)
	if err != nil {
		return nil, withContext(err, "Translating to LirMatMul")
	}

	// Step 3: cast a,b to i32 and reduce along K to get sum_a, sum_b.
	kAxis, _ := op.Axes.Find(mkn.K)
	kPosA, _ := kAxis.OccursOnceAtInput(0)
	kPosB, _ := kAxis.OccursOnceAtInput(1)

	aI32Fact := tensor.Fact{DType: dtype.I32Type(), Shape: aFact.Shape}
	aI32, err := patch.WireNode(node.Name+".a_i32", graph.Cast{To: dtype.I32Type()}, []graph.OutletID{aFixed}, aI32Fact)
	if err != nil {
		return nil, err
	}
	bI32Fact := tensor.Fact{DType: dtype.I32Type(), Shape: bFact.Shape}
	bI32, err := patch.WireNode(node.Name+".b_i32", graph.Cast{To: dtype.I32Type()}, []graph.OutletID{bFixed}, bI32Fact)
	if err != nil {
		return nil, err
	}
	sumAShape := dropAxis(aFact.Shape, kPosA)
	sumA, err := patch.WireNode(node.Name+".sum_a", graph.Reduce{Axes: []int{kPosA}, Kind: graph.Sum}, []graph.OutletID{aI32}, tensor.Fact{DType: dtype.I32Type(), Shape: sumAShape})
	if err != nil {
		return nil, err
	}
	sumBShape := dropAxis(bFact.Shape, kPosB)
	sumB, err := patch.WireNode(node.Name+".sum_b", graph.Reduce{Axes: []int{kPosB}, Kind: graph.Sum}, []graph.OutletID{bI32}, tensor.Fact{DType: dtype.I32Type(), Shape: sumBShape})
	if err != nil {
		return nil, err
	}

	// Step 4: re-express sum_a, sum_b, bias onto the output axis layout.
	outLabels := outputLabelOrder(op.Axes)
	// sum_a/sum_b no longer carry K, so drop it from their sub-mappings.
	subA, err := op.Axes.ExtractSubMapping([]int{0}, []int{0}).WithoutOccurrence(mkn.K, axes.Input(0))
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}
	opsA := subA.TranslateToAxisOps(axes.Input(0), outLabels)
	sumA, err = applyAxisOps(patch, node.Name+".sum_a_fix", sumA, opsA, sumAShape, dtype.I32Type())
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}
	subB, err := op.Axes.ExtractSubMapping([]int{1}, []int{0}).WithoutOccurrence(mkn.K, axes.Input(0))
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}
	opsB := subB.TranslateToAxisOps(axes.Input(0), outLabels)
	sumB, err = applyAxisOps(patch, node.Name+".sum_b_fix", sumB, opsB, sumBShape, dtype.I32Type())
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}
	biasTap, err := patch.TapModel(qin.bias)
	if err != nil {
		return nil, err
	}
	subBias := op.Axes.ExtractSubMapping([]int{2}, []int{0})
	opsBias := subBias.TranslateToAxisOps(axes.Input(0), outLabels)
	biasFixed, err := applyAxisOps(patch, node.Name+".bias_fix", biasTap, opsBias, biasFact.Shape, biasFact.DType)
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}

	// Step 5: combine scales.
	aScaleTap, err := patch.TapModel(qin.aScale)
	if err != nil {
		return nil, err
	}
	bScaleTap, err := patch.TapModel(qin.bScale)
	if err != nil {
		return nil, err
	}
	cScaleTap, err := patch.TapModel(qin.cScale)
	if err != nil {
		return nil, err
	}
	scaleFact := tensor.Fact{DType: dtype.F32Type(), Shape: shapes.Shape{}}
	abcScale, err := patch.WireNode(node.Name+".abc_scale", graph.CombineScales{}, []graph.OutletID{aScaleTap, bScaleTap, cScaleTap}, scaleFact)
	if err != nil {
		return nil, withContext(err, "Dequantizing output")
	}

	// Step 6: bias add.
	withBias, err := patch.WireNode(node.Name+".with_bias", graph.Add{}, []graph.OutletID{accOutlet, biasFixed}, accFact)
	if err != nil {
		return nil, withContext(err, "Dequantizing output")
	}

	// Step 7: zero-point compensation.
	kDim, _ := aFact.Shape[kPosA].AsInt64()
	c0Tap, err := patch.TapModel(qin.c0)
	if err != nil {
		return nil, err
	}
	compensated, err := patch.WireNode(node.Name+".compensated", graph.CompensateZeroPoints{K: kDim}, []graph.OutletID{withBias, a0Fixed, b0Fixed, sumA, sumB}, accFact)
	if err != nil {
		return nil, withContext(err, "Zero point compensation")
	}

	// Step 8: requantize.
	finalFact := tensor.Fact{DType: op.QParams.DType, Shape: accShape}
	final, err := patch.WireNode(node.Name+".requant", graph.Requant{Params: *op.QParams}, []graph.OutletID{compensated, abcScale, c0Tap}, finalFact)
	if err != nil {
		return nil, withContext(err, "Dequantizing output")
	}

	patch.ShuntOutside(node.ID, final)
	return patch, nil
}

// wireOffsetFix implements spec.md §4.3 step 1: if the tensor is
// unsigned 8-bit, reinterpret as signed 8-bit and shift the zero point
// by +128. Non-u8 tensors pass through unchanged.
func wireOffsetFix(patch *graph.Patch, name string, tensorOutlet, zpOutlet graph.OutletID, fact tensor.Fact) (graph.OutletID, graph.OutletID, tensor.Fact, error) {
	if fact.DType.Kind != dtype.U8 && fact.DType.Kind != dtype.QU8 {
		return tensorOutlet, zpOutlet, fact, nil
	}
	newDT := dtype.I8Type()
	if fact.DType.Kind == dtype.QU8 {
		newDT = dtype.QI8WithParams(dtype.QuantParams{ZeroPoint: fact.DType.Quant.ZeroPoint + 128, Scale: fact.DType.Quant.Scale})
	}
	newFact := tensor.Fact{DType: newDT, Shape: fact.Shape}
	out, err := patch.WireNode(name+".u8_as_i8", graph.WireOffsetU8AsI8{}, []graph.OutletID{tensorOutlet}, newFact)
	if err != nil {
		return graph.OutletID{}, graph.OutletID{}, tensor.Fact{}, err
	}
	zpFact := tensor.Fact{DType: dtype.I32Type(), Shape: shapes.Shape{}}
	shift, err := patch.WireNode(name+".offset128", graph.Const{I32: 128}, nil, zpFact)
	if err != nil {
		return graph.OutletID{}, graph.OutletID{}, tensor.Fact{}, err
	}
	newZP, err := patch.WireNode(name+".zp_shift", graph.Add{}, []graph.OutletID{zpOutlet, shift}, zpFact)
	if err != nil {
		return graph.OutletID{}, graph.OutletID{}, tensor.Fact{}, err
	}
	return out, newZP, newFact, nil
}

func dropAxis(shape shapes.Shape, pos int) shapes.Shape {
	out := make(shapes.Shape, 0, len(shape)-1)
	for i, d := range shape {
		if i != pos {
			out = append(out, d)
		}
	}
	return out
}

// outputLabelOrder returns the einsum's output axis labels in their
// canonical output-position order, the target layout sum_a/sum_b/bias
// must be re-expressed onto.
func outputLabelOrder(mapping *axes.AxesMapping) []rune {
	rank := 0
	for _, ax := range mapping.IterAllAxes() {
		for _, p := range ax.Outputs {
			if p+1 > rank {
				rank = p + 1
			}
		}
	}
	labels := make([]rune, rank)
	for _, ax := range mapping.IterAllAxes() {
		for _, p := range ax.Outputs {
			labels[p] = ax.Label
		}
	}
	return labels
}

// applyAxisOps wires a sequence of AxisOp nodes (Add/Rm/Permute) onto
// an outlet, tracking the shape through each step so the final node's
// fact is accurate.
func applyAxisOps(patch *graph.Patch, namePrefix string, in graph.OutletID, ops []axes.AxisOp, shape shapes.Shape, dt dtype.DatumType) (graph.OutletID, error) {
	cur := in
	curShape := shape.Clone()
	for i, op := range ops {
		var newShape shapes.Shape
		switch op.Kind {
		case axes.OpAdd:
			newShape = append(shapes.Shape{}, curShape[:op.Position]...)
			newShape = append(newShape, shapes.NewConcreteDim(1))
			newShape = append(newShape, curShape[op.Position:]...)
		case axes.OpRm:
			newShape = append(append(shapes.Shape{}, curShape[:op.Position]...), curShape[op.Position+1:]...)
		case axes.OpPermute:
			newShape = make(shapes.Shape, len(op.Perm))
			for j, src := range op.Perm {
				newShape[j] = curShape[src]
			}
		}
		name := namePrefix + "." + string(rune('a'+i))
		out, err := patch.WireNode(name, graph.AxisOpNode{Op: op}, []graph.OutletID{cur}, tensor.Fact{DType: dt, Shape: newShape})
		if err != nil {
			return graph.OutletID{}, err
		}
		cur, curShape = out, newShape
	}
	return cur, nil
}
