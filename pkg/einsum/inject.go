package einsum

import (
	"strconv"

	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/core/tensor"
	"github.com/gomlx/contract/pkg/xlog"
)

// InjectK builds the patch spec.md §4.1 calls for when no K candidate
// exists: either duplicate an existing zero-length reduction axis onto
// the input it's missing from, or invent a fresh size-1 K axis shared
// by both inputs. Either way, whichever input gained a new leading
// position gets a prepended size-1 axis via an AxisOp node.
func InjectK(model *graph.Model, node *graph.Node, op *graph.EinSumOp, inShapes []shapes.Shape) (*graph.Patch, error) {
	label, dupInput, isDup := findZeroLengthReduction(op.Axes, inShapes)

	var newMapping *axes.AxesMapping
	reshapeInputs := map[int]bool{}
	if isDup {
		var err error
		newMapping, err = op.Axes.WithExtraAxisOccurrence(label, axes.Input(dupInput), 0)
		if err != nil {
			return nil, err
		}
		reshapeInputs[dupInput] = true
		xlog.Injectionf(node.Name, "K", "duplicating zero-length reduction axis onto the other input")
	} else {
		label = op.Axes.AvailableLabel()
		newMapping = op.Axes.WithExtraAxisOnSides(label, []axes.Side{axes.Input(0), axes.Input(1)}, []int{0, 0})
		reshapeInputs[0] = true
		reshapeInputs[1] = true
		xlog.Injectionf(node.Name, "K", "no reduction axis present, inventing a fresh size-1 K")
	}

	return buildInjectionPatch(model, node, op, newMapping, inShapes, reshapeInputs, false)
}

// findZeroLengthReduction looks for an axis that is already a
// reduction (absent from output) occurring on exactly one input with
// Dim 0 there, and absent from the other input.
func findZeroLengthReduction(mapping *axes.AxesMapping, inShapes []shapes.Shape) (label rune, otherInput int, found bool) {
	for _, ax := range mapping.IterAllAxes() {
		if len(ax.Outputs) != 0 {
			continue
		}
		present := -1
		for i, p := range ax.Inputs {
			if len(p) > 0 {
				if present != -1 {
					present = -2
					break
				}
				present = i
			}
		}
		if present < 0 {
			continue
		}
		pos := ax.Inputs[present][0]
		if pos >= len(inShapes[present]) {
			continue
		}
		d := inShapes[present][pos]
		v, ok := d.AsInt64()
		if !ok || v != 0 {
			continue
		}
		return ax.Label, 1 - present, true
	}
	return 0, 0, false
}

// InjectMOrN builds the patch spec.md §4.1's "Inject M or N" algorithm
// describes. isN selects N-injection (target=input1) vs M-injection
// (target=input0); exclude names labels the caller has already
// committed to and which must not be reused as the quasi axis.
func InjectMOrN(model *graph.Model, node *graph.Node, op *graph.EinSumOp, inShapes []shapes.Shape, isN bool, exclude map[rune]bool) (*graph.Patch, error) {
	target, other := 0, 1
	if isN {
		target, other = 1, 0
	}

	quasi, quasiAtTarget, hasQuasi := findQuasiAxis(op.Axes, inShapes, target, other, exclude)

	var newMapping *axes.AxesMapping
	reshapeInputs := map[int]bool{}
	squeezeOutput := false

	switch {
	case hasQuasi && quasiAtTarget:
		// Step 2: quasi axis already has a target-input position; add a
		// fresh output occurrence linked to it. The injected einsum's
		// output therefore carries one more leading axis than the
		// original node did, so the patch must squeeze it back off
		// after emitting (codegen.rs:159).
		m, err := op.Axes.WithExtraAxisOccurrence(quasi, axes.Output, 0)
		if err != nil {
			return nil, err
		}
		newMapping = m
		squeezeOutput = true
		xlog.Injectionf(node.Name, axisName(isN), "linking existing target-input axis to a fresh output occurrence")

	case hasQuasi && !quasiAtTarget:
		// Step 3: quasi axis exists only at the output; add a size-1
		// occurrence on the target input linked to it, and prepend a
		// size-1 axis on that input tensor. The output rank is
		// unchanged, so no squeeze is needed.
		m, err := op.Axes.WithExtraAxisOccurrence(quasi, axes.Input(target), 0)
		if err != nil {
			return nil, err
		}
		newMapping = m
		reshapeInputs[target] = true
		xlog.Injectionf(node.Name, axisName(isN), "linking existing output-only axis to a fresh target-input occurrence")

	default:
		// Step 4: invent a fresh label, place it at position 0 of the
		// target input and the output, link them, prepend a size-1 axis
		// on the input. As in step 2, the output gained a leading axis
		// that must be squeezed back off (codegen.rs:186).
		label := op.Axes.AvailableLabel()
		newMapping = op.Axes.WithExtraAxisOnSides(label, []axes.Side{axes.Input(target), axes.Output}, []int{0, 0})
		reshapeInputs[target] = true
		squeezeOutput = true
		xlog.Injectionf(node.Name, axisName(isN), "no quasi axis available, inventing a fresh size-1 axis")
	}

	return buildInjectionPatch(model, node, op, newMapping, inShapes, reshapeInputs, squeezeOutput)
}

func axisName(isN bool) string {
	if isN {
		return "N"
	}
	return "M"
}

// findQuasiAxis looks for an axis absent from (or size-1 in) the
// "other" input, present either at the target input or at the output.
// Returns whether it was found and whether its occurrence is at the
// target input (vs only at the output).
func findQuasiAxis(mapping *axes.AxesMapping, inShapes []shapes.Shape, target, other int, exclude map[rune]bool) (label rune, atTarget bool, found bool) {
	for _, ax := range mapping.IterAllAxes() {
		if exclude[ax.Label] {
			continue
		}
		otherPositions := ax.Inputs[other]
		okOther := len(otherPositions) == 0
		if !okOther && len(otherPositions) >= 1 {
			d := inShapes[other][otherPositions[0]]
			okOther = d.IsOne()
		}
		if !okOther {
			continue
		}
		if len(ax.Inputs[target]) > 0 {
			return ax.Label, true, true
		}
		if len(ax.Outputs) > 0 {
			return ax.Label, false, true
		}
	}
	return 0, false, false
}

// buildInjectionPatch stages the common shape: tap every existing
// input, prepend a size-1 axis (AxisOp Add(0)) on every input named in
// reshapeInputs, wire a new EinSum node carrying newMapping, and shunt
// the original node's output to it. When squeezeOutput is set, the
// injected einsum's output carries one spurious leading size-1 axis
// (added so the new M/N occurrence had somewhere to live); an
// AxisOp{Kind: OpRm, Position: 0} node strips it back off before the
// shunt, so the patch's output shape always matches the original
// node's (spec.md §8: "all injections preserve the computed tensor
// exactly").
func buildInjectionPatch(model *graph.Model, node *graph.Node, op *graph.EinSumOp, newMapping *axes.AxesMapping, inShapes []shapes.Shape, reshapeInputs map[int]bool, squeezeOutput bool) (*graph.Patch, error) {
	patch := graph.NewPatch(model, "inject:"+node.Name)

	newInputs := make([]graph.OutletID, len(node.Inputs))
	newInShapes := append([]shapes.Shape(nil), inShapes...)
	for i, in := range node.Inputs {
		tapped, err := patch.TapModel(in)
		if err != nil {
			return nil, err
		}
		if i < 2 && reshapeInputs[i] {
			fact, err := model.OutletFact(in)
			if err != nil {
				return nil, err
			}
			newShape := append(shapes.Shape{shapes.NewConcreteDim(1)}, fact.Shape...)
			reshaped, err := patch.WireNode(node.Name+".reshape_in"+strconv.Itoa(i), graph.AxisOpNode{Op: axes.AxisOp{Kind: axes.OpAdd, Position: 0}}, []graph.OutletID{tapped}, tensor.Fact{DType: fact.DType, Shape: newShape})
			if err != nil {
				return nil, err
			}
			newInputs[i] = reshaped
			newInShapes[i] = newShape
		} else {
			newInputs[i] = tapped
		}
	}

	outShape, err := deriveOutputShape(newMapping, newInShapes[:2])
	if err != nil {
		return nil, withContext(err, "Injecting axis")
	}
	newOp := &graph.EinSumOp{Axes: newMapping, OperatingDT: op.OperatingDT, QParams: op.QParams}
	outFact := tensor.Fact{DType: outputDType(op), Shape: outShape}
	out, err := patch.WireNode(node.Name+".injected", newOp, newInputs, outFact)
	if err != nil {
		return nil, err
	}

	shuntTo := out
	if squeezeOutput {
		squeezedShape := dropAxis(outShape, 0)
		squeezed, err := patch.WireNode(node.Name+".squeeze_out", graph.AxisOpNode{Op: axes.AxisOp{Kind: axes.OpRm, Position: 0}}, []graph.OutletID{out}, tensor.Fact{DType: outFact.DType, Shape: squeezedShape})
		if err != nil {
			return nil, err
		}
		shuntTo = squeezed
	}

	patch.ShuntOutside(node.ID, shuntTo)
	return patch, nil
}
