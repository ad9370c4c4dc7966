package einsum

import (
	"github.com/pkg/errors"

	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/dtype"
	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/core/shapes"
)

// deriveOutputShape applies an axes mapping to a set of input shapes to
// produce the output shape it implies, per spec.md §4.1 step 1
// ("derive the output shape by applying the axis mapping to the two
// input shapes"). Every output position must be claimed by exactly one
// axis with a resolvable Dim.
func deriveOutputShape(mapping *axes.AxesMapping, inShapes []shapes.Shape) (shapes.Shape, error) {
	rank := 0
	for _, ax := range mapping.IterAllAxes() {
		for _, p := range ax.Outputs {
			if p+1 > rank {
				rank = p + 1
			}
		}
	}
	out := make(shapes.Shape, rank)
	filled := make([]bool, rank)
	for _, ax := range mapping.IterAllAxes() {
		if len(ax.Outputs) == 0 {
			continue
		}
		d, ok := axisDim(ax, inShapes)
		if !ok {
			return nil, errors.Errorf("einsum: axis %q has no resolvable dimension in any input", string(ax.Label))
		}
		for _, p := range ax.Outputs {
			out[p] = d
			filled[p] = true
		}
	}
	for p, ok := range filled {
		if !ok {
			return nil, errors.Errorf("einsum: output position %d not claimed by any axis", p)
		}
	}
	return out, nil
}

// outputDType is the datum type a newly-wired EinSum node's output
// fact carries: the quantized output type when the op is quantized,
// otherwise the operating dtype.
func outputDType(op *graph.EinSumOp) dtype.DatumType {
	if op.QParams != nil {
		return op.QParams.DType
	}
	return op.OperatingDT
}
