package einsum

import (
	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/kernel"
)

// lirPackOp is the pack-a/pack-b node spec.md §4.2 emits ahead of the
// LIR matmul: it reorders an MxK (or KxN) operand into the layout the
// selected kernel's pack_a/pack_b expects.
type lirPackOp struct {
	kern    *kernel.Kernel
	isA     bool
	m, k, n int
}

func (lirPackOp) OpName() string { return "LirPack" }

// lirMatMulOp is the "AddMatMul + Store" node: it consumes the two
// packed operands and writes straight into the view constructed from
// the output fact at (c_m, c_n), per spec.md §4.2. cToAAxes/cToBAxes
// carry the non-MKN axis correspondence used to address the output
// view when the operator has batch-like axes beyond M/K/N.
type lirMatMulOp struct {
	kern       *kernel.Kernel
	m, k, n    int
	cToAAxes   []axes.AxisPosPair
	cToBAxes   []axes.AxisPosPair
}

func (lirMatMulOp) OpName() string { return "LirMatMul" }
