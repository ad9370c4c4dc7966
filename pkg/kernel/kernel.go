// Package kernel is the Packed MatMul Kernel collaborator spec.md §6
// treats as external: kernel selection by (dt_a, dt_b, dt_acc, m, k, n),
// packing, and a fused "AddMatMul + Store" micro-kernel. Float kernels
// are backed by gonum's blocked Dense.Mul; the integer (quantized)
// kernel is hand-rolled since gonum carries no integer GEMM.
package kernel

import (
	"github.com/pkg/errors"

	"github.com/gomlx/contract/pkg/core/dtype"
)

// Kernel is the handle the lowering core and batched evaluator obtain
// from Registry.MMM: a reference-shared object that outlives a single
// evaluator call (it's cheap to keep around and reused across LIR
// nodes emitted by the same codegen pass, per spec.md §5).
type Kernel struct {
	ADType, BDType, AccDType dtype.DatumType
	Float                    *FloatKernel
	Int                      *IntKernel
}

// PackedALen is the length of the scratch buffer pack_a needs for an
// MxK A operand.
func (k *Kernel) PackedALen(m, kDim int) int {
	if k.Float != nil {
		return k.Float.PackedALen(m, kDim)
	}
	return k.Int.PackedALen(m, kDim)
}

// PackedBLen is the length of the scratch buffer pack_b needs for a
// KxN B operand.
func (k *Kernel) PackedBLen(kDim, n int) int {
	if k.Float != nil {
		return k.Float.PackedBLen(kDim, n)
	}
	return k.Int.PackedBLen(kDim, n)
}

// Registry is the kernel library's entry point, `ops()` in spec.md §6.
type Registry struct{}

// Ops returns the process-wide kernel registry. There is no
// configuration state today (see pkg/config for the override hook),
// so this is a trivial constructor kept for symmetry with the
// collaborator interface's `ops().mmm(...)` shape.
func Ops() *Registry { return &Registry{} }

// MMM selects a micro-kernel for the given operand/accumulator types.
// m, k, n are optional (nil when not statically known); when given
// they must be non-negative, but this registry has no blocking
// strategy that varies with their value, so beyond that check they do
// not affect the selection.
func (r *Registry) MMM(aDT, bDT, accDT dtype.DatumType, m, k, n *int) (*Kernel, error) {
	for _, d := range []*int{m, k, n} {
		if d != nil && *d < 0 {
			return nil, errors.Errorf("kernel: negative dimension in selection hint")
		}
	}
	switch {
	case aDT.IsFloat() && bDT.IsFloat() && accDT.IsFloat():
		return &Kernel{ADType: aDT, BDType: bDT, AccDType: accDT, Float: &FloatKernel{}}, nil
	case aDT.IsInteger() && bDT.IsInteger() && accDT.Kind == dtype.I32:
		return &Kernel{ADType: aDT, BDType: bDT, AccDType: accDT, Int: &IntKernel{}}, nil
	default:
		return nil, errors.Errorf("kernel: unsupported kernel for (%s, %s, %s)", aDT, bDT, accDT)
	}
}
