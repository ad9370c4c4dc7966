// Package matmul is the Batched Evaluator (spec.md §4.4): broadcast
// shape inference, pack/unpack, and micro-kernel dispatch over plain
// dense tensors, independent of the einsum lowering core.
package matmul

import (
	"github.com/pkg/errors"

	"github.com/gomlx/contract/pkg/core/shapes"
)

// geometry precomputes everything BatchedMatMul's broadcast-prefix loop
// needs once per call: the normalized operand shapes, M/K/N, the
// output shape, and row-major strides for every operand — the Go
// analogue of the source's `Geo<T>` (m, k, n, stride prefixes computed
// once rather than per iteration).
type geometry struct {
	normA, normB, out shapes.Shape
	m, k, n           int
	prefix            []int
	aStrides, bStrides, outStrides []int
}

// newGeometry normalizes aShape/bShape via shapes.MatMulShapes and
// derives concrete M, K, N and every stride table needed below.
func newGeometry(aShape, bShape shapes.Shape) (*geometry, error) {
	normA, normB, out, err := shapes.MatMulShapes(aShape, bShape)
	if err != nil {
		return nil, err
	}
	rank := len(normA)
	m, ok := normA[rank-2].AsUsize()
	if !ok {
		return nil, errors.Errorf("matmul: M dimension %s is not concrete", normA[rank-2])
	}
	k, ok := normA[rank-1].AsUsize()
	if !ok {
		return nil, errors.Errorf("matmul: K dimension %s is not concrete", normA[rank-1])
	}
	n, ok := normB[rank-1].AsUsize()
	if !ok {
		return nil, errors.Errorf("matmul: N dimension %s is not concrete", normB[rank-1])
	}
	prefix := make([]int, rank-2)
	for i := 0; i < rank-2; i++ {
		d, ok := out[i].AsUsize()
		if !ok {
			return nil, errors.Errorf("matmul: broadcast prefix dimension %s is not concrete", out[i])
		}
		prefix[i] = d
	}
	return &geometry{
		normA: normA, normB: normB, out: out,
		m: m, k: k, n: n,
		prefix:     prefix,
		aStrides:   rowMajorStrides(normA),
		bStrides:   rowMajorStrides(normB),
		outStrides: rowMajorStrides(out),
	}, nil
}

// rowMajorStrides returns the row-major stride of each dimension of a
// concrete shape (dims known to fit in int, as required of a
// materialized Tensor). A size-1 dimension's stride is irrelevant
// since its only valid index is 0, but computing it normally is
// harmless and keeps the formula uniform.
func rowMajorStrides(shape shapes.Shape) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		d, _ := shape[i].AsUsize()
		acc *= d
	}
	return strides
}

// prefixCount is the total number of broadcast-prefix iterations.
func (g *geometry) prefixCount() int {
	n := 1
	for _, d := range g.prefix {
		n *= d
	}
	return n
}

// prefixIndex decodes a flat iteration counter into a per-axis index
// tuple over g.prefix (mixed-radix, row-major).
func (g *geometry) prefixIndex(flat int) []int {
	idx := make([]int, len(g.prefix))
	for i := len(g.prefix) - 1; i >= 0; i-- {
		d := g.prefix[i]
		if d == 0 {
			idx[i] = 0
			continue
		}
		idx[i] = flat % d
		flat /= d
	}
	return idx
}

// operandOffset computes the flat element offset into an operand's
// data for a given broadcast-prefix index tuple: broadcasting a size-1
// dimension at any prefix index yields offset 0 for that axis (same
// underlying data reused), per spec.md §4.4's slicing contract.
func operandOffset(operandShape shapes.Shape, strides []int, prefixIdx []int) int {
	offset := 0
	for i, idx := range prefixIdx {
		d := operandShape[i]
		if d.IsOne() {
			continue
		}
		offset += idx * strides[i]
	}
	return offset
}
