package kernel

import "github.com/gomlx/contract/pkg/core/shapes"

// isStandardMatmul reports whether a pair of already-MKN-normalized
// operand shapes forms one of the layouts the batched evaluator can
// pack directly, without any further axis permutation: plain
// [M,K]x[K,N], or batched [...,M,K]x[...,K,N] with matching batch
// prefixes.
//
// Adapted from the backend fast-path check that decides whether a
// DotGeneral can skip normalization; here it gates whether
// pkg/matmul's evaluator can slice straight into 2D strides per
// broadcast-prefix index, or must fall back to the general packing
// loop (which still produces correct results, just without this
// shortcut).
func isStandardMatmul(aShape, bShape shapes.Shape) bool {
	aRank, bRank := aShape.Rank(), bShape.Rank()
	if aRank != bRank || aRank < 2 {
		return false
	}
	for i := 0; i < aRank-2; i++ {
		if !aShape[i].Equal(bShape[i]) {
			return false
		}
	}
	return aShape[aRank-1].Equal(bShape[bRank-2])
}

// isMemoryContiguous reports whether a row-major tensor of the given
// shape has no broadcast (zero-stride) axes among its trailing two
// dimensions, i.e. every element is physically present rather than
// aliased — the condition under which a 2D slice can be packed by
// reading contiguous strides instead of a stride-0 broadcast read.
func isMemoryContiguous(shape shapes.Shape) bool {
	if shape.Rank() < 2 {
		return false
	}
	m := shape[shape.Rank()-2]
	n := shape[shape.Rank()-1]
	return !m.IsOne() && !n.IsOne() || (m.IsOne() && n.IsOne())
}

// CanUseFastPath combines the shape-pattern and contiguity checks into
// the single gate pkg/matmul consults before choosing the direct
// 2D-stride packing path over the general broadcast-aware one.
func CanUseFastPath(aShape, bShape shapes.Shape) bool {
	return isStandardMatmul(aShape, bShape) && isMemoryContiguous(aShape) && isMemoryContiguous(bShape)
}
