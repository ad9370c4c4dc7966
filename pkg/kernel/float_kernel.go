package kernel

import "gonum.org/v1/gonum/mat"

// FloatKernel is the float-like micro-kernel, backed by gonum's
// blocked Dense.Mul. Packing here means copying a strided 2D view into
// a contiguous row-major buffer gonum's mat.Dense expects; there is no
// SIMD tiling layer in this module, gonum owns that internally.
type FloatKernel struct{}

// PackedALen is the scratch length for an MxK operand: plain row-major,
// no interleaving.
func (FloatKernel) PackedALen(m, k int) int { return m * k }

// PackedBLen is the scratch length for a KxN operand.
func (FloatKernel) PackedBLen(k, n int) int { return k * n }

// PackA copies an MxK strided view of src into dst as contiguous
// row-major, the A-packer spec.md §6 calls `pack_a`.
func (FloatKernel) PackA(dst, src []float64, m, k int, rowStride, colStride int) {
	packStrided(dst, src, m, k, rowStride, colStride)
}

// PackB copies a KxN strided view of src into dst as contiguous
// row-major, the B-packer spec.md §6 calls `pack_b`.
func (FloatKernel) PackB(dst, src []float64, k, n int, rowStride, colStride int) {
	packStrided(dst, src, k, n, rowStride, colStride)
}

func packStrided(dst, src []float64, rows, cols int, rowStride, colStride int) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[i*cols+j] = src[i*rowStride+j*colStride]
		}
	}
}

// MatMulPrepacked runs the packed MxK by KxN multiplication into dst,
// writing through dst's row/col strides — the fused "AddMatMul+Store"
// spec.md §4.2 calls the LIR node's semantics, here just the Store half
// since this core's float path has no running accumulator to add into.
func (FloatKernel) MatMulPrepacked(pa, pb []float64, dst []float64, m, k, n int, dstRowStride, dstColStride int) error {
	a := mat.NewDense(m, k, pa)
	b := mat.NewDense(k, n, pb)
	var c mat.Dense
	c.Mul(a, b)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			dst[i*dstRowStride+j*dstColStride] = c.At(i, j)
		}
	}
	return nil
}
