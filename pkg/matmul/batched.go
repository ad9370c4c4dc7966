package matmul

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gomlx/contract/pkg/config"
	"github.com/gomlx/contract/pkg/core/tensor"
	"github.com/gomlx/contract/pkg/kernel"
	"github.com/gomlx/contract/pkg/xlog"
)

// BatchedMatMul evaluates c = a·b with leading-axis broadcasting, per
// spec.md §4.4: normalize to rank >= 2, broadcast the prefixes,
// iterate the broadcast prefix packing each 2D slice and dispatching
// the kernel library's prepacked matmul into c.
func BatchedMatMul(a, b *tensor.Tensor, opts config.Options) (*tensor.Tensor, error) {
	if !a.DType().Equal(b.DType()) {
		return nil, errors.Errorf("matmul: operand datum types differ: %s vs %s", a.DType(), b.DType())
	}
	if !a.DType().IsFloat() {
		return nil, errors.Errorf("matmul: batched evaluator only supports float-like datum types, got %s", a.DType())
	}

	geo, err := newGeometry(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}

	reg := opts.Kernels
	if reg == nil {
		reg = kernel.Ops()
	}
	kern, err := reg.MMM(a.DType(), b.DType(), a.DType(), &geo.m, &geo.k, &geo.n)
	if err != nil {
		return nil, err
	}
	if kern.Float == nil {
		return nil, errors.Errorf("matmul: expected a float kernel for %s", a.DType())
	}
	xlog.KernelSelectf(a.DType().String(), b.DType().String(), a.DType().String(), geo.m, geo.k, geo.n)

	aData, err := a.AsF32()
	if err != nil {
		return nil, err
	}
	bData, err := b.AsF32()
	if err != nil {
		return nil, err
	}
	outLen := 1
	for _, d := range geo.out {
		v, _ := d.AsUsize()
		outLen *= v
	}
	outData := make([]float32, outLen)

	count := geo.prefixCount()
	fastPath := kernel.CanUseFastPath(a.Shape(), b.Shape())
	if !fastPath {
		xlog.FastPathFallback("operand shapes require the general broadcast-aware packing loop")
	}

	runOne := func(flat int, scratch *scratchBuffers) error {
		var aOff, bOff, cOff int
		if fastPath {
			// Preconditions guarantee matching, non-broadcast batch
			// prefixes and contiguous storage, so every operand's
			// offset is a flat multiple of its 2D slice size — no need
			// to decode or broadcast-test the prefix index at all.
			aOff = flat * geo.m * geo.k
			bOff = flat * geo.k * geo.n
			cOff = flat * geo.m * geo.n
		} else {
			prefixIdx := geo.prefixIndex(flat)
			aOff = operandOffset(geo.normA, geo.aStrides, prefixIdx)
			bOff = operandOffset(geo.normB, geo.bStrides, prefixIdx)
			for i, idx := range prefixIdx {
				cOff += idx * geo.outStrides[i]
			}
		}
		scratch.loadA(aData[aOff:], geo.m, geo.k)
		scratch.loadB(bData[bOff:], geo.k, geo.n)
		kern.Float.PackA(scratch.packedA, scratch.aBuf, geo.m, geo.k, geo.k, 1)
		kern.Float.PackB(scratch.packedB, scratch.bBuf, geo.k, geo.n, geo.n, 1)
		if err := kern.Float.MatMulPrepacked(scratch.packedA, scratch.packedB, scratch.dst, geo.m, geo.k, geo.n, geo.n, 1); err != nil {
			return err
		}
		for i := 0; i < geo.m*geo.n; i++ {
			outData[cOff+i] = float32(scratch.dst[i])
		}
		return nil
	}

	if count < opts.ParallelThreshold || count <= 1 {
		scratch := newScratchBuffers(geo.m, geo.k, geo.n, kern)
		for flat := 0; flat < count; flat++ {
			if err := runOne(flat, scratch); err != nil {
				return nil, err
			}
		}
	} else {
		var g errgroup.Group
		for flat := 0; flat < count; flat++ {
			flat := flat
			g.Go(func() error {
				scratch := newScratchBuffers(geo.m, geo.k, geo.n, kern)
				return runOne(flat, scratch)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return tensor.NewF32(geo.out, outData)
}

// scratchBuffers holds the packing/compute buffers reused across
// broadcast-prefix iterations within one goroutine, per spec.md §5's
// resource discipline ("packing scratch buffers are scoped to a
// single evaluator call").
type scratchBuffers struct {
	aBuf, bBuf   []float64
	packedA, packedB []float64
	dst          []float64
}

func newScratchBuffers(m, k, n int, kern *kernel.Kernel) *scratchBuffers {
	return &scratchBuffers{
		aBuf:    make([]float64, m*k),
		bBuf:    make([]float64, k*n),
		packedA: make([]float64, kern.PackedALen(m, k)),
		packedB: make([]float64, kern.PackedBLen(k, n)),
		dst:     make([]float64, m*n),
	}
}

func (s *scratchBuffers) loadA(src []float32, m, k int) {
	for i := 0; i < m*k; i++ {
		s.aBuf[i] = float64(src[i])
	}
}

func (s *scratchBuffers) loadB(src []float32, k, n int) {
	for i := 0; i < k*n; i++ {
		s.bBuf[i] = float64(src[i])
	}
}
