package matmul_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/contract/pkg/config"
	"github.com/gomlx/contract/pkg/core/shapes"
	"github.com/gomlx/contract/pkg/core/tensor"
	"github.com/gomlx/contract/pkg/matmul"
)

func mustF32(t *testing.T, shape shapes.Shape, data []float32) *tensor.Tensor {
	t.Helper()
	tn, err := tensor.NewF32(shape, data)
	require.NoError(t, err)
	return tn
}

func fillOnes(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func fillSeq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func TestBatchedMatMulScenario1(t *testing.T) {
	// [4,3] x [3,5], row-major values 1..12 and 1..15.
	a := mustF32(t, shapes.Make(4, 3), fillSeq(12))
	b := mustF32(t, shapes.Make(3, 5), fillSeq(15))

	c, err := matmul.BatchedMatMul(a, b, config.Default())
	require.NoError(t, err)
	require.True(t, c.Shape().Equal(shapes.Make(4, 5)))

	out := c.F32()
	// c[0][0] = 1*1 + 2*6 + 3*11 = 46
	require.Equal(t, float32(46), out[0*5+0])
	// c[3][4] = 10*5 + 11*10 + 12*15 = 340
	require.Equal(t, float32(340), out[3*5+4])
}

func TestBatchedMatMulScenario2Broadcast(t *testing.T) {
	// [2,1,3,4] x [1,5,4,2] broadcasts to output [2,5,3,2].
	a := mustF32(t, shapes.Make(2, 1, 3, 4), fillOnes(2*1*3*4))
	b := mustF32(t, shapes.Make(1, 5, 4, 2), fillOnes(1*5*4*2))

	c, err := matmul.BatchedMatMul(a, b, config.Default())
	require.NoError(t, err)
	require.True(t, c.Shape().Equal(shapes.Make(2, 5, 3, 2)))

	// Every element is a dot product of 4 ones.
	for _, v := range c.F32() {
		require.Equal(t, float32(4), v)
	}
}

func TestBatchedMatMulScenario6WideN(t *testing.T) {
	// [2,100] x [100,2000], all-ones: every output element is a dot
	// product of 100 ones.
	a := mustF32(t, shapes.Make(2, 100), fillOnes(2*100))
	b := mustF32(t, shapes.Make(100, 2000), fillOnes(100*2000))

	c, err := matmul.BatchedMatMul(a, b, config.Default())
	require.NoError(t, err)
	require.True(t, c.Shape().Equal(shapes.Make(2, 2000)))

	out := c.F32()
	require.Equal(t, float32(100), out[0])
	require.Equal(t, float32(100), out[len(out)-1])
}

func TestBatchedMatMulBroadcastPrefixInvariant(t *testing.T) {
	// a_shape[3,2,4,6], b_shape[3,1,6,5]: prefix broadcasts [3,2] vs
	// [3,1] -> [3,2]; output = [3,2,4,5].
	a := mustF32(t, shapes.Make(3, 2, 4, 6), fillOnes(3*2*4*6))
	b := mustF32(t, shapes.Make(3, 1, 6, 5), fillOnes(3*1*6*5))

	c, err := matmul.BatchedMatMul(a, b, config.Default())
	require.NoError(t, err)
	require.True(t, c.Shape().Equal(shapes.Make(3, 2, 4, 5)))
	for _, v := range c.F32() {
		require.Equal(t, float32(6), v)
	}
}

func TestBatchedMatMulRejectsMismatchedDType(t *testing.T) {
	a := mustF32(t, shapes.Make(2, 2), fillOnes(4))
	i32, err := tensor.NewI32(shapes.Make(2, 2), []int32{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = matmul.BatchedMatMul(a, i32, config.Default())
	require.Error(t, err)
}

func TestBatchedMatMulParallelPathMatchesSequential(t *testing.T) {
	// Force the parallel path via a low threshold and compare against
	// the sequential result for the same inputs.
	a := mustF32(t, shapes.Make(4, 2, 3), fillSeq(4*2*3))
	b := mustF32(t, shapes.Make(4, 3, 2), fillSeq(4*3*2))

	seq, err := matmul.BatchedMatMul(a, b, config.New(config.WithParallelThreshold(1000)))
	require.NoError(t, err)
	par, err := matmul.BatchedMatMul(a, b, config.New(config.WithParallelThreshold(1)))
	require.NoError(t, err)

	require.Equal(t, seq.F32(), par.F32())
}
