package dtype_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/contract/pkg/core/dtype"
)

func TestConstructorsAndKind(t *testing.T) {
	require.True(t, dtype.F32Type().IsFloat())
	require.True(t, dtype.F16Type().IsFloat())
	require.True(t, dtype.I32Type().IsInteger())
	require.True(t, dtype.U8Type().IsInteger())
	require.False(t, dtype.F32Type().IsInteger())
}

func TestQuantizedTypesCarryParams(t *testing.T) {
	q := dtype.QI8WithParams(dtype.QuantParams{ZeroPoint: 3, Scale: 0.5})
	require.True(t, q.IsQuantized())
	require.Equal(t, int32(3), q.Quant.ZeroPoint)
	require.Equal(t, 0.5, q.Quant.Scale)
}

func TestEqualComparesQuantParams(t *testing.T) {
	a := dtype.QU8WithParams(dtype.QuantParams{ZeroPoint: 1, Scale: 1})
	b := dtype.QU8WithParams(dtype.QuantParams{ZeroPoint: 2, Scale: 1})
	require.False(t, a.Equal(b))
	require.True(t, a.Equal(dtype.QU8WithParams(dtype.QuantParams{ZeroPoint: 1, Scale: 1})))
}

func TestUnquantizedStripsParams(t *testing.T) {
	q := dtype.QI8WithParams(dtype.QuantParams{ZeroPoint: 5, Scale: 2})
	require.Equal(t, dtype.I8Type(), q.Unquantized())
}

func TestBackendMapping(t *testing.T) {
	require.Equal(t, dtypes.Float32, dtype.F32Type().Backend())
	require.Equal(t, dtypes.Int8, dtype.I8Type().Backend())
	require.Equal(t, dtypes.Int8, dtype.QI8WithParams(dtype.QuantParams{}).Backend())
	require.Equal(t, dtypes.Uint8, dtype.QU8WithParams(dtype.QuantParams{}).Backend())
}

func TestStringRendersQuantParams(t *testing.T) {
	q := dtype.QI8WithParams(dtype.QuantParams{ZeroPoint: 1, Scale: 0.25})
	require.Contains(t, q.String(), "QI8")
	require.Contains(t, q.String(), "zp=1")
}
