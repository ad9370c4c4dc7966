// Package tensor holds the concrete (DatumType, Shape, data) value the
// batched evaluator and kernel library operate on. It is the TensorFact
// of spec §3 made concrete with backing storage.
package tensor

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/contract/pkg/core/dtype"
	"github.com/gomlx/contract/pkg/core/shapes"
)

// Fact is the (DatumType, Shape) pair describing a graph edge, without
// any backing data — what flows through the lowering core before a
// value is materialized.
type Fact struct {
	DType dtype.DatumType
	Shape shapes.Shape
}

func (f Fact) String() string {
	return f.DType.String() + f.Shape.String()
}

// Tensor is a concrete value: a Fact plus flat row-major storage. Every
// concrete dim in Shape must be non-negative; symbolic dims are not
// permitted once a Tensor is materialized.
type Tensor struct {
	fact Fact
	f32  []float32
	f16  []float16.Float16
	i32  []int32
	i8   []int8
	u8   []uint8
}

// NewF32 builds a Tensor from an F32 data buffer, taking ownership of
// data (it is not copied).
func NewF32(shape shapes.Shape, data []float32) (*Tensor, error) {
	n, err := concreteLen(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, errors.Errorf("tensor: expected %d elements for shape %s, got %d", n, shape, len(data))
	}
	return &Tensor{fact: Fact{DType: dtype.F32Type(), Shape: shape}, f32: data}, nil
}

// NewF16 builds a Tensor from an F16 data buffer.
func NewF16(shape shapes.Shape, data []float16.Float16) (*Tensor, error) {
	n, err := concreteLen(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, errors.Errorf("tensor: expected %d elements for shape %s, got %d", n, shape, len(data))
	}
	return &Tensor{fact: Fact{DType: dtype.F16Type(), Shape: shape}, f16: data}, nil
}

// NewI32 builds a Tensor from an I32 data buffer (the typical
// accumulator/reduction type).
func NewI32(shape shapes.Shape, data []int32) (*Tensor, error) {
	n, err := concreteLen(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, errors.Errorf("tensor: expected %d elements for shape %s, got %d", n, shape, len(data))
	}
	return &Tensor{fact: Fact{DType: dtype.I32Type(), Shape: shape}, i32: data}, nil
}

// NewI8 builds a Tensor from an I8 (optionally quantized) data buffer.
func NewI8(dt dtype.DatumType, shape shapes.Shape, data []int8) (*Tensor, error) {
	n, err := concreteLen(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, errors.Errorf("tensor: expected %d elements for shape %s, got %d", n, shape, len(data))
	}
	return &Tensor{fact: Fact{DType: dt, Shape: shape}, i8: data}, nil
}

// NewU8 builds a Tensor from a U8 (optionally quantized) data buffer.
func NewU8(dt dtype.DatumType, shape shapes.Shape, data []uint8) (*Tensor, error) {
	n, err := concreteLen(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, errors.Errorf("tensor: expected %d elements for shape %s, got %d", n, shape, len(data))
	}
	return &Tensor{fact: Fact{DType: dt, Shape: shape}, u8: data}, nil
}

func concreteLen(shape shapes.Shape) (int, error) {
	n := 1
	for i, d := range shape {
		v, ok := d.AsUsize()
		if !ok {
			return 0, errors.Errorf("tensor: dimension %d of shape %s is not concrete", i, shape)
		}
		n *= v
	}
	return n, nil
}

// Fact returns the tensor's (DatumType, Shape) pair.
func (t *Tensor) Fact() Fact { return t.fact }

// Shape returns the tensor's Shape.
func (t *Tensor) Shape() shapes.Shape { return t.fact.Shape }

// DType returns the tensor's DatumType.
func (t *Tensor) DType() dtype.DatumType { return t.fact.DType }

// F32 returns the backing float32 slice. Panics if the tensor is not F32.
func (t *Tensor) F32() []float32 {
	if t.fact.DType.Kind != dtype.F32 {
		panic("tensor: F32 called on a " + t.fact.DType.String() + " tensor")
	}
	return t.f32
}

// F16 returns the backing float16 slice. Panics if the tensor is not F16.
func (t *Tensor) F16() []float16.Float16 {
	if t.fact.DType.Kind != dtype.F16 {
		panic("tensor: F16 called on a " + t.fact.DType.String() + " tensor")
	}
	return t.f16
}

// I32 returns the backing int32 slice. Panics if the tensor is not I32.
func (t *Tensor) I32() []int32 {
	if t.fact.DType.Kind != dtype.I32 {
		panic("tensor: I32 called on a " + t.fact.DType.String() + " tensor")
	}
	return t.i32
}

// I8 returns the backing int8 slice. Panics if the tensor is not
// I8/QI8.
func (t *Tensor) I8() []int8 {
	if t.fact.DType.Kind != dtype.I8 && t.fact.DType.Kind != dtype.QI8 {
		panic("tensor: I8 called on a " + t.fact.DType.String() + " tensor")
	}
	return t.i8
}

// U8 returns the backing uint8 slice. Panics if the tensor is not
// U8/QU8.
func (t *Tensor) U8() []uint8 {
	if t.fact.DType.Kind != dtype.U8 && t.fact.DType.Kind != dtype.QU8 {
		panic("tensor: U8 called on a " + t.fact.DType.String() + " tensor")
	}
	return t.u8
}

// AsF32 widens any supported numeric kind to a []float32 (for an F32
// tensor, the backing slice itself; otherwise a new slice), the
// common working type for packing and for the quant lowerer's float
// matmul step (§4.3 step 2).
func (t *Tensor) AsF32() ([]float32, error) {
	switch t.fact.DType.Kind {
	case dtype.F32:
		return t.f32, nil
	case dtype.F16:
		out := make([]float32, len(t.f16))
		for i, v := range t.f16 {
			out[i] = v.Float32()
		}
		return out, nil
	case dtype.I32:
		out := make([]float32, len(t.i32))
		for i, v := range t.i32 {
			out[i] = float32(v)
		}
		return out, nil
	case dtype.I8, dtype.QI8:
		out := make([]float32, len(t.i8))
		for i, v := range t.i8 {
			out[i] = float32(v)
		}
		return out, nil
	case dtype.U8, dtype.QU8:
		out := make([]float32, len(t.u8))
		for i, v := range t.u8 {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("tensor: cannot widen %s to float32", t.fact.DType)
	}
}
