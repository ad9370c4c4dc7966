// Package dtype describes tensor element types, including the quantized
// variants the einsum lowerer needs (QI8/QU8 carrying zero-point and
// scale), wrapping gopjrt's concrete backend dtype for the unquantized
// tag.
package dtype

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
)

// Kind enumerates the element-type tags spec.md §3 lists.
type Kind int

const (
	Invalid Kind = iota
	F32
	F16
	I32
	I8
	U8
	QI8
	QU8
)

func (k Kind) String() string {
	switch k {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case I32:
		return "I32"
	case I8:
		return "I8"
	case U8:
		return "U8"
	case QI8:
		return "QI8"
	case QU8:
		return "QU8"
	default:
		return "Invalid"
	}
}

// QuantParams are the affine quantization parameters carried statically
// by a QI8/QU8 DatumType: value ≈ scale * (quantized - zeroPoint).
type QuantParams struct {
	ZeroPoint int32
	Scale     float64
}

// DatumType is the (Kind, optional QuantParams) pair spec.md §3 calls
// DatumType. Non-quantized kinds carry a zero QuantParams.
type DatumType struct {
	Kind  Kind
	Quant QuantParams
}

func F32Type() DatumType { return DatumType{Kind: F32} }
func F16Type() DatumType { return DatumType{Kind: F16} }
func I32Type() DatumType { return DatumType{Kind: I32} }
func I8Type() DatumType  { return DatumType{Kind: I8} }
func U8Type() DatumType  { return DatumType{Kind: U8} }

// QI8WithParams builds a signed-8-bit quantized type with the given
// affine parameters.
func QI8WithParams(q QuantParams) DatumType { return DatumType{Kind: QI8, Quant: q} }

// QU8WithParams builds an unsigned-8-bit quantized type with the given
// affine parameters.
func QU8WithParams(q QuantParams) DatumType { return DatumType{Kind: QU8, Quant: q} }

func (dt DatumType) String() string {
	if dt.Kind == QI8 || dt.Kind == QU8 {
		return fmt.Sprintf("%s(zp=%d,scale=%g)", dt.Kind, dt.Quant.ZeroPoint, dt.Quant.Scale)
	}
	return dt.Kind.String()
}

// Equal compares kind and, for quantized kinds, the quant params.
func (dt DatumType) Equal(o DatumType) bool {
	if dt.Kind != o.Kind {
		return false
	}
	if dt.Kind == QI8 || dt.Kind == QU8 {
		return dt.Quant == o.Quant
	}
	return true
}

// IsQuantized reports whether the type is QI8 or QU8.
func (dt DatumType) IsQuantized() bool { return dt.Kind == QI8 || dt.Kind == QU8 }

// IsFloat reports whether the type is F32 or F16.
func (dt DatumType) IsFloat() bool { return dt.Kind == F32 || dt.Kind == F16 }

// IsInteger reports whether the type is one of the integer kinds,
// quantized or not.
func (dt DatumType) IsInteger() bool {
	switch dt.Kind {
	case I32, I8, U8, QI8, QU8:
		return true
	default:
		return false
	}
}

// Unquantized strips any quantization params, returning the plain
// integer storage type (QI8 -> I8, QU8 -> U8); other kinds pass through.
func (dt DatumType) Unquantized() DatumType {
	switch dt.Kind {
	case QI8:
		return DatumType{Kind: I8}
	case QU8:
		return DatumType{Kind: U8}
	default:
		return DatumType{Kind: dt.Kind}
	}
}

// Backend returns the concrete gopjrt element type this DatumType is
// stored as, which is what the kernel library ultimately dispatches on.
func (dt DatumType) Backend() dtypes.DType {
	switch dt.Kind {
	case F32:
		return dtypes.Float32
	case F16:
		return dtypes.Float16
	case I32:
		return dtypes.Int32
	case I8, QI8:
		return dtypes.Int8
	case U8, QU8:
		return dtypes.Uint8
	default:
		return dtypes.InvalidDType
	}
}
