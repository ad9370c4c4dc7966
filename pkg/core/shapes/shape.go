package shapes

import (
	"strings"

	"github.com/pkg/errors"
)

// Shape is an ordered sequence of Dim. Rank is len(Shape); for matmul
// operands post-normalization rank must be >= 2.
type Shape []Dim

// Make builds a Shape from concrete dimension values, mirroring the
// `shapes.Make(dtype, dims...)` convenience constructor gomlx exposes
// (see pkg/ml/seq2seq/graph_functions.go), minus the dtype argument:
// DatumType travels alongside a Shape in a TensorFact, not inside it.
func Make(dims ...int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = NewConcreteDim(d)
	}
	return s
}

// Rank is the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Equal reports whether two shapes have the same rank and equal Dims.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Clone returns an independent copy.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// WithLeadingOnes returns a shape left-padded with size-1 axes until it
// reaches the given rank. If the shape already has that rank or more, it
// is returned unchanged.
func (s Shape) WithLeadingOnes(rank int) Shape {
	if len(s) >= rank {
		return s.Clone()
	}
	out := make(Shape, rank)
	pad := rank - len(s)
	for i := 0; i < pad; i++ {
		out[i] = NewConcreteDim(1)
	}
	copy(out[pad:], s)
	return out
}

// BroadcastDim resolves two Dims under NumPy-style broadcasting: a size-1
// dim yields to the other operand's dim, identical dims yield themselves,
// anything else is a shape mismatch.
func BroadcastDim(a, b Dim) (Dim, error) {
	if a.IsOne() {
		return b, nil
	}
	if b.IsOne() {
		return a, nil
	}
	if a.Equal(b) {
		return a, nil
	}
	return Dim{}, errors.Errorf("shape mismatch: cannot broadcast dimensions %s and %s", a, b)
}

// BroadcastPrefix broadcasts two (already equal-length) prefix shapes
// elementwise, as used for the batch axes preceding the trailing M/K/N
// pair of a matmul operand.
func BroadcastPrefix(a, b Shape) (Shape, error) {
	if len(a) != len(b) {
		return nil, errors.Errorf("broadcast prefix incompatible: ranks %d and %d", len(a), len(b))
	}
	out := make(Shape, len(a))
	for i := range a {
		d, err := BroadcastDim(a[i], b[i])
		if err != nil {
			return nil, errors.WithMessagef(err, "broadcasting prefix axis %d", i)
		}
		out[i] = d
	}
	return out, nil
}

// MatMulShapes normalizes two matmul operand shapes and infers the
// output shape, following the source's `infer_shapes`:
//   - a rank < 2 is left-padded with a leading size-1 axis (a row vector
//     becomes an M=1 matrix);
//   - b rank < 2 is right-padded with a trailing size-1 axis (a column
//     vector becomes an N=1 matrix);
//   - both are then left-padded with size-1 axes until their ranks match;
//   - the leading (batch) axes are broadcast elementwise;
//   - the output shape is broadcastPrefix ++ [a[-2], b[-1]].
func MatMulShapes(a, b Shape) (normA, normB, out Shape, err error) {
	normA = a.Clone()
	normB = b.Clone()
	if len(normA) < 2 {
		normA = append(Shape{NewConcreteDim(1)}, normA...)
	}
	if len(normB) < 2 {
		normB = append(normB, NewConcreteDim(1))
	}
	rank := len(normA)
	if len(normB) > rank {
		rank = len(normB)
	}
	normA = normA.WithLeadingOnes(rank)
	normB = normB.WithLeadingOnes(rank)

	prefix, err := BroadcastPrefix(normA[:rank-2], normB[:rank-2])
	if err != nil {
		return nil, nil, nil, err
	}
	m := normA[rank-2]
	k := normA[rank-1]
	kb := normB[rank-2]
	if !k.Equal(kb) {
		return nil, nil, nil, errors.Errorf("shape mismatch: contracted dimension differs, %s (from a) vs %s (from b)", k, kb)
	}
	n := normB[rank-1]

	out = make(Shape, 0, len(prefix)+2)
	out = append(out, prefix...)
	out = append(out, m, n)
	return normA, normB, out, nil
}
