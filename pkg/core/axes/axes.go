// Package axes implements the axis-mapping algebra the einsum lowerer
// runs on: per-label position records across an arbitrary number of
// inputs and outputs, and the operations codegen.rs performs on them
// (injection, linking, sub-mapping extraction, axis-op translation).
package axes

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Side selects which side of the mapping an operation targets: one of
// the numbered inputs, or the output.
type Side int

const (
	Output Side = -1
)

// Input returns the Side value denoting input index i.
func Input(i int) Side { return Side(i) }

func (s Side) isOutput() bool { return s == Output }

// Axis is a single logical axis label together with its position list
// in every input and in the output. A position list of length 0 means
// the axis is absent from that operand; length >= 1 means it occurs at
// each listed position (diagonal/repeated use).
type Axis struct {
	Label   rune
	Inputs  [][]int // Inputs[i] = positions of Label in input i
	Outputs []int   // positions of Label in the output
}

func (a Axis) clone() Axis {
	out := Axis{Label: a.Label, Outputs: append([]int(nil), a.Outputs...)}
	out.Inputs = make([][]int, len(a.Inputs))
	for i, p := range a.Inputs {
		out.Inputs[i] = append([]int(nil), p...)
	}
	return out
}

// positions returns the position list for the given side (Output or a
// numbered input).
func (a Axis) positions(side Side) []int {
	if side.isOutput() {
		return a.Outputs
	}
	return a.Inputs[int(side)]
}

func (a Axis) setPositions(side Side, pos []int) Axis {
	out := a.clone()
	if side.isOutput() {
		out.Outputs = pos
	} else {
		out.Inputs[int(side)] = pos
	}
	return out
}

// occursOnceAt returns (position, true) iff the axis occurs at exactly
// one position on the given side.
func (a Axis) occursOnceAt(side Side) (int, bool) {
	p := a.positions(side)
	if len(p) != 1 {
		return 0, false
	}
	return p[0], true
}

// OccursOnceAtInput reports the axis's sole position in input i, if it
// occurs there exactly once.
func (a Axis) OccursOnceAtInput(i int) (int, bool) {
	return a.occursOnceAt(Input(i))
}

// OccursOnceAtOutput reports the axis's sole position in the output,
// if it occurs there exactly once.
func (a Axis) OccursOnceAtOutput() (int, bool) {
	return a.occursOnceAt(Output)
}

// AxisPosPair is a (output-position, operand-position) correspondence,
// as used by the LIR matmul node's c_to_a_axis_mapping/
// c_to_b_axis_mapping (spec.md §4.2).
type AxisPosPair struct {
	CPos       int
	OperandPos int
}

// AxesMapping is the full set of Axis values covering every position of
// every input and the output exactly once.
type AxesMapping struct {
	NumInputs int
	Axes      []Axis
}

// New builds an empty mapping over numInputs operands.
func New(numInputs int) *AxesMapping {
	return &AxesMapping{NumInputs: numInputs}
}

// Clone returns an independent deep copy.
func (m *AxesMapping) Clone() *AxesMapping {
	out := &AxesMapping{NumInputs: m.NumInputs, Axes: make([]Axis, len(m.Axes))}
	for i, a := range m.Axes {
		out.Axes[i] = a.clone()
	}
	return out
}

// IterAllAxes enumerates every axis in the mapping.
func (m *AxesMapping) IterAllAxes() []Axis {
	return m.Axes
}

// Find returns the axis with the given label, if present.
func (m *AxesMapping) Find(label rune) (Axis, bool) {
	for _, a := range m.Axes {
		if a.Label == label {
			return a, true
		}
	}
	return Axis{}, false
}

// AvailableLabel produces a fresh axis label not currently used in the
// mapping, scanning lowercase letters starting at 'a'.
func (m *AxesMapping) AvailableLabel() rune {
	used := make(map[rune]bool, len(m.Axes))
	for _, a := range m.Axes {
		used[a.Label] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		if !used[c] {
			return c
		}
	}
	for c := 'A'; c <= 'Z'; c++ {
		if !used[c] {
			return c
		}
	}
	panic("axes: exhausted available labels")
}

// AddAxis appends a fully-specified axis to the mapping. Callers are
// responsible for the "every position claimed exactly once" invariant;
// this constructor is the low-level building block used by Parse and
// by the resolver's injection patches.
func (m *AxesMapping) AddAxis(a Axis) {
	if len(a.Inputs) != m.NumInputs {
		panic("axes: axis input-position list count does not match NumInputs")
	}
	m.Axes = append(m.Axes, a)
}

// ShiftPositionsAtOrAfter returns a clone with every position at or
// after the given position, on the given side, incremented by one —
// the bookkeeping step that precedes inserting a new axis at that
// position.
func (m *AxesMapping) ShiftPositionsAtOrAfter(side Side, position int) *AxesMapping {
	out := m.Clone()
	for i, a := range out.Axes {
		p := a.positions(side)
		shifted := make([]int, len(p))
		for j, v := range p {
			if v >= position {
				shifted[j] = v + 1
			} else {
				shifted[j] = v
			}
		}
		out.Axes[i] = a.setPositions(side, shifted)
	}
	return out
}

// WithExtraAxis inserts a fresh size-1 axis into one operand or output
// at the given position, shifting existing positions at or after it,
// and returns the new mapping. The label is picked by the caller (e.g.
// via AvailableLabel) and passed in, mirroring tract's
// `with_extra_axis(label, side, position)`.
func (m *AxesMapping) WithExtraAxis(label rune, side Side, position int) *AxesMapping {
	out := m.ShiftPositionsAtOrAfter(side, position)
	na := Axis{Label: label, Inputs: make([][]int, m.NumInputs)}
	for i := range na.Inputs {
		if Side(i) == side {
			na.Inputs[i] = []int{position}
		} else {
			na.Inputs[i] = nil
		}
	}
	if side.isOutput() {
		na.Outputs = []int{position}
	}
	out.AddAxis(na)
	return out
}

// WithExtraAxisOnSides inserts one fresh axis present at a given
// position on each of several sides simultaneously (e.g. position 0 of
// both inputs, for K-injection's fresh-label case; or position 0 of a
// target input and position 0 of the output, for M/N-injection's
// fresh-label case). Sides and positions must have equal length.
func (m *AxesMapping) WithExtraAxisOnSides(label rune, sides []Side, positions []int) *AxesMapping {
	out := m.Clone()
	for i, side := range sides {
		out = out.ShiftPositionsAtOrAfter(side, positions[i])
	}
	na := Axis{Label: label, Inputs: make([][]int, m.NumInputs)}
	for i, side := range sides {
		if side.isOutput() {
			na.Outputs = []int{positions[i]}
		} else {
			na.Inputs[int(side)] = []int{positions[i]}
		}
	}
	out.AddAxis(na)
	return out
}

// WithExtraAxisOccurrence adds an additional occurrence of an existing
// label at the given position on the given side.
func (m *AxesMapping) WithExtraAxisOccurrence(label rune, side Side, position int) (*AxesMapping, error) {
	out := m.Clone()
	idx := -1
	for i, a := range out.Axes {
		if a.Label == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.Errorf("axes: label %q not found", label)
	}
	for i, a := range out.Axes {
		p := a.positions(side)
		shifted := make([]int, len(p))
		for j, v := range p {
			if v >= position {
				shifted[j] = v + 1
			} else {
				shifted[j] = v
			}
		}
		out.Axes[i] = a.setPositions(side, shifted)
	}
	a := out.Axes[idx]
	p := append(append([]int(nil), a.positions(side)...), position)
	sort.Ints(p)
	out.Axes[idx] = a.setPositions(side, p)
	return out, nil
}

// WithoutOccurrence removes label's single occurrence on the given
// side, shifting later positions on that side down by one. If the
// axis then has no occurrences anywhere, it is dropped entirely.
// General-purpose mapping surgery; M/N-injection undoes its own
// scaffolding axis at the graph level instead, via an explicit
// AxisOp{Kind: OpRm} node on the output (see pkg/einsum/inject.go),
// matching the source's patch-level squeeze rather than rewriting the
// mapping a second time.
func (m *AxesMapping) WithoutOccurrence(label rune, side Side) (*AxesMapping, error) {
	out := m.Clone()
	idx, ok := out.indexOf(label)
	if !ok {
		return nil, errors.Errorf("axes: label %q not found", label)
	}
	pos, ok := out.Axes[idx].occursOnceAt(side)
	if !ok {
		return nil, errors.Errorf("axes: label %q does not occur exactly once on the given side", label)
	}
	out.Axes[idx] = out.Axes[idx].setPositions(side, nil)
	for i, a := range out.Axes {
		p := a.positions(side)
		shifted := make([]int, len(p))
		for j, v := range p {
			if v > pos {
				shifted[j] = v - 1
			} else {
				shifted[j] = v
			}
		}
		out.Axes[i] = a.setPositions(side, shifted)
	}
	a := out.Axes[idx]
	empty := len(a.Outputs) == 0
	for _, ins := range a.Inputs {
		if len(ins) != 0 {
			empty = false
		}
	}
	if empty {
		out.Axes = append(out.Axes[:idx], out.Axes[idx+1:]...)
	}
	return out, nil
}

// Linking declares that two labels must share size by merging b's
// position lists into a, then dropping b. Both labels must exist and
// must not already occupy overlapping positions on any side.
func (m *AxesMapping) Linking(labelA, labelB rune) (*AxesMapping, error) {
	out := m.Clone()
	ia, ok := out.indexOf(labelA)
	if !ok {
		return nil, errors.Errorf("axes: label %q not found", labelA)
	}
	ib, ok := out.indexOf(labelB)
	if !ok {
		return nil, errors.Errorf("axes: label %q not found", labelB)
	}
	a, b := out.Axes[ia], out.Axes[ib]
	merged := a.clone()
	merged.Outputs = mergeSorted(merged.Outputs, b.Outputs)
	for i := range merged.Inputs {
		merged.Inputs[i] = mergeSorted(merged.Inputs[i], b.Inputs[i])
	}
	out.Axes[ia] = merged
	out.Axes = append(out.Axes[:ib], out.Axes[ib+1:]...)
	return out, nil
}

func mergeSorted(a, b []int) []int {
	out := append(append([]int(nil), a...), b...)
	sort.Ints(out)
	return out
}

func (m *AxesMapping) indexOf(label rune) (int, bool) {
	for i, a := range m.Axes {
		if a.Label == label {
			return i, true
		}
	}
	return 0, false
}

// ExtractSubMapping projects the mapping onto a subset of inputs and
// outputs named by index: the surviving axes' position lists are
// compacted to only the selected sides (in the order given), and axes
// absent from every selected side are dropped entirely.
func (m *AxesMapping) ExtractSubMapping(inputIndices []int, outputIndices []int) *AxesMapping {
	out := &AxesMapping{NumInputs: len(inputIndices)}
	for _, a := range m.Axes {
		na := Axis{Label: a.Label, Inputs: make([][]int, len(inputIndices))}
		any := false
		for j, srcIdx := range inputIndices {
			na.Inputs[j] = append([]int(nil), a.Inputs[srcIdx]...)
			if len(na.Inputs[j]) > 0 {
				any = true
			}
		}
		if len(outputIndices) > 0 {
			// outputIndices selects whether the (single) output is kept;
			// any non-empty slice means "keep".
			na.Outputs = append([]int(nil), a.Outputs...)
			if len(na.Outputs) > 0 {
				any = true
			}
		}
		if any {
			out.Axes = append(out.Axes, na)
		}
	}
	return out
}

// AxisOpKind names the per-axis rewrite operations translate_to_axis_ops
// emits.
type AxisOpKind int

const (
	OpAdd AxisOpKind = iota
	OpRm
	OpPermute
)

// AxisOp is a single shape-rewrite step: Add(position) inserts a size-1
// axis, Rm(position) removes one, Permute(perm) reorders axes.
type AxisOp struct {
	Kind     AxisOpKind
	Position int   // for Add/Rm
	Perm     []int // for Permute: Perm[i] = source axis feeding output axis i
}

func (op AxisOp) String() string {
	switch op.Kind {
	case OpAdd:
		return "Add(" + itoa(op.Position) + ")"
	case OpRm:
		return "Rm(" + itoa(op.Position) + ")"
	default:
		parts := make([]string, len(op.Perm))
		for i, p := range op.Perm {
			parts[i] = itoa(p)
		}
		return "Permute(" + strings.Join(parts, ",") + ")"
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TranslateToAxisOps produces a minimal ordered sequence of per-axis
// Add/Rm/Permute operations that takes an operand with the mapping's
// current position layout on the given side to its canonical
// (batch..., target order...) shape, where targetLabels lists the
// labels in their desired final order. Labels of targetLabels absent
// from the side get an Add at the end of their position (size-1, to be
// filled by a broadcast), and source positions not named in
// targetLabels are removed.
func (m *AxesMapping) TranslateToAxisOps(side Side, targetLabels []rune) []AxisOp {
	var ops []AxisOp

	// Build the current rank on this side.
	rank := 0
	for _, a := range m.Axes {
		for _, p := range a.positions(side) {
			if p+1 > rank {
				rank = p + 1
			}
		}
	}
	labelAtPos := make(map[int]rune, rank)
	for _, a := range m.Axes {
		for _, p := range a.positions(side) {
			labelAtPos[p] = a.Label
		}
	}
	keep := make(map[rune]bool, len(targetLabels))
	for _, l := range targetLabels {
		keep[l] = true
	}

	// Remove positions (highest index first, so earlier indices remain
	// valid) whose label is not wanted.
	for p := rank - 1; p >= 0; p-- {
		l, ok := labelAtPos[p]
		if !ok || !keep[l] {
			ops = append(ops, AxisOp{Kind: OpRm, Position: p})
		}
	}

	// Add missing target labels at the end, then permute into final
	// order. Since this helper works on an already-reduced operand
	// (only kept labels remain after the removals above), the permute
	// step reduces to reading off the current order of kept labels
	// compared to targetLabels.
	present := make([]rune, 0, len(targetLabels))
	for p := 0; p < rank; p++ {
		if l, ok := labelAtPos[p]; ok && keep[l] {
			present = append(present, l)
		}
	}
	missing := map[rune]bool{}
	for _, l := range targetLabels {
		found := false
		for _, p := range present {
			if p == l {
				found = true
				break
			}
		}
		if !found {
			missing[l] = true
		}
	}
	for _, l := range targetLabels {
		if missing[l] {
			ops = append(ops, AxisOp{Kind: OpAdd, Position: len(present)})
			present = append(present, l)
		}
	}

	if !sameOrder(present, targetLabels) {
		perm := make([]int, len(targetLabels))
		for i, l := range targetLabels {
			for j, p := range present {
				if p == l {
					perm[i] = j
					break
				}
			}
		}
		ops = append(ops, AxisOp{Kind: OpPermute, Perm: perm})
	}

	return ops
}

func sameOrder(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
