// Package graph is the minimal graph/IR collaborator spec.md §6 treats
// as external: nodes, outlets, and the patch mechanism the lowering
// core uses to stage a rewrite without mutating the host graph until
// the caller applies it.
package graph

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gomlx/contract/pkg/core/axes"
	"github.com/gomlx/contract/pkg/core/dtype"
	"github.com/gomlx/contract/pkg/core/tensor"
)

// OutletID names one output slot of one node: the unit of reference
// between nodes, inside or outside a Patch.
type OutletID struct {
	NodeID int
	Slot   int
}

// Op is anything a Node can carry out. Concrete operator kinds below
// (Cast, Add, Reduce, AxisOpNode, EinSumOp) all implement it.
type Op interface {
	OpName() string
}

// Node is one vertex of the host graph: a named operator over a fixed
// set of input outlets, producing one or more output facts.
type Node struct {
	ID          int
	Name        string
	Op          Op
	Inputs      []OutletID
	OutputFacts []tensor.Fact
}

// Model is the host graph: a flat node table plus outlet fact lookup.
// It is the "enclosing graph/IR type system" spec.md §1 names as an
// external collaborator, implemented just far enough to be self
// hosting for this module's tests.
type Model struct {
	Nodes []*Node
}

// NodeInputFacts returns the TensorFacts feeding the given node, looked
// up through its input outlets.
func (g *Model) NodeInputFacts(nodeID int) ([]tensor.Fact, error) {
	n, err := g.node(nodeID)
	if err != nil {
		return nil, err
	}
	facts := make([]tensor.Fact, len(n.Inputs))
	for i, o := range n.Inputs {
		f, err := g.OutletFact(o)
		if err != nil {
			return nil, err
		}
		facts[i] = f
	}
	return facts, nil
}

// OutletFact returns the TensorFact produced at the given outlet.
func (g *Model) OutletFact(o OutletID) (tensor.Fact, error) {
	n, err := g.node(o.NodeID)
	if err != nil {
		return tensor.Fact{}, err
	}
	if o.Slot < 0 || o.Slot >= len(n.OutputFacts) {
		return tensor.Fact{}, errors.Errorf("graph: node %d has no output slot %d", o.NodeID, o.Slot)
	}
	return n.OutputFacts[o.Slot], nil
}

func (g *Model) node(id int) (*Node, error) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, errors.Errorf("graph: node %d not found", id)
}

// addNode appends a node with a freshly assigned ID to the host graph
// and returns it. Used by Patch.Apply, never directly by the lowering
// core (which only ever talks to a Patch).
func (g *Model) addNode(name string, op Op, inputs []OutletID, facts []tensor.Fact) *Node {
	n := &Node{ID: len(g.Nodes), Name: name, Op: op, Inputs: inputs, OutputFacts: facts}
	g.Nodes = append(g.Nodes, n)
	return n
}

// replaceNode overwrites node id's Op/Inputs/OutputFacts in place —
// the host-graph side of Patch.ReplaceSingleOp, applied only once the
// patch is committed.
func (g *Model) replaceNode(id int, op Op, inputs []OutletID, facts []tensor.Fact) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	n.Op = op
	n.Inputs = inputs
	n.OutputFacts = facts
	return nil
}

// --- Operators consumed by the core (§6) ---

// AxisOpNode wraps a single axes.AxisOp as a graph operator (Add/Rm/
// Permute), the "shape-manipulation op" spec.md §4.1 calls for when
// injecting size-1 axes.
type AxisOpNode struct{ Op axes.AxisOp }

func (AxisOpNode) OpName() string { return "AxisOp" }

// Identity passes its single input through unchanged. Apply uses it to
// re-point a shunted node at its replacement outlet.
type Identity struct{}

func (Identity) OpName() string { return "Identity" }

// Cast changes a tensor's DatumType without changing its Shape.
type Cast struct{ To dtype.DatumType }

func (Cast) OpName() string { return "Cast" }

// Add is broadcast elementwise addition over its (two or more) inputs.
type Add struct{}

func (Add) OpName() string { return "Add" }

// Const materializes a fixed scalar value with no inputs of its own —
// the graph-level way to feed a literal (e.g. the +128 zero-point
// shift) as a genuine Add operand instead of folding it into a fact.
type Const struct{ I32 int32 }

func (Const) OpName() string { return "Const" }

// ReduceKind names the reduction applied by Reduce.
type ReduceKind int

const (
	Sum ReduceKind = iota
)

// Reduce sums (only Sum is used by this core) its input along the
// given axis positions.
type Reduce struct {
	Axes []int
	Kind ReduceKind
}

func (Reduce) OpName() string { return "Reduce" }

// EinSumOp is the operator the MKN resolver and lowerers center on: an
// axis mapping plus the dtype the
// contraction runs in, and (for the quantized variant) output
// requantization parameters.
type EinSumOp struct {
	Axes       *axes.AxesMapping
	OperatingDT dtype.DatumType
	QParams    *QuantOutputParams
}

func (EinSumOp) OpName() string { return "EinSum" }

// QuantOutputParams is the output-side affine quantization the quant
// lowerer requantizes into.
type QuantOutputParams struct {
	ZeroPoint int32
	DType     dtype.DatumType
}

// --- Quant helpers consumed by the quant lowerer (§6) ---

// WireOffsetU8AsI8 reinterprets an unsigned-8-bit tensor edge as
// signed-8-bit, per spec.md §4.3 step 1: the zero point must shift by
// +128 to compensate, so this op is only valid paired with an edit to
// the corresponding zero-point scalar (done by the caller, since a
// zero point is itself a small constant tensor wired separately).
type WireOffsetU8AsI8 struct{}

func (WireOffsetU8AsI8) OpName() string { return "WireOffsetU8AsI8" }

// CombineScales computes abc_scale = a_scale * b_scale / c_scale.
type CombineScales struct{}

func (CombineScales) OpName() string { return "CombineScales" }

// CompensateZeroPoints computes
// acc - a0*sum_b - b0*sum_a + K*a0*b0, per spec.md §4.3 step 7.
type CompensateZeroPoints struct{ K int64 }

func (CompensateZeroPoints) OpName() string { return "CompensateZeroPoints" }

// Requant converts an accumulator tensor to the final quantized output
// datum type using the combined scale and output zero point.
type Requant struct{ Params QuantOutputParams }

func (Requant) OpName() string { return "Requant" }

// --- Patch ---

// patchNode is one staged (not-yet-committed) node: either wired from
// other patch-local outlets/taps, or a tap of a host-graph outlet.
type patchNode struct {
	name   string
	op     Op
	inputs []OutletID
	facts  []tensor.Fact
}

// Patch is an append-only buffer of staged nodes plus a final shunt
// target, per spec.md §4 "Graph Patch": nothing here mutates the host
// graph until Apply is called.
type Patch struct {
	id         string
	label      string
	host       *Model
	taps       map[OutletID]OutletID // host outlet -> patch-local outlet (memoized)
	nodes      []patchNode
	shuntNode  int
	shuntOutlet OutletID
	hasShunt   bool
}

// NewPatch starts a patch over the given host graph, labeled for
// debugging.
func NewPatch(host *Model, label string) *Patch {
	return &Patch{
		id:    uuid.NewString(),
		label: label,
		host:  host,
		taps:  make(map[OutletID]OutletID),
	}
}

// ID is the patch's unique debug identifier.
func (p *Patch) ID() string { return p.id }

// localOutlet returns the OutletID a patch-local node index/slot maps
// to; patch-local node IDs are negative-offset from host IDs via an
// index scheme private to Apply, so prior to Apply we track local
// outlets as an index into p.nodes directly.
type localRef struct {
	index int
	slot  int
}

func (r localRef) outlet() OutletID { return OutletID{NodeID: -1 - r.index, Slot: r.slot} }

// TapModel reads an existing host-graph outlet into the patch, so
// subsequent WireNode calls can reference it. Repeated taps of the
// same outlet are memoized.
func (p *Patch) TapModel(o OutletID) (OutletID, error) {
	if _, err := p.host.OutletFact(o); err != nil {
		return OutletID{}, errors.WithMessage(err, "tap_model")
	}
	if existing, ok := p.taps[o]; ok {
		return existing, nil
	}
	p.taps[o] = o
	return o, nil
}

// WireNode stages a new node in the patch, wired from the given input
// outlets (which must be either taps or outlets of earlier WireNode
// calls in this same patch), and returns its single output outlet.
// Multi-output nodes are staged via WireNodeMulti.
func (p *Patch) WireNode(name string, op Op, inputs []OutletID, fact tensor.Fact) (OutletID, error) {
	outs, err := p.WireNodeMulti(name, op, inputs, []tensor.Fact{fact})
	if err != nil {
		return OutletID{}, err
	}
	return outs[0], nil
}

// WireNodeMulti is WireNode for operators with more than one output.
func (p *Patch) WireNodeMulti(name string, op Op, inputs []OutletID, facts []tensor.Fact) ([]OutletID, error) {
	idx := len(p.nodes)
	p.nodes = append(p.nodes, patchNode{name: name, op: op, inputs: inputs, facts: facts})
	outs := make([]OutletID, len(facts))
	for i := range facts {
		outs[i] = localRef{index: idx, slot: i}.outlet()
	}
	return outs, nil
}

// ShuntOutside marks that, on Apply, the original node's output should
// be replaced by the given (patch-local or tapped) outlet.
func (p *Patch) ShuntOutside(nodeID int, outlet OutletID) {
	p.shuntNode = nodeID
	p.shuntOutlet = outlet
	p.hasShunt = true
}

// ReplaceSingleOp is the common-case constructor mirroring tract's
// Patch::replace_single_op: build a single-node patch that reads the
// given host inputs, computes via op, and shunts the node's output to
// that single new node.
func ReplaceSingleOp(host *Model, node *Node, inputs []OutletID, op Op, outFact tensor.Fact) (*Patch, error) {
	p := NewPatch(host, "replace_single_op:"+node.Name)
	tapped := make([]OutletID, len(inputs))
	for i, o := range inputs {
		t, err := p.TapModel(o)
		if err != nil {
			return nil, err
		}
		tapped[i] = t
	}
	out, err := p.WireNode(node.Name+".replaced", op, tapped, outFact)
	if err != nil {
		return nil, err
	}
	p.ShuntOutside(node.ID, out)
	return p, nil
}

// Apply commits the patch into the host graph: every staged node is
// appended (patch-local outlets resolved to their final host IDs), and
// the shunted node itself is rewritten in place into an Identity whose
// single input is the new outlet. Apply is the only place the host graph
// is mutated; on any error during patch construction the caller simply
// discards the patch and the host graph is untouched.
func (p *Patch) Apply() error {
	if !p.hasShunt {
		return errors.New("graph: patch has no shunt target; nothing to apply")
	}
	resolved := make([]OutletID, len(p.nodes))
	base := len(p.host.Nodes)
	resolve := func(o OutletID) OutletID {
		if o.NodeID < 0 {
			r := resolved[-1-o.NodeID]
			r.Slot = o.Slot
			return r
		}
		return o
	}
	for i, pn := range p.nodes {
		ins := make([]OutletID, len(pn.inputs))
		for j, in := range pn.inputs {
			ins[j] = resolve(in)
		}
		n := p.host.addNode(pn.name, pn.op, ins, pn.facts)
		resolved[i] = OutletID{NodeID: n.ID, Slot: 0}
	}
	_ = base
	target := resolve(p.shuntOutlet)
	fact, err := p.host.OutletFact(target)
	if err != nil {
		return errors.WithMessage(err, "graph: resolving shunt target fact")
	}
	return p.host.replaceNode(p.shuntNode, Identity{}, []OutletID{target}, []tensor.Fact{fact})
}
