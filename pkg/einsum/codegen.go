package einsum

import (
	"github.com/pkg/errors"

	"github.com/gomlx/contract/pkg/core/graph"
	"github.com/gomlx/contract/pkg/kernel"
)

// maxRewritePasses bounds the resolve/inject loop, per spec.md §8's
// "the process terminates in at most 3 rewrite passes" invariant.
const maxRewritePasses = 3

// Codegen is the top-level entrypoint: resolve MKN for the einsum at
// node, applying at most maxRewritePasses axis-injection patches along
// the way, then lower to a packed-matmul (or quantized) subgraph and
// apply that final patch too. Returns nodeID itself: after lowering,
// that node is an Identity aliasing the lowered output.
func Codegen(model *graph.Model, nodeID int, reg *kernel.Registry) (int, error) {
	node := mustNode(model, nodeID)
	var mkn *MKN
	for pass := 0; ; pass++ {
		m, patch, err := Resolve(model, node)
		if err != nil {
			return 0, err
		}
		if patch != nil {
			if pass >= maxRewritePasses {
				return 0, errors.Errorf("einsum: MKN resolution did not converge within %d passes", maxRewritePasses)
			}
			if err := patch.Apply(); err != nil {
				return 0, err
			}
			// Apply leaves nodeID as an Identity aliasing the freshly
			// wired einsum node; that node is not always the model's
			// last one, since an M/N-injection patch appends a squeeze
			// (AxisOp Rm) node after it, so scan back for the einsum
			// rather than assuming the tail.
			node, err = lastEinSumNode(model)
			if err != nil {
				return 0, err
			}
			continue
		}
		mkn = m
		break
	}

	op, err := asEinSumOp(node)
	if err != nil {
		return 0, err
	}
	var lowerPatch *graph.Patch
	if op.QParams != nil {
		lowerPatch, err = LowerQuant(model, node, mkn, reg)
	} else {
		lowerPatch, err = LowerFloat(model, node, mkn, reg)
	}
	if err != nil {
		return 0, err
	}
	if err := lowerPatch.Apply(); err != nil {
		return 0, err
	}
	return nodeID, nil
}

func mustNode(model *graph.Model, id int) *graph.Node {
	for _, n := range model.Nodes {
		if n.ID == id {
			return n
		}
	}
	panic("einsum: node not found after patch application")
}

// lastEinSumNode scans the model backward for the most recently
// appended node whose Op is an EinSumOp. An injection patch's tail
// node is the einsum itself only when no output squeeze was needed;
// otherwise the tail is the squeeze's AxisOp node, so a plain
// Nodes[len-1] lookup would hand the next resolve pass the wrong op.
func lastEinSumNode(model *graph.Model) (*graph.Node, error) {
	for i := len(model.Nodes) - 1; i >= 0; i-- {
		if _, ok := model.Nodes[i].Op.(*graph.EinSumOp); ok {
			return model.Nodes[i], nil
		}
	}
	return nil, errors.Errorf("einsum: no EinSumOp node found in model after patch application")
}
