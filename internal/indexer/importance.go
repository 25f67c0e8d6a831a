package indexer

import (
	"math"

	"github.com/dshills/codegraph/pkg/types"
)

// Weights tune the importance heuristic:
//
//	raw = type weight + Incoming*ln(1+in) + Outgoing*ln(1+out) + CrossFile*ln(1+cross-file in)
//
// Raw scores are divided by the maximum raw score of the graph.
type Weights struct {
	Types     map[types.NodeType]float64
	Other     float64 // Types missing from the table
	Incoming  float64
	Outgoing  float64
	CrossFile float64
}

// DefaultWeights returns the built-in importance weights
func DefaultWeights() Weights {
	return Weights{
		Types: map[types.NodeType]float64{
			types.NodeClass:     1.0,
			types.NodeInterface: 0.9,
			types.NodeFunction:  0.8,
			types.NodeMethod:    0.7,
			types.NodeModule:    0.6,
			types.NodeFile:      0.5,
			types.NodeVariable:  0.3,
			types.NodeImport:    0.2,
		},
		Other:     0.4,
		Incoming:  0.5,
		Outgoing:  0.2,
		CrossFile: 0.3,
	}
}

func (w Weights) typeWeight(t types.NodeType) float64 {
	if v, ok := w.Types[t]; ok {
		return v
	}
	return w.Other
}

// computeImportance scores every node from its type and degree. The result
// depends only on the graph's structure, never on id assignment or order.
func computeImportance(nodes []types.Node, rels []types.Relationship, w Weights) map[int64]float64 {
	paths := make(map[int64]string, len(nodes))
	for i := range nodes {
		paths[nodes[i].ID] = nodes[i].Path
	}

	in := make(map[int64]int, len(nodes))
	out := make(map[int64]int, len(nodes))
	cross := make(map[int64]int, len(nodes))
	for _, r := range rels {
		out[r.SourceID]++
		in[r.TargetID]++
		if paths[r.SourceID] != paths[r.TargetID] {
			cross[r.TargetID]++
		}
	}

	raw := make(map[int64]float64, len(nodes))
	maxRaw := 0.0
	for i := range nodes {
		id := nodes[i].ID
		score := w.typeWeight(nodes[i].NodeType) +
			w.Incoming*math.Log1p(float64(in[id])) +
			w.Outgoing*math.Log1p(float64(out[id])) +
			w.CrossFile*math.Log1p(float64(cross[id]))
		if score < 0 || math.IsNaN(score) {
			score = 0
		}
		raw[id] = score
		if score > maxRaw {
			maxRaw = score
		}
	}

	scores := make(map[int64]float64, len(nodes))
	for id, score := range raw {
		if maxRaw > 0 {
			score /= maxRaw
		} else {
			score = 0
		}
		scores[id] = math.Min(1, math.Max(0, score))
	}
	return scores
}
