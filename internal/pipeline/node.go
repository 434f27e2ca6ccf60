package pipeline

import (
	"devengine/internal/history"
	"devengine/internal/module"
	"devengine/internal/ordering"
)

// Node is the runtime pairing of an operation instance to a pipeline
// position (§3 "Pipeline node"). It does not hold a reference to its
// cached output directly; the pipeline's Cache is keyed by Fingerprint and
// looked up fresh on every run, since the cache itself owns eviction.
type Node struct {
	Op               string
	OpVersion        int
	InstancePriority int
	Rank             int
	Enabled          bool
	Params           []byte
	BlendParams      []byte
	Fingerprint      uint64
	Device           module.Device

	mod module.Module
}

// Module returns the installed module backing this node.
func (n *Node) Module() module.Module { return n.mod }

// BuildNodes derives the ordered node list for one pipeline run from the
// active history prefix, the ordering list, and the module registry
// (§4.5 step 6c / §4.6 "rebuild nodes"). Entries whose op is not installed
// are skipped; the caller is expected to have already logged a
// ModuleMismatch for those during persistence load.
//
// srcW/srcH/srcScale and roi feed into each node's fingerprint so that a
// change in source geometry (e.g. a reload or a zoom) produces a distinct
// fingerprint without needing any other invalidation signal.
func BuildNodes(reg *module.Registry, entries []history.Entry, ord *ordering.List, roi module.ROI, srcW, srcH int, srcScale float64) []*Node {
	nodes := make([]*Node, 0, len(entries))
	var prevFP uint64
	for _, e := range entries {
		mod, ok := reg.Lookup(e.Op)
		if !ok {
			continue
		}
		rank := e.Rank
		if ord != nil {
			if r, found := ord.Rank(e.Op, e.InstancePriority); found {
				rank = r
			}
		}
		fp := NodeFingerprint(e.Op, e.OpVersion, rank, e.InstancePriority, e.Enabled, e.Params, e.BlendParams, roi, srcW, srcH, srcScale)
		prevFP = CombineFingerprint(prevFP, fp)
		nodes = append(nodes, &Node{
			Op:               e.Op,
			OpVersion:        e.OpVersion,
			InstancePriority: e.InstancePriority,
			Rank:             rank,
			Enabled:          e.Enabled,
			Params:           e.Params,
			BlendParams:      e.BlendParams,
			Fingerprint:      prevFP,
			mod:              mod,
		})
	}
	SortNodesByRank(nodes)
	return nodes
}

// SortNodesByRank orders nodes for execution; a stable sort preserves the
// relative order of same-rank entries, which should never occur given P4
// but is harmless if it does.
func SortNodesByRank(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].Rank > nodes[j].Rank; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}
