// Package ordering implements the total order over (operation, instance
// priority) pairs that places nodes in a pipeline (§4.3).
package ordering

import (
	"fmt"
	"sort"

	"devengine/internal/module"
)

// Workflow names a default ordering + preset set (GLOSSARY "Workflow").
type Workflow string

const (
	WorkflowSceneReferred   Workflow = "scene-referred"
	WorkflowDisplayReferred Workflow = "display-referred"
	WorkflowLegacy          Workflow = "legacy"
	WorkflowNone            Workflow = "none"
)

// Entry is one row of the ordering list: (op, instance-priority, rank).
type Entry struct {
	Op               string
	InstancePriority int
	Rank             int
}

// List is a total order over (op, instance-priority) pairs with unique
// ranks, optionally overriding the global default for one image.
type List struct {
	Version int
	Entries []Entry
}

func keyOf(op string, prio int) module.InstanceKey {
	return module.InstanceKey{Op: op, InstancePriority: prio}
}

// Rank returns the rank assigned to (op, instancePriority), or ok=false if
// it is not present in the list.
func (l *List) Rank(op string, instancePriority int) (int, bool) {
	for _, e := range l.Entries {
		if e.Op == op && e.InstancePriority == instancePriority {
			return e.Rank, true
		}
	}
	return 0, false
}

// Sorted returns the entries ordered by rank.
func (l *List) Sorted() []Entry {
	out := append([]Entry(nil), l.Entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Validate checks invariant P4: ranks are unique per image.
func (l *List) Validate() error {
	seen := make(map[int]Entry, len(l.Entries))
	for _, e := range l.Entries {
		if prior, ok := seen[e.Rank]; ok {
			return fmt.Errorf("ordering: duplicate rank %d for (%s,%d) and (%s,%d)",
				e.Rank, e.Op, e.InstancePriority, prior.Op, prior.InstancePriority)
		}
		seen[e.Rank] = e
	}
	return nil
}

// Default builds the default ordering list for a workflow from the
// registry's installed module set, in registry iteration order (which is
// Op-sorted, giving a deterministic baseline that a named workflow can then
// reorder by listing ops explicitly).
func Default(reg *module.Registry, wf Workflow) *List {
	order := workflowOrder(wf)
	descs := reg.All()
	byOp := make(map[string]module.Descriptor, len(descs))
	for _, d := range descs {
		byOp[d.Op] = d
	}

	l := &List{Version: 1}
	rank := 0
	placed := make(map[string]bool, len(descs))
	for _, op := range order {
		if _, ok := byOp[op]; !ok {
			continue
		}
		l.Entries = append(l.Entries, Entry{Op: op, InstancePriority: 0, Rank: rank})
		placed[op] = true
		rank++
	}
	// Any installed op the named workflow didn't mention keeps registering
	// order, appended after the named ops, so a new module type never
	// silently vanishes from the pipeline.
	for _, d := range descs {
		if placed[d.Op] {
			continue
		}
		l.Entries = append(l.Entries, Entry{Op: d.Op, InstancePriority: 0, Rank: rank})
		rank++
	}
	return l
}

// workflowOrder is the named-workflow op ordering. Real installations would
// load this from a packaged config; three small built-in workflows are
// enough to exercise the selection and migration logic this spec asks for.
func workflowOrder(wf Workflow) []string {
	switch wf {
	case WorkflowLegacy:
		return []string{"exposure", "colorbalance", "sharpen", "denoise"}
	case WorkflowDisplayReferred:
		return []string{"denoise", "colorbalance", "exposure", "sharpen"}
	case WorkflowSceneReferred:
		return []string{"denoise", "exposure", "colorbalance", "sharpen"}
	default:
		return nil
	}
}

// InsertAfter inserts a new (op, instancePriority) immediately after the
// base instance (instancePriority 0) of the same op, shifting every rank
// greater than the insertion point up by one. This is how a duplicated
// module instance gets its rank (§4.3).
func (l *List) InsertAfter(op string, newInstancePriority int) error {
	baseRank, ok := l.Rank(op, 0)
	if !ok {
		return fmt.Errorf("ordering: no base instance for %q to insert after", op)
	}
	for i := range l.Entries {
		if l.Entries[i].Rank > baseRank {
			l.Entries[i].Rank++
		}
	}
	l.Entries = append(l.Entries, Entry{Op: op, InstancePriority: newInstancePriority, Rank: baseRank + 1})
	return l.Validate()
}

// Clone returns a deep copy suitable for a per-image override that diverges
// from a shared default.
func (l *List) Clone() *List {
	out := &List{Version: l.Version, Entries: make([]Entry, len(l.Entries))}
	copy(out.Entries, l.Entries)
	return out
}
