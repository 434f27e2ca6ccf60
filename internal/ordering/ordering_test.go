package ordering

import (
	"context"
	"testing"

	"devengine/internal/module"
)

type stubModule struct {
	module.IdentityGeometry
	op string
}

func (s stubModule) Descriptor() module.Descriptor { return module.Descriptor{Op: s.op, Version: 1} }
func (stubModule) Process(ctx context.Context, inst *module.Instance, node *module.NodeContext, in, out *module.PixelBuffer, roiIn, roiOut module.ROI) (module.Status, error) {
	return module.StatusOk, nil
}
func (stubModule) CommitParams(inst *module.Instance) error { return nil }
func (stubModule) InitPipe(roi module.ROI) error             { return nil }
func (stubModule) CleanupPipe() error                        { return nil }
func (stubModule) ReloadDefaults() ([]byte, []byte)          { return nil, nil }

func testRegistry() *module.Registry {
	r := module.NewRegistry()
	r.Register(stubModule{op: "exposure"})
	r.Register(stubModule{op: "sharpen"})
	r.Register(stubModule{op: "colorbalance"})
	r.Register(stubModule{op: "denoise"})
	r.Seal()
	return r
}

func TestDefaultOrdersByNamedWorkflow(t *testing.T) {
	reg := testRegistry()
	l := Default(reg, WorkflowLegacy)
	want := []string{"exposure", "colorbalance", "sharpen", "denoise"}
	for i, op := range want {
		rank, ok := l.Rank(op, 0)
		if !ok {
			t.Fatalf("want %q placed, missing from %+v", op, l.Entries)
		}
		if rank != i {
			t.Fatalf("want %q at rank %d, got %d", op, i, rank)
		}
	}
}

func TestDefaultAppendsUnlistedInstalledOpsAfterNamedOnes(t *testing.T) {
	reg := module.NewRegistry()
	reg.Register(stubModule{op: "exposure"})
	reg.Register(stubModule{op: "vignette"}) // not named by any workflowOrder
	reg.Seal()

	l := Default(reg, WorkflowLegacy)
	_, ok := l.Rank("vignette", 0)
	if !ok {
		t.Fatal("want an installed op the workflow doesn't mention to still be placed")
	}
	exposureRank, _ := l.Rank("exposure", 0)
	vignetteRank, _ := l.Rank("vignette", 0)
	if vignetteRank <= exposureRank {
		t.Fatalf("want the unlisted op placed after the named ones, got exposure=%d vignette=%d", exposureRank, vignetteRank)
	}
}

func TestWorkflowNoneFallsBackToRegistryOrder(t *testing.T) {
	reg := testRegistry()
	l := Default(reg, WorkflowNone)
	if len(l.Entries) != 4 {
		t.Fatalf("want all 4 installed ops placed, got %d", len(l.Entries))
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("want unique ranks, got %v", err)
	}
}

func TestValidateDetectsDuplicateRank(t *testing.T) {
	l := &List{Entries: []Entry{
		{Op: "exposure", Rank: 0},
		{Op: "sharpen", Rank: 0},
	}}
	if err := l.Validate(); err == nil {
		t.Fatal("want Validate to reject duplicate ranks")
	}
}

func TestSortedOrdersByRank(t *testing.T) {
	l := &List{Entries: []Entry{
		{Op: "b", Rank: 1},
		{Op: "a", Rank: 0},
	}}
	sorted := l.Sorted()
	if sorted[0].Op != "a" || sorted[1].Op != "b" {
		t.Fatalf("want sorted by rank (a, b), got %+v", sorted)
	}
}

func TestInsertAfterShiftsLaterRanksAndValidates(t *testing.T) {
	l := &List{Entries: []Entry{
		{Op: "exposure", InstancePriority: 0, Rank: 0},
		{Op: "sharpen", InstancePriority: 0, Rank: 1},
	}}
	if err := l.InsertAfter("exposure", 1); err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}
	rank, ok := l.Rank("exposure", 1)
	if !ok || rank != 1 {
		t.Fatalf("want the new instance at rank 1, got %d ok=%v", rank, ok)
	}
	rank, ok = l.Rank("sharpen", 0)
	if !ok || rank != 2 {
		t.Fatalf("want sharpen shifted to rank 2, got %d ok=%v", rank, ok)
	}
}

func TestInsertAfterFailsWithoutBaseInstance(t *testing.T) {
	l := &List{}
	if err := l.InsertAfter("exposure", 1); err == nil {
		t.Fatal("want an error inserting after a base instance that doesn't exist")
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	l := &List{Version: 1, Entries: []Entry{{Op: "exposure", Rank: 0}}}
	c := l.Clone()
	c.Entries[0].Rank = 5
	if l.Entries[0].Rank != 0 {
		t.Fatal("want Clone to deep-copy entries, not alias the original")
	}
}
