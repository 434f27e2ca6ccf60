package history

import (
	"context"
	"testing"

	"devengine/internal/module"
)

type fakeModule struct {
	desc module.Descriptor
	module.IdentityGeometry
}

func (f fakeModule) Descriptor() module.Descriptor { return f.desc }
func (f fakeModule) Process(ctx context.Context, inst *module.Instance, node *module.NodeContext, in, out *module.PixelBuffer, roiIn, roiOut module.ROI) (module.Status, error) {
	return module.StatusOk, nil
}
func (f fakeModule) CommitParams(inst *module.Instance) error { return nil }
func (f fakeModule) InitPipe(roi module.ROI) error             { return nil }
func (f fakeModule) CleanupPipe() error                        { return nil }
func (f fakeModule) ReloadDefaults() ([]byte, []byte)           { return nil, nil }

func newTestRegistry() *module.Registry {
	reg := module.NewRegistry()
	reg.Register(fakeModule{desc: module.Descriptor{Op: "exposure"}})
	reg.Register(fakeModule{desc: module.Descriptor{Op: "sharpen"}})
	reg.Register(fakeModule{desc: module.Descriptor{
		Op:    "flip",
		Flags: module.FlagDefaultEnabled,
	}})
	reg.Seal()
	return reg
}

func exposureInstance(params byte) *module.Instance {
	return &module.Instance{Op: "exposure", InstancePriority: 0, Enabled: true, Params: []byte{params}, Rank: 0}
}

// Scenario 1 (§8): coalesce.
func TestAppendCoalescesIdenticalEdits(t *testing.T) {
	s := New(newTestRegistry(), CoalesceWindow{MergeSameSecs: 5})

	f1 := s.Append(exposureInstance(1), 0, true, false, nil, "", "exposure-widget")
	if f1 != ChangeSynch {
		t.Fatalf("first append: want SYNCH, got %v", f1)
	}
	if s.Len() != 1 || s.HistoryEnd() != 1 {
		t.Fatalf("want len=1 end=1, got len=%d end=%d", s.Len(), s.HistoryEnd())
	}

	f2 := s.Append(exposureInstance(1), 0, false, false, nil, "", "exposure-widget")
	if f2 != ChangeTopChanged {
		t.Fatalf("second identical append: want TOP_CHANGED, got %v", f2)
	}
	if s.Len() != 1 || s.HistoryEnd() != 1 {
		t.Fatalf("coalescing law violated: want len=1 end=1, got len=%d end=%d", s.Len(), s.HistoryEnd())
	}
}

// Scenario 2 (§8): undo tail-drop.
func TestPopToThenAppendDropsRedoTail(t *testing.T) {
	s := New(newTestRegistry(), CoalesceWindow{})

	s.Append(&module.Instance{Op: "exposure", Enabled: true, Params: []byte{1}}, 0, true, false, nil, "", nil)
	s.Append(&module.Instance{Op: "sharpen", Enabled: true, Params: []byte{2}}, 0, true, false, nil, "", nil)
	s.Append(&module.Instance{Op: "exposure", InstancePriority: 1, Enabled: true, Params: []byte{3}}, 0, true, false, nil, "", nil)

	if s.Len() != 3 || s.HistoryEnd() != 3 {
		t.Fatalf("setup: want len=3 end=3, got len=%d end=%d", s.Len(), s.HistoryEnd())
	}

	s.PopTo(1)
	if s.HistoryEnd() != 1 {
		t.Fatalf("want history_end=1 after pop_to(1), got %d", s.HistoryEnd())
	}

	s.Append(&module.Instance{Op: "sharpen", Enabled: true, Params: []byte{9}}, 0, true, false, nil, "", nil)

	active := s.Active()
	if len(active) != 2 {
		t.Fatalf("want 2 active entries [A, D], got %d", len(active))
	}
	if active[0].Op != "exposure" || active[1].Op != "sharpen" {
		t.Fatalf("want [exposure, sharpen], got [%s, %s]", active[0].Op, active[1].Op)
	}
}

func TestHistoryEndBounds(t *testing.T) {
	s := New(newTestRegistry(), CoalesceWindow{})
	s.Append(&module.Instance{Op: "exposure", Enabled: true}, 0, true, false, nil, "", nil)
	if got := s.HistoryEnd(); got < 0 || got > s.Len() {
		t.Fatalf("P3 violated: history_end=%d out of [0,%d]", got, s.Len())
	}
	s.PopTo(-5)
	if s.HistoryEnd() != 0 {
		t.Fatalf("want clamp to 0, got %d", s.HistoryEnd())
	}
	s.PopTo(1000)
	if s.HistoryEnd() != s.Len() {
		t.Fatalf("want clamp to len=%d, got %d", s.Len(), s.HistoryEnd())
	}
}

func TestDefaultEnabledHideEnableButtonForcedEnabled(t *testing.T) {
	s := New(newTestRegistry(), CoalesceWindow{})
	inst := &module.Instance{Op: "flip", Enabled: false, Params: []byte{0}}
	s.Append(inst, module.FlagDefaultEnabled|module.FlagHideEnableButton, true, false, nil, "", nil)
	active := s.Active()
	if len(active) != 1 || !active[0].Enabled {
		t.Fatalf("P2 violated: want forced-enabled flip entry, got %+v", active)
	}
}

func TestAlwaysOnSurvivesRedoTailDrop(t *testing.T) {
	s := New(newTestRegistry(), CoalesceWindow{})
	s.Append(&module.Instance{Op: "flip", Enabled: true, Params: []byte{1}}, module.FlagDefaultEnabled, true, false, nil, "", nil)
	s.Append(&module.Instance{Op: "exposure", Enabled: true, Params: []byte{2}}, 0, true, false, nil, "", nil)
	s.PopTo(0)
	// flip (always-on) sits in the redo tail above history_end=0; appending
	// a new sharpen edit must not silently drop it from history, since it
	// is not being superseded by the new entry's key.
	s.Append(&module.Instance{Op: "sharpen", Enabled: true, Params: []byte{3}}, 0, true, false, nil, "", nil)

	found := false
	for _, e := range s.All() {
		if e.Op == "flip" {
			found = true
		}
	}
	if !found {
		t.Fatalf("always-on flip entry was dropped from history: %+v", s.All())
	}
}
